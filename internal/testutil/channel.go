// Package testutil provides shared test doubles for the notification
// channel and subject directory.
package testutil

import (
	"context"
	"sync"

	"github.com/hollis-dev/vigil/internal/fact"
)

// CaptureChannel records every dispatched message in order.
//
// Thread-safe: Dispatch may run sends from worker goroutines.
type CaptureChannel struct {
	mu     sync.Mutex
	sent   []string
	failed int
	fail   map[int]error // 0-based send index -> injected error
}

// NewCaptureChannel creates an empty capture channel.
func NewCaptureChannel() *CaptureChannel {
	return &CaptureChannel{fail: make(map[int]error)}
}

// FailOn injects an error for the n-th Send call (0-based).
func (c *CaptureChannel) FailOn(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail[n] = err
}

func (c *CaptureChannel) Send(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.fail[len(c.sent)+c.failed]; ok {
		c.failed++
		return err
	}
	c.sent = append(c.sent, text)
	return nil
}

// Messages returns a copy of everything successfully sent so far.
func (c *CaptureChannel) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// FixedSubjects returns a subject lister over a constant id list.
func FixedSubjects(ids ...fact.SubjectID) func(context.Context) ([]fact.SubjectID, error) {
	return func(context.Context) ([]fact.SubjectID, error) {
		return ids, nil
	}
}
