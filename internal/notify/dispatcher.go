package notify

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// DefaultPacing is the minimum gap between consecutive sends.
const DefaultPacing = 2 * time.Second

// Dispatcher sends report chunks through a Channel with inter-message
// pacing. The channel has a single shared rate limit, so one dispatcher
// instance must be shared by all workers: every Send in the process
// funnels through its limiter.
//
// Delivery is best-effort, at-least-once: a failed chunk is logged and the
// remaining chunks still go out. Content is idempotent by construction
// (the diff engine is deterministic), so a retried cycle re-sends
// identical text rather than new alerts.
type Dispatcher struct {
	channel Channel
	limiter *rate.Limiter
}

// NewDispatcher wraps a channel with pacing. A non-positive pacing falls
// back to DefaultPacing.
func NewDispatcher(ch Channel, pacing time.Duration) *Dispatcher {
	if pacing <= 0 {
		pacing = DefaultPacing
	}
	return &Dispatcher{
		channel: ch,
		limiter: rate.NewLimiter(rate.Every(pacing), 1),
	}
}

// Dispatch sends chunks in order and returns how many were delivered.
// A per-chunk failure is logged and skipped; only context cancellation
// stops the remaining sends early.
func (d *Dispatcher) Dispatch(ctx context.Context, chunks []string) int {
	sent := 0
	for i, chunk := range chunks {
		if err := d.limiter.Wait(ctx); err != nil {
			slog.Warn("dispatch aborted", "reason", err, "sent", sent, "total", len(chunks))
			return sent
		}
		if err := d.channel.Send(ctx, chunk); err != nil {
			slog.Error("chunk send failed",
				"chunk", i,
				"total", len(chunks),
				"error", err,
			)
			continue
		}
		sent++
	}
	return sent
}
