// Package collect defines the fact-collection interfaces the engine
// consumes. The collection routines themselves (skill lookups, killboard
// scraping, contact/contract/mail/transaction fetchers) live outside the
// core; this package only fixes their contracts and provides the shared
// capabilities they are handed: a keyed TTL cache and an entity resolver.
package collect

import (
	"context"
	"time"

	"github.com/hollis-dev/vigil/internal/fact"
)

// LevelCollector returns the complete current state of one level category
// for a subject, every cycle. Collectors apply their own upstream
// timeouts; the engine treats an error as "category unchanged this cycle".
type LevelCollector interface {
	Collect(ctx context.Context, id fact.SubjectID, c fact.Category) (fact.Record, error)
}

// StreamRecord is one externally numbered item from an unbounded history
// (a mail, a contract, a wallet entry). Once evaluated it must never be
// re-evaluated; the engine enforces that through the ledger, not here.
type StreamRecord struct {
	ID          string
	ObservedAt  time.Time
	Hostile     bool
	Explanation string
}

// StreamCollector returns the currently visible items of one stream
// category for a subject. Implementations may return the full upstream
// history; the engine claims each id once and skips the rest.
type StreamCollector interface {
	Collect(ctx context.Context, id fact.SubjectID, c fact.Category) ([]StreamRecord, error)
}

// LevelFunc adapts a function to LevelCollector.
type LevelFunc func(ctx context.Context, id fact.SubjectID, c fact.Category) (fact.Record, error)

func (f LevelFunc) Collect(ctx context.Context, id fact.SubjectID, c fact.Category) (fact.Record, error) {
	return f(ctx, id, c)
}

// StreamFunc adapts a function to StreamCollector.
type StreamFunc func(ctx context.Context, id fact.SubjectID, c fact.Category) ([]StreamRecord, error)

func (f StreamFunc) Collect(ctx context.Context, id fact.SubjectID, c fact.Category) ([]StreamRecord, error) {
	return f(ctx, id, c)
}

// Registry maps categories to their collectors. A category with no
// registered collector is simply not monitored; that is configuration,
// not an error.
type Registry struct {
	level  map[fact.Category]LevelCollector
	stream map[fact.Category]StreamCollector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		level:  make(map[fact.Category]LevelCollector),
		stream: make(map[fact.Category]StreamCollector),
	}
}

// RegisterLevel binds a level collector to a category.
func (r *Registry) RegisterLevel(c fact.Category, col LevelCollector) {
	r.level[c] = col
}

// RegisterStream binds a stream collector to a category.
func (r *Registry) RegisterStream(c fact.Category, col StreamCollector) {
	r.stream[c] = col
}

// Level returns the level collector for a category, if registered.
func (r *Registry) Level(c fact.Category) (LevelCollector, bool) {
	col, ok := r.level[c]
	return col, ok
}

// Stream returns the stream collector for a category, if registered.
func (r *Registry) Stream(c fact.Category) (StreamCollector, bool) {
	col, ok := r.stream[c]
	return col, ok
}
