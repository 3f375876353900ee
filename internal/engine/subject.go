package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hollis-dev/vigil/internal/collect"
	"github.com/hollis-dev/vigil/internal/diff"
	"github.com/hollis-dev/vigil/internal/fact"
	"github.com/hollis-dev/vigil/internal/report"
)

// evaluateSubject runs the full pipeline for one subject: collect,
// diff, report, dispatch, then persist the updated snapshot. The
// snapshot write comes last so a failure anywhere earlier leaves the
// stored state untouched and the changes surface again next run.
//
// A panic here is contained to this subject.
func (e *Engine) evaluateSubject(ctx context.Context, id fact.SubjectID, log *slog.Logger) (reported bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			reported = false
			err = fmt.Errorf("subject %d: panic: %v", id, r)
		}
	}()

	old, err := e.store.GetSnapshot(ctx, id)
	if err != nil {
		return false, fmt.Errorf("subject %d: load snapshot: %w", id, err)
	}

	current := make(map[fact.Category]fact.Record)
	for _, c := range fact.Categories() {
		switch c.Kind() {
		case fact.KindLevel:
			col, ok := e.registry.Level(c)
			if !ok {
				continue
			}
			rec, cerr := col.Collect(ctx, id, c)
			if cerr != nil {
				// Category stays at its snapshot value; no false "cleared".
				log.Warn("collector failed, category unchanged",
					"subject", id, "category", c, "error", cerr)
				continue
			}
			current[c] = rec
		case fact.KindStream:
			sc, ok := e.registry.Stream(c)
			if !ok {
				continue
			}
			rec, serr := e.collectStream(ctx, sc, id, c, log)
			if serr != nil {
				return false, serr
			}
			if rec == nil {
				continue
			}
			current[c] = *rec
		}
	}

	updated, changes := diff.Diff(old, current, e.diffOpts)

	chunks := report.Build(e.subjectHeader(ctx, id), changes, e.chunkLimit)
	if len(chunks) > 0 {
		e.dispatcher.Dispatch(ctx, chunks)
		reported = true
	}

	if perr := e.store.PutSnapshot(ctx, updated); perr != nil {
		return reported, fmt.Errorf("subject %d: save snapshot: %w", id, perr)
	}
	return reported, nil
}

// collectStream folds a stream collector's batch through the ledger and
// notes store, then materializes the category's state from the notes
// union. Returns a nil record (and nil error) when the collector itself
// failed, which keeps the category at its snapshot value.
//
// Claim-before-note ordering means a crash between the two drops the
// item's note permanently; that is the accepted cost of never notifying
// twice for the same item.
func (e *Engine) collectStream(ctx context.Context, sc collect.StreamCollector, id fact.SubjectID, c fact.Category, log *slog.Logger) (*fact.Record, error) {
	items, cerr := sc.Collect(ctx, id, c)
	if cerr != nil {
		log.Warn("collector failed, category unchanged",
			"subject", id, "category", c, "error", cerr)
		return nil, nil
	}

	for _, item := range items {
		claimed, err := e.store.ClaimItem(ctx, item.ID)
		if err != nil {
			return nil, fmt.Errorf("subject %d: claim item %s: %w", id, item.ID, err)
		}
		if !claimed || !item.Hostile {
			continue
		}
		if err := e.store.WriteNote(ctx, item.ID, id, c, item.Explanation); err != nil {
			return nil, fmt.Errorf("subject %d: write note %s: %w", id, item.ID, err)
		}
	}

	notes, err := e.store.NotesForSubject(ctx, id, c)
	if err != nil {
		return nil, fmt.Errorf("subject %d: load notes: %w", id, err)
	}
	rec := fact.NewRecord(len(notes) > 0, fact.KeyedValue(notes))
	return &rec, nil
}

// subjectHeader renders the report title, with the entity kind when the
// resolver knows it.
func (e *Engine) subjectHeader(ctx context.Context, id fact.SubjectID) string {
	if e.resolver != nil {
		kind, err := e.resolver.Resolve(ctx, int64(id))
		if err == nil && kind != fact.EntityUnknown {
			return fmt.Sprintf("# Subject %d (%s)", id, kind)
		}
	}
	return fmt.Sprintf("# Subject %d", id)
}
