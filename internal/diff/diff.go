// Package diff compares newly collected facts against a subject's last
// snapshot and renders per-category change reports.
//
// Diff is a pure function: it never touches storage, and identical inputs
// produce byte-identical output (all map iteration is over sorted keys).
// The engine relies on this for idempotent retries.
package diff

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/hollis-dev/vigil/internal/fact"
)

// Options configures comparison policy.
type Options struct {
	// SuppressFirstRun suppresses flag-flip headlines when the old snapshot
	// is the zero value for a never-seen subject. Prevents alert storms on
	// initial rollout. On by default; configurable policy, not hard-coded.
	SuppressFirstRun bool

	// FirstRunDetail emits added-detail bodies even on a first run.
	// Only meaningful when SuppressFirstRun is true.
	FirstRunDetail bool

	// IgnoredFields lists table fields excluded from comparison per
	// category. Fields like a character's age change every cycle and must
	// never trigger a report.
	IgnoredFields map[fact.Category][]string
}

// DefaultOptions returns the standard policy: first-run suppression on,
// no first-run detail, age fields ignored in per-character tables.
func DefaultOptions() Options {
	return Options{
		SuppressFirstRun: true,
		IgnoredFields: map[fact.Category][]string{
			fact.CategoryCynoCapability: {"age_days"},
			fact.CategorySkillChanges:   {"age_days"},
		},
	}
}

// Change is the rendered delta for one category: a headline carrying the
// flag-flip summary and a detail body. Changes preserve category
// evaluation order.
type Change struct {
	Category fact.Category
	Headline string
	Body     string
}

// Diff compares the old snapshot against newly collected records and
// returns the updated snapshot plus ordered change reports.
//
// Categories absent from current keep their old record unchanged (the
// engine omits a category when its collector failed). Removals are never
// reported: disappearance from a hostile list is not newsworthy.
func Diff(old fact.Snapshot, current map[fact.Category]fact.Record, opts Options) (fact.Snapshot, []Change) {
	updated := old.Clone()
	updated.SubjectID = old.SubjectID
	if updated.Records == nil {
		updated.Records = make(map[fact.Category]fact.Record)
	}
	firstRun := old.IsZero()

	var changes []Change
	for _, c := range fact.Categories() {
		newRec, ok := current[c]
		if !ok {
			continue
		}
		oldRec := old.Record(c)
		updated.Records[c] = fact.Record{
			Version: fact.RecordVersion,
			Flagged: newRec.Flagged,
			Value:   newRec.Value,
		}

		body := diffBody(c, oldRec, newRec, opts)
		flip := oldRec.Flagged != newRec.Flagged

		if firstRun && opts.SuppressFirstRun {
			flip = false
			if !opts.FirstRunDetail {
				body = ""
			}
		}
		if !flip && body == "" {
			continue
		}

		changes = append(changes, Change{
			Category: c,
			Headline: headline(c, flip, newRec.Flagged),
			Body:     body,
		})
	}
	return updated, changes
}

// headline renders the category header. A flip carries the flag emoji:
// newly flagged gets the red flag, a cleared flag gets the check mark.
func headline(c fact.Category, flip, flagged bool) string {
	switch {
	case flip && flagged:
		return fmt.Sprintf("## %s: 🚩", c.DisplayName())
	case flip && !flagged:
		return fmt.Sprintf("## %s: ✅", c.DisplayName())
	default:
		return fmt.Sprintf("## %s", c.DisplayName())
	}
}

func diffBody(c fact.Category, oldRec, newRec fact.Record, opts Options) string {
	switch newVal := newRec.Value.(type) {
	case fact.FlagValue:
		return ""
	case fact.SetValue:
		oldSet, _ := oldRec.Value.(fact.SetValue)
		return diffSet(oldSet, newVal)
	case fact.KeyedValue:
		oldKeyed, _ := oldRec.Value.(fact.KeyedValue)
		return diffKeyed(c, oldKeyed, newVal)
	case fact.TableValue:
		oldTable, _ := oldRec.Value.(fact.TableValue)
		return diffTable(oldTable, newVal, opts.IgnoredFields[c])
	case fact.RatioValue:
		oldRatio, _ := oldRec.Value.(fact.RatioValue)
		return diffRatio(oldRatio, newVal)
	default:
		return ""
	}
}

// diffSet reports added members only. Removals are deliberately silent.
func diffSet(old, current fact.SetValue) string {
	oldSorted := fact.NewSetValue(old...)
	var lines []string
	for _, member := range fact.NewSetValue(current...) {
		if !oldSorted.Contains(member) {
			lines = append(lines, "- "+member)
		}
	}
	return strings.Join(lines, "\n")
}

// keyedLine renders one added keyed entry. Hostile assets read as a
// sentence; every other keyed category uses "id: explanation".
func keyedLine(c fact.Category, key, value string) string {
	if c == fact.CategoryHostileAssets {
		return fmt.Sprintf("- %s owned by %s", key, value)
	}
	return fmt.Sprintf("- %s: %s", key, value)
}

// diffKeyed reports ids present now that were absent before.
func diffKeyed(c fact.Category, old, current fact.KeyedValue) string {
	keys := make([]string, 0, len(current))
	for k := range current {
		if _, seen := old[k]; !seen {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	var lines []string
	for _, k := range keys {
		lines = append(lines, keyedLine(c, k, current[k]))
	}
	return strings.Join(lines, "\n")
}

// diffTable reports sub-entities whose non-ignored fields differ from the
// old row. Rows whose new values are all zero are suppressed as noise even
// when technically different.
func diffTable(old, current fact.TableValue, ignored []string) string {
	ids := make([]string, 0, len(current))
	for id := range current {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	isIgnored := func(field string) bool {
		return slices.Contains(ignored, field)
	}

	var lines []string
	for _, id := range ids {
		newRow := current[id]
		oldRow := old[id]

		changed := false
		nonZero := false
		fields := make([]string, 0, len(newRow))
		for f := range newRow {
			if isIgnored(f) {
				continue
			}
			fields = append(fields, f)
			if newRow[f] != oldRow[f] {
				changed = true
			}
			if newRow[f] != 0 {
				nonZero = true
			}
		}
		// A field that disappeared from the row is a change too.
		for f := range oldRow {
			if !isIgnored(f) {
				if _, ok := newRow[f]; !ok {
					changed = true
				}
			}
		}

		if !changed || !nonZero {
			continue
		}

		slices.Sort(fields)
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			parts = append(parts, fmt.Sprintf("%s=%d", f, newRow[f]))
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", id, strings.Join(parts, ", ")))
	}
	return strings.Join(lines, "\n")
}

// diffRatio reports only increases. A decreasing ratio is not alert-worthy.
func diffRatio(old, current fact.RatioValue) string {
	if current <= old {
		return ""
	}
	return fmt.Sprintf("- increased from %s to %s",
		strconv.FormatFloat(float64(old), 'g', -1, 64),
		strconv.FormatFloat(float64(current), 'g', -1, 64))
}
