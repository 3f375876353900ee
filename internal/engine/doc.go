// Package engine orchestrates one evaluation run: validate the
// installation, evaluate every monitored subject, diff against the stored
// snapshots, and dispatch the resulting change reports.
//
// Run states: Idle -> Validating -> PerSubjectLoop -> Idle, with a
// Disabling terminal branch.
//
// Failure containment is layered:
//
//   - Collector failure: the category is treated as unchanged for the
//     cycle, logged, evaluation of the subject continues.
//   - Subject failure (storage error, panic in a collector): recovered at
//     the subject boundary, logged, the loop proceeds to the next subject.
//     One subject's error never blocks another's.
//   - Run failure (bookkeeping outside any subject boundary, or a
//     terminal validation rejection): the whole installation deactivates
//     itself and a diagnostic notification goes out. This is the only path
//     that disables monitoring as a whole.
//
// A subject's snapshot is written back only after its diff and report
// build both succeeded, so a crash mid-cycle leaves the previous snapshot
// intact for the next run.
package engine
