package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollis-dev/vigil/internal/collect"
	"github.com/hollis-dev/vigil/internal/fact"
	"github.com/hollis-dev/vigil/internal/notify"
	"github.com/hollis-dev/vigil/internal/store"
	"github.com/hollis-dev/vigil/internal/testutil"
	"github.com/hollis-dev/vigil/internal/validate"
)

// stubValidator returns a canned validation result.
type stubValidator struct {
	result validate.Result
	err    error
}

func (s stubValidator) Validate(context.Context, string, string) (validate.Result, error) {
	return s.result, s.err
}

func okValidator() stubValidator {
	return stubValidator{result: validate.Result{Code: validate.CodeOK}}
}

func fixedSubjects(ids ...fact.SubjectID) SubjectSource {
	return SubjectsFunc(testutil.FixedSubjects(ids...))
}

// setupTestEngine creates an engine over a real SQLite store, a capture
// channel, and a fixed run token.
func setupTestEngine(t *testing.T, reg *collect.Registry, val validate.Client, subjects SubjectSource, opts ...Option) (*Engine, *store.Store, *testutil.CaptureChannel) {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ch := testutil.NewCaptureChannel()
	disp := notify.NewDispatcher(ch, time.Nanosecond)

	opts = append([]Option{WithRunTokens(NewFixedGenerator("run-1", "run-2", "run-3"))}, opts...)
	e := New(s, reg, disp, val, subjects, opts...)
	return e, s, ch
}

// seedSnapshot stores a baseline so the next run is not a first run.
func seedSnapshot(t *testing.T, s *store.Store, id fact.SubjectID, recs map[fact.Category]fact.Record) {
	t.Helper()
	snap := fact.Snapshot{SubjectID: id}
	for c, r := range recs {
		snap.SetRecord(c, r)
	}
	require.NoError(t, s.PutSnapshot(context.Background(), snap))
}

// TestRun_ReportsChange verifies a level-category change reaches the channel
// and the snapshot advances.
func TestRun_ReportsChange(t *testing.T) {
	reg := collect.NewRegistry()
	reg.RegisterLevel(fact.CategoryBlacklist, collect.LevelFunc(
		func(context.Context, fact.SubjectID, fact.Category) (fact.Record, error) {
			return fact.NewRecord(true, fact.NewSetValue("zkill")), nil
		}))

	e, s, ch := setupTestEngine(t, reg, okValidator(), fixedSubjects(7))
	seedSnapshot(t, s, 7, map[fact.Category]fact.Record{
		fact.CategoryBlacklist: fact.NewRecord(false, fact.NewSetValue()),
	})

	summary, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", summary.RunToken)
	assert.Equal(t, 1, summary.Subjects)
	assert.Equal(t, 1, summary.Reported)
	assert.Equal(t, 0, summary.Failed)

	msgs := ch.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "# Subject 7")
	assert.Contains(t, msgs[0], "## Blacklist: 🚩")
	assert.Contains(t, msgs[0], "- zkill")

	snap, err := s.GetSnapshot(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, snap.Record(fact.CategoryBlacklist).Flagged)
}

// TestRun_FirstRunSuppressed verifies a never-seen subject produces no
// report but still persists its baseline snapshot.
func TestRun_FirstRunSuppressed(t *testing.T) {
	reg := collect.NewRegistry()
	reg.RegisterLevel(fact.CategoryBlacklist, collect.LevelFunc(
		func(context.Context, fact.SubjectID, fact.Category) (fact.Record, error) {
			return fact.NewRecord(true, fact.NewSetValue("zkill")), nil
		}))

	e, s, ch := setupTestEngine(t, reg, okValidator(), fixedSubjects(7))

	summary, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Reported)
	assert.Empty(t, ch.Messages())

	snap, err := s.GetSnapshot(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, snap.Record(fact.CategoryBlacklist).Flagged)

	// Second run: same facts, so nothing new to say.
	summary, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Reported)
	assert.Empty(t, ch.Messages())
}

// TestRun_NoChangesNoMessages verifies identical facts stay silent.
func TestRun_NoChangesNoMessages(t *testing.T) {
	rec := fact.NewRecord(false, fact.NewSetValue("old-entry"))
	reg := collect.NewRegistry()
	reg.RegisterLevel(fact.CategoryBlacklist, collect.LevelFunc(
		func(context.Context, fact.SubjectID, fact.Category) (fact.Record, error) {
			return rec, nil
		}))

	e, s, ch := setupTestEngine(t, reg, okValidator(), fixedSubjects(7))
	seedSnapshot(t, s, 7, map[fact.Category]fact.Record{fact.CategoryBlacklist: rec})

	summary, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Reported)
	assert.Empty(t, ch.Messages())
}

// TestRun_CollectorFailureKeepsCategory verifies a failed collector leaves
// the category at its snapshot value instead of reporting it cleared.
func TestRun_CollectorFailureKeepsCategory(t *testing.T) {
	reg := collect.NewRegistry()
	reg.RegisterLevel(fact.CategoryBlacklist, collect.LevelFunc(
		func(context.Context, fact.SubjectID, fact.Category) (fact.Record, error) {
			return fact.Record{}, errors.New("upstream 503")
		}))

	e, s, ch := setupTestEngine(t, reg, okValidator(), fixedSubjects(7))
	seedSnapshot(t, s, 7, map[fact.Category]fact.Record{
		fact.CategoryBlacklist: fact.NewRecord(true, fact.NewSetValue("zkill")),
	})

	summary, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Failed, "collector failure is not a subject failure")
	assert.Empty(t, ch.Messages(), "no spurious all-clear")

	snap, err := s.GetSnapshot(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, snap.Record(fact.CategoryBlacklist).Flagged)
	assert.Equal(t, fact.NewSetValue("zkill"), snap.Record(fact.CategoryBlacklist).Value)
}

// TestRun_SubjectPanicContained verifies one subject's panic does not take
// down the run or block other subjects.
func TestRun_SubjectPanicContained(t *testing.T) {
	reg := collect.NewRegistry()
	reg.RegisterLevel(fact.CategoryBlacklist, collect.LevelFunc(
		func(_ context.Context, id fact.SubjectID, _ fact.Category) (fact.Record, error) {
			if id == 7 {
				panic("corrupt upstream payload")
			}
			return fact.NewRecord(true, fact.NewSetValue("zkill")), nil
		}))

	e, s, ch := setupTestEngine(t, reg, okValidator(), fixedSubjects(7, 8))
	seedSnapshot(t, s, 8, map[fact.Category]fact.Record{
		fact.CategoryBlacklist: fact.NewRecord(false, fact.NewSetValue()),
	})

	summary, err := e.Run(context.Background())
	require.NoError(t, err, "run-level error only for run failure, not subject failure")
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Reported)
	assert.False(t, summary.Deactivated)

	msgs := ch.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "# Subject 8")
}

// TestRun_SubjectErrorNotification verifies the opt-in evaluation-failure
// message.
func TestRun_SubjectErrorNotification(t *testing.T) {
	reg := collect.NewRegistry()
	reg.RegisterLevel(fact.CategoryBlacklist, collect.LevelFunc(
		func(context.Context, fact.SubjectID, fact.Category) (fact.Record, error) {
			panic("corrupt upstream payload")
		}))

	e, _, ch := setupTestEngine(t, reg, okValidator(), fixedSubjects(7),
		WithSubjectErrorNotifications(true))

	summary, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	msgs := ch.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Evaluation failed for subject 7")
}

// rendezvousChannel unblocks a Send only once a second sender is in
// flight at the same time.
type rendezvousChannel struct {
	arrived atomic.Int32
	ready   chan struct{}
	late    atomic.Bool
}

func newRendezvousChannel() *rendezvousChannel {
	return &rendezvousChannel{ready: make(chan struct{})}
}

func (c *rendezvousChannel) Send(context.Context, string) error {
	if c.arrived.Add(1) == 2 {
		close(c.ready)
	}
	select {
	case <-c.ready:
	case <-time.After(2 * time.Second):
		c.late.Store(true)
	}
	return nil
}

// TestRun_SubjectErrorNotificationsConcurrent verifies failure messages go
// out without holding the summary bookkeeping lock: with two workers, both
// failing subjects' sends must be in flight simultaneously.
func TestRun_SubjectErrorNotificationsConcurrent(t *testing.T) {
	reg := collect.NewRegistry()
	reg.RegisterLevel(fact.CategoryBlacklist, collect.LevelFunc(
		func(context.Context, fact.SubjectID, fact.Category) (fact.Record, error) {
			panic("corrupt upstream payload")
		}))

	s, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ch := newRendezvousChannel()
	e := New(s, reg, notify.NewDispatcher(ch, time.Nanosecond), okValidator(),
		fixedSubjects(7, 8),
		WithRunTokens(NewFixedGenerator("run-1")),
		WithWorkers(2),
		WithSubjectErrorNotifications(true))

	summary, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Failed)
	assert.False(t, ch.late.Load(), "failure sends were serialized")
}

// TestRun_StreamExactlyOnce verifies stream items are claimed once and the
// category reflects the accumulated notes union across runs.
func TestRun_StreamExactlyOnce(t *testing.T) {
	var calls int
	reg := collect.NewRegistry()
	reg.RegisterStream(fact.CategorySusMail, collect.StreamFunc(
		func(context.Context, fact.SubjectID, fact.Category) ([]collect.StreamRecord, error) {
			calls++
			// The same batch every cycle, as a replaying upstream would send.
			return []collect.StreamRecord{
				{ID: "mail-100", Hostile: true, Explanation: "contact with hostile recruiter"},
				{ID: "mail-101", Hostile: false},
			}, nil
		}))

	e, s, ch := setupTestEngine(t, reg, okValidator(), fixedSubjects(7))
	seedSnapshot(t, s, 7, map[fact.Category]fact.Record{
		fact.CategorySusMail: fact.NewRecord(false, fact.KeyedValue{}),
	})

	summary, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Reported)

	msgs := ch.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "## Sus Mail: 🚩")
	assert.Contains(t, msgs[0], "mail-100: contact with hostile recruiter")
	assert.NotContains(t, msgs[0], "mail-101")

	// Second run replays the batch; items are already claimed, so nothing
	// new is reported.
	summary, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Reported)
	require.Len(t, ch.Messages(), 1)
	assert.Equal(t, 2, calls)

	snap, err := s.GetSnapshot(context.Background(), 7)
	require.NoError(t, err)
	rec := snap.Record(fact.CategorySusMail)
	assert.True(t, rec.Flagged)
	assert.Equal(t, fact.KeyedValue{"mail-100": "contact with hostile recruiter"}, rec.Value)
}

// TestRun_SelfDestruct verifies the terminal validation path: deactivate,
// notify, and return a self-destruct error.
func TestRun_SelfDestruct(t *testing.T) {
	val := stubValidator{result: validate.Result{
		Code:   validate.CodeSelfDestruct,
		Reason: "license revoked",
	}}

	var deactivatedWith string
	e, _, ch := setupTestEngine(t, collect.NewRegistry(), val, fixedSubjects(7),
		WithDeactivator(func(_ context.Context, reason string) error {
			deactivatedWith = reason
			return nil
		}))

	summary, err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsSelfDestruct(err))
	assert.True(t, summary.Deactivated)
	assert.Equal(t, "license revoked", summary.Reason)
	assert.Equal(t, "license revoked", deactivatedWith)
	assert.Equal(t, 0, summary.Subjects, "no subject is evaluated after rejection")

	msgs := ch.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Monitoring disabled, reason: license revoked")
}

// TestRun_ValidationUnavailable verifies a transport failure aborts the run
// without deactivating.
func TestRun_ValidationUnavailable(t *testing.T) {
	val := stubValidator{err: errors.New("dial tcp: connection refused")}

	deactivated := false
	e, _, ch := setupTestEngine(t, collect.NewRegistry(), val, fixedSubjects(7),
		WithDeactivator(func(context.Context, string) error {
			deactivated = true
			return nil
		}))

	summary, err := e.Run(context.Background())
	require.Error(t, err)
	assert.False(t, IsSelfDestruct(err))
	assert.False(t, IsRunFailure(err))

	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, ErrCodeValidation, runErr.Code)

	assert.False(t, summary.Deactivated)
	assert.False(t, deactivated)
	assert.Empty(t, ch.Messages())
}

// TestRun_NewVersionContinues verifies the advisory version response does
// not stop the run.
func TestRun_NewVersionContinues(t *testing.T) {
	val := stubValidator{result: validate.Result{
		Code:    validate.CodeNewVersion,
		Version: "2.4.0",
	}}

	e, _, _ := setupTestEngine(t, collect.NewRegistry(), val, fixedSubjects(7, 8))

	summary, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Subjects)
}

// TestRun_SubjectListingFailureDeactivates verifies a run-level failure
// deactivates and notifies.
func TestRun_SubjectListingFailureDeactivates(t *testing.T) {
	src := SubjectsFunc(func(context.Context) ([]fact.SubjectID, error) {
		return nil, errors.New("directory unreachable")
	})

	deactivated := false
	e, _, ch := setupTestEngine(t, collect.NewRegistry(), okValidator(), src,
		WithDeactivator(func(context.Context, string) error {
			deactivated = true
			return nil
		}))

	summary, err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsRunFailure(err))
	assert.True(t, summary.Deactivated)
	assert.True(t, deactivated)

	msgs := ch.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Monitoring disabled after run failure.")
	assert.Contains(t, msgs[0], "directory unreachable")
}

// TestRun_SnapshotWriteFailureCounts verifies a storage failure on the
// write-back marks the subject failed and leaves the old snapshot intact.
func TestRun_SnapshotWriteFailureCounts(t *testing.T) {
	reg := collect.NewRegistry()
	reg.RegisterLevel(fact.CategoryBlacklist, collect.LevelFunc(
		func(context.Context, fact.SubjectID, fact.Category) (fact.Record, error) {
			return fact.NewRecord(true, fact.NewSetValue("zkill")), nil
		}))

	s, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	seedSnapshot(t, s, 7, map[fact.Category]fact.Record{
		fact.CategoryBlacklist: fact.NewRecord(false, fact.NewSetValue()),
	})

	ch := testutil.NewCaptureChannel()
	e := New(&failingPuts{Storage: s}, reg, notify.NewDispatcher(ch, time.Nanosecond),
		okValidator(), fixedSubjects(7),
		WithRunTokens(NewFixedGenerator("run-1")))

	summary, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	snap, err := s.GetSnapshot(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, snap.Record(fact.CategoryBlacklist).Flagged, "old snapshot untouched")
}

// failingPuts wraps a Storage and fails every snapshot write.
type failingPuts struct {
	Storage
}

func (f *failingPuts) PutSnapshot(context.Context, fact.Snapshot) error {
	return errors.New("disk full")
}

// TestRun_WorkerFanOut verifies bounded concurrency evaluates every subject.
func TestRun_WorkerFanOut(t *testing.T) {
	const subjects = 20

	reg := collect.NewRegistry()
	reg.RegisterLevel(fact.CategoryBlacklist, collect.LevelFunc(
		func(_ context.Context, id fact.SubjectID, _ fact.Category) (fact.Record, error) {
			return fact.NewRecord(true, fact.NewSetValue(fmt.Sprintf("entry-%d", id))), nil
		}))

	ids := make([]fact.SubjectID, subjects)
	for i := range ids {
		ids[i] = fact.SubjectID(i + 1)
	}

	e, s, _ := setupTestEngine(t, reg, okValidator(), fixedSubjects(ids...),
		WithWorkers(4))

	summary, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, subjects, summary.Subjects)
	assert.Equal(t, 0, summary.Failed)

	for _, id := range ids {
		snap, err := s.GetSnapshot(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(
			snap.Record(fact.CategoryBlacklist).Value.(fact.SetValue)[0], "entry-"))
	}
}
