package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/hollis-dev/vigil/internal/collect"
	"github.com/hollis-dev/vigil/internal/diff"
	"github.com/hollis-dev/vigil/internal/fact"
	"github.com/hollis-dev/vigil/internal/notify"
	"github.com/hollis-dev/vigil/internal/report"
	"github.com/hollis-dev/vigil/internal/validate"
)

// Storage is the slice of the store the engine needs. *store.Store
// satisfies it; tests wrap it to inject failures.
type Storage interface {
	GetSnapshot(ctx context.Context, id fact.SubjectID) (fact.Snapshot, error)
	PutSnapshot(ctx context.Context, snap fact.Snapshot) error
	ClaimItem(ctx context.Context, itemID string) (bool, error)
	WriteNote(ctx context.Context, itemID string, subjectID fact.SubjectID, category fact.Category, body string) error
	NotesForSubject(ctx context.Context, subjectID fact.SubjectID, category fact.Category) (map[string]string, error)
}

// SubjectSource lists the subjects to evaluate this run. The member
// directory lives with the platform; the engine only consumes ids.
type SubjectSource interface {
	Subjects(ctx context.Context) ([]fact.SubjectID, error)
}

// SubjectsFunc adapts a function to SubjectSource.
type SubjectsFunc func(ctx context.Context) ([]fact.SubjectID, error)

func (f SubjectsFunc) Subjects(ctx context.Context) ([]fact.SubjectID, error) { return f(ctx) }

// Deactivator persists the "installation inactive" flag with the
// platform, removing vigil from future scheduling.
type Deactivator func(ctx context.Context, reason string) error

// RunSummary reports what one run did.
type RunSummary struct {
	RunToken    string
	Subjects    int
	Failed      int
	Reported    int // subjects that produced at least one notification
	Deactivated bool
	Reason      string
}

// Engine orchestrates evaluation runs. Construct with New; one Engine is
// reused across runs, but the scheduler must guarantee at most one
// in-flight Run at a time.
type Engine struct {
	store      Storage
	registry   *collect.Registry
	dispatcher *notify.Dispatcher
	validator  validate.Client
	subjects   SubjectSource

	resolver   collect.EntityResolver
	deactivate Deactivator
	runGen     RunTokenGenerator

	token         string
	clientVersion string

	diffOpts            diff.Options
	workers             int
	chunkLimit          int
	notifySubjectErrors bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds subject fan-out. 1 (the default) evaluates
// sequentially.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithDiffOptions overrides the comparison policy.
func WithDiffOptions(opts diff.Options) Option {
	return func(e *Engine) { e.diffOpts = opts }
}

// WithChunkLimit caps outgoing message size in bytes.
func WithChunkLimit(limit int) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.chunkLimit = limit
		}
	}
}

// WithDeactivator installs the self-deactivation hook.
func WithDeactivator(d Deactivator) Option {
	return func(e *Engine) { e.deactivate = d }
}

// WithResolver installs the entity resolver used for report headers.
func WithResolver(r collect.EntityResolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithRunTokens overrides the run token generator (for testing).
func WithRunTokens(g RunTokenGenerator) Option {
	return func(e *Engine) { e.runGen = g }
}

// WithCredentials sets the installation token and client version sent to
// the validation service.
func WithCredentials(token, clientVersion string) Option {
	return func(e *Engine) {
		e.token = token
		e.clientVersion = clientVersion
	}
}

// WithSubjectErrorNotifications also dispatches per-subject evaluation
// failures to the channel instead of only logging them.
func WithSubjectErrorNotifications(enabled bool) Option {
	return func(e *Engine) { e.notifySubjectErrors = enabled }
}

// New creates an Engine.
func New(
	st Storage,
	reg *collect.Registry,
	disp *notify.Dispatcher,
	val validate.Client,
	subjects SubjectSource,
	opts ...Option,
) *Engine {
	e := &Engine{
		store:      st,
		registry:   reg,
		dispatcher: disp,
		validator:  val,
		subjects:   subjects,
		runGen:     UUIDv7Generator{},
		diffOpts:   diff.DefaultOptions(),
		workers:    1,
		chunkLimit: report.DefaultChunkLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one evaluation cycle: Validating, then PerSubjectLoop.
//
// Per-subject failures are contained and counted; only a terminal
// validation rejection or a failure in the loop's own bookkeeping returns
// a *RunError, and both of those deactivate the installation.
func (e *Engine) Run(ctx context.Context) (summary RunSummary, err error) {
	token := e.runGen.Generate()
	summary.RunToken = token
	log := slog.With("run", token)

	log.Info("run starting")

	// Validating
	res, verr := e.validator.Validate(ctx, e.token, e.clientVersion)
	if verr != nil {
		// Transport failure: abort without deactivating, retry next cycle.
		log.Error("validation service unavailable", "error", verr)
		return summary, &RunError{Code: ErrCodeValidation, Message: verr.Error()}
	}
	switch res.Code {
	case validate.CodeNewVersion:
		log.Warn("newer client version available", "version", res.Version)
	case validate.CodeSelfDestruct:
		log.Error("terminal validation rejection, deactivating", "reason", res.Reason)
		e.disable(ctx, res.Reason, log)
		e.dispatcher.Dispatch(ctx, []string{
			fmt.Sprintf("Monitoring disabled, reason: %s", res.Reason),
		})
		summary.Deactivated = true
		summary.Reason = res.Reason
		return summary, &RunError{Code: ErrCodeSelfDestruct, Message: "installation deactivated", Reason: res.Reason}
	}

	// A panic past this point is in the loop's own bookkeeping, not in a
	// subject evaluation (those recover at the subject boundary). It is
	// the one case that disables the whole feature.
	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprintf("run panic: %v", r)
			e.failRun(ctx, reason, debug.Stack(), log)
			summary.Deactivated = true
			summary.Reason = reason
			err = &RunError{Code: ErrCodeRunFailure, Message: "run aborted", Reason: reason}
		}
	}()

	// PerSubjectLoop
	ids, serr := e.subjects.Subjects(ctx)
	if serr != nil {
		reason := fmt.Sprintf("subject listing failed: %v", serr)
		e.failRun(ctx, reason, nil, log)
		summary.Deactivated = true
		summary.Reason = reason
		return summary, &RunError{Code: ErrCodeRunFailure, Message: "run aborted", Reason: reason}
	}
	summary.Subjects = len(ids)

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, e.workers)
	)
	for _, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(id fact.SubjectID) {
			defer wg.Done()
			defer func() { <-sem }()

			reported, evalErr := e.evaluateSubject(ctx, id, log)

			mu.Lock()
			if evalErr != nil {
				summary.Failed++
			} else if reported {
				summary.Reported++
			}
			mu.Unlock()

			if evalErr != nil {
				log.Error("subject evaluation failed", "subject", id, "error", evalErr)
				// Dispatch outside the lock: a paced send must not stall
				// the other workers' bookkeeping.
				if e.notifySubjectErrors {
					e.dispatcher.Dispatch(ctx, []string{
						fmt.Sprintf("⚠️ Evaluation failed for subject %d: %v", id, evalErr),
					})
				}
			}
		}(id)
	}
	wg.Wait()

	log.Info("run complete",
		"subjects", summary.Subjects,
		"failed", summary.Failed,
		"reported", summary.Reported,
	)
	return summary, nil
}

// disable invokes the deactivation hook, logging (not propagating) its
// failure: by this point the run is already on its terminal path.
func (e *Engine) disable(ctx context.Context, reason string, log *slog.Logger) {
	if e.deactivate == nil {
		return
	}
	if derr := e.deactivate(ctx, reason); derr != nil {
		log.Error("deactivation hook failed", "error", derr)
	}
}

// failRun handles a run-level failure: deactivate, then dispatch a
// chunked diagnostic (including the stack trace when there is one).
func (e *Engine) failRun(ctx context.Context, reason string, stack []byte, log *slog.Logger) {
	log.Error("run failed, deactivating", "reason", reason)
	e.disable(ctx, reason, log)

	text := "Monitoring disabled after run failure.\nReason: " + reason
	if len(stack) > 0 {
		text += "\n```\n" + string(stack) + "\n```"
	}
	e.dispatcher.Dispatch(ctx, report.SplitText(text, e.chunkLimit))
}
