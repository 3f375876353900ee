package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/hollis-dev/vigil/internal/collect"
	"github.com/hollis-dev/vigil/internal/config"
	"github.com/hollis-dev/vigil/internal/diff"
	"github.com/hollis-dev/vigil/internal/engine"
	"github.com/hollis-dev/vigil/internal/fact"
	"github.com/hollis-dev/vigil/internal/notify"
	"github.com/hollis-dev/vigil/internal/store"
	"github.com/hollis-dev/vigil/internal/validate"
)

// setupLogging configures the process-wide slog handler.
func setupLogging(verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// disableMarkerPath is the sentinel file recorded by self-deactivation.
// While it exists, run and daemon refuse to start.
func disableMarkerPath(dbPath string) string {
	return dbPath + ".disabled"
}

// checkDisabled refuses to proceed while the deactivation marker exists.
func checkDisabled(dbPath string) error {
	marker := disableMarkerPath(dbPath)
	reason, err := os.ReadFile(marker)
	if err == nil {
		return NewExitError(ExitCommandError, fmt.Sprintf(
			"installation is deactivated: %s (remove %s to re-enable)",
			strings.TrimSpace(string(reason)), marker))
	}
	if !os.IsNotExist(err) {
		return WrapExitError(ExitCommandError, "failed to read deactivation marker", err)
	}
	return nil
}

// fileDeactivator persists the deactivation marker next to the database.
func fileDeactivator(dbPath string) engine.Deactivator {
	return func(_ context.Context, reason string) error {
		return os.WriteFile(disableMarkerPath(dbPath), []byte(reason+"\n"), 0o644)
	}
}

// EngineOverrides let a hosting platform (or a test) supply the
// integration points the standalone binary cannot provide itself:
// collectors, the subject directory, and the validation service. Nil
// fields fall back to config-driven defaults.
type EngineOverrides struct {
	Registry   *collect.Registry
	Subjects   engine.SubjectSource
	Validator  validate.Client
	Channel    notify.Channel
	Resolver   collect.EntityResolver
	Deactivate engine.Deactivator
	RunTokens  engine.RunTokenGenerator
}

// buildEngine wires an engine from config plus overrides.
func buildEngine(cfg config.Config, st *store.Store, ov EngineOverrides) (*engine.Engine, error) {
	reg := ov.Registry
	if reg == nil {
		reg = collect.NewRegistry()
	}

	subjects := ov.Subjects
	if subjects == nil {
		ids := make([]fact.SubjectID, len(cfg.Engine.Subjects))
		for i, id := range cfg.Engine.Subjects {
			ids[i] = fact.SubjectID(id)
		}
		subjects = engine.SubjectsFunc(func(context.Context) ([]fact.SubjectID, error) {
			return ids, nil
		})
	}

	validator := ov.Validator
	if validator == nil {
		if cfg.Validation.Endpoint != "" {
			validator = validate.NewHTTPClient(cfg.Validation.Endpoint, cfg.Validation.Timeout)
		} else {
			validator = validate.Static{Result: validate.Result{Code: validate.CodeOK}}
		}
	}

	ch := ov.Channel
	if ch == nil {
		if cfg.Webhook.URL == "" {
			return nil, NewExitError(ExitCommandError, "webhook.url is not configured")
		}
		ch = notify.NewWebhook(cfg.Webhook.URL, cfg.Webhook.Timeout)
	}
	disp := notify.NewDispatcher(ch, cfg.Webhook.Pacing)

	deactivate := ov.Deactivate
	if deactivate == nil {
		deactivate = fileDeactivator(cfg.Database.Path)
	}

	diffOpts := diff.DefaultOptions()
	diffOpts.SuppressFirstRun = cfg.Engine.SuppressFirstRun
	diffOpts.FirstRunDetail = cfg.Engine.FirstRunDetail

	opts := []engine.Option{
		engine.WithWorkers(cfg.Engine.Workers),
		engine.WithDiffOptions(diffOpts),
		engine.WithChunkLimit(cfg.Engine.ChunkLimit),
		engine.WithDeactivator(deactivate),
		engine.WithCredentials(cfg.Validation.Token, cfg.Validation.ClientVersion),
		engine.WithSubjectErrorNotifications(cfg.Engine.NotifySubjectErrors),
	}
	if ov.Resolver != nil {
		cache := collect.NewMemoryCache(cfg.Cache.TTL, cfg.Cache.CleanupInterval)
		opts = append(opts, engine.WithResolver(
			collect.NewCachingResolver(ov.Resolver, cache, cfg.Cache.TTL)))
	}
	if ov.RunTokens != nil {
		opts = append(opts, engine.WithRunTokens(ov.RunTokens))
	}

	return engine.New(st, reg, disp, validator, subjects, opts...), nil
}

// loadConfig loads configuration and applies the --db override.
func loadConfig(configFile, dbOverride string) (config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if dbOverride != "" {
		cfg.Database.Path = dbOverride
	}
	return cfg, nil
}
