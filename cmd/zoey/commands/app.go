package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/jholhewres/zoey/pkg/zoey/channels"
	"github.com/jholhewres/zoey/pkg/zoey/contacts"
	"github.com/jholhewres/zoey/pkg/zoey/copilot"
	"github.com/jholhewres/zoey/pkg/zoey/database"
	"github.com/jholhewres/zoey/pkg/zoey/integrations/pushover"
	"github.com/jholhewres/zoey/pkg/zoey/integrations/search"
	"github.com/jholhewres/zoey/pkg/zoey/metrics"
	"github.com/jholhewres/zoey/pkg/zoey/scheduler"
)

// newLogger builds the process logger from the logging section and the
// --verbose flag.
func newLogger(cmd *cobra.Command, cfg *copilot.Config, w io.Writer) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")

	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// storage bundles the persistent stores opened from the config.
type storage struct {
	db       *sql.DB
	store    scheduler.ReminderStore
	dead     *scheduler.SQLiteReminderStore
	contacts *contacts.Directory
	users    *copilot.UserStore
}

// openStorage opens the central database and the configured reminder store.
func openStorage(cfg *copilot.Config) (*storage, error) {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	st := &storage{
		db:       db,
		contacts: contacts.NewDirectory(db),
		users:    copilot.NewUserStore(db),
	}

	// Dead letters always live in sqlite, whatever holds the reminders.
	sqliteStore := scheduler.NewSQLiteReminderStore(db)
	st.dead = sqliteStore

	switch cfg.Scheduler.Storage {
	case "file":
		fs, err := scheduler.NewFileReminderStore(cfg.Scheduler.FilePath)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("opening reminder file: %w", err)
		}
		st.store = fs
	default:
		st.store = sqliteStore
	}
	return st, nil
}

func (s *storage) Close() error { return s.db.Close() }

// runtime is the assembled assistant: stores, channels, router and
// dispatcher. Callers register channels on manager before start.
type runtime struct {
	cfg        *copilot.Config
	logger     *slog.Logger
	storage    *storage
	manager    *channels.Manager
	assistant  *copilot.Assistant
	dispatcher *scheduler.Dispatcher
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
}

// newRuntime wires every component from cfg.
func newRuntime(cfg *copilot.Config, logger *slog.Logger) (*runtime, error) {
	st, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	manager := channels.NewManager(logger)

	deps := copilot.Deps{
		Store:     st.store,
		Contacts:  st.contacts,
		Users:     st.users,
		Transport: manager,
		Searcher:  newSearchService(cfg, logger),
		Metrics:   m,
	}

	llm, err := copilot.NewLLMClient(cfg, logger)
	switch {
	case err == nil:
		deps.Responder = llm
	case errors.Is(err, copilot.ErrNoResponder):
		logger.Warn("free-form answers disabled", "reason", err)
	default:
		st.Close()
		return nil, fmt.Errorf("creating llm client: %w", err)
	}

	assistant, err := copilot.New(cfg, deps, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating assistant: %w", err)
	}

	dispatcher := scheduler.NewDispatcher(st.store, assistant, cfg.Scheduler.DispatcherConfig, logger)
	dispatcher.SetObserver(m)
	dispatcher.SetDeadLetterSink(st.dead)
	if po := cfg.Integrations.Pushover; hasSecret(po.Token) && hasSecret(po.UserKey) {
		n, err := pushover.New(cfg.Integrations.Pushover)
		if err != nil {
			logger.Warn("pushover disabled", "error", err)
		} else {
			dispatcher.SetNotifier(n)
			logger.Info("pushover mirror enabled")
		}
	}

	return &runtime{
		cfg:        cfg,
		logger:     logger,
		storage:    st,
		manager:    manager,
		assistant:  assistant,
		dispatcher: dispatcher,
		registry:   registry,
		metrics:    m,
	}, nil
}

// newSearchService builds the search backends the config allows.
// Wikipedia needs no credentials.
func newSearchService(cfg *copilot.Config, logger *slog.Logger) *search.Service {
	svc := &search.Service{Wikipedia: search.NewWikipedia(cfg.Integrations.WikipediaURL)}
	if key := cfg.Integrations.SpotifyKey; hasSecret(key) {
		sc, err := search.ParseSpotifyKey(key)
		if err != nil {
			logger.Warn("spotify search disabled", "error", err)
		} else {
			svc.Spotify = search.NewSpotify(sc)
		}
	}
	return svc
}

// hasSecret reports whether s holds a value rather than nothing or an
// unexpanded ${VAR} reference.
func hasSecret(s string) bool {
	return s != "" && !copilot.IsEnvReference(s)
}

// stats feeds the health endpoint.
func (r *runtime) stats() map[string]any {
	out := map[string]any{
		"active_flows": r.assistant.Engine().ActiveCount(),
	}
	if all, err := r.storage.store.All(); err == nil {
		pending := 0
		for _, rem := range all {
			if rem.Status == scheduler.StatusPending {
				pending++
			}
		}
		out["pending_reminders"] = pending
	}
	return out
}

// start connects the channels and starts the dispatcher.
func (r *runtime) start(ctx context.Context) error {
	if err := r.manager.Start(ctx); err != nil {
		return fmt.Errorf("starting channels: %w", err)
	}
	if err := r.dispatcher.Start(ctx); err != nil {
		r.manager.Stop()
		return fmt.Errorf("starting dispatcher: %w", err)
	}
	return nil
}

// stop disconnects channels and stops the dispatcher, bounded by ctx.
// The database stays open until close.
func (r *runtime) stop(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		r.dispatcher.Stop()
		r.manager.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("shutdown timed out, forcing exit")
	}
}

// close releases the database.
func (r *runtime) close() {
	if err := r.storage.Close(); err != nil {
		r.logger.Warn("closing database", "error", err)
	}
}
