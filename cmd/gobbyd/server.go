package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/gobby/audit"
	"github.com/GoCodeAlone/gobby/engine"
	"github.com/GoCodeAlone/gobby/hook"
	"github.com/GoCodeAlone/gobby/loader"
	gobbymcp "github.com/GoCodeAlone/gobby/mcp"
	"github.com/GoCodeAlone/gobby/state"
)

func runServer(ctx context.Context, cfg Config) error {
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	store, err := state.Open(cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	var loaderOpts []loader.Option
	loaderOpts = append(loaderOpts, loader.WithLogger(logger))
	if cfg.WorkflowsDir != "" {
		loaderOpts = append(loaderOpts, loader.WithUserDir(cfg.WorkflowsDir))
	}
	if cfg.BundledDir != "" {
		loaderOpts = append(loaderOpts, loader.WithBundledDir(cfg.BundledDir))
	}
	ld := loader.New(loaderOpts...)

	var auditWriter io.Writer
	if cfg.AuditLog != "" {
		f, err := os.OpenFile(cfg.AuditLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer f.Close()
		auditWriter = f
	}
	trail := audit.NewTrail(store, auditWriter, logger)

	eng := engine.New(ld, store,
		engine.WithLogger(logger),
		engine.WithAuditTrail(trail),
	)
	facade := hook.NewFacade(eng,
		hook.WithTimeout(time.Duration(cfg.HookTimeout)),
		hook.WithFacadeLogger(logger),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(facade, eng, store, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gobbyd listening", "addr", cfg.Addr, "db", cfg.DBPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Watch {
		g.Go(func() error {
			wd, err := os.Getwd()
			if err != nil {
				return nil
			}
			if err := ld.Watch(ctx, wd); err != nil {
				logger.Warn("workflow watcher stopped", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// runMCPServer serves the workflow MCP tools over stdio, sharing the same
// store and loader the daemon uses.
func runMCPServer(cfg Config) error {
	logger := newLogger(cfg.LogLevel)
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	store, err := state.Open(cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	var loaderOpts []loader.Option
	loaderOpts = append(loaderOpts, loader.WithLogger(logger))
	if cfg.WorkflowsDir != "" {
		loaderOpts = append(loaderOpts, loader.WithUserDir(cfg.WorkflowsDir))
	}
	ld := loader.New(loaderOpts...)
	eng := engine.New(ld, store, engine.WithLogger(logger))
	return gobbymcp.NewServer(eng, ld, store, logger).ServeStdio()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func newMux(facade *hook.Facade, eng *engine.Engine, store *state.Store, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("POST /hooks/event", func(w http.ResponseWriter, r *http.Request) {
		var event hook.Event
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode event: %w", err))
			return
		}
		if event.CWD == "" {
			if wd, err := os.Getwd(); err == nil {
				event.CWD = wd
			}
		}
		writeJSON(w, http.StatusOK, facade.Handle(r.Context(), &event))
	})

	mux.HandleFunc("POST /sessions/{session}/workflow", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Workflow    string         `json:"workflow"`
			ProjectPath string         `json:"project_path"`
			Variables   map[string]any `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		act, err := eng.ActivateWorkflow(r.Context(), r.PathValue("session"), req.Workflow, req.ProjectPath, req.Variables)
		if err != nil {
			status := http.StatusUnprocessableEntity
			if errors.Is(err, loader.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, act)
	})

	mux.HandleFunc("DELETE /sessions/{session}/workflow", func(w http.ResponseWriter, r *http.Request) {
		err := eng.DeactivateWorkflow(r.Context(), r.PathValue("session"))
		if errors.Is(err, state.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /sessions/{session}/workflow", func(w http.ResponseWriter, r *http.Request) {
		st, err := eng.WorkflowStatus(r.Context(), r.PathValue("session"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if st == nil {
			writeError(w, http.StatusNotFound, state.ErrSessionNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"workflow_name": st.WorkflowName,
			"step":          st.Step,
			"variables":     st.Variables,
			"disabled":      st.Disabled,
		})
	})

	mux.HandleFunc("GET /sessions/{session}/audit", func(w http.ResponseWriter, r *http.Request) {
		records, err := store.ListAudit(r.Context(), r.PathValue("session"), state.AuditKind(r.URL.Query().Get("kind")))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
	})

	return logRequests(mux, logger)
}

func logRequests(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
