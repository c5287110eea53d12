package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/orchestrator"
	"github.com/sells-group/signal-pipeline/internal/pipeline"
	"github.com/sells-group/signal-pipeline/internal/resilience"
	"github.com/sells-group/signal-pipeline/internal/store"
)

var servePort int

// apiDeps are the collaborators of the HTTP API.
type apiDeps struct {
	Store      store.Store
	Runner     orchestrator.Runner
	Sweeper    *orchestrator.Sweeper
	Breakers   *resilience.ServiceBreakers
	MaxRetries int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the status and trigger API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		cfg.Server.Port = port

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		dispatcher := orchestrator.NewDispatcher(env.Pipeline, nil)
		handler := newRouter(apiDeps{
			Store:      env.Store,
			Runner:     dispatcher,
			Sweeper:    orchestrator.NewSweeper(env.Store, dispatcher, cfg.Worker.Concurrency),
			Breakers:   env.Breakers,
			MaxRetries: cfg.Pipeline.MaxRetries,
		})

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func newRouter(deps apiDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", handleHealth(deps))
	r.Route("/v1", func(r chi.Router) {
		r.Get("/stages", handleStages(deps))
		r.Get("/dead-letters", handleDeadLetters(deps))
		r.Post("/trigger/{step}", handleTrigger(deps))
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

// handleHealth reports store reachability and the state of each model
// circuit breaker. An open breaker does not fail the check: stages record
// the failures per row and the breaker recovers on its own.
func handleHealth(deps apiDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok"}
		if deps.Breakers != nil {
			body["breakers"] = deps.Breakers.States()
		}
		if deps.Store != nil {
			if err := deps.Store.Ping(r.Context()); err != nil {
				body["status"] = "unavailable"
				body["error"] = err.Error()
				writeJSON(w, http.StatusServiceUnavailable, body)
				return
			}
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func handleStages(deps apiDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := deps.Store.StageCounts(r.Context(), store.StageCountFilter{
			WorkspaceID: r.URL.Query().Get("workspace_id"),
			MaxRetries:  deps.MaxRetries,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "stage counts: %v", err)
			return
		}
		if counts == nil {
			counts = []model.StageCount{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"stages": counts})
	}
}

func handleDeadLetters(deps apiDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 100
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}
		recs, err := deps.Store.DeadLetters(r.Context(), store.DeadLetterFilter{
			WorkspaceID: q.Get("workspace_id"),
			MaxRetries:  deps.MaxRetries,
			ErrorKind:   q.Get("kind"),
			Limit:       limit,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "dead letters: %v", err)
			return
		}
		if recs == nil {
			recs = []model.ProcessingRecord{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"records": recs})
	}
}

// handleTrigger runs one batch of a step, or a full sweep for "all", and
// returns the outcome.
func handleTrigger(deps apiDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "step")
		workspace := r.URL.Query().Get("workspace_id")

		if name == "all" {
			if deps.Sweeper == nil {
				writeError(w, http.StatusServiceUnavailable, "sweeps are not available")
				return
			}
			advanced, err := sweepOnce(r.Context(), deps.Sweeper)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "sweep: %v", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"step": "all", "advanced": advanced})
			return
		}

		step, ok := model.ParseStep(name)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown step %q", name)
			return
		}
		res, err := deps.Runner.Run(r.Context(), step, workspace)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "run %s: %v", step, err)
			return
		}
		writeJSON(w, http.StatusOK, triggerResponse(res))
	}
}

type triggerBody struct {
	Step         model.Step `json:"step"`
	WorkspaceID  string     `json:"workspace_id,omitempty"`
	Claimed      int        `json:"claimed"`
	Advanced     int        `json:"advanced"`
	Skipped      int        `json:"skipped"`
	Failed       int        `json:"failed"`
	DeadLettered int        `json:"dead_lettered"`
	Reclaimed    int64      `json:"reclaimed"`
	DurationMs   int64      `json:"duration_ms"`
}

func triggerResponse(res pipeline.Result) triggerBody {
	return triggerBody{
		Step:         res.Step,
		WorkspaceID:  res.WorkspaceID,
		Claimed:      res.Claimed,
		Advanced:     res.Advanced,
		Skipped:      res.Skipped,
		Failed:       res.Failed,
		DeadLettered: res.DeadLettered,
		Reclaimed:    res.Reclaimed,
		DurationMs:   res.Duration.Milliseconds(),
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
