// Package server exposes the HTTP surface: run management for operators
// and the invoke endpoints the distributed scheduling mode delivers
// agent tasks and coordinator signals through.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/tradecrew-ai/tradecrew/internal/agents"
	"github.com/tradecrew-ai/tradecrew/internal/coordinator"
	"github.com/tradecrew-ai/tradecrew/internal/invoker"
	"github.com/tradecrew-ai/tradecrew/internal/logging"
	"github.com/tradecrew-ai/tradecrew/internal/store"
	"github.com/tradecrew-ai/tradecrew/internal/workflow"
)

// AgentRunner executes one agent invocation end to end.
type AgentRunner func(ctx context.Context, agent string, task workflow.Task) error

// Server routes HTTP requests onto the coordinator and the agent workers.
type Server struct {
	router   chi.Router
	coord    *coordinator.Coordinator
	store    *store.Store
	runAgent AgentRunner
	log      *logging.Logger
}

// New creates the server. runAgent backs the worker endpoints; passing nil
// disables them (an operator-only deployment next to a worker fleet).
func New(coord *coordinator.Coordinator, st *store.Store, runAgent AgentRunner, log *logging.Logger) *Server {
	s := &Server{coord: coord, store: st, runAgent: runAgent, log: log}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.handleStartRun)
			r.Get("/", s.handleListRuns)

			r.Route("/{runID}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Get("/steps", s.handleListSteps)
				r.Get("/insights", s.handleListInsights)
				r.Get("/rounds", s.handleListRounds)
				r.Post("/retry", s.handleRetryRun)
				r.Post("/cancel", s.handleCancelRun)
			})
		})
	})

	// Invocation target for the fire-and-forget scheduling path.
	r.Post("/v1/invoke/{function}", s.handleInvoke)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type startRunRequest struct {
	Ticker string `json:"ticker"`
	UserID string `json:"user_id"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	run, err := s.coord.StartRun(r.Context(), req.Ticker, req.UserID)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context(), r.URL.Query().Get("user_id"), 50)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run == nil {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleListSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := s.store.ListSteps(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, steps)
}

func (s *Server) handleListInsights(w http.ResponseWriter, r *http.Request) {
	insights, err := s.store.ListInsights(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, insights)
}

func (s *Server) handleListRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := s.store.ListRounds(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rounds)
}

func (s *Server) handleRetryRun(w http.ResponseWriter, r *http.Request) {
	agent, err := s.coord.Resume(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"resumed_at": agent})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	cancelled, err := s.coord.Cancel(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !cancelled {
		respondError(w, http.StatusConflict, "run already settled")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// handleInvoke is the worker entrypoint. Transport success is the only
// thing the response carries: the invocation is acknowledged once decoded,
// and the work itself runs detached, reporting its outcome through the
// coordinator signal path like every other invocation.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	function := chi.URLParam(r, "function")

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "reading body")
		return
	}

	if function == invoker.CoordinatorFunction {
		if err := s.coord.HandleSignal(r.Context(), json.RawMessage(body)); err != nil {
			s.log.Error("coordinator signal failed", "error", err)
			respondJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	agent, ok := strings.CutPrefix(function, "agent-")
	if !ok || s.runAgent == nil {
		respondError(w, http.StatusNotFound, "unknown function "+function)
		return
	}

	task, err := agents.DecodeTask(json.RawMessage(body))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	go func() {
		ctx := context.WithoutCancel(r.Context())
		if err := s.runAgent(ctx, agent, task); err != nil && !errors.Is(err, context.Canceled) {
			s.log.WithRun(task.RunID).WithAgent(agent).Error("agent invocation failed", "error", err)
		}
	}()
	respondJSON(w, http.StatusAccepted, map[string]any{"success": true})
}

// ListenAndServe starts the server and shuts down when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("starting http server", "addr", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
