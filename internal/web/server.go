// Package web provides the HTTP status and control server for the burner.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/sweeney/burner-sim/internal/logic"
	"github.com/sweeney/burner-sim/internal/status"
)

// Options configures a Server.
type Options struct {
	Addr    string
	Tracker *status.Tracker

	// Submit queues a validated goal for the control loop. An error means
	// the queue is full and is reported as 503.
	Submit  func(goal float64) error
	MaxGoal float64

	// Hub serves /ws when set.
	Hub *Hub
	// Metrics serves /metrics when set.
	Metrics http.Handler

	// OnRejected is called for goals that fail validation.
	OnRejected func()
	Logger     *slog.Logger
}

// Server serves the status page, the goal endpoint and live updates.
type Server struct {
	httpServer *http.Server
	opts       Options
	logger     *slog.Logger
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{opts: opts, logger: opts.Logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /index.html", s.handleIndex)
	mux.HandleFunc("GET /index.json", s.handleJSON)
	mux.HandleFunc("POST /goal", s.handleGoal)
	if opts.Hub != nil {
		mux.Handle("GET /ws", opts.Hub)
	}
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	s.httpServer = &http.Server{
		Addr:    opts.Addr,
		Handler: mux,
	}
	return s
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server and disconnects websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.opts.Hub != nil {
		s.opts.Hub.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.opts.Tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap, s.opts.Hub != nil); err != nil {
		s.logger.Warn("render status page", "err", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.opts.Tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

type goalRequest struct {
	Goal *float64 `json:"goal"`
}

type goalResponse struct {
	Goal  *float64 `json:"goal,omitempty"`
	Error string  `json:"error,omitempty"`
}

func (s *Server) handleGoal(w http.ResponseWriter, r *http.Request) {
	goal, err := parseGoalRequest(w, r)
	if err == nil {
		err = logic.ValidateGoal(goal, s.opts.MaxGoal)
	}
	if err != nil {
		if s.opts.OnRejected != nil {
			s.opts.OnRejected()
		}
		writeGoalResponse(w, http.StatusBadRequest, goalResponse{Error: err.Error()})
		return
	}

	if s.opts.Submit == nil {
		writeGoalResponse(w, http.StatusServiceUnavailable, goalResponse{Error: "goal control disabled"})
		return
	}
	if err := s.opts.Submit(goal); err != nil {
		s.logger.Warn("http: goal not queued", "goal", goal, "err", err)
		writeGoalResponse(w, http.StatusServiceUnavailable, goalResponse{Error: err.Error()})
		return
	}
	s.logger.Info("http: goal queued", "goal", goal, "remote", r.RemoteAddr)
	writeGoalResponse(w, http.StatusAccepted, goalResponse{Goal: &goal})
}

var errMissingGoal = errors.New("missing goal")

// parseGoalRequest accepts {"goal": N} as JSON or goal=N as a form.
func parseGoalRequest(w http.ResponseWriter, r *http.Request) (float64, error) {
	r.Body = http.MaxBytesReader(w, r.Body, 1024)

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var req goalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return 0, fmt.Errorf("decode body: %w", err)
		}
		if req.Goal == nil {
			return 0, errMissingGoal
		}
		return *req.Goal, nil
	}

	if err := r.ParseForm(); err != nil {
		return 0, fmt.Errorf("parse form: %w", err)
	}
	raw := strings.TrimSpace(r.PostForm.Get("goal"))
	if raw == "" {
		return 0, errMissingGoal
	}
	goal, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("goal %q: %w", raw, err)
	}
	return goal, nil
}

func writeGoalResponse(w http.ResponseWriter, code int, resp goalResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
