// Package admin exposes the scripting engine over HTTP for manual testing,
// grounded on the teacher's internal/app.Application + cmd/main.go wiring —
// narrowed from an HTTP reverse-proxy gateway down to a single
// script-execution endpoint plus health/metrics.
package admin

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"luacore/internal/config"
	"luacore/pkg/scripting"
)

// DefaultRequestTimeout bounds every admin request, mirroring the teacher's
// own middleware.Timeout use in its gateway router.
const DefaultRequestTimeout = 10 * time.Second

// Server is the chi-routed HTTP surface around a scripting.Runner.
type Server struct {
	router *chi.Mux
	runner *scripting.Runner
	host   scripting.Host
	limits scripting.Limits
}

// New builds a Server. host is the redis.* command dispatcher every run
// request executes against — cmd/scriptd wires internal/demo.Store in.
func New(cfg *config.Config, runner *scripting.Runner, host scripting.Host) *Server {
	limits := scripting.Limits{
		MaxInstructions: cfg.Limits.MaxInstructions,
		MaxMemoryBytes:  cfg.Limits.MaxMemoryBytes,
	}

	s := &Server{
		router: chi.NewRouter(),
		runner: runner,
		host:   host,
		limits: limits,
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(DefaultRequestTimeout))
	r.Use(middleware.Throttle(100))
	r.Use(middleware.CleanPath)
	r.Use(middleware.StripSlashes)
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Post("/run", s.handleRun)
}

// Handler returns the server's http.Handler for cmd/scriptd to serve.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// runRequest is the body a POST /run call sends: a base64-encoded bytecode
// chunk (SPEC_FULL.md §4.E's binary format), plus the script's KEYS/ARGV.
type runRequest struct {
	Bytecode     string   `json:"bytecode"`
	Keys         []string `json:"keys"`
	Argv         []string `json:"argv"`
	TimeoutMillis int64   `json:"timeout_ms"`
}

type runResponse struct {
	Kind    string      `json:"kind"`
	Integer int64       `json:"integer,omitempty"`
	Bulk    string      `json:"bulk,omitempty"`
	Status  string      `json:"status,omitempty"`
	Error   string      `json:"error,omitempty"`
	Array   []runResponse `json:"array,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Bytecode)
	if err != nil {
		http.Error(w, "bytecode is not valid base64: "+err.Error(), http.StatusBadRequest)
		return
	}

	script, err := scripting.Load("admin-run", data)
	if err != nil {
		http.Error(w, "failed to load bytecode: "+err.Error(), http.StatusBadRequest)
		return
	}

	limits := s.limits
	if req.TimeoutMillis > 0 {
		limits.Deadline = time.Now().Add(time.Duration(req.TimeoutMillis) * time.Millisecond)
	}

	reply, err := s.runner.Run(script, toByteSlices(req.Keys), toByteSlices(req.Argv), s.host, limits)
	if err != nil {
		slog.Warn("script_run_failed", "error", err, "component", "admin")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(runResponse{Kind: "error", Error: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toRunResponse(reply))
}

func toByteSlices(ss []string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func toRunResponse(r scripting.Reply) runResponse {
	switch r.Kind {
	case scripting.ReplyNil:
		return runResponse{Kind: "nil"}
	case scripting.ReplyInteger:
		return runResponse{Kind: "integer", Integer: r.Integer}
	case scripting.ReplyBulk:
		return runResponse{Kind: "bulk", Bulk: string(r.Bulk)}
	case scripting.ReplyStatus:
		return runResponse{Kind: "status", Status: r.Status}
	case scripting.ReplyError:
		return runResponse{Kind: "error", Error: r.Err}
	case scripting.ReplyArray:
		elems := make([]runResponse, len(r.Array))
		for i, e := range r.Array {
			elems[i] = toRunResponse(e)
		}
		return runResponse{Kind: "array", Array: elems}
	default:
		return runResponse{Kind: "nil"}
	}
}
