// Package server exposes compilation over HTTP so editors can validate and
// preview step graphs without linking the library.
package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goliatone/go-subflow"
	"github.com/goliatone/go-subflow/mermaid"
)

const maxBody = 1 << 20

// Server serves the compile endpoints for one Subflow.
type Server struct {
	subflow  *subflow.Subflow
	gatherer prometheus.Gatherer
	logger   subflow.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer mounts /metrics backed by g.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger sets the request logger.
func WithLogger(logger subflow.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

type taskRequest struct {
	Definition json.RawMessage     `json:"definition"`
	Task       subflow.TaskOptions `json:"task,omitempty"`
}

type errorResponse struct {
	Error      string   `json:"error"`
	Code       string   `json:"code,omitempty"`
	Kind       string   `json:"kind,omitempty"`
	Violations []string `json:"violations,omitempty"`
}

// NewHandler creates the HTTP handler for sf.
func NewHandler(sf *subflow.Subflow, opts ...Option) http.Handler {
	s := &Server{subflow: sf}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = subflow.NewFmtLogger(io.Discard)
	}

	r := chi.NewRouter()
	r.Get("/templates", s.Templates)
	r.Post("/validate", s.Validate)
	r.Post("/compile", s.Compile)
	r.Post("/graph", s.Graph)
	r.Post("/tasks/compile", s.CompileTask)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Templates handles GET /templates?and=a,b&or=c.
func (s *Server) Templates(w http.ResponseWriter, r *http.Request) {
	q := subflow.TagQuery{
		And: splitList(r.URL.Query().Get("and")),
		Or:  splitList(r.URL.Query().Get("or")),
	}
	s.writeJSON(w, http.StatusOK, s.subflow.GetSubflows(q))
}

// Validate handles POST /validate.
func (s *Server) Validate(w http.ResponseWriter, r *http.Request) {
	def, ok := s.readDefinition(w, r)
	if !ok {
		return
	}
	if err := subflow.ValidateSteps(s.subflow.Registry(), def.Steps); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"valid": true, "steps": len(def.Steps)})
}

// Compile handles POST /compile.
func (s *Server) Compile(w http.ResponseWriter, r *http.Request) {
	def, ok := s.readDefinition(w, r)
	if !ok {
		return
	}
	graph, err := s.subflow.Compile(def.Steps)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, graph)
}

// Graph handles POST /graph and answers with a Mermaid flowchart.
func (s *Server) Graph(w http.ResponseWriter, r *http.Request) {
	def, ok := s.readDefinition(w, r)
	if !ok {
		return
	}
	graph, err := s.subflow.Compile(def.Steps)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, mermaid.Generate(graph))
}

// CompileTask handles POST /tasks/compile.
func (s *Server) CompileTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		s.logger.Warn("compile task: invalid request body: %v", err)
		return
	}
	def, err := subflow.ParseSteps(req.Definition)
	if err != nil {
		s.writeError(w, err)
		return
	}
	payload, err := s.subflow.CompileTask(def, req.Task)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) readDefinition(w http.ResponseWriter, r *http.Request) (subflow.TaskDefinition, bool) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return subflow.TaskDefinition{}, false
	}
	def, err := subflow.ParseSteps(data)
	if err != nil {
		s.writeError(w, err)
		return subflow.TaskDefinition{}, false
	}
	return def, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := subflow.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed: %v", err)
	}
	s.writeJSON(w, status, errorResponse{
		Error:      err.Error(),
		Code:       subflow.ErrorCode(err),
		Kind:       string(kind),
		Violations: subflow.Violations(err),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed: %v", err)
	}
}

func statusFor(kind subflow.ErrorKind) int {
	switch kind {
	case subflow.KindConfiguration:
		return http.StatusBadRequest
	case subflow.KindReference, subflow.KindStructural, subflow.KindProperty:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
