// Package server exposes inventory and confirmed deletion over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/wipeit/internal/confirm"
	"github.com/yairfalse/wipeit/internal/runner"
	"github.com/yairfalse/wipeit/pkg/resource"
)

// Backend is the run surface the server drives.
type Backend interface {
	RunInventory(ctx context.Context, profile, region string) (resource.Inventory, error)
	Plan(ctx context.Context, profile, region string, sel resource.Selection) (*runner.Plan, error)
	Execute(ctx context.Context, plan *runner.Plan, approval confirm.Approval) []resource.DeletionResult
}

// Server is the HTTP front end.
type Server struct {
	backend Backend
	metrics http.Handler
	status  func() any
	srv     *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithStatus serves fn's result at GET /api/status.
func WithStatus(fn func() any) Option {
	return func(s *Server) { s.status = fn }
}

// New creates a server listening on addr. metrics may be nil.
func New(addr string, backend Backend, metrics http.Handler, opts ...Option) *Server {
	s := &Server{backend: backend, metrics: metrics}
	for _, opt := range opts {
		opt(s)
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/inventory", s.handleInventory).Methods(http.MethodGet)
	api.HandleFunc("/delete/plan", s.handlePlan).Methods(http.MethodPost)
	api.HandleFunc("/delete", s.handleDelete).Methods(http.MethodPost)
	if s.status != nil {
		api.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, s.status())
		}).Methods(http.MethodGet)
	}
	return router
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type inventoryResponse struct {
	Count     int                `json:"count"`
	Inventory resource.Inventory `json:"inventory"`
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	inv, err := s.backend.RunInventory(r.Context(), q.Get("profile"), q.Get("region"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inventoryResponse{Count: inv.Count(), Inventory: inv})
}

// deleteRequest names resources either as references or as a kind-keyed
// selection; both are merged.
type deleteRequest struct {
	Profile   string             `json:"profile"`
	Region    string             `json:"region"`
	Resources []string           `json:"resources,omitempty"`
	Selection resource.Selection `json:"selection,omitempty"`
	Digest    string             `json:"digest,omitempty"`
	Confirm   bool               `json:"confirm"`
}

func (d deleteRequest) selection() resource.Selection {
	sel := d.Selection.Clone()
	for k, ids := range resource.ParseRefs(d.Resources) {
		sel[k] = append(sel[k], ids...)
	}
	return sel
}

type planResponse struct {
	RunID     string         `json:"run_id"`
	Prompt    string         `json:"prompt"`
	Digest    string         `json:"digest"`
	Total     int            `json:"total"`
	Protected []resource.Ref `json:"protected,omitempty"`
}

func (s *Server) plan(w http.ResponseWriter, r *http.Request) (*runner.Plan, *deleteRequest, bool) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body: "+err.Error(), ""))
		return nil, nil, false
	}
	plan, err := s.backend.Plan(r.Context(), req.Profile, req.Region, req.selection())
	if err != nil {
		writeError(w, err)
		return nil, nil, false
	}
	return plan, &req, true
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	plan, _, ok := s.plan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, planResponse{
		RunID:     plan.RunID,
		Prompt:    plan.Prompt.Text,
		Digest:    plan.Prompt.Digest,
		Total:     plan.Prompt.Total,
		Protected: plan.Prompt.Skipped,
	})
}

type deleteResponse struct {
	RunID   string                    `json:"run_id"`
	Results []resource.DeletionResult `json:"results"`
	Summary resource.Summary          `json:"summary"`
}

// handleDelete re-plans the request and deletes only when the caller
// confirmed and echoed the digest of that exact plan.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	plan, req, ok := s.plan(w, r)
	if !ok {
		return
	}
	if !req.Confirm {
		writeJSON(w, http.StatusBadRequest, errorBody("deletion requires confirm=true and the plan digest", "confirmation"))
		return
	}

	approval, err := confirm.Approve(plan.Prompt, req.Digest, req.Confirm)
	if err != nil {
		writeJSON(w, http.StatusConflict, errorBody(err.Error(), "confirmation"))
		return
	}

	results := s.backend.Execute(r.Context(), plan, approval)
	writeJSON(w, http.StatusOK, deleteResponse{
		RunID:   plan.RunID,
		Results: results,
		Summary: resource.Summarize(results),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Cause string `json:"cause,omitempty"`
}

func errorBody(msg, cause string) errorResponse {
	return errorResponse{Error: msg, Cause: cause}
}

func writeError(w http.ResponseWriter, err error) {
	cause := resource.Classify(err)
	status := http.StatusInternalServerError
	switch cause {
	case resource.CauseConfiguration:
		status = http.StatusUnauthorized
	case resource.CauseUnsupportedKind:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, errorBody(err.Error(), string(cause)))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}
