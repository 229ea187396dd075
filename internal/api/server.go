// Package api exposes the control surface for registering synced auctions and
// inspecting reconciliation status. Upstream platform failures never surface
// here: status reads report the last reconciled state plus loop health.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/HosicoStarChild/artifacte-seeker/internal/engine"
	"github.com/HosicoStarChild/artifacte-seeker/internal/registry"
)

type Server struct {
	reg    *registry.Registry
	engine *engine.Engine
	log    zerolog.Logger
}

func New(reg *registry.Registry, eng *engine.Engine, log zerolog.Logger) *Server {
	return &Server{reg: reg, engine: eng, log: log}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Post("/auctions", s.handleRegister)
	r.Get("/auctions", s.handleList)
	r.Get("/auctions/{id}/status", s.handleStatus)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"time":     time.Now().UTC(),
		"auctions": s.reg.Len(),
	})
}

type registerRequest struct {
	ID            string  `json:"id,omitempty"`
	Title         string  `json:"title"`
	EbayItemID    string  `json:"ebayItemId"`
	ArtifacteSlug string  `json:"artifacteSlug"`
	CurrentBid    float64 `json:"currentBid"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	entry, err := s.reg.Add(registry.SyncedAuction{
		ID:            req.ID,
		Title:         req.Title,
		EbayItemID:    req.EbayItemID,
		ArtifacteSlug: req.ArtifacteSlug,
		CurrentBid:    req.CurrentBid,
	})
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrDuplicateID):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	s.log.Info().Str("id", entry.ID).Str("title", entry.Title).Msg("synced auction registered")
	respondJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entries := s.reg.List()
	if entries == nil {
		entries = []registry.SyncedAuction{}
	}
	respondJSON(w, http.StatusOK, entries)
}

type statusResponse struct {
	registry.SyncedAuction
	SyncRunning    bool              `json:"syncRunning"`
	PollIntervalMs int64             `json:"pollIntervalMs"`
	LastOutcome    *engine.SyncEvent `json:"lastOutcome,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := s.reg.Find(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	resp := statusResponse{
		SyncedAuction:  entry,
		SyncRunning:    s.engine.Running(),
		PollIntervalMs: s.engine.Interval().Milliseconds(),
	}
	if outcome, ok := s.engine.LastOutcome(id); ok {
		resp.LastOutcome = &outcome
	}
	respondJSON(w, http.StatusOK, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
