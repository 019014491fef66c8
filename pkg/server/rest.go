package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/draftsync/draftsync/pkg/protocol"
	"github.com/draftsync/draftsync/pkg/store"
)

// Handler returns the server's full HTTP surface: the health endpoint, the
// REST draft API, the WebSocket upgrade path, and Prometheus metrics.
//
// REST writes go through the same broadcast path as WebSocket commands, so a
// draft saved over HTTP still reaches the owner's open connections.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleHealth)
	r.Get("/ws", s.HandleWebSocket)
	r.Post("/api/save", s.handleRESTSave)
	r.Put("/api/update/{id}", s.handleRESTUpdate)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metricsRegistry, promhttp.HandlerOpts{}))

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "API is running",
	})
	s.metrics.RESTRequest("health", strconv.Itoa(http.StatusOK))
}

func (s *Server) handleRESTSave(w http.ResponseWriter, r *http.Request) {
	var draft store.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		s.restError(w, "save", http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := s.store.Create(r.Context(), draft)
	if err != nil {
		var verr *store.ValidationError
		if errors.As(err, &verr) {
			s.restError(w, "save", http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("rest save failed", "error", err)
		s.restError(w, "save", http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusCreated, created)
	s.metrics.RESTRequest("save", strconv.Itoa(http.StatusCreated))

	s.broadcaster.Broadcast(r.Context(), created.UserID, protocol.SaveNotification(created))
}

func (s *Server) handleRESTUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var update store.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.restError(w, "update", http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := s.store.UpdateByID(r.Context(), id, update)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.restError(w, "update", http.StatusNotFound, "Document not found")
			return
		}
		s.logger.Error("rest update failed", "draft_id", id, "error", err)
		s.restError(w, "update", http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, updated)
	s.metrics.RESTRequest("update", strconv.Itoa(http.StatusOK))

	s.broadcaster.Broadcast(r.Context(), updated.UserID, protocol.UpdateNotification(updated))
}

func (s *Server) restError(w http.ResponseWriter, route string, code int, message string) {
	s.writeJSON(w, code, map[string]string{"error": message})
	s.metrics.RESTRequest(route, strconv.Itoa(code))
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}
