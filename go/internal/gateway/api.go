package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/aln/go/internal/session"
)

// API serves the session REST endpoints.
type API struct {
	sessions SessionService
}

func NewAPI(sessions SessionService) *API {
	return &API{sessions: sessions}
}

// RegisterRoutes mounts the endpoints under /api/sessions.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", a.CreateSession)
		r.Get("/", a.ListSessions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.GetSession)
			r.Post("/pause", a.PauseSession)
			r.Post("/resume", a.ResumeSession)
			r.Post("/end", a.EndSession)
			r.Get("/state", a.GetState)
			r.Post("/transactions", a.SubmitTransaction)
			r.Post("/reconcile", a.Reconcile)
			r.Get("/verify", a.Verify)
		})
	})
}

func (a *API) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateSessionRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := a.sessions.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (a *API) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.sessions.List())
}

func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	sess, err := a.sessions.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) PauseSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	sess, err := a.sessions.Pause(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) ResumeSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	sess, err := a.sessions.Resume(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// EndSession responds with the final snapshot.
func (a *API) EndSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	snap, err := a.sessions.End(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) GetState(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	snap, err := a.sessions.Snapshot(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// SubmitTransaction answers 200 for both committed and rejected scans. Only
// an unknown session or a cancelled request is an HTTP error.
func (a *API) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req session.SubmitRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.sessions.Submit(r.Context(), id, req)
	if errors.Is(err, session.ErrSessionNotFound) || isContextErr(err) {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req session.ReconcileRequest
	if !decode(w, r, &req) {
		return
	}
	results, err := a.sessions.Reconcile(r.Context(), id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BatchResult{Results: results, Summary: session.Summarize(results)})
}

func (a *API) Verify(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	v, err := a.sessions.Verify(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorPayload{
			Reason:  session.ReasonInvalidSubmission,
			Message: "invalid session id",
		})
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorPayload{
			Reason:  session.ReasonInvalidSubmission,
			Message: fmt.Sprintf("invalid request body: %v", err),
		})
		return false
	}
	return true
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// statusFor maps a session error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidSubmission), errors.Is(err, session.ErrUnknownTeam):
		return http.StatusBadRequest
	case isContextErr(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, ErrorPayload{Reason: session.RejectReason(err), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
