package server

import (
	"errors"
	"log"
	"net/http"

	"ephemeral-drop/internal/sessions"
)

// handleDelete handles POST /delete/{session} with the owner token in the
// "token" header. A wrong token and an unknown session look the same to
// the caller.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session")
	rid := RequestIDFromContext(r.Context())

	token, ok := headerValue(r, "token")
	if !ok {
		http.Error(w, msgMissingToken, http.StatusBadRequest)
		return
	}

	err := s.verifier.Verify(id, token)
	if err == nil {
		err = s.store.Delete(id)
	}
	if err != nil {
		GetMetrics().RecordDelete(false)
		e := requestAudit(r, AuditSessionDelete, id, false)
		switch {
		case errors.Is(err, sessions.ErrNotFound),
			errors.Is(err, sessions.ErrForbidden),
			errors.Is(err, sessions.ErrMissingCredential):
			e.ErrorMsg = msgBadCredential
			s.audit(r.Context(), e)
			http.Error(w, msgBadCredential, http.StatusForbidden)
		default:
			log.Printf("rid=%s service=delete msg=%q id=%s err=%v", rid, "delete_failed", id, err)
			e.ErrorMsg = err.Error()
			s.audit(r.Context(), e)
			writeError(w, err)
		}
		return
	}

	http.SetCookie(w, s.removalCookie(id))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Removed successfully"))

	GetMetrics().RecordDelete(true)
	log.Printf("rid=%s service=delete msg=%q id=%s", rid, "session_deleted", id)
	s.removeMirror(r.Context(), id)
	s.audit(r.Context(), requestAudit(r, AuditSessionDelete, id, true))
	s.notify(r.Context(), WebhookSessionDeleted, id, nil)
}

// handleIsOwner handles GET|POST /is-owner with "session" and "token"
// headers.
func (s *Server) handleIsOwner(w http.ResponseWriter, r *http.Request) {
	id, ok := headerValue(r, "session")
	if !ok {
		http.Error(w, msgMissingSession, http.StatusBadRequest)
		return
	}
	token, ok := headerValue(r, "token")
	if !ok {
		http.Error(w, msgMissingToken, http.StatusBadRequest)
		return
	}

	if !s.verifier.IsOwner(id, token) {
		http.Error(w, msgBadCredential, http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("You are the owner / creator"))
}
