package server

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"ephemeral-drop/internal/sessions"
)

// multipartOverhead is the slack allowed on top of the file quota for part
// headers and boundaries.
const multipartOverhead = 1 << 20

// handleUpload handles POST /upload. The body is a multipart stream of up
// to MaxFiles parts; the "expiration" header holds the lifetime in seconds.
//
// On success the response carries the new session id and owner token both
// as headers and as a cookie named after the session.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rid := RequestIDFromContext(r.Context())

	reject := func(err error) {
		GetMetrics().RecordUploadError(err)
		code, msg := statusFor(err)
		if code >= http.StatusInternalServerError {
			log.Printf("rid=%s service=upload msg=%q err=%v", rid, "ingest_failed", err)
		}
		e := requestAudit(r, AuditSessionReject, "", false)
		e.ErrorMsg = msg
		s.audit(r.Context(), e)
		http.Error(w, msg, code)
	}

	// The header is checked before the body is touched.
	expiration := r.Header.Get("expiration")
	if _, err := sessions.ParseExpiration(expiration); err != nil {
		reject(err)
		return
	}

	limit := int64(s.cfg.MaxFiles)*s.cfg.MaxFileBytes + multipartOverhead
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	mr, err := r.MultipartReader()
	if err != nil {
		reject(fmt.Errorf("%w: %v", sessions.ErrInvalidInput, err))
		return
	}

	up, err := s.ingester.Ingest(r.Context(), expiration, mr)
	if err != nil {
		reject(err)
		return
	}

	http.SetCookie(w, s.ownerCookie(up.Session, up.TTL))
	w.Header().Set("session", up.ID)
	w.Header().Set("token", up.Token)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))

	GetMetrics().RecordUpload(len(up.Files), up.Bytes, time.Since(start))
	log.Printf("rid=%s service=upload msg=%q id=%s files=%d size=%s expires=%s",
		rid, "session_created", up.ID, len(up.Files), humanize.IBytes(uint64(up.Bytes)),
		up.ExpiresAt.UTC().Format(time.RFC3339))

	s.putMirror(r.Context(), up.ID, up.Files)
	details := map[string]any{
		"files":      len(up.Files),
		"bytes":      up.Bytes,
		"expires_at": up.ExpiresAt.Unix(),
	}
	e := requestAudit(r, AuditSessionCreate, up.ID, true)
	e.Details = details
	s.audit(r.Context(), e)
	s.notify(r.Context(), WebhookSessionCreated, up.ID, details)
}

// ownerCookie binds the owner token to the browser under the session id
// for the requested lifetime. A zero lifetime yields a cookie the browser
// drops immediately.
func (s *Server) ownerCookie(sess sessions.Session, ttl time.Duration) *http.Cookie {
	maxAge := int(ttl / time.Second)
	if maxAge <= 0 {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     sess.ID,
		Value:    sess.Token,
		Domain:   s.cfg.CookieDomain,
		Path:     "/",
		MaxAge:   maxAge,
		SameSite: http.SameSiteLaxMode,
	}
}

// removalCookie expires the owner cookie of id.
func (s *Server) removalCookie(id string) *http.Cookie {
	return &http.Cookie{
		Name:     id,
		Value:    "none",
		Domain:   s.cfg.CookieDomain,
		Path:     "/",
		MaxAge:   -1,
		SameSite: http.SameSiteLaxMode,
	}
}
