package server

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"ephemeral-drop/internal/sessions"
)

// handleInfo handles GET /get-info. The body lists "<size> <name>" per
// file; the "expiration" header is the absolute expiry in unix seconds and
// "owner" reports whether the optional "token" header matches.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	id, ok := headerValue(r, "session")
	if !ok {
		http.Error(w, msgMissingSession, http.StatusBadRequest)
		return
	}

	meta, err := s.store.ReadMetadata(id)
	if err == nil {
		var files []sessions.FileInfo
		files, err = s.store.ListFiles(id)
		if err == nil {
			s.writeInfo(w, r, id, meta, files)
			return
		}
	}
	if errors.Is(err, sessions.ErrNotFound) {
		http.Error(w, msgNoSession, http.StatusNotFound)
		return
	}
	log.Printf("rid=%s service=info msg=%q id=%s err=%v", RequestIDFromContext(r.Context()), "read_failed", id, err)
	writeError(w, err)
}

func (s *Server) writeInfo(w http.ResponseWriter, r *http.Request, id string, meta sessions.Metadata, files []sessions.FileInfo) {
	token, _ := headerValue(r, "token")
	owner := token != "" && s.verifier.IsOwner(id, token)

	lines := make([]string, 0, len(files))
	for _, f := range files {
		lines = append(lines, strconv.FormatInt(f.Size, 10)+" "+f.Name)
	}

	w.Header().Set("expiration", strconv.FormatInt(meta.Expiration, 10))
	w.Header().Set("owner", strconv.FormatBool(owner))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(strings.Join(lines, "\n")))
}
