package server

import (
	"errors"
	"log"
	"net/http"
	"time"

	"ephemeral-drop/internal/sessions"
)

// handleDownloadFile handles GET /download/{session}/{filename}. Metadata
// entries are never served.
func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session")
	name := r.PathValue("filename")

	f, info, err := s.store.OpenFile(id, name)
	if err != nil {
		s.downloadFailed(w, r, id, err)
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Disposition", attachment(name))
	http.ServeContent(w, r, name, info.ModTime(), f)

	GetMetrics().RecordFileDownload(info.Size())
}

// handleDownloadArchive handles GET /download/{session}. The zip is built
// into a scratch file for this request only and removed once served.
func (s *Server) handleDownloadArchive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session")

	start := time.Now()
	archive, err := s.archives.Build(r.Context(), id)
	if err != nil {
		s.downloadFailed(w, r, id, err)
		return
	}
	defer func() {
		if err := archive.Close(); err != nil {
			log.Printf("rid=%s service=download msg=%q id=%s err=%v",
				RequestIDFromContext(r.Context()), "scratch_remove_failed", id, err)
		}
	}()
	build := time.Since(start)

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", attachment(id+".zip"))
	http.ServeContent(w, r, id+".zip", archive.ModTime, archive)

	GetMetrics().RecordArchiveDownload(archive.Size, build)
}

func (s *Server) downloadFailed(w http.ResponseWriter, r *http.Request, id string, err error) {
	if errors.Is(err, sessions.ErrNotFound) {
		GetMetrics().RecordDownloadNotFound()
		http.Error(w, msgNoFile, http.StatusNotFound)
		return
	}
	log.Printf("rid=%s service=download msg=%q id=%s err=%v",
		RequestIDFromContext(r.Context()), "download_failed", id, err)
	writeError(w, err)
}
