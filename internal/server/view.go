package server

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/dustin/go-humanize"

	"ephemeral-drop/internal/sessions"
)

//go:embed templates/*.html templates/style.css
var pagesFS embed.FS

func parsePages() (*template.Template, error) {
	return template.ParseFS(pagesFS, "templates/*.html")
}

type indexPage struct {
	MaxFiles    int
	MaxFileSize string
}

type sessionPage struct {
	ID        string
	ExpiresAt string
	ExpiresIn string
	Files     []fileRow
	Owner     bool
}

type fileRow struct {
	Name string
	Size string
	Href string
}

// renderTemplate executes name into a buffer so a failing template never
// leaves a half-written page behind.
func (s *Server) renderTemplate(w http.ResponseWriter, r *http.Request, name string, data any) {
	var buf bytes.Buffer
	if err := s.pages.ExecuteTemplate(&buf, name, data); err != nil {
		log.Printf("rid=%s service=view msg=%q page=%s err=%v",
			RequestIDFromContext(r.Context()), "render_failed", name, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// handleIndex handles GET /. A browser holding a cookie for a live session
// is sent to that session's page instead of the upload form.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	for _, c := range r.Cookies() {
		if validSessionID(c.Name) && s.store.Exists(c.Name) {
			http.Redirect(w, r, "/session/"+url.PathEscape(c.Name), http.StatusSeeOther)
			return
		}
	}

	s.renderTemplate(w, r, "index.html", indexPage{
		MaxFiles:    s.cfg.MaxFiles,
		MaxFileSize: humanize.IBytes(uint64(s.cfg.MaxFileBytes)),
	})
}

// handleView handles GET /session/{session}. The delete control is only
// rendered when the cookie named after the session carries its token.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session")

	meta, err := s.store.ReadMetadata(id)
	var files []sessions.FileInfo
	if err == nil {
		files, err = s.store.ListFiles(id)
	}
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			http.Error(w, msgNoSession, http.StatusNotFound)
			return
		}
		log.Printf("rid=%s service=view msg=%q id=%s err=%v",
			RequestIDFromContext(r.Context()), "read_failed", id, err)
		writeError(w, err)
		return
	}

	owner := false
	if c, err := r.Cookie(id); err == nil {
		owner = s.verifier.IsOwner(id, c.Value)
	}

	expires := time.Unix(meta.Expiration, 0)
	page := sessionPage{
		ID:        id,
		ExpiresAt: expires.UTC().Format("2006-01-02 15:04:05 UTC"),
		ExpiresIn: humanize.Time(expires),
		Owner:     owner,
	}
	for _, f := range files {
		page.Files = append(page.Files, fileRow{
			Name: f.Name,
			Size: humanize.IBytes(uint64(f.Size)),
			Href: "/download/" + url.PathEscape(id) + "/" + url.PathEscape(f.Name),
		})
	}
	s.renderTemplate(w, r, "session.html", page)
}

// handleStyle serves the stylesheet shared by both pages.
func (s *Server) handleStyle(w http.ResponseWriter, r *http.Request) {
	css, err := pagesFS.ReadFile("templates/style.css")
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(css)
}
