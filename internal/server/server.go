package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"

	"ephemeral-drop/internal/sessions"
)

// backgroundTimeout bounds mirror and audit work started by a request.
const backgroundTimeout = 2 * time.Minute

// Deps are optional external services. Nil fields disable the feature.
type Deps struct {
	DB    *sql.DB
	Minio *minio.Client
}

type Server struct {
	cfg Config

	store    *sessions.Store
	ingester *sessions.Ingester
	verifier *sessions.Verifier
	archives *sessions.ArchiveBuilder
	reaper   *sessions.Reaper

	mirror   *Mirror
	auditor  *Auditor
	notifier *Notifier
	breakers *CircuitBreakerManager
	limiter  *EndpointRateLimiter
	pages    *template.Template

	// bgCtx is cancelled on Shutdown; bg tracks work started from it.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup

	httpServer *http.Server
}

// New builds the server and its session engine. Creating the sessions
// root is the only step that can fail.
func New(cfg Config, deps Deps) (*Server, error) {
	store, err := sessions.NewStore(cfg.SessionsDir)
	if err != nil {
		return nil, err
	}
	pages, err := parsePages()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	archives := sessions.NewArchiveBuilder(store, cfg.ScratchDir)

	reaper := sessions.NewReaper(store, archives)
	reaper.Interval = cfg.SweepInterval
	reaper.RetryBackoff = cfg.RetryBackoff
	reaper.ScratchTTL = cfg.ScratchTTL

	bgCtx, bgCancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:      cfg,
		store:    store,
		ingester: sessions.NewIngester(store, cfg.Limits()),
		verifier: sessions.NewVerifier(store),
		archives: archives,
		reaper:   reaper,
		breakers: NewCircuitBreakerManager(),
		limiter:  NewEndpointRateLimiter(cfg.RateLimits),
		pages:    pages,
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}

	if deps.Minio != nil {
		s.mirror = NewMirror(deps.Minio, cfg.Bucket, s.breakers.GetOrCreate("minio", 5, 30*time.Second))
	}
	if deps.DB != nil {
		s.auditor = NewAuditor(deps.DB, s.breakers.GetOrCreate("database", 5, 30*time.Second))
	}
	if cfg.WebhookURL != "" {
		s.notifier = NewNotifier(cfg.WebhookURL, cfg.WebhookSecret, s.breakers.GetOrCreate("webhook", 5, time.Minute))
	}

	reaper.OnReaped = s.onReaped
	reaper.OnRetry = func(string, error) { GetMetrics().RecordReaperRetry() }

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /delete/{session}", s.handleDelete)
	mux.HandleFunc("GET /is-owner", s.handleIsOwner)
	mux.HandleFunc("POST /is-owner", s.handleIsOwner)
	mux.HandleFunc("GET /get-info", s.handleInfo)
	mux.HandleFunc("GET /download/{session}/{filename}", s.handleDownloadFile)
	mux.HandleFunc("GET /download/{session}", s.handleDownloadArchive)
	mux.HandleFunc("GET /session/{session}", s.handleView)
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /style.css", s.handleStyle)

	mux.HandleFunc("GET /health", s.HandleHealth)
	mux.HandleFunc("GET /ready", s.HandleReady)
	mux.HandleFunc("GET /live", s.HandleLive)
	mux.Handle("GET /metrics", NewPrometheusExporter(s.cfg.Version, s.countSessions).Handler())

	return mux
}

// Handler returns the full middleware chain:
// requestID -> logging -> security headers -> rate limit -> gzip -> mux.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.routes()
	handler = CompressionMiddleware(handler)
	handler = s.limiter.Middleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = loggingMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

// Run starts the reaper, the rate limiter cleanup and, with a mirror
// configured, the orphan sweep. They stop when ctx is done or the server
// shuts down; Run returns immediately.
func (s *Server) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	context.AfterFunc(s.bgCtx, cancel)

	s.bg.Add(2)
	go func() {
		defer s.bg.Done()
		s.reaper.Run(ctx)
	}()
	go func() {
		defer s.bg.Done()
		s.limiter.Run(ctx)
	}()

	if s.mirror != nil {
		cleaner := &mirrorCleaner{mirror: s.mirror, store: s.store, interval: s.cfg.MirrorSweepInterval}
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			cleaner.StartMirrorCleanupJob(ctx)
		}()
	}
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, waits for in-flight ones and then for
// background work, all bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.bgCancel()

	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// background runs fn on its own goroutine with a bounded context that
// keeps the values of parent.
func (s *Server) background(parent context.Context, fn func(ctx context.Context)) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(s.bgCtx, backgroundTimeout)
		defer cancel()
		if rid := RequestIDFromContext(parent); rid != "" {
			ctx = context.WithValue(ctx, requestIDKey, rid)
		}
		fn(ctx)
	}()
}

// onReaped runs on the reaper goroutine after an expired session is gone.
func (s *Server) onReaped(id string) {
	GetMetrics().RecordReaped()
	s.removeMirror(context.Background(), id)
	s.audit(context.Background(), AuditEntry{Action: AuditSessionReap, SessionID: id, Success: true})
	s.notify(context.Background(), WebhookSessionReaped, id, nil)
}

func (s *Server) countSessions() (int, error) {
	ids, err := s.store.IDs()
	return len(ids), err
}

func (s *Server) putMirror(parent context.Context, id string, files []sessions.FileInfo) {
	if s.mirror == nil {
		return
	}
	s.background(parent, func(ctx context.Context) {
		if err := s.mirror.PutSession(ctx, s.store, id, files); err != nil {
			GetMetrics().RecordMirrorFailure()
			log.Printf("rid=%s service=mirror msg=%q id=%s err=%v", RequestIDFromContext(ctx), "put_failed", id, err)
		}
	})
}

func (s *Server) removeMirror(parent context.Context, id string) {
	if s.mirror == nil {
		return
	}
	s.background(parent, func(ctx context.Context) {
		if err := s.mirror.RemoveSession(ctx, id); err != nil {
			GetMetrics().RecordMirrorFailure()
			log.Printf("rid=%s service=mirror msg=%q id=%s err=%v", RequestIDFromContext(ctx), "remove_failed", id, err)
		}
	})
}
