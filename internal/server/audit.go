package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// AuditAction names a session lifecycle event.
type AuditAction string

const (
	AuditSessionCreate AuditAction = "session_create"
	AuditSessionDelete AuditAction = "session_delete"
	AuditSessionReap   AuditAction = "session_reap"
	AuditSessionReject AuditAction = "session_reject"
)

// AuditEntry is one row of audit_logs.
type AuditEntry struct {
	ID        string
	Timestamp time.Time
	Action    AuditAction
	SessionID string
	IPAddress string
	UserAgent string
	Details   map[string]any
	Success   bool
	ErrorMsg  string
}

// Auditor appends entries to the audit_logs table. Writes are guarded by
// a circuit breaker and never fail the request that triggered them.
type Auditor struct {
	db      *sql.DB
	breaker *CircuitBreaker
	timeout time.Duration
}

// NewAuditor returns an auditor writing to db.
func NewAuditor(db *sql.DB, breaker *CircuitBreaker) *Auditor {
	return &Auditor{db: db, breaker: breaker, timeout: 2 * time.Second}
}

const insertAudit = `
	INSERT INTO audit_logs (
		id, timestamp, action, session_id, ip_address,
		user_agent, details, success, error_message
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

// Record writes e, filling ID and Timestamp when unset.
func (a *Auditor) Record(ctx context.Context, e AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var details []byte
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return err
		}
		details = b
	}

	return a.breaker.Execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		_, err := a.db.ExecContext(ctx, insertAudit,
			e.ID,
			e.Timestamp,
			string(e.Action),
			nullString(e.SessionID),
			nullString(e.IPAddress),
			nullString(e.UserAgent),
			details,
			e.Success,
			nullString(e.ErrorMsg),
		)
		return err
	})
}

// Ping checks the database connection.
func (a *Auditor) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// audit records e in the background when auditing is enabled.
func (s *Server) audit(parent context.Context, e AuditEntry) {
	if s.auditor == nil {
		return
	}
	s.background(parent, func(ctx context.Context) {
		if err := s.auditor.Record(ctx, e); err != nil {
			GetMetrics().RecordAuditFailure()
			Error("audit_write_failed", map[string]any{
				"request_id": RequestIDFromContext(ctx),
				"action":     string(e.Action),
				"session":    e.SessionID,
			}, err)
		}
	})
}

// requestAudit fills the client fields of an entry from r.
func requestAudit(r *http.Request, action AuditAction, sessionID string, success bool) AuditEntry {
	return AuditEntry{
		Action:    action,
		SessionID: sessionID,
		IPAddress: getClientIP(r),
		UserAgent: r.UserAgent(),
		Success:   success,
	}
}

// nullString maps "" to SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{
		String: s,
		Valid:  s != "",
	}
}
