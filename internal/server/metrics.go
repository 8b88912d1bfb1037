package server

import (
	"errors"
	"sync"
	"time"

	"ephemeral-drop/internal/sessions"
)

// Upload failure kinds used as metric labels.
const (
	uploadErrInvalid  = "invalid_input"
	uploadErrReserved = "reserved_name"
	uploadErrQuota    = "quota"
	uploadErrIO       = "io"
)

// Metrics holds in-process counters exported on /metrics.
type Metrics struct {
	mu sync.RWMutex

	sessionsCreated     int64
	uploadFilesTotal    int64
	uploadBytesTotal    int64
	uploadDurationTotal time.Duration
	uploadErrors        map[string]int64

	fileDownloads      int64
	fileDownloadBytes  int64
	archiveDownloads   int64
	archiveBytesTotal  int64
	archiveBuildTotal  time.Duration
	downloadNotFound   int64
	sessionsDeleted    int64
	deleteRejected     int64
	sessionsReaped     int64
	reaperRetries      int64
	mirrorFailures     int64
	auditWriteFailures int64
	webhookFailures    int64

	requestsTotal    int64
	requestErrors5xx int64
	requestErrors4xx int64
}

var globalMetrics = newMetrics()

func newMetrics() *Metrics {
	return &Metrics{uploadErrors: make(map[string]int64)}
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordUpload records a created session.
func (m *Metrics) RecordUpload(files int, bytes int64, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionsCreated++
	m.uploadFilesTotal += int64(files)
	m.uploadBytesTotal += bytes
	m.uploadDurationTotal += duration
}

// RecordUploadError counts a rejected upload by failure kind.
func (m *Metrics) RecordUploadError(err error) {
	kind := uploadErrIO
	switch {
	case errors.Is(err, sessions.ErrReservedName):
		kind = uploadErrReserved
	case errors.Is(err, sessions.ErrQuotaExceeded):
		kind = uploadErrQuota
	case errors.Is(err, sessions.ErrInvalidInput):
		kind = uploadErrInvalid
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadErrors[kind]++
}

// RecordFileDownload records a single-file download.
func (m *Metrics) RecordFileDownload(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fileDownloads++
	m.fileDownloadBytes += bytes
}

// RecordArchiveDownload records a zip download and its build time.
func (m *Metrics) RecordArchiveDownload(bytes int64, build time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archiveDownloads++
	m.archiveBytesTotal += bytes
	m.archiveBuildTotal += build
}

func (m *Metrics) RecordDownloadNotFound() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloadNotFound++
}

// RecordDelete records an owner delete attempt.
func (m *Metrics) RecordDelete(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.sessionsDeleted++
	} else {
		m.deleteRejected++
	}
}

func (m *Metrics) RecordReaped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionsReaped++
}

func (m *Metrics) RecordReaperRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reaperRetries++
}

func (m *Metrics) RecordMirrorFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mirrorFailures++
}

func (m *Metrics) RecordAuditFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditWriteFailures++
}

func (m *Metrics) RecordWebhookFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhookFailures++
}

// RecordRequest records an HTTP request
func (m *Metrics) RecordRequest(statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestsTotal++

	if statusCode >= 500 {
		m.requestErrors5xx++
	} else if statusCode >= 400 {
		m.requestErrors4xx++
	}
}

// Snapshot returns a point-in-time copy of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	errs := make(map[string]int64, len(m.uploadErrors))
	for k, v := range m.uploadErrors {
		errs[k] = v
	}

	return MetricsSnapshot{
		SessionsCreated:     m.sessionsCreated,
		UploadFilesTotal:    m.uploadFilesTotal,
		UploadBytesTotal:    m.uploadBytesTotal,
		UploadAvgDurationMs: avgDuration(m.uploadDurationTotal, m.sessionsCreated),
		UploadErrors:        errs,
		FileDownloads:       m.fileDownloads,
		FileDownloadBytes:   m.fileDownloadBytes,
		ArchiveDownloads:    m.archiveDownloads,
		ArchiveBytesTotal:   m.archiveBytesTotal,
		ArchiveAvgBuildMs:   avgDuration(m.archiveBuildTotal, m.archiveDownloads),
		DownloadNotFound:    m.downloadNotFound,
		SessionsDeleted:     m.sessionsDeleted,
		DeleteRejected:      m.deleteRejected,
		SessionsReaped:      m.sessionsReaped,
		ReaperRetries:       m.reaperRetries,
		MirrorFailures:      m.mirrorFailures,
		AuditWriteFailures:  m.auditWriteFailures,
		WebhookFailures:     m.webhookFailures,
		RequestsTotal:       m.requestsTotal,
		RequestErrors5xx:    m.requestErrors5xx,
		RequestErrors4xx:    m.requestErrors4xx,
	}
}

// MetricsSnapshot is a copy of Metrics safe to read without locking.
type MetricsSnapshot struct {
	SessionsCreated     int64            `json:"sessions_created_total"`
	UploadFilesTotal    int64            `json:"upload_files_total"`
	UploadBytesTotal    int64            `json:"upload_bytes_total"`
	UploadAvgDurationMs float64          `json:"upload_avg_duration_ms"`
	UploadErrors        map[string]int64 `json:"upload_errors"`

	FileDownloads     int64   `json:"file_downloads_total"`
	FileDownloadBytes int64   `json:"file_download_bytes_total"`
	ArchiveDownloads  int64   `json:"archive_downloads_total"`
	ArchiveBytesTotal int64   `json:"archive_bytes_total"`
	ArchiveAvgBuildMs float64 `json:"archive_avg_build_ms"`
	DownloadNotFound  int64   `json:"download_not_found_total"`

	SessionsDeleted    int64 `json:"sessions_deleted_total"`
	DeleteRejected     int64 `json:"delete_rejected_total"`
	SessionsReaped     int64 `json:"sessions_reaped_total"`
	ReaperRetries      int64 `json:"reaper_retries_total"`
	MirrorFailures     int64 `json:"mirror_failures_total"`
	AuditWriteFailures int64 `json:"audit_write_failures_total"`
	WebhookFailures    int64 `json:"webhook_failures_total"`

	RequestsTotal    int64 `json:"requests_total"`
	RequestErrors5xx int64 `json:"request_errors_5xx"`
	RequestErrors4xx int64 `json:"request_errors_4xx"`
}

func avgDuration(total time.Duration, count int64) float64 {
	if count == 0 {
		return 0
	}
	return float64(total.Milliseconds()) / float64(count)
}
