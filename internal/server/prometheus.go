// prometheus.go - Prometheus text exporter for the in-process counters.
package server

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// PrometheusExporter renders Metrics in the Prometheus text format.
type PrometheusExporter struct {
	version string
	// activeSessions reports the current number of session directories.
	activeSessions func() (int, error)
}

// NewPrometheusExporter creates an exporter. activeSessions may be nil.
func NewPrometheusExporter(version string, activeSessions func() (int, error)) *PrometheusExporter {
	return &PrometheusExporter{version: version, activeSessions: activeSessions}
}

// Handler serves GET /metrics.
func (p *PrometheusExporter) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var out strings.Builder
		p.write(&out, GetMetrics().Snapshot())

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, out.String())
	}
}

func (p *PrometheusExporter) write(out *strings.Builder, s MetricsSnapshot) {
	gauge(out, "edrop_info", "Application version info")
	fmt.Fprintf(out, "edrop_info{version=\"%s\"} 1\n\n", prometheusLabel(p.version))

	counter(out, "edrop_requests_total", "Total number of HTTP requests", s.RequestsTotal)
	counter(out, "edrop_request_errors_4xx_total", "HTTP responses with a 4xx status", s.RequestErrors4xx)
	counter(out, "edrop_request_errors_5xx_total", "HTTP responses with a 5xx status", s.RequestErrors5xx)

	counter(out, "edrop_sessions_created_total", "Sessions created by upload", s.SessionsCreated)
	counter(out, "edrop_upload_files_total", "Files stored by upload", s.UploadFilesTotal)
	counter(out, "edrop_upload_bytes_total", "Bytes stored by upload", s.UploadBytesTotal)

	header(out, "edrop_upload_errors_total", "Rejected uploads by reason", "counter")
	kinds := make([]string, 0, len(s.UploadErrors))
	for k := range s.UploadErrors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(out, "edrop_upload_errors_total{reason=\"%s\"} %d\n", prometheusLabel(k), s.UploadErrors[k])
	}
	out.WriteString("\n")

	counter(out, "edrop_file_downloads_total", "Single file downloads", s.FileDownloads)
	counter(out, "edrop_file_download_bytes_total", "Bytes served by single file downloads", s.FileDownloadBytes)
	counter(out, "edrop_archive_downloads_total", "Zip archive downloads", s.ArchiveDownloads)
	counter(out, "edrop_archive_bytes_total", "Bytes served as zip archives", s.ArchiveBytesTotal)
	counter(out, "edrop_download_not_found_total", "Downloads of unknown sessions or files", s.DownloadNotFound)

	counter(out, "edrop_sessions_deleted_total", "Sessions deleted by their owner", s.SessionsDeleted)
	counter(out, "edrop_delete_rejected_total", "Delete requests refused", s.DeleteRejected)
	counter(out, "edrop_sessions_reaped_total", "Expired sessions removed by the reaper", s.SessionsReaped)
	counter(out, "edrop_reaper_retries_total", "Failed reaper deletions that were retried", s.ReaperRetries)
	counter(out, "edrop_mirror_failures_total", "Failed object storage mirror operations", s.MirrorFailures)
	counter(out, "edrop_audit_write_failures_total", "Failed audit log writes", s.AuditWriteFailures)
	counter(out, "edrop_webhook_failures_total", "Webhook deliveries that exhausted their retries", s.WebhookFailures)

	if p.activeSessions != nil {
		if n, err := p.activeSessions(); err == nil {
			gauge(out, "edrop_active_sessions", "Session directories currently on disk")
			fmt.Fprintf(out, "edrop_active_sessions %d\n\n", n)
		}
	}

	const name = "edrop_request_duration_ms"
	header(out, name, "Request duration percentiles over recent requests", "gauge")
	for _, class := range []string{"upload", "download", "api"} {
		p50, p95, p99 := GetRequestDurationPercentiles(class)
		fmt.Fprintf(out, "%s{class=\"%s\",quantile=\"0.5\"} %.0f\n", name, class, p50)
		fmt.Fprintf(out, "%s{class=\"%s\",quantile=\"0.95\"} %.0f\n", name, class, p95)
		fmt.Fprintf(out, "%s{class=\"%s\",quantile=\"0.99\"} %.0f\n", name, class, p99)
	}
	out.WriteString("\n")

	header(out, "edrop_uptime_seconds", "Application uptime in seconds", "counter")
	fmt.Fprintf(out, "edrop_uptime_seconds %.0f\n", time.Since(serverStartTime).Seconds())
}

func header(out *strings.Builder, name, help, typ string) {
	fmt.Fprintf(out, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, typ)
}

func gauge(out *strings.Builder, name, help string) {
	header(out, name, help, "gauge")
}

func counter(out *strings.Builder, name, help string, v int64) {
	header(out, name, help, "counter")
	fmt.Fprintf(out, "%s %d\n\n", name, v)
}

// prometheusLabel escapes a label value.
func prometheusLabel(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "\\n")
	return value
}

// requestDurations keeps a bounded window of samples per route class.
type requestDurations struct {
	mu      sync.Mutex
	samples map[string][]float64
}

const maxDurationSamples = 1000

var (
	durations       = &requestDurations{samples: make(map[string][]float64)}
	serverStartTime = time.Now()
)

// RecordRequestDuration records one request duration in milliseconds.
func RecordRequestDuration(class string, ms float64) {
	durations.mu.Lock()
	defer durations.mu.Unlock()

	s := append(durations.samples[class], ms)
	if len(s) > maxDurationSamples {
		s = s[len(s)-maxDurationSamples:]
	}
	durations.samples[class] = s
}

// GetRequestDurationPercentiles returns p50, p95 and p99 for class.
func GetRequestDurationPercentiles(class string) (p50, p95, p99 float64) {
	durations.mu.Lock()
	sorted := append([]float64(nil), durations.samples[class]...)
	durations.mu.Unlock()

	if len(sorted) == 0 {
		return 0, 0, 0
	}
	sort.Float64s(sorted)
	at := func(pct int) float64 { return sorted[len(sorted)*pct/100] }
	return at(50), at(95), at(99)
}
