// compression.go - gzip for text responses.
//
// Downloads stream files and archives as-is; only pages, listings, health
// and metrics output are compressed.
package server

import (
	"compress/gzip"
	"net/http"
	"strings"
	"sync"
)

var gzipPool = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

// compressionResponseWriter decides on the first write whether the body is
// worth compressing, based on the Content-Type the handler set.
type compressionResponseWriter struct {
	http.ResponseWriter
	gz      *gzip.Writer
	decided bool
}

func (crw *compressionResponseWriter) decide() {
	if crw.decided {
		return
	}
	crw.decided = true

	h := crw.Header()
	if h.Get("Content-Encoding") != "" || !compressibleType(h.Get("Content-Type")) {
		return
	}
	h.Set("Content-Encoding", "gzip")
	h.Del("Content-Length")
	crw.gz = gzipPool.Get().(*gzip.Writer)
	crw.gz.Reset(crw.ResponseWriter)
}

func (crw *compressionResponseWriter) WriteHeader(code int) {
	// Bodyless statuses must not carry a gzip stream.
	if code == http.StatusNoContent || code == http.StatusNotModified || code < 200 {
		crw.decided = true
	}
	crw.decide()
	crw.ResponseWriter.WriteHeader(code)
}

func (crw *compressionResponseWriter) Write(b []byte) (int, error) {
	if !crw.decided && crw.Header().Get("Content-Type") == "" {
		crw.Header().Set("Content-Type", http.DetectContentType(b))
	}
	crw.decide()
	if crw.gz != nil {
		return crw.gz.Write(b)
	}
	return crw.ResponseWriter.Write(b)
}

func (crw *compressionResponseWriter) close() {
	if crw.gz == nil {
		return
	}
	_ = crw.gz.Close()
	crw.gz.Reset(nil)
	gzipPool.Put(crw.gz)
	crw.gz = nil
}

// CompressionMiddleware gzips text responses for clients that accept it.
func CompressionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !acceptsCompression(r) || shouldSkipCompression(r) {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Add("Vary", "Accept-Encoding")
		crw := &compressionResponseWriter{ResponseWriter: w}
		defer crw.close()

		next.ServeHTTP(crw, r)
	})
}

// acceptsCompression checks if the client accepts gzip encoding.
func acceptsCompression(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

// shouldSkipCompression excludes file and archive downloads, HEAD
// requests and upload responses.
func shouldSkipCompression(r *http.Request) bool {
	if r.Method == http.MethodHead {
		return true
	}
	path := r.URL.Path
	return strings.HasPrefix(path, "/download/") || path == "/upload"
}

func compressibleType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.HasPrefix(ct, "text/") ||
		strings.HasPrefix(ct, "application/json")
}
