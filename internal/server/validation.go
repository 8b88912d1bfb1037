// validation.go - request header checks and download name sanitization
package server

import (
	"fmt"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxHeaderValue bounds session ids and tokens read from headers and cookies.
const maxHeaderValue = 256

// headerValue returns the named request header and whether it was sent.
// A present but empty header counts as sent.
func headerValue(r *http.Request, name string) (string, bool) {
	vals, ok := r.Header[http.CanonicalHeaderKey(name)]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// validSessionID rejects ids that could never name a session directory.
func validSessionID(id string) bool {
	if id == "" || len(id) > maxHeaderValue || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, "/\\\x00")
}

// SanitizeFilename makes a stored name safe to embed in a quoted
// Content-Disposition parameter.
func SanitizeFilename(filename string) string {
	filename = strings.Map(func(r rune) rune {
		switch {
		case r == '"' || r == '\\' || r == '/':
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, filename)

	filename = strings.Trim(filename, " ")

	for len(filename) > 255 {
		_, size := utf8.DecodeLastRuneInString(filename)
		filename = filename[:len(filename)-size]
	}

	if filename == "" {
		filename = "unnamed"
	}

	return filename
}

// attachment builds the Content-Disposition value for a download.
func attachment(filename string) string {
	return fmt.Sprintf("attachment; filename=%q", SanitizeFilename(filename))
}
