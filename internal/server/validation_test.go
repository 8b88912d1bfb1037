package server

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{`say "hi".txt`, "say _hi_.txt"},
		{`back\slash`, "back_slash"},
		{"line\nbreak\r.txt", "linebreak.txt"},
		{"  padded  ", "padded"},
		{"", "unnamed"},
		{"\x00\x01", "unnamed"},
		{"résumé.doc", "résumé.doc"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeFilename_TruncatesOnRuneBoundary(t *testing.T) {
	name := strings.Repeat("é", 200) // 400 bytes
	got := SanitizeFilename(name)
	if len(got) > 255 {
		t.Errorf("len = %d, want <= 255", len(got))
	}
	if !strings.HasPrefix(name, got) || strings.ContainsRune(got, '�') {
		t.Errorf("truncation split a rune: %q", got)
	}
}

func TestAttachment(t *testing.T) {
	if got := attachment("a.txt"); got != `attachment; filename="a.txt"` {
		t.Errorf("attachment = %q", got)
	}
	if got := attachment(`x".zip`); got != `attachment; filename="x_.zip"` {
		t.Errorf("attachment = %q", got)
	}
}

func TestHeaderValue(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("token", "")
	req.Header.Set("session", "abc")

	if v, ok := headerValue(req, "session"); !ok || v != "abc" {
		t.Errorf("session = %q, %v", v, ok)
	}
	if v, ok := headerValue(req, "token"); !ok || v != "" {
		t.Errorf("empty token = %q, %v; want present", v, ok)
	}
	if _, ok := headerValue(req, "expiration"); ok {
		t.Error("absent header reported present")
	}
}

func TestValidSessionID(t *testing.T) {
	for id, want := range map[string]bool{
		"abc123":             true,
		"":                   false,
		"..":                 false,
		"a/b":                false,
		strings.Repeat("a", 300): false,
	} {
		if got := validSessionID(id); got != want {
			t.Errorf("validSessionID(%q) = %v, want %v", id, got, want)
		}
	}
}
