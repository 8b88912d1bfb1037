package sessions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomString(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		s, err := RandomString(DefaultTokenLength)
		require.NoError(t, err)
		assert.Len(t, s, DefaultTokenLength)
		assert.True(t, isToken(s), "unexpected character in %q", s)
		assert.False(t, seen[s], "duplicate token %q", s)
		seen[s] = true
	}
}

func TestIsToken(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"abcXYZ019", true},
		{"", false},
		{"..", false},
		{"abc/def", false},
		{"abc-def", false},
		{".token", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isToken(tt.in), tt.in)
	}
}
