package sessions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVerifier(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "owned", "right", time.Now().Add(time.Hour), nil)
	v := NewVerifier(store)

	tests := []struct {
		name    string
		id      string
		token   string
		wantErr error
	}{
		{"matching token", "owned", "right", nil},
		{"wrong token", "owned", "wrong", ErrForbidden},
		{"prefix of token", "owned", "rig", ErrForbidden},
		{"missing token", "owned", "", ErrMissingCredential},
		{"unknown session", "ghost", "right", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.id, tt.token)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				assert.True(t, v.IsOwner(tt.id, tt.token))
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, v.IsOwner(tt.id, tt.token))
		})
	}
}
