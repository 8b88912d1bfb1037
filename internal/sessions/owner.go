package sessions

import (
	"crypto/subtle"
	"fmt"
)

// Verifier decides whether a presented token owns a session. Delete,
// is-owner, info and the session page all go through it.
type Verifier struct {
	Store *Store
}

// NewVerifier returns a verifier backed by store.
func NewVerifier(store *Store) *Verifier {
	return &Verifier{Store: store}
}

// Verify returns nil when presented matches the stored owner token.
// An empty token is ErrMissingCredential, an unknown session ErrNotFound
// and a wrong token ErrForbidden.
func (v *Verifier) Verify(id, presented string) error {
	if presented == "" {
		return ErrMissingCredential
	}
	meta, err := v.Store.ReadMetadata(id)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(meta.Token), []byte(presented)) != 1 {
		return fmt.Errorf("%w: %s", ErrForbidden, id)
	}
	return nil
}

// IsOwner is the advisory form of Verify used for display decisions.
func (v *Verifier) IsOwner(id, presented string) bool {
	return v.Verify(id, presented) == nil
}
