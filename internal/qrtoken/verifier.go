package qrtoken

import "time"

// Verifier validates presented tokens and records who consumed them.
type Verifier struct {
	store *Store
}

// NewVerifier creates a verifier over store.
func NewVerifier(store *Store) *Verifier {
	return &Verifier{store: store}
}

// Consume marks tokenID as used by internID at now.
//
// Lookup, expiry check and the consumer-set update happen under the store
// lock, so two concurrent scans of the same token by the same intern cannot
// both succeed. An expired token is removed and reported as ErrTokenExpired
// regardless of who consumed it before.
func (v *Verifier) Consume(tokenID, internID string, now time.Time) (Token, error) {
	if tokenID == "" || internID == "" {
		return Token{}, ErrInvalidRequest
	}
	return v.store.update(tokenID, func(t *Token) (bool, error) {
		if t.Expired(now) {
			return true, ErrTokenExpired
		}
		if t.ConsumedByIntern(internID) {
			return false, ErrAlreadyConsumed
		}
		if t.ConsumedBy == nil {
			t.ConsumedBy = make(map[string]time.Time)
		}
		t.ConsumedBy[internID] = now
		return false, nil
	})
}
