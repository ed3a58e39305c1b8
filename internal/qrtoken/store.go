package qrtoken

import (
	"sync"
	"time"
)

// Store is the in-memory registry of active tokens. One instance is created
// per process and shared by the issuer and verifier. Expired entries are
// removed lazily by Sweep.
type Store struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{tokens: make(map[string]*Token)}
}

// Put inserts or overwrites a token by id.
func (s *Store) Put(t Token) {
	c := t.Clone()
	s.mu.Lock()
	s.tokens[t.ID] = &c
	s.mu.Unlock()
}

// Get returns a copy of the token. Expiry is not checked.
func (s *Store) Get(id string) (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return Token{}, false
	}
	return t.Clone(), true
}

// Sweep removes tokens whose expiry is before now and returns how many were dropped.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now)
}

func (s *Store) sweepLocked(now time.Time) int {
	removed := 0
	for id, t := range s.tokens {
		if t.ExpiresAt.Before(now) {
			delete(s.tokens, id)
			removed++
		}
	}
	return removed
}

// Latest returns the most recently issued token of kind that is still usable at now.
func (s *Store) Latest(kind Kind, now time.Time) (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)

	var best *Token
	for _, t := range s.tokens {
		if t.Kind != kind || t.Expired(now) {
			continue
		}
		if best == nil || t.IssuedAt.After(best.IssuedAt) ||
			(t.IssuedAt.Equal(best.IssuedAt) && t.ID > best.ID) {
			best = t
		}
	}
	if best == nil {
		return Token{}, false
	}
	return best.Clone(), true
}

// Len returns the number of tokens currently held, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// update runs fn on the stored token while holding the store lock.
func (s *Store) update(id string, fn func(t *Token) (remove bool, err error)) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return Token{}, ErrTokenNotFound
	}
	remove, err := fn(t)
	if remove {
		delete(s.tokens, id)
	}
	if err != nil {
		return Token{}, err
	}
	return t.Clone(), nil
}
