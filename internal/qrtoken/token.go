// Package qrtoken issues and verifies short-lived QR attendance session tokens.
//
// Tokens live only in process memory. A daily token is shown on a rotating
// display and expires after a few seconds; a meeting token carries a label
// and stays valid for the length of a short meeting. Each intern may consume
// a given token once.
package qrtoken

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind identifies what a token awards.
type Kind string

const (
	DailyAttendance   Kind = "daily"
	MeetingAttendance Kind = "meeting"
)

// Default lifetimes.
const (
	DefaultDailyTTL   = 30 * time.Second
	DefaultMeetingTTL = 10 * time.Minute
)

var (
	ErrTokenNotFound   = errors.New("qrtoken: token not found")
	ErrTokenExpired    = errors.New("qrtoken: token expired")
	ErrAlreadyConsumed = errors.New("qrtoken: token already consumed by intern")
	ErrInvalidRequest  = errors.New("qrtoken: token id and intern id required")
	ErrUnknownKind     = errors.New("qrtoken: unknown token kind")
)

// ParseKind maps a wire string onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case DailyAttendance, MeetingAttendance:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Token is an active QR session.
type Token struct {
	ID         string
	Kind       Kind
	Label      string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	ConsumedBy map[string]time.Time // intern id -> consume instant
}

// Expired reports whether the token can no longer be consumed at now.
func (t Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// ConsumedByIntern reports whether internID already used this token.
func (t Token) ConsumedByIntern(internID string) bool {
	_, ok := t.ConsumedBy[internID]
	return ok
}

// Clone returns a deep copy so callers never share the consumer set.
func (t Token) Clone() Token {
	c := t
	c.ConsumedBy = make(map[string]time.Time, len(t.ConsumedBy))
	for k, v := range t.ConsumedBy {
		c.ConsumedBy[k] = v
	}
	return c
}

type payload struct {
	SessionID string    `json:"session_id"`
	Kind      Kind      `json:"kind"`
	Label     string    `json:"label,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Payload is the string encoded into the scannable code.
func (t Token) Payload() string {
	b, _ := json.Marshal(payload{
		SessionID: t.ID,
		Kind:      t.Kind,
		Label:     t.Label,
		ExpiresAt: t.ExpiresAt.UTC(),
	})
	return string(b)
}

// SessionIDFromPayload accepts either a bare token id or a full payload and
// returns the token id.
func SessionIDFromPayload(s string) string {
	var p payload
	if err := json.Unmarshal([]byte(s), &p); err == nil && p.SessionID != "" {
		return p.SessionID
	}
	return s
}
