package qrtoken

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/interntrack/attendance/internal/clock"
)

// TTLs holds per-kind token lifetimes.
type TTLs struct {
	Daily   time.Duration
	Meeting time.Duration
}

func (t TTLs) forKind(k Kind) time.Duration {
	if k == MeetingAttendance {
		if t.Meeting <= 0 {
			return DefaultMeetingTTL
		}
		return t.Meeting
	}
	if t.Daily <= 0 {
		return DefaultDailyTTL
	}
	return t.Daily
}

// Issuer mints tokens into a Store.
type Issuer struct {
	store *Store
	clock clock.Clock
	ttls  TTLs
}

// NewIssuer creates an issuer. Zero TTLs fall back to the defaults.
func NewIssuer(store *Store, c clock.Clock, ttls TTLs) *Issuer {
	return &Issuer{store: store, clock: c, ttls: ttls}
}

// IssueDaily mints a daily attendance token.
func (i *Issuer) IssueDaily() Token {
	return i.issue(DailyAttendance, "")
}

// IssueMeeting mints a meeting token carrying label verbatim.
func (i *Issuer) IssueMeeting(label string) Token {
	return i.issue(MeetingAttendance, label)
}

// Issue mints a token of the given kind. The label is dropped for daily tokens.
func (i *Issuer) Issue(kind Kind, label string) (Token, error) {
	switch kind {
	case DailyAttendance:
		return i.IssueDaily(), nil
	case MeetingAttendance:
		return i.IssueMeeting(label), nil
	}
	return Token{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func (i *Issuer) issue(kind Kind, label string) Token {
	now := i.clock.Now()
	i.store.Sweep(now)

	t := Token{
		ID:         newID(kind, now),
		Kind:       kind,
		Label:      label,
		IssuedAt:   now,
		ExpiresAt:  now.Add(i.ttls.forKind(kind)),
		ConsumedBy: map[string]time.Time{},
	}
	i.store.Put(t)
	return t
}

func newID(kind Kind, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s-%d-%s", kind, now.UnixMilli(), suffix)
}
