package attendance

import (
	"time"

	"cloud.google.com/go/civil"
)

// Upsert records one attendance fact for (date, typ).
//
// An existing entry with the same civil date and type is overwritten in
// place and keeps its position; otherwise a new entry is appended. Entries of
// other types for the same date are never touched. The input slice is not
// modified.
func Upsert(ledger []Entry, date civil.Date, typ Type, status Status, timeMarked time.Time, markedBy, sessionID string) []Entry {
	out := make([]Entry, len(ledger), len(ledger)+1)
	copy(out, ledger)

	for i := range out {
		if out[i].Date == date && out[i].Type == typ {
			out[i].Status = status
			out[i].TimeMarked = timeMarked
			out[i].MarkedBy = markedBy
			out[i].SessionID = sessionID
			return out
		}
	}
	return append(out, Entry{
		Date:       date,
		Type:       typ,
		Status:     status,
		TimeMarked: timeMarked,
		MarkedBy:   markedBy,
		SessionID:  sessionID,
	})
}

// UpsertByDateOnly is the legacy administrator correction that ignores type.
//
// It updates the first entry for date whatever its type, leaving SessionID
// as it was. When the date has no entry a Manual one is appended. The bool
// reports whether an existing entry was matched.
func UpsertByDateOnly(ledger []Entry, date civil.Date, status Status, timeMarked time.Time, markedBy string) ([]Entry, bool) {
	out := make([]Entry, len(ledger), len(ledger)+1)
	copy(out, ledger)

	for i := range out {
		if out[i].Date == date {
			out[i].Status = status
			out[i].TimeMarked = timeMarked
			out[i].MarkedBy = markedBy
			return out, true
		}
	}
	return append(out, Entry{
		Date:       date,
		Type:       Manual,
		Status:     status,
		TimeMarked: timeMarked,
		MarkedBy:   markedBy,
	}), false
}

// Find returns the entry for (date, typ).
func Find(ledger []Entry, date civil.Date, typ Type) (Entry, bool) {
	for _, e := range ledger {
		if e.Date == date && e.Type == typ {
			return e, true
		}
	}
	return Entry{}, false
}

// ForDate returns every entry for date in ledger order.
func ForDate(ledger []Entry, date civil.Date) []Entry {
	var out []Entry
	for _, e := range ledger {
		if e.Date == date {
			out = append(out, e)
		}
	}
	return out
}
