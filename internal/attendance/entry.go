package attendance

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/interntrack/attendance/internal/qrtoken"
)

// Type is the channel an attendance entry was recorded through.
type Type string

const (
	Manual    Type = "manual"
	MeetingQR Type = "meeting_qr"
	DailyQR   Type = "daily_qr"
)

// Status is the attendance outcome for a day.
type Status string

const (
	Present Status = "present"
	Absent  Status = "absent"
)

// markedBy values.
const (
	MarkedByAdmin    = "admin"
	MarkedByExternal = "external_system"
)

var (
	ErrInvalidType   = errors.New("attendance: invalid attendance type")
	ErrInvalidStatus = errors.New("attendance: invalid attendance status")
	ErrInvalidDate   = errors.New("attendance: invalid date")
)

// ParseType maps a wire string onto a Type.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case Manual, MeetingQR, DailyQR:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
}

// ParseStatus maps a wire string onto a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case Present, Absent:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// TypeForKind returns the entry type awarded by a token kind.
func TypeForKind(k qrtoken.Kind) Type {
	if k == qrtoken.MeetingAttendance {
		return MeetingQR
	}
	return DailyQR
}

// Entry is one attendance fact. At most one entry exists per (Date, Type).
type Entry struct {
	Date       civil.Date `json:"date"`
	Type       Type       `json:"type"`
	Status     Status     `json:"status"`
	TimeMarked time.Time  `json:"time_marked"`
	MarkedBy   string     `json:"marked_by"`
	SessionID  string     `json:"session_id,omitempty"`
}

// Profile holds the roster-owned fields of an intern.
type Profile struct {
	ExternalID     string     `json:"external_id"`
	Name           string     `json:"name"`
	Specialization string     `json:"specialization"`
	Institute      string     `json:"institute"`
	StartDate      civil.Date `json:"start_date"`
	EndDate        civil.Date `json:"end_date"`
	Email          string     `json:"email"`
	HomeAddress    string     `json:"home_address"`
}

// Intern is the locally stored intern record. Team and Attendance are
// owned locally and never taken from the roster.
type Intern struct {
	ID string `json:"id"`
	Profile
	Team       string    `json:"team"`
	Attendance []Entry   `json:"attendance"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Clone deep-copies the intern.
func (i Intern) Clone() Intern {
	c := i
	if i.Attendance != nil {
		c.Attendance = append([]Entry(nil), i.Attendance...)
	}
	return c
}
