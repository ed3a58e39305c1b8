package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"

	"github.com/interntrack/attendance/internal/clock"
	"github.com/interntrack/attendance/internal/metrics"
	"github.com/interntrack/attendance/internal/qrtoken"
	"github.com/interntrack/attendance/internal/queue"
)

// RetryMessageType tags queue messages carrying a Mark whose ledger write failed.
const RetryMessageType = "ledger_retry"

// DefaultMaxRetryAttempts bounds how often a queued mark is retried.
const DefaultMaxRetryAttempts = 5

var (
	ErrInternNotFound = errors.New("attendance: intern not found")
	// ErrLedgerWriteFailed means the token was consumed but no attendance was stored.
	ErrLedgerWriteFailed = errors.New("attendance: ledger write failed")
)

// LedgerWriteError carries the facts of a consumed scan whose ledger write
// failed. Retry by passing Mark to Service.Record; presenting the token again
// would be rejected as already consumed.
type LedgerWriteError struct {
	Mark Mark
	Err  error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("attendance: ledger write failed for intern %s session %s: %v", e.Mark.InternID, e.Mark.SessionID, e.Err)
}

func (e *LedgerWriteError) Unwrap() error { return e.Err }

func (e *LedgerWriteError) Is(target error) bool { return target == ErrLedgerWriteFailed }

// Mark is one attendance event for one intern.
type Mark struct {
	InternID   string     `json:"intern_id"`
	Date       civil.Date `json:"date"`
	Type       Type       `json:"type"`
	Status     Status     `json:"status"`
	TimeMarked time.Time  `json:"time_marked"`
	MarkedBy   string     `json:"marked_by"`
	SessionID  string     `json:"session_id,omitempty"`
}

func (m Mark) validate() error {
	if m.InternID == "" {
		return ErrInternNotFound
	}
	if !m.Date.IsValid() {
		return ErrInvalidDate
	}
	if _, err := ParseType(string(m.Type)); err != nil {
		return err
	}
	if _, err := ParseStatus(string(m.Status)); err != nil {
		return err
	}
	return nil
}

// ExternalMark is attendance pushed by an external system. Either InternID
// or ExternalID identifies the intern; Date wins over At when set.
type ExternalMark struct {
	InternID   string
	ExternalID string
	Date       civil.Date
	At         time.Time
	Type       Type
	Status     Status
}

// Repository is the persistence collaborator. ModifyAttendance must run fn
// as an isolated read-modify-write of one intern's ledger.
type Repository interface {
	GetIntern(ctx context.Context, id string) (*Intern, error)
	FindByExternalID(ctx context.Context, externalID string) (*Intern, error)
	ModifyAttendance(ctx context.Context, id string, fn func([]Entry) ([]Entry, error)) ([]Entry, error)
}

// Service records attendance from scans, administrators and external systems.
type Service struct {
	repo        Repository
	verifier    *qrtoken.Verifier
	clock       *clock.Provider
	retries     queue.Queue
	maxAttempts int
	metrics     metrics.Recorder
	log         *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRetryQueue hands failed scan writes to q.
func WithRetryQueue(q queue.Queue) Option {
	return func(s *Service) { s.retries = q }
}

// WithMaxRetryAttempts caps retries of a queued mark.
func WithMaxRetryAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(s *Service) { s.metrics = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a service.
func NewService(repo Repository, verifier *qrtoken.Verifier, clk *clock.Provider, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		verifier:    verifier,
		clock:       clk,
		maxAttempts: DefaultMaxRetryAttempts,
		metrics:     metrics.Nop{},
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan consumes tokenID on behalf of internID and records the attendance it awards.
//
// Consumption and the ledger write are two separate steps. If the write
// fails the returned error is a *LedgerWriteError and the mark has been
// queued for retry when a queue is configured.
func (s *Service) Scan(ctx context.Context, tokenID, internID string) (Mark, error) {
	if tokenID == "" || internID == "" {
		s.metrics.ScanResult("invalid")
		return Mark{}, qrtoken.ErrInvalidRequest
	}
	if _, err := s.repo.GetIntern(ctx, internID); err != nil {
		s.metrics.ScanResult("unknown_intern")
		return Mark{}, err
	}

	now := s.clock.Now()
	tok, err := s.verifier.Consume(tokenID, internID, now)
	if err != nil {
		s.metrics.ScanResult(scanResult(err))
		return Mark{}, err
	}

	mark := Mark{
		InternID:   internID,
		Date:       s.clock.DateOf(now),
		Type:       TypeForKind(tok.Kind),
		Status:     Present,
		TimeMarked: now,
		SessionID:  tok.ID,
	}
	if _, err := s.Record(ctx, mark); err != nil {
		s.metrics.ScanResult("ledger_failed")
		s.log.Error("ledger write failed after token consumption",
			slog.String("intern_id", internID),
			slog.String("session_id", tok.ID),
			slog.String("error", err.Error()),
		)
		s.enqueueRetry(ctx, mark, 1)
		return mark, &LedgerWriteError{Mark: mark, Err: err}
	}

	s.metrics.ScanResult("ok")
	s.log.Info("attendance scanned",
		slog.String("intern_id", internID),
		slog.String("session_id", tok.ID),
		slog.String("type", string(mark.Type)),
		slog.String("date", mark.Date.String()),
	)
	return mark, nil
}

func scanResult(err error) string {
	switch {
	case errors.Is(err, qrtoken.ErrTokenNotFound):
		return "not_found"
	case errors.Is(err, qrtoken.ErrTokenExpired):
		return "expired"
	case errors.Is(err, qrtoken.ErrAlreadyConsumed):
		return "already_consumed"
	}
	return "error"
}

// Record upserts m into the intern's ledger and returns the stored entry.
// It is also the retry path for a failed scan write.
func (s *Service) Record(ctx context.Context, m Mark) (Entry, error) {
	if err := m.validate(); err != nil {
		return Entry{}, err
	}

	var written Entry
	_, err := s.repo.ModifyAttendance(ctx, m.InternID, func(ledger []Entry) ([]Entry, error) {
		next := Upsert(ledger, m.Date, m.Type, m.Status, m.TimeMarked, m.MarkedBy, m.SessionID)
		written, _ = Find(next, m.Date, m.Type)
		return next, nil
	})
	s.metrics.LedgerWrite(string(m.Type), err)
	if err != nil {
		return Entry{}, fmt.Errorf("record %s attendance for %s: %w", m.Type, m.InternID, err)
	}
	return written, nil
}

// MarkManual records an administrator's Manual entry for date.
func (s *Service) MarkManual(ctx context.Context, internID string, date civil.Date, status Status) (Entry, error) {
	return s.Record(ctx, Mark{
		InternID:   internID,
		Date:       date,
		Type:       Manual,
		Status:     status,
		TimeMarked: s.clock.Now(),
		MarkedBy:   MarkedByAdmin,
	})
}

// CorrectDate applies a type-blind administrator correction to date.
// See UpsertByDateOnly for which entry is touched.
func (s *Service) CorrectDate(ctx context.Context, internID string, date civil.Date, status Status) (Entry, error) {
	if !date.IsValid() {
		return Entry{}, ErrInvalidDate
	}
	if _, err := ParseStatus(string(status)); err != nil {
		return Entry{}, err
	}

	now := s.clock.Now()
	var written Entry
	_, err := s.repo.ModifyAttendance(ctx, internID, func(ledger []Entry) ([]Entry, error) {
		next, matched := UpsertByDateOnly(ledger, date, status, now, MarkedByAdmin)
		if !matched {
			s.log.Info("date correction created manual entry",
				slog.String("intern_id", internID),
				slog.String("date", date.String()),
			)
		}
		written = ForDate(next, date)[0]
		return next, nil
	})
	s.metrics.LedgerWrite("correction", err)
	if err != nil {
		return Entry{}, fmt.Errorf("correct attendance for %s on %s: %w", internID, date, err)
	}
	return written, nil
}

// MarkExternal records attendance sourced from an external system.
func (s *Service) MarkExternal(ctx context.Context, em ExternalMark) (Entry, error) {
	if em.Type != DailyQR && em.Type != MeetingQR {
		return Entry{}, fmt.Errorf("%w: external marks must be %s or %s, got %q", ErrInvalidType, DailyQR, MeetingQR, em.Type)
	}

	internID := em.InternID
	if internID == "" {
		if em.ExternalID == "" {
			return Entry{}, ErrInternNotFound
		}
		in, err := s.repo.FindByExternalID(ctx, em.ExternalID)
		if err != nil {
			return Entry{}, err
		}
		internID = in.ID
	}

	at := em.At
	if at.IsZero() {
		at = s.clock.Now()
	}
	date := em.Date
	if !date.IsValid() {
		date = s.clock.DateOf(at)
	}

	return s.Record(ctx, Mark{
		InternID:   internID,
		Date:       date,
		Type:       em.Type,
		Status:     em.Status,
		TimeMarked: at,
		MarkedBy:   MarkedByExternal,
	})
}

// Ledger returns the intern's attendance entries.
func (s *Service) Ledger(ctx context.Context, internID string) ([]Entry, error) {
	in, err := s.repo.GetIntern(ctx, internID)
	if err != nil {
		return nil, err
	}
	return in.Attendance, nil
}

type retryEnvelope struct {
	Mark    Mark `json:"mark"`
	Attempt int  `json:"attempt"`
}

func (s *Service) enqueueRetry(ctx context.Context, m Mark, attempt int) {
	if s.retries == nil {
		return
	}
	body, err := json.Marshal(retryEnvelope{Mark: m, Attempt: attempt})
	if err != nil {
		s.log.Error("encode ledger retry", slog.String("error", err.Error()))
		return
	}
	// The request context may already be cancelled by the time the write fails.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.retries.Publish(pubCtx, queue.Message{Type: RetryMessageType, Body: body}); err != nil {
		s.log.Error("queue ledger retry",
			slog.String("intern_id", m.InternID),
			slog.String("session_id", m.SessionID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.metrics.LedgerRetryQueued()
}

// HandleRetry processes one retry message. A failed write is queued again
// until the attempt limit, after which the mark is logged and dropped.
func (s *Service) HandleRetry(ctx context.Context, msg queue.Message) error {
	if msg.Type != RetryMessageType {
		return nil
	}
	var env retryEnvelope
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		return fmt.Errorf("decode ledger retry: %w", err)
	}

	if _, err := s.Record(ctx, env.Mark); err != nil {
		if env.Attempt >= s.maxAttempts {
			s.log.Error("ledger retry abandoned",
				slog.String("intern_id", env.Mark.InternID),
				slog.String("session_id", env.Mark.SessionID),
				slog.Int("attempt", env.Attempt),
				slog.String("error", err.Error()),
			)
			return err
		}
		s.enqueueRetry(ctx, env.Mark, env.Attempt+1)
		return err
	}
	s.log.Info("ledger retry recorded",
		slog.String("intern_id", env.Mark.InternID),
		slog.String("session_id", env.Mark.SessionID),
		slog.Int("attempt", env.Attempt),
	)
	return nil
}

// ConsumeRetries drains the retry queue until ctx is done. A failed message
// pauses the loop for delay so requeued marks are not retried back to back.
func (s *Service) ConsumeRetries(ctx context.Context, delay time.Duration) error {
	if s.retries == nil {
		return errors.New("attendance: no retry queue configured")
	}
	messages, err := s.retries.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume ledger retries: %w", err)
	}
	for msg := range messages {
		if err := s.HandleRetry(ctx, msg); err != nil && delay > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
		}
	}
	return nil
}
