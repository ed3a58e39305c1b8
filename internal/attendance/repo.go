package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// PostgresRepository persists interns and their ledgers in Postgres.
// The ledger lives in a JSONB column so a single row update keeps it consistent.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const internColumns = `id, external_id, name, specialization, institute, start_date, end_date,
	email, home_address, team, attendance, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntern(row rowScanner) (*Intern, error) {
	var (
		in         Intern
		externalID sql.NullString
		start, end sql.NullTime
		ledger     []byte
	)
	if err := row.Scan(&in.ID, &externalID, &in.Name, &in.Specialization, &in.Institute, &start, &end,
		&in.Email, &in.HomeAddress, &in.Team, &ledger, &in.CreatedAt, &in.UpdatedAt); err != nil {
		return nil, err
	}
	in.ExternalID = externalID.String
	if start.Valid {
		in.StartDate = civil.DateOf(start.Time)
	}
	if end.Valid {
		in.EndDate = civil.DateOf(end.Time)
	}
	entries, err := decodeLedger(ledger)
	if err != nil {
		return nil, fmt.Errorf("decode attendance for %s: %w", in.ID, err)
	}
	in.Attendance = entries
	return &in, nil
}

func decodeLedger(raw []byte) ([]Entry, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func encodeLedger(entries []Entry) (string, error) {
	if entries == nil {
		entries = []Entry{}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func dateArg(d civil.Date) any {
	if !d.IsValid() {
		return nil
	}
	return d.In(time.UTC)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetIntern returns one intern by id.
func (r *PostgresRepository) GetIntern(ctx context.Context, id string) (*Intern, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+internColumns+` FROM interns WHERE id = $1`, id)
	in, err := scanIntern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInternNotFound
	}
	return in, err
}

// FindByExternalID returns the intern linked to a roster id.
func (r *PostgresRepository) FindByExternalID(ctx context.Context, externalID string) (*Intern, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+internColumns+` FROM interns WHERE external_id = $1`, externalID)
	in, err := scanIntern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInternNotFound
	}
	return in, err
}

// ListInterns returns every intern ordered by name.
func (r *PostgresRepository) ListInterns(ctx context.Context) ([]Intern, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+internColumns+` FROM interns ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Intern
	for rows.Next() {
		in, err := scanIntern(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *in)
	}
	return res, rows.Err()
}

// CreateIntern inserts a new intern. ID and timestamps are filled when empty.
func (r *PostgresRepository) CreateIntern(ctx context.Context, in *Intern) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	ledger, err := encodeLedger(in.Attendance)
	if err != nil {
		return err
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO interns (id, external_id, name, specialization, institute, start_date, end_date,
			email, home_address, team, attendance)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::jsonb)
		RETURNING created_at, updated_at
	`, in.ID, nullString(in.ExternalID), in.Name, in.Specialization, in.Institute,
		dateArg(in.StartDate), dateArg(in.EndDate), in.Email, in.HomeAddress, in.Team, ledger)
	return row.Scan(&in.CreatedAt, &in.UpdatedAt)
}

// UpdateProfile overwrites roster-owned columns only. Team and attendance are not written.
func (r *PostgresRepository) UpdateProfile(ctx context.Context, id string, p Profile) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE interns
		SET external_id = $2, name = $3, specialization = $4, institute = $5,
			start_date = $6, end_date = $7, email = $8, home_address = $9, updated_at = NOW()
		WHERE id = $1
	`, id, nullString(p.ExternalID), p.Name, p.Specialization, p.Institute,
		dateArg(p.StartDate), dateArg(p.EndDate), p.Email, p.HomeAddress)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrInternNotFound
	}
	return nil
}

// ModifyAttendance locks the intern row, applies fn to its ledger and saves
// the result in the same transaction.
func (r *PostgresRepository) ModifyAttendance(ctx context.Context, id string, fn func([]Entry) ([]Entry, error)) ([]Entry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var raw []byte
	err = tx.QueryRowContext(ctx, `SELECT attendance FROM interns WHERE id = $1 FOR UPDATE`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInternNotFound
	}
	if err != nil {
		return nil, err
	}
	current, err := decodeLedger(raw)
	if err != nil {
		return nil, fmt.Errorf("decode attendance for %s: %w", id, err)
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	encoded, err := encodeLedger(next)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE interns SET attendance = $2::jsonb, updated_at = NOW() WHERE id = $1
	`, id, encoded); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}

// SetTeam assigns the locally owned team.
func (r *PostgresRepository) SetTeam(ctx context.Context, id, team string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE interns SET team = $2, updated_at = NOW() WHERE id = $1`, id, strings.TrimSpace(team))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrInternNotFound
	}
	return nil
}
