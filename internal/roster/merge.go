// Package roster reconciles the external trainee roster into local intern records.
package roster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/interntrack/attendance/internal/attendance"
	"github.com/interntrack/attendance/internal/metrics"
)

// ErrFieldMissing marks a roster record without external id, name or specialization.
var ErrFieldMissing = errors.New("roster: mandatory field missing")

// Store is the persistence collaborator used by the reconciler.
type Store interface {
	ListInterns(ctx context.Context) ([]attendance.Intern, error)
	CreateIntern(ctx context.Context, in *attendance.Intern) error
	UpdateProfile(ctx context.Context, id string, p attendance.Profile) error
}

// Result counts the outcome of one reconciliation.
type Result struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errored int `json:"errored"`
}

// Reconciler merges roster records into the local intern store.
type Reconciler struct {
	store   Store
	metrics metrics.Recorder
	log     *slog.Logger
}

// NewReconciler creates a reconciler. A nil recorder disables metrics.
func NewReconciler(store Store, rec metrics.Recorder, logger *slog.Logger) *Reconciler {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, metrics: rec, log: logger}
}

// Validate checks the mandatory fields of r.
func (r Record) Validate() error {
	var missing []string
	if r.ExternalID == "" {
		missing = append(missing, "external_id")
	}
	if r.Name == "" {
		missing = append(missing, "name")
	}
	if r.Specialization == "" {
		missing = append(missing, "specialization")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrFieldMissing, missing)
	}
	return nil
}

// Profile returns the roster-owned fields of r.
func (r Record) Profile() attendance.Profile {
	return attendance.Profile{
		ExternalID:     r.ExternalID,
		Name:           r.Name,
		Specialization: r.Specialization,
		Institute:      r.Institute,
		StartDate:      r.StartDate,
		EndDate:        r.EndDate,
		Email:          r.Email,
		HomeAddress:    r.HomeAddress,
	}
}

// Reconcile applies records to the store. Existing interns (matched by
// external id) get their roster fields overwritten; attendance and team are
// never written. Unknown interns are created with an empty ledger and no
// team. Per-record failures are counted, not returned; the error is only
// set when the local interns cannot be listed.
func (rc *Reconciler) Reconcile(ctx context.Context, records []Record) (Result, error) {
	res := Result{Total: len(records)}

	existing, err := rc.store.ListInterns(ctx)
	if err != nil {
		return res, fmt.Errorf("list interns: %w", err)
	}
	byExternal := make(map[string]string, len(existing))
	for _, in := range existing {
		if in.ExternalID != "" {
			byExternal[in.ExternalID] = in.ID
		}
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := rec.Validate(); err != nil {
			res.Skipped++
			rc.log.Warn("roster record skipped",
				slog.String("external_id", rec.ExternalID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if id, ok := byExternal[rec.ExternalID]; ok {
			if err := rc.store.UpdateProfile(ctx, id, rec.Profile()); err != nil {
				res.Errored++
				rc.log.Error("roster update failed",
					slog.String("external_id", rec.ExternalID),
					slog.String("intern_id", id),
					slog.String("error", err.Error()),
				)
				continue
			}
			res.Updated++
			continue
		}

		in := &attendance.Intern{Profile: rec.Profile(), Attendance: []attendance.Entry{}}
		if err := rc.store.CreateIntern(ctx, in); err != nil {
			res.Errored++
			rc.log.Error("roster create failed",
				slog.String("external_id", rec.ExternalID),
				slog.String("error", err.Error()),
			)
			continue
		}
		byExternal[rec.ExternalID] = in.ID
		res.Created++
	}

	rc.metrics.RosterSynced(res.Created, res.Updated, res.Skipped, res.Errored)
	rc.log.Info("roster reconciled",
		slog.Int("total", res.Total),
		slog.Int("created", res.Created),
		slog.Int("updated", res.Updated),
		slog.Int("skipped", res.Skipped),
		slog.Int("errored", res.Errored),
	)
	return res, nil
}
