package attendance

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps interns in process memory. It backs STORE_BACKEND=memory
// and the tests. Each intern's ledger is modified under one mutex.
type MemoryRepository struct {
	mu      sync.Mutex
	interns map[string]*Intern
	now     func() time.Time
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		interns: make(map[string]*Intern),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) GetIntern(_ context.Context, id string) (*Intern, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.interns[id]
	if !ok {
		return nil, ErrInternNotFound
	}
	c := in.Clone()
	return &c, nil
}

func (r *MemoryRepository) FindByExternalID(_ context.Context, externalID string) (*Intern, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, in := range r.interns {
		if externalID != "" && in.ExternalID == externalID {
			c := in.Clone()
			return &c, nil
		}
	}
	return nil, ErrInternNotFound
}

func (r *MemoryRepository) ListInterns(_ context.Context) ([]Intern, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]Intern, 0, len(r.interns))
	for _, in := range r.interns {
		res = append(res, in.Clone())
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Name != res[j].Name {
			return res[i].Name < res[j].Name
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

func (r *MemoryRepository) CreateIntern(_ context.Context, in *Intern) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	now := r.now()
	in.CreatedAt, in.UpdatedAt = now, now
	c := in.Clone()
	r.interns[in.ID] = &c
	return nil
}

func (r *MemoryRepository) UpdateProfile(_ context.Context, id string, p Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.interns[id]
	if !ok {
		return ErrInternNotFound
	}
	in.Profile = p
	in.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) ModifyAttendance(_ context.Context, id string, fn func([]Entry) ([]Entry, error)) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.interns[id]
	if !ok {
		return nil, ErrInternNotFound
	}
	next, err := fn(append([]Entry(nil), in.Attendance...))
	if err != nil {
		return nil, err
	}
	in.Attendance = append([]Entry(nil), next...)
	in.UpdatedAt = r.now()
	return next, nil
}

func (r *MemoryRepository) SetTeam(_ context.Context, id, team string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.interns[id]
	if !ok {
		return ErrInternNotFound
	}
	in.Team = strings.TrimSpace(team)
	in.UpdatedAt = r.now()
	return nil
}
