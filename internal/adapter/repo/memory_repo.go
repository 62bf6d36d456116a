package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"transcription/internal/domain"
)

// MemoryJobControlRepository keeps jobs and providers in process memory. It is
// safe for concurrent use and intended for development and tests.
type MemoryJobControlRepository struct {
	mu sync.RWMutex

	jobs      map[string]domain.JobControl
	providers map[string]domain.Provider
	nextID    int64
	now       func() time.Time
}

// NewMemoryJobControlRepository returns an empty store.
func NewMemoryJobControlRepository() *MemoryJobControlRepository {
	return &MemoryJobControlRepository{
		jobs:      make(map[string]domain.JobControl),
		providers: make(map[string]domain.Provider),
		now:       time.Now,
	}
}

// WithClock overrides the clock used for date_created and date_completed.
func (m *MemoryJobControlRepository) WithClock(now func() time.Time) *MemoryJobControlRepository {
	m.now = now
	return m
}

// Migrate is a no-op for the memory store.
func (m *MemoryJobControlRepository) Migrate(context.Context) error { return nil }

func (m *MemoryJobControlRepository) GetOrCreate(_ context.Context, name string) (*domain.Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: provider name is required", domain.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.providerLocked(name)
	return &p, nil
}

func (m *MemoryJobControlRepository) providerLocked(name string) domain.Provider {
	if p, ok := m.providers[name]; ok {
		return p
	}
	m.nextID++
	p := domain.Provider{ID: m.nextID, Name: name}
	m.providers[name] = p
	return p
}

func (m *MemoryJobControlRepository) Create(_ context.Context, in domain.NewJobControl) (*domain.JobControl, error) {
	if in.JobID == "" || in.MediaPackageID == "" || in.TrackID == "" {
		return nil, fmt.Errorf("%w: job id, media package and track are required", domain.ErrInvalidInput)
	}
	if in.ProviderName == "" {
		return nil, fmt.Errorf("%w: provider name is required", domain.ErrInvalidInput)
	}
	status := in.Status
	if status == "" {
		status = domain.JobStatusProgress
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[in.JobID]; exists {
		return nil, &domain.StoreError{Op: "create job", Err: fmt.Errorf("%w: %s", domain.ErrDuplicateJob, in.JobID)}
	}
	p := m.providerLocked(in.ProviderName)
	job := domain.JobControl{
		JobID:          in.JobID,
		MediaPackageID: in.MediaPackageID,
		TrackID:        in.TrackID,
		Status:         status,
		TrackDuration:  in.TrackDuration,
		DateCreated:    m.now().UTC(),
		DateExpected:   copyTime(in.DateExpected),
		ProviderID:     p.ID,
		ProviderName:   p.Name,
	}
	m.jobs[in.JobID] = job
	out := cloneJob(job)
	return &out, nil
}

func (m *MemoryJobControlRepository) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	_, err := m.TransitionStatus(ctx, jobID, status)
	return err
}

func (m *MemoryJobControlRepository) TransitionStatus(_ context.Context, jobID string, status domain.JobStatus) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("%w: status %q", domain.ErrInvalidInput, status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return false, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	if job.Status == status {
		return false, nil
	}
	if !domain.CanTransition(job.Status, status) {
		return false, fmt.Errorf("job %s %s -> %s: %w", jobID, job.Status, status, domain.ErrInvalidTransition)
	}
	job.Status = status
	if status == domain.JobStatusTranscriptionComplete && job.DateCompleted == nil {
		now := m.now().UTC()
		job.DateCompleted = &now
	}
	m.jobs[jobID] = job
	return true, nil
}

func (m *MemoryJobControlRepository) FindByJob(_ context.Context, jobID string) (*domain.JobControl, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	out := cloneJob(job)
	return &out, nil
}

func (m *MemoryJobControlRepository) FindByMediaPackage(_ context.Context, mediaPackageID string) ([]domain.JobControl, error) {
	return m.filter(func(j domain.JobControl) bool { return j.MediaPackageID == mediaPackageID }), nil
}

func (m *MemoryJobControlRepository) FindByStatus(_ context.Context, statuses ...domain.JobStatus) ([]domain.JobControl, error) {
	want := make(map[domain.JobStatus]struct{}, len(statuses))
	for _, s := range statuses {
		want[s] = struct{}{}
	}
	return m.filter(func(j domain.JobControl) bool {
		_, ok := want[j.Status]
		return ok
	}), nil
}

func (m *MemoryJobControlRepository) Delete(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

// filter returns a snapshot; callers may mutate the result freely.
func (m *MemoryJobControlRepository) filter(keep func(domain.JobControl) bool) []domain.JobControl {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.JobControl
	for _, j := range m.jobs {
		if keep(j) {
			out = append(out, cloneJob(j))
		}
	}
	return out
}

func cloneJob(j domain.JobControl) domain.JobControl {
	j.DateExpected = copyTime(j.DateExpected)
	j.DateCompleted = copyTime(j.DateCompleted)
	return j
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

var (
	_ domain.JobControlRepository = (*MemoryJobControlRepository)(nil)
	_ domain.ProviderRepository   = (*MemoryJobControlRepository)(nil)
)
