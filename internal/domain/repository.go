package domain

import "context"

// JobControlRepository persists transcription jobs.
type JobControlRepository interface {
	Create(ctx context.Context, in NewJobControl) (*JobControl, error)
	// UpdateStatus moves a job along the lifecycle. Re-applying the current
	// status is a no-op. Unknown jobs yield ErrNotFound.
	UpdateStatus(ctx context.Context, jobID string, status JobStatus) error
	// TransitionStatus behaves like UpdateStatus and additionally reports
	// whether this call changed the row.
	TransitionStatus(ctx context.Context, jobID string, status JobStatus) (bool, error)
	FindByJob(ctx context.Context, jobID string) (*JobControl, error)
	FindByMediaPackage(ctx context.Context, mediaPackageID string) ([]JobControl, error)
	FindByStatus(ctx context.Context, statuses ...JobStatus) ([]JobControl, error)
	Delete(ctx context.Context, jobID string) error
}

// ProviderRepository resolves provider names to stable ids.
type ProviderRepository interface {
	GetOrCreate(ctx context.Context, name string) (*Provider, error)
}
