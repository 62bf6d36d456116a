package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"transcription/internal/domain"
	"transcription/internal/infra"
	"transcription/internal/sqlinline"
)

// JobControlRepositoryPG implements domain.JobControlRepository and
// domain.ProviderRepository on Postgres.
type JobControlRepositoryPG struct {
	sql infra.SQLExecutor
	now func() time.Time
}

// NewJobControlRepository creates a repository backed by the given executor.
func NewJobControlRepository(sql infra.SQLExecutor) *JobControlRepositoryPG {
	return &JobControlRepositoryPG{sql: sql, now: time.Now}
}

// WithClock overrides the clock used for date_created and date_completed.
func (r *JobControlRepositoryPG) WithClock(now func() time.Time) *JobControlRepositoryPG {
	r.now = now
	return r
}

// Migrate creates the transcription tables when missing.
func (r *JobControlRepositoryPG) Migrate(ctx context.Context) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QCreateTranscriptionSchema); err != nil {
		return &domain.StoreError{Op: "migrate", Err: err}
	}
	return nil
}

// GetOrCreate resolves a provider name, inserting it on first use. A
// concurrent insert of the same name resolves to the existing row.
func (r *JobControlRepositoryPG) GetOrCreate(ctx context.Context, name string) (*domain.Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: provider name is required", domain.ErrInvalidInput)
	}
	var p domain.Provider
	err := r.sql.QueryRow(ctx, sqlinline.QInsertProvider, name).Scan(&p.ID, &p.Name)
	switch {
	case err == nil:
		return &p, nil
	case infra.IsNoRows(err), infra.IsUniqueViolation(err):
		// already exists
	default:
		return nil, &domain.StoreError{Op: "create provider", Err: err}
	}
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectProviderByName, name).Scan(&p.ID, &p.Name); err != nil {
		if infra.IsNoRows(err) {
			return nil, &domain.StoreError{Op: "find provider", Err: domain.ErrNotFound}
		}
		return nil, &domain.StoreError{Op: "find provider", Err: err}
	}
	return &p, nil
}

func (r *JobControlRepositoryPG) Create(ctx context.Context, in domain.NewJobControl) (*domain.JobControl, error) {
	if in.JobID == "" || in.MediaPackageID == "" || in.TrackID == "" {
		return nil, fmt.Errorf("%w: job id, media package and track are required", domain.ErrInvalidInput)
	}
	status := in.Status
	if status == "" {
		status = domain.JobStatusProgress
	}
	provider, err := r.GetOrCreate(ctx, in.ProviderName)
	if err != nil {
		return nil, err
	}

	created := r.now().UTC()
	_, err = r.sql.Exec(ctx, sqlinline.QInsertJobControl,
		in.JobID,
		in.MediaPackageID,
		in.TrackID,
		string(status),
		in.TrackDuration.Milliseconds(),
		created,
		in.DateExpected,
		provider.ID,
	)
	if err != nil {
		if infra.IsUniqueViolation(err) {
			return nil, &domain.StoreError{Op: "create job", Err: fmt.Errorf("%w: %s", domain.ErrDuplicateJob, in.JobID)}
		}
		return nil, &domain.StoreError{Op: "create job", Err: err}
	}

	return &domain.JobControl{
		JobID:          in.JobID,
		MediaPackageID: in.MediaPackageID,
		TrackID:        in.TrackID,
		Status:         status,
		TrackDuration:  in.TrackDuration,
		DateCreated:    created,
		DateExpected:   in.DateExpected,
		ProviderID:     provider.ID,
		ProviderName:   provider.Name,
	}, nil
}

func (r *JobControlRepositoryPG) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	_, err := r.TransitionStatus(ctx, jobID, status)
	return err
}

func (r *JobControlRepositoryPG) TransitionStatus(ctx context.Context, jobID string, status domain.JobStatus) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("%w: status %q", domain.ErrInvalidInput, status)
	}
	from := statusNames(domain.Predecessors(status))
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateJobControlStatus, jobID, string(status), r.now().UTC(), from)
	if err != nil {
		return false, &domain.StoreError{Op: "update status", Err: err}
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var current string
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectJobControlStatus, jobID).Scan(&current); err != nil {
		if infra.IsNoRows(err) {
			return false, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
		}
		return false, &domain.StoreError{Op: "update status", Err: err}
	}
	if domain.JobStatus(current) == status {
		return false, nil
	}
	return false, fmt.Errorf("job %s %s -> %s: %w", jobID, current, status, domain.ErrInvalidTransition)
}

func (r *JobControlRepositoryPG) FindByJob(ctx context.Context, jobID string) (*domain.JobControl, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJobControlByJob, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
		}
		return nil, &domain.StoreError{Op: "find job", Err: err}
	}
	return job, nil
}

func (r *JobControlRepositoryPG) FindByMediaPackage(ctx context.Context, mediaPackageID string) ([]domain.JobControl, error) {
	return r.queryJobs(ctx, "find by media package", sqlinline.QSelectJobControlsByMediaPackage, mediaPackageID)
}

func (r *JobControlRepositoryPG) FindByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]domain.JobControl, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	return r.queryJobs(ctx, "find by status", sqlinline.QSelectJobControlsByStatus, statusNames(statuses))
}

func (r *JobControlRepositoryPG) Delete(ctx context.Context, jobID string) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QDeleteJobControl, jobID); err != nil {
		return &domain.StoreError{Op: "delete job", Err: err}
	}
	return nil
}

func (r *JobControlRepositoryPG) queryJobs(ctx context.Context, op, query string, args ...any) ([]domain.JobControl, error) {
	rows, err := r.sql.Query(ctx, query, args...)
	if err != nil {
		return nil, &domain.StoreError{Op: op, Err: err}
	}
	defer rows.Close()

	var jobs []domain.JobControl
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, &domain.StoreError{Op: op, Err: err}
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreError{Op: op, Err: err}
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (*domain.JobControl, error) {
	var (
		job        domain.JobControl
		status     string
		durationMs int64
	)
	if err := row.Scan(
		&job.JobID,
		&job.MediaPackageID,
		&job.TrackID,
		&status,
		&durationMs,
		&job.DateCreated,
		&job.DateExpected,
		&job.DateCompleted,
		&job.ProviderID,
		&job.ProviderName,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.TrackDuration = time.Duration(durationMs) * time.Millisecond
	return &job, nil
}

func statusNames(statuses []domain.JobStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

var (
	_ domain.JobControlRepository = (*JobControlRepositoryPG)(nil)
	_ domain.ProviderRepository   = (*JobControlRepositoryPG)(nil)
)
