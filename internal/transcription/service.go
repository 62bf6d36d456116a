package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"transcription/internal/dispatch"
	"transcription/internal/domain"
	"transcription/internal/notify"
	"transcription/internal/scheduler"
	"transcription/pkg/zip"
)

// Config controls submission defaults and the background workers.
type Config struct {
	Enabled              bool
	ProviderName         string
	Language             string
	DispatchInterval     time.Duration
	DispatchInitialDelay time.Duration
	Dispatch             dispatch.Config
	CleanupRetentionDays int
	CleanupSchedule      string
}

type Deps struct {
	Jobs      domain.JobControlRepository
	Provider  domain.ProviderClient
	Engine    domain.WorkflowEngine
	Artifacts domain.ArtifactStore
	Notifier  domain.Notifier
}

// Service is the host-facing entry point: it accepts submissions and
// provider callbacks, answers queries and owns the dispatch and cleanup
// workers.
type Service struct {
	deps       Deps
	cfg        Config
	logger     zerolog.Logger
	now        func() time.Time
	dispatcher *dispatch.Dispatcher
	sweeper    *dispatch.Sweeper
	cleanup    scheduler.Schedule
	scheduler  *scheduler.Scheduler
}

func NewService(deps Deps, cfg Config, logger zerolog.Logger) (*Service, error) {
	if deps.Jobs == nil || deps.Provider == nil || deps.Engine == nil || deps.Artifacts == nil || deps.Notifier == nil {
		return nil, errors.New("transcription: all collaborators are required")
	}
	if cfg.ProviderName == "" {
		return nil, errors.New("transcription: provider name is required")
	}
	if cfg.CleanupSchedule == "" {
		cfg.CleanupSchedule = "@every 24h"
	}
	cleanup, err := scheduler.ParseSchedule(cfg.CleanupSchedule)
	if err != nil {
		return nil, err
	}
	logger = logger.With().Str("component", "transcription").Logger()
	return &Service{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		dispatcher: dispatch.New(dispatch.Deps{
			Jobs:      deps.Jobs,
			Provider:  deps.Provider,
			Engine:    deps.Engine,
			Artifacts: deps.Artifacts,
			Notifier:  deps.Notifier,
		}, cfg.Dispatch, logger),
		sweeper:   dispatch.NewSweeper(deps.Artifacts, cfg.CleanupRetentionDays, logger),
		cleanup:   cleanup,
		scheduler: scheduler.New(logger),
	}, nil
}

// WithClock overrides the clock used by the service and its dispatcher.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.dispatcher.WithClock(now)
	return s
}

func (s *Service) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

func (s *Service) Sweeper() *dispatch.Sweeper { return s.sweeper }

// Start schedules the dispatch cycle at a fixed delay after an initial delay,
// and the cleanup sweep on its cron schedule.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Info().Msg("transcription: service disabled, workers not scheduled")
		return nil
	}
	s.scheduler.Add(s.dispatcher, scheduler.FixedDelay(s.cfg.DispatchInterval), s.cfg.DispatchInitialDelay)
	now := s.now()
	s.scheduler.Add(s.sweeper, s.cleanup, s.cleanup.Next(now).Sub(now))
	if err := s.scheduler.Start(ctx); err != nil {
		return err
	}
	s.logger.Info().
		Dur("dispatch_interval", s.cfg.DispatchInterval).
		Dur("initial_delay", s.cfg.DispatchInitialDelay).
		Str("cleanup_schedule", s.cfg.CleanupSchedule).
		Msg("transcription: workers scheduled")
	return nil
}

// Stop cancels both workers and waits for in-flight runs.
func (s *Service) Stop() error {
	return s.scheduler.Stop()
}

// StartTranscription submits media to the provider, keeps the submitted
// input and records the new job in Progress.
func (s *Service) StartTranscription(ctx context.Context, req domain.SubmitRequest) (*domain.JobControl, error) {
	if !s.cfg.Enabled {
		return nil, domain.ErrServiceDisabled
	}
	req.MediaPackageID = strings.TrimSpace(req.MediaPackageID)
	req.TrackID = strings.TrimSpace(req.TrackID)
	req.MediaURL = strings.TrimSpace(req.MediaURL)
	if req.MediaPackageID == "" || req.TrackID == "" || req.MediaURL == "" {
		return nil, fmt.Errorf("%w: mediaPackageId, trackId and mediaUrl are required", domain.ErrInvalidInput)
	}
	if req.TrackDuration < 0 {
		return nil, fmt.Errorf("%w: negative track duration", domain.ErrInvalidInput)
	}
	lang := strings.TrimSpace(req.Language)
	if lang == "" {
		lang = s.cfg.Language
	}
	if lang != "" {
		tag, err := language.Parse(lang)
		if err != nil {
			return nil, fmt.Errorf("%w: language %q", domain.ErrInvalidInput, lang)
		}
		lang = tag.String()
	}
	req.Language = lang

	log := s.logger.With().Str("media_package_id", req.MediaPackageID).Str("track_id", req.TrackID).Logger()
	sub, err := s.deps.Provider.Submit(ctx, req)
	if err != nil {
		log.Error().Err(err).Msg("transcription: submit failed")
		return nil, fmt.Errorf("submit media package %s: %w", req.MediaPackageID, err)
	}
	log = log.With().Str("job_id", sub.JobID).Logger()

	input := sub.Input
	if len(input) == 0 {
		input, _ = json.Marshal(req)
	}
	if _, err := s.deps.Artifacts.Put(ctx, domain.CollectionSubmissions, sub.JobID+".json", input); err != nil {
		// The job is still tracked; only the audit copy is missing.
		log.Warn().Err(err).Msg("transcription: failed to store submission input")
	}

	job, err := s.deps.Jobs.Create(ctx, domain.NewJobControl{
		MediaPackageID: req.MediaPackageID,
		TrackID:        req.TrackID,
		JobID:          sub.JobID,
		Status:         domain.JobStatusProgress,
		TrackDuration:  req.TrackDuration,
		DateExpected:   sub.DateExpected,
		ProviderName:   s.cfg.ProviderName,
	})
	if err != nil {
		log.Error().Err(err).Msg("transcription: failed to record job")
		return nil, err
	}
	log.Info().Dur("track_duration", req.TrackDuration).Msg("transcription: job submitted")
	return job, nil
}

// TranscriptionDone records a completion pushed by the provider. Repeated
// callbacks, or a callback racing the dispatcher to the same completion, are
// ignored. The result is stored only by the caller that completed the job.
func (s *Service) TranscriptionDone(ctx context.Context, jobID string, result []byte) error {
	job, err := s.deps.Jobs.FindByJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Reached(domain.JobStatusTranscriptionComplete) {
		return nil
	}
	changed, err := s.deps.Jobs.TransitionStatus(ctx, jobID, domain.JobStatusTranscriptionComplete)
	if errors.Is(err, domain.ErrInvalidTransition) {
		current, findErr := s.deps.Jobs.FindByJob(ctx, jobID)
		if findErr == nil && current.Status.Reached(domain.JobStatusTranscriptionComplete) {
			return nil
		}
	}
	if err != nil || !changed {
		return err
	}

	log := s.logger.With().Str("job_id", jobID).Str("media_package_id", job.MediaPackageID).Logger()
	if len(result) > 0 {
		ext := ".json"
		if zip.IsArchive(result) {
			ext = ".zip"
		}
		if _, err := s.deps.Artifacts.Put(ctx, domain.CollectionTranscripts, jobID+ext, result); err != nil {
			// the result is fetched from the provider again on first read
			log.Error().Err(err).Msg("transcription: failed to store callback result")
			return fmt.Errorf("store result of job %s: %w", jobID, err)
		}
	}
	log.Info().Msg("transcription: completion callback recorded")
	return nil
}

// TranscriptionError marks the job failed and notifies operators once.
func (s *Service) TranscriptionError(ctx context.Context, jobID, message string) error {
	job, err := s.deps.Jobs.FindByJob(ctx, jobID)
	if err != nil {
		return err
	}
	changed, err := s.deps.Jobs.TransitionStatus(ctx, jobID, domain.JobStatusError)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	s.logger.Warn().Str("job_id", jobID).Str("media_package_id", job.MediaPackageID).Str("reason", message).Msg("transcription: provider reported error")
	s.deps.Notifier.Notify(ctx, notify.SubjectError, notify.JobFailed(job.MediaPackageID, jobID, message))
	return nil
}

func (s *Service) Job(ctx context.Context, jobID string) (*domain.JobControl, error) {
	return s.deps.Jobs.FindByJob(ctx, jobID)
}

func (s *Service) Jobs(ctx context.Context, mediaPackageID string) ([]domain.JobControl, error) {
	return s.deps.Jobs.FindByMediaPackage(ctx, mediaPackageID)
}

// TranscriptionStatus reports the status of the most recently created job of
// the media package, or Unknown when it has none.
func (s *Service) TranscriptionStatus(ctx context.Context, mediaPackageID string) (domain.JobStatus, error) {
	jobs, err := s.deps.Jobs.FindByMediaPackage(ctx, mediaPackageID)
	if err != nil {
		return "", err
	}
	if len(jobs) == 0 {
		return domain.JobStatusUnknown, nil
	}
	latest := jobs[0]
	for _, j := range jobs[1:] {
		if j.DateCreated.After(latest.DateCreated) {
			latest = j
		}
	}
	return latest.Status, nil
}

// Result is a stored transcription.
type Result struct {
	JobID   string
	Locator string
	Data    []byte
}

// GeneratedTranscription returns the stored result of a job. With an empty
// jobID the most recently completed job of the media package is used. A
// result missing from storage is fetched from the provider first.
func (s *Service) GeneratedTranscription(ctx context.Context, mediaPackageID, jobID string) (*Result, error) {
	job, err := s.resolveCompleted(ctx, mediaPackageID, jobID)
	if err != nil {
		return nil, err
	}
	locator, err := s.deps.Artifacts.Lookup(ctx, domain.CollectionTranscripts, job.JobID)
	if errors.Is(err, domain.ErrNotFound) {
		locator, err = s.refetch(ctx, job.JobID)
	}
	if err != nil {
		return nil, err
	}
	data, err := s.deps.Artifacts.Get(ctx, locator)
	if err != nil {
		return nil, err
	}
	return &Result{JobID: job.JobID, Locator: locator, Data: data}, nil
}

func (s *Service) resolveCompleted(ctx context.Context, mediaPackageID, jobID string) (*domain.JobControl, error) {
	if jobID != "" {
		job, err := s.deps.Jobs.FindByJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.MediaPackageID != mediaPackageID || !job.Status.Reached(domain.JobStatusTranscriptionComplete) {
			return nil, fmt.Errorf("completed job %s of media package %s: %w", jobID, mediaPackageID, domain.ErrNotFound)
		}
		return job, nil
	}
	jobs, err := s.deps.Jobs.FindByMediaPackage(ctx, mediaPackageID)
	if err != nil {
		return nil, err
	}
	var best *domain.JobControl
	for i := range jobs {
		j := &jobs[i]
		if !j.Status.Reached(domain.JobStatusTranscriptionComplete) || j.DateCompleted == nil {
			continue
		}
		if best == nil || newerCompletion(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, fmt.Errorf("completed transcription for media package %s: %w", mediaPackageID, domain.ErrNotFound)
	}
	return best, nil
}

func newerCompletion(a, b *domain.JobControl) bool {
	if !a.DateCompleted.Equal(*b.DateCompleted) {
		return a.DateCompleted.After(*b.DateCompleted)
	}
	return a.DateCreated.After(b.DateCreated)
}

func (s *Service) refetch(ctx context.Context, jobID string) (string, error) {
	res, err := s.deps.Provider.PollCompletion(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("refetch result of job %s: %w", jobID, err)
	}
	if !res.Done || res.Failure != "" {
		return "", fmt.Errorf("result of job %s: %w", jobID, domain.ErrNotFound)
	}
	handle := res.Handle
	if handle.JobID == "" {
		handle.JobID = jobID
	}
	return s.deps.Provider.FetchAndPersistResult(ctx, handle)
}

// Captions extracts the caption files named after the media package from a
// zipped result bundle.
func (s *Service) Captions(ctx context.Context, mediaPackageID, jobID string) ([]zip.Asset, error) {
	res, err := s.GeneratedTranscription(ctx, mediaPackageID, jobID)
	if err != nil {
		return nil, err
	}
	if !zip.IsArchive(res.Data) {
		return nil, fmt.Errorf("captions of job %s: result is not a bundle: %w", res.JobID, domain.ErrNotFound)
	}
	wanted := map[string]bool{mediaPackageID + ".vtt": true, mediaPackageID + ".docx": true}
	assets, err := zip.ExtractAssets(res.Data, func(name string) bool { return wanted[name] })
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("captions of job %s: %w", res.JobID, domain.ErrNotFound)
	}
	return assets, nil
}

// PurgeJob removes the job row and its artifacts. Jobs still processing are
// discarded at the provider first.
func (s *Service) PurgeJob(ctx context.Context, jobID string) error {
	job, err := s.deps.Jobs.FindByJob(ctx, jobID)
	if err != nil {
		return err
	}
	log := s.logger.With().Str("job_id", jobID).Str("media_package_id", job.MediaPackageID).Logger()
	if job.Status == domain.JobStatusProgress {
		if err := s.deps.Provider.DiscardJob(ctx, jobID); err != nil {
			log.Warn().Err(err).Msg("transcription: discard before purge failed")
		}
	}
	if err := s.deps.Jobs.Delete(ctx, jobID); err != nil {
		return err
	}
	if err := s.deps.Artifacts.Delete(ctx, domain.CollectionSubmissions, jobID+".json"); err != nil {
		log.Warn().Err(err).Msg("transcription: failed to delete submission")
	}
	if locator, err := s.deps.Artifacts.Lookup(ctx, domain.CollectionTranscripts, jobID); err == nil {
		name := locator[strings.LastIndex(locator, "/")+1:]
		if err := s.deps.Artifacts.Delete(ctx, domain.CollectionTranscripts, name); err != nil {
			log.Warn().Err(err).Msg("transcription: failed to delete result")
		}
	}
	log.Info().Msg("transcription: job purged")
	return nil
}
