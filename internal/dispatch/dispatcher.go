package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"transcription/internal/domain"
	"transcription/internal/notify"
)

// Config holds the timing policy of the dispatch cycle.
type Config struct {
	// CompletionCheckBuffer is the grace period after the expected completion
	// before the provider is polled.
	CompletionCheckBuffer time.Duration
	// MaxProcessingTime is how long past readyAt a job may stay unfinished
	// before it is canceled.
	MaxProcessingTime    time.Duration
	WorkflowDefinitionID string
	WorkflowParams       map[string]string
}

// DefaultConfig returns the stock buffer and processing window.
func DefaultConfig() Config {
	return Config{
		CompletionCheckBuffer: 300 * time.Second,
		MaxProcessingTime:     18000 * time.Second,
		WorkflowDefinitionID:  "attach-transcripts",
	}
}

// Deps are the collaborators a Dispatcher drives.
type Deps struct {
	Jobs      domain.JobControlRepository
	Provider  domain.ProviderClient
	Engine    domain.WorkflowEngine
	Artifacts domain.ArtifactStore
	Notifier  domain.Notifier
}

// Dispatcher advances transcription jobs: it polls the provider for jobs that
// are due, stores finished results, launches the downstream workflow and
// closes or cancels jobs accordingly.
type Dispatcher struct {
	deps   Deps
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

func New(deps Deps, cfg Config, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With().Str("component", "dispatch").Logger(),
		now:    time.Now,
	}
}

// WithClock overrides the wall clock.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

func (d *Dispatcher) Name() string { return "dispatch" }

// Run executes one dispatch cycle.
func (d *Dispatcher) Run(ctx context.Context) {
	d.RunCycle(ctx)
}

type outcome int

const (
	outcomeWaiting outcome = iota
	outcomePending
	outcomeClosed
	outcomeCanceled
	outcomeErrored
	outcomeFailed
)

// CycleStats counts what happened to the jobs seen in one cycle.
type CycleStats struct {
	Loaded   int
	Waiting  int
	Pending  int
	Closed   int
	Canceled int
	Errored  int
	Failed   int
}

func (s *CycleStats) add(o outcome) {
	switch o {
	case outcomeWaiting:
		s.Waiting++
	case outcomePending:
		s.Pending++
	case outcomeClosed:
		s.Closed++
	case outcomeCanceled:
		s.Canceled++
	case outcomeErrored:
		s.Errored++
	case outcomeFailed:
		s.Failed++
	}
}

// RunCycle loads every active job and processes each one independently. A
// failure on one job is logged and never stops the others.
func (d *Dispatcher) RunCycle(ctx context.Context) CycleStats {
	var stats CycleStats
	jobs, err := d.deps.Jobs.FindByStatus(ctx, domain.JobStatusProgress, domain.JobStatusTranscriptionComplete)
	if err != nil {
		d.logger.Error().Err(err).Msg("dispatch: failed to load active jobs")
		return stats
	}
	stats.Loaded = len(jobs)

	for _, job := range jobs {
		if ctx.Err() != nil {
			d.logger.Info().Msg("dispatch: cycle interrupted")
			break
		}
		stats.add(d.process(ctx, job))
	}

	d.logger.Debug().
		Int("loaded", stats.Loaded).
		Int("closed", stats.Closed).
		Int("canceled", stats.Canceled).
		Int("errored", stats.Errored).
		Int("failed", stats.Failed).
		Msg("dispatch: cycle finished")
	return stats
}

func (d *Dispatcher) process(ctx context.Context, job domain.JobControl) (out outcome) {
	log := d.logger.With().
		Str("job_id", job.JobID).
		Str("media_package_id", job.MediaPackageID).
		Str("status", string(job.Status)).
		Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("dispatch: job processing panicked")
			out = outcomeFailed
		}
	}()

	status := job.Status
	if status == domain.JobStatusProgress {
		completed, o := d.checkProgress(ctx, log, job)
		if !completed {
			return o
		}
		status = domain.JobStatusTranscriptionComplete
	}
	if status == domain.JobStatusTranscriptionComplete {
		return d.triggerWorkflow(ctx, log, job)
	}
	return outcomeWaiting
}

// checkProgress polls the provider once the job is due. It reports true when
// the job has reached TranscriptionComplete and its result is stored.
func (d *Dispatcher) checkProgress(ctx context.Context, log zerolog.Logger, job domain.JobControl) (bool, outcome) {
	now := d.now()
	readyAt := job.ReadyAt(d.cfg.CompletionCheckBuffer)
	if now.Before(readyAt) {
		log.Debug().Time("ready_at", readyAt).Msg("dispatch: not due yet")
		return false, outcomeWaiting
	}

	res, err := d.deps.Provider.PollCompletion(ctx, job.JobID)
	switch {
	case domain.IsTerminalProviderError(err):
		return false, d.cancel(ctx, log, job, err, notify.CanceledNotFound(job.MediaPackageID, job.JobID), false)
	case err != nil:
		log.Warn().Err(err).Msg("dispatch: poll failed, retrying next cycle")
		return false, outcomeFailed
	case !res.Done:
		if now.After(readyAt.Add(d.cfg.MaxProcessingTime)) {
			reason := fmt.Errorf("%w: ready at %s", domain.ErrTimeoutExceeded, readyAt.Format(time.RFC3339))
			return false, d.cancel(ctx, log, job, reason, notify.CanceledTimeout(job.MediaPackageID, job.JobID), true)
		}
		log.Debug().Msg("dispatch: still processing")
		return false, outcomePending
	case res.Failure != "":
		return false, d.fail(ctx, log, job, res.Failure)
	}

	handle := res.Handle
	if handle.JobID == "" {
		handle.JobID = job.JobID
	}
	locator, err := d.deps.Provider.FetchAndPersistResult(ctx, handle)
	if err != nil {
		log.Error().Err(err).Msg("dispatch: failed to store result, retrying next cycle")
		return false, outcomeFailed
	}
	if _, err := d.deps.Jobs.TransitionStatus(ctx, job.JobID, domain.JobStatusTranscriptionComplete); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			log.Info().Err(err).Msg("dispatch: job moved on concurrently")
			return false, outcomeWaiting
		}
		log.Error().Err(err).Msg("dispatch: failed to mark job complete")
		return false, outcomeFailed
	}
	log.Info().Str("locator", locator).Msg("dispatch: transcription complete")
	return true, outcomePending
}

// triggerWorkflow launches the downstream workflow for a completed job and
// closes it on success.
func (d *Dispatcher) triggerWorkflow(ctx context.Context, log zerolog.Logger, job domain.JobControl) outcome {
	owner, err := d.deps.Engine.FindLatestSnapshot(ctx, job.MediaPackageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Msg("dispatch: media package has no archived version yet, skipping")
			return outcomeWaiting
		}
		log.Warn().Err(err).Msg("dispatch: snapshot lookup failed, retrying next cycle")
		return outcomeFailed
	}
	org, err := d.deps.Engine.Organization(ctx, owner.OrganizationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Str("organization_id", owner.OrganizationID).Msg("dispatch: unknown organization, skipping")
			return outcomeWaiting
		}
		log.Warn().Err(err).Msg("dispatch: organization lookup failed, retrying next cycle")
		return outcomeFailed
	}

	handle, err := d.deps.Engine.Apply(ctx, domain.TriggerRequest{
		MediaPackageID: job.MediaPackageID,
		JobID:          job.JobID,
		OrganizationID: org.ID,
		DefinitionID:   d.cfg.WorkflowDefinitionID,
		Params:         d.cfg.WorkflowParams,
	})
	if err != nil {
		log.Error().Err(err).Msg("dispatch: workflow trigger failed, retrying next cycle")
		return outcomeFailed
	}
	if _, err := d.deps.Jobs.TransitionStatus(ctx, job.JobID, domain.JobStatusClosed); err != nil {
		log.Error().Err(err).Str("workflow_id", handle.WorkflowID).Msg("dispatch: workflow started but job not closed")
		return outcomeFailed
	}
	log.Info().Str("workflow_id", handle.WorkflowID).Msg("dispatch: job closed")
	return outcomeClosed
}

// cancel moves the job to Canceled and notifies once. Only the caller that
// performed the transition sends the notification.
func (d *Dispatcher) cancel(ctx context.Context, log zerolog.Logger, job domain.JobControl, reason error, body string, discard bool) outcome {
	changed, err := d.deps.Jobs.TransitionStatus(ctx, job.JobID, domain.JobStatusCanceled)
	if err != nil {
		log.Error().Err(err).AnErr("reason", reason).Msg("dispatch: failed to cancel job")
		return outcomeFailed
	}
	if !changed {
		return outcomeWaiting
	}
	log.Warn().Err(reason).Msg("dispatch: job canceled")

	if discard {
		if err := d.deps.Provider.DiscardJob(ctx, job.JobID); err != nil {
			log.Warn().Err(err).Msg("dispatch: failed to discard provider job")
		}
		if err := d.deps.Artifacts.Delete(ctx, domain.CollectionSubmissions, job.JobID+".json"); err != nil {
			log.Warn().Err(err).Msg("dispatch: failed to delete submission")
		}
	}
	d.deps.Notifier.Notify(ctx, notify.SubjectError, body)
	return outcomeCanceled
}

// fail moves a job the provider gave up on to Error and notifies once.
func (d *Dispatcher) fail(ctx context.Context, log zerolog.Logger, job domain.JobControl, reason string) outcome {
	changed, err := d.deps.Jobs.TransitionStatus(ctx, job.JobID, domain.JobStatusError)
	if err != nil {
		log.Error().Err(err).Str("reason", reason).Msg("dispatch: failed to mark job errored")
		return outcomeFailed
	}
	if !changed {
		return outcomeWaiting
	}
	log.Warn().Str("reason", reason).Msg("dispatch: provider reported failure")
	d.deps.Notifier.Notify(ctx, notify.SubjectError, notify.JobFailed(job.MediaPackageID, job.JobID, reason))
	return outcomeErrored
}
