package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/model"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/ports/adapter"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/ports/repository"
	"github.com/Lemmeyg/howtube2-sub000/internal/infra/logging"
	"github.com/Lemmeyg/howtube2-sub000/internal/infra/metrics"
	red "github.com/Lemmeyg/howtube2-sub000/internal/infra/redis"
)

// Compile-time check
var _ JobUseCase = (*jobUC)(nil)

const sweepBatch = 100

// Dispatcher runs pipeline tasks in the background. Submit fails with
// domain.ErrQueueFull when no slot is free.
type Dispatcher interface {
	Submit(task func(ctx context.Context) error) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// JobStream is an open status subscription. Snapshot is the persisted state at
// subscription time; Events carries every later transition until Close.
type JobStream struct {
	Snapshot model.JobEvent
	Events   <-chan model.JobEvent
	Close    func()
}

type JobUseCase interface {
	Submit(ctx context.Context, userID, rawURL string, cfg model.GuideConfig) (*model.Job, error)
	Get(ctx context.Context, userID, jobID string) (*model.Job, error)
	List(ctx context.Context, userID, videoID string) ([]*model.Job, error)
	Stream(ctx context.Context, userID, jobID string) (*JobStream, error)
	// RequeuePending dispatches pending jobs untouched for longer than idle.
	RequeuePending(ctx context.Context, idle time.Duration) (int, error)
	// ReapStale fails running jobs that made no progress for longer than idle.
	ReapStale(ctx context.Context, idle time.Duration) (int, error)
}

type JobSettings struct {
	Defaults           model.GuideConfig
	SubmissionsPerHour int
}

type jobUC struct {
	jobs        repository.JobRepository
	pipeline    PipelineUseCase
	dispatcher  Dispatcher
	broadcaster adapter.StatusBroadcaster
	limiter     RateLimiter
	settings    JobSettings
	log         *zerolog.Logger
}

// NewJobUseCase wires job admission. limiter may be nil to disable rate limiting.
func NewJobUseCase(
	jobs repository.JobRepository,
	pipeline PipelineUseCase,
	dispatcher Dispatcher,
	broadcaster adapter.StatusBroadcaster,
	limiter RateLimiter,
	settings JobSettings,
	logger *zerolog.Logger,
) *jobUC {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "jobs").Logger()
	return &jobUC{
		jobs: jobs, pipeline: pipeline, dispatcher: dispatcher, broadcaster: broadcaster,
		limiter: limiter, settings: settings, log: &l,
	}
}

func (u *jobUC) Submit(ctx context.Context, userID, rawURL string, cfg model.GuideConfig) (*model.Job, error) {
	const op = "jobUC.Submit"
	log := logging.With(ctx, u.log)

	canonical, videoID, err := model.ParseVideoURL(rawURL)
	if err != nil {
		metrics.IncJobSubmitted("invalid")
		return nil, err
	}
	if cfg.Audience != "" {
		d, ok := model.ParseDifficulty(string(cfg.Audience))
		if !ok {
			metrics.IncJobSubmitted("invalid")
			return nil, domain.E(domain.KindValidation, op, "audience must be beginner, intermediate or advanced", domain.ErrInvalidArgument)
		}
		cfg.Audience = d
	}
	if cfg.MaxLength < 0 {
		metrics.IncJobSubmitted("invalid")
		return nil, domain.E(domain.KindValidation, op, "max_length must not be negative", domain.ErrInvalidArgument)
	}
	cfg = cfg.WithDefaults(u.settings.Defaults)

	if u.limiter != nil && u.settings.SubmissionsPerHour > 0 {
		ok, err := u.limiter.Allow(ctx, red.UserActionKey(userID, "submit"), u.settings.SubmissionsPerHour, time.Hour)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("rate limiter unavailable, allowing submission")
		case !ok:
			metrics.IncJobSubmitted("rate_limited")
			return nil, domain.E(domain.KindRateLimited, op, "too many submissions, try again later", domain.ErrRateLimited)
		}
	}

	if active, err := u.jobs.FindActiveByUserVideo(ctx, nil, userID, videoID); err == nil && active != nil {
		metrics.IncJobSubmitted("in_flight")
		return nil, domain.E(domain.KindConflict, op,
			fmt.Sprintf("a guide for this video is already being generated (job %s)", active.ID), domain.ErrJobInFlight)
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	job := model.NewJob(userID, videoID, canonical, cfg)
	if err := u.jobs.Create(ctx, nil, job); err != nil {
		if errors.Is(err, domain.ErrJobInFlight) {
			metrics.IncJobSubmitted("in_flight")
		}
		return nil, err
	}

	if err := u.dispatch(job.ID); err != nil {
		// The job stays pending and the sweeper picks it up once a slot frees.
		metrics.IncJobSubmitted("queue_full")
		log.Warn().Err(err).Str("job_id", job.ID).Msg("worker queue full, job left pending")
	} else {
		metrics.IncJobSubmitted("accepted")
	}
	log.Info().Str("job_id", job.ID).Str("video_id", videoID).Msg("job submitted")
	return job, nil
}

func (u *jobUC) dispatch(jobID string) error {
	return u.dispatcher.Submit(func(ctx context.Context) error {
		return u.pipeline.Run(ctx, jobID)
	})
}

func (u *jobUC) Get(ctx context.Context, userID, jobID string) (*model.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.E(domain.KindNotFound, "jobUC.Get", "job not found", domain.ErrNotFound)
	}
	job, err := u.jobs.FindByID(ctx, nil, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.E(domain.KindNotFound, "jobUC.Get", "job not found", err)
		}
		return nil, err
	}
	if !job.OwnedBy(userID) {
		return nil, domain.E(domain.KindAuthorization, "jobUC.Get", "job belongs to another user", domain.ErrForbidden)
	}
	return job, nil
}

func (u *jobUC) List(ctx context.Context, userID, videoID string) ([]*model.Job, error) {
	return u.jobs.ListByUser(ctx, nil, userID, videoID)
}

func (u *jobUC) Stream(ctx context.Context, userID, jobID string) (*JobStream, error) {
	if _, err := u.Get(ctx, userID, jobID); err != nil {
		return nil, err
	}
	// Subscribe before reading the snapshot so no transition falls in between.
	sub := u.broadcaster.Subscribe(jobID)
	closeFn := func() { u.broadcaster.Unsubscribe(jobID, sub.ID) }

	job, err := u.jobs.FindByID(ctx, nil, jobID)
	if err != nil {
		closeFn()
		return nil, err
	}
	return &JobStream{Snapshot: job.Event(true), Events: sub.Events, Close: closeFn}, nil
}

func (u *jobUC) RequeuePending(ctx context.Context, idle time.Duration) (int, error) {
	pending, err := u.jobs.ListByStatus(ctx, nil, []model.JobStatus{model.JobStatusPending}, time.Now().Add(-idle), sweepBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, j := range pending {
		if err := u.dispatch(j.ID); err != nil {
			if errors.Is(err, domain.ErrQueueFull) {
				break
			}
			return n, err
		}
		n++
	}
	return n, nil
}

func (u *jobUC) ReapStale(ctx context.Context, idle time.Duration) (int, error) {
	running := []model.JobStatus{model.JobStatusDownloading, model.JobStatusExtractingAudio, model.JobStatusTranscribing}
	stale, err := u.jobs.ListByStatus(ctx, nil, running, time.Now().Add(-idle), sweepBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, j := range stale {
		from := j.Status
		stage := stageOf(j)
		if err := j.Fail(stage, fmt.Sprintf("Job timed out: no progress for %s", idle)); err != nil {
			continue
		}
		if err := u.jobs.UpdateState(ctx, nil, j, from); err != nil {
			// the pipeline moved it in the meantime
			u.log.Debug().Err(err).Str("job_id", j.ID).Msg("stale job changed before reaping")
			continue
		}
		metrics.IncJobFinished(string(model.JobStatusError), stage)
		u.broadcaster.Publish(j.ID, j.Event(false))
		n++
	}
	if n > 0 {
		metrics.AddStaleJobsReaped(n)
		u.log.Warn().Int("count", n).Msg("stale jobs moved to error")
	}
	return n, nil
}

// stageOf names the stage a running job is in.
func stageOf(j *model.Job) string {
	switch j.Status {
	case model.JobStatusDownloading:
		return model.StepDownloading
	case model.JobStatusExtractingAudio:
		return model.StepExtractingAudio
	}
	if j.Step == model.StepGeneratingGuide {
		return model.StepGeneratingGuide
	}
	return model.StepTranscribing
}
