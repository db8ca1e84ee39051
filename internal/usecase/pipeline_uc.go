package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/model"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/ports/adapter"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/ports/repository"
	"github.com/Lemmeyg/howtube2-sub000/internal/infra/logging"
	"github.com/Lemmeyg/howtube2-sub000/internal/infra/metrics"
)

// Compile-time check
var _ PipelineUseCase = (*pipelineUC)(nil)

// Progress reported while the transcription provider works.
var transcriptionProgress = map[adapter.TranscriptionStatus]int{
	adapter.TranscriptionQueued:     55,
	adapter.TranscriptionProcessing: 65,
	adapter.TranscriptionCompleted:  80,
}

const (
	progressDownloading   = 0
	progressExtracting    = 25
	progressTranscribing  = 50
	progressGenerating    = 85
	progressComplete      = 100
	finalPersistTimeout   = 10 * time.Second
	interruptedJobMessage = "Pipeline interrupted before completion"
)

// errRunAborted means another writer finished the job under us; the run stops quietly.
var errRunAborted = errors.New("pipeline run aborted")

type PipelineUseCase interface {
	// Run drives one pending job to a terminal state. A job that is no longer
	// pending is skipped without error.
	Run(ctx context.Context, jobID string) error
}

type PipelineConfig struct {
	WorkDir       string
	Transcription adapter.TranscriptionConfig
	Wait          adapter.WaitOptions
}

type pipelineUC struct {
	jobs        repository.JobRepository
	guides      repository.GuideRepository
	downloader  adapter.Downloader
	extractor   adapter.AudioExtractor
	transcriber adapter.TranscriptionService
	generator   GuideGenerator
	broadcaster adapter.StatusBroadcaster
	cfg         PipelineConfig
	log         *zerolog.Logger
}

func NewPipelineUseCase(
	jobs repository.JobRepository,
	guides repository.GuideRepository,
	downloader adapter.Downloader,
	extractor adapter.AudioExtractor,
	transcriber adapter.TranscriptionService,
	generator GuideGenerator,
	broadcaster adapter.StatusBroadcaster,
	cfg PipelineConfig,
	logger *zerolog.Logger,
) *pipelineUC {
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "pipeline").Logger()
	return &pipelineUC{
		jobs: jobs, guides: guides,
		downloader: downloader, extractor: extractor, transcriber: transcriber,
		generator: generator, broadcaster: broadcaster,
		cfg: cfg, log: &l,
	}
}

func (p *pipelineUC) Run(ctx context.Context, jobID string) (err error) {
	ctx = logging.WithJobID(ctx, jobID)
	log := logging.With(ctx, p.log)

	job, err := p.jobs.FindByID(ctx, nil, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status != model.JobStatusPending {
		log.Debug().Str("status", string(job.Status)).Msg("job already claimed")
		return nil
	}

	// Claim: only the writer that moves pending -> downloading runs the job.
	if err := job.Advance(model.JobStatusDownloading, progressDownloading, model.StepDownloading); err != nil {
		return err
	}
	if err := p.jobs.UpdateState(ctx, nil, job, model.JobStatusPending); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrJobTerminal) {
			log.Debug().Err(err).Msg("job claimed by another runner")
			return nil
		}
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}
	p.publish(job, false)

	r := &pipelineRun{p: p, job: job, persisted: job.Status, stage: model.StepDownloading, log: log}
	workDir := filepath.Join(p.cfg.WorkDir, job.ID)
	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			log.Warn().Err(rmErr).Str("dir", workDir).Msg("work dir cleanup failed")
		}
	}()
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("pipeline panicked")
			err = fmt.Errorf("pipeline panic: %v", rec)
			r.fail(ctx, domain.E(domain.KindInternal, "pipeline.Run", "Internal error while processing the video", err))
		}
	}()

	log.Info().Str("video_id", job.VideoID).Msg("pipeline started")
	runErr := r.execute(ctx, workDir)
	switch {
	case runErr == nil:
		log.Info().Str("guide_id", job.GuideID).Msg("pipeline completed")
		return nil
	case errors.Is(runErr, errRunAborted):
		log.Warn().Msg("job reached a terminal state elsewhere; stopping")
		return nil
	default:
		r.fail(ctx, runErr)
		return runErr
	}
}

// pipelineRun holds the state of one claimed job.
type pipelineRun struct {
	p         *pipelineUC
	job       *model.Job
	persisted model.JobStatus
	stage     string
	aborted   bool
	log       *zerolog.Logger
}

func (r *pipelineRun) execute(ctx context.Context, workDir string) error {
	p, job := r.p, r.job

	// 1. download
	var dl *adapter.DownloadResult
	err := r.timed(model.StepDownloading, func() (err error) {
		dl, err = p.downloader.Download(ctx, job.SourceURL, workDir)
		return err
	})
	if err != nil {
		return err
	}

	// 2. extract audio
	if err := r.advance(ctx, model.JobStatusExtractingAudio, progressExtracting, model.StepExtractingAudio, false); err != nil {
		return err
	}
	var audioPath string
	err = r.timed(model.StepExtractingAudio, func() (err error) {
		audioPath, err = p.extractor.Extract(ctx, dl.MediaPath, filepath.Join(workDir, "audio.wav"))
		return err
	})
	if err != nil {
		return err
	}

	// 3. transcribe
	if err := r.advance(ctx, model.JobStatusTranscribing, progressTranscribing, model.StepTranscribing, false); err != nil {
		return err
	}
	var result *adapter.TranscriptionResult
	err = r.timed(model.StepTranscribing, func() error {
		id, err := p.transcriber.Submit(ctx, audioPath, p.cfg.Transcription)
		if err != nil {
			return err
		}
		job.TranscriptionJobID = id
		if err := r.store(ctx); err != nil {
			return err
		}

		opts := p.cfg.Wait
		opts.OnStatusChange = func(s adapter.TranscriptionStatus) {
			// completed is reported below together with the transcript
			if r.aborted || s.IsTerminal() {
				return
			}
			if err := r.advance(ctx, model.JobStatusTranscribing, transcriptionProgress[s], model.TranscriptionStep(string(s)), false); err != nil {
				r.aborted = errors.Is(err, errRunAborted)
			}
		}
		result, err = p.transcriber.WaitUntilTerminal(ctx, id, opts)
		if r.aborted {
			return errRunAborted
		}
		return err
	})
	if err != nil {
		return err
	}
	job.Transcript = result.Transcript()
	if err := r.advance(ctx, model.JobStatusTranscribing,
		transcriptionProgress[adapter.TranscriptionCompleted],
		model.TranscriptionStep(string(adapter.TranscriptionCompleted)), true); err != nil {
		return err
	}
	p.transcriber.Delete(ctx, job.TranscriptionJobID)

	// 4. generate the guide
	return r.timed(model.StepGeneratingGuide, func() error {
		return r.generate(ctx, dl.Metadata)
	})
}

func (r *pipelineRun) generate(ctx context.Context, meta model.VideoMetadata) error {
	p, job := r.p, r.job
	guide := model.NewGuide(job.UserID, job.VideoID)
	guide.Difficulty = job.GuideConfig.Audience
	if err := p.guides.Create(ctx, nil, guide); err != nil {
		return fmt.Errorf("create guide: %w", err)
	}
	job.GuideID = guide.ID
	if err := r.advance(ctx, model.JobStatusTranscribing, progressGenerating, model.StepGeneratingGuide, false); err != nil {
		return err
	}

	gen, err := p.generator.Generate(ctx, job.Transcript, meta, job.GuideConfig)
	if err != nil {
		r.markGuideFailed(ctx, guide.ID, err)
		return err
	}
	guide.Title = gen.Title
	guide.Summary = gen.Summary
	guide.Sections = gen.Sections
	guide.Keywords = gen.Keywords
	guide.Difficulty = gen.Difficulty
	guide.Status = model.GuideStatusCompleted
	if err := p.guides.SaveContent(ctx, nil, guide); err != nil {
		wrapped := domain.Wrap(domain.KindInternal, "pipeline.generate", "Guide could not be saved", domain.ErrGuideGeneration, err)
		r.markGuideFailed(ctx, guide.ID, wrapped)
		return wrapped
	}

	return r.advance(ctx, model.JobStatusCompleted, progressComplete, model.StepPipelineComplete, false)
}

func (r *pipelineRun) markGuideFailed(ctx context.Context, guideID string, cause error) {
	ctx, cancel := detached(ctx)
	defer cancel()
	if err := r.p.guides.UpdateStatus(ctx, nil, guideID, model.GuideStatusError, domain.UserMessage(cause)); err != nil {
		r.log.Error().Err(err).Str("guide_id", guideID).Msg("could not mark guide as failed")
	}
}

// timed runs one stage and records its duration.
func (r *pipelineRun) timed(stage string, fn func() error) error {
	r.stage = stage
	started := time.Now()
	err := fn()
	metrics.ObserveStage(stage, time.Since(started), err == nil)
	return err
}

func (r *pipelineRun) advance(ctx context.Context, status model.JobStatus, progress int, step string, withTranscript bool) error {
	if err := r.job.Advance(status, progress, step); err != nil {
		return err
	}
	return r.persist(ctx, withTranscript)
}

// persist writes the job and then broadcasts it. A failed write is logged and
// the event still goes out; a job finished elsewhere aborts the run.
func (r *pipelineRun) persist(ctx context.Context, withTranscript bool) error {
	if err := r.store(ctx); err != nil {
		return err
	}
	r.p.publish(r.job, withTranscript)
	return nil
}

func (r *pipelineRun) store(ctx context.Context) error {
	err := r.p.jobs.UpdateState(ctx, nil, r.job, r.persisted)
	switch {
	case err == nil:
		r.persisted = r.job.Status
	case errors.Is(err, domain.ErrJobTerminal):
		return errRunAborted
	default:
		r.log.Error().Err(err).Str("status", string(r.job.Status)).Str("step", r.job.Step).Msg("persist job state failed")
	}
	return nil
}

func (r *pipelineRun) fail(ctx context.Context, cause error) {
	if r.job.Status.IsTerminal() {
		return
	}
	msg := domain.UserMessage(cause)
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			msg = interruptedJobMessage
		}
	}
	if err := r.job.Fail(r.stage, msg); err != nil {
		r.log.Error().Err(err).Msg("cannot move job to error")
		return
	}
	r.log.Warn().Err(cause).Str("stage", r.stage).Str("error", msg).Msg("pipeline failed")
	metrics.IncJobFinished(string(model.JobStatusError), r.stage)

	pctx, cancel := detached(ctx)
	defer cancel()
	if err := r.p.jobs.UpdateState(pctx, nil, r.job, r.persisted); err != nil {
		r.log.Error().Err(err).Msg("persist failed job")
	}
	r.p.publish(r.job, false)
}

func (p *pipelineUC) publish(job *model.Job, withTranscript bool) {
	if job.Status == model.JobStatusCompleted {
		metrics.IncJobFinished(string(model.JobStatusCompleted), "")
	}
	p.broadcaster.Publish(job.ID, job.Event(withTranscript))
}

// detached returns a context for final writes that survives cancellation of ctx.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return context.WithTimeout(ctx, finalPersistTimeout)
	}
	return context.WithTimeout(context.WithoutCancel(ctx), finalPersistTimeout)
}
