package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/model"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

const jobColumns = `id::text, user_id, video_id, source_url, guide_config, status, progress, step,
       failed_stage, error, transcription_job_id, transcript, guide_id, created_at, updated_at, completed_at`

var terminalStatuses = []string{string(model.JobStatusCompleted), string(model.JobStatusError)}

func (r *jobRepo) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	cfg, err := json.Marshal(job.GuideConfig)
	if err != nil {
		return fmt.Errorf("encode guide config: %w", err)
	}
	const q = `
INSERT INTO jobs (id, user_id, video_id, source_url, guide_config, status, progress, step, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`
	_, err = exec.Exec(ctx, q,
		job.ID, job.UserID, job.VideoID, job.SourceURL, cfg,
		string(job.Status), job.Progress, job.Step, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.E(domain.KindConflict, "jobRepo.Create", "a guide for this video is already being generated", domain.ErrJobInFlight)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	job, err := scanJob(exec.QueryRow(ctx, q, id))
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) UpdateState(ctx context.Context, tx repository.Tx, job *model.Job, from model.JobStatus) error {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	var transcript interface{}
	if !job.Transcript.Empty() {
		b, err := json.Marshal(job.Transcript)
		if err != nil {
			return fmt.Errorf("encode transcript: %w", err)
		}
		transcript = b
	}
	const q = `
UPDATE jobs SET
  status = $2,
  progress = $3,
  step = $4,
  failed_stage = $5,
  error = $6,
  transcription_job_id = $7,
  transcript = COALESCE($8, transcript),
  guide_id = $9,
  updated_at = $10,
  completed_at = $11
WHERE id = $1 AND status = $12;`
	ct, err := exec.Exec(ctx, q,
		job.ID, string(job.Status), job.Progress, job.Step, job.FailedStage, job.Error,
		job.TranscriptionJobID, transcript, job.GuideID, job.UpdatedAt, job.CompletedAt, string(from))
	if err != nil {
		return fmt.Errorf("update job state: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	var current string
	if err := exec.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1;`, job.ID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("read job status: %w", err)
	}
	if model.JobStatus(current).IsTerminal() {
		return domain.ErrJobTerminal
	}
	return fmt.Errorf("%w: stored status %s, expected %s", domain.ErrInvalidTransition, current, from)
}

func (r *jobRepo) ListByUser(ctx context.Context, tx repository.Tx, userID, videoID string) ([]*model.Job, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + jobColumns + `
  FROM jobs
 WHERE user_id = $1 AND ($2 = '' OR video_id = $2)
 ORDER BY created_at DESC
 LIMIT 200;`
	rows, err := exec.Query(ctx, q, userID, videoID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

func (r *jobRepo) FindActiveByUserVideo(ctx context.Context, tx repository.Tx, userID, videoID string) (*model.Job, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + jobColumns + `
  FROM jobs
 WHERE user_id = $1 AND video_id = $2 AND status <> ALL($3)
 LIMIT 1;`
	return scanJob(exec.QueryRow(ctx, q, userID, videoID, terminalStatuses))
}

func (r *jobRepo) ListByStatus(ctx context.Context, tx repository.Tx, statuses []model.JobStatus, before time.Time, limit int) ([]*model.Job, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	ss := make([]string, 0, len(statuses))
	for _, s := range statuses {
		ss = append(ss, string(s))
	}
	q := `SELECT ` + jobColumns + `
  FROM jobs
 WHERE status = ANY($1) AND updated_at < $2
 ORDER BY updated_at
 LIMIT $3;`
	rows, err := exec.Query(ctx, q, ss, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	return collectJobs(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		j          model.Job
		status     string
		cfg        []byte
		transcript []byte
	)
	err := row.Scan(
		&j.ID, &j.UserID, &j.VideoID, &j.SourceURL, &cfg, &status, &j.Progress, &j.Step,
		&j.FailedStage, &j.Error, &j.TranscriptionJobID, &transcript, &j.GuideID,
		&j.CreatedAt, &j.UpdatedAt, &j.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	j.Status = model.JobStatus(status)
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &j.GuideConfig); err != nil {
			return nil, fmt.Errorf("decode guide config: %w", err)
		}
	}
	if len(transcript) > 0 {
		var t model.Transcript
		if err := json.Unmarshal(transcript, &t); err != nil {
			return nil, fmt.Errorf("decode transcript: %w", err)
		}
		j.Transcript = &t
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*model.Job, error) {
	defer rows.Close()
	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
