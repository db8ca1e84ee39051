package repository

import (
	"context"
	"time"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain/model"
)

type JobRepository interface {
	// Create inserts a pending job. It returns domain.ErrJobInFlight when the same
	// user already has a non-terminal job for the video.
	Create(ctx context.Context, tx Tx, job *model.Job) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Job, error)
	// UpdateState persists the mutable fields of job, provided the stored row is
	// still in status from. A terminal row yields domain.ErrJobTerminal; any other
	// mismatch yields domain.ErrInvalidTransition.
	UpdateState(ctx context.Context, tx Tx, job *model.Job, from model.JobStatus) error
	// ListByUser returns the user's jobs, newest first. videoID may be empty.
	ListByUser(ctx context.Context, tx Tx, userID, videoID string) ([]*model.Job, error)
	FindActiveByUserVideo(ctx context.Context, tx Tx, userID, videoID string) (*model.Job, error)
	// ListByStatus returns jobs in one of statuses whose updated_at is before the
	// given time, oldest first.
	ListByStatus(ctx context.Context, tx Tx, statuses []model.JobStatus, before time.Time, limit int) ([]*model.Job, error)
}
