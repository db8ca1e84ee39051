package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/model"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/ports/repository"
)

var _ repository.GuideRepository = (*GuideRepo)(nil)

// GuideRepo stores guides and their ordered sections. Writes that touch both
// tables run in one transaction via the TransactionManager.
type GuideRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewGuideRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *GuideRepo {
	return &GuideRepo{pool: pool, tm: tm}
}

func (r *GuideRepo) Create(ctx context.Context, tx repository.Tx, g *model.Guide) error {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO guides (id, user_id, video_id, title, summary, keywords, difficulty, status, error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);`
	_, err = exec.Exec(ctx, q,
		g.ID, g.UserID, g.VideoID, g.Title, g.Summary, nonNil(g.Keywords), string(g.Difficulty),
		string(g.Status), g.Error, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert guide: %w", err)
	}
	return nil
}

func (r *GuideRepo) SaveContent(ctx context.Context, tx repository.Tx, g *model.Guide) error {
	if tx != nil {
		return r.saveContent(ctx, tx, g)
	}
	return r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		return r.saveContent(ctx, tx, g)
	})
}

func (r *GuideRepo) saveContent(ctx context.Context, tx repository.Tx, g *model.Guide) error {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	g.UpdatedAt = time.Now().UTC()
	const upd = `
UPDATE guides SET
  title = $2, summary = $3, keywords = $4, difficulty = $5, status = $6, error = $7, updated_at = $8
WHERE id = $1;`
	ct, err := exec.Exec(ctx, upd,
		g.ID, g.Title, g.Summary, nonNil(g.Keywords), string(g.Difficulty), string(g.Status), g.Error, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update guide: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	if _, err := exec.Exec(ctx, `DELETE FROM guide_sections WHERE guide_id = $1;`, g.ID); err != nil {
		return fmt.Errorf("clear sections: %w", err)
	}
	const ins = `
INSERT INTO guide_sections (guide_id, position, title, content, start_ms, end_ms)
VALUES ($1, $2, $3, $4, $5, $6);`
	for i := range g.Sections {
		s := &g.Sections[i]
		s.Position = i
		var start, end *int64
		if s.Timestamp != nil {
			start, end = &s.Timestamp.StartMs, &s.Timestamp.EndMs
		}
		if _, err := exec.Exec(ctx, ins, g.ID, s.Position, s.Title, s.Content, start, end); err != nil {
			return fmt.Errorf("insert section %d: %w", i, err)
		}
	}
	return nil
}

func (r *GuideRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.GuideStatus, errMsg string) error {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	ct, err := exec.Exec(ctx,
		`UPDATE guides SET status = $2, error = $3, updated_at = NOW() WHERE id = $1;`,
		id, string(status), errMsg)
	if err != nil {
		return fmt.Errorf("update guide status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GuideRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Guide, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	const q = `
SELECT id, user_id, video_id, title, summary, keywords, difficulty, status, error, created_at, updated_at
  FROM guides
 WHERE id = $1;`
	var (
		g          model.Guide
		difficulty string
		status     string
	)
	err = exec.QueryRow(ctx, q, id).Scan(
		&g.ID, &g.UserID, &g.VideoID, &g.Title, &g.Summary, &g.Keywords, &difficulty, &status,
		&g.Error, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	g.Difficulty = model.Difficulty(difficulty)
	g.Status = model.GuideStatus(status)

	rows, err := exec.Query(ctx, `
SELECT position, title, content, start_ms, end_ms
  FROM guide_sections
 WHERE guide_id = $1
 ORDER BY position;`, id)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			s          model.Section
			start, end *int64
		)
		if err := rows.Scan(&s.Position, &s.Title, &s.Content, &start, &end); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
		}
		if start != nil && end != nil {
			s.Timestamp = &model.TimeRange{StartMs: *start, EndMs: *end}
		}
		g.Sections = append(g.Sections, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *GuideRepo) ListByUser(ctx context.Context, tx repository.Tx, userID, videoID string) ([]*model.GuideSummary, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	const q = `
SELECT g.id, g.video_id, g.title, g.summary, g.difficulty, g.status, g.created_at,
       (SELECT COUNT(1) FROM guide_sections s WHERE s.guide_id = g.id)
  FROM guides g
 WHERE g.user_id = $1 AND ($2 = '' OR g.video_id = $2)
 ORDER BY g.created_at DESC
 LIMIT 200;`
	rows, err := exec.Query(ctx, q, userID, videoID)
	if err != nil {
		return nil, fmt.Errorf("list guides: %w", err)
	}
	defer rows.Close()
	var out []*model.GuideSummary
	for rows.Next() {
		var (
			s                  model.GuideSummary
			difficulty, status string
		)
		if err := rows.Scan(&s.ID, &s.VideoID, &s.Title, &s.Summary, &difficulty, &status, &s.CreatedAt, &s.SectionCount); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
		}
		s.Difficulty = model.Difficulty(difficulty)
		s.Status = model.GuideStatus(status)
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *GuideRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	ct, err := exec.Exec(ctx, `DELETE FROM guides WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete guide: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
