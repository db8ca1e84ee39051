package repository

import (
	"context"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain/model"
)

type GuideRepository interface {
	Create(ctx context.Context, tx Tx, g *model.Guide) error
	// SaveContent replaces title, summary, keywords, difficulty, status and all sections.
	SaveContent(ctx context.Context, tx Tx, g *model.Guide) error
	UpdateStatus(ctx context.Context, tx Tx, id string, status model.GuideStatus, errMsg string) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Guide, error)
	ListByUser(ctx context.Context, tx Tx, userID, videoID string) ([]*model.GuideSummary, error)
	Delete(ctx context.Context, tx Tx, id string) error
}
