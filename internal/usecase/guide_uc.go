package usecase

import (
	"context"
	"errors"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/model"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/ports/repository"
)

// Compile-time check
var _ GuideUseCase = (*guideUC)(nil)

type GuideUseCase interface {
	Get(ctx context.Context, userID, guideID string) (*model.Guide, error)
	List(ctx context.Context, userID, videoID string) ([]*model.GuideSummary, error)
	Delete(ctx context.Context, userID, guideID string) error
}

type guideUC struct {
	guides repository.GuideRepository
}

func NewGuideUseCase(guides repository.GuideRepository) *guideUC {
	return &guideUC{guides: guides}
}

func (u *guideUC) Get(ctx context.Context, userID, guideID string) (*model.Guide, error) {
	g, err := u.guides.FindByID(ctx, nil, guideID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.E(domain.KindNotFound, "guideUC.Get", "guide not found", err)
		}
		return nil, err
	}
	if !g.OwnedBy(userID) {
		return nil, domain.E(domain.KindAuthorization, "guideUC.Get", "guide belongs to another user", domain.ErrForbidden)
	}
	return g, nil
}

func (u *guideUC) List(ctx context.Context, userID, videoID string) ([]*model.GuideSummary, error) {
	return u.guides.ListByUser(ctx, nil, userID, videoID)
}

// Delete removes a guide the caller owns. Ownership is checked before any write.
func (u *guideUC) Delete(ctx context.Context, userID, guideID string) error {
	if _, err := u.Get(ctx, userID, guideID); err != nil {
		return err
	}
	if err := u.guides.Delete(ctx, nil, guideID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.E(domain.KindNotFound, "guideUC.Delete", "guide not found", err)
		}
		return err
	}
	return nil
}
