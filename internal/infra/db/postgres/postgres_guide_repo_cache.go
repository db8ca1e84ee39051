package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain/model"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/ports/repository"
	"github.com/Lemmeyg/howtube2-sub000/internal/infra/metrics"
	red "github.com/Lemmeyg/howtube2-sub000/internal/infra/redis"
)

var _ repository.GuideRepository = (*guideRepoCacheDecorator)(nil)

// guideRepoCacheDecorator caches completed guides by id. Guides still generating
// change underneath the reader and are never cached.
type guideRepoCacheDecorator struct {
	inner repository.GuideRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewGuideRepoCacheDecorator(inner repository.GuideRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.GuideRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "GuideCache").Logger()
	return &guideRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: &l}
}

func guideKey(id string) string { return fmt.Sprintf("guide:%s", id) }

func (d *guideRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Guide, error) {
	key := guideKey(id)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var g model.Guide
		if json.Unmarshal([]byte(val), &g) == nil {
			metrics.IncCacheRequest("guide", "hit")
			return &g, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		d.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}

	metrics.IncCacheRequest("guide", "miss")
	g, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if g.Status == model.GuideStatusCompleted {
		if b, err := json.Marshal(g); err == nil {
			if err := d.cache.Set(ctx, key, b, d.ttl); err != nil {
				d.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
			}
		}
	}
	return g, nil
}

func (d *guideRepoCacheDecorator) Create(ctx context.Context, tx repository.Tx, g *model.Guide) error {
	return d.inner.Create(ctx, tx, g)
}

// For write operations, we must invalidate the cache.
func (d *guideRepoCacheDecorator) SaveContent(ctx context.Context, tx repository.Tx, g *model.Guide) error {
	d.invalidate(ctx, g.ID)
	return d.inner.SaveContent(ctx, tx, g)
}

func (d *guideRepoCacheDecorator) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.GuideStatus, errMsg string) error {
	d.invalidate(ctx, id)
	return d.inner.UpdateStatus(ctx, tx, id, status, errMsg)
}

func (d *guideRepoCacheDecorator) Delete(ctx context.Context, tx repository.Tx, id string) error {
	d.invalidate(ctx, id)
	return d.inner.Delete(ctx, tx, id)
}

func (d *guideRepoCacheDecorator) ListByUser(ctx context.Context, tx repository.Tx, userID, videoID string) ([]*model.GuideSummary, error) {
	return d.inner.ListByUser(ctx, tx, userID, videoID)
}

func (d *guideRepoCacheDecorator) invalidate(ctx context.Context, id string) {
	if err := d.cache.Del(ctx, guideKey(id)); err != nil {
		d.log.Warn().Err(err).Str("guide_id", id).Msg("cache invalidation failed")
	}
}
