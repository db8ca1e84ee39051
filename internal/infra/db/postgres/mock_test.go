//go:build !integration

package postgres

import (
	"context"
	"time"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain/model"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/ports/repository"
	red "github.com/Lemmeyg/howtube2-sub000/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerGuideRepo mocks the database repository that the guide decorator wraps.
type mockInnerGuideRepo struct {
	CreateFunc       func(ctx context.Context, tx repository.Tx, g *model.Guide) error
	SaveContentFunc  func(ctx context.Context, tx repository.Tx, g *model.Guide) error
	UpdateStatusFunc func(ctx context.Context, tx repository.Tx, id string, status model.GuideStatus, errMsg string) error
	FindByIDFunc     func(ctx context.Context, tx repository.Tx, id string) (*model.Guide, error)
	ListByUserFunc   func(ctx context.Context, tx repository.Tx, userID, videoID string) ([]*model.GuideSummary, error)
	DeleteFunc       func(ctx context.Context, tx repository.Tx, id string) error
}

func (m *mockInnerGuideRepo) Create(ctx context.Context, tx repository.Tx, g *model.Guide) error {
	return m.CreateFunc(ctx, tx, g)
}
func (m *mockInnerGuideRepo) SaveContent(ctx context.Context, tx repository.Tx, g *model.Guide) error {
	return m.SaveContentFunc(ctx, tx, g)
}
func (m *mockInnerGuideRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.GuideStatus, errMsg string) error {
	return m.UpdateStatusFunc(ctx, tx, id, status, errMsg)
}
func (m *mockInnerGuideRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Guide, error) {
	return m.FindByIDFunc(ctx, tx, id)
}
func (m *mockInnerGuideRepo) ListByUser(ctx context.Context, tx repository.Tx, userID, videoID string) ([]*model.GuideSummary, error) {
	return m.ListByUserFunc(ctx, tx, userID, videoID)
}
func (m *mockInnerGuideRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	return m.DeleteFunc(ctx, tx, id)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc    func(ctx context.Context, key string) (string, error)
	SetFunc    func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc    func(ctx context.Context, keys ...string) error
	PingFunc   func(ctx context.Context) error
	IncrFunc   func(ctx context.Context, key string) (int64, error)
	ExpireFunc func(ctx context.Context, key string, expiration time.Duration) error
	CloseFunc  func() error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return m.PingFunc(ctx) }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrFunc(ctx, key)
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return m.ExpireFunc(ctx, key, expiration)
}
func (m *mockRedisClient) Close() error { return m.CloseFunc() }
