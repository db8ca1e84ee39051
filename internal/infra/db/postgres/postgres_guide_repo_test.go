//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/model"
)

func TestGuideRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewGuideRepo(testPool, NewTxManager(testPool))

	t.Run("content round trip keeps section order and timestamps", func(t *testing.T) {
		cleanup(t)
		g := model.NewGuide("u-1", "dQw4w9WgXcQ")
		if err := repo.Create(ctx, nil, g); err != nil {
			t.Fatalf("create: %v", err)
		}

		g.Title = "Brewing pour-over coffee"
		g.Summary = "Grind, bloom, pour."
		g.Keywords = []string{"coffee", "pour-over"}
		g.Difficulty = model.DifficultyIntermediate
		g.Status = model.GuideStatusCompleted
		g.Sections = []model.Section{
			{Title: "Grind", Content: "Medium fine.", Timestamp: &model.TimeRange{StartMs: 1000, EndMs: 9000}},
			{Title: "Bloom", Content: "Wet the grounds."},
			{Title: "Pour", Content: "Slow circles.", Timestamp: &model.TimeRange{StartMs: 20000, EndMs: 41000}},
		}
		if err := repo.SaveContent(ctx, nil, g); err != nil {
			t.Fatalf("save content: %v", err)
		}

		got, err := repo.FindByID(ctx, nil, g.ID)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if got.Title != g.Title || got.Status != model.GuideStatusCompleted || len(got.Keywords) != 2 {
			t.Errorf("unexpected guide: %+v", got)
		}
		if len(got.Sections) != 3 {
			t.Fatalf("expected 3 sections, got %d", len(got.Sections))
		}
		for i, want := range []string{"Grind", "Bloom", "Pour"} {
			if got.Sections[i].Title != want || got.Sections[i].Position != i {
				t.Errorf("section %d: got %+v", i, got.Sections[i])
			}
		}
		if got.Sections[1].Timestamp != nil {
			t.Error("section without timestamp must stay nil")
		}
		if ts := got.Sections[2].Timestamp; ts == nil || ts.StartMs != 20000 || ts.EndMs != 41000 {
			t.Errorf("unexpected timestamp %+v", ts)
		}
	})

	t.Run("SaveContent replaces previous sections", func(t *testing.T) {
		cleanup(t)
		g := model.NewGuide("u-1", "dQw4w9WgXcQ")
		_ = repo.Create(ctx, nil, g)
		g.Sections = []model.Section{{Title: "a"}, {Title: "b"}}
		_ = repo.SaveContent(ctx, nil, g)
		g.Sections = []model.Section{{Title: "c"}}
		if err := repo.SaveContent(ctx, nil, g); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, _ := repo.FindByID(ctx, nil, g.ID)
		if len(got.Sections) != 1 || got.Sections[0].Title != "c" {
			t.Errorf("sections not replaced: %+v", got.Sections)
		}
	})

	t.Run("UpdateStatus and ListByUser", func(t *testing.T) {
		cleanup(t)
		a := model.NewGuide("u-1", "dQw4w9WgXcQ")
		b := model.NewGuide("u-1", "aaaaaaaaaaa")
		c := model.NewGuide("u-2", "dQw4w9WgXcQ")
		for _, g := range []*model.Guide{a, b, c} {
			_ = repo.Create(ctx, nil, g)
		}
		if err := repo.UpdateStatus(ctx, nil, b.ID, model.GuideStatusError, "model unavailable"); err != nil {
			t.Fatalf("update status: %v", err)
		}
		got, _ := repo.FindByID(ctx, nil, b.ID)
		if got.Status != model.GuideStatusError || got.Error != "model unavailable" {
			t.Errorf("status not stored: %+v", got)
		}

		list, err := repo.ListByUser(ctx, nil, "u-1", "")
		if err != nil || len(list) != 2 {
			t.Fatalf("expected 2 guides, got %d (%v)", len(list), err)
		}
		filtered, _ := repo.ListByUser(ctx, nil, "u-1", "dQw4w9WgXcQ")
		if len(filtered) != 1 || filtered[0].ID != a.ID {
			t.Errorf("unexpected filtered list %+v", filtered)
		}
	})

	t.Run("Delete cascades sections", func(t *testing.T) {
		cleanup(t)
		g := model.NewGuide("u-1", "dQw4w9WgXcQ")
		_ = repo.Create(ctx, nil, g)
		g.Sections = []model.Section{{Title: "a"}}
		_ = repo.SaveContent(ctx, nil, g)

		if err := repo.Delete(ctx, nil, g.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := repo.FindByID(ctx, nil, g.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		var n int
		_ = testPool.QueryRow(ctx, `SELECT COUNT(1) FROM guide_sections WHERE guide_id = $1`, g.ID).Scan(&n)
		if n != 0 {
			t.Errorf("expected sections to be deleted, found %d", n)
		}
		if err := repo.Delete(ctx, nil, g.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("second delete should report ErrNotFound, got %v", err)
		}
	})
}
