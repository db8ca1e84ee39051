//go:build !integration

package usecase_test

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/model"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/ports/adapter"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/ports/repository"
	"github.com/Lemmeyg/howtube2-sub000/internal/infra/adapters/transcription"
	"github.com/Lemmeyg/howtube2-sub000/internal/infra/stream"
)

// =============================
// Repositories
// =============================

// memJobRepo stores copies so callers cannot mutate persisted state by accident.
type memJobRepo struct {
	mu      sync.Mutex
	byID    map[string]*model.Job
	history map[string][]model.JobStatus

	UpdateStateErr error
}

var _ repository.JobRepository = (*memJobRepo)(nil)

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{byID: map[string]*model.Job{}, history: map[string][]model.JobStatus{}}
}

func cloneJob(j *model.Job) *model.Job {
	c := *j
	return &c
}

func (m *memJobRepo) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.byID {
		if j.UserID == job.UserID && j.VideoID == job.VideoID && !j.Status.IsTerminal() {
			return domain.E(domain.KindConflict, "memJobRepo.Create", "in flight", domain.ErrJobInFlight)
		}
	}
	m.byID[job.ID] = cloneJob(job)
	m.history[job.ID] = []model.JobStatus{job.Status}
	return nil
}

func (m *memJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(j), nil
}

func (m *memJobRepo) UpdateState(ctx context.Context, tx repository.Tx, job *model.Job, from model.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateStateErr != nil {
		return m.UpdateStateErr
	}
	cur, ok := m.byID[job.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status != from {
		if cur.Status.IsTerminal() {
			return domain.ErrJobTerminal
		}
		return domain.ErrInvalidTransition
	}
	next := cloneJob(job)
	if next.Transcript.Empty() {
		next.Transcript = cur.Transcript
	}
	m.byID[job.ID] = next
	if h := m.history[job.ID]; h[len(h)-1] != job.Status {
		m.history[job.ID] = append(h, job.Status)
	}
	return nil
}

func (m *memJobRepo) ListByUser(ctx context.Context, tx repository.Tx, userID, videoID string) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, j := range m.byID {
		if j.UserID == userID && (videoID == "" || j.VideoID == videoID) {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (m *memJobRepo) FindActiveByUserVideo(ctx context.Context, tx repository.Tx, userID, videoID string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.byID {
		if j.UserID == userID && j.VideoID == videoID && !j.Status.IsTerminal() {
			return cloneJob(j), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memJobRepo) ListByStatus(ctx context.Context, tx repository.Tx, statuses []model.JobStatus, before time.Time, limit int) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[model.JobStatus]bool{}
	for _, s := range statuses {
		want[s] = true
	}
	var out []*model.Job
	for _, j := range m.byID {
		if want[j.Status] && j.UpdatedAt.Before(before) {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// set overwrites a stored job, bypassing the status guard.
func (m *memJobRepo) set(j *model.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[j.ID] = cloneJob(j)
}

func (m *memJobRepo) statuses(id string) []model.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.JobStatus(nil), m.history[id]...)
}

type memGuideRepo struct {
	mu   sync.Mutex
	byID map[string]*model.Guide
}

var _ repository.GuideRepository = (*memGuideRepo)(nil)

func newMemGuideRepo() *memGuideRepo { return &memGuideRepo{byID: map[string]*model.Guide{}} }

func cloneGuide(g *model.Guide) *model.Guide {
	c := *g
	c.Sections = append([]model.Section(nil), g.Sections...)
	c.Keywords = append([]string(nil), g.Keywords...)
	return &c
}

func (m *memGuideRepo) Create(ctx context.Context, tx repository.Tx, g *model.Guide) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[g.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.byID[g.ID] = cloneGuide(g)
	return nil
}

func (m *memGuideRepo) SaveContent(ctx context.Context, tx repository.Tx, g *model.Guide) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[g.ID]; !ok {
		return domain.ErrNotFound
	}
	m.byID[g.ID] = cloneGuide(g)
	return nil
}

func (m *memGuideRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.GuideStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	g.Status, g.Error = status, errMsg
	return nil
}

func (m *memGuideRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Guide, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneGuide(g), nil
}

func (m *memGuideRepo) ListByUser(ctx context.Context, tx repository.Tx, userID, videoID string) ([]*model.GuideSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.GuideSummary
	for _, g := range m.byID {
		if g.UserID == userID && (videoID == "" || g.VideoID == videoID) {
			out = append(out, &model.GuideSummary{ID: g.ID, VideoID: g.VideoID, Title: g.Title, Status: g.Status, SectionCount: len(g.Sections)})
		}
	}
	return out, nil
}

func (m *memGuideRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

// =============================
// Adapters
// =============================

type MockDownloader struct {
	DownloadFunc func(ctx context.Context, videoURL, dir string) (*adapter.DownloadResult, error)
}

func (m *MockDownloader) Download(ctx context.Context, videoURL, dir string) (*adapter.DownloadResult, error) {
	if m.DownloadFunc != nil {
		return m.DownloadFunc(ctx, videoURL, dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "media.webm")
	if err := os.WriteFile(path, []byte("media"), 0o600); err != nil {
		return nil, err
	}
	return &adapter.DownloadResult{MediaPath: path, Metadata: model.VideoMetadata{Title: "Pour-over basics", Uploader: "Barista"}}, nil
}

type MockExtractor struct {
	ExtractFunc func(ctx context.Context, in, out string) (string, error)
	calls       int
}

func (m *MockExtractor) Extract(ctx context.Context, in, out string) (string, error) {
	m.calls++
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, in, out)
	}
	if err := os.WriteFile(out, []byte("RIFF"), 0o600); err != nil {
		return "", err
	}
	return out, nil
}

// MockTranscriber replays States on successive polls and reuses the real wait loop.
type MockTranscriber struct {
	mu        sync.Mutex
	States    []adapter.TranscriptionResult
	SubmitErr error
	polls     int
	submitted int
	deleted   []string
}

func (m *MockTranscriber) Submit(ctx context.Context, audio string, cfg adapter.TranscriptionConfig) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted++
	if m.SubmitErr != nil {
		return "", m.SubmitErr
	}
	return "tr-1", nil
}

func (m *MockTranscriber) PollStatus(ctx context.Context, id string) (*adapter.TranscriptionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.polls
	if i >= len(m.States) {
		i = len(m.States) - 1
	}
	m.polls++
	res := m.States[i]
	res.ID = id
	return &res, nil
}

func (m *MockTranscriber) WaitUntilTerminal(ctx context.Context, id string, opts adapter.WaitOptions) (*adapter.TranscriptionResult, error) {
	return transcription.WaitUntilTerminal(ctx, m, id, opts)
}

func (m *MockTranscriber) Delete(ctx context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
}

// scriptedAI answers the three guide prompts by recognizing them.
type scriptedAI struct {
	mu        sync.Mutex
	Structure string
	Keywords  string
	Err       error
	calls     []string
}

func (s *scriptedAI) Chat(ctx context.Context, modelName string, messages []adapter.Message) (string, error) {
	reply, _, err := s.ChatWithUsage(ctx, modelName, messages)
	return reply, err
}

func (s *scriptedAI) ChatWithUsage(ctx context.Context, modelName string, messages []adapter.Message) (string, adapter.Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", adapter.Usage{}, s.Err
	}
	prompt := messages[len(messages)-1].Content
	switch {
	case strings.Contains(prompt, "Reply with JSON only"):
		s.calls = append(s.calls, "structure")
		return s.Structure, adapter.Usage{}, nil
	case strings.Contains(prompt, "keywords"):
		s.calls = append(s.calls, "keywords")
		return s.Keywords, adapter.Usage{}, nil
	default:
		s.calls = append(s.calls, "content")
		title := strings.TrimPrefix(strings.SplitN(prompt, "\n", 3)[1], "Section: ")
		return "Section about " + title + ": grind the coffee beans before brewing.", adapter.Usage{}, nil
	}
}

const goodStructure = "```json\n{\"title\":\"Brewing pour-over coffee\",\"summary\":\"From beans to cup.\",\"sections\":[{\"title\":\"Grind\"},{\"title\":\"Brew\"}]}\n```"

func newScriptedAI() *scriptedAI {
	return &scriptedAI{Structure: goodStructure, Keywords: "coffee, pour-over\nbrewing, "}
}

// recordingBroadcaster keeps every published event next to a real fan-out.
type recordingBroadcaster struct {
	*stream.Broadcaster
	mu     sync.Mutex
	events []model.JobEvent
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{Broadcaster: stream.NewBroadcaster(64, nil)}
}

func (r *recordingBroadcaster) Publish(jobID string, ev model.JobEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.Broadcaster.Publish(jobID, ev)
}

func (r *recordingBroadcaster) recorded() []model.JobEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.JobEvent(nil), r.events...)
}

// inlineDispatcher runs tasks synchronously, or refuses them when Full is set.
type inlineDispatcher struct {
	Full      bool
	submitted int
}

func (d *inlineDispatcher) Submit(task func(ctx context.Context) error) error {
	if d.Full {
		return domain.ErrQueueFull
	}
	d.submitted++
	_ = task(context.Background())
	return nil
}

type MockRateLimiter struct {
	AllowFunc func(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

func (m *MockRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return m.AllowFunc(ctx, key, limit, window)
}
