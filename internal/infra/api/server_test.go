//go:build !integration

package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/model"
	"github.com/Lemmeyg/howtube2-sub000/internal/infra/api"
	"github.com/Lemmeyg/howtube2-sub000/internal/usecase"
)

//
// ---------------- use case mocks ----------------
//

type MockJobUseCase struct {
	SubmitFunc func(ctx context.Context, userID, rawURL string, cfg model.GuideConfig) (*model.Job, error)
	GetFunc    func(ctx context.Context, userID, jobID string) (*model.Job, error)
	ListFunc   func(ctx context.Context, userID, videoID string) ([]*model.Job, error)
	StreamFunc func(ctx context.Context, userID, jobID string) (*usecase.JobStream, error)
}

var _ usecase.JobUseCase = (*MockJobUseCase)(nil)

func (m *MockJobUseCase) Submit(ctx context.Context, userID, rawURL string, cfg model.GuideConfig) (*model.Job, error) {
	return m.SubmitFunc(ctx, userID, rawURL, cfg)
}
func (m *MockJobUseCase) Get(ctx context.Context, userID, jobID string) (*model.Job, error) {
	return m.GetFunc(ctx, userID, jobID)
}
func (m *MockJobUseCase) List(ctx context.Context, userID, videoID string) ([]*model.Job, error) {
	return m.ListFunc(ctx, userID, videoID)
}
func (m *MockJobUseCase) Stream(ctx context.Context, userID, jobID string) (*usecase.JobStream, error) {
	return m.StreamFunc(ctx, userID, jobID)
}
func (m *MockJobUseCase) RequeuePending(ctx context.Context, idle time.Duration) (int, error) {
	return 0, nil
}
func (m *MockJobUseCase) ReapStale(ctx context.Context, idle time.Duration) (int, error) {
	return 0, nil
}

type MockGuideUseCase struct {
	GetFunc    func(ctx context.Context, userID, guideID string) (*model.Guide, error)
	ListFunc   func(ctx context.Context, userID, videoID string) ([]*model.GuideSummary, error)
	DeleteFunc func(ctx context.Context, userID, guideID string) error
}

var _ usecase.GuideUseCase = (*MockGuideUseCase)(nil)

func (m *MockGuideUseCase) Get(ctx context.Context, userID, guideID string) (*model.Guide, error) {
	return m.GetFunc(ctx, userID, guideID)
}
func (m *MockGuideUseCase) List(ctx context.Context, userID, videoID string) ([]*model.GuideSummary, error) {
	return m.ListFunc(ctx, userID, videoID)
}
func (m *MockGuideUseCase) Delete(ctx context.Context, userID, guideID string) error {
	return m.DeleteFunc(ctx, userID, guideID)
}

//
// ---------------- helpers ----------------
//

const testSecret = "test-secret"

var auth = api.NewAuthenticator(testSecret, "howtube")

func newRouter(jobs *MockJobUseCase, guides *MockGuideUseCase, opts api.Options) http.Handler {
	if jobs == nil {
		jobs = &MockJobUseCase{}
	}
	if guides == nil {
		guides = &MockGuideUseCase{}
	}
	return api.NewServer(jobs, guides, auth, opts, nil).Routes()
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.Mint(userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, h http.Handler, method, path, body, userID string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Buffer
	if body != "" {
		rdr = bytes.NewBufferString(body)
	} else {
		rdr = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, rdr)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func sampleJob(userID string) *model.Job {
	j := model.NewJob(userID, "dQw4w9WgXcQ", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", model.GuideConfig{Style: "step-by-step"})
	return j
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body), rec.Body.String())
	return body.Kind
}

//
// -------------------- tests --------------------
//

func TestAuth(t *testing.T) {
	r := newRouter(&MockJobUseCase{ListFunc: func(ctx context.Context, userID, videoID string) ([]*model.Job, error) {
		return nil, nil
	}}, nil, api.Options{})

	t.Run("401 without a token", func(t *testing.T) {
		rec := do(t, r, http.MethodGet, "/api/v1/jobs", "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("401 with a token signed by another key", func(t *testing.T) {
		other, err := api.NewAuthenticator("other", "howtube").Mint("user-1", time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
		req.Header.Set("Authorization", "Bearer "+other)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("401 with an unsigned token", func(t *testing.T) {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-1"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("401 with an expired token", func(t *testing.T) {
		tok, err := auth.Mint("user-1", -time.Minute)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("200 with the token in the query string", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?access_token="+token(t, "user-1"), nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("health and metrics stay public", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/health", "", "").Code)
		assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/metrics", "", "").Code)
	})
}

func TestJobs_Submit(t *testing.T) {
	t.Run("202 with the pending job", func(t *testing.T) {
		var gotUser, gotURL string
		var gotCfg model.GuideConfig
		jobs := &MockJobUseCase{SubmitFunc: func(ctx context.Context, userID, rawURL string, cfg model.GuideConfig) (*model.Job, error) {
			gotUser, gotURL, gotCfg = userID, rawURL, cfg
			return sampleJob(userID), nil
		}}
		r := newRouter(jobs, nil, api.Options{})

		body := `{"url":"https://youtu.be/dQw4w9WgXcQ","audience":"advanced","max_length":800,"include_timestamps":true}`
		rec := do(t, r, http.MethodPost, "/api/v1/jobs", body, "user-1")
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

		assert.Equal(t, "user-1", gotUser)
		assert.Equal(t, "https://youtu.be/dQw4w9WgXcQ", gotURL)
		assert.Equal(t, model.DifficultyAdvanced, gotCfg.Audience)
		assert.Equal(t, 800, gotCfg.MaxLength)
		assert.True(t, gotCfg.IncludeTimestamps)

		var got map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Equal(t, "pending", got["status"])
		assert.Equal(t, "/api/v1/jobs/"+got["id"].(string), rec.Header().Get("Location"))
	})

	t.Run("400 on malformed json", func(t *testing.T) {
		r := newRouter(nil, nil, api.Options{})
		rec := do(t, r, http.MethodPost, "/api/v1/jobs", `{"url":`, "user-1")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("400 on unknown fields", func(t *testing.T) {
		r := newRouter(nil, nil, api.Options{})
		rec := do(t, r, http.MethodPost, "/api/v1/jobs", `{"link":"x"}`, "user-1")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	cases := []struct {
		name string
		err  error
		code int
		kind domain.Kind
	}{
		{"400 on an invalid url", domain.E(domain.KindValidation, "op", "not a video url", domain.ErrInvalidVideoURL), http.StatusBadRequest, domain.KindValidation},
		{"409 while a job is in flight", domain.E(domain.KindConflict, "op", "in flight", domain.ErrJobInFlight), http.StatusConflict, domain.KindConflict},
		{"429 over the rate limit", domain.E(domain.KindRateLimited, "op", "slow down", domain.ErrRateLimited), http.StatusTooManyRequests, domain.KindRateLimited},
		{"503 when the queue is full", domain.ErrQueueFull, http.StatusServiceUnavailable, domain.KindUnavailable},
		{"500 hides internal errors", errors.New("pq: connection refused"), http.StatusInternalServerError, domain.KindInternal},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			jobs := &MockJobUseCase{SubmitFunc: func(ctx context.Context, userID, rawURL string, cfg model.GuideConfig) (*model.Job, error) {
				return nil, tc.err
			}}
			r := newRouter(jobs, nil, api.Options{})
			rec := do(t, r, http.MethodPost, "/api/v1/jobs", `{"url":"https://example.com"}`, "user-1")
			assert.Equal(t, tc.code, rec.Code)
			assert.NotContains(t, rec.Body.String(), "connection refused")
			assert.Equal(t, string(tc.kind), errorKind(t, rec))
		})
	}
}

func TestJobs_GetAndList(t *testing.T) {
	job := sampleJob("user-1")
	job.Transcript = &model.Transcript{Text: "hello", Words: []model.Word{{Text: "hello", StartMs: 0, EndMs: 400}}}
	jobs := &MockJobUseCase{
		GetFunc: func(ctx context.Context, userID, jobID string) (*model.Job, error) {
			switch {
			case jobID != job.ID:
				return nil, domain.E(domain.KindNotFound, "op", "job not found", domain.ErrNotFound)
			case userID != job.UserID:
				return nil, domain.E(domain.KindAuthorization, "op", "not yours", domain.ErrForbidden)
			}
			return job, nil
		},
		ListFunc: func(ctx context.Context, userID, videoID string) ([]*model.Job, error) {
			assert.Equal(t, "dQw4w9WgXcQ", videoID)
			return []*model.Job{job}, nil
		},
	}
	r := newRouter(jobs, nil, api.Options{})

	t.Run("200 with the transcript", func(t *testing.T) {
		rec := do(t, r, http.MethodGet, "/api/v1/jobs/"+job.ID, "", "user-1")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"transcript"`)
	})

	t.Run("403 for another user", func(t *testing.T) {
		rec := do(t, r, http.MethodGet, "/api/v1/jobs/"+job.ID, "", "user-2")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("404 for an unknown job", func(t *testing.T) {
		rec := do(t, r, http.MethodGet, "/api/v1/jobs/nope", "", "user-1")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("list filters by video and omits transcripts", func(t *testing.T) {
		rec := do(t, r, http.MethodGet, "/api/v1/jobs?video_id=dQw4w9WgXcQ", "", "user-1")
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Items []map[string]any `json:"items"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.Len(t, body.Items, 1)
		assert.NotContains(t, body.Items[0], "transcript")
	})
}

func TestGuides(t *testing.T) {
	guide := model.NewGuide("user-1", "dQw4w9WgXcQ")
	guide.Title = "Brewing pour-over coffee"
	deleted := ""
	guides := &MockGuideUseCase{
		GetFunc: func(ctx context.Context, userID, guideID string) (*model.Guide, error) {
			if userID != guide.UserID {
				return nil, domain.E(domain.KindAuthorization, "op", "not yours", domain.ErrForbidden)
			}
			return guide, nil
		},
		ListFunc: func(ctx context.Context, userID, videoID string) ([]*model.GuideSummary, error) {
			return nil, nil
		},
		DeleteFunc: func(ctx context.Context, userID, guideID string) error {
			if userID != guide.UserID {
				return domain.E(domain.KindAuthorization, "op", "not yours", domain.ErrForbidden)
			}
			deleted = guideID
			return nil
		},
	}
	r := newRouter(nil, guides, api.Options{})

	t.Run("200 returns the guide", func(t *testing.T) {
		rec := do(t, r, http.MethodGet, "/api/v1/guides/"+guide.ID, "", "user-1")
		require.Equal(t, http.StatusOK, rec.Code)
		var got model.Guide
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Equal(t, guide.Title, got.Title)
	})

	t.Run("empty list encodes as an empty array", func(t *testing.T) {
		rec := do(t, r, http.MethodGet, "/api/v1/guides", "", "user-1")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"items":[]}`, rec.Body.String())
	})

	t.Run("403 delete by another user", func(t *testing.T) {
		rec := do(t, r, http.MethodDelete, "/api/v1/guides/"+guide.ID, "", "user-2")
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Empty(t, deleted)
	})

	t.Run("204 delete by the owner", func(t *testing.T) {
		rec := do(t, r, http.MethodDelete, "/api/v1/guides/"+guide.ID, "", "user-1")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, guide.ID, deleted)
	})
}

func TestHealth(t *testing.T) {
	t.Run("503 when a dependency is down", func(t *testing.T) {
		r := newRouter(nil, nil, api.Options{Health: map[string]api.HealthCheck{
			"postgres": func(ctx context.Context) error { return nil },
			"redis":    func(ctx context.Context) error { return errors.New("dial tcp: refused") },
		}})
		rec := do(t, r, http.MethodGet, "/health", "", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"degraded"`)
	})
}

// scriptedStream returns a stream whose snapshot is pending and whose channel
// carries a duplicate of the snapshot followed by events.
func scriptedStream(job *model.Job, events ...model.JobEvent) (*usecase.JobStream, chan model.JobEvent) {
	ch := make(chan model.JobEvent, len(events)+1)
	snap := job.Event(true)
	ch <- snap
	for _, ev := range events {
		ch <- ev
	}
	return &usecase.JobStream{Snapshot: snap, Events: ch, Close: func() {}}, ch
}

func progressEvents(t *testing.T, job *model.Job) []model.JobEvent {
	t.Helper()
	j := *job
	var out []model.JobEvent
	require.NoError(t, j.Advance(model.JobStatusDownloading, 0, model.StepDownloading))
	out = append(out, j.Event(false))
	require.NoError(t, j.Advance(model.JobStatusExtractingAudio, 25, model.StepExtractingAudio))
	out = append(out, j.Event(false))
	require.NoError(t, j.Fail(model.StepExtractingAudio, "Audio extraction timed out after 5m0s"))
	out = append(out, j.Event(false))
	return out
}

func TestJobEvents_SSE(t *testing.T) {
	job := sampleJob("user-1")
	events := progressEvents(t, job)
	jobs := &MockJobUseCase{StreamFunc: func(ctx context.Context, userID, jobID string) (*usecase.JobStream, error) {
		if userID != job.UserID {
			return nil, domain.E(domain.KindAuthorization, "op", "not yours", domain.ErrForbidden)
		}
		st, _ := scriptedStream(job, events...)
		return st, nil
	}}
	srv := httptest.NewServer(newRouter(jobs, nil, api.Options{Heartbeat: time.Hour}))
	defer srv.Close()

	t.Run("snapshot first, then each transition once, ending at the terminal event", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/jobs/"+job.ID+"/events", nil)
		req.Header.Set("Authorization", "Bearer "+token(t, "user-1"))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

		var got []model.JobEvent
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev model.JobEvent
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
			got = append(got, ev)
		}
		require.Len(t, got, 4)
		assert.Equal(t, model.JobStatusPending, got[0].Status)
		assert.Equal(t, model.JobStatusDownloading, got[1].Status)
		assert.Equal(t, model.JobStatusExtractingAudio, got[2].Status)
		assert.Equal(t, model.JobStatusError, got[3].Status)
		assert.Equal(t, "Audio extraction timed out after 5m0s", got[3].Error)
	})

	t.Run("403 for another user", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/jobs/"+job.ID+"/events", nil)
		req.Header.Set("Authorization", "Bearer "+token(t, "user-2"))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestJobEvents_WebSocket(t *testing.T) {
	job := sampleJob("user-1")
	events := progressEvents(t, job)
	jobs := &MockJobUseCase{StreamFunc: func(ctx context.Context, userID, jobID string) (*usecase.JobStream, error) {
		st, _ := scriptedStream(job, events...)
		return st, nil
	}}
	srv := httptest.NewServer(newRouter(jobs, nil, api.Options{Heartbeat: time.Hour}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/jobs/" + job.ID + "/ws?access_token=" + token(t, "user-1")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	var got []model.JobEvent
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var ev model.JobEvent
		if err := conn.ReadJSON(&ev); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected close: %v", err)
			break
		}
		got = append(got, ev)
	}
	require.Len(t, got, 4)
	assert.Equal(t, model.JobStatusPending, got[0].Status)
	assert.Equal(t, model.JobStatusError, got[3].Status)
}
