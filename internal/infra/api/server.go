package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/model"
	"github.com/Lemmeyg/howtube2-sub000/internal/infra/logging"
	"github.com/Lemmeyg/howtube2-sub000/internal/usecase"
)

const maxBodyBytes = 64 << 10

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Options struct {
	RequestTimeout time.Duration
	Heartbeat      time.Duration
	AllowedOrigins []string
	Health         map[string]HealthCheck
}

// Server exposes jobs and guides over HTTP.
type Server struct {
	jobs   usecase.JobUseCase
	guides usecase.GuideUseCase
	auth   *Authenticator
	opts   Options
	log    *zerolog.Logger
}

func NewServer(jobs usecase.JobUseCase, guides usecase.GuideUseCase, auth *Authenticator, opts Options, logger *zerolog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "api").Logger()
	return &Server{jobs: jobs, guides: guides, auth: auth, opts: opts, log: &l}
}

// Routes builds the router. Status streams are long-lived and skip the request timeout.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(s.log), RequestLog(s.log), Recover(s.log))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware())

		r.Group(func(r chi.Router) {
			r.Use(Timeout(s.opts.RequestTimeout))
			r.Post("/jobs", s.handleSubmitJob)
			r.Get("/jobs", s.handleListJobs)
			r.Get("/jobs/{id}", s.handleGetJob)
			r.Get("/guides", s.handleListGuides)
			r.Get("/guides/{id}", s.handleGetGuide)
			r.Delete("/guides/{id}", s.handleDeleteGuide)
		})

		r.Get("/jobs/{id}/events", s.handleJobEvents)
		r.Get("/jobs/{id}/ws", s.handleJobSocket)
	})
	return r
}

// ===== Jobs =====

type submitJobRequest struct {
	URL               string `json:"url"`
	Style             string `json:"style"`
	Audience          string `json:"audience"`
	MaxLength         int    `json:"max_length"`
	IncludeTimestamps *bool  `json:"include_timestamps"`
	Model             string `json:"model"`
}

type jobResponse struct {
	ID          string            `json:"id"`
	VideoID     string            `json:"video_id"`
	SourceURL   string            `json:"source_url"`
	Status      model.JobStatus   `json:"status"`
	Progress    int               `json:"progress"`
	Step        string            `json:"step"`
	FailedStage string            `json:"failed_stage,omitempty"`
	Error       string            `json:"error,omitempty"`
	GuideID     string            `json:"guide_id,omitempty"`
	GuideConfig model.GuideConfig `json:"guide_config"`
	Transcript  *model.Transcript `json:"transcript,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

func toJobResponse(j *model.Job, withTranscript bool) jobResponse {
	out := jobResponse{
		ID: j.ID, VideoID: j.VideoID, SourceURL: j.SourceURL,
		Status: j.Status, Progress: j.Progress, Step: j.Step,
		FailedStage: j.FailedStage, Error: j.Error, GuideID: j.GuideID,
		GuideConfig: j.GuideConfig,
		CreatedAt:   j.CreatedAt, UpdatedAt: j.UpdatedAt, CompletedAt: j.CompletedAt,
	}
	if withTranscript && !j.Transcript.Empty() {
		out.Transcript = j.Transcript
	}
	return out
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	cfg := model.GuideConfig{
		Style:     req.Style,
		Audience:  model.Difficulty(req.Audience),
		MaxLength: req.MaxLength,
		Model:     req.Model,
	}
	if req.IncludeTimestamps != nil {
		cfg.IncludeTimestamps = *req.IncludeTimestamps
	}

	userID, _ := logging.UserID(r.Context())
	job, err := s.jobs.Submit(r.Context(), userID, req.URL, cfg)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, toJobResponse(job, false))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	userID, _ := logging.UserID(r.Context())
	jobs, err := s.jobs.List(r.Context(), userID, r.URL.Query().Get("video_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, toJobResponse(j, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	userID, _ := logging.UserID(r.Context())
	job, err := s.jobs.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job, true))
}

// ===== Guides =====

func (s *Server) handleListGuides(w http.ResponseWriter, r *http.Request) {
	userID, _ := logging.UserID(r.Context())
	guides, err := s.guides.List(r.Context(), userID, r.URL.Query().Get("video_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if guides == nil {
		guides = []*model.GuideSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": guides})
}

func (s *Server) handleGetGuide(w http.ResponseWriter, r *http.Request) {
	userID, _ := logging.UserID(r.Context())
	g, err := s.guides.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleDeleteGuide(w http.ResponseWriter, r *http.Request) {
	userID, _ := logging.UserID(r.Context())
	if err := s.guides.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ===== Health =====

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.opts.Health))
	status := http.StatusOK
	for name, check := range s.opts.Health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	body := map[string]any{"status": "ok", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

// ===== Encoding =====

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.E(domain.KindValidation, "api.decodeJSON", "request body is not valid json", errors.Join(domain.ErrInvalidArgument, err))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusOf(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthorization:
		if errors.Is(err, domain.ErrUnauthenticated) {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	case domain.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, s.log, err)
}

// writeError maps err onto a status code. Internal failures are logged and
// their details withheld from the client.
func writeError(w http.ResponseWriter, r *http.Request, logger *zerolog.Logger, err error) {
	code := statusOf(err)
	msg := domain.UserMessage(err)
	if code == http.StatusInternalServerError {
		if logger != nil {
			l := logging.With(r.Context(), logger)
			l.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		}
		msg = "internal error"
	}
	writeJSON(w, code, errorBody{Error: msg, Kind: string(domain.KindOf(err))})
}
