package transcription

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/model"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/ports/adapter"
)

var _ adapter.TranscriptionService = (*Client)(nil)

type Client struct {
	backend Backend
	wait    adapter.WaitOptions
	log     *zerolog.Logger
}

// NewClient wires a client over backend. defaults fills zero fields of the
// options passed to WaitUntilTerminal.
func NewClient(backend Backend, defaults adapter.WaitOptions, logger *zerolog.Logger) *Client {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "transcription").Logger()
	return &Client{backend: backend, wait: defaults, log: &l}
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type submitRequest struct {
	AudioURL      string `json:"audio_url"`
	LanguageCode  string `json:"language_code,omitempty"`
	Punctuate     bool   `json:"punctuate"`
	FormatText    bool   `json:"format_text"`
	SpeakerLabels bool   `json:"speaker_labels"`
}

type wordDTO struct {
	Text       string  `json:"text"`
	Start      int64   `json:"start"`
	End        int64   `json:"end"`
	Confidence float64 `json:"confidence"`
}

type transcriptDTO struct {
	ID     string    `json:"id"`
	Status string    `json:"status"`
	Text   string    `json:"text"`
	Words  []wordDTO `json:"words"`
	Error  string    `json:"error"`
}

func (c *Client) Submit(ctx context.Context, audioLocation string, cfg adapter.TranscriptionConfig) (string, error) {
	const op = "transcription.Submit"
	audioURL := audioLocation
	if !isRemote(audioLocation) {
		uploaded, err := c.upload(ctx, audioLocation)
		if err != nil {
			return "", domain.Wrap(domain.KindUpstream, op, "Transcription submit failed: upload error", domain.ErrTranscriptionSubmit, err)
		}
		audioURL = uploaded
	}

	var out transcriptDTO
	err := c.backend.Call(ctx, http.MethodPost, "/transcript", submitRequest{
		AudioURL:      audioURL,
		LanguageCode:  cfg.LanguageCode,
		Punctuate:     cfg.Punctuate,
		FormatText:    cfg.FormatText,
		SpeakerLabels: cfg.SpeakerLabels,
	}, &out)
	if err != nil {
		return "", domain.Wrap(domain.KindUpstream, op, "Transcription submit failed: "+reason(err), domain.ErrTranscriptionSubmit, err)
	}
	if out.ID == "" {
		return "", domain.Wrap(domain.KindUpstream, op, "Transcription submit failed: provider returned no id", domain.ErrTranscriptionSubmit, nil)
	}
	c.log.Info().Str("transcription_id", out.ID).Str("status", out.Status).Msg("transcription submitted")
	return out.ID, nil
}

func (c *Client) upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var out uploadResponse
	if err := c.backend.Upload(ctx, "/upload", f, &out); err != nil {
		return "", err
	}
	if out.UploadURL == "" {
		return "", fmt.Errorf("upload returned no url")
	}
	return out.UploadURL, nil
}

func (c *Client) PollStatus(ctx context.Context, id string) (*adapter.TranscriptionResult, error) {
	var out transcriptDTO
	if err := c.backend.Call(ctx, http.MethodGet, "/transcript/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, domain.Wrap(domain.KindUpstream, "transcription.PollStatus",
			"Transcription status check failed: "+reason(err), domain.ErrTranscriptionStatus, err)
	}
	res := &adapter.TranscriptionResult{
		ID:     out.ID,
		Status: normalizeStatus(out.Status),
		Text:   out.Text,
		Error:  out.Error,
	}
	if res.ID == "" {
		res.ID = id
	}
	if len(out.Words) > 0 {
		res.Words = make([]model.Word, len(out.Words))
		for i, w := range out.Words {
			res.Words[i] = model.Word{Text: w.Text, StartMs: w.Start, EndMs: w.End, Confidence: w.Confidence}
		}
	}
	return res, nil
}

func (c *Client) WaitUntilTerminal(ctx context.Context, id string, opts adapter.WaitOptions) (*adapter.TranscriptionResult, error) {
	if opts.Interval <= 0 {
		opts.Interval = c.wait.Interval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = c.wait.MaxAttempts
	}
	return WaitUntilTerminal(ctx, c, id, opts)
}

func (c *Client) Delete(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if err := c.backend.Call(ctx, http.MethodDelete, "/transcript/"+url.PathEscape(id), nil, nil); err != nil {
		c.log.Warn().Err(err).Str("transcription_id", id).Msg("delete transcription failed")
	}
}

func isRemote(loc string) bool {
	return strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://")
}

// normalizeStatus maps provider states onto ours. Unknown states count as processing.
func normalizeStatus(s string) adapter.TranscriptionStatus {
	switch strings.ToLower(s) {
	case "queued":
		return adapter.TranscriptionQueued
	case "completed":
		return adapter.TranscriptionCompleted
	case "error":
		return adapter.TranscriptionError
	default:
		return adapter.TranscriptionProcessing
	}
}

func reason(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err.Error()
	}
	return "request error"
}

// defaultWait is used by callers that pass zero options.
var defaultWait = adapter.WaitOptions{Interval: 2 * time.Second, MaxAttempts: 300}
