package adapter

import (
	"context"
	"time"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain/model"
)

type TranscriptionStatus string

const (
	TranscriptionQueued     TranscriptionStatus = "queued"
	TranscriptionProcessing TranscriptionStatus = "processing"
	TranscriptionCompleted  TranscriptionStatus = "completed"
	TranscriptionError      TranscriptionStatus = "error"
)

func (s TranscriptionStatus) IsTerminal() bool {
	return s == TranscriptionCompleted || s == TranscriptionError
}

type TranscriptionConfig struct {
	LanguageCode  string
	Punctuate     bool
	FormatText    bool
	SpeakerLabels bool
}

type TranscriptionResult struct {
	ID     string
	Status TranscriptionStatus
	Text   string
	Words  []model.Word
	Error  string
}

func (r *TranscriptionResult) Transcript() *model.Transcript {
	return &model.Transcript{Text: r.Text, Words: r.Words}
}

type WaitOptions struct {
	Interval    time.Duration
	MaxAttempts int
	// OnStatusChange fires once per distinct sub-status, in poll order.
	OnStatusChange func(status TranscriptionStatus)
}

// TranscriptionService is an asynchronous speech-to-text provider.
type TranscriptionService interface {
	// Submit uploads local files first; remote URLs are passed through.
	Submit(ctx context.Context, audioLocation string, cfg TranscriptionConfig) (string, error)
	PollStatus(ctx context.Context, id string) (*TranscriptionResult, error)
	WaitUntilTerminal(ctx context.Context, id string, opts WaitOptions) (*TranscriptionResult, error)
	// Delete is best effort and never fails the caller.
	Delete(ctx context.Context, id string)
}
