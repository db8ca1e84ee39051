package transcription

import (
	"context"
	"fmt"
	"time"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/ports/adapter"
	"github.com/Lemmeyg/howtube2-sub000/internal/infra/metrics"
)

// Poller is the single-shot half of a transcription service.
type Poller interface {
	PollStatus(ctx context.Context, id string) (*adapter.TranscriptionResult, error)
}

// WaitUntilTerminal polls id every opts.Interval until the provider reports a
// terminal status or opts.MaxAttempts polls have been made. OnStatusChange is
// only called when the status differs from the previous poll.
func WaitUntilTerminal(ctx context.Context, p Poller, id string, opts adapter.WaitOptions) (*adapter.TranscriptionResult, error) {
	const op = "transcription.WaitUntilTerminal"
	if opts.Interval <= 0 {
		opts.Interval = defaultWait.Interval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultWait.MaxAttempts
	}

	var last adapter.TranscriptionStatus
	timer := time.NewTimer(0)
	defer timer.Stop()

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		res, err := p.PollStatus(ctx, id)
		if err != nil {
			metrics.IncTranscriptionPoll("failed")
			return nil, err
		}
		metrics.IncTranscriptionPoll(string(res.Status))

		if res.Status != last {
			last = res.Status
			if opts.OnStatusChange != nil {
				opts.OnStatusChange(res.Status)
			}
		}

		switch res.Status {
		case adapter.TranscriptionCompleted:
			return res, nil
		case adapter.TranscriptionError:
			msg := res.Error
			if msg == "" {
				msg = "unknown provider error"
			}
			return res, domain.Wrap(domain.KindUpstream, op, "Transcription failed: "+msg, domain.ErrTranscriptionFailed, nil)
		}
		timer.Reset(opts.Interval)
	}

	return nil, domain.Wrap(domain.KindTimeout, op,
		fmt.Sprintf("Transcription timed out after %d status checks", opts.MaxAttempts),
		domain.ErrTranscriptionTimeout, nil)
}
