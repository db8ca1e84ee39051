package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/ports/adapter"
)

var _ adapter.AudioExtractor = (*FFmpeg)(nil)

// FFmpeg converts media into 16 kHz mono 16-bit PCM wav.
type FFmpeg struct {
	bin     string
	timeout time.Duration
	runner  commandRunner
	log     *zerolog.Logger
}

func NewFFmpeg(bin string, timeout time.Duration, logger *zerolog.Logger) *FFmpeg {
	return newFFmpeg(bin, timeout, execRunner{waitDelay: 5 * time.Second}, logger)
}

func newFFmpeg(bin string, timeout time.Duration, runner commandRunner, logger *zerolog.Logger) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "extractor").Logger()
	return &FFmpeg{bin: bin, timeout: timeout, runner: runner, log: &l}
}

func (f *FFmpeg) Extract(ctx context.Context, inputPath, outputPath string) (string, error) {
	const op = "media.Extract"
	if _, err := os.Stat(inputPath); err != nil {
		return "", domain.Wrap(domain.KindUpstream, op, "Audio extraction failed: input missing", domain.ErrAudioExtraction, err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", domain.Wrap(domain.KindInternal, op, "Audio extraction failed: cannot create output directory", domain.ErrAudioExtraction, err)
	}

	tctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outputPath,
	}
	started := time.Now()
	res, err := f.runner.Run(tctx, f.bin, args...)
	if err != nil {
		if errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			f.log.Warn().Dur("timeout", f.timeout).Msg("ffmpeg killed after timeout")
			return "", domain.Wrap(domain.KindTimeout, op,
				fmt.Sprintf("Audio extraction timed out after %s", f.timeout), domain.ErrAudioExtractionTimeout, err)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := lastLine(res.Stderr)
		if msg == "" {
			msg = err.Error()
		}
		return "", domain.Wrap(domain.KindUpstream, op, "Audio extraction failed: "+msg, domain.ErrAudioExtraction, err)
	}

	fi, err := os.Stat(outputPath)
	if err != nil || fi.Size() == 0 {
		if err == nil {
			err = errors.New("empty output")
		}
		return "", domain.Wrap(domain.KindUpstream, op, "Audio extraction failed: no audio produced", domain.ErrAudioExtraction, err)
	}
	f.log.Debug().Dur("took", time.Since(started)).Int64("bytes", fi.Size()).Msg("audio extracted")
	return outputPath, nil
}
