package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/model"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/ports/adapter"
)

var _ adapter.Downloader = (*YtDlp)(nil)

// YtDlp downloads the best audio stream of a video with yt-dlp.
type YtDlp struct {
	bin     string
	timeout time.Duration
	runner  commandRunner
	log     *zerolog.Logger
}

func NewYtDlp(bin string, timeout time.Duration, logger *zerolog.Logger) *YtDlp {
	return newYtDlp(bin, timeout, execRunner{waitDelay: 5 * time.Second}, logger)
}

func newYtDlp(bin string, timeout time.Duration, runner commandRunner, logger *zerolog.Logger) *YtDlp {
	if bin == "" {
		bin = "yt-dlp"
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "downloader").Logger()
	return &YtDlp{bin: bin, timeout: timeout, runner: runner, log: &l}
}

type ytDlpInfo struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Uploader    string  `json:"uploader"`
	Thumbnail   string  `json:"thumbnail"`
	Duration    float64 `json:"duration"`
}

func (y *YtDlp) Download(ctx context.Context, videoURL, dir string) (*adapter.DownloadResult, error) {
	const op = "media.Download"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.Wrap(domain.KindInternal, op, "Download failed: cannot create work directory", domain.ErrDownload, err)
	}
	if y.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.timeout)
		defer cancel()
	}

	args := []string{
		"--no-playlist",
		"--no-progress",
		"--no-simulate",
		"--dump-json",
		"-f", "bestaudio/best",
		"-o", filepath.Join(dir, "media.%(ext)s"),
		videoURL,
	}
	res, err := y.runner.Run(ctx, y.bin, args...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, domain.Wrap(domain.KindTimeout, op, "Download failed: timed out", domain.ErrDownload, err)
		}
		msg := lastLine(res.Stderr)
		if msg == "" {
			msg = err.Error()
		}
		y.log.Warn().Int("exit_code", res.ExitCode).Str("stderr", msg).Msg("yt-dlp failed")
		return nil, domain.Wrap(domain.KindUpstream, op, "Download failed: "+msg, domain.ErrDownload, err)
	}

	var info ytDlpInfo
	if line := lastLine(res.Stdout); line != "" {
		if err := json.Unmarshal([]byte(line), &info); err != nil {
			y.log.Warn().Err(err).Msg("yt-dlp metadata not parseable")
		}
	}

	path, err := findMedia(dir)
	if err != nil {
		return nil, domain.Wrap(domain.KindUpstream, op, "Download failed: no media file produced", domain.ErrDownload, err)
	}
	return &adapter.DownloadResult{
		MediaPath: path,
		Metadata: model.VideoMetadata{
			ID:          info.ID,
			Title:       info.Title,
			Description: info.Description,
			Uploader:    info.Uploader,
			Thumbnail:   info.Thumbnail,
			Duration:    info.Duration,
		},
	}, nil
}

func findMedia(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "media.*"))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if strings.HasSuffix(m, ".part") || strings.HasSuffix(m, ".ytdl") {
			continue
		}
		if fi, err := os.Stat(m); err == nil && fi.Size() > 0 {
			return m, nil
		}
	}
	return "", fmt.Errorf("no media file in %s", dir)
}
