package adapter

import (
	"context"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain/model"
)

type DownloadResult struct {
	MediaPath string
	Metadata  model.VideoMetadata
}

// Downloader fetches the media behind a video URL into dir.
type Downloader interface {
	Download(ctx context.Context, videoURL, dir string) (*DownloadResult, error)
}

// AudioExtractor converts a media file into a speech-ready audio file at outputPath.
// The returned path exists and is non-empty on success.
type AudioExtractor interface {
	Extract(ctx context.Context, inputPath, outputPath string) (string, error)
}
