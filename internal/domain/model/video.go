package model

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain"
)

var videoIDRE = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)

var youtubeHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
	"youtu.be":          true,
	"www.youtu.be":      true,
}

// ParseVideoURL validates a YouTube URL and returns its canonical form and the
// 11-character video id. Accepted shapes: watch?v=, youtu.be/, /embed/, /shorts/, /live/.
func ParseVideoURL(raw string) (canonical, videoID string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", domain.E(domain.KindValidation, "ParseVideoURL", "video url is required", domain.ErrInvalidVideoURL)
	}
	u, perr := url.Parse(raw)
	if perr != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", "", domain.E(domain.KindValidation, "ParseVideoURL", "video url must be an http(s) YouTube link", domain.ErrInvalidVideoURL)
	}
	host := strings.ToLower(u.Hostname())
	if !youtubeHosts[host] {
		return "", "", domain.E(domain.KindValidation, "ParseVideoURL", "only YouTube links are supported", domain.ErrInvalidVideoURL)
	}

	var id string
	path := strings.Trim(u.Path, "/")
	switch {
	case strings.HasSuffix(host, "youtu.be"):
		id = firstSegment(path)
	case path == "watch":
		id = u.Query().Get("v")
	default:
		parts := strings.Split(path, "/")
		if len(parts) >= 2 {
			switch parts[0] {
			case "embed", "shorts", "live", "v":
				id = parts[1]
			}
		}
	}
	if !videoIDRE.MatchString(id) {
		return "", "", domain.E(domain.KindValidation, "ParseVideoURL", "could not find a video id in the link", domain.ErrInvalidVideoURL)
	}
	return "https://www.youtube.com/watch?v=" + id, id, nil
}

func firstSegment(p string) string {
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return p
}
