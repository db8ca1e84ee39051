package model

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

type GuideStatus string

const (
	GuideStatusGenerating GuideStatus = "generating"
	GuideStatusCompleted  GuideStatus = "completed"
	GuideStatusError      GuideStatus = "error"
)

type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

func ParseDifficulty(s string) (Difficulty, bool) {
	switch Difficulty(strings.ToLower(strings.TrimSpace(s))) {
	case DifficultyBeginner:
		return DifficultyBeginner, true
	case DifficultyIntermediate:
		return DifficultyIntermediate, true
	case DifficultyAdvanced:
		return DifficultyAdvanced, true
	}
	return "", false
}

// TimeRange locates a section inside the source audio, in milliseconds.
type TimeRange struct {
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
}

type Section struct {
	Position  int        `json:"position"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Timestamp *TimeRange `json:"timestamp,omitempty"`
}

type Guide struct {
	ID         string      `json:"id"`
	VideoID    string      `json:"video_id"`
	UserID     string      `json:"user_id"`
	Title      string      `json:"title"`
	Summary    string      `json:"summary"`
	Sections   []Section   `json:"sections"`
	Keywords   []string    `json:"keywords"`
	Difficulty Difficulty  `json:"difficulty"`
	Status     GuideStatus `json:"status"`
	Error      string      `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// NewGuide returns an empty guide in the generating state.
func NewGuide(userID, videoID string) *Guide {
	now := time.Now().UTC()
	return &Guide{
		ID:        ulid.Make().String(),
		VideoID:   videoID,
		UserID:    userID,
		Status:    GuideStatusGenerating,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (g *Guide) OwnedBy(userID string) bool { return userID != "" && g.UserID == userID }

// GuideSummary is the list view of a guide, without section bodies.
type GuideSummary struct {
	ID           string      `json:"id"`
	VideoID      string      `json:"video_id"`
	Title        string      `json:"title"`
	Summary      string      `json:"summary"`
	Difficulty   Difficulty  `json:"difficulty"`
	Status       GuideStatus `json:"status"`
	SectionCount int         `json:"section_count"`
	CreatedAt    time.Time   `json:"created_at"`
}

// GuideConfig carries the caller's generation preferences.
type GuideConfig struct {
	Style             string     `json:"style"`
	Audience          Difficulty `json:"audience"`
	MaxLength         int        `json:"max_length"`
	IncludeTimestamps bool       `json:"include_timestamps"`
	Model             string     `json:"model,omitempty"`
}

// WithDefaults fills zero fields from def.
func (c GuideConfig) WithDefaults(def GuideConfig) GuideConfig {
	if strings.TrimSpace(c.Style) == "" {
		c.Style = def.Style
	}
	if c.Audience == "" {
		c.Audience = def.Audience
	}
	if c.MaxLength <= 0 {
		c.MaxLength = def.MaxLength
	}
	if c.Model == "" {
		c.Model = def.Model
	}
	return c
}

// VideoMetadata is what the downloader learns about the source video.
type VideoMetadata struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Uploader    string  `json:"uploader"`
	Thumbnail   string  `json:"thumbnail"`
	Duration    float64 `json:"duration"`
}
