package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/model"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/ports/adapter"
	"github.com/Lemmeyg/howtube2-sub000/internal/infra/metrics"
)

// Compile-time check
var _ GuideGenerator = (*guideGenerator)(nil)

const (
	maxGuideSections = 12
	minAlignWordLen  = 5
)

// GeneratedGuide is the generator output before it is attached to a stored guide.
type GeneratedGuide struct {
	Title      string
	Summary    string
	Sections   []model.Section
	Keywords   []string
	Difficulty model.Difficulty
}

type GuideGenerator interface {
	// Generate runs the structure, per-section content and keyword calls in order.
	// Any failure aborts the whole guide; no partial result is returned.
	Generate(ctx context.Context, transcript *model.Transcript, meta model.VideoMetadata, cfg model.GuideConfig) (*GeneratedGuide, error)
}

type guideGenerator struct {
	ai        adapter.AIServiceAdapter
	tokens    adapter.Tokenizer
	maxPrompt int
	log       *zerolog.Logger
}

func NewGuideGenerator(ai adapter.AIServiceAdapter, tokens adapter.Tokenizer, maxPromptTokens int, logger *zerolog.Logger) *guideGenerator {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "guide_generator").Logger()
	return &guideGenerator{ai: ai, tokens: tokens, maxPrompt: maxPromptTokens, log: &l}
}

type guideStructure struct {
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	Sections []struct {
		Title string `json:"title"`
	} `json:"sections"`
}

func (g *guideGenerator) Generate(ctx context.Context, transcript *model.Transcript, meta model.VideoMetadata, cfg model.GuideConfig) (*GeneratedGuide, error) {
	const op = "guideGenerator.Generate"
	if transcript.Empty() || strings.TrimSpace(transcript.Text) == "" {
		return nil, domain.Wrap(domain.KindUpstream, op, "Guide generation failed: transcript is empty", domain.ErrGuideGeneration, nil)
	}
	text := transcript.Text
	if g.tokens != nil && g.maxPrompt > 0 {
		text = g.tokens.Truncate(text, g.maxPrompt)
	}

	structure, err := g.structure(ctx, text, meta, cfg)
	if err != nil {
		return nil, err
	}

	out := &GeneratedGuide{
		Title:      strings.TrimSpace(structure.Title),
		Summary:    strings.TrimSpace(structure.Summary),
		Difficulty: cfg.Audience,
		Sections:   make([]model.Section, 0, len(structure.Sections)),
	}
	for i, s := range structure.Sections {
		content, err := g.call(ctx, "content", cfg.Model, contentPrompt(text, out.Title, s.Title, cfg))
		if err != nil {
			return nil, domain.Wrap(domain.KindUpstream, op,
				fmt.Sprintf("Guide generation failed: section %q", s.Title), domain.ErrGuideGeneration, err)
		}
		sec := model.Section{Position: i, Title: strings.TrimSpace(s.Title), Content: strings.TrimSpace(content)}
		if cfg.IncludeTimestamps {
			sec.Timestamp = alignSection(sec.Content, transcript.Words)
		}
		out.Sections = append(out.Sections, sec)
	}

	raw, err := g.call(ctx, "keywords", cfg.Model, keywordPrompt(text))
	if err != nil {
		return nil, domain.Wrap(domain.KindUpstream, op, "Guide generation failed: keywords", domain.ErrGuideGeneration, err)
	}
	out.Keywords = parseKeywords(raw)
	return out, nil
}

func (g *guideGenerator) structure(ctx context.Context, text string, meta model.VideoMetadata, cfg model.GuideConfig) (*guideStructure, error) {
	const op = "guideGenerator.structure"
	raw, err := g.call(ctx, "structure", cfg.Model, structurePrompt(text, meta, cfg))
	if err != nil {
		return nil, domain.Wrap(domain.KindUpstream, op, "Guide generation failed: structure", domain.ErrGuideGeneration, err)
	}
	var s guideStructure
	if err := json.Unmarshal([]byte(stripFences(raw)), &s); err != nil {
		metrics.IncGuideCall("structure", "unparseable")
		g.log.Warn().Err(err).Int("reply_len", len(raw)).Msg("structure reply is not valid json")
		return nil, domain.Wrap(domain.KindUpstream, op, "Guide generation failed: could not parse guide structure", domain.ErrGuideStructure, err)
	}
	kept := s.Sections[:0]
	for _, sec := range s.Sections {
		if strings.TrimSpace(sec.Title) != "" {
			kept = append(kept, sec)
		}
	}
	s.Sections = kept
	if strings.TrimSpace(s.Title) == "" || len(s.Sections) == 0 {
		metrics.IncGuideCall("structure", "unparseable")
		return nil, domain.Wrap(domain.KindUpstream, op, "Guide generation failed: guide structure has no title or sections", domain.ErrGuideStructure, nil)
	}
	if len(s.Sections) > maxGuideSections {
		s.Sections = s.Sections[:maxGuideSections]
	}
	return &s, nil
}

func (g *guideGenerator) call(ctx context.Context, phase, modelName string, msgs []adapter.Message) (string, error) {
	reply, err := g.ai.Chat(ctx, modelName, msgs)
	if err != nil {
		metrics.IncGuideCall(phase, "error")
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		metrics.IncGuideCall(phase, "empty")
		return "", fmt.Errorf("%s: empty model reply", phase)
	}
	metrics.IncGuideCall(phase, "ok")
	return reply, nil
}

func structurePrompt(text string, meta model.VideoMetadata, cfg model.GuideConfig) []adapter.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Write the outline of a %s guide for a %s audience", cfg.Style, cfg.Audience)
	if cfg.MaxLength > 0 {
		fmt.Fprintf(&b, " of at most %d words", cfg.MaxLength)
	}
	b.WriteString(" based on the video transcript below.\n")
	if meta.Title != "" {
		fmt.Fprintf(&b, "Video title: %s\n", meta.Title)
	}
	if meta.Uploader != "" {
		fmt.Fprintf(&b, "Channel: %s\n", meta.Uploader)
	}
	b.WriteString(`Reply with JSON only, shaped as {"title": string, "summary": string, "sections": [{"title": string}]}.`)
	fmt.Fprintf(&b, "\n\nTranscript:\n%s", text)
	return []adapter.Message{
		{Role: "system", Content: "You turn video transcripts into clear written how-to guides."},
		{Role: "user", Content: b.String()},
	}
}

func contentPrompt(text, guideTitle, sectionTitle string, cfg model.GuideConfig) []adapter.Message {
	user := fmt.Sprintf(
		"Guide: %s\nSection: %s\n\nWrite the body of this section in a %s style for a %s audience, using only what the transcript says. Plain text, no heading.\n\nTranscript:\n%s",
		guideTitle, sectionTitle, cfg.Style, cfg.Audience, text)
	return []adapter.Message{
		{Role: "system", Content: "You write one section of a how-to guide at a time."},
		{Role: "user", Content: user},
	}
}

func keywordPrompt(text string) []adapter.Message {
	return []adapter.Message{
		{Role: "system", Content: "You extract search keywords."},
		{Role: "user", Content: "List 5 to 10 keywords for this transcript, separated by commas. No numbering, no extra text.\n\nTranscript:\n" + text},
	}
}

// alignSection returns the span between the first and last transcript words
// that also occur in content, or nil when nothing matches.
func alignSection(content string, words []model.Word) *model.TimeRange {
	if len(words) == 0 {
		return nil
	}
	keys := make(map[string]struct{})
	for _, f := range strings.Fields(content) {
		if w := normalizeWord(f); len([]rune(w)) >= minAlignWordLen {
			keys[w] = struct{}{}
		}
	}
	if len(keys) == 0 {
		return nil
	}
	first, last := -1, -1
	for i, w := range words {
		if _, ok := keys[normalizeWord(w.Text)]; ok {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return nil
	}
	return &model.TimeRange{StartMs: words[first].StartMs, EndMs: words[last].EndMs}
}

func normalizeWord(s string) string {
	return strings.ToLower(strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))
}

func parseKeywords(raw string) []string {
	fields := strings.FieldsFunc(stripFences(raw), func(r rune) bool { return r == ',' || r == '\n' })
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		k := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(f), "-*• "))
		if k == "" {
			continue
		}
		lk := strings.ToLower(k)
		if _, dup := seen[lk]; dup {
			continue
		}
		seen[lk] = struct{}{}
		out = append(out, k)
	}
	return out
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
