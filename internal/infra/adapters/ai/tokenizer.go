package ai

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain/ports/adapter"
)

var _ adapter.Tokenizer = (*Tokenizer)(nil)

// charsPerToken approximates English BPE density when no encoding is available.
const charsPerToken = 4

// Tokenizer counts tokens with the model's BPE encoding, falling back to
// cl100k_base and then to a character heuristic.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

func NewTokenizer(model string, logger *zerolog.Logger) *Tokenizer {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		if logger != nil {
			logger.Warn().Err(err).Str("model", model).Msg("tiktoken unavailable, estimating tokens from length")
		}
		return &Tokenizer{}
	}
	return &Tokenizer{enc: enc}
}

func (t *Tokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	if t.enc == nil {
		return (len([]rune(text)) + charsPerToken - 1) / charsPerToken
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Truncate keeps the leading maxTokens tokens of text.
func (t *Tokenizer) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 || text == "" {
		return text
	}
	if t.enc == nil {
		r := []rune(text)
		if limit := maxTokens * charsPerToken; len(r) > limit {
			return string(r[:limit])
		}
		return text
	}
	toks := t.enc.Encode(text, nil, nil)
	if len(toks) <= maxTokens {
		return text
	}
	return t.enc.Decode(toks[:maxTokens])
}
