package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain/ports/adapter"
	"github.com/Lemmeyg/howtube2-sub000/internal/infra/metrics"
)

var _ adapter.AIServiceAdapter = (*MultiAIAdapter)(nil)

var errNoProvider = errors.New("ai: no provider configured")

// MultiAIAdapter routes each call to a provider by model name and records usage.
type MultiAIAdapter struct {
	defaultProvider string // "openai" or "gemini"
	byProvider      map[string]adapter.AIServiceAdapter
	modelToProvider map[string]string
}

// NewMultiAIAdapter only knows a default provider; each provider adapter owns its default model.
func NewMultiAIAdapter(
	defaultProvider string,
	byProvider map[string]adapter.AIServiceAdapter,
	modelToProvider map[string]string,
) *MultiAIAdapter {
	return &MultiAIAdapter{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      byProvider,
		modelToProvider: modelToProvider,
	}
}

func (m *MultiAIAdapter) resolveProvider(model string) string {
	if p := m.modelToProvider[model]; p != "" {
		return strings.ToLower(p)
	}
	l := strings.ToLower(model)
	switch {
	case strings.HasPrefix(l, "gemini"):
		return "gemini"
	case strings.HasPrefix(l, "gpt"), strings.HasPrefix(l, "o1"), strings.HasPrefix(l, "o3"), strings.HasPrefix(l, "o4"):
		return "openai"
	default:
		return m.defaultProvider
	}
}

func (m *MultiAIAdapter) pick(model string) (string, adapter.AIServiceAdapter) {
	prov := m.resolveProvider(model)
	if a := m.byProvider[prov]; a != nil {
		return prov, a
	}
	if a := m.byProvider[m.defaultProvider]; a != nil {
		return m.defaultProvider, a
	}
	for name, a := range m.byProvider {
		if a != nil {
			return name, a
		}
	}
	return "", nil
}

func (m *MultiAIAdapter) Chat(ctx context.Context, model string, messages []adapter.Message) (string, error) {
	reply, _, err := m.ChatWithUsage(ctx, model, messages)
	return reply, err
}

func (m *MultiAIAdapter) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	prov, a := m.pick(model)
	if a == nil {
		return "", adapter.Usage{}, errNoProvider
	}
	start := time.Now()
	reply, usage, err := a.ChatWithUsage(ctx, model, messages)
	metrics.ObserveChatUsage(prov, model, usage.PromptTokens, usage.CompletionTokens,
		int(time.Since(start).Milliseconds()), err == nil)
	return reply, usage, err
}
