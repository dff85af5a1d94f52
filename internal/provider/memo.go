package provider

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"linguachat/internal/domain"
)

// Memo remembers recent (text, language) results so repeated phrases across
// conversations cost nothing. Only successful translations are remembered.
type Memo struct {
	next  domain.Translator
	cache *lru.Cache
}

func NewMemo(next domain.Translator, size int) (*Memo, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("translation memo: %w", err)
	}
	return &Memo{next: next, cache: cache}, nil
}

func memoKey(text, lang string) string { return lang + "\x00" + text }

func (m *Memo) Name() string { return m.next.Name() }

func (m *Memo) Healthy(ctx context.Context) error { return m.next.Healthy(ctx) }

func (m *Memo) TranslateOne(ctx context.Context, text, lang string) (string, error) {
	if v, ok := m.cache.Get(memoKey(text, lang)); ok {
		return v.(string), nil
	}
	out, err := m.next.TranslateOne(ctx, text, lang)
	if err != nil {
		return "", err
	}
	m.cache.Add(memoKey(text, lang), out)
	return out, nil
}

// TranslateBatch forwards only the texts it has not seen. Positions are
// preserved in the result.
func (m *Memo) TranslateBatch(ctx context.Context, texts []string, lang string) ([]string, error) {
	out := make([]string, len(texts))
	var (
		missing []string
		at      []int
	)
	for i, t := range texts {
		if v, ok := m.cache.Get(memoKey(t, lang)); ok {
			out[i] = v.(string)
			continue
		}
		missing = append(missing, t)
		at = append(at, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	got, err := m.next.TranslateBatch(ctx, missing, lang)
	if err != nil {
		return nil, err
	}
	if len(got) != len(missing) {
		return append([]string(nil), texts...), nil
	}
	for j, i := range at {
		out[i] = got[j]
		// Echoed originals are a backend fallback, not a translation.
		if got[j] != "" && got[j] != missing[j] {
			m.cache.Add(memoKey(missing[j], lang), got[j])
		}
	}
	return out, nil
}

func (m *Memo) Len() int { return m.cache.Len() }
