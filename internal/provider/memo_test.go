package provider

import (
	"context"
	"testing"
)

func TestMemo_TranslateOneCachesSuccess(t *testing.T) {
	inner := &mockTranslator{name: "inner", prefix: "t:"}
	m, err := NewMemo(inner, 16)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		out, err := m.TranslateOne(ctx, "hello", "fr")
		if err != nil || out != "t:hello" {
			t.Fatalf("unexpected %q %v", out, err)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("expected 1 inner call, got %d", inner.calls)
	}
	if _, err := m.TranslateOne(ctx, "hello", "de"); err != nil || inner.calls != 2 {
		t.Fatal("other language must miss")
	}
}

func TestMemo_BatchForwardsOnlyMisses(t *testing.T) {
	inner := &recordingBatch{}
	m, _ := NewMemo(inner, 16)
	ctx := context.Background()

	m.TranslateOne(ctx, "b", "it") // prime via single path
	out, err := m.TranslateBatch(ctx, []string{"a", "b", "c"}, "it")
	if err != nil {
		t.Fatal(err)
	}
	if out[0] != "A" || out[1] != "B" || out[2] != "C" {
		t.Fatalf("positions not preserved: %v", out)
	}
	if len(inner.lastBatch) != 2 || inner.lastBatch[0] != "a" || inner.lastBatch[1] != "c" {
		t.Fatalf("expected only misses forwarded, got %v", inner.lastBatch)
	}

	inner.lastBatch = nil
	m.TranslateBatch(ctx, []string{"a", "c"}, "it")
	if inner.lastBatch != nil {
		t.Fatal("fully memoized batch must not reach the backend")
	}
}

func TestMemo_DoesNotRememberEchoedOriginals(t *testing.T) {
	inner := &recordingBatch{echo: true}
	m, _ := NewMemo(inner, 16)

	m.TranslateBatch(context.Background(), []string{"x"}, "ja")
	if m.Len() != 0 {
		t.Fatalf("echoed originals must not be memoized, len=%d", m.Len())
	}
}

func TestNewMemo_InvalidSize(t *testing.T) {
	if _, err := NewMemo(&mockTranslator{}, 0); err == nil {
		t.Fatal("expected error for size 0")
	}
}

// recordingBatch upper-cases ASCII letters and records the last batch.
type recordingBatch struct {
	mockTranslator
	echo      bool
	lastBatch []string
}

func (r *recordingBatch) TranslateOne(ctx context.Context, text, lang string) (string, error) {
	return upper(text), nil
}

func (r *recordingBatch) TranslateBatch(ctx context.Context, texts []string, lang string) ([]string, error) {
	r.lastBatch = append([]string(nil), texts...)
	out := make([]string, len(texts))
	for i, t := range texts {
		if r.echo {
			out[i] = t
		} else {
			out[i] = upper(t)
		}
	}
	return out, nil
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 32
		}
	}
	return string(b)
}
