package translate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"linguachat/internal/bus"
	"linguachat/internal/domain"
	"linguachat/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeTranslator counts calls and tracks how many run at once. When gate is
// non-nil every call blocks until it is closed.
type fakeTranslator struct {
	oneCalls   atomic.Int32
	batchCalls atomic.Int32
	active     atomic.Int32
	maxActive  atomic.Int32

	gate    chan struct{}
	oneFn   func(text, lang string) (string, error)
	batchFn func(texts []string, lang string) ([]string, error)
}

func (f *fakeTranslator) enter() {
	n := f.active.Add(1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
}

func (f *fakeTranslator) wait(ctx context.Context) error {
	if f.gate == nil {
		return nil
	}
	select {
	case <-f.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTranslator) TranslateOne(ctx context.Context, text, lang string) (string, error) {
	f.oneCalls.Add(1)
	f.enter()
	defer f.active.Add(-1)
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	if f.oneFn != nil {
		return f.oneFn(text, lang)
	}
	return lang + ":" + text, nil
}

func (f *fakeTranslator) TranslateBatch(ctx context.Context, texts []string, lang string) ([]string, error) {
	f.batchCalls.Add(1)
	f.enter()
	defer f.active.Add(-1)
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.batchFn != nil {
		return f.batchFn(texts, lang)
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = lang + ":" + t
	}
	return out, nil
}

func (f *fakeTranslator) Name() string                  { return "fake" }
func (f *fakeTranslator) Healthy(context.Context) error { return nil }

func assistantMsgs(n int) []domain.Message {
	msgs := make([]domain.Message, n)
	for i := range msgs {
		msgs[i] = domain.Message{
			ID:           fmt.Sprintf("m%d", i),
			Role:         domain.RoleAssistant,
			OriginalText: fmt.Sprintf("text %d", i),
			Translations: map[string]string{},
		}
	}
	return msgs
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestEnsure_SecondCallIsCacheHit(t *testing.T) {
	tr := &fakeTranslator{}
	s := NewScheduler(Options{Translator: tr, Logger: testLogger()})
	msg := assistantMsgs(1)[0]

	text, ok := s.Ensure(context.Background(), msg, "fr")
	if !ok || text != "fr:text 0" {
		t.Fatalf("unexpected result %q ok=%v", text, ok)
	}
	text, ok = s.Ensure(context.Background(), msg, "fr")
	if !ok || text != "fr:text 0" {
		t.Fatalf("unexpected cached result %q ok=%v", text, ok)
	}
	if n := tr.oneCalls.Load(); n != 1 {
		t.Fatalf("expected exactly 1 outbound call, got %d", n)
	}
}

func TestEnsure_InFlightPairIsNotRequestedTwice(t *testing.T) {
	tr := &fakeTranslator{gate: make(chan struct{})}
	s := NewScheduler(Options{Translator: tr, Logger: testLogger()})
	msg := assistantMsgs(1)[0]
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		s.Ensure(ctx, msg, "de")
		close(done)
	}()
	waitFor(t, func() bool { return s.InFlight(msg.ID, "de") && tr.oneCalls.Load() == 1 })

	if _, ok := s.Ensure(ctx, msg, "de"); ok {
		t.Fatal("second caller should not get a result while the first is pending")
	}
	close(tr.gate)
	<-done

	if n := tr.oneCalls.Load(); n != 1 {
		t.Fatalf("expected 1 outbound call, got %d", n)
	}
	if text, ok := s.Cache().Lookup(msg.ID, "de"); !ok || text != "de:text 0" {
		t.Fatalf("cache not populated: %q", text)
	}
	if s.InFlight(msg.ID, "de") {
		t.Fatal("in-flight mark not cleared")
	}
}

func TestEnsure_OtherLanguageNotBlockedByInFlight(t *testing.T) {
	tr := &fakeTranslator{gate: make(chan struct{})}
	s := NewScheduler(Options{Translator: tr, Logger: testLogger()})
	msg := assistantMsgs(1)[0]
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, lang := range []string{"fr", "es"} {
		lang := lang
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Ensure(ctx, msg, lang)
		}()
	}
	waitFor(t, func() bool { return tr.oneCalls.Load() == 2 })
	close(tr.gate)
	wg.Wait()

	if s.Cache().Len() != 2 {
		t.Fatalf("expected both languages cached, got %d", s.Cache().Len())
	}
}

func TestEnsure_SkipsUserMessagesAndEmptyLanguage(t *testing.T) {
	tr := &fakeTranslator{}
	s := NewScheduler(Options{Translator: tr, Logger: testLogger()})

	user := domain.Message{ID: "u", Role: domain.RoleUser, OriginalText: "bonjour"}
	if _, ok := s.Ensure(context.Background(), user, "en"); ok {
		t.Fatal("user messages are never translated")
	}
	if _, ok := s.Ensure(context.Background(), assistantMsgs(1)[0], ""); ok {
		t.Fatal("empty language means original text")
	}
	if tr.oneCalls.Load() != 0 {
		t.Fatal("no outbound calls expected")
	}
}

func TestEnsure_FailureIsNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	tr := &fakeTranslator{oneFn: func(text, lang string) (string, error) {
		if fail.Load() {
			return "", fmt.Errorf("%w: service unavailable", domain.ErrTranslation)
		}
		return "ok:" + text, nil
	}}
	m := metrics.New()
	s := NewScheduler(Options{Translator: tr, Logger: testLogger(), Metrics: m})
	msg := assistantMsgs(1)[0]

	if _, ok := s.Ensure(context.Background(), msg, "it"); ok {
		t.Fatal("expected failure")
	}
	if _, ok := s.Cache().Lookup(msg.ID, "it"); ok {
		t.Fatal("failure must leave the entry absent")
	}
	if got := testutil.ToFloat64(m.TranslationRequests.WithLabelValues(metrics.KindOne, metrics.OutcomeError)); got != 1 {
		t.Fatalf("expected 1 error observation, got %v", got)
	}

	fail.Store(false)
	if text, ok := s.Ensure(context.Background(), msg, "it"); !ok || text != "ok:text 0" {
		t.Fatalf("retry should succeed, got %q", text)
	}
	if got := testutil.ToFloat64(m.TranslationInflight); got != 0 {
		t.Fatalf("inflight gauge should return to 0, got %v", got)
	}
}

func TestEnsureAll_RespectsConcurrencyBound(t *testing.T) {
	tr := &fakeTranslator{gate: make(chan struct{})}
	s := NewScheduler(Options{Translator: tr, MaxConcurrent: 3, Logger: testLogger()})
	msgs := assistantMsgs(10)

	done := make(chan int)
	go func() { done <- s.EnsureAll(context.Background(), msgs, "ja") }()

	waitFor(t, func() bool { return tr.active.Load() == 3 })
	time.Sleep(20 * time.Millisecond)
	if got := tr.active.Load(); got != 3 {
		t.Fatalf("expected 3 pending calls while blocked, got %d", got)
	}
	if got := s.Outstanding(); got != 3 {
		t.Fatalf("expected 3 outstanding, got %d", got)
	}
	close(tr.gate)

	if n := <-done; n != 10 {
		t.Fatalf("expected 10 translated, got %d", n)
	}
	if tr.maxActive.Load() > 3 || s.PeakOutstanding() > 3 {
		t.Fatalf("bound exceeded: translator max=%d scheduler peak=%d", tr.maxActive.Load(), s.PeakOutstanding())
	}
	if tr.oneCalls.Load() != 10 {
		t.Fatalf("expected 10 calls, got %d", tr.oneCalls.Load())
	}
	if s.Outstanding() != 0 {
		t.Fatal("outstanding should drain to 0")
	}
}

func TestEnsureAll_CachedPairsCostNothing(t *testing.T) {
	tr := &fakeTranslator{}
	s := NewScheduler(Options{Translator: tr, Logger: testLogger()})
	msgs := assistantMsgs(4)
	msgs[0].Translations["ko"] = "미리"
	s.Cache().Seed(msgs)

	if n := s.EnsureAll(context.Background(), msgs, "ko"); n != 4 {
		t.Fatalf("expected 4 ready, got %d", n)
	}
	if tr.oneCalls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", tr.oneCalls.Load())
	}
	s.EnsureAll(context.Background(), msgs, "ko")
	if tr.oneCalls.Load() != 3 {
		t.Fatal("re-run must not issue calls")
	}
}

func TestEnsureAll_CountsRepeatedMessageOnce(t *testing.T) {
	tr := &fakeTranslator{}
	s := NewScheduler(Options{Translator: tr, Logger: testLogger()})
	msgs := assistantMsgs(2)
	msgs = append(msgs, msgs[0])

	if n := s.EnsureAll(context.Background(), msgs, "de"); n != 2 {
		t.Fatalf("expected 2 ready, got %d", n)
	}
	if tr.oneCalls.Load() != 2 {
		t.Fatalf("expected one call per message, got %d", tr.oneCalls.Load())
	}
}

func TestWarmBatch_PositionalAssignment(t *testing.T) {
	tr := &fakeTranslator{batchFn: func(texts []string, lang string) ([]string, error) {
		out := make([]string, len(texts))
		for i, t := range texts {
			out[i] = strings.ToUpper(t)
		}
		return out, nil
	}}
	s := NewScheduler(Options{Translator: tr, Logger: testLogger()})
	msgs := []domain.Message{
		{ID: "1", Role: domain.RoleAssistant, OriginalText: "a"},
		{ID: "2", Role: domain.RoleAssistant, OriginalText: "b"},
		{ID: "3", Role: domain.RoleAssistant, OriginalText: "c"},
	}

	report := s.WarmBatch(context.Background(), msgs, "xx")
	if report.Batches != 1 || report.Translated != 3 {
		t.Fatalf("unexpected report %+v", report)
	}
	for _, m := range msgs {
		got, _ := s.Cache().Lookup(m.ID, "xx")
		if got != strings.ToUpper(m.OriginalText) {
			t.Fatalf("message %s got %q", m.ID, got)
		}
	}
}

func TestWarmBatch_PartitionsSequentially(t *testing.T) {
	tr := &fakeTranslator{}
	s := NewScheduler(Options{Translator: tr, BatchSize: 8, Logger: testLogger()})
	msgs := assistantMsgs(20)
	msgs = append(msgs, domain.Message{ID: "u", Role: domain.RoleUser, OriginalText: "mine"})

	report := s.WarmBatch(context.Background(), msgs, "pt")
	if report.Batches != 3 || tr.batchCalls.Load() != 3 {
		t.Fatalf("expected 3 batches, got %+v", report)
	}
	if report.Translated != 20 {
		t.Fatalf("expected 20 translated, got %d", report.Translated)
	}
	if tr.maxActive.Load() != 1 {
		t.Fatalf("batches must not overlap, max active %d", tr.maxActive.Load())
	}
	if _, ok := s.Cache().Lookup("u", "pt"); ok {
		t.Fatal("user message must not be translated")
	}

	again := s.WarmBatch(context.Background(), msgs, "pt")
	if again.Batches != 0 || tr.batchCalls.Load() != 3 {
		t.Fatalf("warm cache should issue no calls, got %+v", again)
	}
}

func TestWarmBatch_FailedGroupIsSkipped(t *testing.T) {
	var calls atomic.Int32
	tr := &fakeTranslator{batchFn: func(texts []string, lang string) ([]string, error) {
		if calls.Add(1) == 1 {
			return nil, domain.ErrTranslation
		}
		out := make([]string, len(texts))
		for i := range texts {
			out[i] = "ok"
		}
		return out, nil
	}}
	s := NewScheduler(Options{Translator: tr, BatchSize: 2, Logger: testLogger()})
	msgs := assistantMsgs(4)

	report := s.WarmBatch(context.Background(), msgs, "nl")
	if report.Batches != 2 || report.Failed != 2 || report.Translated != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if _, ok := s.Cache().Lookup("m0", "nl"); ok {
		t.Fatal("failed batch must leave entries absent")
	}
	if _, ok := s.Cache().Lookup("m2", "nl"); !ok {
		t.Fatal("later batch should still run")
	}
}

func TestWarmBatch_MalformedResponseKeepsOriginals(t *testing.T) {
	tr := &fakeTranslator{batchFn: func(texts []string, lang string) ([]string, error) {
		return []string{"only one"}, nil
	}}
	s := NewScheduler(Options{Translator: tr, Logger: testLogger()})

	report := s.WarmBatch(context.Background(), assistantMsgs(3), "sv")
	if report.Failed != 3 || s.Cache().Len() != 0 {
		t.Fatalf("malformed batch must cache nothing, report %+v", report)
	}
}

func TestWarmBatch_UnchangedTextsAreNotCached(t *testing.T) {
	tr := &fakeTranslator{batchFn: func(texts []string, lang string) ([]string, error) {
		return texts, nil
	}}
	s := NewScheduler(Options{Translator: tr, Logger: testLogger()})

	report := s.WarmBatch(context.Background(), assistantMsgs(2), "fi")
	if report.Unchanged != 2 || s.Cache().Len() != 0 {
		t.Fatalf("echoed originals must not be cached, report %+v", report)
	}
}

func TestWarmBatch_DoesNotOverwriteFasterOnDemandResult(t *testing.T) {
	batchStarted := make(chan struct{})
	releaseBatch := make(chan struct{})
	tr := &fakeTranslator{
		oneFn: func(text, lang string) (string, error) { return "fast", nil },
		batchFn: func(texts []string, lang string) ([]string, error) {
			close(batchStarted)
			<-releaseBatch
			out := make([]string, len(texts))
			for i := range texts {
				out[i] = "slow"
			}
			return out, nil
		},
	}
	s := NewScheduler(Options{Translator: tr, Logger: testLogger()})
	msgs := assistantMsgs(2)

	reports := make(chan BatchReport)
	go func() { reports <- s.WarmBatch(context.Background(), msgs, "el") }()
	<-batchStarted

	if text, ok := s.Ensure(context.Background(), msgs[0], "el"); !ok || text != "fast" {
		t.Fatalf("on-demand call should win, got %q", text)
	}
	close(releaseBatch)
	report := <-reports

	if got, _ := s.Cache().Lookup(msgs[0].ID, "el"); got != "fast" {
		t.Fatalf("stale batch result overwrote entry: %q", got)
	}
	if got, _ := s.Cache().Lookup(msgs[1].ID, "el"); got != "slow" {
		t.Fatalf("untouched entry should take batch result: %q", got)
	}
	if report.Superseded != 1 || report.Translated != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestWarmBatch_CancelledWhileWaitingForSlot(t *testing.T) {
	tr := &fakeTranslator{gate: make(chan struct{})}
	s := NewScheduler(Options{Translator: tr, MaxConcurrent: 1, Logger: testLogger()})
	msgs := assistantMsgs(3)

	go s.Ensure(context.Background(), msgs[0], "ru")
	waitFor(t, func() bool { return s.Outstanding() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	report := s.WarmBatch(ctx, msgs[1:], "ru")
	if report.Batches != 0 || report.Failed != 2 {
		t.Fatalf("expected cancelled warm, got %+v", report)
	}
	close(tr.gate)
}

func TestWarmBatch_PublishesTranslationsUpdated(t *testing.T) {
	eb := bus.NewEventBus(testLogger())
	var got []bus.Event
	eb.On(bus.EventTranslationsUpdated, func(e bus.Event) { got = append(got, e) })

	s := NewScheduler(Options{Translator: &fakeTranslator{}, Bus: eb, Logger: testLogger()})
	s.WarmBatch(context.Background(), assistantMsgs(3), "hu")

	if len(got) != 1 || got[0].Payload["count"] != 3 || got[0].Payload["lang"] != "hu" {
		t.Fatalf("unexpected events %+v", got)
	}
}

func TestNilTranslatorIsInert(t *testing.T) {
	s := NewScheduler(Options{Logger: testLogger()})
	if _, ok := s.Ensure(context.Background(), assistantMsgs(1)[0], "fr"); ok {
		t.Fatal("expected no translation without a translator")
	}
	if r := s.WarmBatch(context.Background(), assistantMsgs(2), "fr"); r.Batches != 0 {
		t.Fatalf("expected no batches, got %+v", r)
	}
}
