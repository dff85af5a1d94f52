package translate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"linguachat/internal/bus"
	"linguachat/internal/domain"
	"linguachat/internal/metrics"
)

const (
	DefaultMaxConcurrent = 3
	DefaultBatchSize     = 8
)

type Options struct {
	Translator    domain.Translator
	Cache         *Cache // created when nil
	MaxConcurrent int
	BatchSize     int
	Bus           *bus.EventBus // optional; receives translations.updated
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// BatchReport summarizes one WarmBatch run.
type BatchReport struct {
	Batches    int // outbound batch calls issued
	Translated int // entries this run stored
	Unchanged  int // results identical to the source text, not cached
	Superseded int // entries another writer stored first
	Failed     int // messages in failed or malformed batches
}

type pairKey struct {
	id   string
	lang string
}

// Scheduler bounds outbound translation calls and keeps at most one
// on-demand call per (message, language) pair in flight.
type Scheduler struct {
	tr        domain.Translator
	cache     *Cache
	sem       *semaphore.Weighted
	batchSize int
	bus       *bus.EventBus
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu          sync.Mutex
	inflight    map[pairKey]struct{}
	outstanding int
	peak        int
}

func NewScheduler(opts Options) *Scheduler {
	if opts.Cache == nil {
		opts.Cache = NewCache()
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		tr:        opts.Translator,
		cache:     opts.Cache,
		sem:       semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		batchSize: opts.BatchSize,
		bus:       opts.Bus,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		inflight:  make(map[pairKey]struct{}),
	}
}

func (s *Scheduler) Cache() *Cache { return s.cache }

// NeedsTranslation reports whether msg should be translated into lang.
// User-authored messages are always shown as typed.
func (s *Scheduler) NeedsTranslation(msg domain.Message, lang string) bool {
	if lang == "" || msg.Role == domain.RoleUser || msg.OriginalText == "" {
		return false
	}
	_, ok := s.cache.Lookup(msg.ID, lang)
	return !ok
}

// Ensure translates one message on demand. It returns the cached text and
// true when a translation is available afterwards. A pair already in flight
// is left to the caller that started it.
func (s *Scheduler) Ensure(ctx context.Context, msg domain.Message, lang string) (string, bool) {
	if text, ok := s.cache.Lookup(msg.ID, lang); ok {
		return text, true
	}
	if !s.NeedsTranslation(msg, lang) || s.tr == nil {
		return "", false
	}

	key := pairKey{id: msg.ID, lang: lang}
	s.mu.Lock()
	if _, busy := s.inflight[key]; busy {
		s.mu.Unlock()
		return "", false
	}
	s.inflight[key] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, key)
		s.mu.Unlock()
	}()

	if err := s.acquire(ctx); err != nil {
		s.logger.Debug("translate: gave up waiting for a slot", "id", msg.ID, "lang", lang, "err", err)
		return "", false
	}
	started := time.Now()
	out, err := s.tr.TranslateOne(ctx, msg.OriginalText, lang)
	s.release()

	if err != nil {
		s.metrics.ObserveTranslation(metrics.KindOne, metrics.OutcomeError, started)
		s.logger.Warn("translate: request failed", "id", msg.ID, "lang", lang, "translator", s.tr.Name(), "err", err)
		return "", false
	}
	if s.cache.StoreIfAbsent(msg.ID, lang, out) {
		s.metrics.ObserveTranslation(metrics.KindOne, metrics.OutcomeOK, started)
		s.publish(lang, 1)
	} else {
		s.metrics.ObserveTranslation(metrics.KindOne, metrics.OutcomeSkipped, started)
	}
	return s.cache.Lookup(msg.ID, lang)
}

// EnsureAll runs Ensure for every message in msgs that needs it. Calls run
// concurrently up to the scheduler's bound. It returns how many distinct
// messages have a translation for lang afterwards.
func (s *Scheduler) EnsureAll(ctx context.Context, msgs []domain.Message, lang string) int {
	var (
		g     errgroup.Group
		ready atomic.Int64
	)
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		if !s.NeedsTranslation(m, lang) {
			if _, ok := s.cache.Lookup(m.ID, lang); ok {
				ready.Add(1)
			}
			continue
		}
		m := m
		g.Go(func() error {
			if _, ok := s.Ensure(ctx, m, lang); ok {
				ready.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(ready.Load())
}

// WarmBatch translates every message in msgs that needs it, in groups of
// the configured batch size. Groups run one after another and each holds a
// single slot. A failed or malformed group is logged and skipped.
func (s *Scheduler) WarmBatch(ctx context.Context, msgs []domain.Message, lang string) BatchReport {
	var report BatchReport
	if s.tr == nil {
		return report
	}

	pending := make([]domain.Message, 0, len(msgs))
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if seen[m.ID] || !s.NeedsTranslation(m, lang) {
			continue
		}
		seen[m.ID] = true
		pending = append(pending, m)
	}

	for start := 0; start < len(pending); start += s.batchSize {
		group := pending[start:min(start+s.batchSize, len(pending))]
		if err := s.acquire(ctx); err != nil {
			report.Failed += len(pending) - start
			s.logger.Debug("translate: batch warm cancelled", "lang", lang, "remaining", len(pending)-start, "err", err)
			break
		}
		s.runBatch(ctx, group, lang, &report)
		s.release()
	}

	if report.Translated > 0 {
		s.publish(lang, report.Translated)
	}
	return report
}

func (s *Scheduler) runBatch(ctx context.Context, group []domain.Message, lang string, report *BatchReport) {
	texts := make([]string, len(group))
	for i, m := range group {
		texts[i] = m.OriginalText
	}

	report.Batches++
	started := time.Now()
	out, err := s.tr.TranslateBatch(ctx, texts, lang)
	if err != nil {
		report.Failed += len(group)
		s.metrics.ObserveTranslation(metrics.KindBatch, metrics.OutcomeError, started)
		s.logger.Warn("translate: batch failed", "lang", lang, "size", len(group), "translator", s.tr.Name(), "err", err)
		return
	}
	if len(out) != len(texts) {
		report.Failed += len(group)
		s.metrics.ObserveTranslation(metrics.KindBatch, metrics.OutcomeError, started)
		s.logger.Warn("translate: malformed batch response", "lang", lang, "want", len(texts), "got", len(out))
		return
	}
	s.metrics.ObserveTranslation(metrics.KindBatch, metrics.OutcomeOK, started)

	// Results pair with requests by position.
	for i, m := range group {
		switch {
		case out[i] == "" || out[i] == texts[i]:
			report.Unchanged++
		case s.cache.StoreIfAbsent(m.ID, lang, out[i]):
			report.Translated++
		default:
			report.Superseded++
		}
	}
}

func (s *Scheduler) acquire(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.mu.Lock()
	s.outstanding++
	if s.outstanding > s.peak {
		s.peak = s.outstanding
	}
	s.mu.Unlock()
	s.metrics.InflightInc()
	return nil
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.outstanding--
	s.mu.Unlock()
	s.metrics.InflightDec()
	s.sem.Release(1)
}

// Outstanding returns the number of outbound calls currently pending.
func (s *Scheduler) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding
}

// PeakOutstanding returns the most outbound calls ever pending at once.
func (s *Scheduler) PeakOutstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

// InFlight reports whether an on-demand call for (id, lang) is pending.
func (s *Scheduler) InFlight(id, lang string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[pairKey{id: id, lang: lang}]
	return ok
}

func (s *Scheduler) publish(lang string, count int) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{
		Type:    bus.EventTranslationsUpdated,
		Source:  "translate",
		Payload: map[string]any{"lang": lang, "count": count},
	})
}
