// Package chat holds the active conversation view. It keeps an in-memory copy
// of the loaded conversation and routes every durable change through the
// history store.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"linguachat/internal/display"
	"linguachat/internal/domain"
	"linguachat/internal/history"
	"linguachat/internal/translate"
)

var (
	ErrNotFound  = errors.New("conversation not found")
	ErrEmptyText = errors.New("message is empty")
)

// Responder produces the assistant's next turn.
type Responder interface {
	Reply(ctx context.Context, history []domain.Message) (string, error)
}

// LanguageFunc returns the current display language. It is read on every
// translate and display operation; "" means original text.
type LanguageFunc func() string

type Options struct {
	Store     *history.Store
	Scheduler *translate.Scheduler
	Responder Responder // optional
	Language  LanguageFunc
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string
}

type Session struct {
	store     *history.Store
	sched     *translate.Scheduler
	responder Responder
	lang      LanguageFunc
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	mu     sync.Mutex
	convID string
	msgs   []domain.Message
}

// Line is one resolved message ready to print.
type Line struct {
	Role       domain.Role
	Text       string
	Translated bool
}

func NewSession(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Language == nil {
		opts.Language = func() string { return "" }
	}
	if opts.Scheduler == nil {
		opts.Scheduler = translate.NewScheduler(translate.Options{Logger: opts.Logger})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Session{
		store:     opts.Store,
		sched:     opts.Scheduler,
		responder: opts.Responder,
		lang:      opts.Language,
		logger:    opts.Logger,
		now:       opts.Now,
		newID:     opts.NewID,
	}
}

// ID returns the active conversation id, or "" before the first save.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convID
}

// Messages returns the active messages with cached translations merged in.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	msgs := s.msgs
	s.mu.Unlock()
	return s.sched.Cache().Apply(msgs)
}

// Display resolves every active message for the current language.
func (s *Session) Display() []Line {
	lang := s.lang()
	msgs := s.Messages()
	lines := make([]Line, len(msgs))
	for i, m := range msgs {
		text := display.Resolve(m, lang)
		lines[i] = Line{Role: m.Role, Text: text, Translated: text != m.OriginalText}
	}
	return lines
}

// Send appends a user message, asks the responder for a reply and persists
// after each step. The reply is translated on demand for the current
// language. Without a responder only the user message is recorded.
func (s *Session) Send(ctx context.Context, text string) (domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Message{}, ErrEmptyText
	}
	s.appendMessage(domain.RoleUser, text)
	s.Persist(ctx)

	if s.responder == nil {
		return domain.Message{}, nil
	}
	reply, err := s.responder.Reply(ctx, s.Messages())
	if err != nil {
		s.logger.Warn("chat: responder failed", "conversation", s.ID(), "err", err)
		return domain.Message{}, err
	}
	msg := s.appendMessage(domain.RoleAssistant, reply)

	if lang := s.lang(); lang != "" {
		s.sched.Ensure(ctx, msg, lang)
	}
	s.Persist(ctx)
	return s.sched.Cache().Apply([]domain.Message{msg})[0], nil
}

func (s *Session) appendMessage(role domain.Role, text string) domain.Message {
	msg := domain.Message{
		ID:           s.newID(),
		Role:         role,
		OriginalText: text,
		Translations: map[string]string{},
		Timestamp:    s.now().UTC(),
	}
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	return msg
}

// Persist saves the active messages, with cached translations, under the
// active id. It reports false when there was nothing to save.
func (s *Session) Persist(ctx context.Context) bool {
	if s.store == nil {
		return false
	}
	s.mu.Lock()
	id, msgs := s.convID, s.msgs
	s.mu.Unlock()

	conv, _, ok := s.store.Save(ctx, id, s.sched.Cache().Apply(msgs))
	if !ok {
		return false
	}
	s.mu.Lock()
	if s.convID == id {
		s.convID = conv.ID
	}
	s.mu.Unlock()
	return true
}

// Load replaces the active view with a stored conversation.
func (s *Session) Load(ctx context.Context, id string) error {
	conv, ok := s.store.GetByID(ctx, id)
	if !ok {
		return ErrNotFound
	}
	s.mu.Lock()
	s.forgetLocked()
	s.convID = conv.ID
	s.msgs = conv.Messages
	s.mu.Unlock()
	s.sched.Cache().Seed(conv.Messages)
	return nil
}

// New starts an empty conversation. Nothing is stored until the first user
// message.
func (s *Session) New() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgetLocked()
	s.convID = ""
	s.msgs = nil
}

func (s *Session) forgetLocked() {
	for _, m := range s.msgs {
		s.sched.Cache().Forget(m.ID)
	}
}

// SwitchLanguage warms the cache for the current language with batch calls
// and persists whatever was translated. Call it after the language selector
// changes.
func (s *Session) SwitchLanguage(ctx context.Context) translate.BatchReport {
	lang := s.lang()
	s.mu.Lock()
	msgs := s.msgs
	s.mu.Unlock()

	report := s.sched.WarmBatch(ctx, msgs, lang)
	if report.Translated > 0 {
		s.Persist(ctx)
	}
	s.logger.Debug("chat: language switched", "lang", lang, "batches", report.Batches, "translated", report.Translated, "failed", report.Failed)
	return report
}

// EnsureVisible translates, one request per message, whatever the batch
// flow left untranslated. It returns how many messages are now translated.
func (s *Session) EnsureVisible(ctx context.Context) int {
	lang := s.lang()
	s.mu.Lock()
	msgs := s.msgs
	s.mu.Unlock()

	before := s.sched.Cache().Len()
	n := s.sched.EnsureAll(ctx, msgs, lang)
	if s.sched.Cache().Len() > before {
		s.Persist(ctx)
	}
	return n
}
