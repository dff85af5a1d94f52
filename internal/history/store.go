// Package history owns the durable conversation collection. The whole
// collection lives in one slot and every mutation rewrites it.
//
// Storage failures never reach callers: the store logs them and keeps
// operating on its in-memory copy for the rest of the session.
package history

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"linguachat/internal/bus"
	"linguachat/internal/codec"
	"linguachat/internal/domain"
	"linguachat/internal/metrics"
)

// DefaultMaxBytes is the advisory size ceiling for one conversation's messages.
const DefaultMaxBytes = 500_000

// Keys names the two slots the store uses.
type Keys struct {
	Collection string
	Metadata   string
}

func DefaultKeys() Keys {
	return Keys{
		Collection: "linguachat.conversations",
		Metadata:   "linguachat.metadata",
	}
}

type Options struct {
	Slot     domain.Slot
	Bus      *bus.EventBus // created when nil
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	MaxBytes int
	Keys     Keys
	Now      func() time.Time
	NewID    func() string
}

type Store struct {
	mu       sync.Mutex
	slot     domain.Slot
	bus      *bus.EventBus
	logger   *slog.Logger
	metrics  *metrics.Metrics
	maxBytes int
	keys     Keys
	now      func() time.Time
	newID    func() string

	// last successfully loaded or locally mutated collection
	convs []domain.Conversation
	// set after a failed write: memory is ahead of the slot
	dirty bool
	// set once the slot has been read successfully; until then memory holds
	// only changes made since startup and must never replace the slot
	loaded bool
}

func New(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Bus == nil {
		opts.Bus = bus.NewEventBus(opts.Logger)
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Keys.Collection == "" || opts.Keys.Metadata == "" {
		opts.Keys = DefaultKeys()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Store{
		slot:     opts.Slot,
		bus:      opts.Bus,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		maxBytes: opts.MaxBytes,
		keys:     opts.Keys,
		now:      opts.Now,
		newID:    opts.NewID,
	}
}

// Subscribe registers handler for conversations.changed events.
func (s *Store) Subscribe(handler bus.EventHandler) (unsubscribe func()) {
	return s.bus.On(bus.EventConversationsChanged, handler)
}

// Bus returns the event bus the store publishes on.
func (s *Store) Bus() *bus.EventBus { return s.bus }

// List returns every conversation in storage order.
func (s *Store) List(ctx context.Context) []domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneConversations(s.load(ctx))
}

func (s *Store) GetByID(ctx context.Context, id string) (domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	convs := s.load(ctx)
	if i := indexByID(convs, id); i >= 0 {
		return convs[i].Clone(), true
	}
	return domain.Conversation{}, false
}

// UpsertFromMessages saves msgs keyed by their derived title. A conversation
// with the same title is updated in place; otherwise a new one is inserted at
// the head. Transcripts without a user message are never persisted.
func (s *Store) UpsertFromMessages(ctx context.Context, msgs []domain.Message) []domain.Conversation {
	if !domain.HasUserTurn(msgs) {
		return s.List(ctx)
	}

	s.mu.Lock()
	convs := s.load(ctx)
	idx := indexByTitle(convs, Title(msgs))
	if idx >= 0 {
		s.replaceMessages(&convs[idx], msgs)
	} else {
		convs = append([]domain.Conversation{s.newConversation(s.newID(), msgs)}, convs...)
	}
	out := s.persist(ctx, convs)
	s.mu.Unlock()

	s.publish(len(out))
	return out
}

// Save persists msgs under an explicit conversation id. An empty id falls
// back to the title-keyed path; an unknown id creates the conversation under
// that id. ok is false when msgs has no user message and nothing was saved.
func (s *Store) Save(ctx context.Context, id string, msgs []domain.Message) (conv domain.Conversation, all []domain.Conversation, ok bool) {
	if !domain.HasUserTurn(msgs) {
		return domain.Conversation{}, s.List(ctx), false
	}

	s.mu.Lock()
	convs := s.load(ctx)
	idx := indexByID(convs, id)
	if id == "" {
		idx = indexByTitle(convs, Title(msgs))
	}
	if idx >= 0 {
		s.replaceMessages(&convs[idx], msgs)
	} else {
		if id == "" {
			id = s.newID()
		}
		convs = append([]domain.Conversation{s.newConversation(id, msgs)}, convs...)
		idx = 0
	}
	conv = convs[idx].Clone()
	out := s.persist(ctx, convs)
	s.mu.Unlock()

	s.publish(len(out))
	return conv, out, true
}

// Rename sets a user-chosen title. An empty title or unknown id changes nothing.
func (s *Store) Rename(ctx context.Context, id, title string) (domain.Conversation, bool) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Conversation{}, false
	}

	s.mu.Lock()
	convs := s.load(ctx)
	idx := indexByID(convs, id)
	if idx < 0 {
		s.mu.Unlock()
		return domain.Conversation{}, false
	}
	convs[idx].Title = title
	convs[idx].Meta.TitleIsSet = true
	convs[idx].UpdatedAt = s.now().UTC()
	conv := convs[idx].Clone()
	out := s.persist(ctx, convs)
	s.mu.Unlock()

	s.publish(len(out))
	return conv, true
}

// Delete removes one conversation. An unknown id writes nothing and
// publishes nothing.
func (s *Store) Delete(ctx context.Context, id string) []domain.Conversation {
	s.mu.Lock()
	convs := s.load(ctx)
	idx := indexByID(convs, id)
	if idx < 0 {
		out := domain.CloneConversations(convs)
		s.mu.Unlock()
		return out
	}
	convs = append(convs[:idx:idx], convs[idx+1:]...)
	out := s.persist(ctx, convs)
	s.mu.Unlock()

	s.publish(len(out))
	return out
}

// DeleteAll clears the durable collection and its metadata.
func (s *Store) DeleteAll(ctx context.Context) {
	s.mu.Lock()
	s.convs = nil
	s.dirty = false
	s.loaded = true
	if s.slot != nil {
		for _, key := range []string{s.keys.Collection, s.keys.Metadata} {
			if err := s.slot.Remove(ctx, key); err != nil {
				s.logger.Warn("history: cannot remove slot, continuing in memory", "key", key, "err", err)
				s.dirty = true
			}
		}
	}
	if s.dirty {
		s.metrics.StoreWrite(metrics.OutcomeError, 0)
	} else {
		s.metrics.StoreWrite(metrics.OutcomeOK, 0)
	}
	s.mu.Unlock()

	s.publish(0)
}

// load returns the working collection. Callers hold s.mu. Memory wins while
// it holds writes the slot never accepted.
func (s *Store) load(ctx context.Context) []domain.Conversation {
	if s.slot == nil || (s.loaded && s.dirty) {
		return s.convs
	}
	raw, err := s.slot.Read(ctx, s.keys.Collection)
	if err != nil {
		s.logger.Warn("history: cannot read slot, using last loaded list", "key", s.keys.Collection, "err", err)
		return s.convs
	}
	s.adopt(raw)
	return s.convs
}

// adopt installs the decoded slot contents as the working collection. Changes
// made in memory before the first successful read are laid over them.
func (s *Store) adopt(raw []byte) {
	durable := codec.Decode(raw)
	if !s.loaded && s.dirty {
		durable = overlay(durable, s.convs)
	}
	s.convs = durable
	s.loaded = true
}

// persist writes convs and adopts them as the in-memory state whatever the
// outcome. Callers hold s.mu.
func (s *Store) persist(ctx context.Context, convs []domain.Conversation) []domain.Conversation {
	s.convs = convs
	if s.slot == nil {
		return domain.CloneConversations(convs)
	}

	if !s.loaded {
		raw, err := s.slot.Read(ctx, s.keys.Collection)
		if err != nil {
			s.dirty = true
			s.metrics.StoreWrite(metrics.OutcomeError, len(convs))
			s.logger.Warn("history: slot never read, keeping changes in memory", "key", s.keys.Collection, "err", err)
			return domain.CloneConversations(convs)
		}
		s.dirty = true
		s.adopt(raw)
		convs = s.convs
	}

	out := domain.CloneConversations(convs)
	data, err := codec.Encode(convs)
	if err == nil {
		err = s.slot.Write(ctx, s.keys.Collection, data)
	}
	if err != nil {
		s.dirty = true
		s.metrics.StoreWrite(metrics.OutcomeError, len(convs))
		s.logger.Warn("history: cannot write slot, keeping changes in memory", "key", s.keys.Collection, "err", err)
		return out
	}
	s.dirty = false
	s.metrics.StoreWrite(metrics.OutcomeOK, len(convs))
	s.writeMetadata(ctx, len(convs))
	return out
}

func (s *Store) writeMetadata(ctx context.Context, count int) {
	meta, err := sjson.SetBytes([]byte(`{"version":1}`), "count", count)
	if err == nil {
		meta, err = sjson.SetBytes(meta, "lastUpdated", s.now().UTC().Format(time.RFC3339))
	}
	if err == nil {
		err = s.slot.Write(ctx, s.keys.Metadata, meta)
	}
	if err != nil {
		s.logger.Warn("history: cannot write metadata", "key", s.keys.Metadata, "err", err)
	}
}

func (s *Store) publish(count int) {
	s.bus.Publish(bus.Event{
		Type:    bus.EventConversationsChanged,
		Source:  "history",
		Payload: map[string]any{"count": count},
	})
}

func (s *Store) newConversation(id string, msgs []domain.Message) domain.Conversation {
	c := domain.Conversation{ID: id}
	s.replaceMessages(&c, msgs)
	c.CreatedAt = c.UpdatedAt
	return c
}

// replaceMessages swaps in msgs and refreshes every derived field. A title
// the user renamed is kept.
func (s *Store) replaceMessages(c *domain.Conversation, msgs []domain.Message) {
	now := s.now().UTC()
	c.Messages = s.normalize(msgs, now)
	if !c.Meta.TitleIsSet {
		c.Title = Title(c.Messages)
	}
	c.Snippet = Snippet(c.Messages)
	c.UpdatedAt = now

	data, err := codec.EncodeMessages(c.Messages)
	if err != nil {
		s.logger.Warn("history: cannot measure conversation size", "id", c.ID, "err", err)
		return
	}
	c.Meta.SizeBytes = len(data)
	c.Meta.Truncated = len(data) > s.maxBytes
	if c.Meta.Truncated {
		s.logger.Info("history: conversation exceeds size ceiling", "id", c.ID, "bytes", len(data), "max", s.maxBytes)
	}
}

// normalize copies msgs and fills ids, timestamps and translation maps that a
// caller left empty.
func (s *Store) normalize(msgs []domain.Message, now time.Time) []domain.Message {
	out := domain.CloneMessages(msgs)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = s.newID()
		}
		if out[i].Timestamp.IsZero() {
			out[i].Timestamp = now
		}
	}
	return out
}

func indexByID(convs []domain.Conversation, id string) int {
	if id == "" {
		return -1
	}
	for i, c := range convs {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// indexByTitle skips conversations the user renamed; their title is no
// longer derived from content.
func indexByTitle(convs []domain.Conversation, title string) int {
	for i, c := range convs {
		if c.Title == title && !c.Meta.TitleIsSet {
			return i
		}
	}
	return -1
}

// overlay puts mem ahead of durable. A conversation present in both is taken
// from mem.
func overlay(durable, mem []domain.Conversation) []domain.Conversation {
	out := make([]domain.Conversation, 0, len(durable)+len(mem))
	out = append(out, mem...)
	for _, c := range durable {
		if indexByID(mem, c.ID) < 0 {
			out = append(out, c)
		}
	}
	return out
}
