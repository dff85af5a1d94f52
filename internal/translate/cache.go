// Package translate keeps per-message translations and schedules the
// outbound calls that fill them.
package translate

import (
	"sync"

	"linguachat/internal/domain"
)

// Cache maps message id to language code to translated text. An entry, once
// stored, is never replaced.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]map[string]string
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]map[string]string)}
}

// Seed imports translations already attached to msgs.
func (c *Cache) Seed(msgs []domain.Message) {
	for _, m := range msgs {
		for lang, text := range m.Translations {
			c.StoreIfAbsent(m.ID, lang, text)
		}
	}
}

// Lookup reports a hit only for a non-empty value.
func (c *Cache) Lookup(id, lang string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	text := c.entries[id][lang]
	return text, text != ""
}

// StoreIfAbsent records text for (id, lang) unless an entry exists. It
// reports whether this call won.
func (c *Cache) StoreIfAbsent(id, lang, text string) bool {
	if id == "" || lang == "" || text == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	byLang, ok := c.entries[id]
	if !ok {
		byLang = make(map[string]string)
		c.entries[id] = byLang
	}
	if _, exists := byLang[lang]; exists {
		return false
	}
	byLang[lang] = text
	return true
}

// Apply returns copies of msgs with every cached translation merged in.
// Translations already on a message are kept.
func (c *Cache) Apply(msgs []domain.Message) []domain.Message {
	out := domain.CloneMessages(msgs)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range out {
		for lang, text := range c.entries[out[i].ID] {
			if _, ok := out[i].Translations[lang]; !ok {
				out[i].Translations[lang] = text
			}
		}
	}
	return out
}

// Forget drops every entry for one message.
func (c *Cache) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Len returns the number of cached (message, language) pairs.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, byLang := range c.entries {
		n += len(byLang)
	}
	return n
}
