package chat

import "sync"

// Selector is a settable language selector safe for concurrent use.
type Selector struct {
	mu   sync.RWMutex
	lang string
}

func NewSelector(lang string) *Selector {
	return &Selector{lang: lang}
}

func (s *Selector) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lang
}

func (s *Selector) Set(lang string) {
	s.mu.Lock()
	s.lang = lang
	s.mu.Unlock()
}
