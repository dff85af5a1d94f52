package domain

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole maps an untrusted role string onto a known Role. Anything
// unrecognized becomes RoleSystem.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleUser, RoleAssistant, RoleSystem:
		return Role(s)
	default:
		return RoleSystem
	}
}

// Message is one turn in a conversation. ID, Role, OriginalText and Timestamp
// never change after creation; Translations only grows.
type Message struct {
	ID           string            `json:"id"`
	Role         Role              `json:"role"`
	OriginalText string            `json:"originalText"`
	Translations map[string]string `json:"translations"`
	Timestamp    time.Time         `json:"timestamp"`
	Attached     json.RawMessage   `json:"attachedData,omitempty"` // weather snapshot, sources; passed through untouched
}

// Clone returns a copy whose Translations map can be mutated independently.
func (m Message) Clone() Message {
	out := m
	out.Translations = make(map[string]string, len(m.Translations))
	for k, v := range m.Translations {
		out.Translations[k] = v
	}
	if m.Attached != nil {
		out.Attached = append(json.RawMessage(nil), m.Attached...)
	}
	return out
}

// HasUserTurn reports whether msgs contains at least one user-authored message.
func HasUserTurn(msgs []Message) bool {
	for _, m := range msgs {
		if m.Role == RoleUser {
			return true
		}
	}
	return false
}

func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
