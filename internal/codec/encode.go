package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"linguachat/internal/domain"
)

type envelope struct {
	Version       int               `json:"version"`
	Conversations []conversationDTO `json:"conversations"`
}

type conversationDTO struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Snippet   string           `json:"snippet"`
	Messages  []messageDTO     `json:"messages"`
	CreatedAt string           `json:"createdAt"`
	UpdatedAt string           `json:"updatedAt"`
	Sync      domain.SyncState `json:"syncState"`
	Meta      domain.Meta      `json:"metadata"`
}

type messageDTO struct {
	ID           string            `json:"id"`
	Role         string            `json:"role"`
	OriginalText string            `json:"originalText"`
	Translations map[string]string `json:"translations"`
	Timestamp    string            `json:"timestamp"`
	Attached     json.RawMessage   `json:"attachedData,omitempty"`
}

// dateLayout is RFC 3339 with a fixed nine-digit fraction, so encoded dates
// compare lexically in time order.
const dateLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Encode writes the versioned envelope. Dates are UTC in dateLayout.
func Encode(convs []domain.Conversation) ([]byte, error) {
	env := envelope{Version: Version, Conversations: make([]conversationDTO, 0, len(convs))}
	for _, c := range convs {
		env.Conversations = append(env.Conversations, conversationDTO{
			ID:        c.ID,
			Title:     c.Title,
			Snippet:   c.Snippet,
			Messages:  toMessageDTOs(c.Messages),
			CreatedAt: formatDate(c.CreatedAt),
			UpdatedAt: formatDate(c.UpdatedAt),
			Sync:      c.Sync,
			Meta:      c.Meta,
		})
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode conversations: %w", err)
	}
	return data, nil
}

// EncodeMessages returns the serialized form of msgs alone; its length is what
// the size policy measures.
func EncodeMessages(msgs []domain.Message) ([]byte, error) {
	return json.Marshal(toMessageDTOs(msgs))
}

func toMessageDTOs(msgs []domain.Message) []messageDTO {
	out := make([]messageDTO, 0, len(msgs))
	for _, m := range msgs {
		tr := m.Translations
		if tr == nil {
			tr = map[string]string{}
		}
		out = append(out, messageDTO{
			ID:           m.ID,
			Role:         string(m.Role),
			OriginalText: m.OriginalText,
			Translations: tr,
			Timestamp:    formatDate(m.Timestamp),
			Attached:     m.Attached,
		})
	}
	return out
}

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}
