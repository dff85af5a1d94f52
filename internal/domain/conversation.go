package domain

import "time"

// SyncState is reserved for remote sync. Nothing in linguachat mutates it
// beyond the not-synced default.
type SyncState struct {
	Synced     bool     `json:"synced"`
	PendingOps []string `json:"pendingOperations,omitempty"`
}

type Meta struct {
	Truncated  bool `json:"truncated"` // advisory: serialized messages exceeded the size ceiling
	SizeBytes  int  `json:"sizeBytes"`
	TitleIsSet bool `json:"titleIsSet,omitempty"` // title was renamed by the user
}

type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Snippet   string    `json:"snippet"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Sync      SyncState `json:"syncState"`
	Meta      Meta      `json:"metadata"`
}

func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = CloneMessages(c.Messages)
	if c.Sync.PendingOps != nil {
		out.Sync.PendingOps = append([]string(nil), c.Sync.PendingOps...)
	}
	return out
}

func CloneConversations(convs []Conversation) []Conversation {
	out := make([]Conversation, len(convs))
	for i, c := range convs {
		out[i] = c.Clone()
	}
	return out
}
