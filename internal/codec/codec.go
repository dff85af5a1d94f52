// Package codec converts between the stored conversation blob and the
// in-memory model. Decoding treats every field as untrusted input.
package codec

import (
	"bytes"
	"encoding/json"
	"time"

	"linguachat/internal/domain"

	"github.com/tidwall/gjson"
)

// Version is written into every encoded envelope.
const Version = 1

// Decode never fails. A blob that is not an envelope or a bare array decodes
// to an empty collection; entries that are not objects are skipped.
func Decode(raw []byte) []domain.Conversation {
	return decodeAt(raw, time.Now())
}

func decodeAt(raw []byte, now time.Time) []domain.Conversation {
	if len(bytes.TrimSpace(raw)) == 0 || !gjson.ValidBytes(raw) {
		return []domain.Conversation{}
	}

	root := gjson.ParseBytes(raw)
	var list gjson.Result
	switch {
	case root.IsArray():
		list = root
	case root.IsObject() && root.Get("conversations").IsArray():
		list = root.Get("conversations")
	default:
		return []domain.Conversation{}
	}

	convs := make([]domain.Conversation, 0, len(list.Array()))
	list.ForEach(func(_, v gjson.Result) bool {
		if v.IsObject() {
			convs = append(convs, decodeConversation(v, now))
		}
		return true
	})
	return convs
}

func decodeConversation(v gjson.Result, now time.Time) domain.Conversation {
	c := domain.Conversation{
		ID:        str(v.Get("id")),
		Title:     str(v.Get("title")),
		Snippet:   str(v.Get("snippet")),
		CreatedAt: date(v.Get("createdAt"), now),
		UpdatedAt: date(v.Get("updatedAt"), now),
		Messages:  []domain.Message{},
	}

	if msgs := v.Get("messages"); msgs.IsArray() {
		msgs.ForEach(func(_, m gjson.Result) bool {
			if m.IsObject() {
				c.Messages = append(c.Messages, decodeMessage(m, now))
			}
			return true
		})
	}

	if sync := v.Get("syncState"); sync.IsObject() {
		c.Sync.Synced = sync.Get("synced").Type == gjson.True
		if ops := sync.Get("pendingOperations"); ops.IsArray() {
			ops.ForEach(func(_, op gjson.Result) bool {
				if op.Type == gjson.String {
					c.Sync.PendingOps = append(c.Sync.PendingOps, op.Str)
				}
				return true
			})
		}
	}

	if meta := v.Get("metadata"); meta.IsObject() {
		c.Meta.Truncated = meta.Get("truncated").Type == gjson.True
		c.Meta.TitleIsSet = meta.Get("titleIsSet").Type == gjson.True
		if n := meta.Get("sizeBytes"); n.Type == gjson.Number && n.Int() > 0 {
			c.Meta.SizeBytes = int(n.Int())
		}
	}
	return c
}

func decodeMessage(v gjson.Result, now time.Time) domain.Message {
	m := domain.Message{
		ID:           str(v.Get("id")),
		Role:         domain.ParseRole(str(v.Get("role"))),
		OriginalText: firstStr(v, "originalText", "content", "text"),
		Timestamp:    date(v.Get("timestamp"), now),
		Translations: map[string]string{},
	}

	if tr := v.Get("translations"); tr.IsObject() {
		tr.ForEach(func(k, t gjson.Result) bool {
			if t.Type == gjson.String && k.Str != "" {
				m.Translations[k.Str] = t.Str
			}
			return true
		})
	}

	if att := v.Get("attachedData"); att.IsObject() || att.IsArray() {
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(att.Raw)); err == nil {
			m.Attached = json.RawMessage(buf.Bytes())
		}
	}
	return m
}

func str(r gjson.Result) string {
	if r.Type == gjson.String {
		return r.Str
	}
	return ""
}

func firstStr(v gjson.Result, keys ...string) string {
	for _, k := range keys {
		if r := v.Get(k); r.Type == gjson.String {
			return r.Str
		}
	}
	return ""
}

// date accepts RFC 3339 strings and unix-millisecond numbers.
func date(r gjson.Result, now time.Time) time.Time {
	switch r.Type {
	case gjson.String:
		if t, err := time.Parse(time.RFC3339Nano, r.Str); err == nil {
			return t.UTC()
		}
	case gjson.Number:
		if ms := r.Int(); ms > 0 {
			return time.UnixMilli(ms).UTC()
		}
	}
	return now.UTC()
}
