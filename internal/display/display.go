// Package display decides what text the user sees. Nothing here blocks or
// schedules work.
package display

import (
	"sort"
	"time"

	"linguachat/internal/domain"
)

// Resolve returns the translation for lang when one is cached, else the
// original text.
func Resolve(msg domain.Message, lang string) string {
	if text := msg.Translations[lang]; lang != "" && text != "" {
		return text
	}
	return msg.OriginalText
}

// ResolveAll resolves every message in order.
func ResolveAll(msgs []domain.Message, lang string) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = Resolve(m, lang)
	}
	return out
}

// Preview resolves the last message of c, falling back to the stored snippet.
func Preview(c domain.Conversation, lang string) string {
	if len(c.Messages) == 0 {
		return c.Snippet
	}
	last := c.Messages[len(c.Messages)-1]
	if text, ok := last.Translations[lang]; ok && text != "" {
		return text
	}
	return c.Snippet
}

type Bucket string

const (
	Today     Bucket = "Today"
	Yesterday Bucket = "Yesterday"
	Last7     Bucket = "Previous 7 days"
	Last30    Bucket = "Previous 30 days"
	Older     Bucket = "Older"
)

var bucketOrder = []Bucket{Today, Yesterday, Last7, Last30, Older}

// Section is one recency group for list views.
type Section struct {
	Bucket        Bucket
	Conversations []domain.Conversation
}

// BucketOf places t relative to the calendar day of now, in now's location.
func BucketOf(t, now time.Time) Bucket {
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	t = t.In(now.Location())
	switch {
	case !t.Before(midnight):
		return Today
	case !t.Before(midnight.AddDate(0, 0, -1)):
		return Yesterday
	case !t.Before(midnight.AddDate(0, 0, -7)):
		return Last7
	case !t.Before(midnight.AddDate(0, 0, -30)):
		return Last30
	default:
		return Older
	}
}

// Group buckets convs by UpdatedAt, newest first within each bucket. Empty
// buckets are left out. The input is not reordered.
func Group(convs []domain.Conversation, now time.Time) []Section {
	byBucket := make(map[Bucket][]domain.Conversation)
	for _, c := range convs {
		b := BucketOf(c.UpdatedAt, now)
		byBucket[b] = append(byBucket[b], c)
	}
	var sections []Section
	for _, b := range bucketOrder {
		list := byBucket[b]
		if len(list) == 0 {
			continue
		}
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].UpdatedAt.After(list[j].UpdatedAt)
		})
		sections = append(sections, Section{Bucket: b, Conversations: list})
	}
	return sections
}
