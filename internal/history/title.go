package history

import (
	"strings"
	"unicode/utf8"

	"linguachat/internal/domain"
)

const snippetRunes = 100

// Title derives a conversation title from the first user message.
func Title(msgs []domain.Message) string {
	for _, m := range msgs {
		if m.Role == domain.RoleUser {
			return generateTitle(m.OriginalText)
		}
	}
	return generateTitle("")
}

func generateTitle(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "New conversation"
	}
	if idx := strings.IndexAny(msg, "\n\r"); idx > 0 {
		msg = msg[:idx]
	}
	if len(msg) > 60 {
		cut := strings.LastIndex(msg[:60], " ")
		if cut < 20 {
			cut = 60
			for cut > 0 && !utf8.RuneStart(msg[cut]) {
				cut--
			}
		}
		msg = msg[:cut] + "..."
	}
	return msg
}

// Snippet is the last message's text with whitespace collapsed.
func Snippet(msgs []domain.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	text := strings.Join(strings.Fields(msgs[len(msgs)-1].OriginalText), " ")
	if utf8.RuneCountInString(text) <= snippetRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:snippetRunes]) + "…"
}
