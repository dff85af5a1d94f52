package codec

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"linguachat/internal/domain"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleConversations() []domain.Conversation {
	ts := time.Date(2026, 2, 27, 8, 30, 15, 123456789, time.UTC)
	return []domain.Conversation{
		{
			ID:      "c1",
			Title:   "Weather in Lisbon",
			Snippet: "It is sunny.",
			Messages: []domain.Message{
				{ID: "m1", Role: domain.RoleUser, OriginalText: "Weather in Lisbon?", Translations: map[string]string{}, Timestamp: ts},
				{
					ID:           "m2",
					Role:         domain.RoleAssistant,
					OriginalText: "It is sunny.",
					Translations: map[string]string{"pt": "Está sol.", "fr": "Il fait beau."},
					Timestamp:    ts.Add(time.Second),
					Attached:     json.RawMessage(`{"weather":{"tempC":21},"sources":["met"]}`),
				},
			},
			CreatedAt: ts,
			UpdatedAt: ts.Add(time.Minute),
			Sync:      domain.SyncState{Synced: false, PendingOps: []string{"upload"}},
			Meta:      domain.Meta{Truncated: true, SizeBytes: 321, TitleIsSet: true},
		},
		{
			ID:        "c2",
			Title:     "Empty",
			Messages:  []domain.Message{},
			CreatedAt: ts,
			UpdatedAt: ts,
		},
	}
}

func assertSameConversations(t *testing.T, want, got []domain.Conversation) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("expected %d conversations, got %d", len(want), len(got))
	}
	for i := range want {
		w, g := want[i], got[i]
		if w.ID != g.ID || w.Title != g.Title || w.Snippet != g.Snippet {
			t.Fatalf("conversation %d header mismatch: %+v vs %+v", i, w, g)
		}
		if !w.CreatedAt.Equal(g.CreatedAt) || !w.UpdatedAt.Equal(g.UpdatedAt) {
			t.Fatalf("conversation %d dates mismatch", i)
		}
		if w.Meta != g.Meta || w.Sync.Synced != g.Sync.Synced || len(w.Sync.PendingOps) != len(g.Sync.PendingOps) {
			t.Fatalf("conversation %d metadata mismatch: %+v vs %+v", i, w.Meta, g.Meta)
		}
		if len(w.Messages) != len(g.Messages) {
			t.Fatalf("conversation %d: expected %d messages, got %d", i, len(w.Messages), len(g.Messages))
		}
		for j := range w.Messages {
			wm, gm := w.Messages[j], g.Messages[j]
			if wm.ID != gm.ID || wm.Role != gm.Role || wm.OriginalText != gm.OriginalText {
				t.Fatalf("message %d/%d mismatch: %+v vs %+v", i, j, wm, gm)
			}
			if !wm.Timestamp.Equal(gm.Timestamp) {
				t.Fatalf("message %d/%d timestamp mismatch", i, j)
			}
			if !bytes.Equal(wm.Attached, gm.Attached) {
				t.Fatalf("message %d/%d attached mismatch: %s vs %s", i, j, wm.Attached, gm.Attached)
			}
			if len(wm.Translations) != len(gm.Translations) {
				t.Fatalf("message %d/%d translations mismatch", i, j)
			}
			for k, v := range wm.Translations {
				if gm.Translations[k] != v {
					t.Fatalf("message %d/%d translation %s: %q vs %q", i, j, k, v, gm.Translations[k])
				}
			}
		}
	}
}

func TestRoundTrip_DecodedValueSurvivesEncode(t *testing.T) {
	data, err := Encode(sampleConversations())
	if err != nil {
		t.Fatal(err)
	}
	first := Decode(data)

	again, err := Encode(first)
	if err != nil {
		t.Fatal(err)
	}
	second := Decode(again)

	assertSameConversations(t, first, second)
	assertSameConversations(t, sampleConversations(), first)
}

func TestRoundTrip_NonCompactAttachedData(t *testing.T) {
	raw := `[{"id":"c","messages":[{"id":"m","role":"assistant","originalText":"x",
		"attachedData": { "sources" : [ "a", "b" ] }}]}]`
	first := decodeAt([]byte(raw), fixedNow)
	data, err := Encode(first)
	if err != nil {
		t.Fatal(err)
	}
	assertSameConversations(t, first, decodeAt(data, fixedNow))
	if got := string(first[0].Messages[0].Attached); got != `{"sources":["a","b"]}` {
		t.Fatalf("expected compacted attached data, got %s", got)
	}
}

func TestDecode_InvalidBlobs(t *testing.T) {
	for _, raw := range []string{"", "   ", "not json", "42", `"str"`, `{"version":1}`, `{"conversations":"nope"}`, "[1,2"} {
		got := Decode([]byte(raw))
		if got == nil || len(got) != 0 {
			t.Fatalf("blob %q: expected empty non-nil collection, got %#v", raw, got)
		}
	}
}

func TestDecode_LegacyBareArray(t *testing.T) {
	got := decodeAt([]byte(`[{"id":"a","title":"T"}]`), fixedNow)
	if len(got) != 1 || got[0].ID != "a" || got[0].Title != "T" {
		t.Fatalf("unexpected decode: %#v", got)
	}
}

func TestDecode_SkipsNonObjectEntries(t *testing.T) {
	raw := `{"version":1,"conversations":[null, 3, "x", {"id":"ok","messages":[true, {"id":"m1","role":"user","originalText":"hi"}]}]}`
	got := decodeAt([]byte(raw), fixedNow)
	if len(got) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(got))
	}
	if len(got[0].Messages) != 1 || got[0].Messages[0].ID != "m1" {
		t.Fatalf("expected only the object message to survive, got %#v", got[0].Messages)
	}
}

func TestDecode_DefaultsForMissingAndMistypedFields(t *testing.T) {
	raw := `[{"id":7,"title":null,"createdAt":"yesterday","updatedAt":false,
		"messages":[{"role":"robot","translations":{"fr":"Bonjour","de":5},"timestamp":{}}],
		"syncState":"broken","metadata":{"truncated":"yes","sizeBytes":-4},"extra":"dropped"}]`
	got := decodeAt([]byte(raw), fixedNow)
	if len(got) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(got))
	}
	c := got[0]
	if c.ID != "" || c.Title != "" || c.Snippet != "" {
		t.Fatalf("mistyped strings should become empty, got %+v", c)
	}
	if !c.CreatedAt.Equal(fixedNow) || !c.UpdatedAt.Equal(fixedNow) {
		t.Fatalf("bad dates should default to now, got %v / %v", c.CreatedAt, c.UpdatedAt)
	}
	if c.Sync.Synced || c.Meta.Truncated || c.Meta.SizeBytes != 0 {
		t.Fatalf("unexpected sync/meta defaults: %+v %+v", c.Sync, c.Meta)
	}
	m := c.Messages[0]
	if m.Role != domain.RoleSystem {
		t.Fatalf("unknown role should default to system, got %q", m.Role)
	}
	if m.OriginalText != "" || !m.Timestamp.Equal(fixedNow) {
		t.Fatalf("unexpected message defaults: %+v", m)
	}
	if len(m.Translations) != 1 || m.Translations["fr"] != "Bonjour" {
		t.Fatalf("only string translations should survive, got %#v", m.Translations)
	}
}

func TestDecode_TextFallbacksAndMillisTimestamps(t *testing.T) {
	raw := `[{"messages":[
		{"role":"user","content":"from content","timestamp":1700000000000},
		{"role":"assistant","text":"from text"}]}]`
	got := decodeAt([]byte(raw), fixedNow)
	msgs := got[0].Messages
	if msgs[0].OriginalText != "from content" || msgs[1].OriginalText != "from text" {
		t.Fatalf("text fallbacks not applied: %+v", msgs)
	}
	if !msgs[0].Timestamp.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("millisecond timestamp not parsed: %v", msgs[0].Timestamp)
	}
}

func TestEncode_WritesVersionedEnvelope(t *testing.T) {
	data, err := Encode(nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"version":1,"conversations":[]}` {
		t.Fatalf("unexpected empty envelope: %s", data)
	}
}

func TestEncodeMessages_SizeGrowsWithContent(t *testing.T) {
	small, _ := EncodeMessages([]domain.Message{{ID: "a", Role: domain.RoleUser, OriginalText: "hi"}})
	big, _ := EncodeMessages([]domain.Message{{ID: "a", Role: domain.RoleUser, OriginalText: string(make([]byte, 1000))}})
	if len(big) <= len(small) {
		t.Fatalf("expected larger encoding for larger content: %d <= %d", len(big), len(small))
	}
}

func TestEncode_DatesCompareInTimeOrder(t *testing.T) {
	whole := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	later := whole.Add(100 * time.Millisecond)
	convs := []domain.Conversation{
		{ID: "a", Title: "A", CreatedAt: whole, UpdatedAt: later},
	}

	data, err := Encode(convs)
	if err != nil {
		t.Fatal(err)
	}
	created := gjson.GetBytes(data, "conversations.0.createdAt").String()
	updated := gjson.GetBytes(data, "conversations.0.updatedAt").String()
	if len(created) != len(updated) {
		t.Fatalf("dates differ in width: %q vs %q", created, updated)
	}
	if created >= updated {
		t.Fatalf("expected %q to sort before %q", created, updated)
	}

	got := Decode(data)
	if len(got) != 1 || !got[0].CreatedAt.Equal(whole) || !got[0].UpdatedAt.Equal(later) {
		t.Fatalf("dates did not survive decoding: %+v", got)
	}
}
