package adapter

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"
)

func TestSplitTelegramTextShort(t *testing.T) {
	t.Parallel()
	got := splitTelegramText("hello", 10, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("split = %q", got)
	}
}

func TestSplitTelegramTextPrefersNewline(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitTelegramText(s, 10, "")
	if len(got) != 2 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("split = %q", got)
	}
}

func TestSplitTelegramTextRuneSafe(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("я", 25)
	got := splitTelegramText(s, 10, "")
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	for i, c := range got {
		if !utf8.ValidString(c) || utf8.RuneCountInString(c) > 10 {
			t.Fatalf("chunk %d = %q", i, c)
		}
	}
	if strings.Join(got, "") != s {
		t.Fatalf("chunks lost text")
	}
}

func TestSplitTelegramTextAvoidsOpenTag(t *testing.T) {
	t.Parallel()
	s := "abcdef<b>bold</b>"
	got := splitTelegramText(s, 8, "HTML")
	if got[0] != "abcdef" || !strings.HasPrefix(got[1], "<b>") {
		t.Fatalf("split = %q", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()
	if got := truncateRunes("héllo", 2); got != "hé" {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncateRunes("ok", 5); got != "ok" {
		t.Fatalf("truncate = %q", got)
	}
}

func TestMessageFromTele(t *testing.T) {
	t.Parallel()
	sentAt := time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)
	m := &tele.Message{
		ID:       7,
		Chat:     &tele.Chat{ID: 42},
		Sender:   &tele.User{ID: 9, Username: "learner"},
		Unixtime: sentAt.Unix(),
		Photo:    &tele.Photo{},
		Caption:  "done",
	}
	got := messageFromTele(m)
	if got.ChatID != 42 || got.FromID != 9 || got.FromUsername != "learner" || !got.HasPhoto || got.Text != "done" {
		t.Fatalf("message = %+v", got)
	}
	if !got.Time.Equal(sentAt) || !got.Qualifies() {
		t.Fatalf("time = %v, qualifies = %v", got.Time, got.Qualifies())
	}

	doc := messageFromTele(&tele.Message{Chat: &tele.Chat{ID: 1}, Document: &tele.Document{MIME: "image/jpeg"}})
	if doc.HasPhoto || !doc.HasImageDocument() || !doc.Qualifies() {
		t.Fatalf("image document = %+v", doc)
	}
	pdf := messageFromTele(&tele.Message{Chat: &tele.Chat{ID: 1}, Document: &tele.Document{MIME: "application/pdf"}})
	if pdf.Qualifies() {
		t.Fatalf("pdf qualifies")
	}
	if messageFromTele(&tele.Message{}) != nil {
		t.Fatalf("message without chat mapped")
	}
}
