package notifier

import (
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"remindbot/internal/tracker"
)

// Catalog holds the texts a notification is picked from.
type Catalog struct {
	Reminders       []string
	Followups       []string
	Congratulations []string
	// TestPrefix is prepended to a reminder text for test sends.
	TestPrefix string
}

func DefaultCatalog() Catalog {
	return Catalog{
		Reminders: []string{
			"Time for your Anki flashcards! 📚✨",
			"Hey! Don't forget your daily Anki practice! 🧠💪",
			"Anki time! Let's strengthen that memory! 🎯",
			"Your brain is waiting for some Anki love! 💝📖",
			"Daily Anki reminder: knowledge is power! ⚡📚",
			"Ready to boost your brain? Anki awaits! 🚀🧠",
			"Consistency is the key to mastery. Time for Anki! 🔑",
			"Level up your knowledge with today's Anki session! 🎮",
		},
		Followups: []string{
			"Still waiting for your Anki screenshot! Don't give up! 💪",
			"Did you forget about Anki? It's not too late! ⏰",
			"Gentle reminder: your flashcards are still pending! 📚",
			"Don't let the day end without your Anki practice! 🌙",
			"Even 5 minutes of Anki is better than none! ⚡",
		},
		Congratulations: []string{
			"Great job! ✅ Anki session completed! Keep up the excellent work! 🎉",
			"Done for today! ✅ Your streak thanks you. 🎉",
		},
		TestPrefix: "🧪 Test reminder: ",
	}
}

// withDefaults fills empty lists from DefaultCatalog.
func (c Catalog) withDefaults() Catalog {
	def := DefaultCatalog()
	if len(c.Reminders) == 0 {
		c.Reminders = def.Reminders
	}
	if len(c.Followups) == 0 {
		c.Followups = def.Followups
	}
	if len(c.Congratulations) == 0 {
		c.Congratulations = def.Congratulations
	}
	if c.TestPrefix == "" {
		c.TestPrefix = def.TestPrefix
	}
	return c
}

// Text picks the message for kind.
func (c Catalog) Text(rng *rand.Rand, kind tracker.Kind) string {
	switch kind {
	case tracker.KindFollowup:
		return pick(rng, c.Followups)
	case tracker.KindCongratulation:
		return pick(rng, c.Congratulations)
	case tracker.KindTest:
		return c.TestPrefix + pick(rng, c.Reminders)
	default:
		return pick(rng, c.Reminders)
	}
}

func pick(rng *rand.Rand, list []string) string {
	if len(list) == 0 {
		return ""
	}
	return list[rng.Intn(len(list))]
}

// wantsImage reports whether kind is sent as a photo when images exist.
func wantsImage(kind tracker.Kind) bool {
	return kind != tracker.KindCongratulation
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// listImages returns the image files directly under dir, sorted. A missing
// directory yields no images.
func listImages(dir string) ([]string, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
