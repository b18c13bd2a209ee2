package domain

import (
	"strings"
	"time"
)

const (
	// MaxRecencyEntries bounds a user's recent-conversation list.
	MaxRecencyEntries = 20
	titleWords        = 8
)

// RecencyEntry summarises one thread in a user's recent-conversation list.
type RecencyEntry struct {
	ThreadID  string    `json:"thread_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecencyTitle derives a thread title from the first words of a message.
func RecencyTitle(message string) string {
	words := strings.Fields(message)
	if len(words) > titleWords {
		words = words[:titleWords]
	}
	return strings.Join(words, " ")
}

// TouchRecency moves threadID to the end of entries (creating it if absent)
// and evicts the oldest entries beyond MaxRecencyEntries. The input slice is
// not modified.
func TouchRecency(entries []RecencyEntry, threadID, title string, now time.Time) []RecencyEntry {
	out := make([]RecencyEntry, 0, len(entries)+1)
	var touched *RecencyEntry
	for _, e := range entries {
		if touched == nil && e.ThreadID == threadID {
			e := e
			touched = &e
			continue
		}
		out = append(out, e)
	}

	if touched != nil {
		if now.After(touched.UpdatedAt) {
			touched.UpdatedAt = now
		}
		out = append(out, *touched)
	} else {
		out = append(out, RecencyEntry{
			ThreadID:  threadID,
			Title:     title,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if len(out) > MaxRecencyEntries {
		out = out[len(out)-MaxRecencyEntries:]
	}
	return out
}
