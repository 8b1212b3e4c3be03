package summary

import (
	"fmt"
	"strings"
	"time"
)

// DefaultSystemPrompt asks for concise, structured meeting notes.
const DefaultSystemPrompt = `You write meeting notes from voice call transcripts.
Produce concise Markdown with these sections when they apply:
- Summary: two to four sentences.
- Decisions: bullet list.
- Action items: bullet list with owners when they are named.
- Open questions: bullet list.
Only use information present in the transcript. Omit empty sections.`

// MeetingContext describes the meeting being summarized.
type MeetingContext struct {
	StartedBy string
	StartedAt time.Time
	EndedAt   time.Time
}

// BuildUserPrompt formats the transcript with its meeting context.
func BuildUserPrompt(mc MeetingContext, transcript string) string {
	var sb strings.Builder
	if !mc.StartedAt.IsZero() {
		fmt.Fprintf(&sb, "Meeting started: %s\n", mc.StartedAt.UTC().Format(time.RFC3339))
	}
	if !mc.EndedAt.IsZero() && !mc.StartedAt.IsZero() {
		fmt.Fprintf(&sb, "Duration: %s\n", mc.EndedAt.Sub(mc.StartedAt).Round(time.Second))
	}
	if mc.StartedBy != "" {
		fmt.Fprintf(&sb, "Started by: %s\n", mc.StartedBy)
	}
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString("Here is the meeting transcript to summarize:\n\n")
	sb.WriteString(transcript)
	return sb.String()
}

// FailedPlaceholder is posted in place of notes when summarization fails.
// It carries the raw transcript so nothing captured is lost.
func FailedPlaceholder(transcript string) string {
	text := strings.TrimSpace(transcript)
	if text == "" {
		text = "_No speech was captured._"
	}
	return "⚠️ Summary generation failed. Raw transcript follows.\n\n" + text
}
