package transcription

import "strings"

// UnknownSpeaker labels tokens whose speaker id is missing or blank.
const UnknownSpeaker = "unknown"

const spacingType = "spacing"

// Word is one token of a word-level batch transcription.
type Word struct {
	Text      string `json:"text"`
	Type      string `json:"type,omitempty"`
	SpeakerID string `json:"speaker_id,omitempty"`
}

// Segment is a run of consecutive text attributed to one speaker.
type Segment struct {
	SpeakerID string `json:"speaker_id"`
	Text      string `json:"text"`
}

// DiarizedTranscript is the result of a batch diarization request.
type DiarizedTranscript struct {
	ID       string    `json:"id,omitempty"`
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// MergeWords folds word tokens into per-speaker segments. Spacing tokens
// join the open segment; a speaker change opens a new one. Segments are
// trimmed and empty ones dropped.
func MergeWords(words []Word) []Segment {
	var (
		segments []Segment
		current  *strings.Builder
		speaker  string
	)

	closeSegment := func() {
		if current == nil {
			return
		}
		if text := strings.TrimSpace(current.String()); text != "" {
			segments = append(segments, Segment{SpeakerID: speaker, Text: text})
		}
		current = nil
	}

	for _, w := range words {
		if w.Type == spacingType {
			if current != nil {
				current.WriteString(w.Text)
			}
			continue
		}

		id := strings.TrimSpace(w.SpeakerID)
		if id == "" {
			id = UnknownSpeaker
		}
		if current == nil || id != speaker {
			closeSegment()
			current = new(strings.Builder)
			speaker = id
		}
		current.WriteString(w.Text)
	}
	closeSegment()

	return segments
}

// Render formats segments as one "speaker: text" line each.
func (t *DiarizedTranscript) Render() string {
	lines := make([]string, 0, len(t.Segments))
	for _, s := range t.Segments {
		lines = append(lines, s.SpeakerID+": "+s.Text)
	}
	return strings.Join(lines, "\n")
}

// FinalTranscript picks the text shown as a meeting's final transcript:
// diarized segments if any, else the raw batch text, else the committed
// realtime segments joined by newlines. A nil transcript means the batch
// call failed.
func FinalTranscript(t *DiarizedTranscript, committed []string) string {
	if t != nil {
		if len(t.Segments) > 0 {
			return t.Render()
		}
		if text := strings.TrimSpace(t.Text); text != "" {
			return text
		}
	}
	return strings.Join(committed, "\n")
}
