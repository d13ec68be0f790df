package memory

import (
	"strings"
	"unicode/utf8"

	"github.com/everlore/recall/store"
)

// ChatMessage is one entry of the outgoing generation sequence, as the
// host chat application hands it over.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RoleMemory marks the synthetic entry spliced into the transient
// sequence. It never appears in persisted history.
const RoleMemory = "system"

// maxDisplayLength caps how much of a memory's text is rendered;
// storage keeps the full text.
const maxDisplayLength = 150

const blockHeader = "Relevant past memories:"

// FormatBlock renders retrieved memories into a human-readable context
// block: a header line, then one bullet per record in rank order. Empty
// input yields an empty string. Pure function, no I/O.
func FormatBlock(records []store.ScoredRecord) string {
	if len(records) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(blockHeader)
	for _, rec := range records {
		b.WriteString("\n- ")
		b.WriteString(speakerLabel(rec.MemoryRecord))
		b.WriteString(": ")
		b.WriteString(truncateText(rec.Text, maxDisplayLength))
	}
	return b.String()
}

// InsertionIndex computes where the memory entry is spliced into a
// sequence of the given length, counting offset entries back from the
// end. Never negative.
func InsertionIndex(sequenceLength, offsetFromEnd int) int {
	idx := sequenceLength - offsetFromEnd
	if idx < 0 {
		return 0
	}
	return idx
}

// InjectIntoCopy returns a copy of messages with entry spliced in at the
// configured offset from the end. The input slice is never mutated; the
// canonical history stays untouched.
func InjectIntoCopy(messages []ChatMessage, entry ChatMessage, offsetFromEnd int) []ChatMessage {
	idx := InsertionIndex(len(messages), offsetFromEnd)
	out := make([]ChatMessage, 0, len(messages)+1)
	out = append(out, messages[:idx]...)
	out = append(out, entry)
	out = append(out, messages[idx:]...)
	return out
}

func speakerLabel(rec store.MemoryRecord) string {
	if rec.Speaker == store.SpeakerUser {
		return "User"
	}
	if rec.NamespaceKey != "" {
		return rec.NamespaceKey
	}
	return "Character"
}

// truncateText cuts text to maxLen runes with an ellipsis marker.
func truncateText(text string, maxLen int) string {
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxLen]) + "..."
}
