package memory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everlore/recall/store"
)

func scored(text string, speaker store.Speaker, namespaceKey string, score float64) store.ScoredRecord {
	return store.ScoredRecord{
		MemoryRecord: store.MemoryRecord{
			Text:         text,
			Speaker:      speaker,
			NamespaceKey: namespaceKey,
		},
		Score: score,
	}
}

func TestFormatBlock(t *testing.T) {
	t.Run("empty input yields empty string", func(t *testing.T) {
		assert.Equal(t, "", FormatBlock(nil))
		assert.Equal(t, "", FormatBlock([]store.ScoredRecord{}))
	})

	t.Run("renders header and bullets in rank order", func(t *testing.T) {
		records := []store.ScoredRecord{
			scored("I love pizza", store.SpeakerUser, "Alice", 0.92),
			scored("Noted, extra cheese it is", store.SpeakerEntity, "Alice", 0.81),
		}
		block := FormatBlock(records)
		lines := strings.Split(block, "\n")
		require.Len(t, lines, 3)
		assert.Equal(t, "Relevant past memories:", lines[0])
		assert.Equal(t, "- User: I love pizza", lines[1])
		assert.Equal(t, "- Alice: Noted, extra cheese it is", lines[2])
	})

	t.Run("entity speaker without namespace falls back to Character", func(t *testing.T) {
		block := FormatBlock([]store.ScoredRecord{
			scored("hello", store.SpeakerEntity, "", 0.7),
		})
		assert.Contains(t, block, "- Character: hello")
	})

	t.Run("long text is truncated for display", func(t *testing.T) {
		long := strings.Repeat("x", 200)
		block := FormatBlock([]store.ScoredRecord{
			scored(long, store.SpeakerUser, "", 0.9),
		})
		assert.Contains(t, block, strings.Repeat("x", 150)+"...")
		assert.NotContains(t, block, strings.Repeat("x", 151))
	})

	t.Run("truncation counts runes, not bytes", func(t *testing.T) {
		long := strings.Repeat("日", 151)
		block := FormatBlock([]store.ScoredRecord{
			scored(long, store.SpeakerUser, "", 0.9),
		})
		assert.Contains(t, block, strings.Repeat("日", 150)+"...")
	})
}

func TestInsertionIndex(t *testing.T) {
	assert.Equal(t, 3, InsertionIndex(5, 2))
	assert.Equal(t, 0, InsertionIndex(5, 5))
	assert.Equal(t, 0, InsertionIndex(1, 2), "offset beyond start clamps to zero")
	assert.Equal(t, 0, InsertionIndex(0, 2))
	assert.Equal(t, 4, InsertionIndex(4, 0), "zero offset appends at the end")
}

func TestInjectIntoCopy(t *testing.T) {
	messages := []ChatMessage{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "two"},
		{Role: "user", Content: "three"},
	}
	entry := ChatMessage{Role: RoleMemory, Content: "memories"}

	out := InjectIntoCopy(messages, entry, 2)

	require.Len(t, out, 4)
	assert.Equal(t, "one", out[0].Content)
	assert.Equal(t, "memories", out[1].Content)
	assert.Equal(t, RoleMemory, out[1].Role)
	assert.Equal(t, "two", out[2].Content)
	assert.Equal(t, "three", out[3].Content)

	// The original sequence must be left alone.
	require.Len(t, messages, 3)
	assert.Equal(t, "two", messages[1].Content)
}

func TestInjectIntoCopyEmptySequence(t *testing.T) {
	entry := ChatMessage{Role: RoleMemory, Content: "memories"}
	out := InjectIntoCopy(nil, entry, 2)
	require.Len(t, out, 1)
	assert.Equal(t, "memories", out[0].Content)
}
