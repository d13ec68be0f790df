package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple lowercase", "alice", "alice"},
		{"uppercase folded", "Alice", "alice"},
		{"spaces and punctuation", "Dr. Smith", "dr_smith"},
		{"hyphen and trailing punctuation", "Neko-chan!", "neko_chan"},
		{"digits kept", "agent007", "agent007"},
		{"runs collapsed", "a -- b", "a_b"},
		{"leading and trailing stripped", "  wrapped  ", "wrapped"},
		{"unicode replaced", "café", "caf"},
		{"empty", "", ""},
		{"only punctuation", "!!!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Sanitize(tt.input))
		})
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{"Dr. Smith", "Neko-chan!", "alice", "a -- b", "café"}
	for _, in := range inputs {
		once := Sanitize(in)
		assert.Equal(t, once, Sanitize(once), "sanitizing %q twice must be stable", in)
	}
}

func TestResolveCollection(t *testing.T) {
	t.Run("per-entity mode appends sanitized entity", func(t *testing.T) {
		assert.Equal(t, "mem_dr_smith", ResolveCollection("mem", true, "Dr. Smith"))
		assert.Equal(t, "mem_neko_chan", ResolveCollection("mem", true, "Neko-chan!"))
	})

	t.Run("shared mode ignores entity", func(t *testing.T) {
		assert.Equal(t, "mem", ResolveCollection("mem", false, "Dr. Smith"))
		assert.Equal(t, "mem", ResolveCollection("mem", false, ""))
	})

	t.Run("entity sanitizing to nothing degenerates to base underscore", func(t *testing.T) {
		assert.Equal(t, "mem_", ResolveCollection("mem", true, "!!!"))
	})
}
