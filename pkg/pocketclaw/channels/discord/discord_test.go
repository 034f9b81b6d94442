package discord

import (
	"strings"
	"testing"
)

func TestSplitDiscordMessage(t *testing.T) {
	t.Parallel()

	t.Run("short passes through", func(t *testing.T) {
		chunks := splitDiscordMessage("hello", 2000)
		if len(chunks) != 1 || chunks[0] != "hello" {
			t.Errorf("chunks = %v", chunks)
		}
	})

	t.Run("splits at newline", func(t *testing.T) {
		text := strings.Repeat("a", 1500) + "\n" + strings.Repeat("b", 1500)
		chunks := splitDiscordMessage(text, 2000)
		if len(chunks) != 2 {
			t.Fatalf("len = %d, want 2", len(chunks))
		}
		if !strings.HasSuffix(chunks[0], "\n") {
			t.Error("first chunk should end at the newline")
		}
		if got := chunks[0] + chunks[1]; got != text {
			t.Error("chunks must reassemble the original text")
		}
	})

	t.Run("hard split without newline", func(t *testing.T) {
		text := strings.Repeat("x", 4500)
		chunks := splitDiscordMessage(text, 2000)
		if len(chunks) != 3 {
			t.Fatalf("len = %d, want 3", len(chunks))
		}
		for i, c := range chunks {
			if len(c) > 2000 {
				t.Errorf("chunk %d length %d exceeds limit", i, len(c))
			}
		}
		if got := strings.Join(chunks, ""); got != text {
			t.Error("chunks must reassemble the original text")
		}
	})

	t.Run("early newline ignored", func(t *testing.T) {
		// A newline in the first half is a bad cut point; the hard split wins.
		text := strings.Repeat("a", 100) + "\n" + strings.Repeat("b", 2500)
		chunks := splitDiscordMessage(text, 2000)
		if len(chunks[0]) != 2000 {
			t.Errorf("first chunk = %d chars, want hard cut at 2000", len(chunks[0]))
		}
	})
}

func TestIsAudioAttachment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		contentType string
		want        bool
	}{
		{"audio/ogg", true},
		{"audio/mpeg", true},
		{"AUDIO/WAV", true},
		{"image/png", false},
		{"video/mp4", false},
		{"application/pdf", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isAudioAttachment(tt.contentType); got != tt.want {
			t.Errorf("isAudioAttachment(%q) = %v, want %v", tt.contentType, got, tt.want)
		}
	}
}
