// Package transcribe converts voice audio to text. The Deepgram
// implementation talks to the prerecorded transcription API; the
// Transcriber interface keeps the bot testable without network access.
package transcribe

import (
	"context"
	"errors"
)

// Errors.
var (
	// ErrNoAPIKey means the transcriber is not configured.
	ErrNoAPIKey = errors.New("transcribe: api key is required")

	// ErrEmptyTranscript means the service returned no recognizable speech.
	ErrEmptyTranscript = errors.New("transcribe: no speech recognized")
)

// Transcription is the result of transcribing one audio clip.
type Transcription struct {
	// Text is the recognized speech.
	Text string

	// Confidence is the service's confidence in Text (0..1).
	Confidence float64

	// Duration is the audio length in seconds as measured by the service.
	Duration float64

	// CostUSD is the estimated transcription cost.
	CostUSD float64
}

// Transcriber converts raw audio bytes into text.
type Transcriber interface {
	// Transcribe sends one audio clip for recognition. mimeType describes
	// the encoding (e.g. "audio/ogg").
	Transcribe(ctx context.Context, audio []byte, mimeType string) (*Transcription, error)
}
