package bot

import (
	"errors"
	"fmt"
	"time"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/claude"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/security"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/transcribe"
)

var (
	// ErrNotAuthorized means the sender is not on the access list.
	ErrNotAuthorized = errors.New("user is not authorized")

	// ErrBusy means the sender already has a turn in flight.
	ErrBusy = errors.New("previous turn still running")
)

// Canned replies for conditions handled before a turn ever starts.
const (
	replyBusy             = "⏳ Still working on your previous message. It will be answered first."
	replyDenied           = "🚫 You are not authorized to use this bot."
	replyUnsupported      = "I can only handle text and voice messages here."
	replyVoiceUnavailable = "🎤 Voice messages are not configured. Please send text instead."
)

// failureReply maps an internal error to the message the user sees. The
// raw error never reaches chat, it stays in the logs.
func failureReply(err error) string {
	var lim *security.RateLimitError
	if errors.As(err, &lim) {
		return fmt.Sprintf("🚦 Rate limit reached (%s window). Try again in %s.",
			lim.Window, lim.RetryAfter.Round(time.Second))
	}

	switch {
	case errors.Is(err, security.ErrInputTooLong):
		return "📏 That message is too long. Please shorten it and try again."
	case errors.Is(err, security.ErrDangerousPattern):
		return "🛡️ That message contains a blocked command pattern."
	case errors.Is(err, security.ErrSuspiciousInput):
		return "🤔 That message looks malformed. Please rephrase it."
	case errors.Is(err, security.ErrVoiceTooShort):
		return "🎤 That voice note is too short to transcribe."
	case errors.Is(err, security.ErrVoiceTooLong):
		return "🎤 That voice note is too long. Please keep it under two minutes."
	case errors.Is(err, transcribe.ErrEmptyTranscript):
		return "🎤 I could not make out any speech in that voice note."
	case errors.Is(err, transcribe.ErrNoAPIKey):
		return replyVoiceUnavailable
	case errors.Is(err, channels.ErrVoiceNotSupported):
		return replyVoiceUnavailable
	case errors.Is(err, channels.ErrVoiceDownloadFailed):
		return "🎤 I could not download that voice note. Please try again."
	case errors.Is(err, claude.ErrEmptyResult):
		return "🤷 The assistant finished without producing a reply. Please try again."
	}

	var execErr *claude.ExecError
	if errors.As(err, &execErr) {
		switch execErr.Category {
		case claude.CategoryTimeout:
			return "⏰ The assistant took too long and was stopped. Try a smaller request."
		case claude.CategoryAuthentication:
			return "🔑 The assistant CLI is not logged in. Ask the operator to check its credentials."
		case claude.CategoryProcessError:
			return "💥 The assistant process failed. Please try again."
		default:
			return "❌ Something went wrong while running the assistant. Please try again."
		}
	}

	return "❌ Something went wrong. Please try again."
}
