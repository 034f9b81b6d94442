// Package session holds the durable per-user conversation state: which
// assistant conversation a chat identity maps to, how many turns it has
// accumulated, and the user's preferences. The store survives restarts via
// a single JSON document replaced atomically on every mutation; a corrupt
// document costs the stored sessions, never availability.
package session

import "time"

// UserSession is the stored record for one chat identity.
type UserSession struct {
	// UserID is the opaque stable identifier from the transport.
	UserID string `json:"user_id"`

	// ConversationHandle identifies the assistant's persisted conversation.
	// Empty means the next turn starts a fresh conversation.
	ConversationHandle string `json:"conversation_handle,omitempty"`

	// TurnCount is the number of completed exchanges since the last reset
	// or compaction. Never negative.
	TurnCount int `json:"turn_count"`

	// LastActive is refreshed on every mutation.
	LastActive time.Time `json:"last_active"`

	// Preferences are the user's tunables.
	Preferences Preferences `json:"preferences"`
}

// Preferences are the per-user knobs carried in the session record.
type Preferences struct {
	// AutoCompact enables automatic conversation compaction when the turn
	// count reaches CompactThreshold.
	AutoCompact bool `json:"auto_compact"`

	// CompactThreshold is the turn count that triggers auto-compaction.
	CompactThreshold int `json:"compact_threshold"`

	// VoiceReplies acknowledges transcribed voice input by quoting the
	// transcript back before the assistant response.
	VoiceReplies bool `json:"voice_replies"`
}

// DefaultPreferences returns the preferences a fresh session starts with.
func DefaultPreferences() Preferences {
	return Preferences{
		AutoCompact:      true,
		CompactThreshold: 20,
		VoiceReplies:     true,
	}
}
