// Package claude invokes the Claude Code CLI as a child process, one turn
// at a time, and parses its newline-delimited stream-json output. It also
// manages the CLI's on-disk conversation storage: listing, inspecting and
// pruning session records the assistant leaves behind.
package claude

import "time"

// Result is the parsed outcome of one successful turn.
type Result struct {
	// Output is the assistant's accumulated text response.
	Output string

	// SessionID is the conversation handle resolved for this turn, either
	// read from the event stream or recovered from disk. May be empty when
	// both tiers fail.
	SessionID string

	// SessionFromDisk marks a handle recovered via the filesystem
	// fallback rather than the event stream. Best effort: under
	// concurrent turns the newest directory entry may belong to someone
	// else, so callers should treat it with less trust.
	SessionFromDisk bool

	// Model is the model name reported by the init event.
	Model string

	// ToolsUsed lists invoked tool names, deduplicated, in first-use order.
	ToolsUsed []string

	// FilesTouched lists files reported as modified by edit/write tools,
	// deduplicated, in first-touch order.
	FilesTouched []string

	// CostUSD, DurationMS, InputTokens, OutputTokens and NumTurns come
	// from the final result event; zero when the stream ended without one.
	CostUSD      float64
	DurationMS   int64
	InputTokens  int
	OutputTokens int
	NumTurns     int

	// Events counts parsed stream events; Malformed counts skipped lines.
	Events    int
	Malformed int
}

// ConversationRecord describes one assistant-owned session file on disk.
// The assistant process is the sole writer; this package only reads and
// deletes.
type ConversationRecord struct {
	// Handle is the resumable conversation identifier (file stem).
	Handle string

	// Path is the absolute path of the session file.
	Path string

	// Project is the assistant's project directory the session lives in.
	Project string

	CreatedAt  time.Time
	ModifiedAt time.Time
	SizeBytes  int64

	// TurnsOnDisk is the number of recorded event lines in the file.
	TurnsOnDisk int
}
