// Package channels defines the interfaces and types for PocketClaw
// communication channels. Each channel (Telegram, Discord) implements the
// Channel interface to receive and send messages in a unified way.
package channels

import (
	"context"
	"errors"
	"time"
)

// MessageType identifies the kind of message content.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageVoice MessageType = "voice"
	// MessageUnsupported covers media the assistant cannot read (photos,
	// video, documents). The bot answers these with a capability notice.
	MessageUnsupported MessageType = "unsupported"
)

// Channel defines the interface that every communication channel must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "telegram", "discord").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send sends a message to the specified chat.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// Receive returns a Go channel that emits incoming messages.
	Receive() <-chan *IncomingMessage

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// VoiceChannel extends Channel with voice note download. Channels that can
// deliver voice audio for transcription should implement it.
type VoiceChannel interface {
	Channel

	// DownloadVoice fetches the audio of an incoming voice message.
	// Returns the raw bytes and MIME type.
	DownloadVoice(ctx context.Context, msg *IncomingMessage) ([]byte, string, error)
}

// PresenceChannel extends Channel with typing indicators.
type PresenceChannel interface {
	Channel

	// SendTyping sends a "typing..." indicator to the chat.
	SendTyping(ctx context.Context, to string) error
}

// IncomingMessage represents a message received from any channel.
type IncomingMessage struct {
	// ID is the unique message identifier in the source channel.
	ID string

	// Channel identifies the source channel (e.g. "telegram").
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name (if available).
	FromName string

	// ChatID is the group or DM identifier replies go back to.
	ChatID string

	// IsGroup indicates whether the message is from a group chat.
	IsGroup bool

	// Type is the message content type.
	Type MessageType

	// Content is the text content of the message.
	Content string

	// Timestamp is when the message was sent.
	Timestamp time.Time

	// ReplyTo contains the ID of the message being replied to.
	ReplyTo string

	// Voice carries voice note details (if Type is MessageVoice).
	Voice *VoiceInfo

	// Metadata contains additional channel-specific data.
	Metadata map[string]any
}

// VoiceInfo describes a voice note attached to an incoming message.
type VoiceInfo struct {
	// FileRef is the platform handle used to download the audio
	// (file_id on Telegram, attachment URL on Discord).
	FileRef string

	// MimeType is the audio MIME type (e.g. "audio/ogg").
	MimeType string

	// Duration is the recording length in seconds. Zero means unknown.
	Duration float64

	// SizeBytes is the file size in bytes.
	SizeBytes int64
}

// OutgoingMessage represents a message to be sent through a channel.
type OutgoingMessage struct {
	// Content is the text content of the message.
	Content string

	// ReplyTo contains the ID of the message to reply to.
	ReplyTo string

	// Plain disables platform markup parsing for this message.
	Plain bool

	// Metadata contains additional channel-specific data.
	Metadata map[string]any
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
	Details       map[string]any
}

// Errors.
var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrSendFailed          = errors.New("failed to send message")
	ErrConnectionFailed    = errors.New("failed to connect to channel")
	ErrVoiceNotSupported   = errors.New("voice messages not supported by this channel")
	ErrVoiceDownloadFailed = errors.New("failed to download voice message")
)
