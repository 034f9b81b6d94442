// Package bot wires the PocketClaw pipeline: messages come in from the
// channel manager, pass the access list, the input guard and the rate
// limiter, run through the Claude Code CLI under a per-user turn lock,
// and go back out formatted for the transport. Voice notes take a
// transcription detour first; chat commands are handled locally without
// spending an assistant turn.
package bot

import (
	"strings"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels/discord"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels/telegram"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/claude"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/format"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/gateway"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/maintenance"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/secrets"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/security"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/session"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/transcribe"
)

// Config is the full PocketClaw configuration, one YAML document.
type Config struct {
	// Name is the bot name shown in greetings and status output.
	Name string `yaml:"name"`

	// Access controls who may talk to the bot.
	Access AccessConfig `yaml:"access"`

	// Channels configures the chat transports.
	Channels ChannelsConfig `yaml:"channels"`

	// Claude controls the assistant CLI invocation.
	Claude claude.Config `yaml:"claude"`

	// Guard tunes per-turn input validation.
	Guard security.GuardConfig `yaml:"guard"`

	// Limits tunes the per-user rate windows.
	Limits security.LimitConfig `yaml:"limits"`

	// Format tunes the outbound response formatter.
	Format format.Config `yaml:"format"`

	// Transcription configures the voice-note transcriber.
	Transcription transcribe.DeepgramConfig `yaml:"transcription"`

	// Sessions configures the durable per-user session store.
	Sessions SessionsConfig `yaml:"sessions"`

	// Audit configures the SQLite usage log.
	Audit AuditConfig `yaml:"audit"`

	// Gateway configures the HTTP status server.
	Gateway gateway.Config `yaml:"gateway"`

	// Maintenance configures scheduled housekeeping.
	Maintenance maintenance.Config `yaml:"maintenance"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("text", "json").
	Format string `yaml:"format"`
}

// AccessConfig is the authorization allowlist. An empty list means the
// bot answers anyone, which is logged loudly at startup.
type AccessConfig struct {
	// AllowedUsers are the user IDs that may talk to the bot.
	AllowedUsers []string `yaml:"allowed_users"`

	// Admins may additionally run destructive commands. Admins are
	// implicitly allowed users.
	Admins []string `yaml:"admins"`
}

// Allowed reports whether a user may interact with the bot.
func (a AccessConfig) Allowed(userID string) bool {
	if len(a.AllowedUsers) == 0 && len(a.Admins) == 0 {
		return true
	}
	return containsID(a.AllowedUsers, userID) || containsID(a.Admins, userID)
}

// IsAdmin reports whether a user may run admin commands.
func (a AccessConfig) IsAdmin(userID string) bool {
	return containsID(a.Admins, userID)
}

// Open reports whether no access list is configured at all.
func (a AccessConfig) Open() bool {
	return len(a.AllowedUsers) == 0 && len(a.Admins) == 0
}

func containsID(list []string, id string) bool {
	for _, entry := range list {
		if strings.TrimSpace(entry) == id {
			return true
		}
	}
	return false
}

// ChannelsConfig holds the per-transport settings. A channel whose token
// resolves to empty is simply not started.
type ChannelsConfig struct {
	Telegram telegram.Config `yaml:"telegram"`
	Discord  discord.Config  `yaml:"discord"`
}

// SessionsConfig configures the session store and the preferences a
// fresh user starts with.
type SessionsConfig struct {
	// Path is the session store file.
	Path string `yaml:"path"`

	// AutoCompact enables automatic conversation compaction.
	AutoCompact bool `yaml:"auto_compact"`

	// CompactThreshold is the turn count that triggers compaction.
	CompactThreshold int `yaml:"compact_threshold"`

	// VoiceReplies echoes the transcript back before the answer.
	VoiceReplies bool `yaml:"voice_replies"`
}

// Preferences converts the configured defaults into session preferences.
func (s SessionsConfig) Preferences() session.Preferences {
	return session.Preferences{
		AutoCompact:      s.AutoCompact,
		CompactThreshold: s.CompactThreshold,
		VoiceReplies:     s.VoiceReplies,
	}
}

// AuditConfig configures the usage log.
type AuditConfig struct {
	// Enabled turns audit recording on.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

// DefaultConfig returns the complete default configuration.
func DefaultConfig() *Config {
	prefs := session.DefaultPreferences()
	return &Config{
		Name: "PocketClaw",
		Channels: ChannelsConfig{
			Telegram: telegram.DefaultConfig(),
			Discord:  discord.DefaultConfig(),
		},
		Claude:        claude.DefaultConfig(),
		Guard:         security.DefaultGuardConfig(),
		Limits:        security.DefaultLimitConfig(),
		Format:        format.DefaultConfig(),
		Transcription: transcribe.DefaultDeepgramConfig(),
		Sessions: SessionsConfig{
			Path:             "./data/sessions.json",
			AutoCompact:      prefs.AutoCompact,
			CompactThreshold: prefs.CompactThreshold,
			VoiceReplies:     prefs.VoiceReplies,
		},
		Audit: AuditConfig{
			Enabled: true,
			Path:    "./data/pocketclaw.db",
		},
		Gateway:     gateway.DefaultConfig(),
		Maintenance: maintenance.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ResolveSecrets fills the token fields through the resolver chain
// (vault → OS keyring → environment → config value).
func (c *Config) ResolveSecrets(r *secrets.Resolver) {
	c.Channels.Telegram.Token = r.Lookup(secrets.SecretTelegramToken, c.Channels.Telegram.Token)
	c.Channels.Discord.Token = r.Lookup(secrets.SecretDiscordToken, c.Channels.Discord.Token)
	c.Transcription.APIKey = r.Lookup(secrets.SecretDeepgramKey, c.Transcription.APIKey)
	c.Gateway.AuthToken = r.Lookup(secrets.SecretGatewayToken, c.Gateway.AuthToken)
}
