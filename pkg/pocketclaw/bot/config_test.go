package bot

import (
	"log/slog"
	"os"
	"testing"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/secrets"
)

func TestAccessAllowed(t *testing.T) {
	tests := []struct {
		name   string
		access AccessConfig
		userID string
		want   bool
	}{
		{"open config allows anyone", AccessConfig{}, "stranger", true},
		{"listed user allowed", AccessConfig{AllowedUsers: []string{"u1", "u2"}}, "u1", true},
		{"unlisted user denied", AccessConfig{AllowedUsers: []string{"u1"}}, "u9", false},
		{"admin implicitly allowed", AccessConfig{AllowedUsers: []string{"u1"}, Admins: []string{"boss"}}, "boss", true},
		{"admins only still closes the bot", AccessConfig{Admins: []string{"boss"}}, "stranger", false},
		{"ids are trimmed", AccessConfig{AllowedUsers: []string{" u1 "}}, "u1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.access.Allowed(tt.userID); got != tt.want {
				t.Errorf("Allowed(%q) = %v, want %v", tt.userID, got, tt.want)
			}
		})
	}
}

func TestAccessIsAdmin(t *testing.T) {
	access := AccessConfig{AllowedUsers: []string{"u1"}, Admins: []string{"boss"}}

	if !access.IsAdmin("boss") {
		t.Error("IsAdmin(boss) = false, want true")
	}
	if access.IsAdmin("u1") {
		t.Error("IsAdmin(u1) = true, allowed users are not admins")
	}
	if access.IsAdmin("stranger") {
		t.Error("IsAdmin(stranger) = true, want false")
	}
}

func TestAccessOpen(t *testing.T) {
	if !(AccessConfig{}).Open() {
		t.Error("empty access config should report open")
	}
	if (AccessConfig{Admins: []string{"boss"}}).Open() {
		t.Error("config with admins should not report open")
	}
}

func TestSessionsPreferences(t *testing.T) {
	cfg := SessionsConfig{AutoCompact: true, CompactThreshold: 15, VoiceReplies: false}
	prefs := cfg.Preferences()

	if !prefs.AutoCompact {
		t.Error("AutoCompact not carried over")
	}
	if prefs.CompactThreshold != 15 {
		t.Errorf("CompactThreshold = %d, want 15", prefs.CompactThreshold)
	}
	if prefs.VoiceReplies {
		t.Error("VoiceReplies not carried over")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Name != "PocketClaw" {
		t.Errorf("Name = %q, want PocketClaw", cfg.Name)
	}
	if cfg.Sessions.Path == "" {
		t.Error("Sessions.Path empty")
	}
	if cfg.Sessions.CompactThreshold != 20 {
		t.Errorf("CompactThreshold = %d, want 20", cfg.Sessions.CompactThreshold)
	}
	if !cfg.Audit.Enabled {
		t.Error("audit should be enabled by default")
	}
	if cfg.Gateway.Enabled {
		t.Error("gateway should be disabled by default")
	}
	if !cfg.Maintenance.Enabled {
		t.Error("maintenance should be enabled by default")
	}
}

func TestResolveSecretsFromEnv(t *testing.T) {
	t.Setenv(secrets.SecretTelegramToken, "123456:env-token")
	t.Setenv(secrets.SecretDeepgramKey, "dg-env-key")

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	resolver := secrets.OpenResolver("", logger)

	cfg := DefaultConfig()
	cfg.Channels.Telegram.Token = "${TELEGRAM_BOT_TOKEN}"
	cfg.Channels.Discord.Token = "config-discord-token"
	cfg.ResolveSecrets(resolver)

	if cfg.Channels.Telegram.Token != "123456:env-token" {
		t.Errorf("Telegram.Token = %q, want the env value", cfg.Channels.Telegram.Token)
	}
	if cfg.Transcription.APIKey != "dg-env-key" {
		t.Errorf("Transcription.APIKey = %q, want the env value", cfg.Transcription.APIKey)
	}
	if cfg.Channels.Discord.Token != "config-discord-token" {
		t.Errorf("Discord.Token = %q, config fallback lost", cfg.Channels.Discord.Token)
	}
}
