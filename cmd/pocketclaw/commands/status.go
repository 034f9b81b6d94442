package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/audit"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/bot"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/claude"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/secrets"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/session"
)

// newStatusCmd creates the `pocketclaw status` command: a daemon-less
// overview of configuration, user sessions and stored conversations.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and session state",
		Long: `Show which channels are configured, the assistant settings, and the
current user sessions, reading from disk without a running daemon.

Examples:
  pocketclaw status
  pocketclaw status --config ./pocketclaw.yml`,
		RunE: runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, configPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := quietLogger(cmd)

	resolver := secrets.OpenResolver(secrets.VaultFile, logger)
	cfg.ResolveSecrets(resolver)

	fmt.Printf("PocketClaw %s\n\n", cmd.Root().Version)

	if configPath != "" {
		fmt.Printf("Config:     %s\n", configPath)
	} else {
		fmt.Printf("Config:     (defaults, no file found)\n")
	}
	fmt.Printf("Claude:     %s (max %d turns, %s timeout)\n",
		cfg.Claude.Binary, cfg.Claude.MaxTurns, cfg.Claude.Timeout)
	if cfg.Claude.Model != "" {
		fmt.Printf("Model:      %s\n", cfg.Claude.Model)
	}
	fmt.Printf("Telegram:   %s\n", configuredMark(cfg.Channels.Telegram.Token != ""))
	fmt.Printf("Discord:    %s\n", configuredMark(cfg.Channels.Discord.Token != ""))
	fmt.Printf("Voice:      %s\n", configuredMark(cfg.Transcription.APIKey != ""))
	if cfg.Gateway.Enabled {
		fmt.Printf("Gateway:    %s\n", cfg.Gateway.Address)
	}
	if cfg.Access.Open() {
		fmt.Printf("Access:     OPEN (no allowlist configured)\n")
	} else {
		fmt.Printf("Access:     %d allowed, %d admins\n",
			len(cfg.Access.AllowedUsers), len(cfg.Access.Admins))
	}

	printUserSessions(cfg, logger)
	printStoredConversations(cfg, logger)
	printAuditSummary(cfg, logger)

	return nil
}

// printUserSessions lists the per-user session records from the store.
func printUserSessions(cfg *bot.Config, logger *slog.Logger) {
	if _, err := os.Stat(cfg.Sessions.Path); err != nil {
		fmt.Printf("\nUser sessions: none yet\n")
		return
	}
	store, err := session.Open(cfg.Sessions.Path, cfg.Sessions.Preferences(), logger)
	if err != nil {
		fmt.Printf("\nUser sessions: unreadable (%v)\n", err)
		return
	}

	users := store.All()
	fmt.Printf("\nUser sessions: %d\n", len(users))
	for _, u := range users {
		handle := "no conversation"
		if u.ConversationHandle != "" {
			handle = shortHandle(u.ConversationHandle)
		}
		fmt.Printf("  %-20s turn %-4d %-16s last active %s\n",
			u.UserID, u.TurnCount, handle, ago(u.LastActive))
	}
}

// printStoredConversations summarizes the assistant's on-disk sessions.
func printStoredConversations(cfg *bot.Config, logger *slog.Logger) {
	store := claude.NewProjectStore(cfg.Claude.SessionsRoot, logger)
	records, err := store.List("")
	if err != nil {
		fmt.Printf("\nStored conversations: unreadable (%v)\n", err)
		return
	}
	fmt.Printf("\nStored conversations: %d under %s\n", len(records), store.Root())
	if len(records) > 0 {
		newest := records[0]
		fmt.Printf("  newest %s, modified %s\n", shortHandle(newest.Handle), ago(newest.ModifiedAt))
	}
}

// printAuditSummary shows lifetime totals when the audit log has data.
func printAuditSummary(cfg *bot.Config, logger *slog.Logger) {
	if !cfg.Audit.Enabled {
		return
	}
	if _, err := os.Stat(cfg.Audit.Path); err != nil {
		fmt.Printf("\nAudit: no data recorded yet\n")
		return
	}
	log, err := audit.Open(cfg.Audit.Path, logger)
	if err != nil {
		fmt.Printf("\nAudit: unreadable (%v)\n", err)
		return
	}
	defer log.Close()

	totals, err := log.TotalStats()
	if err != nil {
		fmt.Printf("\nAudit: unreadable (%v)\n", err)
		return
	}
	fmt.Printf("\nAudit: %d turns from %d users", totals.Turns, totals.Users)
	if totals.CostUSD > 0 {
		fmt.Printf(", $%.4f total", totals.CostUSD)
	}
	if totals.Errors > 0 {
		fmt.Printf(", %d errors", totals.Errors)
	}
	fmt.Println()
}

func configuredMark(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

// shortHandle abbreviates a conversation handle for display.
func shortHandle(handle string) string {
	if len(handle) <= 8 {
		return handle
	}
	return handle[:8]
}

// ago renders a timestamp as a rough age.
func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
