package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/audit"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/bot"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels/discord"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels/telegram"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/claude"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/gateway"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/maintenance"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/secrets"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/session"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/transcribe"
)

// newServeCmd creates the `pocketclaw serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bot daemon",
		Long: `Start PocketClaw as a daemon, connecting the configured chat
channels (Telegram, Discord) to the Claude Code CLI.

Examples:
  pocketclaw serve
  pocketclaw serve --channel telegram
  pocketclaw serve --config ./pocketclaw.yml`,
		RunE: runServe,
	}

	cmd.Flags().StringSlice("channel", nil, "channels to enable (telegram, discord)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, configPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// ── Configure logger ──
	logger := newLogger(cmd, cfg)
	if configPath != "" {
		logger.Info("config loaded", "path", configPath)
	} else {
		logger.Warn("no config file found, running on defaults",
			"hint", "run 'pocketclaw setup' to create one")
	}

	// ── Resolve secrets ──
	// Audit BEFORE resolving; the raw config still shows hardcoded keys.
	bot.AuditSecrets(cfg, logger)
	// Resolve from vault → keyring → env → config.
	resolver := secrets.OpenResolver(secrets.VaultFile, logger)
	cfg.ResolveSecrets(resolver)

	// ── Session store ──
	store, err := session.Open(cfg.Sessions.Path, cfg.Sessions.Preferences(), logger)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}

	// ── Assistant runner ──
	runner := claude.NewRunner(cfg.Claude, logger)

	// ── Register channels ──
	manager := channels.NewManager(logger)
	channelFilter, _ := cmd.Flags().GetStringSlice("channel")

	if shouldEnable("telegram", channelFilter) && cfg.Channels.Telegram.Token != "" {
		tg := telegram.New(cfg.Channels.Telegram, logger)
		if err := manager.Register(tg); err != nil {
			logger.Error("failed to register Telegram", "error", err)
		} else {
			logger.Info("Telegram channel registered")
		}
	}

	if shouldEnable("discord", channelFilter) && cfg.Channels.Discord.Token != "" {
		dc := discord.New(cfg.Channels.Discord, logger)
		if err := manager.Register(dc); err != nil {
			logger.Error("failed to register Discord", "error", err)
		} else {
			logger.Info("Discord channel registered")
		}
	}

	if !manager.HasChannels() {
		return fmt.Errorf("no channel is configured: set a Telegram or Discord token, or run 'pocketclaw setup'")
	}

	// ── Voice transcription (optional) ──
	var transcriber transcribe.Transcriber
	if cfg.Transcription.APIKey != "" {
		transcriber = transcribe.NewDeepgram(cfg.Transcription, logger)
		logger.Info("voice transcription enabled", "model", cfg.Transcription.Model)
	}

	// ── Audit log (optional) ──
	var auditLog *audit.Log
	if cfg.Audit.Enabled {
		auditLog, err = audit.Open(cfg.Audit.Path, logger)
		if err != nil {
			logger.Error("failed to open audit log, continuing without", "error", err)
			auditLog = nil
		} else {
			defer auditLog.Close()
		}
	}

	// ── Assemble the bot ──
	b := bot.New(cfg, bot.Deps{
		Store:       store,
		Runner:      runner,
		Channels:    manager,
		Transcriber: transcriber,
		Audit:       auditLog,
	}, logger)

	// A nil *audit.Log must not become a non-nil interface value.
	var usageTotals gateway.UsageTotals
	var auditPruner maintenance.AuditPruner
	if auditLog != nil {
		usageTotals = auditLog
		auditPruner = auditLog
	}

	// ── Start gateway if enabled ──
	var gw *gateway.Gateway
	if cfg.Gateway.Enabled {
		gw = gateway.New(cfg.Gateway, manager, store, usageTotals, logger)
		if err := gw.Start(); err != nil {
			logger.Error("failed to start gateway", "error", err)
		}
	}

	// ── Scheduled housekeeping ──
	janitor := maintenance.New(cfg.Maintenance, runner.Projects(), auditPruner, store.HandleInUse, logger)
	if err := janitor.Start(); err != nil {
		logger.Error("failed to start housekeeping", "error", err)
	}

	// ── Run until shutdown ──
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	botErr := make(chan error, 1)
	go func() { botErr <- b.Run(ctx) }()

	logger.Info("PocketClaw running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"open_access", cfg.Access.Open(),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigChan:
		logger.Info("shutdown signal received, stopping...")
		cancel()
		runErr = <-botErr
	case runErr = <-botErr:
		logger.Info("message stream ended, stopping...")
	}

	// Graceful shutdown with timeout.
	done := make(chan struct{})
	go func() {
		janitor.Stop()
		if gw != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = gw.Stop(shutdownCtx)
			shutdownCancel()
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return runErr
}

// shouldEnable checks the --channel filter. An empty filter enables every
// channel that has a token configured.
func shouldEnable(name string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == name {
			return true
		}
	}
	return false
}
