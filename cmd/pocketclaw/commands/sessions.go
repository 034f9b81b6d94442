package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/claude"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/session"
)

// newSessionsCmd creates the `pocketclaw sessions` command group for
// inspecting the assistant's on-disk conversation storage.
func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored assistant conversations",
		Long: `Inspect the conversation files the Claude Code CLI keeps on disk,
without a running daemon.

Examples:
  pocketclaw sessions list
  pocketclaw sessions info 0193adc2
  pocketclaw sessions clean 30`,
	}

	cmd.AddCommand(
		newSessionsListCmd(),
		newSessionsInfoCmd(),
		newSessionsCleanCmd(),
	)

	return cmd
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored conversations, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store := claude.NewProjectStore(cfg.Claude.SessionsRoot, quietLogger(cmd))

			records, err := store.List("")
			if err != nil {
				return fmt.Errorf("listing conversations: %w", err)
			}
			if len(records) == 0 {
				fmt.Println("No stored conversations.")
				return nil
			}

			fmt.Printf("%-38s %-17s %9s  %s\n", "HANDLE", "MODIFIED", "SIZE", "PROJECT")
			for _, rec := range records {
				fmt.Printf("%-38s %-17s %9s  %s\n",
					rec.Handle,
					rec.ModifiedAt.Format("2006-01-02 15:04"),
					fmt.Sprintf("%.1f KB", float64(rec.SizeBytes)/1024),
					rec.Project,
				)
			}
			fmt.Printf("\n%d conversations under %s\n", len(records), store.Root())
			return nil
		},
	}
}

func newSessionsInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <handle>",
		Short: "Show details of one stored conversation",
		Long:  `Show details of one stored conversation. The handle may be abbreviated to a unique prefix.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store := claude.NewProjectStore(cfg.Claude.SessionsRoot, quietLogger(cmd))

			handle, err := resolveHandle(store, args[0])
			if err != nil {
				return err
			}
			rec, err := store.Info(handle)
			if err != nil {
				return fmt.Errorf("reading conversation: %w", err)
			}

			fmt.Printf("Handle:    %s\n", rec.Handle)
			fmt.Printf("Project:   %s\n", rec.Project)
			fmt.Printf("Path:      %s\n", rec.Path)
			fmt.Printf("Modified:  %s\n", rec.ModifiedAt.Format(time.RFC3339))
			fmt.Printf("Size:      %.1f KB\n", float64(rec.SizeBytes)/1024)
			fmt.Printf("Events:    %d\n", rec.TurnsOnDisk)
			return nil
		},
	}
}

func newSessionsCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [days]",
		Short: "Remove conversations idle for longer than N days",
		Long: `Remove conversation files that have not been touched for the given
number of days. Conversations still referenced by an active user session
are kept. Without an argument the configured retention window applies.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := quietLogger(cmd)

			days := cfg.Maintenance.SessionMaxAgeDays
			if len(args) == 1 {
				days, err = strconv.Atoi(args[0])
				if err != nil || days <= 0 {
					return fmt.Errorf("days must be a positive number, got %q", args[0])
				}
			}
			if days <= 0 {
				fmt.Println("Session retention is disabled in the config; pass an explicit day count.")
				return nil
			}

			// The user session store guards handles that are still in use.
			sessions, err := session.Open(cfg.Sessions.Path, cfg.Sessions.Preferences(), logger)
			if err != nil {
				return fmt.Errorf("opening session store: %w", err)
			}

			store := claude.NewProjectStore(cfg.Claude.SessionsRoot, logger)
			removed, err := store.Cleanup("", time.Duration(days)*24*time.Hour, sessions.HandleInUse)
			if err != nil {
				return fmt.Errorf("cleaning conversations: %w", err)
			}

			fmt.Printf("Removed %d stored conversations older than %d days.\n", removed, days)
			return nil
		},
	}
}

// resolveHandle expands an abbreviated handle to the full one, failing on
// no match.
func resolveHandle(store *claude.ProjectStore, prefix string) (string, error) {
	records, err := store.List("")
	if err != nil {
		return "", fmt.Errorf("listing conversations: %w", err)
	}
	for _, rec := range records {
		if strings.HasPrefix(rec.Handle, prefix) {
			return rec.Handle, nil
		}
	}
	return "", fmt.Errorf("no stored conversation matches %q", prefix)
}
