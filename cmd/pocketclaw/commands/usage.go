package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/audit"
)

// newUsageCmd creates the `pocketclaw usage` command over the audit log.
func newUsageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage [user]",
		Short: "Show recorded usage from the audit log",
		Long: `Show lifetime usage totals, or one user's recorded activity.

Examples:
  pocketclaw usage
  pocketclaw usage 123456789
  pocketclaw usage --recent 25`,
		Args: cobra.MaximumNArgs(1),
		RunE: runUsage,
	}

	cmd.Flags().Int("recent", 10, "number of recent turns to list")
	return cmd
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if !cfg.Audit.Enabled {
		fmt.Println("Audit logging is disabled in the config.")
		return nil
	}
	if _, err := os.Stat(cfg.Audit.Path); err != nil {
		fmt.Println("No usage recorded yet.")
		return nil
	}

	log, err := audit.Open(cfg.Audit.Path, quietLogger(cmd))
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer log.Close()

	if len(args) == 1 {
		return printUserUsage(log, args[0])
	}

	totals, err := log.TotalStats()
	if err != nil {
		return fmt.Errorf("reading totals: %w", err)
	}
	fmt.Printf("Turns:  %d\n", totals.Turns)
	fmt.Printf("Users:  %d\n", totals.Users)
	if totals.CostUSD > 0 {
		fmt.Printf("Cost:   $%.4f\n", totals.CostUSD)
	}
	fmt.Printf("Errors: %d\n", totals.Errors)

	n, _ := cmd.Flags().GetInt("recent")
	entries, err := log.Recent(n)
	if err != nil {
		return fmt.Errorf("reading recent turns: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	fmt.Println("\nRecent turns:")
	for _, e := range entries {
		line := fmt.Sprintf("  %s  %-14s %-8s %-9s",
			e.CreatedAt.Format("01-02 15:04"), e.UserID, e.Kind, e.Outcome)
		if e.DurationMS > 0 {
			line += fmt.Sprintf("  %s", (time.Duration(e.DurationMS) * time.Millisecond).Round(time.Second))
		}
		if e.CostUSD > 0 {
			line += fmt.Sprintf("  $%.4f", e.CostUSD)
		}
		fmt.Println(line)
	}
	return nil
}

// printUserUsage shows one user's aggregated activity.
func printUserUsage(log *audit.Log, userID string) error {
	stats, err := log.StatsFor(userID)
	if err != nil {
		return fmt.Errorf("reading user stats: %w", err)
	}
	if stats.Turns == 0 {
		fmt.Printf("No recorded activity for %s.\n", userID)
		return nil
	}

	fmt.Printf("User:      %s\n", stats.UserID)
	fmt.Printf("Turns:     %d\n", stats.Turns)
	if stats.CostUSD > 0 {
		fmt.Printf("Cost:      $%.4f\n", stats.CostUSD)
	}
	fmt.Printf("Time:      %s\n", (time.Duration(stats.DurationMS) * time.Millisecond).Round(time.Second))
	fmt.Printf("Last seen: %s\n", stats.LastSeen.Format("2006-01-02 15:04:05"))
	return nil
}
