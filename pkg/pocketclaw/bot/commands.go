package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/audit"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/session"
)

// maxSessionsListed bounds the /sessions output so a long-lived install
// does not flood the chat.
const maxSessionsListed = 10

const cmdHelp = `Commands:
/status - session and usage overview
/new - start a fresh conversation (/clear works too)
/compact - summarize the conversation to free context
/sessions - list stored conversations
/sessioninfo <handle> - details for one stored conversation
/usage - your recorded usage and rate windows
/cleansessions [days] - remove stale stored conversations (admin)
/help - this list`

// handleCommand parses and dispatches one chat command. Commands are
// answered locally, they never spend an assistant turn.
func (b *Bot) handleCommand(ctx context.Context, msg *channels.IncomingMessage, text, runID string, logger *slog.Logger) {
	fields := strings.Fields(text)
	cmd := strings.ToLower(fields[0])
	// Telegram group commands arrive as /cmd@botname.
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	logger.Info("command", "cmd", cmd)

	reply, outcome := b.runCommand(ctx, msg, cmd, args)
	if reply == "" {
		return
	}
	b.reply(ctx, msg, reply, true)
	b.record(audit.Entry{
		RunID: runID, UserID: msg.From, Channel: msg.Channel,
		Kind: audit.KindCommand, Outcome: outcome, Detail: cmd,
	})
}

func (b *Bot) runCommand(ctx context.Context, msg *channels.IncomingMessage, cmd string, args []string) (string, string) {
	switch cmd {
	case "/start":
		return b.cmdStart(), audit.OutcomeOK
	case "/help":
		return cmdHelp, audit.OutcomeOK
	case "/status":
		return b.cmdStatus(msg.From), audit.OutcomeOK
	case "/new", "/newsession", "/clear":
		return b.cmdReset(msg.From)
	case "/compact":
		return b.cmdCompact(ctx, msg.From)
	case "/sessions":
		return b.cmdSessions()
	case "/sessioninfo":
		return b.cmdSessionInfo(args)
	case "/cleansessions":
		return b.cmdCleanSessions(msg.From, args)
	case "/usage":
		return b.cmdUsage(msg.From), audit.OutcomeOK
	default:
		return "Unknown command. Type /help for the list.", audit.OutcomeRejected
	}
}

func (b *Bot) cmdStart() string {
	return fmt.Sprintf("👋 Hi! I'm %s, your chat bridge to Claude Code.\n\n"+
		"Send me a message and I'll run it through the assistant. "+
		"Voice notes work too. Type /help for the command list.", b.cfg.Name)
}

func (b *Bot) cmdStatus(userID string) string {
	sess := b.store.GetOrCreate(userID)

	var sb strings.Builder
	fmt.Fprintf(&sb, "🤖 %s\n\n", b.cfg.Name)
	if sess.ConversationHandle == "" {
		sb.WriteString("Session: none yet, your next message starts one\n")
	} else {
		fmt.Fprintf(&sb, "Session: %s (turn %d)\n", shortHandle(sess.ConversationHandle), sess.TurnCount)
	}
	fmt.Fprintf(&sb, "Last active: %s\n", humanAgo(sess.LastActive))
	fmt.Fprintf(&sb, "Auto-compact: %s", onOff(sess.Preferences.AutoCompact))
	if sess.Preferences.AutoCompact {
		fmt.Fprintf(&sb, " (at %d turns)", sess.Preferences.CompactThreshold)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Voice replies: %s\n", onOff(sess.Preferences.VoiceReplies))

	b.writeWindows(&sb, userID)
	return sb.String()
}

func (b *Bot) cmdReset(userID string) (string, string) {
	lock := b.turnLock(userID)
	if !lock.TryLock() {
		return replyBusy, audit.OutcomeRejected
	}
	defer lock.Unlock()

	if _, err := b.store.Reset(userID); err != nil {
		b.logger.Warn("session reset failed", "user", userID, "err", err)
		return "❌ Could not reset the session. Please try again.", audit.OutcomeError
	}
	return "✨ Conversation reset. Your next message starts a fresh session.", audit.OutcomeOK
}

func (b *Bot) cmdCompact(ctx context.Context, userID string) (string, string) {
	lock := b.turnLock(userID)
	if !lock.TryLock() {
		return replyBusy, audit.OutcomeRejected
	}
	defer lock.Unlock()

	sess := b.store.GetOrCreate(userID)
	if sess.ConversationHandle == "" {
		return "Nothing to compact yet. Send a message first.", audit.OutcomeRejected
	}
	if err := b.runner.Compact(ctx, sess.ConversationHandle); err != nil {
		b.logger.Warn("manual compaction failed", "user", userID, "err", err)
		return failureReply(err), audit.OutcomeError
	}
	if _, err := b.store.Update(userID, func(s *session.UserSession) { s.TurnCount = 0 }); err != nil {
		b.logger.Warn("session update after compaction failed", "err", err)
	}
	return "🗜️ Conversation compacted. The thread continues with freed context.", audit.OutcomeOK
}

func (b *Bot) cmdSessions() (string, string) {
	if b.projects == nil {
		return "Stored session listing is not available.", audit.OutcomeRejected
	}
	records, err := b.projects.List("")
	if err != nil {
		b.logger.Warn("session listing failed", "err", err)
		return "❌ Could not read the session directory.", audit.OutcomeError
	}
	if len(records) == 0 {
		return "No stored conversations.", audit.OutcomeOK
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🗂 Stored conversations (%d):\n", len(records))
	shown := records
	if len(shown) > maxSessionsListed {
		shown = shown[:maxSessionsListed]
	}
	for _, rec := range shown {
		fmt.Fprintf(&sb, "• %s  %s  %.1f KB\n",
			shortHandle(rec.Handle), humanAgo(rec.ModifiedAt), float64(rec.SizeBytes)/1024)
	}
	if len(records) > maxSessionsListed {
		fmt.Fprintf(&sb, "…and %d more\n", len(records)-maxSessionsListed)
	}
	return sb.String(), audit.OutcomeOK
}

func (b *Bot) cmdSessionInfo(args []string) (string, string) {
	if b.projects == nil {
		return "Stored session listing is not available.", audit.OutcomeRejected
	}
	if len(args) == 0 {
		return "Usage: /sessioninfo <handle>", audit.OutcomeRejected
	}
	prefix := args[0]

	records, err := b.projects.List("")
	if err != nil {
		b.logger.Warn("session listing failed", "err", err)
		return "❌ Could not read the session directory.", audit.OutcomeError
	}
	var handle string
	for _, rec := range records {
		if strings.HasPrefix(rec.Handle, prefix) {
			handle = rec.Handle
			break
		}
	}
	if handle == "" {
		return fmt.Sprintf("No stored conversation matches %q.", prefix), audit.OutcomeRejected
	}

	rec, err := b.projects.Info(handle)
	if err != nil {
		b.logger.Warn("session info failed", "session", handle, "err", err)
		return "❌ Could not read that conversation.", audit.OutcomeError
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🗂 %s\n", rec.Handle)
	fmt.Fprintf(&sb, "Project: %s\n", rec.Project)
	fmt.Fprintf(&sb, "Modified: %s\n", humanAgo(rec.ModifiedAt))
	fmt.Fprintf(&sb, "Size: %.1f KB\n", float64(rec.SizeBytes)/1024)
	fmt.Fprintf(&sb, "Recorded events: %d\n", rec.TurnsOnDisk)
	return sb.String(), audit.OutcomeOK
}

func (b *Bot) cmdCleanSessions(userID string, args []string) (string, string) {
	if !b.cfg.Access.IsAdmin(userID) {
		return "🔒 This command is restricted to admins.", audit.OutcomeRejected
	}
	if b.projects == nil {
		return "Stored session listing is not available.", audit.OutcomeRejected
	}

	days := b.cfg.Maintenance.SessionMaxAgeDays
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return "Usage: /cleansessions [days]", audit.OutcomeRejected
		}
		days = n
	}
	if days <= 0 {
		return "Session retention is disabled. Give an explicit age: /cleansessions <days>", audit.OutcomeRejected
	}

	removed, err := b.projects.Cleanup("", time.Duration(days)*24*time.Hour, b.store.HandleInUse)
	if err != nil {
		b.logger.Warn("manual session cleanup failed", "err", err)
		return "❌ Cleanup failed. Check the logs.", audit.OutcomeError
	}
	return fmt.Sprintf("🧹 Removed %d stored conversations older than %d days.", removed, days), audit.OutcomeOK
}

func (b *Bot) cmdUsage(userID string) string {
	var sb strings.Builder
	sb.WriteString("📊 Your usage\n")
	if b.auditLog != nil {
		if stats, err := b.auditLog.StatsFor(userID); err == nil {
			fmt.Fprintf(&sb, "Turns: %d\n", stats.Turns)
			if stats.CostUSD > 0 {
				fmt.Fprintf(&sb, "Cost: $%.4f\n", stats.CostUSD)
			}
			fmt.Fprintf(&sb, "Last seen: %s\n", humanAgo(stats.LastSeen))
		} else {
			b.logger.Warn("usage stats query failed", "user", userID, "err", err)
		}
	}
	b.writeWindows(&sb, userID)
	return sb.String()
}

// writeWindows appends the rate window standing to a status reply.
func (b *Bot) writeWindows(sb *strings.Builder, userID string) {
	sb.WriteString("\nRate windows:\n")
	for _, w := range b.limiter.Usage(userID, time.Now()) {
		fmt.Fprintf(sb, "• %s: %d/%d", w.Window, w.Used, w.Limit)
		if w.ResetIn > 0 {
			fmt.Fprintf(sb, " (resets in %s)", w.ResetIn.Round(time.Second))
		}
		sb.WriteString("\n")
	}
}

func shortHandle(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

func humanAgo(t time.Time) string {
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

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
