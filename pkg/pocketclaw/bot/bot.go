package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/audit"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/claude"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/format"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/security"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/session"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/transcribe"
)

// typingInterval is how often the typing indicator is refreshed while a
// turn is running. Platforms expire the indicator after ~5 seconds.
const typingInterval = 4 * time.Second

// TurnRunner executes assistant turns. *claude.Runner satisfies it; tests
// substitute stubs.
type TurnRunner interface {
	Run(ctx context.Context, prompt, resume string) (*claude.Result, error)
	Compact(ctx context.Context, handle string) error
}

// Deps are the collaborators the bot is wired with. Transcriber and Audit
// may be nil, the matching features degrade gracefully.
type Deps struct {
	Store       *session.Store
	Runner      TurnRunner
	Projects    *claude.ProjectStore
	Channels    *channels.Manager
	Transcriber transcribe.Transcriber
	Audit       *audit.Log
}

// Bot routes incoming chat messages through validation, rate limiting and
// the assistant CLI, one turn per user at a time.
type Bot struct {
	cfg         *Config
	store       *session.Store
	runner      TurnRunner
	projects    *claude.ProjectStore
	channels    *channels.Manager
	transcriber transcribe.Transcriber
	auditLog    *audit.Log

	guard     *security.Guard
	limiter   *security.RateLimiter
	formatter *format.Formatter

	logger *slog.Logger

	// turns serializes the pipeline per user. A second message while a
	// turn is in flight gets a busy notice instead of queueing.
	turnMu sync.Mutex
	turns  map[string]*sync.Mutex
}

// New wires a Bot from configuration and collaborators. A nil logger
// falls back to slog.Default(). When Deps.Projects is nil and the runner
// is a *claude.Runner, its project store is used.
func New(cfg *Config, deps Deps, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	projects := deps.Projects
	if projects == nil {
		if r, ok := deps.Runner.(*claude.Runner); ok {
			projects = r.Projects()
		}
	}

	return &Bot{
		cfg:         cfg,
		store:       deps.Store,
		runner:      deps.Runner,
		projects:    projects,
		channels:    deps.Channels,
		transcriber: deps.Transcriber,
		auditLog:    deps.Audit,
		guard:       security.NewGuard(cfg.Guard, logger),
		limiter:     security.NewRateLimiter(cfg.Limits),
		formatter:   format.New(cfg.Format, logger),
		logger:      logger.With("component", "bot"),
		turns:       make(map[string]*sync.Mutex),
	}
}

// Run starts the channels and processes messages until ctx is cancelled
// or the message stream closes. Each message is handled on its own
// goroutine; per-user ordering is enforced by the turn locks.
func (b *Bot) Run(ctx context.Context) error {
	if b.cfg.Access.Open() {
		b.logger.Warn("no access list configured, anyone who finds this bot can use it",
			"hint", "set access.allowed_users in the config")
	}

	if err := b.channels.Start(ctx); err != nil {
		return fmt.Errorf("starting channels: %w", err)
	}
	defer b.channels.Stop()

	b.logger.Info("bot running", "name", b.cfg.Name)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-b.channels.Messages():
			if !ok {
				return nil
			}
			go b.handleMessage(ctx, msg)
		}
	}
}

// handleMessage is the entry point for one incoming message.
func (b *Bot) handleMessage(ctx context.Context, msg *channels.IncomingMessage) {
	runID := uuid.NewString()
	logger := b.logger.With("run", runID, "user", msg.From, "channel", msg.Channel)

	if !b.cfg.Access.Allowed(msg.From) {
		logger.Info("message from unauthorized user", "name", msg.FromName)
		b.reply(ctx, msg, replyDenied, true)
		b.record(audit.Entry{
			RunID: runID, UserID: msg.From, Channel: msg.Channel,
			Kind: audit.KindText, Outcome: audit.OutcomeRejected,
			Detail: "not on access list",
		})
		return
	}

	switch msg.Type {
	case channels.MessageVoice:
		b.handleVoice(ctx, msg, runID, logger)
	case channels.MessageUnsupported:
		b.reply(ctx, msg, replyUnsupported, true)
	default:
		text := strings.TrimSpace(msg.Content)
		if text == "" {
			return
		}
		if strings.HasPrefix(text, "/") {
			b.handleCommand(ctx, msg, text, runID, logger)
			return
		}
		b.handleText(ctx, msg, text, audit.KindText, runID, logger)
	}
}

// handleVoice validates, downloads and transcribes a voice note, then
// feeds the transcript through the regular text path.
func (b *Bot) handleVoice(ctx context.Context, msg *channels.IncomingMessage, runID string, logger *slog.Logger) {
	if b.transcriber == nil {
		b.reply(ctx, msg, replyVoiceUnavailable, true)
		return
	}
	if msg.Voice == nil {
		logger.Warn("voice message without voice info")
		return
	}

	// Duration zero means the platform did not report one; the check runs
	// on what we know before paying for download and transcription.
	if msg.Voice.Duration > 0 {
		if err := b.guard.ValidateVoice(msg.From, msg.Voice.Duration); err != nil {
			b.reply(ctx, msg, failureReply(err), true)
			b.record(audit.Entry{
				RunID: runID, UserID: msg.From, Channel: msg.Channel,
				Kind: audit.KindVoice, Outcome: audit.OutcomeRejected, Detail: err.Error(),
			})
			return
		}
	}

	ch, ok := b.channels.Channel(msg.Channel)
	if !ok {
		logger.Error("voice message from unknown channel")
		return
	}
	vc, ok := ch.(channels.VoiceChannel)
	if !ok {
		b.reply(ctx, msg, failureReply(channels.ErrVoiceNotSupported), true)
		return
	}

	audio, mimeType, err := vc.DownloadVoice(ctx, msg)
	if err != nil {
		logger.Error("voice download failed", "err", err)
		b.reply(ctx, msg, failureReply(channels.ErrVoiceDownloadFailed), true)
		b.record(audit.Entry{
			RunID: runID, UserID: msg.From, Channel: msg.Channel,
			Kind: audit.KindVoice, Outcome: audit.OutcomeError, Detail: err.Error(),
		})
		return
	}

	tr, err := b.transcriber.Transcribe(ctx, audio, mimeType)
	if err != nil {
		logger.Error("transcription failed", "err", err)
		outcome := audit.OutcomeError
		if errors.Is(err, transcribe.ErrEmptyTranscript) {
			outcome = audit.OutcomeRejected
		}
		b.reply(ctx, msg, failureReply(err), true)
		b.record(audit.Entry{
			RunID: runID, UserID: msg.From, Channel: msg.Channel,
			Kind: audit.KindVoice, Outcome: outcome, Detail: err.Error(),
		})
		return
	}
	logger.Info("voice transcribed",
		"seconds", msg.Voice.Duration, "confidence", tr.Confidence, "chars", len(tr.Text))

	sess := b.store.GetOrCreate(msg.From)
	if sess.Preferences.VoiceReplies {
		b.reply(ctx, msg, "🎤 "+tr.Text, true)
	}

	b.handleText(ctx, msg, tr.Text, audit.KindVoice, runID, logger)
}

// handleText runs one assistant turn: guard, rate limit, per-user lock,
// CLI invocation, session bookkeeping, formatted delivery.
func (b *Bot) handleText(ctx context.Context, msg *channels.IncomingMessage, text, kind, runID string, logger *slog.Logger) {
	if err := b.guard.ValidateText(msg.From, text); err != nil {
		b.reply(ctx, msg, failureReply(err), true)
		b.record(audit.Entry{
			RunID: runID, UserID: msg.From, Channel: msg.Channel,
			Kind: kind, Outcome: audit.OutcomeRejected, Detail: err.Error(),
		})
		return
	}

	if err := b.limiter.Admit(msg.From, time.Now()); err != nil {
		logger.Info("rate limited", "err", err)
		b.reply(ctx, msg, failureReply(err), true)
		b.record(audit.Entry{
			RunID: runID, UserID: msg.From, Channel: msg.Channel,
			Kind: kind, Outcome: audit.OutcomeRejected, Detail: err.Error(),
		})
		return
	}

	lock := b.turnLock(msg.From)
	if !lock.TryLock() {
		logger.Info("turn already in flight, rejecting")
		b.reply(ctx, msg, replyBusy, true)
		b.record(audit.Entry{
			RunID: runID, UserID: msg.From, Channel: msg.Channel,
			Kind: kind, Outcome: audit.OutcomeRejected, Detail: ErrBusy.Error(),
		})
		return
	}
	defer lock.Unlock()

	sess := b.store.GetOrCreate(msg.From)

	stopTyping := b.startTyping(ctx, msg)
	defer stopTyping()

	logger.Info("running turn",
		"chars", len(text), "resume", sess.ConversationHandle != "", "kind", kind)

	res, err := b.runner.Run(ctx, text, sess.ConversationHandle)
	if err != nil {
		stopTyping()
		logger.Error("turn failed", "err", err)
		b.reply(ctx, msg, failureReply(err), true)
		b.record(audit.Entry{
			RunID: runID, UserID: msg.From, Channel: msg.Channel,
			Kind: kind, Outcome: audit.OutcomeError, Detail: err.Error(),
			Session: sess.ConversationHandle,
		})
		return
	}

	updated, err := b.store.Update(msg.From, func(s *session.UserSession) {
		if res.SessionID != "" {
			s.ConversationHandle = res.SessionID
		}
		s.TurnCount++
	})
	if err != nil {
		logger.Warn("session update failed", "err", err)
		updated = sess
		updated.TurnCount++
	}

	updated = b.maybeCompact(ctx, msg.From, updated, logger)

	stopTyping()

	units := b.formatter.Format(res.Output, &format.Meta{
		Tools:      res.ToolsUsed,
		Files:      res.FilesTouched,
		Turn:       updated.TurnCount,
		CostUSD:    res.CostUSD,
		DurationMS: res.DurationMS,
	})
	for _, unit := range units {
		b.reply(ctx, msg, unit.Text, false)
	}

	logger.Info("turn complete",
		"session", res.SessionID, "turn", updated.TurnCount,
		"units", len(units), "cost_usd", res.CostUSD, "duration_ms", res.DurationMS)

	b.record(audit.Entry{
		RunID: runID, UserID: msg.From, Channel: msg.Channel,
		Kind: kind, Outcome: audit.OutcomeOK,
		Session:     updated.ConversationHandle,
		PromptChars: len(text),
		OutputChars: len(res.Output),
		Turn:        updated.TurnCount,
		DurationMS:  res.DurationMS,
		CostUSD:     res.CostUSD,
	})
}

// maybeCompact compacts the conversation when the turn count reaches the
// user's threshold. Runs inside the turn lock so the next message sees
// the reset count. Compaction failure is logged and the count keeps
// growing until it succeeds.
func (b *Bot) maybeCompact(ctx context.Context, userID string, sess session.UserSession, logger *slog.Logger) session.UserSession {
	prefs := sess.Preferences
	if !prefs.AutoCompact || prefs.CompactThreshold <= 0 {
		return sess
	}
	if sess.TurnCount < prefs.CompactThreshold || sess.ConversationHandle == "" {
		return sess
	}

	if err := b.runner.Compact(ctx, sess.ConversationHandle); err != nil {
		logger.Warn("auto-compaction failed", "session", sess.ConversationHandle, "err", err)
		return sess
	}

	updated, err := b.store.Update(userID, func(s *session.UserSession) {
		s.TurnCount = 0
	})
	if err != nil {
		logger.Warn("session update after compaction failed", "err", err)
		sess.TurnCount = 0
		return sess
	}
	logger.Info("conversation compacted", "session", updated.ConversationHandle)
	return updated
}

// turnLock returns the per-user lock, creating it on first use.
func (b *Bot) turnLock(userID string) *sync.Mutex {
	b.turnMu.Lock()
	defer b.turnMu.Unlock()
	lock, ok := b.turns[userID]
	if !ok {
		lock = &sync.Mutex{}
		b.turns[userID] = lock
	}
	return lock
}

// startTyping keeps the typing indicator alive while a turn runs. The
// returned stop function is idempotent.
func (b *Bot) startTyping(ctx context.Context, msg *channels.IncomingMessage) func() {
	ch, ok := b.channels.Channel(msg.Channel)
	if !ok {
		return func() {}
	}
	pc, ok := ch.(channels.PresenceChannel)
	if !ok {
		return func() {}
	}

	typingCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		for {
			if err := pc.SendTyping(typingCtx, msg.ChatID); err != nil {
				return
			}
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return cancel
}

// reply sends one message back to the chat the input came from. Group
// messages are sent as threaded replies so the answer stays attached to
// the question.
func (b *Bot) reply(ctx context.Context, msg *channels.IncomingMessage, text string, plain bool) {
	out := &channels.OutgoingMessage{Content: text, Plain: plain}
	if msg.IsGroup {
		out.ReplyTo = msg.ID
	}
	if err := b.channels.Send(ctx, msg.Channel, msg.ChatID, out); err != nil {
		b.logger.Error("reply send failed", "channel", msg.Channel, "chat", msg.ChatID, "err", err)
	}
}

// record writes an audit row when auditing is enabled.
func (b *Bot) record(e audit.Entry) {
	if b.auditLog == nil {
		return
	}
	b.auditLog.Record(e)
}
