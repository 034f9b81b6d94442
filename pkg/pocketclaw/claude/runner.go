package claude

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Error categories reported back to the chat layer. They drive which
// user-facing message is sent, the raw diagnostic stays in the logs.
const (
	CategoryTimeout        = "timeout"
	CategoryAuthentication = "authentication"
	CategoryProcessError   = "process-error"
	CategoryUnknown        = "unknown"
)

const (
	defaultBinary   = "claude"
	defaultMaxTurns = 25
	defaultTimeout  = 5 * time.Minute

	// stderr is only kept for diagnostics; a runaway child must not be
	// able to balloon memory through it.
	maxStderrBytes     = 16 * 1024
	maxDiagnosticRunes = 500
)

var (
	// ErrNoSession means a run finished but no conversation handle could
	// be recovered from the stream or from the session directory.
	ErrNoSession = errors.New("claude: no session id recovered")

	// ErrEmptyResult means the child exited cleanly but produced neither
	// output text nor tool activity.
	ErrEmptyResult = errors.New("claude: run produced no output")
)

// authMarkers in stderr indicate a login or key problem rather than a
// fault in the prompt or the tool run.
var authMarkers = []string{
	"not logged in",
	"authentication",
	"invalid api key",
	"api key",
	"unauthorized",
	"please run /login",
}

// ExecError describes a failed run with enough detail for the logs while
// keeping chat-facing handling to the Category alone.
type ExecError struct {
	Category   string
	Diagnostic string
	Err        error
}

func (e *ExecError) Error() string {
	if e.Diagnostic != "" {
		return fmt.Sprintf("claude run failed (%s): %s", e.Category, e.Diagnostic)
	}
	return fmt.Sprintf("claude run failed (%s)", e.Category)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Config controls how the CLI child process is launched.
type Config struct {
	// Binary is the executable name or path. Default "claude".
	Binary string `yaml:"binary"`
	// MaxTurns bounds agentic tool-use rounds per invocation.
	MaxTurns int `yaml:"max_turns"`
	// Timeout is the hard wall-clock limit for one run. The child is
	// killed when it elapses.
	Timeout time.Duration `yaml:"timeout"`
	// Model overrides the CLI's default model when set.
	Model string `yaml:"model"`
	// WorkDir is the directory the child runs in. Empty means inherit.
	WorkDir string `yaml:"work_dir"`
	// SessionsRoot is the CLI's session directory (~/.claude/projects).
	// Used for handle recovery when the stream does not carry one.
	SessionsRoot string `yaml:"sessions_root"`
}

// DefaultConfig returns the runner defaults.
func DefaultConfig() Config {
	return Config{
		Binary:   defaultBinary,
		MaxTurns: defaultMaxTurns,
		Timeout:  defaultTimeout,
	}
}

// Runner executes prompts through the Claude Code CLI in headless mode and
// folds the stream-json output into a Result.
type Runner struct {
	cfg      Config
	projects *ProjectStore
	logger   *slog.Logger
}

// NewRunner wires a Runner. A nil logger falls back to slog.Default.
func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Binary == "" {
		cfg.Binary = defaultBinary
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Runner{
		cfg:      cfg,
		projects: NewProjectStore(cfg.SessionsRoot, logger),
		logger:   logger.With("component", "claude"),
	}
}

// Projects exposes the session directory manager that shares this runner's
// configuration.
func (r *Runner) Projects() *ProjectStore { return r.projects }

// buildArgs assembles the CLI invocation. resume carries the conversation
// handle of an existing session; empty starts a fresh one.
func (r *Runner) buildArgs(prompt, resume string) []string {
	args := []string{
		"-p", prompt,
		"--output-format", "stream-json",
		"--verbose",
		"--max-turns", strconv.Itoa(r.cfg.MaxTurns),
	}
	if r.cfg.Model != "" {
		args = append(args, "--model", r.cfg.Model)
	}
	if resume != "" {
		args = append(args, "--resume", resume)
	}
	return args
}

// Run sends one prompt through the CLI and returns the parsed result.
// When resume is non-empty the existing conversation is continued.
//
// The child is killed when cfg.Timeout elapses or ctx is cancelled; in
// that case the error category is "timeout" and no partial result is
// returned, callers must not advance any session state.
func (r *Runner) Run(ctx context.Context, prompt, resume string) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	args := r.buildArgs(prompt, resume)
	cmd := exec.CommandContext(runCtx, r.cfg.Binary, args...)
	if r.cfg.WorkDir != "" {
		cmd.Dir = r.cfg.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ExecError{Category: CategoryProcessError, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr := &boundedBuffer{max: maxStderrBytes}
	cmd.Stderr = stderr

	start := time.Now()
	r.logger.Info("starting claude run",
		"resume", resume != "",
		"max_turns", r.cfg.MaxTurns,
		"prompt_len", len(prompt))

	if err := cmd.Start(); err != nil {
		return nil, &ExecError{Category: CategoryProcessError, Err: fmt.Errorf("start %s: %w", r.cfg.Binary, err)}
	}

	result, streamErr := consumeStream(stdout, r.logger)
	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	if waitErr != nil || streamErr != nil {
		return nil, r.categorize(runCtx, waitErr, streamErr, stderr.String())
	}

	if result.Output == "" && len(result.ToolsUsed) == 0 {
		return nil, &ExecError{
			Category:   CategoryUnknown,
			Diagnostic: boundDiagnostic(stderr.String()),
			Err:        ErrEmptyResult,
		}
	}

	if result.SessionID == "" {
		r.recoverHandle(result, resume)
	}

	r.logger.Info("claude run finished",
		"session", result.SessionID,
		"turns", result.NumTurns,
		"tools", len(result.ToolsUsed),
		"cost_usd", result.CostUSD,
		"elapsed", elapsed.Round(time.Millisecond),
		"malformed", result.Malformed)
	return result, nil
}

// Compact asks the CLI to summarize an existing conversation in place,
// shrinking its context. The handle stays valid afterwards.
func (r *Runner) Compact(ctx context.Context, handle string) error {
	if handle == "" {
		return ErrNoSession
	}
	_, err := r.Run(ctx, "/compact", handle)
	if err != nil {
		// An empty result is expected: /compact replies with little or no
		// text and uses no tools.
		var execErr *ExecError
		if errors.As(err, &execErr) && errors.Is(execErr.Err, ErrEmptyResult) {
			return nil
		}
		return fmt.Errorf("compact session %s: %w", handle, err)
	}
	return nil
}

// recoverHandle fills result.SessionID from the session directory when the
// stream carried none. Resumed runs keep their existing handle; fresh runs
// take the newest session file under the work dir's project.
func (r *Runner) recoverHandle(result *Result, resume string) {
	if resume != "" {
		result.SessionID = resume
		return
	}
	handle, err := r.projects.NewestHandle(projectSlug(r.cfg.WorkDir))
	if err != nil || handle == "" {
		r.logger.Warn("no session id in stream and none recoverable from disk", "error", err)
		return
	}
	result.SessionID = handle
	result.SessionFromDisk = true
	r.logger.Debug("recovered session id from disk", "session", handle)
}

// categorize maps a failed run onto an ExecError. The context state
// distinguishes a timeout kill from an ordinary non-zero exit.
func (r *Runner) categorize(ctx context.Context, waitErr, streamErr error, stderrText string) *ExecError {
	diag := boundDiagnostic(stderrText)

	if ctx.Err() != nil {
		err := waitErr
		if err == nil {
			err = ctx.Err()
		}
		r.logger.Warn("claude run timed out", "timeout", r.cfg.Timeout)
		return &ExecError{Category: CategoryTimeout, Diagnostic: diag, Err: err}
	}

	lower := strings.ToLower(stderrText)
	for _, marker := range authMarkers {
		if strings.Contains(lower, marker) {
			r.logger.Error("claude run failed: authentication", "stderr", diag)
			return &ExecError{Category: CategoryAuthentication, Diagnostic: diag, Err: waitErr}
		}
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			r.logger.Error("claude run failed",
				"exit_code", exitErr.ExitCode(), "stderr", diag)
			return &ExecError{Category: CategoryProcessError, Diagnostic: diag, Err: waitErr}
		}
		r.logger.Error("claude run failed", "error", waitErr, "stderr", diag)
		return &ExecError{Category: CategoryProcessError, Diagnostic: diag, Err: waitErr}
	}

	r.logger.Error("claude stream read failed", "error", streamErr)
	return &ExecError{Category: CategoryUnknown, Diagnostic: diag, Err: streamErr}
}

// boundDiagnostic trims stderr to a size safe to carry inside errors.
func boundDiagnostic(s string) string {
	return truncate(strings.TrimSpace(s), maxDiagnosticRunes)
}

// boundedBuffer keeps at most max bytes and silently drops the rest.
type boundedBuffer struct {
	buf strings.Builder
	max int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string { return b.buf.String() }

var _ io.Writer = (*boundedBuffer)(nil)
