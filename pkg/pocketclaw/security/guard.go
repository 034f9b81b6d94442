// Package security implements the admission gates that run before any
// assistant work is started: the turn guard (input size, dangerous command
// patterns, symbol-ratio heuristic, voice duration bounds) and the per-user
// sliding-window rate limiter. A rejection is a normal user-visible
// outcome, never a system error.
package security

import (
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"unicode"
)

// GuardConfig tunes the turn guard. Zero values fall back to defaults.
type GuardConfig struct {
	// MaxTextLen is the maximum accepted input length in runes.
	MaxTextLen int `yaml:"max_text_len"`

	// SymbolRatioMax rejects input whose share of non-alphanumeric,
	// non-whitespace runes exceeds this ratio (0 disables the check).
	SymbolRatioMax float64 `yaml:"symbol_ratio_max"`

	// SymbolRatioMinRunes is the minimum input length before the ratio
	// heuristic applies, so short punctuation-only messages ("ok!!") pass.
	SymbolRatioMinRunes int `yaml:"symbol_ratio_min_runes"`

	// MinVoiceSeconds treats shorter voice notes as accidental noise.
	MinVoiceSeconds float64 `yaml:"min_voice_seconds"`

	// MaxVoiceSeconds caps voice note length (transcription cost guard).
	MaxVoiceSeconds float64 `yaml:"max_voice_seconds"`
}

// DefaultGuardConfig returns the guard defaults.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxTextLen:          2000,
		SymbolRatioMax:      0.5,
		SymbolRatioMinRunes: 12,
		MinVoiceSeconds:     1,
		MaxVoiceSeconds:     120,
	}
}

// Guard validates one turn of user input before rate limiting and execution.
// It holds no per-user state; concurrent calls never block each other.
type Guard struct {
	cfg    GuardConfig
	logger *slog.Logger
}

// NewGuard creates a turn guard. A nil logger falls back to slog.Default().
func NewGuard(cfg GuardConfig, logger *slog.Logger) *Guard {
	def := DefaultGuardConfig()
	if cfg.MaxTextLen <= 0 {
		cfg.MaxTextLen = def.MaxTextLen
	}
	if cfg.SymbolRatioMax < 0 {
		cfg.SymbolRatioMax = def.SymbolRatioMax
	}
	if cfg.SymbolRatioMinRunes <= 0 {
		cfg.SymbolRatioMinRunes = def.SymbolRatioMinRunes
	}
	if cfg.MinVoiceSeconds <= 0 {
		cfg.MinVoiceSeconds = def.MinVoiceSeconds
	}
	if cfg.MaxVoiceSeconds <= 0 {
		cfg.MaxVoiceSeconds = def.MaxVoiceSeconds
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{cfg: cfg, logger: logger.With("component", "guard")}
}

// dangerousPatterns match command idioms that should never reach the
// assistant from a chat message: recursive filesystem wipes, device-level
// writes, fork bombs, and pipe-to-shell fetches. Matching is case-insensitive
// on a lowercased copy of the input.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+-[a-z]*r[a-z]*f[a-z]*\s+/(?:\s|$)`),
	regexp.MustCompile(`rm\s+-[a-z]*f[a-z]*r[a-z]*\s+/(?:\s|$)`),
	regexp.MustCompile(`mkfs\.[a-z0-9]+`),
	regexp.MustCompile(`dd\s+if=/dev/(?:zero|random|urandom)\s+of=/dev/`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\}`),
	regexp.MustCompile(`(?:curl|wget)\s+[^\n|]*\|\s*(?:ba)?sh\b`),
	regexp.MustCompile(`chmod\s+-r\s+777\s+/(?:\s|$)`),
}

// ValidateText checks one text turn. The returned error is one of the
// exported Err values; the rejection is logged with the user identity, the
// reason, and at most a short prefix of the payload.
func (g *Guard) ValidateText(userID, text string) error {
	runes := []rune(text)
	if len(runes) > g.cfg.MaxTextLen {
		g.reject(userID, "too_long", text)
		return ErrInputTooLong
	}

	lower := strings.ToLower(text)
	for _, p := range dangerousPatterns {
		if p.MatchString(lower) {
			g.reject(userID, "dangerous_pattern", text)
			return ErrDangerousPattern
		}
	}

	if g.cfg.SymbolRatioMax > 0 && len(runes) >= g.cfg.SymbolRatioMinRunes {
		if symbolRatio(runes) > g.cfg.SymbolRatioMax {
			g.reject(userID, "symbol_ratio", text)
			return ErrSuspiciousInput
		}
	}

	return nil
}

// ValidateVoice checks the reported duration of a voice note before any
// download or transcription cost is incurred.
func (g *Guard) ValidateVoice(userID string, seconds float64) error {
	if seconds < g.cfg.MinVoiceSeconds {
		g.logger.Info("voice rejected", "user", userID, "reason", "too_short", "seconds", seconds)
		return ErrVoiceTooShort
	}
	if seconds > g.cfg.MaxVoiceSeconds {
		g.logger.Info("voice rejected", "user", userID, "reason", "too_long", "seconds", seconds)
		return ErrVoiceTooLong
	}
	return nil
}

// MaxTextLen reports the configured input ceiling (for user-facing messages).
func (g *Guard) MaxTextLen() int { return g.cfg.MaxTextLen }

// MaxVoiceSeconds reports the configured voice ceiling.
func (g *Guard) MaxVoiceSeconds() float64 { return g.cfg.MaxVoiceSeconds }

func (g *Guard) reject(userID, reason, payload string) {
	g.logger.Info("turn rejected",
		"user", userID,
		"reason", reason,
		"len", len(payload),
		"prefix", boundedPrefix(payload, 32))
}

// symbolRatio returns the share of runes that are neither letters, digits,
// nor whitespace.
func symbolRatio(runes []rune) float64 {
	if len(runes) == 0 {
		return 0
	}
	symbols := 0
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			continue
		}
		symbols++
	}
	return float64(symbols) / float64(len(runes))
}

// boundedPrefix truncates s to at most n runes for audit logging.
func boundedPrefix(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

// ---------- Errors ----------

var (
	ErrInputTooLong     = errors.New("message exceeds the maximum accepted length")
	ErrDangerousPattern = errors.New("message contains a blocked command pattern")
	ErrSuspiciousInput  = errors.New("message looks malformed (too many symbols)")
	ErrVoiceTooShort    = errors.New("voice note too short to transcribe")
	ErrVoiceTooLong     = errors.New("voice note exceeds the maximum duration")
)
