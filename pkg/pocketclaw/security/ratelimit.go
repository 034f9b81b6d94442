package security

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// LimitConfig sets the per-user admission ceilings for the three overlapping
// sliding windows. Zero values fall back to defaults; -1 disables a window.
type LimitConfig struct {
	PerMinute int `yaml:"per_minute"`
	PerHour   int `yaml:"per_hour"`
	PerDay    int `yaml:"per_day"`
}

// DefaultLimitConfig returns the default admission ceilings.
func DefaultLimitConfig() LimitConfig {
	return LimitConfig{PerMinute: 10, PerHour: 100, PerDay: 500}
}

// window is one sliding counter: the timestamp of the first event recorded
// in the current window plus the number of events since.
type window struct {
	start time.Time
	count int
}

// expireIfElapsed resets the counter when the window duration has passed
// since its first event.
func (w *window) expireIfElapsed(now time.Time, d time.Duration) {
	if w.count > 0 && now.Sub(w.start) >= d {
		w.count = 0
	}
}

// record counts one admitted event, starting a fresh window if empty.
func (w *window) record(now time.Time) {
	if w.count == 0 {
		w.start = now
	}
	w.count++
}

// userWindows holds one user's three counters. The mutex makes the
// check-and-increment atomic for that user only; other users' entries are
// touched without coordination.
type userWindows struct {
	mu     sync.Mutex
	minute window
	hour   window
	day    window
}

// RateLimiter is the per-user admission gate. Users live in a sync.Map so
// unrelated users never contend on a shared lock.
type RateLimiter struct {
	cfg   LimitConfig
	users sync.Map // userID → *userWindows
}

// NewRateLimiter creates a limiter with the given ceilings.
func NewRateLimiter(cfg LimitConfig) *RateLimiter {
	def := DefaultLimitConfig()
	if cfg.PerMinute == 0 {
		cfg.PerMinute = def.PerMinute
	}
	if cfg.PerHour == 0 {
		cfg.PerHour = def.PerHour
	}
	if cfg.PerDay == 0 {
		cfg.PerDay = def.PerDay
	}
	return &RateLimiter{cfg: cfg}
}

// limits pairs each window with its duration and ceiling, minute first so a
// refusal reports the shortest wait available for that user.
func (rl *RateLimiter) limits(u *userWindows) []struct {
	name  string
	w     *window
	d     time.Duration
	limit int
} {
	return []struct {
		name  string
		w     *window
		d     time.Duration
		limit int
	}{
		{"minute", &u.minute, time.Minute, rl.cfg.PerMinute},
		{"hour", &u.hour, time.Hour, rl.cfg.PerHour},
		{"day", &u.day, 24 * time.Hour, rl.cfg.PerDay},
	}
}

// Admit decides whether one turn for userID may proceed at the given
// instant. On refusal it returns a *RateLimitError carrying the time until
// the violated window resets; refusal is a normal outcome, never retried
// internally. On admission all three counters are bumped before returning.
func (rl *RateLimiter) Admit(userID string, now time.Time) error {
	entry, _ := rl.users.LoadOrStore(userID, &userWindows{})
	u := entry.(*userWindows)

	u.mu.Lock()
	defer u.mu.Unlock()

	for _, l := range rl.limits(u) {
		l.w.expireIfElapsed(now, l.d)
	}
	for _, l := range rl.limits(u) {
		if l.limit > 0 && l.w.count >= l.limit {
			return &RateLimitError{
				Window:     l.name,
				RetryAfter: l.w.start.Add(l.d).Sub(now),
			}
		}
	}
	for _, l := range rl.limits(u) {
		l.w.record(now)
	}
	return nil
}

// WindowUsage reports one window's state for status displays.
type WindowUsage struct {
	Window  string
	Used    int
	Limit   int
	ResetIn time.Duration
}

// Usage returns the current standing of all three windows for a user
// without recording an event.
func (rl *RateLimiter) Usage(userID string, now time.Time) []WindowUsage {
	entry, _ := rl.users.LoadOrStore(userID, &userWindows{})
	u := entry.(*userWindows)

	u.mu.Lock()
	defer u.mu.Unlock()

	var out []WindowUsage
	for _, l := range rl.limits(u) {
		l.w.expireIfElapsed(now, l.d)
		reset := time.Duration(0)
		if l.w.count > 0 {
			reset = l.w.start.Add(l.d).Sub(now)
		}
		out = append(out, WindowUsage{Window: l.name, Used: l.w.count, Limit: l.limit, ResetIn: reset})
	}
	return out
}

// RateLimitError is returned by Admit when a window is at its ceiling.
type RateLimitError struct {
	// Window names the violated window ("minute", "hour", "day").
	Window string

	// RetryAfter is the remaining time until that window resets.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit reached (%s window), retry in %s", e.Window, e.RetryAfter.Round(time.Second))
}

// Unwrap lets callers test errors.Is(err, ErrRateLimited).
func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// ErrRateLimited is the sentinel for all admission refusals.
var ErrRateLimited = errors.New("rate limited")
