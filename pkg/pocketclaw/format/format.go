// Package format converts raw assistant output into an ordered sequence of
// delivery units that a chat transport can send verbatim: each unit stays
// under the transport's safe length, fenced code blocks are never torn
// across units, non-code text is escaped for the transport's lightweight
// markup, and a deterministic metadata footer is appended. Concatenating
// the units' Raw fields reconstructs the original text exactly (the footer
// carries no Raw), which keeps the splitting logic honest and testable.
package format

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"
)

const (
	// transportCeiling is the hard outbound message limit of the reference
	// transport (Telegram). SafeLen must stay comfortably under it to leave
	// room for transport-level markup overhead.
	transportCeiling = 4096

	// defaultSafeLen is the default per-unit length bound in runes.
	defaultSafeLen = 3900

	// minSafeLen is the smallest usable bound: below this even a fenced
	// chunk with its re-emitted markers cannot fit.
	minSafeLen = 64

	// noOutputPlaceholder is emitted when the assistant produced nothing.
	noOutputPlaceholder = "🤷 (no output)"

	// truncationMarker flags content dropped to preserve the length bound.
	// Reaching it means the length arithmetic failed somewhere upstream.
	truncationMarker = "… [truncated]"
)

// Config tunes the formatter. Zero values fall back to defaults.
type Config struct {
	// SafeLen is the maximum rendered length of one delivery unit, in
	// runes. Defaults to 3900 (transport ceiling 4096 minus markup slack).
	SafeLen int `yaml:"safe_len"`
}

// DefaultConfig returns the formatter defaults.
func DefaultConfig() Config {
	return Config{SafeLen: defaultSafeLen}
}

// Unit is one transport-sized chunk of a formatted response.
type Unit struct {
	// Text is the rendered outbound text: escaped outside code, fence
	// markers normalized and re-emitted so the unit is well formed on its
	// own. Never exceeds SafeLen runes.
	Text string

	// Raw is the slice of the original response this unit covers, before
	// escaping and fence normalization. Concatenating Raw across all units
	// yields the original response; footer and placeholder text contribute
	// nothing here.
	Raw string

	// HasCode reports whether the unit contains a fenced code block.
	HasCode bool
}

// Meta describes one completed turn for the footer.
type Meta struct {
	// Tools are the assistant capabilities invoked, in first-use order.
	Tools []string

	// Files are the paths the assistant reported as modified.
	Files []string

	// Turn is the session turn count after this exchange.
	Turn int

	// CostUSD is the reported cost of the turn (0 omits the segment).
	CostUSD float64

	// DurationMS is the turn wall-clock duration (0 omits the segment).
	DurationMS int64
}

// Formatter produces delivery units. Safe for concurrent use.
type Formatter struct {
	safeLen int
	logger  *slog.Logger
}

// New creates a Formatter. A nil logger falls back to slog.Default().
func New(cfg Config, logger *slog.Logger) *Formatter {
	if cfg.SafeLen <= 0 {
		cfg.SafeLen = defaultSafeLen
	}
	if cfg.SafeLen < minSafeLen {
		cfg.SafeLen = minSafeLen
	}
	if cfg.SafeLen > transportCeiling {
		cfg.SafeLen = defaultSafeLen
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Formatter{safeLen: cfg.SafeLen, logger: logger.With("component", "format")}
}

// Format renders raw assistant output into delivery units. Empty input
// yields exactly one placeholder unit. A nil meta omits the footer.
func (f *Formatter) Format(raw string, meta *Meta) []Unit {
	a := &assembler{safeLen: f.safeLen, logger: f.logger}

	if raw == "" {
		a.cur.add(noOutputPlaceholder, "", false)
	} else {
		for _, reg := range parseRegions(raw) {
			if reg.code {
				a.placeCode(reg)
			} else {
				a.placeText(reg.raw)
			}
		}
	}

	if meta != nil {
		a.placeFooter(footerText(meta))
	}
	a.flush()
	return a.units
}

// SafeLen reports the configured per-unit bound.
func (f *Formatter) SafeLen() int { return f.safeLen }

// ---------- unit assembly ----------

type unitBuilder struct {
	text    strings.Builder
	raw     strings.Builder
	runes   int
	hasCode bool
}

func (b *unitBuilder) add(rendered, raw string, code bool) {
	b.text.WriteString(rendered)
	b.raw.WriteString(raw)
	b.runes += utf8.RuneCountInString(rendered)
	if code {
		b.hasCode = true
	}
}

func (b *unitBuilder) build() Unit {
	return Unit{Text: b.text.String(), Raw: b.raw.String(), HasCode: b.hasCode}
}

// assembler accumulates delivery units while regions are placed.
type assembler struct {
	safeLen int
	logger  *slog.Logger
	units   []Unit
	cur     unitBuilder
}

// flush closes the current unit if it holds anything.
func (a *assembler) flush() {
	if a.cur.runes > 0 {
		a.units = append(a.units, a.cur.build())
		a.cur = unitBuilder{}
	}
}

// placeText fits a non-code region into the unit stream, escaping as it
// goes and cutting at paragraph/newline/sentence/space boundaries when the
// region has to straddle units.
func (a *assembler) placeText(raw string) {
	rem := raw
	for rem != "" {
		budget := a.safeLen - a.cur.runes
		if budget <= 0 {
			a.flush()
			continue
		}
		take := escapedPrefix(rem, budget)
		if take == 0 {
			// Not even one escaped rune fits the remaining budget.
			a.flush()
			continue
		}
		if take < len(rem) {
			if at := breakPoint(rem[:take]); at > 0 {
				take = at
			}
		}
		a.cur.add(escapeMarkup(rem[:take]), rem[:take], false)
		rem = rem[take:]
		if rem != "" {
			a.flush()
		}
	}
}

// placeCode fits one fenced block: whole into the current unit if it fits,
// whole into a fresh unit otherwise, or split across several units with
// fence markers re-emitted on each so every unit stays well formed.
func (a *assembler) placeCode(reg region) {
	rendered := reg.rendered()
	n := utf8.RuneCountInString(rendered)

	if a.cur.runes+n <= a.safeLen {
		a.cur.add(rendered, reg.rawAll(), true)
		return
	}
	a.flush()
	if n <= a.safeLen {
		a.cur.add(rendered, reg.rawAll(), true)
		return
	}

	open := "```" + reg.lang + "\n"
	// Room for the opening marker plus "\n```" on every chunk.
	capacity := a.safeLen - utf8.RuneCountInString(open) - 5
	if capacity <= 0 {
		a.logger.Error("fenced block cannot fit the length bound", "safe_len", a.safeLen)
		a.cur.add(open+truncationMarker+"\n```", reg.rawAll(), true)
		a.flush()
		return
	}

	body := reg.rawBody
	first := true
	for body != "" {
		cut := runePrefix(body, capacity)
		if cut < len(body) {
			if at := lastLineBreak(body[:cut]); at > 0 {
				cut = at
			}
		}
		piece := body[:cut]
		body = body[cut:]

		rawPiece := piece
		if first {
			rawPiece = reg.rawOpen + rawPiece
			first = false
		}
		if body == "" {
			rawPiece += reg.rawClose
		}

		chunk := open + piece
		if !strings.HasSuffix(piece, "\n") {
			chunk += "\n"
		}
		chunk += "```"
		a.cur.add(chunk, rawPiece, true)
		a.flush()
	}
}

// placeFooter appends the footer, spilling into its own unit when the
// current one has no room.
func (a *assembler) placeFooter(footer string) {
	n := utf8.RuneCountInString(footer)
	if a.cur.runes+n <= a.safeLen {
		a.cur.add(footer, "", false)
		return
	}
	a.flush()
	alone := strings.TrimLeft(footer, "\n")
	if utf8.RuneCountInString(alone) > a.safeLen {
		alone = string([]rune(alone)[:a.safeLen-utf8.RuneCountInString(truncationMarker)]) + truncationMarker
	}
	a.cur.add(alone, "", false)
}

// footerText renders the metadata footer in a fixed order: tools, files,
// turn count, cost, duration. Segments without data are omitted; the turn
// count always appears.
func footerText(m *Meta) string {
	var parts []string
	if len(m.Tools) > 0 {
		parts = append(parts, "🔧 "+strings.Join(m.Tools, ", "))
	}
	if n := len(m.Files); n == 1 {
		parts = append(parts, "📝 1 file")
	} else if n > 1 {
		parts = append(parts, fmt.Sprintf("📝 %d files", n))
	}
	parts = append(parts, fmt.Sprintf("🔁 turn %d", m.Turn))
	if m.CostUSD > 0 {
		parts = append(parts, fmt.Sprintf("💰 $%.4f", m.CostUSD))
	}
	if m.DurationMS > 0 {
		parts = append(parts, fmt.Sprintf("⏱ %.1fs", float64(m.DurationMS)/1000))
	}
	return "\n\n---\n" + strings.Join(parts, " | ")
}

// ---------- region parsing ----------

// region is one maximal run of the response: either plain text or a fenced
// code block. The raw* fields preserve the exact original bytes so units
// can account for every byte of input.
type region struct {
	code bool

	// raw holds the full text of a non-code region.
	raw string

	// lang is the normalized fence language tag.
	lang string

	// rawOpen/rawBody/rawClose are the original opener line, body lines,
	// and closer line (closer empty when the fence is never closed).
	rawOpen  string
	rawBody  string
	rawClose string
}

func (r region) rawAll() string {
	if !r.code {
		return r.raw
	}
	return r.rawOpen + r.rawBody + r.rawClose
}

// rendered returns the outbound form of the region: escaped text, or a
// normalized fenced block. An unclosed fence is closed here so the unit
// stays well formed; Raw keeps the original shape.
func (r region) rendered() string {
	if !r.code {
		return escapeMarkup(r.raw)
	}
	var b strings.Builder
	b.WriteString("```")
	b.WriteString(r.lang)
	b.WriteString("\n")
	b.WriteString(r.rawBody)
	if r.rawBody != "" && !strings.HasSuffix(r.rawBody, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```")
	if strings.HasSuffix(r.rawClose, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}

// parseRegions walks the response line by line. A line starting with ```
// opens a code block (rest of the line is the language tag); a bare ```
// line closes it. Anything unbalanced stays inside the open block; the
// parser never fails, it only partitions.
func parseRegions(raw string) []region {
	var regions []region
	var text strings.Builder
	var cur *region

	flushText := func() {
		if text.Len() > 0 {
			regions = append(regions, region{raw: text.String()})
			text.Reset()
		}
	}

	for _, line := range splitLines(raw) {
		content := strings.TrimRight(line, "\n")
		stripped := strings.TrimLeft(content, " \t")

		if cur == nil {
			if strings.HasPrefix(stripped, "```") {
				flushText()
				tag := strings.Trim(strings.TrimPrefix(stripped, "```"), "`")
				// The tag is the first word of the info string; anything
				// implausibly long is not a language name.
				if i := strings.IndexAny(tag, " \t"); i >= 0 {
					tag = tag[:i]
				}
				if utf8.RuneCountInString(tag) > 32 {
					tag = ""
				}
				cur = &region{code: true, lang: normalizeLang(tag), rawOpen: line}
				continue
			}
			text.WriteString(line)
			continue
		}

		if strings.TrimSpace(content) == "```" {
			cur.rawClose = line
			regions = append(regions, *cur)
			cur = nil
			continue
		}
		cur.rawBody += line
	}

	if cur != nil {
		regions = append(regions, *cur)
	}
	flushText()
	return regions
}

// splitLines splits keeping each line's terminating newline, so the
// concatenation of all lines is byte-identical to the input.
func splitLines(s string) []string {
	var lines []string
	for len(s) > 0 {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			lines = append(lines, s)
			break
		}
		lines = append(lines, s[:i+1])
		s = s[i+1:]
	}
	return lines
}

// ---------- escaping and cutting ----------

// markupSpecials are the characters with structural meaning in the
// transport's legacy markdown mode.
const markupSpecials = "_*`["

// escapeMarkup backslash-escapes markup characters outside code regions.
func escapeMarkup(s string) string {
	if !strings.ContainsAny(s, markupSpecials) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		if strings.ContainsRune(markupSpecials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// escapedPrefix returns the largest byte prefix of s whose escaped form
// fits within budget runes.
func escapedPrefix(s string, budget int) int {
	cost := 0
	for i, r := range s {
		c := 1
		if strings.ContainsRune(markupSpecials, r) {
			c = 2
		}
		if cost+c > budget {
			return i
		}
		cost += c
	}
	return len(s)
}

// runePrefix returns the byte length of the first n runes of s.
func runePrefix(s string, n int) int {
	seen := 0
	for i := range s {
		if seen == n {
			return i
		}
		seen++
	}
	return len(s)
}

// breakPoint picks a natural cut inside window, preferring paragraph
// breaks, then line breaks, then sentence ends, then spaces. A candidate in
// the first half is ignored so units stay reasonably full. Returns 0 when
// no boundary qualifies (caller hard-cuts).
func breakPoint(window string) int {
	half := len(window) / 2
	if p := strings.LastIndex(window, "\n\n"); p >= 0 && p+2 > half {
		return p + 2
	}
	if p := strings.LastIndex(window, "\n"); p >= 0 && p+1 > half {
		return p + 1
	}
	if p := strings.LastIndex(window, ". "); p >= 0 && p+2 > half {
		return p + 2
	}
	if p := strings.LastIndex(window, " "); p >= 0 && p+1 > half {
		return p + 1
	}
	return 0
}

// lastLineBreak returns the cut just after the last newline in window, or
// 0 when there is none past the halfway mark.
func lastLineBreak(window string) int {
	if p := strings.LastIndex(window, "\n"); p >= 0 && p+1 > len(window)/2 {
		return p + 1
	}
	return 0
}
