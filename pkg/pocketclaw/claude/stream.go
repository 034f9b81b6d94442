package claude

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
)

// The CLI emits one JSON object per line. Individual lines can be long
// (tool results embed file contents), so the scanner buffer is raised well
// above the bufio default.
const (
	scanBufInitial = 64 * 1024
	scanBufMax     = 1024 * 1024
)

// streamEnvelope is the discriminator every event line starts with.
type streamEnvelope struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
}

type initEvent struct {
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
}

type assistantEvent struct {
	Message struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type resultEvent struct {
	SessionID  string  `json:"session_id"`
	Result     string  `json:"result"`
	CostUSD    float64 `json:"total_cost_usd"`
	DurationMS int64   `json:"duration_ms"`
	NumTurns   int     `json:"num_turns"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// fileToolNames are the tools whose input carries a path the assistant is
// modifying.
var fileToolNames = map[string]bool{
	"Edit":         true,
	"Write":        true,
	"MultiEdit":    true,
	"NotebookEdit": true,
}

// streamAccumulator folds stream events into a Result, one line at a time.
// It never fails: malformed lines are counted, logged at debug, and
// skipped, per-turn output must survive a few broken events.
type streamAccumulator struct {
	logger *slog.Logger

	text      strings.Builder
	sessionID string
	resultSID string
	model     string

	tools    []string
	toolSeen map[string]bool
	files    []string
	fileSeen map[string]bool

	cost         float64
	durationMS   int64
	inputTokens  int
	outputTokens int
	numTurns     int

	events    int
	malformed int
}

func newStreamAccumulator(logger *slog.Logger) *streamAccumulator {
	return &streamAccumulator{
		logger:   logger,
		toolSeen: make(map[string]bool),
		fileSeen: make(map[string]bool),
	}
}

// feedLine consumes one raw line from the child's stdout.
func (a *streamAccumulator) feedLine(line []byte) {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return
	}

	var env streamEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		a.malformed++
		a.logger.Debug("skipping malformed stream line",
			"error", err, "prefix", truncate(trimmed, 80))
		return
	}
	a.events++

	switch env.Type {
	case "system":
		if env.Subtype != "init" {
			return
		}
		var ev initEvent
		if err := json.Unmarshal([]byte(trimmed), &ev); err != nil {
			a.malformed++
			return
		}
		if ev.SessionID != "" {
			a.sessionID = ev.SessionID
		}
		if ev.Model != "" {
			a.model = ev.Model
		}

	case "assistant":
		var ev assistantEvent
		if err := json.Unmarshal([]byte(trimmed), &ev); err != nil {
			a.malformed++
			return
		}
		for _, block := range ev.Message.Content {
			switch block.Type {
			case "text":
				if block.Text == "" {
					continue
				}
				if a.text.Len() > 0 {
					a.text.WriteString("\n")
				}
				a.text.WriteString(block.Text)
			case "tool_use":
				a.recordTool(block)
			}
		}

	case "result":
		var ev resultEvent
		if err := json.Unmarshal([]byte(trimmed), &ev); err != nil {
			a.malformed++
			return
		}
		a.resultSID = ev.SessionID
		a.cost = ev.CostUSD
		a.durationMS = ev.DurationMS
		a.numTurns = ev.NumTurns
		a.inputTokens = ev.Usage.InputTokens
		a.outputTokens = ev.Usage.OutputTokens
		// Print-mode runs may carry the whole response only here.
		if a.text.Len() == 0 && ev.Result != "" {
			a.text.WriteString(ev.Result)
		}

	default:
		// Other event types (user, tool, …) carry nothing the turn needs.
	}
}

func (a *streamAccumulator) recordTool(block contentBlock) {
	if block.Name == "" {
		return
	}
	if !a.toolSeen[block.Name] {
		a.toolSeen[block.Name] = true
		a.tools = append(a.tools, block.Name)
	}
	if !fileToolNames[block.Name] || len(block.Input) == 0 {
		return
	}
	var input struct {
		FilePath string `json:"file_path"`
		Path     string `json:"path"`
	}
	if err := json.Unmarshal(block.Input, &input); err != nil {
		return
	}
	path := input.FilePath
	if path == "" {
		path = input.Path
	}
	if path != "" && !a.fileSeen[path] {
		a.fileSeen[path] = true
		a.files = append(a.files, path)
	}
}

// result snapshots the accumulator. The in-stream session id wins over the
// one echoed by the result event.
func (a *streamAccumulator) result() *Result {
	sid := a.sessionID
	if sid == "" {
		sid = a.resultSID
	}
	return &Result{
		Output:       a.text.String(),
		SessionID:    sid,
		Model:        a.model,
		ToolsUsed:    a.tools,
		FilesTouched: a.files,
		CostUSD:      a.cost,
		DurationMS:   a.durationMS,
		InputTokens:  a.inputTokens,
		OutputTokens: a.outputTokens,
		NumTurns:     a.numTurns,
		Events:       a.events,
		Malformed:    a.malformed,
	}
}

// consumeStream reads r line by line until EOF, feeding the accumulator.
// The returned error only reflects reader failures, not content problems.
func consumeStream(r io.Reader, logger *slog.Logger) (*Result, error) {
	acc := newStreamAccumulator(logger)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, scanBufInitial), scanBufMax)

	for scanner.Scan() {
		acc.feedLine(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		return acc.result(), err
	}
	return acc.result(), nil
}

// truncate bounds s to max runes for diagnostics and logs.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
