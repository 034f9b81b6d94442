package claude

import (
	"log/slog"
	"os"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestConsumeStreamFullTurn(t *testing.T) {
	t.Parallel()

	stream := strings.Join([]string{
		`{"type":"system","subtype":"init","session_id":"abc-123","model":"claude-sonnet-4"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"Let me check that file."}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Read","input":{"file_path":"/tmp/app.go"}}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Edit","input":{"file_path":"/tmp/app.go"}}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"Fixed the bug."}]}}`,
		`{"type":"result","session_id":"abc-123","total_cost_usd":0.0312,"duration_ms":8450,"num_turns":4,"usage":{"input_tokens":1200,"output_tokens":340}}`,
	}, "\n")

	got, err := consumeStream(strings.NewReader(stream), testLogger())
	if err != nil {
		t.Fatalf("consumeStream: %v", err)
	}

	if want := "Let me check that file.\nFixed the bug."; got.Output != want {
		t.Errorf("Output = %q, want %q", got.Output, want)
	}
	if got.SessionID != "abc-123" {
		t.Errorf("SessionID = %q, want %q", got.SessionID, "abc-123")
	}
	if got.Model != "claude-sonnet-4" {
		t.Errorf("Model = %q, want %q", got.Model, "claude-sonnet-4")
	}
	if want := []string{"Read", "Edit"}; !equalStrings(got.ToolsUsed, want) {
		t.Errorf("ToolsUsed = %v, want %v", got.ToolsUsed, want)
	}
	if want := []string{"/tmp/app.go"}; !equalStrings(got.FilesTouched, want) {
		t.Errorf("FilesTouched = %v, want %v", got.FilesTouched, want)
	}
	if got.CostUSD != 0.0312 {
		t.Errorf("CostUSD = %v, want 0.0312", got.CostUSD)
	}
	if got.DurationMS != 8450 {
		t.Errorf("DurationMS = %d, want 8450", got.DurationMS)
	}
	if got.NumTurns != 4 {
		t.Errorf("NumTurns = %d, want 4", got.NumTurns)
	}
	if got.InputTokens != 1200 || got.OutputTokens != 340 {
		t.Errorf("tokens = %d/%d, want 1200/340", got.InputTokens, got.OutputTokens)
	}
	if got.Events != 6 {
		t.Errorf("Events = %d, want 6", got.Events)
	}
	if got.Malformed != 0 {
		t.Errorf("Malformed = %d, want 0", got.Malformed)
	}
}

func TestConsumeStreamMalformedLinesSkipped(t *testing.T) {
	t.Parallel()

	stream := strings.Join([]string{
		`{"type":"system","subtype":"init","session_id":"s-1","model":"m"}`,
		`this is not json at all`,
		``,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"still here"}]}}`,
		`{broken`,
		`{"type":"result","session_id":"s-1","num_turns":1}`,
	}, "\n")

	got, err := consumeStream(strings.NewReader(stream), testLogger())
	if err != nil {
		t.Fatalf("consumeStream: %v", err)
	}
	if got.Output != "still here" {
		t.Errorf("Output = %q, want %q", got.Output, "still here")
	}
	if got.Malformed != 2 {
		t.Errorf("Malformed = %d, want 2", got.Malformed)
	}
	if got.Events != 3 {
		t.Errorf("Events = %d, want 3", got.Events)
	}
}

func TestConsumeStreamResultTextFallback(t *testing.T) {
	t.Parallel()

	stream := `{"type":"result","session_id":"s-2","result":"the answer is 42","num_turns":1}`

	got, err := consumeStream(strings.NewReader(stream), testLogger())
	if err != nil {
		t.Fatalf("consumeStream: %v", err)
	}
	if got.Output != "the answer is 42" {
		t.Errorf("Output = %q, want %q", got.Output, "the answer is 42")
	}
	if got.SessionID != "s-2" {
		t.Errorf("SessionID = %q, want %q", got.SessionID, "s-2")
	}
}

func TestConsumeStreamInitSessionWinsOverResult(t *testing.T) {
	t.Parallel()

	stream := strings.Join([]string{
		`{"type":"system","subtype":"init","session_id":"from-init","model":"m"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}`,
		`{"type":"result","session_id":"from-result","num_turns":1}`,
	}, "\n")

	got, err := consumeStream(strings.NewReader(stream), testLogger())
	if err != nil {
		t.Fatalf("consumeStream: %v", err)
	}
	if got.SessionID != "from-init" {
		t.Errorf("SessionID = %q, want %q", got.SessionID, "from-init")
	}
}

func TestConsumeStreamDedupesToolsAndFiles(t *testing.T) {
	t.Parallel()

	line := `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Write","input":{"file_path":"/a"}}]}}`
	stream := strings.Join([]string{line, line, line}, "\n")

	got, err := consumeStream(strings.NewReader(stream), testLogger())
	if err != nil {
		t.Fatalf("consumeStream: %v", err)
	}
	if len(got.ToolsUsed) != 1 || got.ToolsUsed[0] != "Write" {
		t.Errorf("ToolsUsed = %v, want [Write]", got.ToolsUsed)
	}
	if len(got.FilesTouched) != 1 || got.FilesTouched[0] != "/a" {
		t.Errorf("FilesTouched = %v, want [/a]", got.FilesTouched)
	}
}

func TestConsumeStreamIgnoresNonFileTools(t *testing.T) {
	t.Parallel()

	stream := `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","input":{"command":"ls /etc"}}]}}`

	got, err := consumeStream(strings.NewReader(stream), testLogger())
	if err != nil {
		t.Fatalf("consumeStream: %v", err)
	}
	if len(got.ToolsUsed) != 1 || got.ToolsUsed[0] != "Bash" {
		t.Errorf("ToolsUsed = %v, want [Bash]", got.ToolsUsed)
	}
	if len(got.FilesTouched) != 0 {
		t.Errorf("FilesTouched = %v, want none", got.FilesTouched)
	}
}

func TestConsumeStreamLongLine(t *testing.T) {
	t.Parallel()

	// A single event bigger than the default bufio buffer must survive.
	big := strings.Repeat("x", 200*1024)
	stream := `{"type":"assistant","message":{"content":[{"type":"text","text":"` + big + `"}]}}`

	got, err := consumeStream(strings.NewReader(stream), testLogger())
	if err != nil {
		t.Fatalf("consumeStream: %v", err)
	}
	if got.Output != big {
		t.Errorf("Output length = %d, want %d", len(got.Output), len(big))
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is longer", 7, "this is…"},
		{"héllo wörld", 5, "héllo…"},
		{"", 5, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func equalStrings(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
