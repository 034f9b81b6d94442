package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func deepgramFixture(transcript string, confidence, duration float64) []byte {
	payload := map[string]any{
		"metadata": map[string]any{"duration": duration},
		"results": map[string]any{
			"channels": []any{
				map[string]any{
					"alternatives": []any{
						map[string]any{"transcript": transcript, "confidence": confidence},
					},
				},
			},
		},
	}
	data, _ := json.Marshal(payload)
	return data
}

func newTestDeepgram(t *testing.T, handler http.HandlerFunc) *Deepgram {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultDeepgramConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = srv.URL
	return NewDeepgram(cfg, testLogger())
}

func TestDeepgramTranscribe(t *testing.T) {
	var gotAuth, gotContentType, gotModel, gotLanguage, gotSmartFormat string
	var gotBody int

	dg := newTestDeepgram(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotModel = r.URL.Query().Get("model")
		gotLanguage = r.URL.Query().Get("language")
		gotSmartFormat = r.URL.Query().Get("smart_format")
		body := make([]byte, 16)
		n, _ := r.Body.Read(body)
		gotBody = n
		w.Write(deepgramFixture("deploy the new version please", 0.98, 12.5))
	})

	got, err := dg.Transcribe(context.Background(), []byte("fake-ogg-bytes"), "audio/ogg")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if gotAuth != "Token test-key" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Token test-key")
	}
	if gotContentType != "audio/ogg" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if gotModel != "nova-3" {
		t.Errorf("model = %q, want nova-3", gotModel)
	}
	if gotLanguage != "multi" {
		t.Errorf("language = %q, want multi", gotLanguage)
	}
	if gotSmartFormat != "true" {
		t.Errorf("smart_format = %q, want true", gotSmartFormat)
	}
	if gotBody == 0 {
		t.Error("audio bytes were not sent")
	}

	if got.Text != "deploy the new version please" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Confidence != 0.98 {
		t.Errorf("Confidence = %v", got.Confidence)
	}
	if got.Duration != 12.5 {
		t.Errorf("Duration = %v", got.Duration)
	}
	wantCost := 12.5 / 60 * 0.0043
	if math.Abs(got.CostUSD-wantCost) > 1e-9 {
		t.Errorf("CostUSD = %v, want %v", got.CostUSD, wantCost)
	}
}

func TestDeepgramEmptyTranscript(t *testing.T) {
	dg := newTestDeepgram(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(deepgramFixture("   ", 0, 3.0))
	})

	if _, err := dg.Transcribe(context.Background(), []byte("x"), "audio/ogg"); !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("Transcribe = %v, want ErrEmptyTranscript", err)
	}
}

func TestDeepgramNoChannels(t *testing.T) {
	dg := newTestDeepgram(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"metadata":{"duration":1},"results":{"channels":[]}}`))
	})

	if _, err := dg.Transcribe(context.Background(), []byte("x"), "audio/ogg"); !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("Transcribe = %v, want ErrEmptyTranscript", err)
	}
}

func TestDeepgramHTTPError(t *testing.T) {
	dg := newTestDeepgram(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"err_code":"INVALID_AUTH"}`, http.StatusUnauthorized)
	})

	_, err := dg.Transcribe(context.Background(), []byte("x"), "audio/ogg")
	if err == nil {
		t.Fatal("expected error on 401")
	}
}

func TestDeepgramRequiresKey(t *testing.T) {
	dg := NewDeepgram(DefaultDeepgramConfig(), testLogger())
	if _, err := dg.Transcribe(context.Background(), []byte("x"), "audio/ogg"); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("Transcribe = %v, want ErrNoAPIKey", err)
	}
}

func TestDeepgramRejectsEmptyAudio(t *testing.T) {
	cfg := DefaultDeepgramConfig()
	cfg.APIKey = "k"
	dg := NewDeepgram(cfg, testLogger())
	if _, err := dg.Transcribe(context.Background(), nil, "audio/ogg"); err == nil {
		t.Error("expected error for empty audio")
	}
}

func TestDeepgramDefaultMimeType(t *testing.T) {
	var gotContentType string
	dg := newTestDeepgram(t, func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		w.Write(deepgramFixture("ok", 1, 1))
	})

	if _, err := dg.Transcribe(context.Background(), []byte("x"), ""); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if gotContentType != "audio/ogg" {
		t.Errorf("Content-Type = %q, want default audio/ogg", gotContentType)
	}
}
