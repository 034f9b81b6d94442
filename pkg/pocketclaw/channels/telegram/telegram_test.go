package telegram

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels"
)

func newTestChannel(cfg Config) *Telegram {
	return New(cfg, slog.New(slog.NewTextHandler(os.Stdout, nil)))
}

// receiveOne drains exactly one message or fails.
func receiveOne(t *testing.T, tg *Telegram) *channels.IncomingMessage {
	t.Helper()
	select {
	case msg := <-tg.messages:
		return msg
	default:
		t.Fatal("no message emitted")
		return nil
	}
}

func textUpdate(chatID int64, chatType, text string) tgUpdate {
	return tgUpdate{
		UpdateID: 1,
		Message: &tgMessage{
			MessageID: 100,
			From:      &tgUser{ID: 7, FirstName: "Ana", LastName: "Reis"},
			Chat:      tgChat{ID: chatID, Type: chatType},
			Date:      1724000000,
			Text:      text,
		},
	}
}

func TestProcessUpdateText(t *testing.T) {
	tg := newTestChannel(DefaultConfig())

	tg.processUpdate(textUpdate(42, "private", "hello bot"))

	msg := receiveOne(t, tg)
	if msg.Type != channels.MessageText {
		t.Errorf("Type = %q, want text", msg.Type)
	}
	if msg.Content != "hello bot" {
		t.Errorf("Content = %q, want %q", msg.Content, "hello bot")
	}
	if msg.From != "7" {
		t.Errorf("From = %q, want %q", msg.From, "7")
	}
	if msg.FromName != "Ana Reis" {
		t.Errorf("FromName = %q, want %q", msg.FromName, "Ana Reis")
	}
	if msg.ChatID != "42" {
		t.Errorf("ChatID = %q, want %q", msg.ChatID, "42")
	}
	if msg.IsGroup {
		t.Error("private chat should not be a group")
	}
}

func TestProcessUpdateVoice(t *testing.T) {
	tg := newTestChannel(DefaultConfig())

	u := textUpdate(42, "private", "")
	u.Message.Voice = &tgVoice{
		FileID:   "voice-file-1",
		Duration: 12,
		MimeType: "audio/ogg",
		FileSize: 48000,
	}
	tg.processUpdate(u)

	msg := receiveOne(t, tg)
	if msg.Type != channels.MessageVoice {
		t.Fatalf("Type = %q, want voice", msg.Type)
	}
	if msg.Voice == nil {
		t.Fatal("Voice info missing")
	}
	if msg.Voice.FileRef != "voice-file-1" {
		t.Errorf("FileRef = %q", msg.Voice.FileRef)
	}
	if msg.Voice.Duration != 12 {
		t.Errorf("Duration = %v, want 12", msg.Voice.Duration)
	}
	if msg.Voice.MimeType != "audio/ogg" {
		t.Errorf("MimeType = %q", msg.Voice.MimeType)
	}
	if msg.Voice.SizeBytes != 48000 {
		t.Errorf("SizeBytes = %d", msg.Voice.SizeBytes)
	}
}

func TestProcessUpdateAudioAsVoice(t *testing.T) {
	tg := newTestChannel(DefaultConfig())

	u := textUpdate(42, "private", "")
	u.Message.Audio = &tgAudio{FileID: "song-1", Duration: 95, MimeType: "audio/mpeg"}
	tg.processUpdate(u)

	msg := receiveOne(t, tg)
	if msg.Type != channels.MessageVoice {
		t.Fatalf("Type = %q, want voice", msg.Type)
	}
	if msg.Voice.FileRef != "song-1" || msg.Voice.Duration != 95 {
		t.Errorf("Voice = %+v", msg.Voice)
	}
}

func TestProcessUpdatePhotoUnsupported(t *testing.T) {
	tg := newTestChannel(DefaultConfig())

	u := textUpdate(42, "private", "")
	u.Message.Photo = []tgPhoto{{FileID: "p1", Width: 640, Height: 480}}
	u.Message.Caption = "look at this"
	tg.processUpdate(u)

	msg := receiveOne(t, tg)
	if msg.Type != channels.MessageUnsupported {
		t.Errorf("Type = %q, want unsupported", msg.Type)
	}
	if msg.Content != "look at this" {
		t.Errorf("Content = %q, want caption", msg.Content)
	}
}

func TestProcessUpdateAllowedChatsFilter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedChats = []int64{42}
	tg := newTestChannel(cfg)

	tg.processUpdate(textUpdate(99, "private", "not allowed"))
	select {
	case msg := <-tg.messages:
		t.Fatalf("message from disallowed chat leaked: %+v", msg)
	default:
	}

	tg.processUpdate(textUpdate(42, "private", "allowed"))
	if msg := receiveOne(t, tg); msg.Content != "allowed" {
		t.Errorf("Content = %q", msg.Content)
	}
}

func TestProcessUpdateGroupFilter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RespondToGroups = false
	tg := newTestChannel(cfg)

	tg.processUpdate(textUpdate(42, "supergroup", "group text"))
	select {
	case <-tg.messages:
		t.Fatal("group message should be filtered")
	default:
	}
}

func TestProcessUpdateIgnoresBots(t *testing.T) {
	tg := newTestChannel(DefaultConfig())

	u := textUpdate(42, "private", "beep")
	u.Message.From.IsBot = true
	tg.processUpdate(u)

	select {
	case <-tg.messages:
		t.Fatal("bot message should be ignored")
	default:
	}
}

func TestProcessUpdateEditedMessage(t *testing.T) {
	tg := newTestChannel(DefaultConfig())

	u := textUpdate(42, "private", "")
	u.EditedMessage = u.Message
	u.EditedMessage.Text = "edited text"
	u.Message = nil
	tg.processUpdate(u)

	if msg := receiveOne(t, tg); msg.Content != "edited text" {
		t.Errorf("Content = %q, want edited text", msg.Content)
	}
}

func TestSendRequiresConnection(t *testing.T) {
	tg := newTestChannel(DefaultConfig())
	err := tg.Send(context.Background(), "42", &channels.OutgoingMessage{Content: "hi"})
	if err != channels.ErrChannelDisconnected {
		t.Errorf("Send = %v, want ErrChannelDisconnected", err)
	}
}

func TestConnectRequiresToken(t *testing.T) {
	tg := newTestChannel(Config{})
	if err := tg.Connect(context.Background()); err == nil {
		t.Error("Connect without token should fail")
	}
}
