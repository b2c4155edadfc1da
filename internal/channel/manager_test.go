package channel

import (
	"context"
	"errors"
	"testing"
)

func TestManagerStartAndShutdown(t *testing.T) {
	t.Parallel()

	good := &fakeConnector{fakeAdapter: fakeAdapter{channel: "telegram"}}
	bad := &fakeConnector{fakeAdapter: fakeAdapter{channel: "discord"}, connectErr: errors.New("no token")}

	r := NewRegistry()
	r.MustRegister(good)
	r.MustRegister(bad)

	m := NewManager(nil, r, func(_ context.Context, _ InboundMessage) (string, error) {
		return "", nil
	})
	m.Start(context.Background())

	// One adapter failing must not prevent the other from connecting.
	m.mu.Lock()
	live := len(m.connections)
	m.mu.Unlock()
	if live != 1 {
		t.Fatalf("expected 1 live connection, got %d", live)
	}

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
	if !good.stopped {
		t.Fatalf("shutdown must stop live connections")
	}
}

func TestInboundMessageHelpers(t *testing.T) {
	t.Parallel()

	empty := InboundMessage{Text: "   "}
	if !empty.IsEmpty() {
		t.Fatalf("whitespace-only message must be empty")
	}

	msg := InboundMessage{
		Attachments: []Attachment{
			{Type: AttachmentAudio, Mime: "audio/ogg"},
			{Type: AttachmentImage, Mime: "image/jpeg"},
		},
	}
	if msg.IsEmpty() {
		t.Fatalf("message with attachments is not empty")
	}
	if att := msg.FirstAttachment(AttachmentImage); att == nil || att.Mime != "image/jpeg" {
		t.Fatalf("unexpected image attachment: %+v", att)
	}
	if att := msg.FirstAttachment("video"); att != nil {
		t.Fatalf("expected nil for unknown attachment type")
	}
}
