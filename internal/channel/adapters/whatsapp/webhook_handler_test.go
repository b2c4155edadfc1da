package whatsapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/afaqstores/afaqbot/internal/channel"
)

func TestHandleVerify(t *testing.T) {
	t.Parallel()

	h := NewWebhookHandler(nil, NewAdapter(nil, "", ""), nil, "secret")
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=secret&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	if err := h.HandleVerify(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "12345" {
		t.Fatalf("expected challenge echoed, got %q", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.verify_token=wrong&hub.challenge=12345", nil)
	err := h.HandleVerify(e.NewContext(req, httptest.NewRecorder()))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for bad token, got %v", err)
	}
}

func TestHandleParsesTextMessage(t *testing.T) {
	t.Parallel()

	received := make(chan channel.InboundMessage, 1)
	handler := func(_ context.Context, msg channel.InboundMessage) (string, error) {
		received <- msg
		return "", nil
	}
	h := NewWebhookHandler(nil, NewAdapter(nil, "", ""), handler, "secret")
	e := echo.New()

	payload := `{
		"entry": [{
			"changes": [{
				"value": {
					"messages": [{
						"from": "201000000001",
						"type": "text",
						"text": {"body": "عايز تيشيرت"}
					}]
				}
			}]
		}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.Handle(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook must acknowledge with 200, got %d", rec.Code)
	}

	msg := <-received
	if msg.Channel != Type {
		t.Fatalf("unexpected channel: %s", msg.Channel)
	}
	if msg.Sender.SubjectID != "201000000001" {
		t.Fatalf("unexpected subject: %q", msg.Sender.SubjectID)
	}
	if msg.Text != "عايز تيشيرت" {
		t.Fatalf("unexpected text: %q", msg.Text)
	}
	if msg.ReplyTarget != "201000000001" {
		t.Fatalf("unexpected reply target: %q", msg.ReplyTarget)
	}
}

func TestHandleMalformedBodyStillAcknowledges(t *testing.T) {
	t.Parallel()

	h := NewWebhookHandler(nil, NewAdapter(nil, "", ""), nil, "secret")
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader("{broken"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.Handle(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("malformed payload must still get 200, got %d", rec.Code)
	}
}

func TestBuildInboundUnsupportedType(t *testing.T) {
	t.Parallel()

	h := NewWebhookHandler(nil, NewAdapter(nil, "", ""), nil, "secret")
	if _, ok := h.buildInbound(context.Background(), webhookMessage{From: "1", Type: "sticker"}, ""); ok {
		t.Fatalf("unsupported message types must be rejected")
	}
}
