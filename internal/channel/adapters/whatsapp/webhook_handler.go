package whatsapp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/afaqstores/afaqbot/internal/channel"
)

// webhookPayload mirrors the Cloud API event-subscription shape.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []webhookMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMessage struct {
	From      string           `json:"from"`
	Type      string           `json:"type"`
	Timestamp string           `json:"timestamp"`
	Text      *webhookText     `json:"text"`
	Image     *webhookMediaRef `json:"image"`
	Audio     *webhookMediaRef `json:"audio"`
	Voice     *webhookMediaRef `json:"voice"`
}

type webhookText struct {
	Body string `json:"body"`
}

type webhookMediaRef struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
}

// WebhookHandler receives WhatsApp Cloud API callbacks: the GET verification
// handshake and POSTed message events.
type WebhookHandler struct {
	logger      *slog.Logger
	adapter     *Adapter
	handler     channel.InboundHandler
	verifyToken string
}

// NewWebhookHandler creates the public webhook handler. Replies computed by
// the inbound handler are sent back through the adapter.
func NewWebhookHandler(log *slog.Logger, adapter *Adapter, handler channel.InboundHandler, verifyToken string) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		logger:      log.With(slog.String("handler", "whatsapp_webhook")),
		adapter:     adapter,
		handler:     handler,
		verifyToken: verifyToken,
	}
}

// Register registers webhook callback routes.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/webhooks/whatsapp", h.HandleVerify)
	e.POST("/webhooks/whatsapp", h.Handle)
}

// HandleVerify answers the Cloud API subscription handshake by echoing the
// challenge when the verify token matches.
func (h *WebhookHandler) HandleVerify(c echo.Context) error {
	if c.QueryParam("hub.verify_token") != h.verifyToken {
		return echo.NewHTTPError(http.StatusForbidden, "verify token mismatch")
	}
	return c.String(http.StatusOK, c.QueryParam("hub.challenge"))
}

// Handle accepts a message event batch. Events are processed asynchronously
// so the webhook acknowledges immediately; the Cloud API retries deliveries
// that do not get a fast 200.
func (h *WebhookHandler) Handle(c echo.Context) error {
	var payload webhookPayload
	if err := c.Bind(&payload); err != nil {
		h.logger.Warn("decode webhook payload failed", slog.Any("error", err))
		return c.String(http.StatusOK, "OK")
	}
	clientIP := c.RealIP()
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				go h.process(context.WithoutCancel(c.Request().Context()), msg, clientIP)
			}
		}
	}
	return c.String(http.StatusOK, "OK")
}

func (h *WebhookHandler) process(ctx context.Context, msg webhookMessage, clientIP string) {
	inbound, ok := h.buildInbound(ctx, msg, clientIP)
	if !ok {
		// Unsupported payload kinds get a fixed hint rather than silence.
		if err := h.adapter.SendText(ctx, msg.From, "ابعت نص أو صورة أو صوت"); err != nil {
			h.logger.Warn("send unsupported-type hint failed", slog.Any("error", err))
		}
		return
	}
	if inbound.IsEmpty() {
		return
	}
	reply, err := h.handler(ctx, inbound)
	if err != nil {
		h.logger.Error("handle inbound failed",
			slog.String("from", msg.From),
			slog.Any("error", err),
		)
		return
	}
	if strings.TrimSpace(reply) == "" {
		return
	}
	if err := h.adapter.SendText(ctx, msg.From, reply); err != nil {
		h.logger.Error("send reply failed", slog.String("to", msg.From), slog.Any("error", err))
	}
}

func (h *WebhookHandler) buildInbound(ctx context.Context, msg webhookMessage, clientIP string) (channel.InboundMessage, bool) {
	inbound := channel.InboundMessage{
		Channel:     Type,
		Sender:      channel.Identity{SubjectID: msg.From},
		ReplyTarget: msg.From,
		ClientIP:    clientIP,
		ReceivedAt:  time.Now().UTC(),
	}
	switch msg.Type {
	case "text":
		if msg.Text != nil {
			inbound.Text = strings.TrimSpace(msg.Text.Body)
		}
		return inbound, true
	case "image":
		if att, ok := h.downloadAttachment(ctx, msg.Image, channel.AttachmentImage); ok {
			inbound.Attachments = append(inbound.Attachments, att)
		}
		return inbound, true
	case "audio", "voice":
		ref := msg.Audio
		if ref == nil {
			ref = msg.Voice
		}
		if att, ok := h.downloadAttachment(ctx, ref, channel.AttachmentAudio); ok {
			inbound.Attachments = append(inbound.Attachments, att)
		}
		return inbound, true
	default:
		return channel.InboundMessage{}, false
	}
}

func (h *WebhookHandler) downloadAttachment(ctx context.Context, ref *webhookMediaRef, kind channel.AttachmentType) (channel.Attachment, bool) {
	if ref == nil || ref.ID == "" {
		return channel.Attachment{}, false
	}
	data, mime, err := h.adapter.DownloadMedia(ctx, ref.ID)
	if err != nil {
		h.logger.Warn("download media failed",
			slog.String("media_id", ref.ID),
			slog.Any("error", err),
		)
		return channel.Attachment{}, false
	}
	if mime == "" {
		mime = ref.MimeType
	}
	return channel.Attachment{Type: kind, Mime: mime, Data: data}, true
}
