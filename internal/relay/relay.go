// Package relay orchestrates one conversation turn: look up the session,
// assemble the grounded prompt, invoke the generative backend, and record the
// exchange.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/afaqstores/afaqbot/internal/catalog"
	"github.com/afaqstores/afaqbot/internal/channel"
	"github.com/afaqstores/afaqbot/internal/chat"
	"github.com/afaqstores/afaqbot/internal/prompt"
	"github.com/afaqstores/afaqbot/internal/session"
	"github.com/afaqstores/afaqbot/internal/situational"
)

// Canned texts. The greeting is the only turn recorded on first contact; the
// fallback is returned on any backend failure without touching the session.
const (
	Greeting = "أهلاً وسهلاً! أنا البوت الذكي بتاع آفاق ستورز\nإزيك؟ تحب أساعدك في إيه النهاردة؟"
	Fallback = "ثواني بس، فيه مشكلة صغيرة وهرجعلك حالا..."

	imagePlaceholder = "[صورة]"
	audioPlaceholder = "[تسجيل صوتي]"
	imageInboundText = "بعت صورة"
	audioInboundText = "بعت تسجيل صوتي"
)

// Content is one canonical inbound payload: text, image bytes, or audio
// bytes. Media is never recorded in the session; a placeholder turn stands in
// for it.
type Content struct {
	Text     string
	Image    *chat.Media
	Audio    *chat.Media
	ClientIP string
}

// Processor is the conversation turn handler. It never holds a session lock
// across the backend call: the prompt is built, the backend invoked, and only
// the cheap in-memory append happens under the per-key lock.
type Processor struct {
	logger      *slog.Logger
	store       *session.Store
	catalog     *catalog.Service
	assembler   prompt.Assembler
	backend     chat.Client
	situational situational.Provider
	timeout     time.Duration
}

// NewProcessor wires the turn handler. timeout bounds every backend call; a
// timed-out call is treated exactly like a failed one.
func NewProcessor(
	log *slog.Logger,
	store *session.Store,
	catalogService *catalog.Service,
	assembler prompt.Assembler,
	backend chat.Client,
	situationalProvider situational.Provider,
	timeout time.Duration,
) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Processor{
		logger:      log.With(slog.String("component", "relay")),
		store:       store,
		catalog:     catalogService,
		assembler:   assembler,
		backend:     backend,
		situational: situationalProvider,
		timeout:     timeout,
	}
}

// HandleInbound processes one inbound event for identity and returns the
// reply text. Backend failures are recovered locally: the fixed fallback is
// returned and the session is left exactly as it was, so a retry starts from
// the same context.
func (p *Processor) HandleInbound(ctx context.Context, id session.Identity, content Content) (string, error) {
	if id.Channel == "" || id.SubjectID == "" {
		return "", fmt.Errorf("identity is required")
	}

	greeted := p.store.AppendIfEmpty(id, session.Turn{
		Role: session.RoleAssistant,
		Text: Greeting,
		Time: time.Now().UTC(),
	})
	if greeted {
		p.logger.Info("new user greeted", slog.String("identity", id.Key()))
		return Greeting, nil
	}

	inboundText, recordedText, media := normalizeContent(content)

	situ := p.lookupSituational(ctx, content.ClientIP)
	window := p.assembler.TranscriptWindow
	if p.assembler.DisplayWindow > window {
		window = p.assembler.DisplayWindow
	}
	rendered := p.assembler.Render(prompt.Input{
		History:     p.store.Recent(id, window),
		Catalog:     p.catalog.Snapshot().Records(),
		Situational: situ,
		InboundText: inboundText,
		HasImage:    content.Image != nil,
	})

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	reply, err := p.backend.Generate(callCtx, rendered, media)
	if err != nil {
		p.logger.Warn("backend call failed",
			slog.String("identity", id.Key()),
			slog.Any("error", err),
		)
		return Fallback, nil
	}

	now := time.Now().UTC()
	p.store.Append(id,
		session.Turn{Role: session.RoleUser, Text: recordedText, Time: now},
		session.Turn{Role: session.RoleAssistant, Text: reply, Time: now},
	)
	return reply, nil
}

// Handler adapts the processor to the channel layer's canonical callback.
func (p *Processor) Handler() channel.InboundHandler {
	return func(ctx context.Context, msg channel.InboundMessage) (string, error) {
		id := session.Identity{
			Channel:   msg.Channel.String(),
			SubjectID: msg.Sender.SubjectID,
		}
		return p.HandleInbound(ctx, id, contentFromMessage(msg))
	}
}

// normalizeContent picks the prompt-facing text, the text recorded in the
// session, and the media forwarded to the backend. Image wins over audio when
// both are present.
func normalizeContent(content Content) (inboundText, recordedText string, media *chat.Media) {
	switch {
	case content.Image != nil:
		media = content.Image
		inboundText = content.Text
		recordedText = content.Text
		if inboundText == "" {
			inboundText = imageInboundText
			recordedText = imagePlaceholder
		}
	case content.Audio != nil:
		media = content.Audio
		inboundText = content.Text
		recordedText = content.Text
		if inboundText == "" {
			inboundText = audioInboundText
			recordedText = audioPlaceholder
		}
	default:
		inboundText = content.Text
		recordedText = content.Text
	}
	return inboundText, recordedText, media
}

func contentFromMessage(msg channel.InboundMessage) Content {
	content := Content{
		Text:     msg.Text,
		ClientIP: msg.ClientIP,
	}
	if att := msg.FirstAttachment(channel.AttachmentImage); att != nil {
		content.Image = &chat.Media{Mime: att.Mime, Data: att.Data}
	}
	if att := msg.FirstAttachment(channel.AttachmentAudio); att != nil {
		content.Audio = &chat.Media{Mime: att.Mime, Data: att.Data}
	}
	return content
}

func (p *Processor) lookupSituational(ctx context.Context, clientIP string) situational.Context {
	if p.situational == nil {
		return situational.Context{}
	}
	return p.situational.Lookup(ctx, clientIP)
}
