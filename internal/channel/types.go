// Package channel provides the abstraction shared by the messaging platform
// adapters (WhatsApp, Telegram): canonical inbound message types, a registry,
// and a manager for connection-based adapters.
package channel

import (
	"context"
	"strings"
	"time"
)

// ChannelType identifies a messaging platform (e.g., "telegram", "whatsapp").
type ChannelType string

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

// Identity represents a sender's identity on a channel.
type Identity struct {
	SubjectID   string
	DisplayName string
}

// AttachmentType classifies inbound binary content.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentAudio AttachmentType = "audio"
)

// Attachment carries already-downloaded media bytes. Media is never
// persisted; it only rides along for the duration of one turn.
type Attachment struct {
	Type AttachmentType
	Mime string
	Data []byte
}

// InboundMessage is one canonical inbound event from a platform adapter.
type InboundMessage struct {
	Channel     ChannelType
	Sender      Identity
	Text        string
	Attachments []Attachment
	ReplyTarget string
	ClientIP    string
	ReceivedAt  time.Time
}

// FirstAttachment returns the first attachment of the given type, or nil.
func (m InboundMessage) FirstAttachment(t AttachmentType) *Attachment {
	for i := range m.Attachments {
		if m.Attachments[i].Type == t {
			return &m.Attachments[i]
		}
	}
	return nil
}

// IsEmpty reports whether the message carries no usable content.
func (m InboundMessage) IsEmpty() bool {
	return strings.TrimSpace(m.Text) == "" && len(m.Attachments) == 0
}

// InboundHandler processes one inbound event and returns the reply text to
// relay back to the originating platform.
type InboundHandler func(ctx context.Context, msg InboundMessage) (string, error)

// Adapter is the minimal contract every platform adapter satisfies.
type Adapter interface {
	Type() ChannelType
}

// Connector is implemented by adapters that hold a long-lived connection
// (long polling) instead of receiving webhooks.
type Connector interface {
	Adapter
	Connect(ctx context.Context, handler InboundHandler) (Connection, error)
}

// Connection represents an established adapter connection.
type Connection interface {
	Channel() ChannelType
	Stop(ctx context.Context) error
}

type connection struct {
	channel ChannelType
	stop    func(ctx context.Context) error
}

// NewConnection wraps a stop function as a Connection.
func NewConnection(channel ChannelType, stop func(ctx context.Context) error) Connection {
	return &connection{channel: channel, stop: stop}
}

func (c *connection) Channel() ChannelType {
	return c.channel
}

func (c *connection) Stop(ctx context.Context) error {
	if c.stop == nil {
		return nil
	}
	return c.stop(ctx)
}
