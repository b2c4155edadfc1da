// Package chat defines the generative backend capability consumed by the
// relay, plus its Gemini implementation.
package chat

import "context"

// Media is an optional binary attachment for a generation call.
type Media struct {
	Mime string
	Data []byte
}

// Client is the relay's only outbound dependency: text in, text out. Any
// failure (timeout, transport, empty reply) surfaces as a single opaque
// error; callers do not distinguish subtypes.
type Client interface {
	Generate(ctx context.Context, prompt string, media *Media) (string, error)
}
