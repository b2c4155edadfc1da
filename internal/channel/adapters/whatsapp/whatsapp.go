// Package whatsapp implements the WhatsApp Cloud API channel adapter:
// webhook intake plus Graph API media download and message delivery.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/afaqstores/afaqbot/internal/channel"
)

// Type is the WhatsApp channel tag.
const Type = channel.ChannelType("whatsapp")

const (
	defaultGraphBaseURL = "https://graph.facebook.com/v20.0"
	// WhatsApp rejects text bodies beyond 4096 bytes; stay under with margin.
	maxReplyLength = 4000
)

// Adapter talks to the Graph API on behalf of one phone number.
type Adapter struct {
	logger        *slog.Logger
	httpClient    *http.Client
	baseURL       string
	accessToken   string
	phoneNumberID string
}

// NewAdapter creates a WhatsApp adapter for the given Cloud API credentials.
func NewAdapter(log *slog.Logger, accessToken, phoneNumberID string) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:        log.With(slog.String("adapter", "whatsapp")),
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		baseURL:       defaultGraphBaseURL,
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
	}
}

// Type returns the WhatsApp channel type.
func (a *Adapter) Type() channel.ChannelType {
	return Type
}

// SendText delivers a text message to the given phone number.
func (a *Adapter) SendText(ctx context.Context, to, text string) error {
	if a.accessToken == "" || a.phoneNumberID == "" {
		return fmt.Errorf("whatsapp credentials not configured")
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": truncateReply(text)},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	url := fmt.Sprintf("%s/%s/messages", a.baseURL, a.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.accessToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("send status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

type mediaLookupResponse struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

// DownloadMedia resolves a media ID to its temporary URL and fetches the
// bytes, both with the account token.
func (a *Adapter) DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	lookupURL := fmt.Sprintf("%s/%s", a.baseURL, mediaID)
	var lookup mediaLookupResponse
	if err := a.getJSON(ctx, lookupURL, &lookup); err != nil {
		return nil, "", fmt.Errorf("resolve media url: %w", err)
	}
	if lookup.URL == "" {
		return nil, "", fmt.Errorf("media %s has no download url", mediaID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookup.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.accessToken)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download status: %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	mime := strings.TrimSpace(lookup.MimeType)
	if mime == "" {
		mime = strings.TrimSpace(resp.Header.Get("Content-Type"))
	}
	return data, mime, nil
}

func (a *Adapter) getJSON(ctx context.Context, url string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.accessToken)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

func truncateReply(text string) string {
	if len(text) <= maxReplyLength {
		return text
	}
	limit := maxReplyLength
	for limit > 0 && (text[limit]&0xC0) == 0x80 {
		limit--
	}
	return text[:limit]
}
