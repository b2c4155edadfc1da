// Package telegram implements the Telegram channel adapter using long
// polling.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/afaqstores/afaqbot/internal/channel"
)

// Type is the Telegram channel tag.
const Type = channel.ChannelType("telegram")

const maxMessageLength = 4096

// Adapter connects to the Telegram Bot API, forwards inbound updates to the
// shared handler, and sends the returned replies.
type Adapter struct {
	logger     *slog.Logger
	token      string
	downloader *http.Client
}

// NewAdapter creates a Telegram adapter for the given bot token.
func NewAdapter(log *slog.Logger, token string) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:     log.With(slog.String("adapter", "telegram")),
		token:      token,
		downloader: &http.Client{Timeout: 60 * time.Second},
	}
}

// Type returns the Telegram channel type.
func (a *Adapter) Type() channel.ChannelType {
	return Type
}

// Connect starts long-polling for updates. Each update is handled on its own
// goroutine so a slow backend call never stalls the poll loop.
func (a *Adapter) Connect(ctx context.Context, handler channel.InboundHandler) (channel.Connection, error) {
	bot, err := tgbotapi.NewBotAPI(a.token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30
	updates := bot.GetUpdatesChan(updateConfig)
	connCtx, cancel := context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-connCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					a.logger.Info("updates channel closed")
					return
				}
				if update.Message == nil {
					continue
				}
				msg := a.buildInbound(bot, update.Message)
				if msg.IsEmpty() {
					continue
				}
				go a.dispatch(connCtx, bot, handler, msg)
			}
		}
	}()

	stop := func(_ context.Context) error {
		a.logger.Info("stop")
		bot.StopReceivingUpdates()
		cancel()
		// Drain remaining updates so the library's polling goroutine can
		// finish writing and exit; otherwise the in-flight long poll keeps
		// the old getUpdates session alive.
		for range updates {
		}
		return nil
	}
	return channel.NewConnection(Type, stop), nil
}

func (a *Adapter) dispatch(ctx context.Context, bot *tgbotapi.BotAPI, handler channel.InboundHandler, msg channel.InboundMessage) {
	reply, err := handler(ctx, msg)
	if err != nil {
		a.logger.Error("handle inbound failed",
			slog.String("subject_id", msg.Sender.SubjectID),
			slog.Any("error", err),
		)
		return
	}
	if strings.TrimSpace(reply) == "" {
		return
	}
	if err := a.sendText(bot, msg.ReplyTarget, reply); err != nil {
		a.logger.Error("send reply failed",
			slog.String("chat_id", msg.ReplyTarget),
			slog.Any("error", err),
		)
	}
}

func (a *Adapter) buildInbound(bot *tgbotapi.BotAPI, m *tgbotapi.Message) channel.InboundMessage {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		text = strings.TrimSpace(m.Caption)
	}

	subjectID := ""
	displayName := ""
	if m.From != nil {
		subjectID = strconv.FormatInt(m.From.ID, 10)
		displayName = strings.TrimSpace(m.From.UserName)
		if displayName == "" {
			displayName = strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
		}
	}
	chatID := ""
	if m.Chat != nil {
		chatID = strconv.FormatInt(m.Chat.ID, 10)
	}

	msg := channel.InboundMessage{
		Channel:     Type,
		Sender:      channel.Identity{SubjectID: subjectID, DisplayName: displayName},
		Text:        text,
		ReplyTarget: chatID,
		ReceivedAt:  time.Unix(int64(m.Date), 0).UTC(),
	}
	msg.Attachments = a.collectAttachments(bot, m)
	return msg
}

// collectAttachments downloads the inbound media the relay understands: the
// largest photo size, or a voice/audio recording.
func (a *Adapter) collectAttachments(bot *tgbotapi.BotAPI, m *tgbotapi.Message) []channel.Attachment {
	var attachments []channel.Attachment
	if len(m.Photo) > 0 {
		photo := pickPhoto(m.Photo)
		if data, err := a.downloadFile(bot, photo.FileID); err != nil {
			a.logger.Warn("download photo failed", slog.Any("error", err))
		} else {
			attachments = append(attachments, channel.Attachment{
				Type: channel.AttachmentImage,
				Mime: "image/jpeg",
				Data: data,
			})
		}
	}
	voice := voiceFileID(m)
	if voice.fileID != "" {
		if data, err := a.downloadFile(bot, voice.fileID); err != nil {
			a.logger.Warn("download voice failed", slog.Any("error", err))
		} else {
			attachments = append(attachments, channel.Attachment{
				Type: channel.AttachmentAudio,
				Mime: voice.mime,
				Data: data,
			})
		}
	}
	return attachments
}

type voiceRef struct {
	fileID string
	mime   string
}

func voiceFileID(m *tgbotapi.Message) voiceRef {
	if m.Voice != nil {
		mime := strings.TrimSpace(m.Voice.MimeType)
		if mime == "" {
			mime = "audio/ogg"
		}
		return voiceRef{fileID: m.Voice.FileID, mime: mime}
	}
	if m.Audio != nil {
		mime := strings.TrimSpace(m.Audio.MimeType)
		if mime == "" {
			mime = "audio/mpeg"
		}
		return voiceRef{fileID: m.Audio.FileID, mime: mime}
	}
	return voiceRef{}
}

func (a *Adapter) downloadFile(bot *tgbotapi.BotAPI, fileID string) ([]byte, error) {
	url, err := bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %w", err)
	}
	resp, err := a.downloader.Get(url)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download status: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (a *Adapter) sendText(bot *tgbotapi.BotAPI, target, text string) error {
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram target must be a chat_id")
	}
	message := tgbotapi.NewMessage(chatID, truncateText(sanitizeText(text)))
	_, err = bot.Send(message)
	return err
}

func pickPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := items[0]
	for _, item := range items[1:] {
		if item.FileSize > best.FileSize {
			best = item
			continue
		}
		if item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}

// sanitizeText ensures text is valid UTF-8 for the Telegram API.
func sanitizeText(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// truncateText truncates text to maxMessageLength on a valid UTF-8 rune
// boundary, appending "..." when truncation occurs.
func truncateText(text string) string {
	if len(text) <= maxMessageLength {
		return text
	}
	const suffix = "..."
	limit := maxMessageLength - len(suffix)
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit] + suffix
}
