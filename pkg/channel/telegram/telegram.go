package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"botgate/pkg/channel"
	"botgate/pkg/config"
)

const channelName = "telegram"
const messagePreviewLimit = 240
const typingRefreshInterval = 4 * time.Second

// Adapter bridges Telegram updates into normalized gateway messages.
type Adapter struct {
	cfg       config.TelegramConfig
	allowFrom map[string]struct{}
	log       *slog.Logger
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:       cfg,
		allowFrom: allowFromSet(cfg.AllowFrom),
		log:       log.With("component", "channel.telegram"),
	}, nil
}

// Name returns the channel identifier used in message metadata and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts Telegram long polling and forwards messages through the shared
// gateway handler. Replies flow back through a per-chat responder.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			message := update.Message
			if message == nil {
				continue
			}

			content := strings.TrimSpace(message.Text)
			if content == "" {
				// Ignore non-text updates; the backend expects text content.
				continue
			}
			if message.From == nil {
				a.log.Debug("Ignoring message without sender")
				continue
			}

			senderID := strconv.FormatInt(message.From.ID, 10)
			if !a.senderAllowed(senderID) {
				a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
				continue
			}

			chatID := message.Chat.ID
			inbound := channel.UserMessage{
				Text:         content,
				SenderID:     senderID,
				InputChannel: channelName,
				Metadata: map[string]any{
					"update_id": update.UpdateID,
					"chat_id":   strconv.FormatInt(chatID, 10),
				},
				Output: &responder{bot: bot, chatID: chatID, log: a.log},
			}
			a.log.Info("Received message", "chat_id", chatID, "sender_id", senderID, "content", previewText(content))

			stopTyping := a.startTypingIndicator(ctx, bot, chatID)
			err := handler(ctx, inbound)
			stopTyping()
			if err != nil {
				a.log.Error("Failed to process inbound message", "sender_id", senderID, "error", err)
			}
		}
	}
}

// responder delivers replies into one Telegram chat.
type responder struct {
	bot    *telego.Bot
	chatID int64
	log    *slog.Logger
}

var _ channel.Responder = (*responder)(nil)

// SendText splits text on blank lines and sends one message per paragraph.
func (r *responder) SendText(ctx context.Context, _ string, text string) error {
	var firstErr error
	for _, part := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		if _, err := r.bot.SendMessage(ctx, tu.Message(tu.ID(r.chatID), part)); err != nil {
			r.log.Error("Failed to send telegram message", "chat_id", r.chatID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

func (r *responder) SendImage(ctx context.Context, _ string, imageURL string) error {
	if _, err := r.bot.SendPhoto(ctx, tu.Photo(tu.ID(r.chatID), tu.FileFromURL(imageURL))); err != nil {
		r.log.Error("Failed to send telegram photo", "chat_id", r.chatID, "error", err)
		return err
	}
	return nil
}

// SendButtons renders buttons as an inline keyboard, one button per row.
func (r *responder) SendButtons(ctx context.Context, _ string, text string, buttons []channel.Button) error {
	rows := make([][]telego.InlineKeyboardButton, 0, len(buttons))
	for _, button := range buttons {
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton(button.Title).WithCallbackData(buttonData(button)),
		))
	}

	params := tu.Message(tu.ID(r.chatID), text).WithReplyMarkup(tu.InlineKeyboard(rows...))
	if _, err := r.bot.SendMessage(ctx, params); err != nil {
		r.log.Error("Failed to send telegram buttons", "chat_id", r.chatID, "error", err)
		return err
	}
	return nil
}

// SendElements sends each element's text, falling back to its JSON form for
// elements without one.
func (r *responder) SendElements(ctx context.Context, recipientID string, elements []map[string]any) error {
	var firstErr error
	for _, element := range elements {
		text, _ := element["text"].(string)
		if text == "" {
			encoded, err := json.Marshal(element)
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("encode element: %w", err)
				}
				continue
			}
			text = string(encoded)
		}
		if err := r.SendText(ctx, recipientID, text); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// SendCustom has no native Telegram shape; the payload is sent as JSON text.
func (r *responder) SendCustom(ctx context.Context, recipientID string, payload map[string]any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode custom payload: %w", err)
	}

	return r.SendText(ctx, recipientID, string(encoded))
}

// buttonData picks the callback payload for one button.
func buttonData(button channel.Button) string {
	if button.Payload != "" {
		return button.Payload
	}
	if value, ok := button.Value.(string); ok && value != "" {
		return value
	}
	return button.Title
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}

// startTypingIndicator sends an initial typing action and refreshes it
// periodically until the returned cancel function is called.
func (a *Adapter) startTypingIndicator(ctx context.Context, bot *telego.Bot, chatID int64) context.CancelFunc {
	typingCtx, cancel := context.WithCancel(ctx)

	sendTyping := func() {
		if err := bot.SendChatAction(typingCtx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil && typingCtx.Err() == nil {
			a.log.Debug("Failed to send typing indicator", "chat_id", chatID, "error", err)
		}
	}

	sendTyping()

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				sendTyping()
			}
		}
	}()

	return cancel
}
