package botframework

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

	"botgate/pkg/channel"
)

const requestTimeout = 30 * time.Second

// Channel sends replies into one Bot Framework conversation.
//
// One instance is constructed per inbound activity and owns that activity's
// conversation context; only the token store behind it is shared.
type Channel struct {
	conversationID string
	serviceURL     string
	bot            ChannelAccount
	tokens         *TokenStore
	client         *http.Client
	log            *slog.Logger
}

var _ channel.Responder = (*Channel)(nil)

// NewChannel binds an outbound channel to one conversation.
//
// serviceURL is the callback base URL announced by the inbound activity; bot
// is the bot's own identity, used as the sender of every reply.
func NewChannel(tokens *TokenStore, conversationID, serviceURL string, bot ChannelAccount, log *slog.Logger) *Channel {
	if log == nil {
		log = slog.Default()
	}
	if serviceURL != "" && !strings.HasSuffix(serviceURL, "/") {
		serviceURL += "/"
	}

	return &Channel{
		conversationID: conversationID,
		serviceURL:     serviceURL,
		bot:            bot,
		tokens:         tokens,
		client:         &http.Client{Timeout: requestTimeout},
		log:            log.With("component", "channel.botframework"),
	}
}

// SendText splits text on blank lines and sends one activity per paragraph,
// in order. Paragraphs are delivered sequentially; a failed paragraph is
// logged and the remaining ones are still attempted.
func (c *Channel) SendText(ctx context.Context, recipientID, text string) error {
	var firstErr error
	for _, part := range strings.Split(text, "\n\n") {
		activity := c.newActivity(recipientID)
		activity.Text = part
		if err := c.send(ctx, activity); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// SendImage sends one hero-card activity containing a single image.
func (c *Channel) SendImage(ctx context.Context, recipientID, imageURL string) error {
	activity := c.newActivity(recipientID)
	activity.Attachments = []Attachment{{
		ContentType: heroCardContentType,
		Content:     HeroCard{Images: []CardImage{{URL: imageURL}}},
	}}

	return c.send(ctx, activity)
}

// SendButtons sends one hero-card activity with the prompt as subtitle and
// the button list carried verbatim.
func (c *Channel) SendButtons(ctx context.Context, recipientID, text string, buttons []channel.Button) error {
	activity := c.newActivity(recipientID)
	activity.Attachments = []Attachment{{
		ContentType: heroCardContentType,
		Content:     HeroCard{Subtitle: text, Buttons: buttons},
	}}

	return c.send(ctx, activity)
}

// SendElements sends one activity per element, in iteration order. Each
// element's fields overlay the default activity fields.
func (c *Channel) SendElements(ctx context.Context, recipientID string, elements []map[string]any) error {
	var firstErr error
	for _, element := range elements {
		if err := c.send(ctx, c.prepare(recipientID, element)); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// SendCustom sends a caller-shaped activity, filling in only the default
// fields the payload does not set itself.
func (c *Channel) SendCustom(ctx context.Context, recipientID string, payload map[string]any) error {
	return c.send(ctx, fillDefaults(payload, recipientID, c.bot))
}

// newActivity builds an activity carrying the default outbound fields.
func (c *Channel) newActivity(recipientID string) Activity {
	return Activity{
		Type:        "message",
		Recipient:   ChannelAccount{ID: recipientID},
		From:        c.bot,
		ChannelData: ChannelData{Notification: Notification{Alert: "true"}},
	}
}

// prepare merges element fields over the default activity fields.
func (c *Channel) prepare(recipientID string, fields map[string]any) map[string]any {
	payload := map[string]any{
		"type":        "message",
		"recipient":   accountObject(ChannelAccount{ID: recipientID}),
		"from":        accountObject(c.bot),
		"channelData": map[string]any{"notification": map[string]any{"alert": "true"}},
		"text":        "",
	}
	for key, value := range fields {
		payload[key] = value
	}

	return payload
}

// send delivers one activity to the conversation's activities endpoint.
//
// A token failure short-circuits the send; a non-success response is logged
// with its body and returned. No retries either way.
func (c *Channel) send(ctx context.Context, payload any) error {
	headers, err := c.tokens.Headers(ctx)
	if err != nil {
		c.log.Error("Skipping send, no valid Bot Framework token", "conversation_id", c.conversationID, "error", err)
		return fmt.Errorf("get botframework token: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode activity: %w", err)
	}

	uri := c.serviceURL + "v3/conversations/" + c.conversationID + "/activities"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create activity request: %w", err)
	}
	for key, values := range headers {
		for _, value := range values {
			req.Header.Set(key, value)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Error("Error trying to send botframework message", "conversation_id", c.conversationID, "error", err)
		return fmt.Errorf("send activity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.Error("Error trying to send botframework message",
			"conversation_id", c.conversationID,
			"status", resp.StatusCode,
			"response", strings.TrimSpace(string(responseBody)),
		)
		return fmt.Errorf("activities endpoint returned status %d", resp.StatusCode)
	}

	return nil
}
