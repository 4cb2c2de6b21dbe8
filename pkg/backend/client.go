package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"botgate/pkg/channel"
	"botgate/pkg/config"
)

// Client forwards normalized inbound messages to the conversational backend
// over HTTP and pushes the backend's replies out through the message's
// responder.
type Client struct {
	baseURL        string
	client         *http.Client
	requestTimeout time.Duration
	log            *slog.Logger
}

type messageRequest struct {
	Sender       string         `json:"sender"`
	Message      string         `json:"message"`
	InputChannel string         `json:"input_channel,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// reply is one backend response item, dispatched in order.
type reply struct {
	RecipientID string           `json:"recipient_id"`
	Text        string           `json:"text,omitempty"`
	Image       string           `json:"image,omitempty"`
	Buttons     []channel.Button `json:"buttons,omitempty"`
	Elements    []map[string]any `json:"elements,omitempty"`
	Custom      map[string]any   `json:"custom,omitempty"`
}

// New builds a backend client from config.
func New(cfg *config.Config, log *slog.Logger) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.Backend.BaseURL)
	if baseURL == "" {
		return nil, errors.New("backend.base_url is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	if log == nil {
		log = slog.Default()
	}

	return &Client{
		baseURL:        baseURL,
		client:         &http.Client{},
		requestTimeout: time.Duration(cfg.Backend.RequestTimeoutSeconds) * time.Second,
		log:            log.With("component", "backend"),
	}, nil
}

// Health checks the backend's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend health returned status %d", resp.StatusCode)
	}

	return nil
}

// Handle forwards one normalized message and dispatches every reply the
// backend returns, in order, through the message's responder.
//
// Handle returns once processing including synchronous replies completes. A
// failed reply delivery is logged and the remaining replies are still
// attempted.
func (c *Client) Handle(ctx context.Context, message channel.UserMessage) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	startedAt := time.Now()
	c.log.Debug("backend request started", "sender_id", message.SenderID, "input_channel", message.InputChannel)

	replies, err := c.postMessage(ctx, message)
	if err != nil {
		c.log.Debug("backend request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return err
	}
	c.log.Debug("backend request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "replies", len(replies))

	if message.Output == nil {
		if len(replies) > 0 {
			return errors.New("backend returned replies but message has no output channel")
		}
		return nil
	}

	var firstErr error
	for _, item := range replies {
		if err := c.dispatch(ctx, message, item); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func (c *Client) postMessage(ctx context.Context, message channel.UserMessage) ([]reply, error) {
	body, err := json.Marshal(messageRequest{
		Sender:       message.SenderID,
		Message:      message.Text,
		InputChannel: message.InputChannel,
		Metadata:     message.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("encode backend request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create backend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(responseBody)))
	}

	var replies []reply
	if err := json.NewDecoder(resp.Body).Decode(&replies); err != nil {
		return nil, fmt.Errorf("decode backend response: %w", err)
	}

	return replies, nil
}

// dispatch sends one reply's parts through the responder. A reply may carry
// several parts; each is sent on its own.
func (c *Client) dispatch(ctx context.Context, message channel.UserMessage, item reply) error {
	recipientID := item.RecipientID
	if recipientID == "" {
		recipientID = message.SenderID
	}

	out := message.Output
	var firstErr error
	record := func(err error) {
		if err != nil {
			c.log.Error("Failed to deliver backend reply", "recipient_id", recipientID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	switch {
	case len(item.Buttons) > 0:
		record(out.SendButtons(ctx, recipientID, item.Text, item.Buttons))
	case item.Text != "":
		record(out.SendText(ctx, recipientID, item.Text))
	}

	if item.Image != "" {
		record(out.SendImage(ctx, recipientID, item.Image))
	}
	if len(item.Elements) > 0 {
		record(out.SendElements(ctx, recipientID, item.Elements))
	}
	if len(item.Custom) > 0 {
		record(out.SendCustom(ctx, recipientID, item.Custom))
	}

	return firstErr
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}
