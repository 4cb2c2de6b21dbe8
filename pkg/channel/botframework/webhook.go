package botframework

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"botgate/pkg/channel"
	"botgate/pkg/config"
)

const (
	channelName        = "botframework"
	defaultWebhookHost = "0.0.0.0"
	defaultWebhookPort = 5005
)

// Adapter receives Bot Framework webhook activities and forwards message
// activities to the gateway handler.
//
// The webhook contract is always-acknowledge: every internal failure is
// logged and the HTTP caller still gets a success response, so Bot Framework
// never retries delivery.
type Adapter struct {
	cfg    config.BotFrameworkConfig
	tokens *TokenStore
	log    *slog.Logger
}

// inboundActivity is the subset of the Activity schema this channel reads.
type inboundActivity struct {
	Type         string           `json:"type"`
	Text         string           `json:"text"`
	Value        json.RawMessage  `json:"value"`
	Attachments  []map[string]any `json:"attachments"`
	Conversation ChannelAccount   `json:"conversation"`
	Recipient    ChannelAccount   `json:"recipient"`
	From         ChannelAccount   `json:"from"`
	ServiceURL   string           `json:"serviceUrl"`
}

// NewAdapter validates Bot Framework credentials and constructs an adapter.
func NewAdapter(cfg config.BotFrameworkConfig, log *slog.Logger) (*Adapter, error) {
	appID := strings.TrimSpace(cfg.AppID)
	appPassword := strings.TrimSpace(cfg.AppPassword)
	if appID == "" {
		return nil, errors.New("channels.botframework.app_id is required")
	}
	if appPassword == "" {
		return nil, errors.New("channels.botframework.app_password is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:    cfg,
		tokens: NewTokenStore(appID, appPassword, log),
		log:    log.With("component", "channel.botframework"),
	}, nil
}

// Name returns the channel identifier used in message metadata and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run serves the webhook until the context is canceled.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	host := strings.TrimSpace(a.cfg.Host)
	if host == "" {
		host = defaultWebhookHost
	}
	port := a.cfg.Port
	if port <= 0 {
		port = defaultWebhookPort
	}

	addr := host + ":" + strconv.Itoa(port)
	server := &http.Server{
		Addr:              addr,
		Handler:           a.routes(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	a.log.Info("Bot Framework channel started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start webhook server: %w", err)
	}

	return nil
}

func (a *Adapter) routes(handler channel.Handler) http.Handler {
	router := chi.NewRouter()
	router.Get("/", a.handleHealth)
	router.Post("/webhook", a.webhookHandler(handler))
	return router
}

func (a *Adapter) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status": "ok"}`))
}

// webhookHandler wraps activity processing in the always-acknowledge policy.
func (a *Adapter) webhookHandler(handler channel.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.processRequest(r.Context(), handler, r.Body)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	}
}

// processRequest handles one webhook body. Every failure path logs and
// returns; nothing propagates to the HTTP response.
func (a *Adapter) processRequest(ctx context.Context, handler channel.Handler, body io.Reader) {
	var activity inboundActivity
	if err := json.NewDecoder(body).Decode(&activity); err != nil {
		a.log.Error("Failed to decode inbound activity", "error", err)
		return
	}

	if activity.Type != "message" {
		a.log.Info("Ignoring non-message activity", "type", activity.Type)
		return
	}

	message, err := a.normalize(activity)
	if err != nil {
		a.log.Error("Failed to handle inbound activity", "error", err)
		return
	}

	a.log.Debug("Received message",
		"conversation_id", activity.Conversation.ID,
		"sender_id", message.SenderID,
		"attachments", len(activity.Attachments),
	)

	if err := handler(ctx, message); err != nil {
		a.log.Error("Failed to process inbound message", "sender_id", message.SenderID, "error", err)
	}
}

// normalize classifies one message activity into a UserMessage carrying a
// fresh outbound channel bound to the originating conversation.
//
// Classification priority is attachments, then text, then the card-submit
// value payload serialized as JSON.
func (a *Adapter) normalize(activity inboundActivity) (channel.UserMessage, error) {
	if activity.From.ID == "" {
		return channel.UserMessage{}, errors.New("activity is missing from.id")
	}

	message := channel.UserMessage{
		SenderID:     activity.From.ID,
		InputChannel: channelName,
		Output:       NewChannel(a.tokens, activity.Conversation.ID, activity.ServiceURL, activity.Recipient, a.log),
	}

	switch {
	case len(activity.Attachments) > 0:
		message.Text = activity.Text
		message.Metadata = map[string]any{"attachments": activity.Attachments}
	case activity.Text != "":
		message.Text = activity.Text
	case len(activity.Value) > 0:
		var compact bytes.Buffer
		if err := json.Compact(&compact, activity.Value); err != nil {
			return channel.UserMessage{}, fmt.Errorf("serialize activity value: %w", err)
		}
		message.Text = compact.String()
	default:
		return channel.UserMessage{}, errors.New("activity has no text, attachments, or value")
	}

	return message, nil
}
