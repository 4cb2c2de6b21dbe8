package botframework

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	microsoftOAuth2URL  = "https://login.microsoftonline.com"
	microsoftOAuth2Path = "botframework.com/oauth2/v2.0/token"
	tokenScope          = "https://api.botframework.com/.default"
)

// TokenStore holds the OAuth2 bearer token shared by every outbound channel
// bound to one app identity.
//
// The token is refreshed lazily on first use after expiry. The mutex covers
// the whole check-then-refresh region, so concurrent senders observing an
// expired token trigger exactly one token-endpoint call.
type TokenStore struct {
	appID       string
	appPassword string
	tokenURL    string
	client      *http.Client
	log         *slog.Logger
	now         func() time.Time

	mu            sync.Mutex
	authorization string
	expiresAt     time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// NewTokenStore builds a token store for one Bot Framework app identity.
func NewTokenStore(appID, appPassword string, log *slog.Logger) *TokenStore {
	if log == nil {
		log = slog.Default()
	}

	return &TokenStore{
		appID:       appID,
		appPassword: appPassword,
		tokenURL:    microsoftOAuth2URL + "/" + microsoftOAuth2Path,
		client:      &http.Client{Timeout: requestTimeout},
		log:         log.With("component", "channel.botframework.tokens"),
		now:         time.Now,
	}
}

// Headers returns the header pair for authenticated Bot Framework calls,
// refreshing the cached token first when it has expired.
//
// A failed refresh returns an error; callers must not issue the send.
func (s *TokenStore) Headers(ctx context.Context) (http.Header, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.authorization == "" || !s.now().Before(s.expiresAt) {
		if err := s.refreshLocked(ctx); err != nil {
			return nil, err
		}
	}

	headers := make(http.Header, 2)
	headers.Set("Content-Type", "application/json")
	headers.Set("Authorization", s.authorization)
	return headers, nil
}

// refreshLocked performs the client-credentials exchange. Callers hold s.mu.
func (s *TokenStore) refreshLocked(ctx context.Context) error {
	form := url.Values{
		"client_id":     {s.appID},
		"client_secret": {s.appPassword},
		"grant_type":    {"client_credentials"},
		"scope":         {tokenScope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		s.log.Error("Could not get Bot Framework token", "status", resp.StatusCode, "response", strings.TrimSpace(string(body)))
		return fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return errors.New("token response missing access_token")
	}

	s.authorization = "Bearer " + token.AccessToken
	s.expiresAt = s.now().Add(time.Duration(token.ExpiresIn) * time.Second)
	s.log.Debug("Refreshed Bot Framework token", "expires_at", s.expiresAt.UTC().Format(time.RFC3339))

	return nil
}
