package botframework

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"botgate/pkg/channel"
)

type recordedActivity struct {
	path    string
	auth    string
	payload map[string]any
}

type sendFixture struct {
	server *httptest.Server

	mu         sync.Mutex
	activities []recordedActivity

	tokenStatus    int
	activityStatus int
}

func newSendFixture(t *testing.T) *sendFixture {
	t.Helper()

	fixture := &sendFixture{
		tokenStatus:    http.StatusOK,
		activityStatus: http.StatusOK,
	}

	fixture.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			w.WriteHeader(fixture.tokenStatus)
			_, _ = w.Write([]byte(`{"access_token": "tok-send", "expires_in": 3600}`))
			return
		}

		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode activity payload: %v", err)
		}

		fixture.mu.Lock()
		fixture.activities = append(fixture.activities, recordedActivity{
			path:    r.URL.Path,
			auth:    r.Header.Get("Authorization"),
			payload: payload,
		})
		fixture.mu.Unlock()

		w.WriteHeader(fixture.activityStatus)
		if fixture.activityStatus >= 400 {
			_, _ = w.Write([]byte(`{"error": {"message": "unknown conversation"}}`))
		}
	}))
	t.Cleanup(fixture.server.Close)

	return fixture
}

func (f *sendFixture) recorded() []recordedActivity {
	f.mu.Lock()
	defer f.mu.Unlock()

	activities := make([]recordedActivity, len(f.activities))
	copy(activities, f.activities)
	return activities
}

func (f *sendFixture) channel(t *testing.T) *Channel {
	t.Helper()

	tokens := NewTokenStore("app-1", "secret", nil)
	tokens.tokenURL = f.server.URL + "/token"
	tokens.client = f.server.Client()

	out := NewChannel(tokens, "conv-1", f.server.URL+"/", ChannelAccount{ID: "bot-1", Name: "gatebot"}, nil)
	out.client = f.server.Client()
	return out
}

func TestSendTextSplitsParagraphsInOrder(t *testing.T) {
	fixture := newSendFixture(t)
	out := fixture.channel(t)

	if err := out.SendText(context.Background(), "user-1", "a\n\nb\n\nc"); err != nil {
		t.Fatalf("SendText error: %v", err)
	}

	activities := fixture.recorded()
	if len(activities) != 3 {
		t.Fatalf("activities sent = %d, want 3", len(activities))
	}

	for i, want := range []string{"a", "b", "c"} {
		if got := activities[i].payload["text"]; got != want {
			t.Fatalf("activity %d text = %v, want %q", i, got, want)
		}
		if activities[i].path != "/v3/conversations/conv-1/activities" {
			t.Fatalf("activity %d path = %q", i, activities[i].path)
		}
		if activities[i].auth != "Bearer tok-send" {
			t.Fatalf("activity %d auth = %q, want bearer token", i, activities[i].auth)
		}
		if got := activities[i].payload["type"]; got != "message" {
			t.Fatalf("activity %d type = %v, want message", i, got)
		}
	}
}

func TestSendImageBuildsHeroCard(t *testing.T) {
	fixture := newSendFixture(t)
	out := fixture.channel(t)

	if err := out.SendImage(context.Background(), "user-1", "https://example.com/cat.png"); err != nil {
		t.Fatalf("SendImage error: %v", err)
	}

	activities := fixture.recorded()
	if len(activities) != 1 {
		t.Fatalf("activities sent = %d, want 1", len(activities))
	}

	attachments := activities[0].payload["attachments"].([]any)
	attachment := attachments[0].(map[string]any)
	if attachment["contentType"] != heroCardContentType {
		t.Fatalf("contentType = %v, want hero card", attachment["contentType"])
	}
	images := attachment["content"].(map[string]any)["images"].([]any)
	if got := images[0].(map[string]any)["url"]; got != "https://example.com/cat.png" {
		t.Fatalf("image url = %v", got)
	}
}

func TestSendButtonsCarriesSubtitleAndButtons(t *testing.T) {
	fixture := newSendFixture(t)
	out := fixture.channel(t)

	buttons := []channel.Button{
		{Type: "imBack", Title: "Yes", Value: "yes"},
		{Type: "imBack", Title: "No", Value: "no"},
	}
	if err := out.SendButtons(context.Background(), "user-1", "Proceed?", buttons); err != nil {
		t.Fatalf("SendButtons error: %v", err)
	}

	activities := fixture.recorded()
	if len(activities) != 1 {
		t.Fatalf("activities sent = %d, want 1", len(activities))
	}

	attachment := activities[0].payload["attachments"].([]any)[0].(map[string]any)
	content := attachment["content"].(map[string]any)
	if content["subtitle"] != "Proceed?" {
		t.Fatalf("subtitle = %v, want Proceed?", content["subtitle"])
	}
	sent := content["buttons"].([]any)
	if len(sent) != 2 {
		t.Fatalf("buttons = %d, want 2", len(sent))
	}
	first := sent[0].(map[string]any)
	if first["title"] != "Yes" || first["value"] != "yes" || first["type"] != "imBack" {
		t.Fatalf("button[0] = %v, want verbatim button", first)
	}
}

func TestSendElementsSendsEachInOrder(t *testing.T) {
	fixture := newSendFixture(t)
	out := fixture.channel(t)

	elements := []map[string]any{
		{"text": "first"},
		{"text": "second", "type": "typing"},
	}
	if err := out.SendElements(context.Background(), "user-1", elements); err != nil {
		t.Fatalf("SendElements error: %v", err)
	}

	activities := fixture.recorded()
	if len(activities) != 2 {
		t.Fatalf("activities sent = %d, want 2", len(activities))
	}
	if activities[0].payload["text"] != "first" || activities[1].payload["text"] != "second" {
		t.Fatalf("element texts = %v, %v", activities[0].payload["text"], activities[1].payload["text"])
	}
	// Element fields overlay the defaults.
	if activities[1].payload["type"] != "typing" {
		t.Fatalf("element type = %v, want typing", activities[1].payload["type"])
	}
	recipient := activities[0].payload["recipient"].(map[string]any)
	if recipient["id"] != "user-1" {
		t.Fatalf("recipient.id = %v, want user-1", recipient["id"])
	}
}

func TestSendCustomFillsOnlyAbsentFields(t *testing.T) {
	fixture := newSendFixture(t)
	out := fixture.channel(t)

	if err := out.SendCustom(context.Background(), "user-1", map[string]any{"text": "hi"}); err != nil {
		t.Fatalf("SendCustom error: %v", err)
	}

	activities := fixture.recorded()
	if len(activities) != 1 {
		t.Fatalf("activities sent = %d, want 1", len(activities))
	}

	payload := activities[0].payload
	if payload["text"] != "hi" {
		t.Fatalf("text = %v, want hi preserved", payload["text"])
	}
	if payload["type"] != "message" {
		t.Fatalf("type = %v, want message default", payload["type"])
	}
	if got := payload["recipient"].(map[string]any)["id"]; got != "user-1" {
		t.Fatalf("recipient.id = %v, want user-1", got)
	}
	if got := payload["from"].(map[string]any)["id"]; got != "bot-1" {
		t.Fatalf("from.id = %v, want bot-1", got)
	}
}

func TestSendDeliveryFailureReturnsError(t *testing.T) {
	fixture := newSendFixture(t)
	fixture.activityStatus = http.StatusBadRequest
	out := fixture.channel(t)

	if err := out.SendImage(context.Background(), "user-1", "https://example.com/x.png"); err == nil {
		t.Fatal("expected error for failed delivery")
	}
}

func TestSendAuthFailureShortCircuits(t *testing.T) {
	fixture := newSendFixture(t)
	fixture.tokenStatus = http.StatusUnauthorized
	out := fixture.channel(t)

	if err := out.SendText(context.Background(), "user-1", "hello"); err == nil {
		t.Fatal("expected error for auth failure")
	}
	if got := len(fixture.recorded()); got != 0 {
		t.Fatalf("activities sent = %d, want 0 after auth failure", got)
	}
}
