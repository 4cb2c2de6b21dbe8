package botframework

import "botgate/pkg/channel"

const heroCardContentType = "application/vnd.microsoft.card.hero"

// ChannelAccount identifies one party in a Bot Framework conversation.
type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Activity is the wire payload posted to the Bot Framework activities
// endpoint. One value is built fresh per send and never reused.
type Activity struct {
	Type        string         `json:"type"`
	Recipient   ChannelAccount `json:"recipient"`
	From        ChannelAccount `json:"from"`
	ChannelData ChannelData    `json:"channelData"`
	Text        string         `json:"text"`
	Attachments []Attachment   `json:"attachments,omitempty"`
}

// ChannelData carries channel-specific hints alongside an activity.
type ChannelData struct {
	Notification Notification `json:"notification"`
}

// Notification controls whether the activity alerts the recipient.
type Notification struct {
	Alert string `json:"alert"`
}

// Attachment wraps one rich card on an activity.
type Attachment struct {
	ContentType string   `json:"contentType"`
	Content     HeroCard `json:"content"`
}

// HeroCard is the card shape used for images and button prompts.
type HeroCard struct {
	Subtitle string           `json:"subtitle,omitempty"`
	Images   []CardImage      `json:"images,omitempty"`
	Buttons  []channel.Button `json:"buttons,omitempty"`
}

// CardImage references one image on a hero card.
type CardImage struct {
	URL string `json:"url"`
}

// fillDefaults merges the default activity fields into a caller-supplied
// payload without overwriting anything already present: type, recipient.id,
// from, channelData.notification.alert, and text.
//
// Nested values that exist but are not objects are left untouched.
func fillDefaults(payload map[string]any, recipientID string, bot ChannelAccount) map[string]any {
	if payload == nil {
		payload = make(map[string]any, 5)
	}

	setDefault(payload, "type", "message")

	if recipient := childObject(payload, "recipient"); recipient != nil {
		setDefault(recipient, "id", recipientID)
	}

	setDefault(payload, "from", accountObject(bot))

	if channelData := childObject(payload, "channelData"); channelData != nil {
		if notification := childObject(channelData, "notification"); notification != nil {
			setDefault(notification, "alert", "true")
		}
	}

	setDefault(payload, "text", "")

	return payload
}

func setDefault(object map[string]any, key string, value any) {
	if _, ok := object[key]; !ok {
		object[key] = value
	}
}

// childObject returns object[key] as a nested object, creating it when
// absent. A present non-object value yields nil so it is never clobbered.
func childObject(object map[string]any, key string) map[string]any {
	value, ok := object[key]
	if !ok {
		child := map[string]any{}
		object[key] = child
		return child
	}

	child, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	return child
}

func accountObject(account ChannelAccount) map[string]any {
	object := map[string]any{"id": account.ID}
	if account.Name != "" {
		object["name"] = account.Name
	}
	return object
}
