package channel

import "context"

// UserMessage is the normalized inbound message handed to the backend.
//
// It is built once per inbound transport event and carries the Responder
// bound to the originating conversation so replies land where the message
// came from.
type UserMessage struct {
	Text         string
	SenderID     string
	Metadata     map[string]any
	InputChannel string
	Output       Responder
}

// Button is one pressable option attached to an outbound message.
type Button struct {
	Type  string `json:"type,omitempty"`
	Title string `json:"title"`
	Value any    `json:"value,omitempty"`
	// Payload is the backend-side button payload; transports without a
	// native value field fall back to it.
	Payload string `json:"payload,omitempty"`
}

// Responder delivers replies into the conversation a UserMessage came from.
//
// Implementations are bound to one conversation and are not shared across
// inbound messages. Delivery failures are logged by the implementation and
// returned; callers decide whether to keep going.
type Responder interface {
	SendText(ctx context.Context, recipientID, text string) error
	SendImage(ctx context.Context, recipientID, imageURL string) error
	SendButtons(ctx context.Context, recipientID, text string, buttons []Button) error
	SendElements(ctx context.Context, recipientID string, elements []map[string]any) error
	SendCustom(ctx context.Context, recipientID string, payload map[string]any) error
}

// Handler processes one normalized inbound message, including any replies it
// pushes through the message's Responder, and returns once processing is done.
type Handler func(context.Context, UserMessage) error

// Adapter bridges one external transport (for example Bot Framework) into the gateway.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
}
