package domain

import (
	"context"
	"encoding/json"
)

// Publisher delivers a payload to whichever connection currently belongs to
// userID. Delivery is best-effort; implementations log transport errors.
type Publisher interface {
	Publish(ctx context.Context, userID string, payload any) error
}

// LocalDispatcher writes to a connection held by this process only.
type LocalDispatcher interface {
	DispatchLocal(userID string, data []byte) bool
}

// PushFrame is the message carried over the shared broker channel.
type PushFrame struct {
	UserID string          `json:"userId"`
	Data   json.RawMessage `json:"data"`
}

// UnreadPayload is the body of a count push.
type UnreadPayload struct {
	Unread int `json:"unread"`
}

// UnreadCount is the response body of the unread endpoint.
type UnreadCount struct {
	Count int `json:"count"`
}
