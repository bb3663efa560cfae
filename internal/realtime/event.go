package realtime

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Channel names the fan-out key a ChangeEvent is published on.
const (
	ChannelNewTask    = "new_task"
	ChannelNewMessage = "new_message"

	userChannelPrefix = "user:"
)

// ChangeEvent is an ephemeral, best-effort notification. Consumers re-read
// authoritative state instead of trusting the payload.
type ChangeEvent struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NodeChange is the payload of a node write, published on the user channel
// of everyone who can see the node.
type NodeChange struct {
	ID       uuid.UUID  `json:"id"`
	Op       string     `json:"op"`
	OwnerID  uuid.UUID  `json:"owner_id"`
	ParentID *uuid.UUID `json:"parent_id,omitempty"`
}

func NewEvent(channel string, payload any) (ChangeEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return ChangeEvent{}, err
	}
	return ChangeEvent{Channel: channel, Payload: raw}, nil
}

func UserChannel(userID uuid.UUID) string {
	return userChannelPrefix + userID.String()
}

// ChannelAllowed reports whether userID may subscribe to channel: the shared
// broadcast channels, or the caller's own user channel.
func ChannelAllowed(channel string, userID uuid.UUID) bool {
	channel = strings.TrimSpace(channel)
	switch channel {
	case ChannelNewTask, ChannelNewMessage:
		return true
	}
	if strings.HasPrefix(channel, userChannelPrefix) {
		return userID != uuid.Nil && channel == UserChannel(userID)
	}
	return false
}
