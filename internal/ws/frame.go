package ws

import (
	"github.com/goccy/go-json"

	"chatsync/internal/models"
)

// Frame is one live-channel event. From is set by the server on relayed
// frames to the sender's verified user id.
type Frame struct {
	Event string          `json:"event"`
	From  string          `json:"from,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

func errorFrame(event, msg string) []byte {
	b, _ := encodeFrame(models.EventError, models.ErrorPayload{Event: event, Message: msg})
	return b
}

// relayed maps the client events forwarded to the rest of a chat room to the
// name they are delivered under.
var relayed = map[string]string{
	models.EventTyping:           models.EventUserTyping,
	models.EventStopTyping:       models.EventUserStopTyping,
	models.EventSendMessage:      models.EventReceiveMessage,
	models.EventMessageRead:      models.EventPeerRead,
	models.EventMessageDelivered: models.EventPeerDelivered,
	models.EventMessageLiked:     models.EventPeerLiked,
	models.EventMessageEdited:    models.EventPeerEdited,
	models.EventMessageDeleted:   models.EventPeerDeleted,
}
