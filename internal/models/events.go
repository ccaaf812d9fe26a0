package models

import "time"

// Live channel event names.
const (
	EventJoin             = "join"
	EventJoinChat         = "join-chat"
	EventLeaveChat        = "leave-chat"
	EventTyping           = "typing"
	EventStopTyping       = "stop-typing"
	EventSendMessage      = "send-message"
	EventMessageCreated   = "message-created"
	EventMessageEdited    = "message-edited"
	EventMessageDeleted   = "message-deleted"
	EventMessageLiked     = "message-liked"
	EventMessageRead      = "message-read"
	EventMessageDelivered = "message-delivered"
	EventOnlineUsers      = "online-users"
	EventUserOnline       = "user-online"
	EventUserOffline      = "user-offline"
	EventError            = "error"
)

// Names under which client frames are relayed to the rest of a room. They
// never collide with the events the server emits for stored changes.
const (
	EventUserTyping     = "user-typing"
	EventUserStopTyping = "user-stop-typing"
	EventReceiveMessage = "receive-message"
	EventPeerRead       = "peer-message-read"
	EventPeerDelivered  = "peer-message-delivered"
	EventPeerLiked      = "peer-message-liked"
	EventPeerEdited     = "peer-message-edited"
	EventPeerDeleted    = "peer-message-deleted"
)

type MessageCreatedPayload struct {
	Message Message `json:"message"`
}

type MessageEditedPayload struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
	Content   string `json:"content"`
	Edited    bool   `json:"edited"`
}

type MessageDeletedPayload struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
}

type MessageLikedPayload struct {
	MessageID string   `json:"message_id"`
	ChatID    string   `json:"chat_id"`
	Likes     []string `json:"likes"`
}

type MessageReadPayload struct {
	MessageID string    `json:"message_id"`
	ChatID    string    `json:"chat_id"`
	UserID    string    `json:"user_id"`
	ReadBy    []Receipt `json:"read_by"`
}

type MessageDeliveredPayload struct {
	MessageID   string    `json:"message_id"`
	ChatID      string    `json:"chat_id"`
	DeliveredTo []Receipt `json:"delivered_to"`
}

type TypingPayload struct {
	ChatID   string `json:"chat_id"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
}

type JoinPayload struct {
	UserID string `json:"user_id"`
}

type JoinChatPayload struct {
	ChatID string `json:"chat_id"`
}

type OnlineUsersPayload struct {
	UserIDs []string `json:"user_ids"`
}

type UserOnlinePayload struct {
	UserID string `json:"user_id"`
}

type UserOfflinePayload struct {
	UserID   string    `json:"user_id"`
	LastSeen time.Time `json:"last_seen"`
}

type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}
