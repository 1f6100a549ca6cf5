package ws

import (
	"github.com/chatify/internal/model"
)

type EventType string

// Входящие операции клиента.
const (
	OpSubscribe         EventType = "subscribe"
	OpUnsubscribe       EventType = "unsubscribe"
	OpSend              EventType = "send"
	OpTyping            EventType = "typing"
	OpTypingStop        EventType = "typing_stop"
	OpMarkRead          EventType = "mark_read"
	OpToggleReaction    EventType = "toggle_reaction"
	OpHideForMe         EventType = "hide_for_me"
	OpDeleteForEveryone EventType = "delete_for_everyone"
)

// Исходящие события подписки.
const (
	EventSubscribed      EventType = "subscribed"
	EventMessageAppended EventType = "message_appended"
	EventReactionChanged EventType = "reaction_changed"
	EventMessageDeleted  EventType = "message_deleted"
	EventMessageHidden   EventType = "message_hidden"
	EventChannelDeleted  EventType = "channel_deleted"
	EventTyping          EventType = "typing"
	EventUnreadCount     EventType = "unread_count"
	EventError           EventType = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type      EventType `json:"type"`
	ChannelID string    `json:"channel_id,omitempty"`

	// For subscribe: resume position (0 = full backlog).
	FromSeq int64 `json:"from_seq,omitempty"`

	// For send
	Body       string            `json:"body,omitempty"`
	Attachment *model.Attachment `json:"attachment,omitempty"`

	// For mark_read: последняя видимая клиентом позиция.
	Seq int64 `json:"seq,omitempty"`

	// For reactions / hide / delete
	MessageID string `json:"message_id,omitempty"`
	Emoji     string `json:"emoji,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// SubscribedPayload подтверждает окончание бэклога: дальше идут живые события.
type SubscribedPayload struct {
	ChannelID string `json:"channel_id"`
	LastSeq   int64  `json:"last_seq"`
}

// ReactionChangedPayload is broadcast after a reaction toggle with the full
// updated map (a session applies it wholesale, no diffing).
type ReactionChangedPayload struct {
	ChannelID string            `json:"channel_id"`
	MessageID string            `json:"message_id"`
	Seq       int64             `json:"seq"`
	Reactions model.ReactionMap `json:"reactions"`
}

// MessageDeletedPayload is broadcast when a message is deleted for everyone.
type MessageDeletedPayload struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	Seq       int64  `json:"seq"`
	DeletedBy string `json:"deleted_by"`
}

// MessageHiddenPayload отправляется только сессиям скрывшего пользователя:
// все его вкладки должны согласованно убрать сообщение.
type MessageHiddenPayload struct {
	MessageID string `json:"message_id"`
}

// ChannelDeletedPayload — терминальное событие подписки: канала больше нет.
type ChannelDeletedPayload struct {
	ChannelID string `json:"channel_id"`
}

// TypingPayload is broadcast on heartbeat and on explicit stop.
type TypingPayload struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	Stopped   bool   `json:"stopped,omitempty"`
}

// UnreadCountPayload — реактивный пересчёт бейджа (append или mark_read).
type UnreadCountPayload struct {
	ChannelID string `json:"channel_id"`
	Count     int    `json:"count"`
}
