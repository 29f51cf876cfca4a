package chattypes

import (
	"encoding/json"
	"strings"
)

// WebSocket 事件名，与移动端约定的实时协议保持一致。
const (
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"
	EventNewMessage  = "new_message"
	EventUserTyping  = "user_typing"
)

// roomPrefix 是服务端广播域（房间）标识的规范前缀。
const roomPrefix = "conversation:"

// RoomID 由会话 ID 推导出规范的房间标识。
// 已带前缀的输入原样返回，重复调用不会产生双重前缀。
func RoomID(conversationID string) string {
	if strings.HasPrefix(conversationID, roomPrefix) {
		return conversationID
	}
	return roomPrefix + conversationID
}

// BareConversationID 去掉传输层附加的房间前缀，得到裸会话 ID。
// 入站事件在与本地跟踪的会话比较前必须先经过这里。
func BareConversationID(roomID string) string {
	return strings.TrimPrefix(roomID, roomPrefix)
}

// WireEvent 是 WebSocket 上传输的统一事件信封。
type WireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomPayload 是 join_room / leave_room / typing_start / typing_stop
// 事件的负载，conversationId 携带规范房间标识。
type RoomPayload struct {
	ConversationID string `json:"conversationId"`
}

// TypingPayload 是 user_typing 事件的负载。
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// NewMessagePayload 是 new_message 事件的负载。
type NewMessagePayload struct {
	Message Message `json:"message"`
}
