package chattypes

import "time"

// MessageKind 定义了消息内容的类型。
type MessageKind string

const (
	TextMessageKind  MessageKind = "text"
	ImageMessageKind MessageKind = "image"
)

// Sender 是消息发送者的展示信息，随消息一起下发。
type Sender struct {
	ID          string `json:"_id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Message 定义了客户端与服务端之间交换的聊天消息结构。
// 字段命名与移动端约定的 JSON 形态保持一致。
type Message struct {
	ID             MessageID   `json:"_id"`
	ConversationID string      `json:"conversationId"`
	Sender         Sender      `json:"senderId"`
	Content        string      `json:"content"`
	Kind           MessageKind `json:"type"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// Valid 检查一条消息是否具备进入可见列表所需的字段。
// 不完整的条目在边界处被丢弃，而不是让整页数据失败。
func (m Message) Valid() bool {
	return !m.ID.IsZero() && m.ConversationID != "" && m.Sender.ID != "" && m.Kind != ""
}
