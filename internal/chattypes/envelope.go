package chattypes

import "encoding/json"

// Envelope 是 REST 接口统一的响应包装。
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Pagination 是消息分页接口返回的游标元数据。
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// HasMore 报告在当前页之后是否还有更早的页。
func (p Pagination) HasMore() bool {
	return p.Page < p.TotalPages
}

// MessagePage 是 GET /chat/conversations/:id/messages 的 data 负载。
type MessagePage struct {
	Messages   []Message  `json:"messages"`
	Pagination Pagination `json:"pagination"`
}

// ExtractMessage 从发送接口的 data 负载中取出确认后的消息。
// 服务端存在两种响应形态：data 直接是消息对象，或者消息包裹在
// message 字段下。这里把两种形态的歧义收敛到一个边界函数，
// 返回 (消息, true) 或 (零值, false)，调用方不再各自重复判断。
func ExtractMessage(data json.RawMessage) (Message, bool) {
	if len(data) == 0 {
		return Message{}, false
	}
	var wrapped struct {
		Message *Message `json:"message"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Message != nil && !wrapped.Message.ID.IsZero() {
		return *wrapped.Message, true
	}
	var direct Message
	if err := json.Unmarshal(data, &direct); err == nil && !direct.ID.IsZero() {
		return direct, true
	}
	return Message{}, false
}
