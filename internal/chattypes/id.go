package chattypes

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// provisionalIDPrefix 标记客户端本地生成的暂存消息 ID。
// 该前缀只存在于客户端内存与 UI 中，绝不会发送给服务端。
const provisionalIDPrefix = "local-"

// MessageID 区分本地暂存消息与服务端确认消息的标识。
// 显式携带 provisional 标记，使成员判断是类型层面的，
// 而不是散落在各处的字符串前缀检查。
type MessageID struct {
	value       string
	provisional bool
}

// NewProvisionalID 为一次本地发送生成全新的暂存 ID，不会重复使用。
func NewProvisionalID() MessageID {
	return MessageID{value: provisionalIDPrefix + uuid.New().String(), provisional: true}
}

// ConfirmedID 包装一个服务端分配的消息 ID。
func ConfirmedID(serverID string) MessageID {
	return MessageID{value: serverID}
}

// ParseID 从线上的字符串形式还原消息 ID。
func ParseID(raw string) MessageID {
	return MessageID{value: raw, provisional: strings.HasPrefix(raw, provisionalIDPrefix)}
}

// String 返回 ID 的字符串形式。
func (id MessageID) String() string { return id.value }

// IsProvisional 报告该 ID 是否属于尚未被服务端确认的暂存消息。
func (id MessageID) IsProvisional() bool { return id.provisional }

// IsZero 报告该 ID 是否为空。
func (id MessageID) IsZero() bool { return id.value == "" }

// MarshalJSON 以普通字符串形式编码。
func (id MessageID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

// UnmarshalJSON 从字符串形式解码并识别暂存前缀。
func (id *MessageID) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*id = ParseID(raw)
	return nil
}
