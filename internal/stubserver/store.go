package stubserver

import (
	"sync"

	"moments-go/internal/chattypes"
)

// MemoryStore 按会话保存消息，最新在前。
// 仅供开发桩服务器使用：进程退出即丢失，不承担持久化责任。
type MemoryStore struct {
	mu             sync.Mutex
	byConversation map[string][]chattypes.Message
}

// NewMemoryStore 创建一个空的内存消息存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byConversation: make(map[string][]chattypes.Message)}
}

// Append 追加一条新消息到会话头部（最新在前）。
func (s *MemoryStore) Append(msg chattypes.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byConversation[msg.ConversationID] = append(
		[]chattypes.Message{msg}, s.byConversation[msg.ConversationID]...)
}

// Page 返回某会话的一页消息及分页元数据，页码从 1 开始。
func (s *MemoryStore) Page(conversationID string, page, limit int) ([]chattypes.Message, chattypes.Pagination) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}

	all := s.byConversation[conversationID]
	total := len(all)
	totalPages := (total + limit - 1) / limit

	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	out := make([]chattypes.Message, end-start)
	copy(out, all[start:end])

	return out, chattypes.Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
	}
}
