package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"moments-go/internal/chattypes"
)

// MessageAPI 定义了引擎消费的 REST 操作。
// api.Client 实现了它；测试中用受控的假实现替换。
type MessageAPI interface {
	// Messages 获取某会话的一页消息。
	Messages(ctx context.Context, conversationID string, page, limit int) (*chattypes.MessagePage, error)
	// SendText 发送文本消息，返回服务端确认后的消息。
	SendText(ctx context.Context, conversationID, content string) (*chattypes.Message, error)
	// SendImage 上传并发送图片消息，返回服务端确认后的消息。
	SendImage(ctx context.Context, conversationID, imagePath string) (*chattypes.Message, error)
}

// Engine 为打开的会话维护一份一致、去重、按时间倒序的消息序列，
// 归并四个并发输入源：首屏拉取、分页回填、乐观发送、实时推送。
//
// 列表不变式：任何可观察时刻都保持"最新在前"；回填的旧消息只追加
// 到尾部；同一次发送的 REST 确认与实时回声竞争，最终恰好收敛为
// 一条携带确认 ID 的消息——不会是零条，也不会是两条。
//
// 同一会话的全部变更由互斥锁串行化（原模型依赖单线程事件循环，
// Go 下用锁实现同等的顺序性）；竞态靠基于 ID 存在性的幂等检查
// 收敛，而不是靠加锁区分先后。
type Engine struct {
	api      MessageAPI
	self     chattypes.Sender
	pageSize int

	mu             sync.Mutex
	conversationID string
	messages       []chattypes.Message // 最新在前
	page           int
	hasMore        bool
	loading        bool
	backfilling    bool
	sending        bool
}

// NewEngine 创建消息同步引擎。self 是当前登录用户的展示信息，
// 用于合成暂存消息的发送者字段。
func NewEngine(api MessageAPI, self chattypes.Sender, pageSize int) *Engine {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Engine{api: api, self: self, pageSize: pageSize}
}

// Open 绑定一个会话并重置全部会话态。
func (e *Engine) Open(conversationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conversationID = conversationID
	e.messages = nil
	e.page = 0
	e.hasMore = false
	e.loading = false
	e.backfilling = false
	e.sending = false
}

// Close 丢弃当前会话的全部内存状态。
func (e *Engine) Close() {
	e.Open("")
}

// Messages 返回当前消息序列的副本，最新在前。
func (e *Engine) Messages() []chattypes.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]chattypes.Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// HasMore 报告是否还有更早的页可以回填。
func (e *Engine) HasMore() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasMore
}

// LoadInitial 拉取第一页并用其替换整个列表。
// 失败时列表保持为空并返回错误，由调用方决定是否重试，
// 引擎不做自动重试。
func (e *Engine) LoadInitial(ctx context.Context) error {
	e.mu.Lock()
	conv := e.conversationID
	if conv == "" || e.loading {
		e.mu.Unlock()
		return nil
	}
	e.loading = true
	e.mu.Unlock()

	pageData, err := e.api.Messages(ctx, conv, 1, e.pageSize)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.loading = false
	if e.conversationID != conv {
		// 等待期间会话已切换，丢弃结果。
		return nil
	}
	if err != nil {
		e.messages = nil
		log.Printf("首屏消息拉取失败 (会话 %s): %v", conv, err)
		return fmt.Errorf("首屏消息拉取失败: %w", err)
	}

	msgs := make([]chattypes.Message, 0, len(pageData.Messages))
	for _, m := range pageData.Messages {
		if !m.Valid() {
			log.Printf("警告: 丢弃缺少必要字段的消息 (会话 %s)", conv)
			continue
		}
		msgs = append(msgs, m)
	}
	sortNewestFirst(msgs)
	e.messages = msgs
	e.page = pageData.Pagination.Page
	if e.page == 0 {
		e.page = 1
	}
	e.hasMore = pageData.Pagination.HasMore()
	return nil
}

// LoadOlder 回填下一页更早的消息，追加到列表尾部。
// 没有更多页、回填已在途或没有打开的会话时为空操作。
// 不完整的条目被静默丢弃，不会让整页失败。
func (e *Engine) LoadOlder(ctx context.Context) error {
	e.mu.Lock()
	conv := e.conversationID
	if conv == "" || !e.hasMore || e.backfilling {
		e.mu.Unlock()
		return nil
	}
	e.backfilling = true
	next := e.page + 1
	e.mu.Unlock()

	pageData, err := e.api.Messages(ctx, conv, next, e.pageSize)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.backfilling = false
	if e.conversationID != conv {
		return nil
	}
	if err != nil {
		log.Printf("回填第 %d 页失败 (会话 %s): %v", next, conv, err)
		return fmt.Errorf("回填消息失败: %w", err)
	}

	older := make([]chattypes.Message, 0, len(pageData.Messages))
	for _, m := range pageData.Messages {
		if !m.Valid() {
			log.Printf("警告: 回填时丢弃缺少必要字段的消息 (会话 %s)", conv)
			continue
		}
		if e.indexOfLocked(m.ID) >= 0 {
			// 新消息把分页边界往后推时同一条可能出现在两页里。
			continue
		}
		older = append(older, m)
	}
	sortNewestFirst(older)
	e.messages = append(e.messages, older...)
	e.page = next
	e.hasMore = pageData.Pagination.HasMore()
	return nil
}

// SendText 乐观发送一条文本消息：先以暂存 ID 插入列表头部，
// 再发起 REST 调用，按响应或竞争到达的实时回声完成对账。
// 内容为空白、已有发送在途或没有打开的会话时为空操作。
// 失败时暂存条目被整体回滚，错误原样抛给调用方。
func (e *Engine) SendText(ctx context.Context, content string) error {
	trimmed := strings.TrimSpace(content)
	return e.send(ctx, trimmed, chattypes.TextMessageKind, func(ctx context.Context, conv string) (*chattypes.Message, error) {
		return e.api.SendText(ctx, conv, trimmed)
	})
}

// SendImage 乐观发送一条图片消息。暂存阶段 content 是本地文件引用，
// 确认后的消息里才是远端 URL；上传本身委托给外部协作者。
func (e *Engine) SendImage(ctx context.Context, imagePath string) error {
	imagePath = strings.TrimSpace(imagePath)
	return e.send(ctx, imagePath, chattypes.ImageMessageKind, func(ctx context.Context, conv string) (*chattypes.Message, error) {
		return e.api.SendImage(ctx, conv, imagePath)
	})
}

func (e *Engine) send(ctx context.Context, content string, kind chattypes.MessageKind, call func(context.Context, string) (*chattypes.Message, error)) error {
	e.mu.Lock()
	conv := e.conversationID
	if conv == "" || content == "" || e.sending {
		e.mu.Unlock()
		return nil
	}
	e.sending = true

	now := time.Now()
	provisional := chattypes.Message{
		ID:             chattypes.NewProvisionalID(),
		ConversationID: conv,
		Sender:         e.self,
		Content:        content,
		Kind:           kind,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	// 网络往返之前 UI 就能看到这条消息。
	e.messages = append([]chattypes.Message{provisional}, e.messages...)
	e.mu.Unlock()

	confirmed, err := call(ctx, conv)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.sending = false
	if e.conversationID != conv {
		// 等待期间会话已切换，暂存条目随会话态一起被丢弃。
		if err != nil {
			return fmt.Errorf("发送消息失败: %w", err)
		}
		return nil
	}

	if err != nil {
		// 回滚：失败之后绝不留下孤儿暂存条目。
		e.removeLocked(provisional.ID)
		return fmt.Errorf("发送消息失败: %w", err)
	}

	if idx := e.indexOfLocked(confirmed.ID); idx >= 0 {
		// 实时回声抢先到达并已插入确认消息，这里只清理暂存条目。
		e.removeLocked(provisional.ID)
		return nil
	}
	if idx := e.indexOfLocked(provisional.ID); idx >= 0 {
		// 原位替换，保持列表位置不变。
		e.messages[idx] = *confirmed
		return nil
	}
	// 暂存条目已被回声路径清理但确认消息尚未在列表中，补插到头部。
	e.messages = append([]chattypes.Message{*confirmed}, e.messages...)
	return nil
}

// HandleIncoming 处理实时通道推来的 new_message 事件。
//
// 对账规则：缺少 ID 的消息直接丢弃；存在等价的暂存条目
//（同会话、同发送者、去除首尾空白后内容相同、且 ID 带暂存标记）
// 时先移除它；确认 ID 已在列表中（重复推送）则不再变更；
// 否则把确认消息插入头部。重复与竞态是预期情形，永不报错。
func (e *Engine) HandleIncoming(data json.RawMessage) {
	msg, ok := chattypes.ExtractMessage(data)
	if !ok {
		log.Printf("警告: 丢弃缺少 ID 的实时消息。")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conversationID == "" || msg.ConversationID != e.conversationID {
		return
	}

	trimmed := strings.TrimSpace(msg.Content)
	for i, m := range e.messages {
		if m.ID.IsProvisional() &&
			m.ConversationID == msg.ConversationID &&
			m.Sender.ID == msg.Sender.ID &&
			strings.TrimSpace(m.Content) == trimmed {
			// 这次发送的乐观条目：发送路径稍后会发现服务端已确认，
			// 跳过重复插入，这里只负责移除。
			e.messages = append(e.messages[:i], e.messages[i+1:]...)
			break
		}
	}

	if e.indexOfLocked(msg.ID) >= 0 {
		return
	}
	e.messages = append([]chattypes.Message{msg}, e.messages...)
}

// indexOfLocked 返回指定 ID 在列表中的下标，不存在时为 -1。
// 调用方必须持有 e.mu。
func (e *Engine) indexOfLocked(id chattypes.MessageID) int {
	for i, m := range e.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// removeLocked 按 ID 移除一条消息（若存在）。调用方必须持有 e.mu。
func (e *Engine) removeLocked(id chattypes.MessageID) {
	if idx := e.indexOfLocked(id); idx >= 0 {
		e.messages = append(e.messages[:idx], e.messages[idx+1:]...)
	}
}

// sortNewestFirst 按创建时间倒序稳定排序。
func sortNewestFirst(msgs []chattypes.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
	})
}
