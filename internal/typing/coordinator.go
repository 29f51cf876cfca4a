package typing

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"moments-go/internal/chattypes"
	"moments-go/internal/config"
)

// Emitter 是协调器向实时通道发送打字信号所需的最小接口。
// realtime.Manager 实现了它。
type Emitter interface {
	SendTypingStart(conversationID string)
	SendTypingStop(conversationID string)
}

// Notifier 在对端打字状态变化时被调用，用于驱动 UI。
type Notifier func(userID string, typing bool)

// Coordinator 是单个打开会话的打字指示器状态机，
// 由两套相互独立的计时器组成：出站防抖与入站自动过期。
//
// 打字指示本质上是尽力而为且允许丢失的信号：防抖限制发送频率，
// 自动过期兜底 stop 信号丢失后残留的"正在输入"状态。
//
// 本模型沿用"最后一个信号生效"的单人打字语义，同一会话同一时刻
// 只展示一个正在打字的对端；群聊多人同时打字的展示不在当前契约内。
type Coordinator struct {
	emitter        Emitter
	notifier       Notifier
	conversationID string
	selfUserID     string
	cfg            config.TypingConfig

	mu          sync.Mutex
	closed      bool
	lastStartAt time.Time

	stopTimer *time.Timer
	stopGen   int

	expiryTimer *time.Timer
	expiryGen   int

	peerID     string
	peerTyping bool
}

// NewCoordinator 为一个刚打开的会话创建打字协调器。
// 会话关闭时必须调用 Close，否则计时器会泄漏到下一个会话。
func NewCoordinator(emitter Emitter, conversationID, selfUserID string, cfg config.TypingConfig, notifier Notifier) *Coordinator {
	return &Coordinator{
		emitter:        emitter,
		notifier:       notifier,
		conversationID: conversationID,
		selfUserID:     strings.TrimSpace(selfUserID),
		cfg:            cfg,
	}
}

// InputChanged 在输入框内容变化（按键）时调用。
//
// 距上次 typing_start 超过防抖间隔时重新发送 start；
// 无论是否发送 start，都以最新一次按键为基准重排 stop 计时器。
// 输入被清空时立即发送 stop 并重置防抖时钟，
// 使下一次按键立刻触发新的 start。
func (c *Coordinator) InputChanged(text string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	if strings.TrimSpace(text) == "" {
		c.cancelStopLocked()
		c.lastStartAt = time.Time{}
		c.mu.Unlock()
		c.emitter.SendTypingStop(c.conversationID)
		return
	}

	now := time.Now()
	emitStart := now.Sub(c.lastStartAt) >= c.cfg.Debounce()
	if emitStart {
		c.lastStartAt = now
	}
	c.scheduleStopLocked()
	c.mu.Unlock()

	if emitStart {
		c.emitter.SendTypingStart(c.conversationID)
	}
}

// HandleTypingEvent 处理入站的 user_typing 事件。
// 入站房间标识可能带有传输层前缀，比较前先归一化；
// 自己的回声与其他会话的信号一律忽略。
func (c *Coordinator) HandleTypingEvent(data json.RawMessage) {
	var p chattypes.TypingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("警告: 丢弃无法解析的打字事件: %v", err)
		return
	}

	if chattypes.BareConversationID(strings.TrimSpace(p.ConversationID)) != c.conversationID {
		return
	}
	userID := strings.TrimSpace(p.UserID)
	if userID == "" || userID == c.selfUserID {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if p.IsTyping {
		c.peerID = userID
		c.peerTyping = true
		c.scheduleExpiryLocked()
	} else {
		c.cancelExpiryLocked()
		c.peerID = ""
		c.peerTyping = false
	}
	notifier := c.notifier
	c.mu.Unlock()

	if notifier != nil {
		notifier(userID, p.IsTyping)
	}
}

// PeerTyping 返回当前被标记为正在打字的对端（若有）。
func (c *Coordinator) PeerTyping() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID, c.peerTyping
}

// Close 取消所有计时器并冻结状态机。会话关闭时必须调用，
// 防止计时器泄漏或串到下一个会话。
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cancelStopLocked()
	c.cancelExpiryLocked()
	c.peerID = ""
	c.peerTyping = false
}

// scheduleStopLocked 以最新一次按键为基准重排 typing_stop 计时器，
// 取消之前排定的 stop（计时器上"最后写入生效"）。
func (c *Coordinator) scheduleStopLocked() {
	c.cancelStopLocked()
	gen := c.stopGen
	c.stopTimer = time.AfterFunc(c.cfg.StopDelay(), func() {
		c.mu.Lock()
		if c.closed || gen != c.stopGen {
			c.mu.Unlock()
			return
		}
		c.stopTimer = nil
		c.mu.Unlock()
		c.emitter.SendTypingStop(c.conversationID)
	})
}

func (c *Coordinator) cancelStopLocked() {
	c.stopGen++
	if c.stopTimer != nil {
		c.stopTimer.Stop()
		c.stopTimer = nil
	}
}

// scheduleExpiryLocked 重排入站打字标记的自动清除计时器。
func (c *Coordinator) scheduleExpiryLocked() {
	c.cancelExpiryLocked()
	gen := c.expiryGen
	c.expiryTimer = time.AfterFunc(c.cfg.Expiry(), func() {
		c.mu.Lock()
		if c.closed || gen != c.expiryGen {
			c.mu.Unlock()
			return
		}
		c.expiryTimer = nil
		userID := c.peerID
		c.peerID = ""
		c.peerTyping = false
		notifier := c.notifier
		c.mu.Unlock()

		if notifier != nil {
			notifier(userID, false)
		}
	})
}

func (c *Coordinator) cancelExpiryLocked() {
	c.expiryGen++
	if c.expiryTimer != nil {
		c.expiryTimer.Stop()
		c.expiryTimer = nil
	}
}
