package realtime

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"moments-go/internal/auth"
	"moments-go/internal/chattypes"
	"moments-go/internal/config"

	"github.com/gorilla/websocket"
)

// Handler 处理一个已解码的实时事件负载。
type Handler func(data json.RawMessage)

// 内部生命周期事件名。Off() 不带参数会把这些处理器一并清除，
// 之后调用方必须重新订阅生命周期处理。
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventError      = "error"
)

// Manager 维护进程内唯一的实时通道。
// 它由组合根显式构造并注入给需要它的组件，而不是包级全局变量，
// 既保留"每进程一条连接"的约束，又不把依赖藏起来。
//
// Go 是抢占式调度，连接句柄用互斥锁保护，
// 而不是依赖单线程协作调度下的标志位检查。
type Manager struct {
	endpoint string
	wsCfg    config.WebSocketConfig

	mu         sync.Mutex
	conn       *websocket.Conn
	connecting bool
	handlers   map[string]Handler

	// writeMu 串行化对底层连接的写入，gorilla 的连接不允许并发写。
	writeMu sync.Mutex
}

// NewManager 根据 REST 基础配置推导 WebSocket 端点并创建管理器。
func NewManager(apiCfg config.APIConfig, wsCfg config.WebSocketConfig) (*Manager, error) {
	endpoint, err := deriveEndpoint(apiCfg.BaseURL, apiCfg.PathSuffix, wsCfg.Path)
	if err != nil {
		return nil, err
	}
	return &Manager{
		endpoint: endpoint,
		wsCfg:    wsCfg,
		handlers: make(map[string]Handler),
	}, nil
}

// deriveEndpoint 从 REST 基础地址剥离 API 路径后缀，得到实时通道端点。
// 例如 http://host:8081/api + /ws -> ws://host:8081/ws。
func deriveEndpoint(baseURL, pathSuffix, wsPath string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("解析 REST 基础地址失败: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// 已经是 WebSocket 地址
	default:
		return "", fmt.Errorf("不支持的协议: %q", u.Scheme)
	}
	p := strings.TrimSuffix(u.Path, "/")
	if pathSuffix != "" {
		p = strings.TrimSuffix(p, pathSuffix)
	}
	u.Path = strings.TrimSuffix(p, "/") + wsPath
	u.RawQuery = ""
	return u.String(), nil
}

// Connect 建立实时通道。幂等：已连接或正在建立连接时直接返回，
// 不产生任何副作用。凭证通过握手请求的 Authorization 头带出
//（带外认证），而不是作为协议消息发送。
func (m *Manager) Connect(cred auth.Credential) error {
	m.mu.Lock()
	if m.conn != nil || m.connecting {
		m.mu.Unlock()
		return nil
	}
	m.connecting = true
	// 发起握手之前先装好基线生命周期处理器。
	m.installLifecycleHandlersLocked()
	m.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred.Token())

	dialer := websocket.Dialer{
		HandshakeTimeout: time.Duration(m.wsCfg.HandshakeTimeoutSeconds) * time.Second,
	}
	conn, resp, err := dialer.Dial(m.endpoint, header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}

	m.mu.Lock()
	m.connecting = false
	if err != nil {
		m.mu.Unlock()
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("实时通道认证失败: %w", err)
		}
		return fmt.Errorf("连接实时通道失败: %w", err)
	}
	m.conn = conn
	connectHandler := m.handlers[EventConnect]
	m.mu.Unlock()

	go m.readPump(conn)
	go m.pingLoop(conn)

	if connectHandler != nil {
		connectHandler(nil)
	}
	return nil
}

// installLifecycleHandlersLocked 安装默认的 open/close/error 处理器。
// 调用方已持有 m.mu。已被 On 覆盖过的事件不会被重置。
func (m *Manager) installLifecycleHandlersLocked() {
	if _, ok := m.handlers[EventConnect]; !ok {
		m.handlers[EventConnect] = func(json.RawMessage) {
			log.Println("实时通道已连接。")
		}
	}
	if _, ok := m.handlers[EventDisconnect]; !ok {
		m.handlers[EventDisconnect] = func(json.RawMessage) {
			log.Println("实时通道已断开。")
		}
	}
	if _, ok := m.handlers[EventError]; !ok {
		m.handlers[EventError] = func(data json.RawMessage) {
			log.Printf("实时通道错误: %s", data)
		}
	}
}

// Disconnect 移除所有事件处理器并关闭连接。
// 连接已关闭时是安全的空操作。
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.handlers = make(map[string]Handler)
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn == nil {
		return
	}
	m.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(m.writeWait()))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	m.writeMu.Unlock()
	conn.Close()
}

// IsConnected 报告当前是否存在活跃连接。
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// On 注册事件处理器。同名事件的旧处理器会被覆盖。
func (m *Manager) On(event string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = h
}

// Off 取消事件处理器。不带参数时移除全部处理器，
// 包括内部生命周期处理器，之后需要重新订阅生命周期处理。
func (m *Manager) Off(events ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(events) == 0 {
		m.handlers = make(map[string]Handler)
		return
	}
	for _, event := range events {
		delete(m.handlers, event)
	}
}

// JoinRoom 加入会话对应的房间。未连接时记录警告并返回，
// 不抛错也不排队等待。
func (m *Manager) JoinRoom(conversationID string) {
	m.emit(chattypes.EventJoinRoom, chattypes.RoomPayload{
		ConversationID: chattypes.RoomID(conversationID),
	})
}

// LeaveRoom 离开会话对应的房间。
func (m *Manager) LeaveRoom(conversationID string) {
	m.emit(chattypes.EventLeaveRoom, chattypes.RoomPayload{
		ConversationID: chattypes.RoomID(conversationID),
	})
}

// SendTypingStart 发送打字开始信号，不等待任何确认。
func (m *Manager) SendTypingStart(conversationID string) {
	m.emit(chattypes.EventTypingStart, chattypes.RoomPayload{
		ConversationID: chattypes.RoomID(conversationID),
	})
}

// SendTypingStop 发送打字停止信号，不等待任何确认。
func (m *Manager) SendTypingStop(conversationID string) {
	m.emit(chattypes.EventTypingStop, chattypes.RoomPayload{
		ConversationID: chattypes.RoomID(conversationID),
	})
}

// emit 把事件编码后写入连接。未连接时记录警告并丢弃。
func (m *Manager) emit(event string, payload interface{}) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		log.Printf("警告: 实时通道未连接，事件 %s 被丢弃。", event)
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("错误: 无法序列化事件 %s 的负载: %v", event, err)
		return
	}
	raw, err := json.Marshal(chattypes.WireEvent{Event: event, Data: data})
	if err != nil {
		log.Printf("错误: 无法序列化事件 %s: %v", event, err)
		return
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(m.writeWait()))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		log.Printf("发送事件 %s 失败: %v", event, err)
	}
}

// readPump 从连接读取事件并分发给注册的处理器。
func (m *Manager) readPump(conn *websocket.Conn) {
	defer m.teardown(conn)

	pongWait := time.Duration(m.wsCfg.PongWaitSeconds) * time.Second
	conn.SetReadLimit(int64(m.wsCfg.MaxMessageSizeBytes))
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if isAuthErrorMessage(err.Error()) {
				// 认证失败视为连接级致命错误：立即强制断开，
				// 由调用方携带新凭证重新 Connect，这里不做静默重试。
				log.Printf("实时通道认证失败，强制断开: %v", err)
				m.Disconnect()
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("实时通道读取错误: %v", err)
				m.dispatch(EventError, json.RawMessage(fmt.Sprintf("%q", err.Error())))
			}
			return
		}

		var evt chattypes.WireEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			log.Printf("警告: 丢弃无法解析的实时消息: %s", raw)
			continue
		}
		m.dispatch(evt.Event, evt.Data)
	}
}

// teardown 在读循环退出后清理连接状态。
// 只有当退出的连接仍是当前连接时才触发 disconnect 事件，
// 避免误伤同一管理器上新建立的连接。
func (m *Manager) teardown(conn *websocket.Conn) {
	conn.Close()

	m.mu.Lock()
	current := m.conn == conn
	if current {
		m.conn = nil
	}
	disconnectHandler := m.handlers[EventDisconnect]
	m.mu.Unlock()

	if current && disconnectHandler != nil {
		disconnectHandler(nil)
	}
}

// pingLoop 周期性发送 ping 保持连接活跃，连接关闭后自行退出。
func (m *Manager) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(time.Duration(m.wsCfg.PingPeriodSeconds) * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		m.mu.Lock()
		current := m.conn == conn
		m.mu.Unlock()
		if !current {
			return
		}
		m.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(m.writeWait()))
		err := conn.WriteMessage(websocket.PingMessage, nil)
		m.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// dispatch 把事件交给注册的处理器，未注册的事件直接忽略。
func (m *Manager) dispatch(event string, data json.RawMessage) {
	m.mu.Lock()
	handler := m.handlers[event]
	m.mu.Unlock()
	if handler != nil {
		handler(data)
	}
}

func (m *Manager) writeWait() time.Duration {
	return time.Duration(m.wsCfg.WriteWaitSeconds) * time.Second
}

// isAuthErrorMessage 通过错误文本判断认证失败。
// 这是对消息内容的启发式匹配而非结构化错误码：任何恰好包含
// "unauthorized" 字样的传输错误都会触发强制断开，存在误判风险。
// TODO: 服务端下发专用 close code 后改为按 websocket.CloseStatus 判断。
func isAuthErrorMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid token") ||
		strings.Contains(lower, "令牌无效")
}
