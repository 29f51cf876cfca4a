package stubserver

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"moments-go/internal/auth"
	"moments-go/internal/chattypes"
	"moments-go/internal/config"

	"github.com/gorilla/websocket"
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	// Authenticated user for this client.
	UserID   string
	Username string
}

// readPump pumps events from the websocket connection to the hub.
func (c *Client) readPump(wsCfg config.WebSocketConfig) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	pongWait := time.Duration(wsCfg.PongWaitSeconds) * time.Second
	c.conn.SetReadLimit(int64(wsCfg.MaxMessageSizeBytes))
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket 读取错误 (客户端: %s): %v", c.UserID, err)
			}
			break
		}
		if messageType != websocket.TextMessage {
			log.Printf("警告: 客户端 %s 发送了非文本消息类型: %d", c.UserID, messageType)
			continue
		}

		var evt chattypes.WireEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			log.Printf("错误: 无法反序列化来自客户端 %s 的事件: %v, 原始消息: %s", c.UserID, err, raw)
			continue
		}
		c.handleEvent(evt)
	}
}

// handleEvent 处理一条入站协议事件。
func (c *Client) handleEvent(evt chattypes.WireEvent) {
	var payload chattypes.RoomPayload
	if err := json.Unmarshal(evt.Data, &payload); err != nil {
		log.Printf("错误: 客户端 %s 的 %s 事件负载无效: %v", c.UserID, evt.Event, err)
		return
	}
	conversationID := strings.TrimSpace(payload.ConversationID)
	if conversationID == "" {
		return
	}
	// 客户端可能发来裸会话 ID 或已带前缀的房间标识，统一归一化。
	room := chattypes.RoomID(conversationID)

	switch evt.Event {
	case chattypes.EventJoinRoom:
		c.hub.Join(c, room)
	case chattypes.EventLeaveRoom:
		c.hub.Leave(c, room)
	case chattypes.EventTypingStart, chattypes.EventTypingStop:
		// 打字信号不回显给发送者本人。
		c.hub.BroadcastToRoom(room, chattypes.EventUserTyping, chattypes.TypingPayload{
			ConversationID: room,
			UserID:         c.UserID,
			IsTyping:       evt.Event == chattypes.EventTypingStart,
		}, c)
	default:
		log.Printf("收到未知类型的事件: %s", evt.Event)
	}
}

// writePump pumps events from the hub to the websocket connection.
func (c *Client) writePump(wsCfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(wsCfg.PingPeriodSeconds) * time.Second)
	writeWait := time.Duration(wsCfg.WriteWaitSeconds) * time.Second
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS 处理 /ws 升级请求：验证 Bearer 令牌后注册客户端并启动读写泵。
func ServeWS(hub *Hub, authCfg config.AuthConfig, wsCfg config.WebSocketConfig) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := bearerClaims(r, authCfg.JWTSecretKey)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("ServeWS - Upgrade失败:", err)
			return
		}
		client := &Client{
			hub:      hub,
			conn:     conn,
			send:     make(chan []byte, 256),
			UserID:   claims.UserID,
			Username: claims.Username,
		}
		client.hub.register <- client

		go client.writePump(wsCfg)
		go client.readPump(wsCfg)

		log.Printf("客户端已连接: UserID %s", claims.UserID)
	}
}

// bearerClaims 从握手请求中提取并校验 Bearer 令牌。
func bearerClaims(r *http.Request, jwtKey string) (*auth.Claims, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, errMissingToken
	}
	return auth.ValidateToken(strings.TrimSpace(parts[1]), jwtKey)
}
