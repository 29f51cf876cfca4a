package stubserver

import (
	"encoding/json"
	"log"

	"moments-go/internal/chattypes"
)

// membership 是客户端加入/离开房间的请求。
type membership struct {
	client *Client
	room   string
}

// roomEvent 是向某个房间广播的已编码事件。
// except 不为空时跳过该客户端（打字信号不回显给自己）。
type roomEvent struct {
	room    string
	payload []byte
	except  *Client
}

// Hub maintains the set of active clients and broadcasts events to the
// rooms they have joined.
type Hub struct {
	// Registered clients and the set of rooms each has joined.
	clients map[*Client]map[string]bool

	// Room id -> members.
	rooms map[string]map[*Client]bool

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Room membership changes from client read pumps.
	join  chan membership
	leave chan membership

	// Events aimed at a specific room.
	events chan roomEvent
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]map[string]bool),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan membership),
		leave:      make(chan membership),
		events:     make(chan roomEvent, 256),
	}
}

// BroadcastToRoom 把事件编码后投递给房间的全部成员。
// 非阻塞：events 通道已满时丢弃并记录警告，打字信号允许丢失。
func (h *Hub) BroadcastToRoom(room, event string, payload interface{}, except *Client) {
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
	select {
	case h.events <- roomEvent{room: room, payload: raw, except: except}:
	default:
		log.Printf("警告: Hub 事件通道已满，丢弃发往房间 %s 的 %s 事件。", room, event)
	}
}

// Join 把客户端加入房间（供读循环调用）。
func (h *Hub) Join(c *Client, room string) {
	h.join <- membership{client: c, room: room}
}

// Leave 把客户端移出房间（供读循环调用）。
func (h *Hub) Leave(c *Client, room string) {
	h.leave <- membership{client: c, room: room}
}

// Run starts the hub and listens for messages on its channels.
func (h *Hub) Run() {
	log.Println("WebSocket Hub Run loop started.")
	for {
		select {
		case client := <-h.register:
			h.clients[client] = make(map[string]bool)
			log.Printf("客户端已注册: UserID %s", client.UserID)

		case client := <-h.unregister:
			if rooms, ok := h.clients[client]; ok {
				for room := range rooms {
					h.removeFromRoom(client, room)
				}
				delete(h.clients, client)
				close(client.send)
				log.Printf("客户端已注销: UserID %s", client.UserID)
			}

		case m := <-h.join:
			if rooms, ok := h.clients[m.client]; ok {
				rooms[m.room] = true
				if h.rooms[m.room] == nil {
					h.rooms[m.room] = make(map[*Client]bool)
				}
				h.rooms[m.room][m.client] = true
				log.Printf("UserID %s 加入房间 %s", m.client.UserID, m.room)
			}

		case m := <-h.leave:
			if rooms, ok := h.clients[m.client]; ok {
				delete(rooms, m.room)
				h.removeFromRoom(m.client, m.room)
				log.Printf("UserID %s 离开房间 %s", m.client.UserID, m.room)
			}

		case evt := <-h.events:
			for client := range h.rooms[evt.room] {
				if client == evt.except {
					continue
				}
				select {
				case client.send <- evt.payload:
				default:
					// 发送缓冲已满，认为客户端过慢或已断开，移除它。
					log.Printf("警告: UserID %s 的发送通道已满，移除客户端。", client.UserID)
					for room := range h.clients[client] {
						h.removeFromRoom(client, room)
					}
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}

func (h *Hub) removeFromRoom(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}
