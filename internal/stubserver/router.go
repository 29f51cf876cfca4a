package stubserver

import (
	"net/http"

	"moments-go/internal/config"
	"moments-go/internal/media"
	"moments-go/internal/middleware"

	"github.com/gorilla/mux"
)

// NewRouter 组装桩服务器的全部路由：
// 受认证保护的聊天 REST 接口、WebSocket 升级端点、
// 开发令牌签发和上传文件的静态访问。
func NewRouter(store *MemoryStore, hub *Hub, uploader media.Uploader, cfg config.Config) *mux.Router {
	chatHandler := NewChatHandler(store, hub, uploader, cfg)

	r := mux.NewRouter()

	// 开发令牌签发（不需要认证）
	r.HandleFunc("/auth/dev-token", DevTokenHandler(cfg.Auth)).Methods(http.MethodPost)

	// 聊天 REST 接口（需要认证）
	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.Use(middleware.AuthMiddleware(cfg.Auth))
	apiRouter.HandleFunc("/chat/conversations/{conversationID}/messages",
		chatHandler.GetConversationMessagesHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/chat/messages",
		chatHandler.SendMessageHandler).Methods(http.MethodPost)

	// WebSocket 端点（握手时自行校验令牌）
	r.HandleFunc("/ws", ServeWS(hub, cfg.Auth, cfg.WebSocket))

	// 静态文件服务路由 - 用于访问上传的图片
	r.PathPrefix("/uploads/").Handler(
		http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.Storage.LocalPath))))

	return r
}
