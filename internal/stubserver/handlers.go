package stubserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"moments-go/internal/auth"
	"moments-go/internal/chattypes"
	"moments-go/internal/config"
	"moments-go/internal/media"
	"moments-go/internal/middleware"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const (
	defaultMaxMemory = 32 << 20 // 32 MB default max memory for multipart forms
)

var errMissingToken = errors.New("缺少 Bearer 令牌")

// ChatHandler 封装了聊天相关的 HTTP 处理器方法。
type ChatHandler struct {
	store    *MemoryStore
	hub      *Hub
	uploader media.Uploader
	cfg      config.Config
}

// NewChatHandler 创建一个新的 ChatHandler 实例。
func NewChatHandler(store *MemoryStore, hub *Hub, uploader media.Uploader, cfg config.Config) *ChatHandler {
	return &ChatHandler{
		store:    store,
		hub:      hub,
		uploader: uploader,
		cfg:      cfg,
	}
}

// apiResponse 是统一的 {success, data, message} 响应信封。
type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// sendMessageRequest 是 POST /chat/messages 的 JSON 请求体。
type sendMessageRequest struct {
	ConversationID string                `json:"conversationId"`
	Content        string                `json:"content"`
	Type           chattypes.MessageKind `json:"type"`
}

// GetConversationMessagesHandler 返回某会话的一页消息，最新在前。
func (h *ChatHandler) GetConversationMessagesHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["conversationID"]
	if conversationID == "" {
		writeJSONError(w, "缺少会话 ID", http.StatusBadRequest)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = h.cfg.Chat.PageSize
	}

	messages, pagination := h.store.Page(conversationID, page, limit)
	writeJSONResponse(w, http.StatusOK, apiResponse{
		Success: true,
		Data: chattypes.MessagePage{
			Messages:   messages,
			Pagination: pagination,
		},
	})
}

// SendMessageHandler 处理消息发送。
// 文本消息以 JSON 提交；图片消息以 multipart 表单提交，
// 图片经上传器落盘后以 URL 入列。确认后的消息会广播到会话房间，
// 包括发送者本人（客户端的对账逻辑依赖这条回声）。
func (h *ChatHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "用户未认证", http.StatusUnauthorized)
		return
	}
	username, _ := middleware.GetUsernameFromContext(r.Context())

	var (
		conversationID string
		content        string
		kind           chattypes.MessageKind
	)

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		maxUploadSize := h.cfg.Storage.MaxFileSizeMB << 20
		if maxUploadSize <= 0 {
			maxUploadSize = defaultMaxMemory
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(defaultMaxMemory); err != nil {
			writeJSONError(w, fmt.Sprintf("解析表单失败: %v", err), http.StatusBadRequest)
			return
		}

		conversationID = r.FormValue("conversationId")
		content = r.FormValue("content")
		kind = chattypes.ImageMessageKind

		file, handler, err := r.FormFile("image")
		if err != nil {
			if err == http.ErrMissingFile {
				writeJSONError(w, "请求中缺少 'image' 字段", http.StatusBadRequest)
			} else {
				writeJSONError(w, fmt.Sprintf("获取文件失败: %v", err), http.StatusBadRequest)
			}
			return
		}
		defer file.Close()

		mimeType := handler.Header.Get("Content-Type")
		log.Printf("收到上传图片: 名称=%s, 大小=%d, 类型=%s", handler.Filename, handler.Size, mimeType)

		fileInfo, err := h.uploader.UploadFile(r.Context(), file, handler.Size, handler.Filename, mimeType)
		if err != nil {
			log.Printf("存储文件失败: %v", err)
			writeJSONError(w, "存储文件失败", http.StatusInternalServerError)
			return
		}
		// 确认消息的 content 是可访问的远端 URL。
		content = fileInfo.URL
	} else {
		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, "请求体无效", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()
		conversationID = req.ConversationID
		content = strings.TrimSpace(req.Content)
		kind = req.Type
		if kind == "" {
			kind = chattypes.TextMessageKind
		}
	}

	if conversationID == "" || content == "" {
		writeJSONError(w, "conversationId 与 content 不能为空", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	msg := chattypes.Message{
		ID:             chattypes.ConfirmedID(uuid.New().String()),
		ConversationID: conversationID,
		Sender: chattypes.Sender{
			ID:       userID,
			Username: username,
		},
		Content:   content,
		Kind:      kind,
		CreatedAt: now,
		UpdatedAt: now,
	}
	h.store.Append(msg)

	h.hub.BroadcastToRoom(chattypes.RoomID(conversationID), chattypes.EventNewMessage,
		chattypes.NewMessagePayload{Message: msg}, nil)

	writeJSONResponse(w, http.StatusCreated, apiResponse{
		Success: true,
		Data:    chattypes.NewMessagePayload{Message: msg},
		Message: "消息已发送",
	})
}

// DevTokenHandler 为本地调试签发一个开发用令牌。
// 正式环境的凭证由外部身份服务签发，这里只是让演示客户端可以跑起来。
func DevTokenHandler(authCfg config.AuthConfig) http.HandlerFunc {
	type request struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, "请求体无效", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()
		if req.UserID == "" || req.Username == "" {
			writeJSONError(w, "userId 与 username 不能为空", http.StatusBadRequest)
			return
		}
		token, err := auth.GenerateToken(req.UserID, req.Username, authCfg)
		if err != nil {
			writeJSONError(w, "签发令牌失败", http.StatusInternalServerError)
			return
		}
		writeJSONResponse(w, http.StatusOK, apiResponse{
			Success: true,
			Data:    map[string]string{"token": token},
		})
	}
}

// writeJSONResponse 是一个辅助函数，用于发送 JSON 响应。
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// 头部可能已经发送，这里只能放弃。
			return
		}
	}
}

// writeJSONError 是一个辅助函数，用于发送 JSON 格式的错误响应。
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, statusCode, apiResponse{Success: false, Message: message})
}
