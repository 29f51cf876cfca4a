package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"moments-go/internal/auth"
	"moments-go/internal/chattypes"
	"moments-go/internal/config"
)

// ErrMissingMessage 表示发送接口的响应里没有可辨认的消息对象。
var ErrMissingMessage = errors.New("服务端响应缺少消息数据")

// Client 是聊天核心消费的 REST 接口的瘦客户端。
// 认证凭证在构造时注入，每个请求都以 Bearer 头带出。
type Client struct {
	baseURL string
	cred    auth.Credential
	httpc   *http.Client
}

// NewClient 创建 REST 客户端。
func NewClient(cfg config.APIConfig, cred auth.Credential) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		cred:    cred,
		httpc:   &http.Client{Timeout: cfg.Timeout()},
	}
}

// sendMessageRequest 是 POST /chat/messages 的 JSON 请求体。
type sendMessageRequest struct {
	ConversationID string                `json:"conversationId"`
	Content        string                `json:"content"`
	Type           chattypes.MessageKind `json:"type"`
}

// Messages 获取某会话的一页消息。
// 对应 GET /chat/conversations/:id/messages?page&limit。
func (c *Client) Messages(ctx context.Context, conversationID string, page, limit int) (*chattypes.MessagePage, error) {
	endpoint := fmt.Sprintf("%s/chat/conversations/%s/messages", c.baseURL, url.PathEscape(conversationID))
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("构造消息分页请求失败: %w", err)
	}

	env, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var pageData chattypes.MessagePage
	if err := json.Unmarshal(env.Data, &pageData); err != nil {
		return nil, fmt.Errorf("解析消息分页响应失败: %w", err)
	}
	return &pageData, nil
}

// SendText 发送一条文本消息并返回服务端确认后的消息。
// 对应 POST /chat/messages (JSON)。
func (c *Client) SendText(ctx context.Context, conversationID, content string) (*chattypes.Message, error) {
	body, err := json.Marshal(sendMessageRequest{
		ConversationID: conversationID,
		Content:        content,
		Type:           chattypes.TextMessageKind,
	})
	if err != nil {
		return nil, fmt.Errorf("序列化发送请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("构造发送请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	env, err := c.do(req)
	if err != nil {
		return nil, err
	}
	msg, ok := chattypes.ExtractMessage(env.Data)
	if !ok {
		return nil, ErrMissingMessage
	}
	return &msg, nil
}

// SendImage 以 multipart 表单发送一条图片消息。
// 对应 POST /chat/messages (multipart: conversationId + image 文件)。
func (c *Client) SendImage(ctx context.Context, conversationID, imagePath string) (*chattypes.Message, error) {
	file, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("打开图片文件失败: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("conversationId", conversationID); err != nil {
		return nil, fmt.Errorf("写入表单字段失败: %w", err)
	}
	part, err := createImagePart(writer, filepath.Base(imagePath))
	if err != nil {
		return nil, fmt.Errorf("创建图片表单分块失败: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("写入图片数据失败: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("关闭表单写入器失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/messages", &buf)
	if err != nil {
		return nil, fmt.Errorf("构造发送请求失败: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	env, err := c.do(req)
	if err != nil {
		return nil, err
	}
	msg, ok := chattypes.ExtractMessage(env.Data)
	if !ok {
		return nil, ErrMissingMessage
	}
	return &msg, nil
}

// createImagePart 为图片文件创建带正确 Content-Type 的表单分块。
func createImagePart(writer *multipart.Writer, fileName string) (io.Writer, error) {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="image"; filename="%s"`, fileName))
	contentType := mime.TypeByExtension(filepath.Ext(fileName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	return writer.CreatePart(header)
}

// do 执行请求并解包统一的响应信封。
func (c *Client) do(req *http.Request) (*chattypes.Envelope, error) {
	req.Header.Set("Authorization", "Bearer "+c.cred.Token())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求 %s 失败: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	var env chattypes.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("解析响应失败 (状态 %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("服务端拒绝请求 (状态 %d): %s", resp.StatusCode, msg)
	}
	return &env, nil
}
