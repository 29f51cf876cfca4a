package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrEmptyToken 表示调用方提供了空的凭证令牌。
var ErrEmptyToken = errors.New("凭证令牌为空")

// Credential 持有连接与 REST 调用所使用的 Bearer 令牌。
// 聊天核心只消费已经签发好的凭证，不负责签发与刷新；
// 凭证失效后由调用方重新认证并重建连接。
type Credential struct {
	token string
}

// NewCredential 包装一个已签发的 Bearer 令牌。
func NewCredential(token string) (Credential, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Credential{}, ErrEmptyToken
	}
	return Credential{token: token}, nil
}

// Token 返回原始令牌字符串。
func (c Credential) Token() string { return c.token }

// IsZero 报告凭证是否为空。
func (c Credential) IsZero() bool { return c.token == "" }

// ExpiresAt 在不校验签名的情况下读取令牌的过期时间。
// 客户端没有签发密钥，这里只做本地的过期预检，
// 真正的校验仍由服务端完成。
func (c Credential) ExpiresAt() (time.Time, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(c.token, claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("令牌缺少过期时间")
	}
	return claims.ExpiresAt.Time, nil
}

// Expired 报告令牌在 now 时刻是否已经过期。
// 无法解析的令牌不在这里判死，交由服务端裁决。
func (c Credential) Expired(now time.Time) bool {
	exp, err := c.ExpiresAt()
	if err != nil {
		return false
	}
	return now.After(exp)
}
