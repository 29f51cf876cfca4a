package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	AppName    string           `mapstructure:"APP_NAME"`
	AppVersion string           `mapstructure:"APP_VERSION"`
	LogLevel   string           `mapstructure:"LOG_LEVEL"`
	API        APIConfig        `mapstructure:"API"`
	WebSocket  WebSocketConfig  `mapstructure:"WEBSOCKET"`
	Typing     TypingConfig     `mapstructure:"TYPING"`
	Chat       ChatConfig       `mapstructure:"CHAT"`
	Storage    StorageConfig    `mapstructure:"STORAGE"`
	Auth       AuthConfig       `mapstructure:"AUTH"`
	StubServer StubServerConfig `mapstructure:"STUB_SERVER"`
}

// APIConfig 保存 REST 接口的客户端配置。
// WebSocket 端点由 BASE_URL 剥离 PATH_SUFFIX 推导而来。
type APIConfig struct {
	BaseURL        string `mapstructure:"BASE_URL"`
	PathSuffix     string `mapstructure:"PATH_SUFFIX"`
	TimeoutSeconds int    `mapstructure:"TIMEOUT_SECONDS"`
}

// Timeout 返回 REST 调用的超时时间。
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WebSocketConfig holds configuration for WebSocket connections.
type WebSocketConfig struct {
	Path                    string `mapstructure:"PATH"`
	HandshakeTimeoutSeconds int    `mapstructure:"HANDSHAKE_TIMEOUT_SECONDS"`
	WriteWaitSeconds        int    `mapstructure:"WRITE_WAIT_SECONDS"`
	PongWaitSeconds         int    `mapstructure:"PONG_WAIT_SECONDS"`
	PingPeriodSeconds       int    `mapstructure:"PING_PERIOD_SECONDS"`
	MaxMessageSizeBytes     int    `mapstructure:"MAX_MESSAGE_SIZE_BYTES"`
}

// TypingConfig 保存打字指示器状态机的时间参数。
// 测试中会注入毫秒级的小值来压缩时间。
type TypingConfig struct {
	DebounceMillis  int `mapstructure:"DEBOUNCE_MILLIS"`
	StopDelayMillis int `mapstructure:"STOP_DELAY_MILLIS"`
	ExpiryMillis    int `mapstructure:"EXPIRY_MILLIS"`
}

// Debounce 返回出站 typing_start 的最小发送间隔。
func (c TypingConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMillis) * time.Millisecond
}

// StopDelay 返回最后一次按键之后发送 typing_stop 的延迟。
func (c TypingConfig) StopDelay() time.Duration {
	return time.Duration(c.StopDelayMillis) * time.Millisecond
}

// Expiry 返回入站打字标记在无后续信号时自动清除的时限。
func (c TypingConfig) Expiry() time.Duration {
	return time.Duration(c.ExpiryMillis) * time.Millisecond
}

// ChatConfig 保存消息同步引擎的参数。
type ChatConfig struct {
	PageSize int `mapstructure:"PAGE_SIZE"`
}

// StorageConfig holds configuration for file storage.
type StorageConfig struct {
	LocalPath     string `mapstructure:"LOCAL_PATH"`
	MaxFileSizeMB int64  `mapstructure:"MAX_FILE_SIZE_MB"`
}

// AuthConfig holds configuration for authentication (e.g., JWT).
type AuthConfig struct {
	JWTSecretKey string        `mapstructure:"JWT_SECRET_KEY"`
	JWTExpiry    time.Duration `mapstructure:"JWT_EXPIRY"`
}

// StubServerConfig 保存开发桩服务器的配置。
type StubServerConfig struct {
	Host string     `mapstructure:"HOST"`
	Port string     `mapstructure:"PORT"`
	CORS CORSConfig `mapstructure:"CORS"`
}

// CORSConfig holds configuration for CORS.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `mapstructure:"ALLOWED_METHODS"`
	AllowedHeaders   []string `mapstructure:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `mapstructure:"EXPOSED_HEADERS"`
	AllowCredentials bool     `mapstructure:"ALLOW_CREDENTIALS"`
	MaxAge           int      `mapstructure:"MAX_AGE"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()

	v.SetDefault("APP_NAME", "Moments")
	v.SetDefault("APP_VERSION", "0.0.1")
	v.SetDefault("LOG_LEVEL", "info")

	// API Defaults
	v.SetDefault("API.BASE_URL", "http://localhost:8081/api")
	v.SetDefault("API.PATH_SUFFIX", "/api")
	v.SetDefault("API.TIMEOUT_SECONDS", 15)

	// WebSocket Defaults
	v.SetDefault("WEBSOCKET.PATH", "/ws")
	v.SetDefault("WEBSOCKET.HANDSHAKE_TIMEOUT_SECONDS", 10)
	v.SetDefault("WEBSOCKET.WRITE_WAIT_SECONDS", 10)
	v.SetDefault("WEBSOCKET.PONG_WAIT_SECONDS", 60)
	v.SetDefault("WEBSOCKET.PING_PERIOD_SECONDS", 54) // (60 * 9) / 10
	v.SetDefault("WEBSOCKET.MAX_MESSAGE_SIZE_BYTES", 4096)

	// Typing Defaults
	// 2s 防抖 / 最后一次按键 1s 后发送 stop / 入站标记 3s 自动过期
	v.SetDefault("TYPING.DEBOUNCE_MILLIS", 2000)
	v.SetDefault("TYPING.STOP_DELAY_MILLIS", 1000)
	v.SetDefault("TYPING.EXPIRY_MILLIS", 3000)

	// Chat Defaults
	v.SetDefault("CHAT.PAGE_SIZE", 50)

	// Storage Defaults
	v.SetDefault("STORAGE.LOCAL_PATH", "./uploads")
	v.SetDefault("STORAGE.MAX_FILE_SIZE_MB", 10)

	// Auth Defaults
	v.SetDefault("AUTH.JWT_SECRET_KEY", "a_very_secret_key_that_should_be_changed")
	v.SetDefault("AUTH.JWT_EXPIRY", 24*time.Hour)

	// StubServer Defaults
	v.SetDefault("STUB_SERVER.HOST", "0.0.0.0")
	v.SetDefault("STUB_SERVER.PORT", "8081")
	v.SetDefault("STUB_SERVER.CORS.ALLOWED_ORIGINS", []string{"http://localhost:5173"})
	v.SetDefault("STUB_SERVER.CORS.ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("STUB_SERVER.CORS.ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"})
	v.SetDefault("STUB_SERVER.CORS.EXPOSED_HEADERS", []string{"Content-Length"})
	v.SetDefault("STUB_SERVER.CORS.ALLOW_CREDENTIALS", true)
	v.SetDefault("STUB_SERVER.CORS.MAX_AGE", 300) // 5 minutes

	if path != "" {
		v.SetConfigFile(path) // Path to look for the config file in.
	} else {
		v.AddConfigPath("./config") // Path to look for the config file in.
		v.AddConfigPath(".")        // Optionally look for config in the working directory.
		v.SetConfigName("config")   // Name of config file (without extension).
		v.SetConfigType("yaml")     // REQUIRED if the config file does not have the extension in the name
	}

	v.AutomaticEnv() // Read in environment variables that match
	// Example: API_BASE_URL will override API.BaseURL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return
		}
		// Config file not found; ignore error if desired
		// We have defaults, so this might be acceptable
	}

	err = v.Unmarshal(&config)
	return
}
