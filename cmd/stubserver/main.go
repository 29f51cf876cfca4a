package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"moments-go/internal/config"
	"moments-go/internal/media"
	"moments-go/internal/stubserver"

	"github.com/gorilla/handlers"
)

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}
	log.Println("桩服务器配置加载成功。")

	// 2. 初始化内存消息存储
	store := stubserver.NewMemoryStore()

	// 3. 初始化上传服务（本地存储，经 /uploads 提供访问）
	uploader, err := media.NewLocalUploader(cfg.Storage, "/uploads")
	if err != nil {
		log.Fatalf("无法初始化本地存储服务: %v", err)
	}
	log.Println("本地存储服务初始化成功。")

	// 4. 初始化 WebSocket Hub
	hub := stubserver.NewHub()
	go hub.Run() // 在 goroutine 中运行 Hub
	log.Println("WebSocket Hub 已启动。")

	// 5. 设置 HTTP 路由
	r := stubserver.NewRouter(store, hub, uploader, cfg)

	// 6. 包装 CORS 中间件，选项从配置中读取
	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(cfg.StubServer.CORS.AllowedOrigins),
		handlers.AllowedMethods(cfg.StubServer.CORS.AllowedMethods),
		handlers.AllowedHeaders(cfg.StubServer.CORS.AllowedHeaders),
		handlers.ExposedHeaders(cfg.StubServer.CORS.ExposedHeaders),
		handlers.MaxAge(cfg.StubServer.CORS.MaxAge),
	}
	if cfg.StubServer.CORS.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}
	corsHandler := handlers.CORS(corsOptions...)(r)

	// 7. 启动 HTTP 服务器并实现优雅关闭
	serverAddr := fmt.Sprintf("%s:%s", cfg.StubServer.Host, cfg.StubServer.Port)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      corsHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  time.Second * 60,
	}

	go func() {
		log.Printf("桩服务器启动于 %s", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("桩服务器启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("正在关闭桩服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("桩服务器关闭失败: %v", err)
	}
	log.Println("桩服务器已退出。")
}
