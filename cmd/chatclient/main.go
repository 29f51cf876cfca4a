package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"moments-go/internal/api"
	"moments-go/internal/auth"
	"moments-go/internal/chatsync"
	"moments-go/internal/chattypes"
	"moments-go/internal/config"
	"moments-go/internal/realtime"
	"moments-go/internal/typing"
)

func main() {
	var (
		tokenFlag        = flag.String("token", "", "Bearer 令牌（默认读取 MOMENTS_TOKEN 环境变量）")
		conversationFlag = flag.String("conversation", "", "要打开的会话 ID")
		userIDFlag       = flag.String("user-id", "", "当前用户 ID")
		usernameFlag     = flag.String("username", "", "当前用户名")
	)
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}

	// 2. 解析凭证（聊天核心只消费已签发的凭证，不负责登录）
	token := *tokenFlag
	if token == "" {
		token = os.Getenv("MOMENTS_TOKEN")
	}
	cred, err := auth.NewCredential(token)
	if err != nil {
		log.Fatalf("缺少凭证令牌，请通过 -token 或 MOMENTS_TOKEN 提供: %v", err)
	}
	if cred.Expired(time.Now()) {
		log.Fatalf("令牌已过期，请重新认证后再连接。")
	}
	if *conversationFlag == "" || *userIDFlag == "" {
		log.Fatalf("必须提供 -conversation 与 -user-id。")
	}
	self := chattypes.Sender{ID: *userIDFlag, Username: *usernameFlag}

	// 3. 构造 REST 客户端与消息同步引擎
	apiClient := api.NewClient(cfg.API, cred)
	engine := chatsync.NewEngine(apiClient, self, cfg.Chat.PageSize)
	engine.Open(*conversationFlag)
	defer engine.Close()

	// 4. 构造连接管理器（进程内唯一的实时通道，由这里注入给下游）
	manager, err := realtime.NewManager(cfg.API, cfg.WebSocket)
	if err != nil {
		log.Fatalf("无法创建连接管理器: %v", err)
	}
	defer manager.Disconnect()

	// 5. 构造打字协调器
	coordinator := typing.NewCoordinator(manager, *conversationFlag, self.ID, cfg.Typing,
		func(userID string, isTyping bool) {
			if isTyping {
				fmt.Printf("  [%s 正在输入...]\n", userID)
			}
		})
	defer coordinator.Close()

	// 6. 订阅实时事件并建立连接
	manager.On(chattypes.EventNewMessage, func(data json.RawMessage) {
		engine.HandleIncoming(data)
		printLatest(engine, self.ID)
	})
	manager.On(chattypes.EventUserTyping, coordinator.HandleTypingEvent)
	if err := manager.Connect(cred); err != nil {
		log.Fatalf("无法连接实时通道: %v", err)
	}
	manager.JoinRoom(*conversationFlag)
	defer manager.LeaveRoom(*conversationFlag)

	// 7. 首屏拉取
	ctx := context.Background()
	if err := engine.LoadInitial(ctx); err != nil {
		log.Printf("首屏拉取失败（可输入 /reload 重试）: %v", err)
	}
	printAll(engine)

	// 8. 命令行输入循环
	fmt.Println("输入消息内容发送；/older 回填更早的消息；/img <路径> 发送图片；/quit 退出。")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return
		case line == "/reload":
			if err := engine.LoadInitial(ctx); err != nil {
				log.Printf("重新拉取失败: %v", err)
			}
			printAll(engine)
		case line == "/older":
			if err := engine.LoadOlder(ctx); err != nil {
				log.Printf("回填失败: %v", err)
			}
			printAll(engine)
		case strings.HasPrefix(line, "/img "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/img "))
			if err := engine.SendImage(ctx, path); err != nil {
				log.Printf("图片发送失败: %v", err)
			}
		case line == "":
			coordinator.InputChanged("")
		default:
			coordinator.InputChanged(line)
			if err := engine.SendText(ctx, line); err != nil {
				log.Printf("发送失败: %v", err)
			}
			coordinator.InputChanged("")
		}
	}
}

// printAll 打印当前会话的完整消息列表（最新在前）。
func printAll(engine *chatsync.Engine) {
	msgs := engine.Messages()
	fmt.Printf("---- 共 %d 条消息 ----\n", len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		printMessage(msgs[i])
	}
}

// printLatest 打印列表头部的最新一条消息。
func printLatest(engine *chatsync.Engine, selfID string) {
	msgs := engine.Messages()
	if len(msgs) == 0 {
		return
	}
	if msgs[0].Sender.ID == selfID {
		return
	}
	printMessage(msgs[0])
}

func printMessage(m chattypes.Message) {
	name := m.Sender.DisplayName
	if name == "" {
		name = m.Sender.Username
	}
	fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), name, m.Content)
}
