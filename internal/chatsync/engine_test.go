package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"moments-go/internal/chattypes"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	messagesFn  func(ctx context.Context, conversationID string, page, limit int) (*chattypes.MessagePage, error)
	sendTextFn  func(ctx context.Context, conversationID, content string) (*chattypes.Message, error)
	sendImageFn func(ctx context.Context, conversationID, imagePath string) (*chattypes.Message, error)
}

func (f *fakeAPI) Messages(ctx context.Context, conversationID string, page, limit int) (*chattypes.MessagePage, error) {
	return f.messagesFn(ctx, conversationID, page, limit)
}

func (f *fakeAPI) SendText(ctx context.Context, conversationID, content string) (*chattypes.Message, error) {
	return f.sendTextFn(ctx, conversationID, content)
}

func (f *fakeAPI) SendImage(ctx context.Context, conversationID, imagePath string) (*chattypes.Message, error) {
	return f.sendImageFn(ctx, conversationID, imagePath)
}

var (
	self = chattypes.Sender{ID: "u1", Username: "alice"}
	peer = chattypes.Sender{ID: "u2", Username: "bob"}
	base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
)

// msg 构造一条确认消息，age 越大消息越旧。
func msg(id, conv, content string, sender chattypes.Sender, age time.Duration) chattypes.Message {
	ts := base.Add(-age)
	return chattypes.Message{
		ID:             chattypes.ConfirmedID(id),
		ConversationID: conv,
		Sender:         sender,
		Content:        content,
		Kind:           chattypes.TextMessageKind,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
}

func pushPayload(t *testing.T, m chattypes.Message) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(chattypes.NewMessagePayload{Message: m})
	require.NoError(t, err)
	return raw
}

func ids(msgs []chattypes.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID.String()
	}
	return out
}

func pageOf(msgs []chattypes.Message, page, totalPages int) *chattypes.MessagePage {
	return &chattypes.MessagePage{
		Messages: msgs,
		Pagination: chattypes.Pagination{
			Page:       page,
			Limit:      50,
			Total:      len(msgs),
			TotalPages: totalPages,
		},
	}
}

func TestLoadInitialNewestFirst(t *testing.T) {
	a := msg("a", "C1", "newer", peer, time.Minute)
	b := msg("b", "C1", "older", peer, 2*time.Minute)
	api := &fakeAPI{
		messagesFn: func(_ context.Context, conv string, page, limit int) (*chattypes.MessagePage, error) {
			assert.Equal(t, "C1", conv)
			assert.Equal(t, 1, page)
			// 服务端返回顺序不可信，引擎负责重排
			return pageOf([]chattypes.Message{b, a}, 1, 1), nil
		},
	}
	e := NewEngine(api, self, 50)
	e.Open("C1")

	require.NoError(t, e.LoadInitial(context.Background()))
	assert.Equal(t, []string{"a", "b"}, ids(e.Messages()))
	assert.False(t, e.HasMore())
}

func TestLoadInitialFailureLeavesListEmpty(t *testing.T) {
	api := &fakeAPI{
		messagesFn: func(context.Context, string, int, int) (*chattypes.MessagePage, error) {
			return nil, errors.New("boom")
		},
	}
	e := NewEngine(api, self, 50)
	e.Open("C1")

	require.Error(t, e.LoadInitial(context.Background()))
	assert.Empty(t, e.Messages())
}

func TestLoadInitialNoConversationIsNoop(t *testing.T) {
	api := &fakeAPI{
		messagesFn: func(context.Context, string, int, int) (*chattypes.MessagePage, error) {
			t.Fatal("没有打开的会话时不应发起请求")
			return nil, nil
		},
	}
	e := NewEngine(api, self, 50)
	require.NoError(t, e.LoadInitial(context.Background()))
}

func TestSendTextRESTResolvesFirst(t *testing.T) {
	a := msg("a", "C1", "one", peer, time.Minute)
	b := msg("b", "C1", "two", peer, 2*time.Minute)
	confirmed := msg("c", "C1", "hi", self, -time.Minute)

	var sawProvisional bool
	e := NewEngine(nil, self, 50)
	api := &fakeAPI{
		messagesFn: func(context.Context, string, int, int) (*chattypes.MessagePage, error) {
			return pageOf([]chattypes.Message{a, b}, 1, 1), nil
		},
		sendTextFn: func(_ context.Context, conv, content string) (*chattypes.Message, error) {
			// 网络往返期间列表头部已经能看到暂存条目
			head := e.Messages()[0]
			sawProvisional = head.ID.IsProvisional()
			assert.Equal(t, "hi", head.Content)
			return &confirmed, nil
		},
	}
	e.api = api
	e.Open("C1")
	require.NoError(t, e.LoadInitial(context.Background()))

	require.NoError(t, e.SendText(context.Background(), "hi"))

	assert.True(t, sawProvisional)
	assert.Equal(t, []string{"c", "a", "b"}, ids(e.Messages()))
}

func TestSendTextWirePushWinsRace(t *testing.T) {
	a := msg("a", "C1", "one", peer, time.Minute)
	confirmed := msg("c", "C1", "hi", self, -time.Minute)

	e := NewEngine(nil, self, 50)
	api := &fakeAPI{
		messagesFn: func(context.Context, string, int, int) (*chattypes.MessagePage, error) {
			return pageOf([]chattypes.Message{a}, 1, 1), nil
		},
		sendTextFn: func(_ context.Context, conv, content string) (*chattypes.Message, error) {
			// REST 响应还没回来，实时回声先到
			e.HandleIncoming(pushPayload(t, confirmed))
			return &confirmed, nil
		},
	}
	e.api = api
	e.Open("C1")
	require.NoError(t, e.LoadInitial(context.Background()))

	require.NoError(t, e.SendText(context.Background(), "hi"))

	// 两条路径收敛为恰好一条确认消息，没有暂存残留
	got := ids(e.Messages())
	assert.Equal(t, []string{"c", "a"}, got)
	for _, m := range e.Messages() {
		assert.False(t, m.ID.IsProvisional())
	}
}

func TestHandleIncomingRemovesEquivalentProvisional(t *testing.T) {
	confirmed := msg("c", "C1", "hi", self, -time.Minute)

	blockSend := make(chan struct{})
	sendDone := make(chan error, 1)
	e := NewEngine(nil, self, 50)
	api := &fakeAPI{
		sendTextFn: func(_ context.Context, conv, content string) (*chattypes.Message, error) {
			<-blockSend
			return &confirmed, nil
		},
	}
	e.api = api
	e.Open("C1")

	go func() {
		sendDone <- e.SendText(context.Background(), "hi")
	}()

	// 等到暂存条目出现
	require.Eventually(t, func() bool {
		msgs := e.Messages()
		return len(msgs) == 1 && msgs[0].ID.IsProvisional()
	}, time.Second, 5*time.Millisecond)

	// 回声先到：移除暂存条目并插入确认消息
	e.HandleIncoming(pushPayload(t, confirmed))
	assert.Equal(t, []string{"c"}, ids(e.Messages()))

	// REST 随后返回：纯粹的空操作
	close(blockSend)
	require.NoError(t, <-sendDone)
	assert.Equal(t, []string{"c"}, ids(e.Messages()))
}

func TestSendTextFailureRollsBack(t *testing.T) {
	a := msg("a", "C1", "one", peer, time.Minute)
	b := msg("b", "C1", "two", peer, 2*time.Minute)

	api := &fakeAPI{
		messagesFn: func(context.Context, string, int, int) (*chattypes.MessagePage, error) {
			return pageOf([]chattypes.Message{a, b}, 1, 1), nil
		},
		sendTextFn: func(context.Context, string, string) (*chattypes.Message, error) {
			return nil, errors.New("network down")
		},
	}
	e := NewEngine(api, self, 50)
	e.Open("C1")
	require.NoError(t, e.LoadInitial(context.Background()))
	before := ids(e.Messages())

	err := e.SendText(context.Background(), "hi")
	require.Error(t, err)
	assert.ErrorContains(t, err, "network down")
	// 失败后列表与发送前完全一致，绝无孤儿暂存条目
	assert.Equal(t, before, ids(e.Messages()))
}

func TestSendTextGuards(t *testing.T) {
	called := false
	api := &fakeAPI{
		sendTextFn: func(context.Context, string, string) (*chattypes.Message, error) {
			called = true
			return nil, nil
		},
	}
	e := NewEngine(api, self, 50)

	// 没有打开的会话
	require.NoError(t, e.SendText(context.Background(), "hi"))
	// 空白内容
	e.Open("C1")
	require.NoError(t, e.SendText(context.Background(), "   "))

	assert.False(t, called)
	assert.Empty(t, e.Messages())
}

func TestHandleIncomingDuplicateAndMalformed(t *testing.T) {
	c := msg("c", "C1", "hi", peer, 0)
	e := NewEngine(&fakeAPI{}, self, 50)
	e.Open("C1")

	e.HandleIncoming(pushPayload(t, c))
	assert.Equal(t, []string{"c"}, ids(e.Messages()))

	// 重复推送（回放）不改变列表
	e.HandleIncoming(pushPayload(t, c))
	assert.Equal(t, []string{"c"}, ids(e.Messages()))

	// 缺少 ID 的消息在边界被丢弃
	e.HandleIncoming(json.RawMessage(`{"message":{"conversationId":"C1","content":"x"}}`))
	assert.Equal(t, []string{"c"}, ids(e.Messages()))

	// 其他会话的消息被忽略
	other := msg("d", "C2", "elsewhere", peer, 0)
	e.HandleIncoming(pushPayload(t, other))
	assert.Equal(t, []string{"c"}, ids(e.Messages()))
}

func TestLoadOlderAppendsToTail(t *testing.T) {
	a := msg("a", "C1", "1", peer, 1*time.Minute)
	b := msg("b", "C1", "2", peer, 2*time.Minute)
	d := msg("d", "C1", "3", peer, 3*time.Minute)
	eMsg := msg("e", "C1", "4", peer, 4*time.Minute)

	api := &fakeAPI{
		messagesFn: func(_ context.Context, _ string, page, _ int) (*chattypes.MessagePage, error) {
			switch page {
			case 1:
				return pageOf([]chattypes.Message{a, b}, 1, 2), nil
			case 2:
				return pageOf([]chattypes.Message{eMsg, d}, 2, 2), nil
			default:
				t.Fatalf("非预期的页码: %d", page)
				return nil, nil
			}
		},
	}
	e := NewEngine(api, self, 50)
	e.Open("C1")
	require.NoError(t, e.LoadInitial(context.Background()))
	assert.True(t, e.HasMore())

	require.NoError(t, e.LoadOlder(context.Background()))
	got := e.Messages()
	assert.Equal(t, []string{"a", "b", "d", "e"}, ids(got))
	assert.False(t, e.HasMore())

	// 页边界处依然严格按时间倒序，无逆序
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].CreatedAt.After(got[i-1].CreatedAt),
			"位置 %d 出现时间逆序", i)
	}

	// 没有更多页之后回填是空操作
	require.NoError(t, e.LoadOlder(context.Background()))
	assert.Equal(t, []string{"a", "b", "d", "e"}, ids(e.Messages()))
}

func TestLoadOlderDropsMalformedEntries(t *testing.T) {
	a := msg("a", "C1", "1", peer, 1*time.Minute)
	d := msg("d", "C1", "3", peer, 3*time.Minute)
	broken := chattypes.Message{ // 缺少 ID 与发送者
		ConversationID: "C1",
		Content:        "junk",
		Kind:           chattypes.TextMessageKind,
		CreatedAt:      base.Add(-2 * time.Minute),
	}

	api := &fakeAPI{
		messagesFn: func(_ context.Context, _ string, page, _ int) (*chattypes.MessagePage, error) {
			if page == 1 {
				return pageOf([]chattypes.Message{a}, 1, 2), nil
			}
			return pageOf([]chattypes.Message{broken, d}, 2, 2), nil
		},
	}
	e := NewEngine(api, self, 50)
	e.Open("C1")
	require.NoError(t, e.LoadInitial(context.Background()))
	require.NoError(t, e.LoadOlder(context.Background()))

	// 坏条目被静默丢弃，整页不失败
	assert.Equal(t, []string{"a", "d"}, ids(e.Messages()))
}

func TestSendImageUsesLocalPathUntilConfirmed(t *testing.T) {
	confirmed := chattypes.Message{
		ID:             chattypes.ConfirmedID("img1"),
		ConversationID: "C1",
		Sender:         self,
		Content:        "https://cdn.example.com/img1.jpg",
		Kind:           chattypes.ImageMessageKind,
		CreatedAt:      base,
		UpdatedAt:      base,
	}

	e := NewEngine(nil, self, 50)
	api := &fakeAPI{
		sendImageFn: func(_ context.Context, conv, imagePath string) (*chattypes.Message, error) {
			// 暂存阶段 content 是本地文件引用
			head := e.Messages()[0]
			assert.True(t, head.ID.IsProvisional())
			assert.Equal(t, "/tmp/photo.jpg", head.Content)
			assert.Equal(t, chattypes.ImageMessageKind, head.Kind)
			return &confirmed, nil
		},
	}
	e.api = api
	e.Open("C1")

	require.NoError(t, e.SendImage(context.Background(), "/tmp/photo.jpg"))
	got := e.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, "img1", got[0].ID.String())
	assert.Equal(t, "https://cdn.example.com/img1.jpg", got[0].Content)
}

func TestCloseDiscardsSessionState(t *testing.T) {
	a := msg("a", "C1", "1", peer, time.Minute)
	api := &fakeAPI{
		messagesFn: func(context.Context, string, int, int) (*chattypes.MessagePage, error) {
			return pageOf([]chattypes.Message{a}, 1, 2), nil
		},
	}
	e := NewEngine(api, self, 50)
	e.Open("C1")
	require.NoError(t, e.LoadInitial(context.Background()))
	require.NotEmpty(t, e.Messages())

	e.Close()
	assert.Empty(t, e.Messages())
	assert.False(t, e.HasMore())
}
