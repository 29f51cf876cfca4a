package stubserver

import (
	"fmt"
	"testing"
	"time"

	"moments-go/internal/chattypes"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedMessage(id string, age time.Duration) chattypes.Message {
	ts := time.Now().UTC().Add(-age)
	return chattypes.Message{
		ID:             chattypes.ConfirmedID(id),
		ConversationID: "C1",
		Sender:         chattypes.Sender{ID: "u1", Username: "alice"},
		Content:        "msg " + id,
		Kind:           chattypes.TextMessageKind,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
}

func TestMemoryStorePagination(t *testing.T) {
	store := NewMemoryStore()
	// 按时间顺序追加 5 条，Append 把新消息放在头部
	for i := 5; i >= 1; i-- {
		store.Append(storedMessage(fmt.Sprintf("m%d", i), time.Duration(i)*time.Minute))
	}

	page1, p1 := store.Page("C1", 1, 2)
	require.Len(t, page1, 2)
	assert.Equal(t, "m1", page1[0].ID.String(), "第一页从最新一条开始")
	assert.Equal(t, "m2", page1[1].ID.String())
	assert.Equal(t, chattypes.Pagination{Page: 1, Limit: 2, Total: 5, TotalPages: 3}, p1)
	assert.True(t, p1.HasMore())

	page3, p3 := store.Page("C1", 3, 2)
	require.Len(t, page3, 1)
	assert.Equal(t, "m5", page3[0].ID.String())
	assert.False(t, p3.HasMore())

	// 越界页码返回空页而不是报错
	page9, _ := store.Page("C1", 9, 2)
	assert.Empty(t, page9)

	// 未知会话返回空页
	empty, pe := store.Page("nope", 1, 2)
	assert.Empty(t, empty)
	assert.Equal(t, 0, pe.Total)
	assert.False(t, pe.HasMore())
}

func TestMemoryStoreDefaultsInvalidArgs(t *testing.T) {
	store := NewMemoryStore()
	store.Append(storedMessage("m1", time.Minute))

	msgs, p := store.Page("C1", 0, 0)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 50, p.Limit)
}

func TestMemoryStorePageReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	store.Append(storedMessage("m1", time.Minute))

	msgs, _ := store.Page("C1", 1, 10)
	msgs[0].Content = "tampered"

	again, _ := store.Page("C1", 1, 10)
	assert.Equal(t, "msg m1", again[0].Content, "返回的切片必须与内部存储隔离")
}
