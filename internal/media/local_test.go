package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"moments-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUploader(t *testing.T) (Uploader, string) {
	t.Helper()
	dir := t.TempDir()
	uploader, err := NewLocalUploader(config.StorageConfig{LocalPath: dir, MaxFileSizeMB: 10}, "/uploads")
	require.NoError(t, err)
	return uploader, dir
}

func TestUploadFileKeepsExtension(t *testing.T) {
	uploader, _ := newTestUploader(t)

	content := "fake-jpeg-bytes"
	info, err := uploader.UploadFile(context.Background(),
		strings.NewReader(content), int64(len(content)), "photo.jpg", "image/jpeg")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(info.URL, "/uploads/"))
	assert.True(t, strings.HasSuffix(info.URL, ".jpg"))
	assert.Equal(t, "photo.jpg", info.FileName)
	assert.Equal(t, int64(len(content)), info.Size)

	// 落盘文件名唯一化，但内容原样保存
	saved, err := os.ReadFile(info.Path)
	require.NoError(t, err)
	assert.Equal(t, content, string(saved))
	assert.NotEqual(t, "photo.jpg", filepath.Base(info.Path))
}

func TestUploadFileInfersExtensionFromMime(t *testing.T) {
	uploader, _ := newTestUploader(t)

	info, err := uploader.UploadFile(context.Background(),
		strings.NewReader("png-bytes"), 0, "noext", "image/png")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(info.URL, ".png"))
}

func TestUploadFileSizeMismatch(t *testing.T) {
	uploader, dir := newTestUploader(t)

	_, err := uploader.UploadFile(context.Background(),
		strings.NewReader("short"), 999, "photo.jpg", "image/jpeg")
	require.Error(t, err)

	// 出错后不留下半写的文件
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
