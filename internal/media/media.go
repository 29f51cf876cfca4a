package media

import (
	"context"
	"io"
)

// FileInfo 包含上传文件的基本信息和访问路径。
type FileInfo struct {
	URL      string `json:"url"`      // 可公开访问的文件 URL
	Path     string `json:"path"`     // 文件在存储系统中的路径或标识符
	Size     int64  `json:"size"`     // 文件大小 (字节)
	MimeType string `json:"mimeType"` // 文件的 MIME 类型
	FileName string `json:"fileName"` // 原始文件名
}

// Uploader 定义了媒体上传黑盒的接口。
// 聊天核心把图片上传委托给它，只关心最终返回的 URL，
// 不对上传过程本身提供任何保证。
type Uploader interface {
	// UploadFile 将读取器中的内容上传到存储系统。
	// fileName 是原始文件名，mimeType 是文件的 MIME 类型。
	// 返回文件的信息 (FileInfo)，包括访问 URL。
	UploadFile(ctx context.Context, reader io.Reader, fileSize int64, fileName string, mimeType string) (*FileInfo, error)
}
