package model

import (
	"time"

	"github.com/fyerfyer/epub-audiobook/internal/models"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// BookUploadResponse 书籍上传响应
type BookUploadResponse struct {
	BookID   string `json:"book_id"`  // 书籍ID
	FileName string `json:"filename"` // 原始文件名
	Status   string `json:"status"`   // 处理状态
}

// BookInfo 书籍信息
type BookInfo struct {
	BookID       string     `json:"book_id"`              // 书籍ID
	Title        string     `json:"title,omitempty"`      // 书籍标题
	Author       string     `json:"author,omitempty"`     // 作者
	Language     string     `json:"language,omitempty"`   // 语言代码
	FileName     string     `json:"filename"`             // 原始文件名
	FileSize     int64      `json:"file_size"`            // 文件大小（字节）
	Status       string     `json:"status"`               // 处理状态
	ChapterCount int        `json:"chapter_count"`        // 章节数量
	UploadedAt   time.Time  `json:"uploaded_at"`          // 上传时间
	SplitAt      *time.Time `json:"split_at,omitempty"`   // 拆分完成时间
	Error        string     `json:"error,omitempty"`      // 错误信息（如果有）
}

// NewBookInfo 从数据模型构建书籍信息
func NewBookInfo(book *models.Book) BookInfo {
	return BookInfo{
		BookID:       book.ID,
		Title:        book.Title,
		Author:       book.Author,
		Language:     book.Language,
		FileName:     book.FileName,
		FileSize:     book.FileSize,
		Status:       string(book.Status),
		ChapterCount: book.ChapterCount,
		UploadedAt:   book.UploadedAt,
		SplitAt:      book.SplitAt,
		Error:        book.Error,
	}
}

// BookListResponse 书籍列表响应
type BookListResponse struct {
	Total    int64      `json:"total"`     // 总数量
	Page     int        `json:"page"`      // 当前页码
	PageSize int        `json:"page_size"` // 每页大小
	Books    []BookInfo `json:"books"`     // 书籍列表
}

// BookDeleteResponse 书籍删除响应
type BookDeleteResponse struct {
	Success bool   `json:"success"` // 是否成功
	BookID  string `json:"book_id"` // 书籍ID
}

// SplitResponse 书籍拆分响应
// 异步模式返回任务ID；同步模式拆分完成后返回章节数量
type SplitResponse struct {
	BookID       string `json:"book_id"`                 // 书籍ID
	TaskID       string `json:"task_id,omitempty"`       // 异步任务ID
	Status       string `json:"status"`                  // 书籍处理状态
	ChapterCount int    `json:"chapter_count,omitempty"` // 章节数量（同步模式）
}

// ChapterInfo 章节信息
type ChapterInfo struct {
	ChapterID   uint       `json:"chapter_id"`             // 章节ID
	BookID      string     `json:"book_id"`                // 所属书籍ID
	Ordinal     int        `json:"ordinal"`                // 章节序号（从1开始）
	Title       string     `json:"title"`                  // 章节标题
	WordCount   int        `json:"word_count"`             // 清洗后文本词数
	AudioStatus string     `json:"audio_status"`           // 音频转换状态
	Voice       string     `json:"voice,omitempty"`        // 转换使用的音色
	ConvertedAt *time.Time `json:"converted_at,omitempty"` // 转换完成时间
	Error       string     `json:"error,omitempty"`        // 错误信息（如果有）
}

// NewChapterInfo 从数据模型构建章节信息
func NewChapterInfo(chapter *models.Chapter) ChapterInfo {
	return ChapterInfo{
		ChapterID:   chapter.ID,
		BookID:      chapter.BookID,
		Ordinal:     chapter.Ordinal,
		Title:       chapter.Title,
		WordCount:   chapter.WordCount,
		AudioStatus: string(chapter.AudioStatus),
		Voice:       chapter.Voice,
		ConvertedAt: chapter.ConvertedAt,
		Error:       chapter.Error,
	}
}

// ChapterListResponse 章节列表响应
type ChapterListResponse struct {
	BookID   string        `json:"book_id"`  // 书籍ID
	Total    int           `json:"total"`    // 章节总数
	Chapters []ChapterInfo `json:"chapters"` // 章节列表
}

// ChapterTextResponse 章节文本响应
type ChapterTextResponse struct {
	ChapterID uint   `json:"chapter_id"` // 章节ID
	Title     string `json:"title"`      // 章节标题
	Text      string `json:"text"`       // 清洗后的完整文本
}

// ConvertResponse 音频转换响应
// 异步模式返回任务ID；同步模式转换完成后返回汇总信息
type ConvertResponse struct {
	BookID    string `json:"book_id,omitempty"`    // 书籍ID（整本书转换时）
	ChapterID uint   `json:"chapter_id,omitempty"` // 章节ID（单章转换时）
	TaskID    string `json:"task_id,omitempty"`    // 异步任务ID
	Status    string `json:"status"`               // 转换状态
	Converted int    `json:"converted,omitempty"`  // 成功转换章节数（同步整本书）
	Failed    int    `json:"failed,omitempty"`     // 失败章节数（同步整本书）
	Skipped   int    `json:"skipped,omitempty"`    // 跳过章节数（同步整本书）
}
