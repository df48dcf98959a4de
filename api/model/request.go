package model

import (
	"mime/multipart"
)

// 分页请求参数
type PaginationRequest struct {
	Page     int `form:"page" json:"page" binding:"omitempty,min=1"`           // 当前页码，从1开始
	PageSize int `form:"page_size" json:"page_size" binding:"omitempty,min=1"` // 每页记录数
}

// GetPage 获取页码，默认为1
func (p *PaginationRequest) GetPage() int {
	if p.Page <= 0 {
		return 1
	}
	return p.Page
}

// GetPageSize 获取每页记录数，默认为10，最大为100
func (p *PaginationRequest) GetPageSize() int {
	if p.PageSize <= 0 {
		return 10
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// BookUploadRequest 书籍上传请求
type BookUploadRequest struct {
	File *multipart.FileHeader `form:"file" binding:"required"` // EPUB文件
}

// BookIDRequest 书籍路径参数
type BookIDRequest struct {
	ID string `uri:"id" binding:"required"` // 书籍ID
}

// BookListRequest 书籍列表请求
type BookListRequest struct {
	PaginationRequest
	Status string `form:"status" json:"status" binding:"omitempty"` // 按处理状态过滤
}

// BookSplitRequest 书籍拆分请求
type BookSplitRequest struct {
	MinWords int `json:"min_words" binding:"omitempty,min=1"` // 章节最小词数阈值，0使用默认值
}

// ChapterIDRequest 章节路径参数
type ChapterIDRequest struct {
	ID uint `uri:"id" binding:"required"` // 章节ID
}

// ConvertRequest 音频转换请求
// 零值字段使用服务端默认配置
type ConvertRequest struct {
	Engine    string  `json:"engine" binding:"omitempty"`             // TTS引擎：piper、edge
	Voice     string  `json:"voice" binding:"omitempty"`              // 语音模型
	Speed     float64 `json:"speed" binding:"omitempty,gt=0"`         // 语速倍率
	Format    string  `json:"format" binding:"omitempty"`             // 输出格式：wav、mp3
	ChunkSize int     `json:"chunk_size" binding:"omitempty,min=100"` // 文本分块大小（字符数）
}

// TaskIDRequest 任务路径参数
type TaskIDRequest struct {
	ID string `uri:"id" binding:"required"` // 任务ID
}
