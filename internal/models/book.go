package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BookStatus 书籍处理状态类型
type BookStatus string

const (
	// BookStatusUploaded 书籍已上传，等待拆分
	BookStatusUploaded BookStatus = "uploaded"
	// BookStatusSplitting 书籍拆分中
	BookStatusSplitting BookStatus = "splitting"
	// BookStatusSplit 书籍拆分完成，章节可转换
	BookStatusSplit BookStatus = "split"
	// BookStatusFailed 书籍处理失败
	BookStatusFailed BookStatus = "failed"
)

// AudioStatus 章节音频转换状态
type AudioStatus string

const (
	// AudioStatusPending 章节等待转换
	AudioStatusPending AudioStatus = "pending"
	// AudioStatusConverting 章节转换中
	AudioStatusConverting AudioStatus = "converting"
	// AudioStatusCompleted 章节转换完成
	AudioStatusCompleted AudioStatus = "completed"
	// AudioStatusFailed 章节转换失败
	AudioStatusFailed AudioStatus = "failed"
)

// Book 书籍数据模型
// 用于存储上传的EPUB书籍的元数据信息
type Book struct {
	ID           string         `gorm:"primaryKey"`         // 书籍ID，主键
	Title        string         `gorm:"type:varchar(255)"`  // 书籍标题（来自EPUB元数据）
	Author       string         `gorm:"type:varchar(255)"`  // 作者
	Language     string         `gorm:"size:20"`            // 语言代码
	FileName     string         `gorm:"not null"`           // 原始文件名
	FilePath     string         `gorm:"not null"`           // 文件存储路径
	FileSize     int64          `gorm:"not null"`           // 文件大小（字节）
	Status       BookStatus     `gorm:"not null;index"`     // 处理状态
	UploadedAt   time.Time      `gorm:"not null;index"`     // 上传时间
	SplitAt      *time.Time     `gorm:"index"`              // 拆分完成时间
	UpdatedAt    time.Time      `gorm:"not null;index"`     // 更新时间
	ChapterCount int            `gorm:"not null;default:0"` // 拆分出的章节数量
	MinWords     int            `gorm:"not null;default:0"` // 拆分时使用的最小词数阈值
	Error        string         `gorm:"type:text"`          // 错误信息
	Metadata     datatypes.JSON `gorm:"type:json"`          // 元数据，JSON格式
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (b *Book) BeforeCreate(tx *gorm.DB) (err error) {
	if b.UploadedAt.IsZero() {
		b.UploadedAt = time.Now()
	}
	b.UpdatedAt = time.Now()
	return nil
}

// BeforeUpdate GORM的钩子函数，更新记录前自动设置更新时间
func (b *Book) BeforeUpdate(tx *gorm.DB) (err error) {
	b.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (Book) TableName() string {
	return "books"
}

// Chapter 章节数据模型
// 拆分出的每个章节对应一条记录，是音频转换的基本单位
type Chapter struct {
	ID          uint           `gorm:"primaryKey;autoIncrement"` // 主键ID
	BookID      string         `gorm:"not null;index"`           // 所属书籍ID
	Ordinal     int            `gorm:"not null"`                 // 章节序号（从1开始）
	Title       string         `gorm:"type:varchar(255)"`        // 章节标题
	WordCount   int            `gorm:"not null;default:0"`       // 清洗后文本的词数
	EpubPath    string         `gorm:"not null"`                 // 拆分出的章节EPUB文件路径
	AudioPath   string         `gorm:"type:varchar(512)"`        // 生成的音频文件路径
	AudioStatus AudioStatus    `gorm:"not null;index"`           // 音频转换状态
	Voice       string         `gorm:"size:100"`                 // 转换使用的音色
	TaskID      string         `gorm:"size:50;index"`            // 当前关联的任务ID
	RetryCount  int            `gorm:"default:0"`                // 重试次数
	Error       string         `gorm:"type:text"`                // 错误信息
	CreatedAt   time.Time      `gorm:"not null"`                 // 创建时间
	UpdatedAt   time.Time      `gorm:"not null"`                 // 更新时间
	ConvertedAt *time.Time     `gorm:""`                         // 转换完成时间
	Metadata    datatypes.JSON `gorm:"type:json"`                // 章节元数据
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (c *Chapter) BeforeCreate(tx *gorm.DB) (err error) {
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

// BeforeUpdate GORM的钩子函数，更新记录前自动设置更新时间
func (c *Chapter) BeforeUpdate(tx *gorm.DB) (err error) {
	c.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (Chapter) TableName() string {
	return "chapters"
}
