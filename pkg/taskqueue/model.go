package taskqueue

import (
	"encoding/json"
	"time"
)

// TaskType 任务类型
type TaskType string

const (
	// TaskBookSplit 电子书按章节拆分任务
	TaskBookSplit TaskType = "book_split"
	// TaskChapterAudio 单章节语音合成任务
	TaskChapterAudio TaskType = "chapter_audio"
	// TaskBookConvert 整本书批量语音合成任务
	TaskBookConvert TaskType = "book_convert"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	// StatusPending 等待处理
	StatusPending TaskStatus = "pending"
	// StatusProcessing 处理中
	StatusProcessing TaskStatus = "processing"
	// StatusCompleted 已完成
	StatusCompleted TaskStatus = "completed"
	// StatusFailed 处理失败
	StatusFailed TaskStatus = "failed"
)

// Task 任务基础结构
type Task struct {
	ID          string          `json:"id"`           // 任务唯一标识符
	Type        TaskType        `json:"type"`         // 任务类型
	BookID      string          `json:"book_id"`      // 关联的书籍ID
	Status      TaskStatus      `json:"status"`       // 任务状态
	Payload     json.RawMessage `json:"payload"`      // 任务载荷数据，不同任务类型对应不同结构
	Result      json.RawMessage `json:"result"`       // 任务结果数据，不同任务类型对应不同结构
	Error       string          `json:"error"`        // 错误信息（如果处理失败）
	CreatedAt   time.Time       `json:"created_at"`   // 创建时间
	UpdatedAt   time.Time       `json:"updated_at"`   // 更新时间
	StartedAt   *time.Time      `json:"started_at"`   // 开始处理时间
	CompletedAt *time.Time      `json:"completed_at"` // 完成时间
	Attempts    int             `json:"attempts"`     // 尝试次数
	MaxRetries  int             `json:"max_retries"`  // 最大重试次数
}

// BookSplitPayload 书籍拆分任务载荷
type BookSplitPayload struct {
	BookID    string            `json:"book_id"`    // 书籍ID
	FilePath  string            `json:"file_path"`  // EPUB文件存储路径
	FileName  string            `json:"file_name"`  // 原始文件名
	MinWords  int               `json:"min_words"`  // 章节最小词数阈值
	OutputDir string            `json:"output_dir"` // 章节EPUB输出目录
	Metadata  map[string]string `json:"metadata"`   // 元数据
}

// ChapterInfo 拆分出的章节信息
type ChapterInfo struct {
	ChapterID uint   `json:"chapter_id"` // 章节记录ID
	Ordinal   int    `json:"ordinal"`    // 章节序号，从1开始
	Title     string `json:"title"`      // 章节标题
	WordCount int    `json:"word_count"` // 词数
	EpubPath  string `json:"epub_path"`  // 章节EPUB文件路径
}

// BookSplitResult 书籍拆分任务结果
type BookSplitResult struct {
	BookID       string        `json:"book_id"`       // 书籍ID
	Title        string        `json:"title"`         // 书籍标题
	ChapterCount int           `json:"chapter_count"` // 章节数量
	Chapters     []ChapterInfo `json:"chapters"`      // 章节列表
	Error        string        `json:"error"`         // 错误信息（如果有）
}

// ChapterAudioPayload 章节语音合成任务载荷
type ChapterAudioPayload struct {
	BookID    string  `json:"book_id"`    // 书籍ID
	ChapterID uint    `json:"chapter_id"` // 章节记录ID
	EpubPath  string  `json:"epub_path"`  // 章节EPUB文件路径
	OutputDir string  `json:"output_dir"` // 音频输出目录
	Engine    string  `json:"engine"`     // TTS引擎名称
	Voice     string  `json:"voice"`      // 发音人
	Speed     float64 `json:"speed"`      // 语速倍率
	Format    string  `json:"format"`     // 输出格式: wav, mp3, both
	ChunkSize int     `json:"chunk_size"` // 文本分块大小（字符数）
}

// ChapterAudioResult 章节语音合成任务结果
type ChapterAudioResult struct {
	BookID    string `json:"book_id"`    // 书籍ID
	ChapterID uint   `json:"chapter_id"` // 章节记录ID
	AudioPath string `json:"audio_path"` // 生成的音频文件路径
	Engine    string `json:"engine"`     // 使用的TTS引擎
	Error     string `json:"error"`      // 错误信息（如果有）
}

// BookConvertPayload 整本书批量合成任务载荷
type BookConvertPayload struct {
	BookID    string  `json:"book_id"`    // 书籍ID
	OutputDir string  `json:"output_dir"` // 音频输出目录
	Engine    string  `json:"engine"`     // TTS引擎名称
	Voice     string  `json:"voice"`      // 发音人
	Speed     float64 `json:"speed"`      // 语速倍率
	Format    string  `json:"format"`     // 输出格式: wav, mp3, both
	ChunkSize int     `json:"chunk_size"` // 文本分块大小（字符数）
}

// BookConvertResult 整本书批量合成任务结果
// 批量任务本身只负责派生章节任务，合成结果记录在各章节任务上
type BookConvertResult struct {
	BookID   string   `json:"book_id"`  // 书籍ID
	Enqueued int      `json:"enqueued"` // 派生的章节任务数
	Skipped  int      `json:"skipped"`  // 跳过的章节数（已完成转换）
	TaskIDs  []string `json:"task_ids"` // 派生的章节任务ID列表
	Error    string   `json:"error"`    // 错误信息（如果有）
}
