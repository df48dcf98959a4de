package models

import (
	"errors"
	"fmt"
)

var (
	// ErrBookNotFound 书籍不存在错误
	ErrBookNotFound = errors.New("book not found")

	// ErrChapterNotFound 章节不存在错误
	ErrChapterNotFound = errors.New("chapter not found")

	// ErrInvalidFormat EPUB格式无效错误
	// 书籍无法解析时返回，对该书籍是致命错误，不重试
	ErrInvalidFormat = errors.New("invalid epub format")

	// ErrNoContent 文档无可用文本错误
	// 某个文档清洗后没有任何可朗读的文本，跳过该文档，处理继续
	ErrNoContent = errors.New("no extractable text content")

	// ErrNoChapters 没有章节达到最小词数阈值
	// 拆分结果为空时返回，调用方可以降低阈值后重试
	ErrNoChapters = errors.New("no chapter meets the minimum word count")
)

// EngineError TTS引擎调用错误
// 引擎失败会被有限次重试，超过次数后该章节标记为失败并跳过
type EngineError struct {
	Engine string // 引擎名称
	Chunk  int    // 出错的分块序号
	Err    error  // 底层错误
}

// Error 实现error接口
func (e *EngineError) Error() string {
	return fmt.Sprintf("tts engine %s failed on chunk %d: %v", e.Engine, e.Chunk, e.Err)
}

// Unwrap 支持errors.Is/As链式匹配
func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError 创建TTS引擎错误
func NewEngineError(engine string, chunk int, err error) *EngineError {
	return &EngineError{Engine: engine, Chunk: chunk, Err: err}
}
