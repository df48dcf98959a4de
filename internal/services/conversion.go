package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/epub-audiobook/internal/models"
	"github.com/fyerfyer/epub-audiobook/internal/pipeline"
	"github.com/fyerfyer/epub-audiobook/internal/repository"
	"github.com/fyerfyer/epub-audiobook/pkg/taskqueue"
)

// ConversionService 音频转换服务
// 负责将章节EPUB转换为语音音频，支持同步与异步两种模式
type ConversionService struct {
	repo         repository.BookRepository // 书籍元数据存储
	taskQueue    taskqueue.Queue           // 任务队列
	defaults     pipeline.Config           // 默认转换配置
	audioDir     string                    // 音频输出目录
	asyncEnabled bool                      // 是否启用异步处理
	timeout      time.Duration             // 同步转换超时时间
	logger       *logrus.Logger            // 日志记录器
}

// ConversionOption 转换服务配置选项
type ConversionOption func(*ConversionService)

// NewConversionService 创建一个新的音频转换服务
func NewConversionService(repo repository.BookRepository, opts ...ConversionOption) *ConversionService {
	srv := &ConversionService{
		repo:     repo,
		defaults: pipeline.DefaultConfig(),
		audioDir: "data/audio",
		timeout:  time.Minute * 30, // 单章转换可能很慢
		logger:   logrus.New(),
	}

	for _, opt := range opts {
		opt(srv)
	}

	return srv
}

// WithConversionTaskQueue 设置任务队列
func WithConversionTaskQueue(queue taskqueue.Queue) ConversionOption {
	return func(s *ConversionService) {
		s.taskQueue = queue
		s.asyncEnabled = queue != nil
	}
}

// WithConversionAsync 设置是否启用异步处理
func WithConversionAsync(enabled bool) ConversionOption {
	return func(s *ConversionService) {
		s.asyncEnabled = enabled
	}
}

// WithAudioDir 设置音频输出目录
func WithAudioDir(dir string) ConversionOption {
	return func(s *ConversionService) {
		if dir != "" {
			s.audioDir = dir
		}
	}
}

// WithPipelineDefaults 设置默认转换配置
func WithPipelineDefaults(cfg pipeline.Config) ConversionOption {
	return func(s *ConversionService) {
		s.defaults = cfg
	}
}

// WithConversionTimeout 设置同步转换超时时间
func WithConversionTimeout(timeout time.Duration) ConversionOption {
	return func(s *ConversionService) {
		s.timeout = timeout
	}
}

// WithConversionLogger 设置日志记录器
func WithConversionLogger(logger *logrus.Logger) ConversionOption {
	return func(s *ConversionService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// ConvertOptions 单次转换的参数覆盖
// 零值字段使用服务的默认配置
type ConvertOptions struct {
	Engine    string  // TTS引擎名称
	Voice     string  // 语音模型
	Speed     float64 // 语速倍率
	Format    string  // 输出音频格式
	ChunkSize int     // 文本分块大小（字符数）
}

// ConvertChapter 转换单个章节的音频
// 异步模式返回任务ID；同步模式阻塞直到转换完成并返回空任务ID
func (s *ConversionService) ConvertChapter(ctx context.Context, chapterID uint, opts ConvertOptions) (string, error) {
	chapter, err := s.repo.GetChapterByID(chapterID)
	if err != nil {
		return "", err
	}

	payload := s.buildChapterPayload(chapter, opts)

	// 异步处理：任务入队
	if s.asyncEnabled && s.taskQueue != nil {
		taskID, err := s.taskQueue.Enqueue(ctx, taskqueue.TaskChapterAudio, chapter.BookID, payload)
		if err != nil {
			return "", fmt.Errorf("failed to enqueue chapter audio task: %w", err)
		}

		if err := s.repo.UpdateChapterTask(chapterID, taskID); err != nil {
			s.logger.WithError(err).WithField("chapter_id", chapterID).Warn("Failed to record task id on chapter")
		}

		s.logger.WithFields(logrus.Fields{
			"book_id":    chapter.BookID,
			"chapter_id": chapterID,
			"task_id":    taskID,
		}).Info("Chapter audio task enqueued")

		return taskID, nil
	}

	// 同步处理
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	handler := taskqueue.NewChapterAudioHandler(nil, s.repo, s.defaults, s.logger)
	if _, err := handler.Convert(ctx, payload); err != nil {
		return "", err
	}

	return "", nil
}

// BookConversionSummary 整本书同步转换的结果汇总
type BookConversionSummary struct {
	BookID    string `json:"book_id"`
	Converted int    `json:"converted"` // 本次成功转换的章节数
	Failed    int    `json:"failed"`    // 转换失败的章节数
	Skipped   int    `json:"skipped"`   // 已有音频被跳过的章节数
}

// ConvertBook 转换整本书的音频
// 异步模式下入队一个扇出任务并返回任务ID；
// 同步模式下逐章转换，单章失败不中断其余章节
func (s *ConversionService) ConvertBook(ctx context.Context, bookID string, opts ConvertOptions) (string, *BookConversionSummary, error) {
	book, err := s.repo.GetBookByID(bookID)
	if err != nil {
		return "", nil, err
	}

	if book.Status != models.BookStatusSplit {
		return "", nil, fmt.Errorf("book %s is not split yet (status: %s)", bookID, book.Status)
	}

	// 异步处理：入队整本书的扇出任务
	if s.asyncEnabled && s.taskQueue != nil {
		cfg := s.resolveConfig(opts)
		payload := &taskqueue.BookConvertPayload{
			BookID:    bookID,
			OutputDir: s.bookAudioDir(bookID),
			Engine:    s.resolveEngine(opts.Engine),
			Voice:     cfg.Voice,
			Speed:     cfg.Speed,
			Format:    cfg.Format,
			ChunkSize: cfg.ChunkSize,
		}

		taskID, err := s.taskQueue.Enqueue(ctx, taskqueue.TaskBookConvert, bookID, payload)
		if err != nil {
			return "", nil, fmt.Errorf("failed to enqueue book convert task: %w", err)
		}

		s.logger.WithFields(logrus.Fields{
			"book_id": bookID,
			"task_id": taskID,
		}).Info("Book convert task enqueued")

		return taskID, nil, nil
	}

	// 同步处理：逐章转换
	chapters, err := s.repo.GetChapters(bookID)
	if err != nil {
		return "", nil, err
	}
	if len(chapters) == 0 {
		return "", nil, fmt.Errorf("%w: book %s", models.ErrNoChapters, bookID)
	}

	summary := &BookConversionSummary{BookID: bookID}
	handler := taskqueue.NewChapterAudioHandler(nil, s.repo, s.defaults, s.logger)

	for _, chapter := range chapters {
		if chapter.AudioStatus == models.AudioStatusCompleted {
			summary.Skipped++
			continue
		}

		payload := s.buildChapterPayload(chapter, opts)
		if _, err := handler.Convert(ctx, payload); err != nil {
			// 单章失败不中断整本书的转换
			s.logger.WithError(err).WithFields(logrus.Fields{
				"book_id":    bookID,
				"chapter_id": chapter.ID,
			}).Error("Chapter conversion failed")
			summary.Failed++
			continue
		}
		summary.Converted++
	}

	s.logger.WithFields(logrus.Fields{
		"book_id":   bookID,
		"converted": summary.Converted,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
	}).Info("Book conversion finished")

	return "", summary, nil
}

// WaitForConversion 等待转换任务完成
// 仅在异步模式下可用
func (s *ConversionService) WaitForConversion(ctx context.Context, taskID string, timeout time.Duration) (*taskqueue.Task, error) {
	if !s.asyncEnabled || s.taskQueue == nil {
		return nil, errors.New("async processing not enabled")
	}
	return s.taskQueue.WaitForTask(ctx, taskID, timeout)
}

// GetAudioPath 返回章节音频文件路径
// 章节音频尚未完成时返回错误
func (s *ConversionService) GetAudioPath(ctx context.Context, chapterID uint) (string, error) {
	chapter, err := s.repo.GetChapterByID(chapterID)
	if err != nil {
		return "", err
	}

	if chapter.AudioStatus != models.AudioStatusCompleted || chapter.AudioPath == "" {
		return "", fmt.Errorf("audio not available for chapter %d (status: %s)", chapterID, chapter.AudioStatus)
	}

	return chapter.AudioPath, nil
}

// buildChapterPayload 根据章节记录和参数覆盖构造转换载荷
func (s *ConversionService) buildChapterPayload(chapter *models.Chapter, opts ConvertOptions) *taskqueue.ChapterAudioPayload {
	cfg := s.resolveConfig(opts)

	return &taskqueue.ChapterAudioPayload{
		BookID:    chapter.BookID,
		ChapterID: chapter.ID,
		EpubPath:  chapter.EpubPath,
		OutputDir: s.bookAudioDir(chapter.BookID),
		Engine:    s.resolveEngine(opts.Engine),
		Voice:     cfg.Voice,
		Speed:     cfg.Speed,
		Format:    cfg.Format,
		ChunkSize: cfg.ChunkSize,
	}
}

// resolveConfig 用参数覆盖合并默认转换配置
func (s *ConversionService) resolveConfig(opts ConvertOptions) pipeline.Config {
	cfg := s.defaults
	if opts.Voice != "" {
		cfg.Voice = opts.Voice
	}
	if opts.Speed > 0 {
		cfg.Speed = opts.Speed
	}
	if opts.Format != "" {
		cfg.Format = opts.Format
	}
	if opts.ChunkSize > 0 {
		cfg.ChunkSize = opts.ChunkSize
	}
	return cfg
}

// resolveEngine 解析本次转换使用的引擎名称
// 请求未指定时使用服务配置的默认引擎
func (s *ConversionService) resolveEngine(engine string) string {
	if engine != "" {
		return engine
	}
	if s.defaults.Engine != "" {
		return s.defaults.Engine
	}
	return "piper"
}

// bookAudioDir 返回某本书的音频输出目录
func (s *ConversionService) bookAudioDir(bookID string) string {
	return filepath.Join(s.audioDir, bookID)
}
