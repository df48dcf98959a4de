package taskqueue

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/epub-audiobook/internal/epub"
	"github.com/fyerfyer/epub-audiobook/internal/models"
	"github.com/fyerfyer/epub-audiobook/internal/pipeline"
	"github.com/fyerfyer/epub-audiobook/internal/repository"
	"github.com/fyerfyer/epub-audiobook/internal/splitter"
	"github.com/fyerfyer/epub-audiobook/internal/tts"
)

// BookSplitHandler 书籍拆分任务处理器
// 读取上传的EPUB，按章节拆分并写出章节EPUB文件，
// 然后将章节记录保存到数据库。
// queue为nil时以同步方式使用，跳过任务结果写回
type BookSplitHandler struct {
	queue  Queue
	repo   repository.BookRepository
	logger *logrus.Logger
}

// NewBookSplitHandler 创建书籍拆分任务处理器
func NewBookSplitHandler(queue Queue, repo repository.BookRepository, logger *logrus.Logger) *BookSplitHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &BookSplitHandler{
		queue:  queue,
		repo:   repo,
		logger: logger,
	}
}

// GetTaskTypes 返回支持的任务类型
func (h *BookSplitHandler) GetTaskTypes() []TaskType {
	return []TaskType{TaskBookSplit}
}

// ProcessTask 处理书籍拆分任务
func (h *BookSplitHandler) ProcessTask(ctx context.Context, task *Task) error {
	var payload BookSplitPayload
	if err := UnmarshalPayload(task.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	result, err := h.Split(ctx, &payload)
	if err != nil {
		return err
	}

	if h.queue != nil {
		if err := h.queue.UpdateTaskStatus(ctx, task.ID, StatusProcessing, result, ""); err != nil {
			h.logger.WithError(err).WithField("task_id", task.ID).Warn("Failed to attach split result to task")
		}
	}

	return nil
}

// Split 执行书籍拆分并返回结果
func (h *BookSplitHandler) Split(ctx context.Context, payload *BookSplitPayload) (*BookSplitResult, error) {
	if payload.BookID == "" || payload.FilePath == "" {
		return nil, fmt.Errorf("%w: missing book_id or file_path", ErrInvalidPayload)
	}

	h.logger.WithFields(logrus.Fields{
		"book_id":   payload.BookID,
		"file_path": payload.FilePath,
	}).Info("Splitting book into chapters")

	if err := h.repo.UpdateBookStatus(payload.BookID, models.BookStatusSplitting, ""); err != nil {
		return nil, fmt.Errorf("failed to mark book as splitting: %w", err)
	}

	book, err := epub.Parse(payload.FilePath)
	if err != nil {
		h.failBook(payload.BookID, err)
		return nil, fmt.Errorf("failed to parse epub: %w", err)
	}

	cfg := splitter.DefaultConfig()
	if payload.MinWords > 0 {
		cfg.MinWords = payload.MinWords
	}

	chapters := splitter.NewSplitter(cfg, h.logger).Split(book)
	if len(chapters) == 0 {
		err := fmt.Errorf("%w: %s", models.ErrNoChapters, payload.FilePath)
		h.failBook(payload.BookID, err)
		return nil, err
	}

	baseName := payload.FileName
	if baseName == "" {
		baseName = filepath.Base(payload.FilePath)
	}
	baseName = strings.TrimSuffix(baseName, filepath.Ext(baseName))

	paths, err := splitter.WriteChapters(book, chapters, payload.OutputDir, baseName)
	if err != nil {
		h.failBook(payload.BookID, err)
		return nil, fmt.Errorf("failed to write chapter files: %w", err)
	}

	// 重新拆分时替换旧的章节记录
	if err := h.repo.DeleteChapters(payload.BookID); err != nil {
		h.failBook(payload.BookID, err)
		return nil, fmt.Errorf("failed to clear old chapters: %w", err)
	}

	records := make([]*models.Chapter, 0, len(chapters))
	for i, ch := range chapters {
		records = append(records, &models.Chapter{
			BookID:      payload.BookID,
			Ordinal:     ch.Ordinal,
			Title:       ch.Title,
			WordCount:   ch.WordCount,
			EpubPath:    paths[i],
			AudioStatus: models.AudioStatusPending,
		})
	}
	if err := h.repo.SaveChapters(records); err != nil {
		h.failBook(payload.BookID, err)
		return nil, fmt.Errorf("failed to save chapters: %w", err)
	}

	// 将EPUB元数据和拆分参数回填到书籍记录
	if record, err := h.repo.GetBookByID(payload.BookID); err == nil {
		if record.Title == "" {
			record.Title = book.Title
		}
		if record.Author == "" {
			record.Author = book.Author
		}
		if record.Language == "" {
			record.Language = book.Language
		}
		record.ChapterCount = len(chapters)
		record.MinWords = cfg.MinWords
		if err := h.repo.UpdateBook(record); err != nil {
			h.logger.WithError(err).WithField("book_id", payload.BookID).Warn("Failed to update book metadata")
		}
	}

	if err := h.repo.UpdateBookStatus(payload.BookID, models.BookStatusSplit, ""); err != nil {
		return nil, fmt.Errorf("failed to mark book as split: %w", err)
	}

	result := &BookSplitResult{
		BookID:       payload.BookID,
		Title:        book.Title,
		ChapterCount: len(chapters),
		Chapters:     make([]ChapterInfo, 0, len(records)),
	}
	for _, rec := range records {
		result.Chapters = append(result.Chapters, ChapterInfo{
			ChapterID: rec.ID,
			Ordinal:   rec.Ordinal,
			Title:     rec.Title,
			WordCount: rec.WordCount,
			EpubPath:  rec.EpubPath,
		})
	}

	h.logger.WithFields(logrus.Fields{
		"book_id":  payload.BookID,
		"chapters": len(chapters),
	}).Info("Book split completed")

	return result, nil
}

// failBook 将书籍标记为失败状态
func (h *BookSplitHandler) failBook(bookID string, cause error) {
	if err := h.repo.UpdateBookStatus(bookID, models.BookStatusFailed, cause.Error()); err != nil {
		h.logger.WithError(err).WithField("book_id", bookID).Error("Failed to mark book as failed")
	}
}

// ChapterAudioHandler 章节语音合成任务处理器
// 读取章节EPUB，通过TTS引擎合成并拼接章节音频，
// 成功后更新章节的音频路径和状态。
// queue为nil时以同步方式使用，跳过任务结果写回
type ChapterAudioHandler struct {
	queue    Queue
	repo     repository.BookRepository
	defaults pipeline.Config
	logger   *logrus.Logger
}

// NewChapterAudioHandler 创建章节语音合成任务处理器
// defaults为缺省管线配置，载荷中的同名字段优先
func NewChapterAudioHandler(queue Queue, repo repository.BookRepository, defaults pipeline.Config, logger *logrus.Logger) *ChapterAudioHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &ChapterAudioHandler{
		queue:    queue,
		repo:     repo,
		defaults: defaults,
		logger:   logger,
	}
}

// GetTaskTypes 返回支持的任务类型
func (h *ChapterAudioHandler) GetTaskTypes() []TaskType {
	return []TaskType{TaskChapterAudio}
}

// ProcessTask 处理章节语音合成任务
func (h *ChapterAudioHandler) ProcessTask(ctx context.Context, task *Task) error {
	var payload ChapterAudioPayload
	if err := UnmarshalPayload(task.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if payload.ChapterID != 0 {
		if err := h.repo.UpdateChapterTask(payload.ChapterID, task.ID); err != nil {
			h.logger.WithError(err).WithField("chapter_id", payload.ChapterID).Warn("Failed to record task id on chapter")
		}
	}

	result, err := h.Convert(ctx, &payload)
	if err != nil {
		return err
	}

	if h.queue != nil {
		if err := h.queue.UpdateTaskStatus(ctx, task.ID, StatusProcessing, result, ""); err != nil {
			h.logger.WithError(err).WithField("task_id", task.ID).Warn("Failed to attach audio result to task")
		}
	}

	return nil
}

// Convert 执行章节语音合成并返回结果
func (h *ChapterAudioHandler) Convert(ctx context.Context, payload *ChapterAudioPayload) (*ChapterAudioResult, error) {
	if payload.ChapterID == 0 || payload.EpubPath == "" {
		return nil, fmt.Errorf("%w: missing chapter_id or epub_path", ErrInvalidPayload)
	}

	h.logger.WithFields(logrus.Fields{
		"book_id":    payload.BookID,
		"chapter_id": payload.ChapterID,
		"engine":     payload.Engine,
	}).Info("Converting chapter to audio")

	if err := h.repo.UpdateAudioStatus(payload.ChapterID, models.AudioStatusConverting, "", ""); err != nil {
		return nil, fmt.Errorf("failed to mark chapter as converting: %w", err)
	}

	cfg := h.defaults
	if payload.Format != "" {
		cfg.Format = payload.Format
	}
	if payload.ChunkSize > 0 {
		cfg.ChunkSize = payload.ChunkSize
	}
	if payload.Voice != "" {
		cfg.Voice = payload.Voice
	}
	if payload.Speed > 0 {
		cfg.Speed = payload.Speed
	}

	engineName := payload.Engine
	if engineName == "" {
		engineName = h.defaults.Engine
	}
	if engineName == "" {
		engineName = "piper"
	}

	engine, err := tts.NewEngine(engineName,
		tts.WithVoice(cfg.Voice),
		tts.WithSpeed(cfg.Speed),
	)
	if err != nil {
		h.failChapter(payload.ChapterID, err)
		return nil, fmt.Errorf("failed to create tts engine: %w", err)
	}

	converter := pipeline.NewConverter(engine, cfg, h.logger)
	audioPath, err := converter.ConvertChapter(ctx, payload.EpubPath, payload.OutputDir)
	if err != nil {
		h.failChapter(payload.ChapterID, err)
		return nil, fmt.Errorf("failed to convert chapter: %w", err)
	}

	if err := h.repo.UpdateAudioStatus(payload.ChapterID, models.AudioStatusCompleted, audioPath, ""); err != nil {
		return nil, fmt.Errorf("failed to mark chapter as completed: %w", err)
	}

	h.logger.WithFields(logrus.Fields{
		"chapter_id": payload.ChapterID,
		"audio_path": audioPath,
	}).Info("Chapter audio conversion completed")

	return &ChapterAudioResult{
		BookID:    payload.BookID,
		ChapterID: payload.ChapterID,
		AudioPath: audioPath,
		Engine:    engineName,
	}, nil
}

// failChapter 将章节标记为失败状态
func (h *ChapterAudioHandler) failChapter(chapterID uint, cause error) {
	if err := h.repo.UpdateAudioStatus(chapterID, models.AudioStatusFailed, "", cause.Error()); err != nil {
		h.logger.WithError(err).WithField("chapter_id", chapterID).Error("Failed to mark chapter as failed")
	}
}

// BookConvertHandler 整本书批量合成任务处理器
// 为书籍的每个未完成章节派生一个章节合成任务
type BookConvertHandler struct {
	queue  Queue
	repo   repository.BookRepository
	logger *logrus.Logger
}

// NewBookConvertHandler 创建整本书批量合成任务处理器
func NewBookConvertHandler(queue Queue, repo repository.BookRepository, logger *logrus.Logger) *BookConvertHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &BookConvertHandler{
		queue:  queue,
		repo:   repo,
		logger: logger,
	}
}

// GetTaskTypes 返回支持的任务类型
func (h *BookConvertHandler) GetTaskTypes() []TaskType {
	return []TaskType{TaskBookConvert}
}

// ProcessTask 处理整本书批量合成任务
func (h *BookConvertHandler) ProcessTask(ctx context.Context, task *Task) error {
	var payload BookConvertPayload
	if err := UnmarshalPayload(task.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if payload.BookID == "" {
		return fmt.Errorf("%w: missing book_id", ErrInvalidPayload)
	}

	chapters, err := h.repo.GetChapters(payload.BookID)
	if err != nil {
		return fmt.Errorf("failed to load chapters: %w", err)
	}
	if len(chapters) == 0 {
		return fmt.Errorf("%w: book %s", models.ErrNoChapters, payload.BookID)
	}

	result := &BookConvertResult{
		BookID:  payload.BookID,
		TaskIDs: make([]string, 0, len(chapters)),
	}

	for _, ch := range chapters {
		// 已完成的章节不再重复合成
		if ch.AudioStatus == models.AudioStatusCompleted {
			result.Skipped++
			continue
		}

		chapterPayload := &ChapterAudioPayload{
			BookID:    payload.BookID,
			ChapterID: ch.ID,
			EpubPath:  ch.EpubPath,
			OutputDir: payload.OutputDir,
			Engine:    payload.Engine,
			Voice:     payload.Voice,
			Speed:     payload.Speed,
			Format:    payload.Format,
			ChunkSize: payload.ChunkSize,
		}

		taskID, err := h.queue.Enqueue(ctx, TaskChapterAudio, payload.BookID, chapterPayload)
		if err != nil {
			return fmt.Errorf("failed to enqueue chapter audio task for chapter %d: %w", ch.ID, err)
		}

		if err := h.repo.UpdateChapterTask(ch.ID, taskID); err != nil {
			h.logger.WithError(err).WithField("chapter_id", ch.ID).Warn("Failed to record task id on chapter")
		}

		result.Enqueued++
		result.TaskIDs = append(result.TaskIDs, taskID)
	}

	if err := h.queue.UpdateTaskStatus(ctx, task.ID, StatusProcessing, result, ""); err != nil {
		h.logger.WithError(err).WithField("task_id", task.ID).Warn("Failed to attach convert result to task")
	}

	h.logger.WithFields(logrus.Fields{
		"task_id":  task.ID,
		"book_id":  payload.BookID,
		"enqueued": result.Enqueued,
		"skipped":  result.Skipped,
	}).Info("Book convert task fanned out chapter audio tasks")

	return nil
}
