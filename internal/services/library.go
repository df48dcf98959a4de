package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/epub-audiobook/internal/cache"
	"github.com/fyerfyer/epub-audiobook/internal/epub"
	"github.com/fyerfyer/epub-audiobook/internal/models"
	"github.com/fyerfyer/epub-audiobook/internal/repository"
	"github.com/fyerfyer/epub-audiobook/internal/textclean"
	"github.com/fyerfyer/epub-audiobook/pkg/storage"
	"github.com/fyerfyer/epub-audiobook/pkg/taskqueue"
)

// LibraryService 书库服务
// 负责协调书籍上传、章节拆分和元数据管理
type LibraryService struct {
	storage       storage.Storage            // 文件存储服务
	repo          repository.BookRepository  // 书籍元数据存储
	statusManager *BookStatusManager         // 书籍状态管理器
	taskQueue     taskqueue.Queue            // 任务队列
	textCache     *cache.ChapterTextCache    // 章节文本缓存
	asyncEnabled  bool                       // 是否启用异步处理
	chaptersDir   string                     // 章节EPUB输出目录
	minWords      int                        // 章节最小词数阈值
	timeout       time.Duration              // 同步处理超时时间
	logger        *logrus.Logger             // 日志记录器
}

// LibraryOption 书库服务配置选项
type LibraryOption func(*LibraryService)

// NewLibraryService 创建一个新的书库服务
func NewLibraryService(store storage.Storage, opts ...LibraryOption) *LibraryService {
	srv := &LibraryService{
		storage:      store,
		chaptersDir:  "data/chapters",
		minWords:     100,             // 默认章节最小词数
		timeout:      time.Minute * 5, // 默认超时时间
		logger:       logrus.New(),
		asyncEnabled: false,
	}

	for _, opt := range opts {
		opt(srv)
	}

	return srv
}

// WithBookRepository 设置书籍仓储
func WithBookRepository(repo repository.BookRepository) LibraryOption {
	return func(s *LibraryService) {
		s.repo = repo
	}
}

// WithStatusManager 设置状态管理器
func WithStatusManager(manager *BookStatusManager) LibraryOption {
	return func(s *LibraryService) {
		s.statusManager = manager
	}
}

// WithTaskQueue 设置任务队列
func WithTaskQueue(queue taskqueue.Queue) LibraryOption {
	return func(s *LibraryService) {
		s.taskQueue = queue
		s.asyncEnabled = queue != nil
	}
}

// WithAsyncProcessing 设置是否启用异步处理
func WithAsyncProcessing(enabled bool) LibraryOption {
	return func(s *LibraryService) {
		s.asyncEnabled = enabled
	}
}

// WithChaptersDir 设置章节EPUB输出目录
func WithChaptersDir(dir string) LibraryOption {
	return func(s *LibraryService) {
		if dir != "" {
			s.chaptersDir = dir
		}
	}
}

// WithMinWords 设置章节最小词数阈值
func WithMinWords(minWords int) LibraryOption {
	return func(s *LibraryService) {
		if minWords > 0 {
			s.minWords = minWords
		}
	}
}

// WithTimeout 设置同步处理超时时间
func WithTimeout(timeout time.Duration) LibraryOption {
	return func(s *LibraryService) {
		s.timeout = timeout
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) LibraryOption {
	return func(s *LibraryService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithChapterTextCache 设置章节文本缓存
func WithChapterTextCache(textCache *cache.ChapterTextCache) LibraryOption {
	return func(s *LibraryService) {
		s.textCache = textCache
	}
}

// Init 初始化书库服务
// 确保必要的依赖都已设置
func (s *LibraryService) Init() error {
	if s.repo == nil {
		s.repo = repository.NewBookRepository()
	}
	if s.statusManager == nil {
		s.statusManager = NewBookStatusManager(s.repo, s.logger)
	}
	return nil
}

// UploadBook 上传书籍文件并创建书籍记录
func (s *LibraryService) UploadBook(ctx context.Context, fileName string, reader io.Reader) (*models.Book, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}

	if filepath.Ext(fileName) != ".epub" {
		return nil, fmt.Errorf("%w: expected .epub file, got %s", models.ErrInvalidFormat, fileName)
	}

	// 保存文件到存储
	fileInfo, err := s.storage.Save(reader, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to save file: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"book_id":  fileInfo.ID,
		"filename": fileName,
		"size":     fileInfo.Size,
	}).Info("Book file uploaded")

	// 创建书籍记录
	if err := s.statusManager.MarkAsUploaded(ctx, fileInfo.ID, fileName, fileInfo.Path, fileInfo.Size); err != nil {
		// 记录创建失败，回滚已保存的文件
		if delErr := s.storage.Delete(fileInfo.ID); delErr != nil {
			s.logger.WithError(delErr).Warn("Failed to clean up file after record creation failure")
		}
		return nil, fmt.Errorf("failed to create book record: %w", err)
	}

	return s.repo.GetBookByID(fileInfo.ID)
}

// SplitBook 将书籍拆分为章节
// 异步模式下任务入队后立即返回任务ID；同步模式下阻塞直到拆分完成
func (s *LibraryService) SplitBook(ctx context.Context, bookID string, minWords int) (string, error) {
	if err := s.Init(); err != nil {
		return "", err
	}

	book, err := s.repo.GetBookByID(bookID)
	if err != nil {
		return "", err
	}

	if minWords <= 0 {
		minWords = s.minWords
	}

	// 将上传的EPUB落到本地工作目录，拆分器按路径读取
	localPath, err := s.ensureLocalCopy(book)
	if err != nil {
		return "", fmt.Errorf("failed to materialize book file: %w", err)
	}

	payload := &taskqueue.BookSplitPayload{
		BookID:    bookID,
		FilePath:  localPath,
		FileName:  book.FileName,
		MinWords:  minWords,
		OutputDir: s.bookChaptersDir(bookID),
	}

	// 异步处理：任务入队
	if s.asyncEnabled && s.taskQueue != nil {
		taskID, err := s.taskQueue.Enqueue(ctx, taskqueue.TaskBookSplit, bookID, payload)
		if err != nil {
			return "", fmt.Errorf("failed to enqueue split task: %w", err)
		}

		s.logger.WithFields(logrus.Fields{
			"book_id": bookID,
			"task_id": taskID,
		}).Info("Book split task enqueued")

		return taskID, nil
	}

	// 同步处理
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	handler := taskqueue.NewBookSplitHandler(nil, s.repo, s.logger)
	if _, err := handler.Split(ctx, payload); err != nil {
		return "", err
	}

	return "", nil
}

// GetBook 获取书籍记录
func (s *LibraryService) GetBook(ctx context.Context, bookID string) (*models.Book, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s.repo.GetBookByID(bookID)
}

// ListBooks 获取书籍列表
func (s *LibraryService) ListBooks(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.Book, int64, error) {
	if err := s.Init(); err != nil {
		return nil, 0, err
	}
	return s.statusManager.ListBooks(ctx, offset, limit, filters)
}

// DeleteBook 删除书籍及其相关数据
// 包括存储中的原始文件、章节EPUB文件、音频文件和数据库记录
func (s *LibraryService) DeleteBook(ctx context.Context, bookID string) error {
	if err := s.Init(); err != nil {
		return err
	}

	s.logger.WithField("book_id", bookID).Info("Deleting book")

	// 获取章节记录以清理缓存和产物文件
	chapters, err := s.repo.GetChapters(bookID)
	if err == nil {
		for _, ch := range chapters {
			if s.textCache != nil {
				if err := s.textCache.Invalidate(ch.ID); err != nil {
					s.logger.WithError(err).WithField("chapter_id", ch.ID).Debug("Failed to invalidate chapter text cache")
				}
			}
			if ch.AudioPath != "" {
				if err := os.Remove(ch.AudioPath); err != nil && !os.IsNotExist(err) {
					s.logger.WithError(err).WithField("chapter_id", ch.ID).Warn("Failed to remove chapter audio file")
				}
			}
		}
	}

	// 删除章节工作目录
	if err := os.RemoveAll(s.bookChaptersDir(bookID)); err != nil {
		s.logger.WithError(err).WithField("book_id", bookID).Warn("Failed to remove chapter directory")
	}

	// 删除存储中的原始文件
	if err := s.storage.Delete(bookID); err != nil {
		// 文件可能已被删除，记录错误但不中断流程
		s.logger.WithError(err).Warn("Failed to delete book file from storage")
	}

	// 删除队列中的相关任务
	if s.taskQueue != nil {
		tasks, err := s.taskQueue.GetTasksByBook(ctx, bookID)
		if err == nil {
			for _, task := range tasks {
				if err := s.taskQueue.DeleteTask(ctx, task.ID); err != nil {
					s.logger.WithError(err).WithField("task_id", task.ID).Warn("Failed to delete book task")
				}
			}
		}
	}

	// 删除数据库记录（书籍和章节）
	if err := s.statusManager.DeleteBook(ctx, bookID); err != nil {
		return fmt.Errorf("failed to delete book record: %w", err)
	}

	s.logger.WithField("book_id", bookID).Info("Book deleted successfully")
	return nil
}

// GetChapters 获取书籍的章节列表
func (s *LibraryService) GetChapters(ctx context.Context, bookID string) ([]*models.Chapter, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}

	// 确认书籍存在
	if _, err := s.repo.GetBookByID(bookID); err != nil {
		return nil, err
	}

	return s.repo.GetChapters(bookID)
}

// GetChapter 获取章节记录
func (s *LibraryService) GetChapter(ctx context.Context, chapterID uint) (*models.Chapter, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s.repo.GetChapterByID(chapterID)
}

// GetChapterText 获取章节清洗后的文本
// 结果会写入缓存，重复读取不再解析EPUB
func (s *LibraryService) GetChapterText(ctx context.Context, chapterID uint) (string, error) {
	if err := s.Init(); err != nil {
		return "", err
	}

	// 先查缓存
	if s.textCache != nil {
		if text, found, err := s.textCache.Get(chapterID); err == nil && found {
			return text, nil
		}
	}

	chapter, err := s.repo.GetChapterByID(chapterID)
	if err != nil {
		return "", err
	}

	book, err := epub.Parse(chapter.EpubPath)
	if err != nil {
		return "", fmt.Errorf("failed to parse chapter epub: %w", err)
	}

	var text string
	for _, doc := range book.Documents {
		if cleaned := textclean.Clean(string(doc.Content)); cleaned != "" {
			if text != "" {
				text += "\n"
			}
			text += cleaned
		}
	}

	if text == "" {
		return "", fmt.Errorf("%w: chapter %d", models.ErrNoContent, chapterID)
	}

	// 写入缓存，失败不影响返回
	if s.textCache != nil {
		if err := s.textCache.Set(chapterID, text); err != nil {
			s.logger.WithError(err).WithField("chapter_id", chapterID).Debug("Failed to cache chapter text")
		}
	}

	return text, nil
}

// GetBookTasks 获取书籍相关的任务
func (s *LibraryService) GetBookTasks(ctx context.Context, bookID string) ([]*taskqueue.Task, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}

	if !s.asyncEnabled || s.taskQueue == nil {
		return nil, errors.New("async processing not enabled")
	}

	return s.taskQueue.GetTasksByBook(ctx, bookID)
}

// WaitForSplit 等待拆分任务完成
// 仅在异步模式下可用
func (s *LibraryService) WaitForSplit(ctx context.Context, taskID string, timeout time.Duration) (*taskqueue.Task, error) {
	if !s.asyncEnabled || s.taskQueue == nil {
		return nil, errors.New("async processing not enabled")
	}
	return s.taskQueue.WaitForTask(ctx, taskID, timeout)
}

// GetStatusManager 返回书籍状态管理器实例
func (s *LibraryService) GetStatusManager() *BookStatusManager {
	return s.statusManager
}

// GetTaskQueue 返回任务队列实例
func (s *LibraryService) GetTaskQueue() taskqueue.Queue {
	return s.taskQueue
}

// bookChaptersDir 返回某本书的章节工作目录
func (s *LibraryService) bookChaptersDir(bookID string) string {
	return filepath.Join(s.chaptersDir, bookID)
}

// ensureLocalCopy 确保上传的EPUB在本地工作目录中有一份副本
// 拆分器和异步工作者都按文件路径读取
func (s *LibraryService) ensureLocalCopy(book *models.Book) (string, error) {
	dir := s.bookChaptersDir(book.ID)
	localPath := filepath.Join(dir, "source.epub")

	if _, err := os.Stat(localPath); err == nil {
		return localPath, nil
	}

	reader, err := s.storage.Get(book.ID)
	if err != nil {
		return "", fmt.Errorf("failed to get book file from storage: %w", err)
	}
	defer reader.Close()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	out, err := os.Create(localPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, reader); err != nil {
		os.Remove(localPath)
		return "", fmt.Errorf("failed to copy book file: %w", err)
	}

	return localPath, nil
}
