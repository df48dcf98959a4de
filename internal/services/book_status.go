package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/epub-audiobook/internal/models"
	"github.com/fyerfyer/epub-audiobook/internal/repository"
)

// BookStatusManager 书籍状态管理器
// 负责管理书籍处理的生命周期状态
type BookStatusManager struct {
	repo   repository.BookRepository // 书籍仓储接口
	logger *logrus.Logger            // 日志记录器
	mu     sync.Mutex                // 互斥锁，保证状态转换的原子性
}

// NewBookStatusManager 创建书籍状态管理器
func NewBookStatusManager(repo repository.BookRepository, logger *logrus.Logger) *BookStatusManager {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}

	return &BookStatusManager{
		repo:   repo,
		logger: logger,
	}
}

// MarkAsUploaded 将书籍标记为已上传状态
func (m *BookStatusManager) MarkAsUploaded(ctx context.Context, bookID string, fileName string, filePath string, fileSize int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"book_id":  bookID,
		"filename": fileName,
	}).Info("Marking book as uploaded")

	// 创建新的书籍记录
	book := &models.Book{
		ID:         bookID,
		FileName:   fileName,
		FilePath:   filePath,
		FileSize:   fileSize,
		Status:     models.BookStatusUploaded,
		UploadedAt: time.Now(),
		UpdatedAt:  time.Now(),
	}

	// 保存到仓储
	return m.repo.CreateBook(book)
}

// MarkAsSplitting 将书籍标记为拆分中状态
func (m *BookStatusManager) MarkAsSplitting(ctx context.Context, bookID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 获取当前书籍
	book, err := m.repo.GetBookByID(bookID)
	if err != nil {
		return fmt.Errorf("failed to get book: %w", err)
	}

	// 检查状态转换的有效性
	if err := m.ValidateStateTransition(book.Status, models.BookStatusSplitting); err != nil {
		return fmt.Errorf("invalid state transition: book %s is in %s state", bookID, book.Status)
	}

	m.logger.WithField("book_id", bookID).Info("Marking book as splitting")

	// 更新状态
	return m.repo.UpdateBookStatus(bookID, models.BookStatusSplitting, "")
}

// MarkAsSplit 将书籍标记为拆分完成状态
func (m *BookStatusManager) MarkAsSplit(ctx context.Context, bookID string, chapterCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 获取当前书籍
	book, err := m.repo.GetBookByID(bookID)
	if err != nil {
		return fmt.Errorf("failed to get book: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"book_id":       bookID,
		"chapter_count": chapterCount,
	}).Info("Marking book as split")

	// 更新章节数量
	book.ChapterCount = chapterCount
	if err := m.repo.UpdateBook(book); err != nil {
		return err
	}

	// 更新状态
	return m.repo.UpdateBookStatus(bookID, models.BookStatusSplit, "")
}

// MarkAsFailed 将书籍标记为处理失败状态
func (m *BookStatusManager) MarkAsFailed(ctx context.Context, bookID string, errorMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 获取当前书籍
	_, err := m.repo.GetBookByID(bookID)
	if err != nil {
		return fmt.Errorf("failed to get book: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"book_id": bookID,
		"error":   errorMsg,
	}).Error("Marking book as failed")

	// 更新状态
	return m.repo.UpdateBookStatus(bookID, models.BookStatusFailed, errorMsg)
}

// GetStatus 获取书籍当前状态
func (m *BookStatusManager) GetStatus(ctx context.Context, bookID string) (models.BookStatus, error) {
	book, err := m.repo.GetBookByID(bookID)
	if err != nil {
		return "", fmt.Errorf("failed to get book status: %w", err)
	}
	return book.Status, nil
}

// GetBook 获取完整的书籍对象
func (m *BookStatusManager) GetBook(ctx context.Context, bookID string) (*models.Book, error) {
	return m.repo.GetBookByID(bookID)
}

// ListBooks 获取书籍列表
func (m *BookStatusManager) ListBooks(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.Book, int64, error) {
	return m.repo.ListBooks(offset, limit, filters)
}

// DeleteBook 删除书籍记录及其章节记录
func (m *BookStatusManager) DeleteBook(ctx context.Context, bookID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.WithField("book_id", bookID).Info("Deleting book record")
	return m.repo.DeleteBook(bookID)
}

// ValidateStateTransition 验证状态转换的有效性
func (m *BookStatusManager) ValidateStateTransition(from, to models.BookStatus) error {
	// 定义有效的状态转换
	validTransitions := map[models.BookStatus][]models.BookStatus{
		models.BookStatusUploaded: {
			models.BookStatusSplitting,
			models.BookStatusFailed, // 上传后可能立即失败
		},
		models.BookStatusSplitting: {
			models.BookStatusSplit,
			models.BookStatusFailed,
		},
		// 拆分完成后允许重新拆分
		models.BookStatusSplit: {
			models.BookStatusSplitting,
		},
		// 失败后允许重试
		models.BookStatusFailed: {
			models.BookStatusSplitting,
		},
	}

	// 检查是否是有效转换
	allowed := false
	for _, validTo := range validTransitions[from] {
		if validTo == to {
			allowed = true
			break
		}
	}

	if !allowed {
		return errors.New("invalid state transition")
	}

	return nil
}
