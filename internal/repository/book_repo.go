package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/fyerfyer/epub-audiobook/internal/database"
	"github.com/fyerfyer/epub-audiobook/internal/models"
)

// bookRepository 书籍仓储实现
type bookRepository struct {
	db *gorm.DB // 数据库连接
}

// NewBookRepository 创建书籍仓储实例
func NewBookRepository() BookRepository {
	return &bookRepository{db: database.MustDB()}
}

// NewBookRepositoryWithDB 使用指定的数据库连接创建书籍仓储实例
func NewBookRepositoryWithDB(db *gorm.DB) BookRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &bookRepository{db: db}
}

// CreateBook 创建书籍记录
func (r *bookRepository) CreateBook(book *models.Book) error {
	if book.ID == "" {
		return errors.New("book ID cannot be empty")
	}
	return r.db.Create(book).Error
}

// UpdateBook 更新书籍记录
func (r *bookRepository) UpdateBook(book *models.Book) error {
	if book.ID == "" {
		return errors.New("book ID cannot be empty")
	}
	return r.db.Save(book).Error
}

// GetBookByID 根据ID获取书籍
func (r *bookRepository) GetBookByID(id string) (*models.Book, error) {
	var book models.Book
	err := r.db.Where("id = ?", id).First(&book).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrBookNotFound, id)
		}
		return nil, err
	}
	return &book, nil
}

// ListBooks 列出书籍列表，支持分页和筛选
func (r *bookRepository) ListBooks(offset, limit int, filters map[string]interface{}) ([]*models.Book, int64, error) {
	var books []*models.Book
	var total int64

	query := r.db.Model(&models.Book{})

	if filters != nil {
		if status, ok := filters["status"]; ok {
			switch s := status.(type) {
			case models.BookStatus:
				query = query.Where("status = ?", string(s))
			case string:
				if s != "" {
					query = query.Where("status = ?", s)
				}
			}
		}
		if title, ok := filters["title"].(string); ok && title != "" {
			query = query.Where("title LIKE ?", "%"+title+"%")
		}
		if author, ok := filters["author"].(string); ok && author != "" {
			query = query.Where("author LIKE ?", "%"+author+"%")
		}
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	err := query.Order("uploaded_at DESC").Find(&books).Error
	return books, total, err
}

// DeleteBook 删除书籍及其全部章节
func (r *bookRepository) DeleteBook(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("book_id = ?", id).Delete(&models.Chapter{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.Book{}).Error
	})
}

// UpdateBookStatus 更新书籍状态
func (r *bookRepository) UpdateBookStatus(id string, status models.BookStatus, errorMsg string) error {
	updates := map[string]interface{}{
		"status":     status,
		"error":      errorMsg,
		"updated_at": time.Now(),
	}
	if status == models.BookStatusSplit {
		updates["split_at"] = time.Now()
	}

	result := r.db.Model(&models.Book{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrBookNotFound, id)
	}
	return nil
}

// SaveChapter 保存章节记录
func (r *bookRepository) SaveChapter(chapter *models.Chapter) error {
	if chapter.BookID == "" {
		return errors.New("chapter book ID cannot be empty")
	}
	return r.db.Save(chapter).Error
}

// SaveChapters 批量保存章节记录
func (r *bookRepository) SaveChapters(chapters []*models.Chapter) error {
	if len(chapters) == 0 {
		return nil
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		for _, ch := range chapters {
			if ch.BookID == "" {
				return errors.New("chapter book ID cannot be empty")
			}
			if err := tx.Save(ch).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetChapterByID 根据ID获取章节
func (r *bookRepository) GetChapterByID(id uint) (*models.Chapter, error) {
	var chapter models.Chapter
	err := r.db.Where("id = ?", id).First(&chapter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", models.ErrChapterNotFound, id)
		}
		return nil, err
	}
	return &chapter, nil
}

// GetChapters 获取书籍的所有章节，按序号排序
func (r *bookRepository) GetChapters(bookID string) ([]*models.Chapter, error) {
	var chapters []*models.Chapter
	err := r.db.Where("book_id = ?", bookID).Order("ordinal ASC").Find(&chapters).Error
	return chapters, err
}

// CountChapters 统计书籍的章节数量
func (r *bookRepository) CountChapters(bookID string) (int, error) {
	var count int64
	err := r.db.Model(&models.Chapter{}).Where("book_id = ?", bookID).Count(&count).Error
	return int(count), err
}

// DeleteChapters 删除书籍的所有章节
func (r *bookRepository) DeleteChapters(bookID string) error {
	return r.db.Where("book_id = ?", bookID).Delete(&models.Chapter{}).Error
}

// UpdateAudioStatus 更新章节的音频转换状态
func (r *bookRepository) UpdateAudioStatus(id uint, status models.AudioStatus, audioPath, errorMsg string) error {
	updates := map[string]interface{}{
		"audio_status": status,
		"error":        errorMsg,
		"updated_at":   time.Now(),
	}
	if audioPath != "" {
		updates["audio_path"] = audioPath
	}
	if status == models.AudioStatusCompleted {
		updates["converted_at"] = time.Now()
	}
	if status == models.AudioStatusFailed {
		updates["retry_count"] = gorm.Expr("retry_count + 1")
	}

	result := r.db.Model(&models.Chapter{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", models.ErrChapterNotFound, id)
	}
	return nil
}

// UpdateChapterTask 记录章节当前关联的任务ID
func (r *bookRepository) UpdateChapterTask(id uint, taskID string) error {
	return r.db.Model(&models.Chapter{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"task_id":    taskID,
			"updated_at": time.Now(),
		}).Error
}
