package repository

import "github.com/fyerfyer/epub-audiobook/internal/models"

// BookRepository 书籍仓储接口
// 负责书籍和章节元数据的存储和检索
type BookRepository interface {
	// CreateBook 创建书籍记录
	CreateBook(book *models.Book) error

	// UpdateBook 更新书籍记录
	UpdateBook(book *models.Book) error

	// GetBookByID 根据ID获取书籍
	GetBookByID(id string) (*models.Book, error)

	// ListBooks 列出书籍列表，支持分页和筛选
	ListBooks(offset, limit int, filters map[string]interface{}) ([]*models.Book, int64, error)

	// DeleteBook 删除书籍及其全部章节
	DeleteBook(id string) error

	// UpdateBookStatus 更新书籍状态
	UpdateBookStatus(id string, status models.BookStatus, errorMsg string) error

	// SaveChapter 保存章节记录
	SaveChapter(chapter *models.Chapter) error

	// SaveChapters 批量保存章节记录
	SaveChapters(chapters []*models.Chapter) error

	// GetChapterByID 根据ID获取章节
	GetChapterByID(id uint) (*models.Chapter, error)

	// GetChapters 获取书籍的所有章节，按序号排序
	GetChapters(bookID string) ([]*models.Chapter, error)

	// CountChapters 统计书籍的章节数量
	CountChapters(bookID string) (int, error)

	// DeleteChapters 删除书籍的所有章节
	DeleteChapters(bookID string) error

	// UpdateAudioStatus 更新章节的音频转换状态
	UpdateAudioStatus(id uint, status models.AudioStatus, audioPath, errorMsg string) error

	// UpdateChapterTask 记录章节当前关联的任务ID
	UpdateChapterTask(id uint, taskID string) error
}
