package handler

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/epub-audiobook/api/middleware"
	"github.com/fyerfyer/epub-audiobook/api/model"
	"github.com/fyerfyer/epub-audiobook/internal/models"
	"github.com/fyerfyer/epub-audiobook/internal/services"
)

// BookHandler 处理书籍相关的API请求
type BookHandler struct {
	library *services.LibraryService // 书库服务
	logger  *logrus.Logger           // 日志记录器
}

// NewBookHandler 创建新的书籍处理器
func NewBookHandler(library *services.LibraryService) *BookHandler {
	return &BookHandler{
		library: library,
		logger:  middleware.GetLogger(),
	}
}

// UploadBook 处理书籍上传请求
// POST /api/books
func (h *BookHandler) UploadBook(c *gin.Context) {
	var req model.BookUploadRequest
	if err := c.ShouldBind(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid book upload request")
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的请求参数",
		))
		return
	}

	filename := req.File.Filename
	if !strings.EqualFold(filepath.Ext(filename), ".epub") {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"不支持的文件类型，仅支持 .epub",
		))
		return
	}

	file, err := req.File.Open()
	if err != nil {
		h.logger.WithError(err).WithField("filename", filename).Error("Failed to open uploaded file")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"无法打开上传的文件",
		))
		return
	}
	defer file.Close()

	book, err := h.library.UploadBook(c.Request.Context(), filename, file)
	if err != nil {
		h.logger.WithError(err).WithField("filename", filename).Error("Failed to save book")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"保存书籍失败",
		))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"book_id":  book.ID,
		"filename": book.FileName,
		"size":     book.FileSize,
	}).Info("Book uploaded successfully")

	resp := model.BookUploadResponse{
		BookID:   book.ID,
		FileName: book.FileName,
		Status:   string(book.Status),
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// SplitBook 触发书籍章节拆分
// POST /api/books/:id/split
func (h *BookHandler) SplitBook(c *gin.Context) {
	var uri model.BookIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的书籍ID"))
		return
	}

	// 请求体可以为空，使用默认拆分配置
	var req model.BookSplitRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的请求参数"))
		return
	}

	taskID, err := h.library.SplitBook(c.Request.Context(), uri.ID, req.MinWords)
	if err != nil {
		if errors.Is(err, models.ErrBookNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "书籍不存在"))
			return
		}

		h.logger.WithError(err).WithField("book_id", uri.ID).Error("Failed to split book")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"拆分书籍失败: "+err.Error(),
		))
		return
	}

	book, err := h.library.GetBook(c.Request.Context(), uri.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(http.StatusInternalServerError, "获取书籍状态失败"))
		return
	}

	resp := model.SplitResponse{
		BookID: uri.ID,
		TaskID: taskID,
		Status: string(book.Status),
	}
	if taskID == "" {
		resp.ChapterCount = book.ChapterCount
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// GetBook 获取书籍信息
// GET /api/books/:id
func (h *BookHandler) GetBook(c *gin.Context) {
	var uri model.BookIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的书籍ID"))
		return
	}

	book, err := h.library.GetBook(c.Request.Context(), uri.ID)
	if err != nil {
		if errors.Is(err, models.ErrBookNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "书籍不存在"))
			return
		}

		h.logger.WithError(err).WithField("book_id", uri.ID).Error("Failed to get book info")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(http.StatusInternalServerError, "获取书籍信息失败"))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewBookInfo(book)))
}

// ListBooks 获取书籍列表
// GET /api/books
func (h *BookHandler) ListBooks(c *gin.Context) {
	var req model.BookListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的查询参数"))
		return
	}

	filters := make(map[string]interface{})
	if req.Status != "" {
		filters["status"] = req.Status
	}

	page := req.GetPage()
	pageSize := req.GetPageSize()
	offset := (page - 1) * pageSize

	books, total, err := h.library.ListBooks(c.Request.Context(), offset, pageSize, filters)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list books")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(http.StatusInternalServerError, "获取书籍列表失败"))
		return
	}

	infos := make([]model.BookInfo, len(books))
	for i, book := range books {
		infos[i] = model.NewBookInfo(book)
	}

	resp := model.BookListResponse{
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Books:    infos,
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// DeleteBook 删除书籍及其章节和音频
// DELETE /api/books/:id
func (h *BookHandler) DeleteBook(c *gin.Context) {
	var uri model.BookIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的书籍ID"))
		return
	}

	if err := h.library.DeleteBook(c.Request.Context(), uri.ID); err != nil {
		if errors.Is(err, models.ErrBookNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "书籍不存在"))
			return
		}

		h.logger.WithError(err).WithField("book_id", uri.ID).Error("Failed to delete book")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"删除书籍失败",
		))
		return
	}

	h.logger.WithField("book_id", uri.ID).Info("Book deleted successfully")

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.BookDeleteResponse{
		Success: true,
		BookID:  uri.ID,
	}))
}
