package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/epub-audiobook/api/middleware"
	"github.com/fyerfyer/epub-audiobook/api/model"
	"github.com/fyerfyer/epub-audiobook/internal/models"
	"github.com/fyerfyer/epub-audiobook/internal/services"
)

// ChapterHandler 处理章节和音频相关的API请求
type ChapterHandler struct {
	library    *services.LibraryService    // 书库服务
	conversion *services.ConversionService // 音频转换服务
	logger     *logrus.Logger              // 日志记录器
}

// NewChapterHandler 创建新的章节处理器
func NewChapterHandler(library *services.LibraryService, conversion *services.ConversionService) *ChapterHandler {
	return &ChapterHandler{
		library:    library,
		conversion: conversion,
		logger:     middleware.GetLogger(),
	}
}

// ListChapters 获取书籍的章节列表
// GET /api/books/:id/chapters
func (h *ChapterHandler) ListChapters(c *gin.Context) {
	var uri model.BookIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的书籍ID"))
		return
	}

	chapters, err := h.library.GetChapters(c.Request.Context(), uri.ID)
	if err != nil {
		if errors.Is(err, models.ErrBookNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "书籍不存在"))
			return
		}

		h.logger.WithError(err).WithField("book_id", uri.ID).Error("Failed to list chapters")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(http.StatusInternalServerError, "获取章节列表失败"))
		return
	}

	infos := make([]model.ChapterInfo, len(chapters))
	for i, chapter := range chapters {
		infos[i] = model.NewChapterInfo(chapter)
	}

	resp := model.ChapterListResponse{
		BookID:   uri.ID,
		Total:    len(infos),
		Chapters: infos,
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// GetChapter 获取章节信息
// GET /api/chapters/:id
func (h *ChapterHandler) GetChapter(c *gin.Context) {
	var uri model.ChapterIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的章节ID"))
		return
	}

	chapter, err := h.library.GetChapter(c.Request.Context(), uri.ID)
	if err != nil {
		if errors.Is(err, models.ErrChapterNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "章节不存在"))
			return
		}

		h.logger.WithError(err).WithField("chapter_id", uri.ID).Error("Failed to get chapter")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(http.StatusInternalServerError, "获取章节信息失败"))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewChapterInfo(chapter)))
}

// GetChapterText 获取章节清洗后的文本
// GET /api/chapters/:id/text
func (h *ChapterHandler) GetChapterText(c *gin.Context) {
	var uri model.ChapterIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的章节ID"))
		return
	}

	chapter, err := h.library.GetChapter(c.Request.Context(), uri.ID)
	if err != nil {
		if errors.Is(err, models.ErrChapterNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "章节不存在"))
			return
		}

		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(http.StatusInternalServerError, "获取章节信息失败"))
		return
	}

	text, err := h.library.GetChapterText(c.Request.Context(), uri.ID)
	if err != nil {
		h.logger.WithError(err).WithField("chapter_id", uri.ID).Error("Failed to get chapter text")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(http.StatusInternalServerError, "获取章节文本失败"))
		return
	}

	resp := model.ChapterTextResponse{
		ChapterID: chapter.ID,
		Title:     chapter.Title,
		Text:      text,
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// ConvertChapter 触发单章音频转换
// POST /api/chapters/:id/audio
func (h *ChapterHandler) ConvertChapter(c *gin.Context) {
	var uri model.ChapterIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的章节ID"))
		return
	}

	// 请求体可以为空，使用默认转换配置
	var req model.ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的请求参数"))
		return
	}

	opts := services.ConvertOptions{
		Engine:    req.Engine,
		Voice:     req.Voice,
		Speed:     req.Speed,
		Format:    req.Format,
		ChunkSize: req.ChunkSize,
	}

	taskID, err := h.conversion.ConvertChapter(c.Request.Context(), uri.ID, opts)
	if err != nil {
		if errors.Is(err, models.ErrChapterNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "章节不存在"))
			return
		}

		h.logger.WithError(err).WithField("chapter_id", uri.ID).Error("Failed to convert chapter")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"章节转换失败: "+err.Error(),
		))
		return
	}

	resp := model.ConvertResponse{
		ChapterID: uri.ID,
		TaskID:    taskID,
	}
	if taskID == "" {
		resp.Status = string(models.AudioStatusCompleted)
	} else {
		resp.Status = "enqueued"
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// ConvertBook 触发整本书音频转换
// POST /api/books/:id/audio
func (h *ChapterHandler) ConvertBook(c *gin.Context) {
	var uri model.BookIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的书籍ID"))
		return
	}

	var req model.ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的请求参数"))
		return
	}

	opts := services.ConvertOptions{
		Engine:    req.Engine,
		Voice:     req.Voice,
		Speed:     req.Speed,
		Format:    req.Format,
		ChunkSize: req.ChunkSize,
	}

	taskID, summary, err := h.conversion.ConvertBook(c.Request.Context(), uri.ID, opts)
	if err != nil {
		if errors.Is(err, models.ErrBookNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "书籍不存在"))
			return
		}

		h.logger.WithError(err).WithField("book_id", uri.ID).Error("Failed to convert book")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"书籍转换失败: "+err.Error(),
		))
		return
	}

	resp := model.ConvertResponse{
		BookID: uri.ID,
		TaskID: taskID,
	}
	if summary != nil {
		resp.Status = "completed"
		resp.Converted = summary.Converted
		resp.Failed = summary.Failed
		resp.Skipped = summary.Skipped
	} else {
		resp.Status = "enqueued"
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// DownloadAudio 下载章节音频文件
// GET /api/chapters/:id/audio
func (h *ChapterHandler) DownloadAudio(c *gin.Context) {
	var uri model.ChapterIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的章节ID"))
		return
	}

	audioPath, err := h.conversion.GetAudioPath(c.Request.Context(), uri.ID)
	if err != nil {
		if errors.Is(err, models.ErrChapterNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "章节不存在"))
			return
		}

		c.JSON(http.StatusNotFound, model.NewErrorResponse(
			http.StatusNotFound,
			"音频尚未生成: "+err.Error(),
		))
		return
	}

	c.File(audioPath)
}
