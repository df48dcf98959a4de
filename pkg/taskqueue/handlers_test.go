package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fyerfyer/epub-audiobook/internal/epub"
	"github.com/fyerfyer/epub-audiobook/internal/models"
	"github.com/fyerfyer/epub-audiobook/internal/pipeline"
	"github.com/fyerfyer/epub-audiobook/internal/repository"
)

// handlerTestEnv 处理器测试环境：miniredis队列 + 内存数据库仓储
type handlerTestEnv struct {
	queue Queue
	repo  repository.BookRepository
}

func setupHandlerTest(t *testing.T) (*handlerTestEnv, func()) {
	t.Helper()

	redisAddr, redisCleanup := setupRedisTest(t)

	queue, err := NewRedisQueue(testQueueConfig(redisAddr))
	require.NoError(t, err)

	dbName := fmt.Sprintf("file:memdb_handlers_%d?mode=memory", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err, "Failed to open in-memory database")
	require.NoError(t, db.AutoMigrate(&models.Book{}, &models.Chapter{}))

	env := &handlerTestEnv{
		queue: queue,
		repo:  repository.NewBookRepositoryWithDB(db),
	}

	return env, func() {
		queue.Close()
		redisCleanup()
	}
}

func handlerTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// paragraph 生成指定词数的段落
func paragraph(words int) string {
	parts := make([]string, words)
	for i := range parts {
		parts[i] = fmt.Sprintf("word%d", i)
	}
	return strings.Join(parts, " ")
}

// writeBookEPUB 生成一个带封面和两个章节的EPUB文件
func writeBookEPUB(t *testing.T, dir, name string) string {
	t.Helper()

	book := &epub.Book{
		Title:    "Le Comte de Monte-Cristo",
		Author:   "Alexandre Dumas",
		Language: "fr",
	}
	docs := []epub.Document{
		{
			ID:        "cover",
			Href:      "cover.xhtml",
			MediaType: "application/xhtml+xml",
			Content:   []byte("<html><body><p>cover image</p></body></html>"),
		},
		{
			ID:        "ch1",
			Href:      "text/ch1.xhtml",
			MediaType: "application/xhtml+xml",
			Content:   []byte("<html><body><h1>Chapter 1</h1><p>" + paragraph(40) + "</p></body></html>"),
		},
		{
			ID:        "ch2",
			Href:      "text/ch2.xhtml",
			MediaType: "application/xhtml+xml",
			Content:   []byte("<html><body><h1>Chapter 2</h1><p>" + paragraph(50) + "</p></body></html>"),
		},
	}

	path := filepath.Join(dir, name)
	require.NoError(t, epub.Write(book, docs, path))
	return path
}

// writeSingleChapterEPUB 生成一个单文档的章节EPUB文件
func writeSingleChapterEPUB(t *testing.T, dir, name, text string) string {
	t.Helper()

	book := &epub.Book{Title: "Test Chapter", Language: "fr"}
	docs := []epub.Document{
		{
			ID:        "chap",
			Href:      "text/chap.xhtml",
			MediaType: "application/xhtml+xml",
			Content:   []byte("<html><body><p>" + text + "</p></body></html>"),
		},
	}

	path := filepath.Join(dir, name)
	require.NoError(t, epub.Write(book, docs, path))
	return path
}

func TestBookSplitHandler_ProcessTask(t *testing.T) {
	env, cleanup := setupHandlerTest(t)
	defer cleanup()

	tempDir := t.TempDir()
	epubPath := writeBookEPUB(t, tempDir, "monte_cristo.epub")
	outputDir := filepath.Join(tempDir, "chapters")

	book := &models.Book{
		ID:       "book-split-1",
		FileName: "monte_cristo.epub",
		FilePath: epubPath,
		FileSize: 1024,
		Status:   models.BookStatusUploaded,
	}
	require.NoError(t, env.repo.CreateBook(book))

	ctx := context.Background()
	payload := &BookSplitPayload{
		BookID:    book.ID,
		FilePath:  epubPath,
		FileName:  "monte_cristo.epub",
		MinWords:  10,
		OutputDir: outputDir,
	}
	taskID, err := env.queue.Enqueue(ctx, TaskBookSplit, book.ID, payload)
	require.NoError(t, err)

	task, err := env.queue.GetTask(ctx, taskID)
	require.NoError(t, err)

	handler := NewBookSplitHandler(env.queue, env.repo, handlerTestLogger())
	require.NoError(t, handler.ProcessTask(ctx, task))

	// 书籍状态和元数据已更新
	updated, err := env.repo.GetBookByID(book.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookStatusSplit, updated.Status)
	assert.Equal(t, "Le Comte de Monte-Cristo", updated.Title)
	assert.Equal(t, "Alexandre Dumas", updated.Author)
	assert.Equal(t, 2, updated.ChapterCount)

	// 章节记录已保存，按序号排列
	chapters, err := env.repo.GetChapters(book.ID)
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	assert.Equal(t, 1, chapters[0].Ordinal)
	assert.Equal(t, "Chapter 1", chapters[0].Title)
	assert.Equal(t, 2, chapters[1].Ordinal)
	assert.Equal(t, "Chapter 2", chapters[1].Title)
	assert.Equal(t, models.AudioStatusPending, chapters[0].AudioStatus)

	// 章节EPUB文件已写出
	for _, ch := range chapters {
		_, err := os.Stat(ch.EpubPath)
		assert.NoError(t, err, "chapter epub should exist: %s", ch.EpubPath)
	}

	// 任务结果已写回
	task, err = env.queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	var result BookSplitResult
	require.NoError(t, UnmarshalPayload(task.Result, &result))
	assert.Equal(t, book.ID, result.BookID)
	assert.Equal(t, 2, result.ChapterCount)
	require.Len(t, result.Chapters, 2)
	assert.NotZero(t, result.Chapters[0].ChapterID)
}

func TestBookSplitHandler_InvalidPayload(t *testing.T) {
	env, cleanup := setupHandlerTest(t)
	defer cleanup()

	handler := NewBookSplitHandler(env.queue, env.repo, handlerTestLogger())

	task := &Task{
		ID:      "task-bad",
		Type:    TaskBookSplit,
		Payload: []byte(`{"book_id":""}`),
	}
	err := handler.ProcessTask(context.Background(), task)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestBookSplitHandler_ParseFailure(t *testing.T) {
	env, cleanup := setupHandlerTest(t)
	defer cleanup()

	tempDir := t.TempDir()
	badPath := filepath.Join(tempDir, "broken.epub")
	require.NoError(t, os.WriteFile(badPath, []byte("not an epub"), 0644))

	book := &models.Book{
		ID:       "book-split-bad",
		FileName: "broken.epub",
		FilePath: badPath,
		FileSize: 11,
		Status:   models.BookStatusUploaded,
	}
	require.NoError(t, env.repo.CreateBook(book))

	ctx := context.Background()
	payload := &BookSplitPayload{
		BookID:    book.ID,
		FilePath:  badPath,
		OutputDir: filepath.Join(tempDir, "chapters"),
	}
	taskID, err := env.queue.Enqueue(ctx, TaskBookSplit, book.ID, payload)
	require.NoError(t, err)

	task, err := env.queue.GetTask(ctx, taskID)
	require.NoError(t, err)

	handler := NewBookSplitHandler(env.queue, env.repo, handlerTestLogger())
	err = handler.ProcessTask(ctx, task)
	assert.Error(t, err)

	// 书籍已标记为失败
	updated, err := env.repo.GetBookByID(book.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookStatusFailed, updated.Status)
	assert.NotEmpty(t, updated.Error)
}

func TestChapterAudioHandler_ProcessTask(t *testing.T) {
	env, cleanup := setupHandlerTest(t)
	defer cleanup()

	tempDir := t.TempDir()
	chapterPath := writeSingleChapterEPUB(t, tempDir, "book_chapter_001_Intro.epub",
		"Bonjour le monde. Ceci est un chapitre de test pour la synthèse vocale.")
	outputDir := filepath.Join(tempDir, "audio")

	book := &models.Book{
		ID:       "book-audio-1",
		FileName: "book.epub",
		FilePath: "/data/uploads/book.epub",
		FileSize: 1024,
		Status:   models.BookStatusSplit,
	}
	require.NoError(t, env.repo.CreateBook(book))

	chapter := &models.Chapter{
		BookID:      book.ID,
		Ordinal:     1,
		Title:       "Intro",
		WordCount:   13,
		EpubPath:    chapterPath,
		AudioStatus: models.AudioStatusPending,
	}
	require.NoError(t, env.repo.SaveChapter(chapter))

	ctx := context.Background()
	payload := &ChapterAudioPayload{
		BookID:    book.ID,
		ChapterID: chapter.ID,
		EpubPath:  chapterPath,
		OutputDir: outputDir,
		Engine:    "mock",
	}
	taskID, err := env.queue.Enqueue(ctx, TaskChapterAudio, book.ID, payload)
	require.NoError(t, err)

	task, err := env.queue.GetTask(ctx, taskID)
	require.NoError(t, err)

	defaults := pipeline.DefaultConfig()
	defaults.RetryDelay = 10 * time.Millisecond
	handler := NewChapterAudioHandler(env.queue, env.repo, defaults, handlerTestLogger())
	require.NoError(t, handler.ProcessTask(ctx, task))

	// 章节状态和音频路径已更新
	updated, err := env.repo.GetChapterByID(chapter.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AudioStatusCompleted, updated.AudioStatus)
	assert.NotEmpty(t, updated.AudioPath)
	assert.Equal(t, taskID, updated.TaskID)
	assert.NotNil(t, updated.ConvertedAt)

	// 音频文件已生成
	_, err = os.Stat(updated.AudioPath)
	assert.NoError(t, err)

	// 任务结果已写回
	task, err = env.queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	var result ChapterAudioResult
	require.NoError(t, UnmarshalPayload(task.Result, &result))
	assert.Equal(t, chapter.ID, result.ChapterID)
	assert.Equal(t, updated.AudioPath, result.AudioPath)
	assert.Equal(t, "mock", result.Engine)
}

func TestChapterAudioHandler_DefaultEngine(t *testing.T) {
	env, cleanup := setupHandlerTest(t)
	defer cleanup()

	tempDir := t.TempDir()
	chapterPath := writeSingleChapterEPUB(t, tempDir, "book_chapter_001_Intro.epub",
		"Un chapitre court pour vérifier le choix du moteur par défaut.")

	book := &models.Book{
		ID:       "book-audio-default",
		FileName: "book.epub",
		FilePath: "/data/uploads/book.epub",
		FileSize: 1024,
		Status:   models.BookStatusSplit,
	}
	require.NoError(t, env.repo.CreateBook(book))

	chapter := &models.Chapter{
		BookID:      book.ID,
		Ordinal:     1,
		Title:       "Intro",
		EpubPath:    chapterPath,
		AudioStatus: models.AudioStatusPending,
	}
	require.NoError(t, env.repo.SaveChapter(chapter))

	// 载荷未指定引擎时使用配置的默认引擎
	defaults := pipeline.DefaultConfig()
	defaults.Engine = "mock"
	handler := NewChapterAudioHandler(nil, env.repo, defaults, handlerTestLogger())

	result, err := handler.Convert(context.Background(), &ChapterAudioPayload{
		BookID:    book.ID,
		ChapterID: chapter.ID,
		EpubPath:  chapterPath,
		OutputDir: filepath.Join(tempDir, "audio"),
	})
	require.NoError(t, err)
	assert.Equal(t, "mock", result.Engine)

	updated, err := env.repo.GetChapterByID(chapter.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AudioStatusCompleted, updated.AudioStatus)
}

func TestChapterAudioHandler_ConvertFailure(t *testing.T) {
	env, cleanup := setupHandlerTest(t)
	defer cleanup()

	tempDir := t.TempDir()

	book := &models.Book{
		ID:       "book-audio-bad",
		FileName: "book.epub",
		FilePath: "/data/uploads/book.epub",
		FileSize: 1024,
		Status:   models.BookStatusSplit,
	}
	require.NoError(t, env.repo.CreateBook(book))

	chapter := &models.Chapter{
		BookID:      book.ID,
		Ordinal:     1,
		Title:       "Missing",
		EpubPath:    filepath.Join(tempDir, "does_not_exist.epub"),
		AudioStatus: models.AudioStatusPending,
	}
	require.NoError(t, env.repo.SaveChapter(chapter))

	ctx := context.Background()
	payload := &ChapterAudioPayload{
		BookID:    book.ID,
		ChapterID: chapter.ID,
		EpubPath:  chapter.EpubPath,
		OutputDir: filepath.Join(tempDir, "audio"),
		Engine:    "mock",
	}
	taskID, err := env.queue.Enqueue(ctx, TaskChapterAudio, book.ID, payload)
	require.NoError(t, err)

	task, err := env.queue.GetTask(ctx, taskID)
	require.NoError(t, err)

	handler := NewChapterAudioHandler(env.queue, env.repo, pipeline.DefaultConfig(), handlerTestLogger())
	err = handler.ProcessTask(ctx, task)
	assert.Error(t, err)

	// 章节已标记为失败
	updated, err := env.repo.GetChapterByID(chapter.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AudioStatusFailed, updated.AudioStatus)
	assert.NotEmpty(t, updated.Error)
}

func TestChapterAudioHandler_UnknownEngine(t *testing.T) {
	env, cleanup := setupHandlerTest(t)
	defer cleanup()

	book := &models.Book{
		ID:       "book-audio-engine",
		FileName: "book.epub",
		FilePath: "/data/uploads/book.epub",
		FileSize: 1024,
		Status:   models.BookStatusSplit,
	}
	require.NoError(t, env.repo.CreateBook(book))

	chapter := &models.Chapter{
		BookID:      book.ID,
		Ordinal:     1,
		Title:       "Intro",
		EpubPath:    "/data/chapters/ch1.epub",
		AudioStatus: models.AudioStatusPending,
	}
	require.NoError(t, env.repo.SaveChapter(chapter))

	ctx := context.Background()
	payload := &ChapterAudioPayload{
		BookID:    book.ID,
		ChapterID: chapter.ID,
		EpubPath:  chapter.EpubPath,
		OutputDir: "/data/audio",
		Engine:    "no-such-engine",
	}
	taskID, err := env.queue.Enqueue(ctx, TaskChapterAudio, book.ID, payload)
	require.NoError(t, err)

	task, err := env.queue.GetTask(ctx, taskID)
	require.NoError(t, err)

	handler := NewChapterAudioHandler(env.queue, env.repo, pipeline.DefaultConfig(), handlerTestLogger())
	err = handler.ProcessTask(ctx, task)
	assert.Error(t, err)

	updated, err := env.repo.GetChapterByID(chapter.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AudioStatusFailed, updated.AudioStatus)
}

func TestBookConvertHandler_ProcessTask(t *testing.T) {
	env, cleanup := setupHandlerTest(t)
	defer cleanup()

	book := &models.Book{
		ID:       "book-convert-1",
		FileName: "book.epub",
		FilePath: "/data/uploads/book.epub",
		FileSize: 1024,
		Status:   models.BookStatusSplit,
	}
	require.NoError(t, env.repo.CreateBook(book))

	// 三个章节，其中一个已完成转换
	chapters := []*models.Chapter{
		{BookID: book.ID, Ordinal: 1, Title: "Chapter 1", EpubPath: "/data/chapters/ch1.epub", AudioStatus: models.AudioStatusPending},
		{BookID: book.ID, Ordinal: 2, Title: "Chapter 2", EpubPath: "/data/chapters/ch2.epub", AudioStatus: models.AudioStatusCompleted},
		{BookID: book.ID, Ordinal: 3, Title: "Chapter 3", EpubPath: "/data/chapters/ch3.epub", AudioStatus: models.AudioStatusFailed},
	}
	require.NoError(t, env.repo.SaveChapters(chapters))

	ctx := context.Background()
	payload := &BookConvertPayload{
		BookID:    book.ID,
		OutputDir: "/data/audio",
		Engine:    "piper",
		Voice:     "upmc",
		Format:    "wav",
	}
	taskID, err := env.queue.Enqueue(ctx, TaskBookConvert, book.ID, payload)
	require.NoError(t, err)

	task, err := env.queue.GetTask(ctx, taskID)
	require.NoError(t, err)

	handler := NewBookConvertHandler(env.queue, env.repo, handlerTestLogger())
	require.NoError(t, handler.ProcessTask(ctx, task))

	// 任务结果：两个章节派生任务，一个跳过
	task, err = env.queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	var result BookConvertResult
	require.NoError(t, UnmarshalPayload(task.Result, &result))
	assert.Equal(t, 2, result.Enqueued)
	assert.Equal(t, 1, result.Skipped)
	assert.Len(t, result.TaskIDs, 2)

	// 派生的章节任务已入队
	for _, chapterTaskID := range result.TaskIDs {
		chapterTask, err := env.queue.GetTask(ctx, chapterTaskID)
		require.NoError(t, err)
		assert.Equal(t, TaskChapterAudio, chapterTask.Type)
		assert.Equal(t, book.ID, chapterTask.BookID)

		var chapterPayload ChapterAudioPayload
		require.NoError(t, UnmarshalPayload(chapterTask.Payload, &chapterPayload))
		assert.Equal(t, "piper", chapterPayload.Engine)
		assert.Equal(t, "upmc", chapterPayload.Voice)
	}

	// 未完成章节已记录任务ID
	saved, err := env.repo.GetChapters(book.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, saved[0].TaskID)
	assert.Empty(t, saved[1].TaskID)
	assert.NotEmpty(t, saved[2].TaskID)
}

func TestBookConvertHandler_NoChapters(t *testing.T) {
	env, cleanup := setupHandlerTest(t)
	defer cleanup()

	book := &models.Book{
		ID:       "book-convert-empty",
		FileName: "book.epub",
		FilePath: "/data/uploads/book.epub",
		FileSize: 1024,
		Status:   models.BookStatusSplit,
	}
	require.NoError(t, env.repo.CreateBook(book))

	ctx := context.Background()
	payload := &BookConvertPayload{BookID: book.ID, OutputDir: "/data/audio"}
	taskID, err := env.queue.Enqueue(ctx, TaskBookConvert, book.ID, payload)
	require.NoError(t, err)

	task, err := env.queue.GetTask(ctx, taskID)
	require.NoError(t, err)

	handler := NewBookConvertHandler(env.queue, env.repo, handlerTestLogger())
	err = handler.ProcessTask(ctx, task)
	assert.True(t, errors.Is(err, models.ErrNoChapters))
}
