package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fyerfyer/epub-audiobook/internal/models"
	"github.com/fyerfyer/epub-audiobook/internal/repository"
)

func setupStatusTest(t *testing.T) (*BookStatusManager, repository.BookRepository) {
	t.Helper()

	dbName := fmt.Sprintf("file:memdb_status_%d?mode=memory", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err, "Failed to open in-memory database")
	require.NoError(t, db.AutoMigrate(&models.Book{}, &models.Chapter{}))

	repo := repository.NewBookRepositoryWithDB(db)
	return NewBookStatusManager(repo, serviceTestLogger()), repo
}

func TestBookStatusManager_MarkAsUploaded(t *testing.T) {
	manager, repo := setupStatusTest(t)
	ctx := context.Background()

	err := manager.MarkAsUploaded(ctx, "book-1", "essay.epub", "2026-08/abc.epub", 2048)
	require.NoError(t, err)

	book, err := repo.GetBookByID("book-1")
	require.NoError(t, err)
	assert.Equal(t, models.BookStatusUploaded, book.Status)
	assert.Equal(t, "essay.epub", book.FileName)
	assert.Equal(t, "2026-08/abc.epub", book.FilePath)
	assert.Equal(t, int64(2048), book.FileSize)
	assert.False(t, book.UploadedAt.IsZero())
}

func TestBookStatusManager_SplitLifecycle(t *testing.T) {
	manager, repo := setupStatusTest(t)
	ctx := context.Background()

	require.NoError(t, manager.MarkAsUploaded(ctx, "book-2", "novel.epub", "path/novel.epub", 4096))

	// uploaded -> splitting -> split
	require.NoError(t, manager.MarkAsSplitting(ctx, "book-2"))
	status, err := manager.GetStatus(ctx, "book-2")
	require.NoError(t, err)
	assert.Equal(t, models.BookStatusSplitting, status)

	require.NoError(t, manager.MarkAsSplit(ctx, "book-2", 12))
	book, err := repo.GetBookByID("book-2")
	require.NoError(t, err)
	assert.Equal(t, models.BookStatusSplit, book.Status)
	assert.Equal(t, 12, book.ChapterCount)

	// split -> splitting 允许重新拆分
	require.NoError(t, manager.MarkAsSplitting(ctx, "book-2"))
}

func TestBookStatusManager_InvalidTransition(t *testing.T) {
	manager, _ := setupStatusTest(t)
	ctx := context.Background()

	require.NoError(t, manager.MarkAsUploaded(ctx, "book-3", "novel.epub", "path/novel.epub", 4096))

	// uploaded不能直接标记为split
	err := manager.MarkAsSplit(ctx, "book-3", 5)
	assert.Error(t, err)

	status, err := manager.GetStatus(ctx, "book-3")
	require.NoError(t, err)
	assert.Equal(t, models.BookStatusUploaded, status)
}

func TestBookStatusManager_MarkAsFailed(t *testing.T) {
	manager, repo := setupStatusTest(t)
	ctx := context.Background()

	require.NoError(t, manager.MarkAsUploaded(ctx, "book-4", "broken.epub", "path/broken.epub", 64))
	require.NoError(t, manager.MarkAsSplitting(ctx, "book-4"))
	require.NoError(t, manager.MarkAsFailed(ctx, "book-4", "failed to parse epub: not a zip archive"))

	book, err := repo.GetBookByID("book-4")
	require.NoError(t, err)
	assert.Equal(t, models.BookStatusFailed, book.Status)
	assert.Contains(t, book.Error, "not a zip archive")

	// failed -> splitting 允许重试
	require.NoError(t, manager.MarkAsSplitting(ctx, "book-4"))
}

func TestBookStatusManager_GetStatus_NotFound(t *testing.T) {
	manager, _ := setupStatusTest(t)

	_, err := manager.GetStatus(context.Background(), "no-such-book")
	assert.Error(t, err)
}

func TestBookStatusManager_ListAndDelete(t *testing.T) {
	manager, _ := setupStatusTest(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("book-list-%d", i)
		require.NoError(t, manager.MarkAsUploaded(ctx, id, id+".epub", "path/"+id+".epub", 100))
	}

	books, total, err := manager.ListBooks(ctx, 0, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, books, 3)

	require.NoError(t, manager.DeleteBook(ctx, "book-list-2"))

	_, total, err = manager.ListBooks(ctx, 0, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestBookStatusManager_ValidateStateTransition(t *testing.T) {
	manager, _ := setupStatusTest(t)

	cases := []struct {
		from    models.BookStatus
		to      models.BookStatus
		allowed bool
	}{
		{models.BookStatusUploaded, models.BookStatusSplitting, true},
		{models.BookStatusSplitting, models.BookStatusSplit, true},
		{models.BookStatusSplitting, models.BookStatusFailed, true},
		{models.BookStatusSplit, models.BookStatusSplitting, true},
		{models.BookStatusFailed, models.BookStatusSplitting, true},
		{models.BookStatusUploaded, models.BookStatusSplit, false},
		{models.BookStatusSplit, models.BookStatusUploaded, false},
	}

	for _, tc := range cases {
		err := manager.ValidateStateTransition(tc.from, tc.to)
		if tc.allowed {
			assert.NoError(t, err, "%s -> %s should be allowed", tc.from, tc.to)
		} else {
			assert.Error(t, err, "%s -> %s should be rejected", tc.from, tc.to)
		}
	}
}
