package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fyerfyer/epub-audiobook/api/handler"
	"github.com/fyerfyer/epub-audiobook/api/model"
	"github.com/fyerfyer/epub-audiobook/internal/epub"
	"github.com/fyerfyer/epub-audiobook/internal/models"
	"github.com/fyerfyer/epub-audiobook/internal/repository"
	"github.com/fyerfyer/epub-audiobook/internal/services"
	"github.com/fyerfyer/epub-audiobook/pkg/storage"
)

// apiTestEnv API测试环境：本地存储 + 内存数据库 + 同步服务
type apiTestEnv struct {
	router  *gin.Engine
	tempDir string
}

func setupAPITest(t *testing.T) *apiTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tempDir := t.TempDir()

	store, err := storage.NewLocalStorage(storage.LocalConfig{Path: filepath.Join(tempDir, "uploads")})
	require.NoError(t, err)

	dbName := fmt.Sprintf("file:memdb_api_%d?mode=memory", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err, "Failed to open in-memory database")
	require.NoError(t, db.AutoMigrate(&models.Book{}, &models.Chapter{}))
	repo := repository.NewBookRepositoryWithDB(db)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	library := services.NewLibraryService(store,
		services.WithBookRepository(repo),
		services.WithChaptersDir(filepath.Join(tempDir, "chapters")),
		services.WithLogger(logger),
	)
	require.NoError(t, library.Init())

	conversion := services.NewConversionService(repo,
		services.WithAudioDir(filepath.Join(tempDir, "audio")),
		services.WithConversionLogger(logger),
	)

	router := SetupRouter(
		handler.NewBookHandler(library),
		handler.NewChapterHandler(library, conversion),
		nil,
	)

	return &apiTestEnv{router: router, tempDir: tempDir}
}

// buildTestEPUB 生成一本带两个章节的测试EPUB并返回文件内容
func buildTestEPUB(t *testing.T, dir string) []byte {
	t.Helper()

	longText := strings.Repeat("voyage aventure ", 30)
	book := &epub.Book{Title: "Vingt mille lieues", Author: "Jules Verne", Language: "fr"}
	docs := []epub.Document{
		{
			ID:        "ch1",
			Href:      "text/ch1.xhtml",
			MediaType: "application/xhtml+xml",
			Content:   []byte("<html><body><h1>Chapter 1</h1><p>" + longText + "</p></body></html>"),
		},
		{
			ID:        "ch2",
			Href:      "text/ch2.xhtml",
			MediaType: "application/xhtml+xml",
			Content:   []byte("<html><body><h1>Chapter 2</h1><p>" + longText + "</p></body></html>"),
		},
	}

	path := filepath.Join(dir, "verne.epub")
	require.NoError(t, epub.Write(book, docs, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

// multipartBody 构造文件上传的multipart请求体
func multipartBody(t *testing.T, fieldName, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(fieldName, fileName)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	return body, writer.FormDataContentType()
}

// doRequest 执行HTTP请求并解析通用响应
func doRequest(t *testing.T, router *gin.Engine, method, path string, body *bytes.Buffer, contentType string) (*httptest.ResponseRecorder, *model.Response) {
	t.Helper()

	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp model.Response
	if strings.Contains(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, &resp
}

// decodeData 将响应的data字段解析为目标结构
func decodeData(t *testing.T, resp *model.Response, out interface{}) {
	t.Helper()

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestAPI_BookLifecycle(t *testing.T) {
	env := setupAPITest(t)
	epubData := buildTestEPUB(t, env.tempDir)

	// 上传书籍
	body, contentType := multipartBody(t, "file", "verne.epub", epubData)
	w, resp := doRequest(t, env.router, http.MethodPost, "/api/books", body, contentType)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 0, resp.Code)

	var uploaded model.BookUploadResponse
	decodeData(t, resp, &uploaded)
	require.NotEmpty(t, uploaded.BookID)
	assert.Equal(t, "verne.epub", uploaded.FileName)
	assert.Equal(t, "uploaded", uploaded.Status)

	bookID := uploaded.BookID

	// 拆分章节（同步模式）
	splitBody := bytes.NewBufferString(`{"min_words": 10}`)
	w, resp = doRequest(t, env.router, http.MethodPost, "/api/books/"+bookID+"/split", splitBody, "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	var split model.SplitResponse
	decodeData(t, resp, &split)
	assert.Empty(t, split.TaskID)
	assert.Equal(t, "split", split.Status)
	assert.Equal(t, 2, split.ChapterCount)

	// 书籍信息已回填EPUB元数据
	w, resp = doRequest(t, env.router, http.MethodGet, "/api/books/"+bookID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var info model.BookInfo
	decodeData(t, resp, &info)
	assert.Equal(t, "Vingt mille lieues", info.Title)
	assert.Equal(t, "Jules Verne", info.Author)

	// 书籍列表
	w, resp = doRequest(t, env.router, http.MethodGet, "/api/books?page=1&page_size=10", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var list model.BookListResponse
	decodeData(t, resp, &list)
	assert.Equal(t, int64(1), list.Total)
	require.Len(t, list.Books, 1)

	// 章节列表
	w, resp = doRequest(t, env.router, http.MethodGet, "/api/books/"+bookID+"/chapters", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var chapterList model.ChapterListResponse
	decodeData(t, resp, &chapterList)
	require.Equal(t, 2, chapterList.Total)
	assert.Equal(t, "Chapter 1", chapterList.Chapters[0].Title)
	assert.Equal(t, "pending", chapterList.Chapters[0].AudioStatus)

	chapterID := chapterList.Chapters[0].ChapterID

	// 章节文本
	w, resp = doRequest(t, env.router, http.MethodGet, fmt.Sprintf("/api/chapters/%d/text", chapterID), nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var text model.ChapterTextResponse
	decodeData(t, resp, &text)
	assert.Contains(t, text.Text, "voyage aventure")

	// 单章转换（同步模式，mock引擎）
	convertBody := bytes.NewBufferString(`{"engine": "mock"}`)
	w, resp = doRequest(t, env.router, http.MethodPost, fmt.Sprintf("/api/chapters/%d/audio", chapterID), convertBody, "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	var converted model.ConvertResponse
	decodeData(t, resp, &converted)
	assert.Empty(t, converted.TaskID)
	assert.Equal(t, "completed", converted.Status)

	// 下载音频
	w, _ = doRequest(t, env.router, http.MethodGet, fmt.Sprintf("/api/chapters/%d/audio", chapterID), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Greater(t, w.Body.Len(), 0, "audio response should have content")

	// 整本书转换（同步模式，已转换章节被跳过）
	w, resp = doRequest(t, env.router, http.MethodPost, "/api/books/"+bookID+"/audio", bytes.NewBufferString(`{"engine": "mock"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	var bookConverted model.ConvertResponse
	decodeData(t, resp, &bookConverted)
	assert.Equal(t, 1, bookConverted.Converted)
	assert.Equal(t, 1, bookConverted.Skipped)
	assert.Equal(t, 0, bookConverted.Failed)

	// 删除书籍
	w, resp = doRequest(t, env.router, http.MethodDelete, "/api/books/"+bookID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var deleted model.BookDeleteResponse
	decodeData(t, resp, &deleted)
	assert.True(t, deleted.Success)

	// 删除后书籍不可见
	w, _ = doRequest(t, env.router, http.MethodGet, "/api/books/"+bookID, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_UploadInvalidFileType(t *testing.T) {
	env := setupAPITest(t)

	body, contentType := multipartBody(t, "file", "notes.txt", []byte("plain text"))
	w, resp := doRequest(t, env.router, http.MethodPost, "/api/books", body, contentType)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEqual(t, 0, resp.Code)
}

func TestAPI_UploadMissingFile(t *testing.T) {
	env := setupAPITest(t)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.Close())

	w, _ := doRequest(t, env.router, http.MethodPost, "/api/books", body, writer.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_BookNotFound(t *testing.T) {
	env := setupAPITest(t)

	w, _ := doRequest(t, env.router, http.MethodGet, "/api/books/no-such-book", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = doRequest(t, env.router, http.MethodGet, "/api/books/no-such-book/chapters", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_ChapterNotFound(t *testing.T) {
	env := setupAPITest(t)

	w, _ := doRequest(t, env.router, http.MethodGet, "/api/chapters/9999", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = doRequest(t, env.router, http.MethodPost, "/api/chapters/9999/audio", bytes.NewBufferString(`{}`), "application/json")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_ConvertBeforeSplit(t *testing.T) {
	env := setupAPITest(t)
	epubData := buildTestEPUB(t, env.tempDir)

	body, contentType := multipartBody(t, "file", "verne.epub", epubData)
	w, resp := doRequest(t, env.router, http.MethodPost, "/api/books", body, contentType)
	require.Equal(t, http.StatusOK, w.Code)

	var uploaded model.BookUploadResponse
	decodeData(t, resp, &uploaded)

	// 未拆分的书籍不能转换
	w, _ = doRequest(t, env.router, http.MethodPost, "/api/books/"+uploaded.BookID+"/audio", bytes.NewBufferString(`{}`), "application/json")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAPI_Health(t *testing.T) {
	env := setupAPITest(t)

	w, _ := doRequest(t, env.router, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}
