package api

import (
	"github.com/gin-gonic/gin"

	"github.com/fyerfyer/epub-audiobook/api/handler"
	"github.com/fyerfyer/epub-audiobook/api/middleware"
)

// SetupRouter 设置API路由
// 配置所有的API端点并应用中间件
func SetupRouter(
	bookHandler *handler.BookHandler,
	chapterHandler *handler.ChapterHandler,
	taskHandler *handler.TaskHandler,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	// 应用全局中间件
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorMiddleware())
	router.Use(middleware.SetTraceID())

	// 在调试模式下记录请求体
	if gin.Mode() == gin.DebugMode {
		router.Use(middleware.RequestBodyLog())
	}

	api := router.Group("/api")
	{
		// 书籍管理API
		bookGroup := api.Group("/books")
		{
			// 上传书籍 - POST /api/books
			bookGroup.POST("", bookHandler.UploadBook)

			// 获取书籍列表 - GET /api/books
			bookGroup.GET("", bookHandler.ListBooks)

			// 获取书籍信息 - GET /api/books/:id
			bookGroup.GET("/:id", bookHandler.GetBook)

			// 删除书籍 - DELETE /api/books/:id
			bookGroup.DELETE("/:id", bookHandler.DeleteBook)

			// 拆分章节 - POST /api/books/:id/split
			bookGroup.POST("/:id/split", bookHandler.SplitBook)

			// 章节列表 - GET /api/books/:id/chapters
			bookGroup.GET("/:id/chapters", chapterHandler.ListChapters)

			// 整本书转换音频 - POST /api/books/:id/audio
			bookGroup.POST("/:id/audio", chapterHandler.ConvertBook)
		}

		// 章节API
		chapterGroup := api.Group("/chapters")
		{
			// 章节信息 - GET /api/chapters/:id
			chapterGroup.GET("/:id", chapterHandler.GetChapter)

			// 章节文本 - GET /api/chapters/:id/text
			chapterGroup.GET("/:id/text", chapterHandler.GetChapterText)

			// 单章转换音频 - POST /api/chapters/:id/audio
			chapterGroup.POST("/:id/audio", chapterHandler.ConvertChapter)

			// 下载章节音频 - GET /api/chapters/:id/audio
			chapterGroup.GET("/:id/audio", chapterHandler.DownloadAudio)
		}

		// 任务API
		if taskHandler != nil {
			taskGroup := api.Group("/tasks")
			{
				// 任务状态 - GET /api/tasks/:id
				taskGroup.GET("/:id", taskHandler.GetTaskStatus)
			}

			// 书籍任务列表 - GET /api/books/:id/tasks
			bookGroup.GET("/:id/tasks", taskHandler.GetBookTasks)
		}

		// 健康检查API
		api.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"status": "ok",
			})
		})
	}

	return router
}

// Cors 跨域资源共享中间件
// 如果需要支持跨域请求，可以启用此中间件
func Cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Trace-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
