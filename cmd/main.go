package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fyerfyer/epub-audiobook/api"
	"github.com/fyerfyer/epub-audiobook/api/handler"
	"github.com/fyerfyer/epub-audiobook/api/middleware"
	appconfig "github.com/fyerfyer/epub-audiobook/config"
	"github.com/fyerfyer/epub-audiobook/internal/cache"
	"github.com/fyerfyer/epub-audiobook/internal/database"
	"github.com/fyerfyer/epub-audiobook/internal/pipeline"
	"github.com/fyerfyer/epub-audiobook/internal/repository"
	"github.com/fyerfyer/epub-audiobook/internal/services"
	"github.com/fyerfyer/epub-audiobook/pkg/storage"
	"github.com/fyerfyer/epub-audiobook/pkg/taskqueue"
)

// 配置选项
type config struct {
	Port         int           // 服务端口
	Mode         string        // 运行模式 (debug/release)
	LogLevel     string        // 日志级别
	LogFile      string        // 日志文件路径，为空输出到标准输出
	ReadTimeout  time.Duration // 读取超时
	WriteTimeout time.Duration // 写入超时
	DataDir      string        // 数据目录路径
	StoragePath  string        // 文件存储路径
	StorageType  string        // 存储类型 (local/minio)
	CacheType    string        // 缓存类型
	ConfigFile   string        // 配置文件路径

	// 拆分配置
	MinWords    int    // 章节最小词数阈值
	ChaptersDir string // 章节EPUB输出目录

	// TTS配置
	Engine     string  // 默认TTS引擎
	Voice      string  // 默认语音模型
	Speed      float64 // 语速倍率
	Format     string  // 输出音频格式
	ChunkSize  int     // 文本分块大小
	SilenceMs  int     // 块间静音时长（毫秒）
	MaxRetries int     // 合成失败最大重试次数
	AudioDir   string  // 音频输出目录

	// 任务队列相关配置
	QueueEnabled     bool          // 是否启用任务队列
	QueueType        string        // 任务队列类型
	RedisAddr        string        // Redis 地址
	RedisPassword    string        // Redis 密码
	RedisDB          int           // Redis 数据库编号
	QueueConcurrency int           // 任务队列处理并发数
	QueueRetryLimit  int           // 任务重试次数
	QueueRetryDelay  time.Duration // 任务重试延迟
}

func main() {
	// 加载.env文件（如果存在）
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env file")
	}

	// 解析命令行参数
	cfg := parseFlags()

	// 加载配置文件(如果指定)
	if cfg.ConfigFile != "" {
		appConfig, err := appconfig.Load(cfg.ConfigFile)
		if err != nil {
			log.Printf("Warning: Failed to load config file: %v, using command line args", err)
		} else {
			updateConfigFromFile(&cfg, appConfig)
		}
	}

	// 设置Gin模式
	gin.SetMode(cfg.Mode)

	// 初始化日志
	logger := setupLogger(cfg)
	logger.Info("Starting EPUB audiobook service...")

	// 初始化数据库
	if err := setupDatabase(cfg, logger); err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close database")
		}
	}()

	// 创建文件存储服务
	fileStorage, err := setupStorage(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	// 创建缓存服务
	cacheService, err := setupCache(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize cache: %v", err)
	}
	textCache := cache.NewChapterTextCache(cacheService, 24*time.Hour)

	// 初始化任务队列（如果启用）
	var queue taskqueue.Queue
	if cfg.QueueEnabled {
		queue, err = setupTaskQueue(cfg, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize task queue: %v", err)
		}
		defer queue.Close()
		logger.Info("Task queue initialized successfully")
	}

	// 初始化仓储和状态管理器
	repo := repository.NewBookRepository()
	statusManager := services.NewBookStatusManager(repo, logger)

	// 默认转换配置
	pipelineDefaults := pipeline.DefaultConfig()
	if cfg.Engine != "" {
		pipelineDefaults.Engine = cfg.Engine
	}
	if cfg.Voice != "" {
		pipelineDefaults.Voice = cfg.Voice
	}
	if cfg.Speed > 0 {
		pipelineDefaults.Speed = cfg.Speed
	}
	if cfg.Format != "" {
		pipelineDefaults.Format = cfg.Format
	}
	if cfg.ChunkSize > 0 {
		pipelineDefaults.ChunkSize = cfg.ChunkSize
	}
	if cfg.SilenceMs > 0 {
		pipelineDefaults.Silence = time.Duration(cfg.SilenceMs) * time.Millisecond
	}
	if cfg.MaxRetries > 0 {
		pipelineDefaults.MaxRetries = cfg.MaxRetries
	}

	// 创建书库服务
	libraryOptions := []services.LibraryOption{
		services.WithBookRepository(repo),
		services.WithStatusManager(statusManager),
		services.WithChaptersDir(cfg.ChaptersDir),
		services.WithMinWords(cfg.MinWords),
		services.WithChapterTextCache(textCache),
		services.WithLogger(logger),
	}
	if queue != nil {
		libraryOptions = append(libraryOptions,
			services.WithTaskQueue(queue),
			services.WithAsyncProcessing(true),
		)
		logger.Info("Book processing will use async task queue")
	}

	libraryService := services.NewLibraryService(fileStorage, libraryOptions...)
	if err := libraryService.Init(); err != nil {
		logger.Fatalf("Failed to initialize library service: %v", err)
	}

	// 创建音频转换服务
	conversionOptions := []services.ConversionOption{
		services.WithAudioDir(cfg.AudioDir),
		services.WithPipelineDefaults(pipelineDefaults),
		services.WithConversionLogger(logger),
	}
	if queue != nil {
		conversionOptions = append(conversionOptions,
			services.WithConversionTaskQueue(queue),
			services.WithConversionAsync(true),
		)
	}
	conversionService := services.NewConversionService(repo, conversionOptions...)

	// 启动任务工作者（如果启用队列）
	var worker taskqueue.Worker
	if queue != nil {
		worker, err = setupWorker(cfg, queue, repo, pipelineDefaults, logger)
		if err != nil {
			logger.Fatalf("Failed to start task worker: %v", err)
		}
		defer worker.Stop()
	}

	// 初始化API处理器
	bookHandler := handler.NewBookHandler(libraryService)
	chapterHandler := handler.NewChapterHandler(libraryService, conversionService)
	var taskHandler *handler.TaskHandler
	if queue != nil {
		taskHandler = handler.NewTaskHandler(queue)
	}

	// 设置路由
	r := api.SetupRouter(bookHandler, chapterHandler, taskHandler)

	// 启动HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// 优雅关闭
	go func() {
		logger.Infof("Server is running on port %d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 等待终止信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// 创建带超时的上下文
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 优雅关闭服务器
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

// parseFlags 解析命令行参数
func parseFlags() config {
	cfg := config{}

	// 服务配置
	flag.IntVar(&cfg.Port, "port", 8080, "Server port")
	flag.StringVar(&cfg.Mode, "mode", "debug", "Run mode (debug/release)")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug/info/warn/error)")
	flag.StringVar(&cfg.LogFile, "log-file", "", "Log file path (empty for stdout)")
	flag.DurationVar(&cfg.ReadTimeout, "read-timeout", 30*time.Second, "Read timeout")
	flag.DurationVar(&cfg.WriteTimeout, "write-timeout", 30*time.Second, "Write timeout")

	// 存储配置
	flag.StringVar(&cfg.StorageType, "storage-type", "local", "Storage type (local/minio)")
	flag.StringVar(&cfg.StoragePath, "storage", "./data/uploads", "File storage path")
	flag.StringVar(&cfg.DataDir, "data-dir", "./data", "Data directory path")

	// 拆分配置
	flag.IntVar(&cfg.MinWords, "min-words", 100, "Minimum word count for a standalone chapter")
	flag.StringVar(&cfg.ChaptersDir, "chapters-dir", "./data/chapters", "Chapter EPUB output directory")

	// TTS配置
	flag.StringVar(&cfg.Engine, "engine", "piper", "Default TTS engine (piper/edge)")
	flag.StringVar(&cfg.Voice, "voice", "upmc", "Default voice model")
	flag.Float64Var(&cfg.Speed, "speed", 1.0, "Speech speed multiplier")
	flag.StringVar(&cfg.Format, "format", "wav", "Audio output format (wav/mp3)")
	flag.IntVar(&cfg.ChunkSize, "chunk-size", 5000, "Maximum characters per synthesis chunk")
	flag.IntVar(&cfg.SilenceMs, "silence-ms", 500, "Silence between chunks in milliseconds")
	flag.IntVar(&cfg.MaxRetries, "tts-retries", 3, "Max retries per failed synthesis chunk")
	flag.StringVar(&cfg.AudioDir, "audio-dir", "./data/audio", "Audio output directory")

	// 缓存配置
	flag.StringVar(&cfg.CacheType, "cache", "memory", "Cache type (memory/redis)")

	// 配置文件
	flag.StringVar(&cfg.ConfigFile, "config", "", "Path to config file")

	// 任务队列配置
	flag.BoolVar(&cfg.QueueEnabled, "queue", false, "Enable task queue")
	flag.StringVar(&cfg.QueueType, "queue-type", "redis", "Task queue type (redis)")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", "localhost:6379", "Redis address for task queue")
	flag.StringVar(&cfg.RedisPassword, "redis-password", "", "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", 0, "Redis database number")
	flag.IntVar(&cfg.QueueConcurrency, "queue-concurrency", 4, "Task queue concurrency")
	flag.IntVar(&cfg.QueueRetryLimit, "queue-retry", 3, "Max retry attempts for failed tasks")
	flag.DurationVar(&cfg.QueueRetryDelay, "queue-retry-delay", time.Minute, "Delay between retry attempts")

	// 从环境变量获取连接信息（优先级高于命令行参数）
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		cfg.RedisAddr = redisAddr
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}

	flag.Parse()
	return cfg
}

// updateConfigFromFile 从配置文件更新命令行参数
// 只覆盖未在命令行上明确设置的参数
func updateConfigFromFile(cfg *config, appConfig *appconfig.Config) {
	if flag.Lookup("port").DefValue == fmt.Sprint(cfg.Port) && appConfig.Server.Port > 0 {
		cfg.Port = appConfig.Server.Port
	}
	if flag.Lookup("storage-type").DefValue == cfg.StorageType && appConfig.Storage.Type != "" {
		cfg.StorageType = appConfig.Storage.Type
	}
	if flag.Lookup("storage").DefValue == cfg.StoragePath && appConfig.Storage.Path != "" {
		cfg.StoragePath = appConfig.Storage.Path
	}
	if flag.Lookup("cache").DefValue == cfg.CacheType && appConfig.Cache.Type != "" {
		cfg.CacheType = appConfig.Cache.Type
	}

	// 拆分配置
	if flag.Lookup("min-words").DefValue == fmt.Sprint(cfg.MinWords) && appConfig.Split.MinWords > 0 {
		cfg.MinWords = appConfig.Split.MinWords
	}
	if flag.Lookup("chapters-dir").DefValue == cfg.ChaptersDir && appConfig.Split.ChaptersDir != "" {
		cfg.ChaptersDir = appConfig.Split.ChaptersDir
	}

	// TTS配置
	if flag.Lookup("engine").DefValue == cfg.Engine && appConfig.TTS.Engine != "" {
		cfg.Engine = appConfig.TTS.Engine
	}
	if flag.Lookup("voice").DefValue == cfg.Voice && appConfig.TTS.Voice != "" {
		cfg.Voice = appConfig.TTS.Voice
	}
	if flag.Lookup("speed").DefValue == fmt.Sprint(cfg.Speed) && appConfig.TTS.Speed > 0 {
		cfg.Speed = appConfig.TTS.Speed
	}
	if flag.Lookup("format").DefValue == cfg.Format && appConfig.Audio.Format != "" {
		cfg.Format = appConfig.Audio.Format
	}
	if flag.Lookup("chunk-size").DefValue == fmt.Sprint(cfg.ChunkSize) && appConfig.Audio.ChunkSize > 0 {
		cfg.ChunkSize = appConfig.Audio.ChunkSize
	}
	if flag.Lookup("silence-ms").DefValue == fmt.Sprint(cfg.SilenceMs) && appConfig.Audio.SilenceMs > 0 {
		cfg.SilenceMs = appConfig.Audio.SilenceMs
	}
	if flag.Lookup("tts-retries").DefValue == fmt.Sprint(cfg.MaxRetries) && appConfig.Audio.MaxRetries > 0 {
		cfg.MaxRetries = appConfig.Audio.MaxRetries
	}
	if flag.Lookup("audio-dir").DefValue == cfg.AudioDir && appConfig.Audio.OutputDir != "" {
		cfg.AudioDir = appConfig.Audio.OutputDir
	}

	// 任务队列配置
	if flag.Lookup("queue").DefValue == fmt.Sprint(cfg.QueueEnabled) {
		cfg.QueueEnabled = appConfig.Queue.Enable
	}
	if flag.Lookup("queue-type").DefValue == cfg.QueueType && appConfig.Queue.Type != "" {
		cfg.QueueType = appConfig.Queue.Type
	}
	if flag.Lookup("redis-addr").DefValue == cfg.RedisAddr && appConfig.Queue.RedisAddr != "" {
		cfg.RedisAddr = appConfig.Queue.RedisAddr
	}
	if flag.Lookup("redis-password").DefValue == cfg.RedisPassword {
		cfg.RedisPassword = appConfig.Queue.RedisPassword
	}
	if flag.Lookup("redis-db").DefValue == fmt.Sprint(cfg.RedisDB) {
		cfg.RedisDB = appConfig.Queue.RedisDB
	}
	if flag.Lookup("queue-concurrency").DefValue == fmt.Sprint(cfg.QueueConcurrency) && appConfig.Queue.Concurrency > 0 {
		cfg.QueueConcurrency = appConfig.Queue.Concurrency
	}
	if flag.Lookup("queue-retry").DefValue == fmt.Sprint(cfg.QueueRetryLimit) && appConfig.Queue.RetryLimit > 0 {
		cfg.QueueRetryLimit = appConfig.Queue.RetryLimit
	}
	if appConfig.Queue.RetryDelay > 0 {
		cfg.QueueRetryDelay = time.Duration(appConfig.Queue.RetryDelay) * time.Second
	}
}

// setupLogger 设置日志系统
func setupLogger(cfg config) *logrus.Logger {
	logger := middleware.GetLogger()

	// 设置日志级别
	switch cfg.LogLevel {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	// 指定日志文件时启用滚动日志
	if cfg.LogFile != "" {
		logger.SetOutput(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     30, // 天
			Compress:   true,
		})
	}

	return logger
}

// setupStorage 设置文件存储服务
func setupStorage(cfg config) (storage.Storage, error) {
	if cfg.StorageType == "minio" {
		return storage.NewMinioStorage(storage.MinioConfig{
			Endpoint:  os.Getenv("MINIO_ENDPOINT"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:    "audiobooks",
			UseSSL:    false,
		})
	}

	// 确保存储目录存在
	if err := os.MkdirAll(cfg.StoragePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %v", err)
	}

	return storage.NewLocalStorage(storage.LocalConfig{
		Path: cfg.StoragePath,
	})
}

// setupCache 设置缓存服务
func setupCache(cfg config) (cache.Cache, error) {
	cacheConfig := cache.Config{
		Type:            cfg.CacheType,
		DefaultTTL:      24 * time.Hour,
		CleanupInterval: 10 * time.Minute,
	}

	// 如果配置了Redis，添加Redis配置
	if cfg.CacheType == "redis" {
		cacheConfig.RedisAddr = cfg.RedisAddr
		cacheConfig.RedisPassword = cfg.RedisPassword
	}

	return cache.NewCache(cacheConfig)
}

// setupDatabase 设置数据库
func setupDatabase(cfg config, logger *logrus.Logger) error {
	dbPath := filepath.Join(cfg.DataDir, "audiobook.db")

	// 确保数据目录存在
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %v", err)
	}

	dbConfig := &database.Config{
		Type: "sqlite",
		DSN:  dbPath,
	}

	return database.Setup(dbConfig, logger)
}

// setupTaskQueue 设置任务队列
func setupTaskQueue(cfg config, logger *logrus.Logger) (taskqueue.Queue, error) {
	queueConfig := &taskqueue.Config{
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		Concurrency:   cfg.QueueConcurrency,
		RetryLimit:    cfg.QueueRetryLimit,
		RetryDelay:    cfg.QueueRetryDelay,
		Queues: map[string]int{
			"critical": 6,
			"default":  3,
			"low":      1,
		},
	}

	logger.WithFields(logrus.Fields{
		"type":        cfg.QueueType,
		"redis_addr":  cfg.RedisAddr,
		"concurrency": cfg.QueueConcurrency,
		"retry_limit": cfg.QueueRetryLimit,
	}).Info("Setting up task queue")

	return taskqueue.NewQueue(cfg.QueueType, queueConfig)
}

// setupWorker 注册任务处理器并启动工作者
func setupWorker(cfg config, queue taskqueue.Queue, repo repository.BookRepository, defaults pipeline.Config, logger *logrus.Logger) (taskqueue.Worker, error) {
	redisQueue, ok := queue.(*taskqueue.RedisQueue)
	if !ok {
		return nil, fmt.Errorf("worker requires a redis queue, got %T", queue)
	}

	worker := taskqueue.NewRedisWorker(redisQueue, nil)
	worker.RegisterHandler(taskqueue.TaskBookSplit, taskqueue.NewBookSplitHandler(queue, repo, logger))
	worker.RegisterHandler(taskqueue.TaskChapterAudio, taskqueue.NewChapterAudioHandler(queue, repo, defaults, logger))
	worker.RegisterHandler(taskqueue.TaskBookConvert, taskqueue.NewBookConvertHandler(queue, repo, logger))

	if err := worker.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %v", err)
	}

	logger.WithField("concurrency", cfg.QueueConcurrency).Info("Task worker started")
	return worker, nil
}
