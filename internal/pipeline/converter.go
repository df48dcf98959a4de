package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/epub-audiobook/internal/audio"
	"github.com/fyerfyer/epub-audiobook/internal/chunker"
	"github.com/fyerfyer/epub-audiobook/internal/epub"
	"github.com/fyerfyer/epub-audiobook/internal/models"
	"github.com/fyerfyer/epub-audiobook/internal/textclean"
	"github.com/fyerfyer/epub-audiobook/internal/tts"
)

// Config 音频转换管线配置
type Config struct {
	Engine     string        // TTS引擎名称
	Format     string        // 输出格式：wav、mp3或both
	ChunkSize  int           // 单块最大字符数
	Silence    time.Duration // 分块之间的静音时长
	MaxRetries int           // 引擎失败的最大重试次数
	RetryDelay time.Duration // 重试间隔
	Voice      string        // 语音标识
	Speed      float64       // 语速倍率
}

// DefaultConfig 返回默认管线配置
func DefaultConfig() Config {
	return Config{
		Engine:     "piper",
		Format:     "wav",
		ChunkSize:  5000,
		Silence:    500 * time.Millisecond,
		MaxRetries: 3,
		RetryDelay: time.Second,
		Voice:      "upmc",
		Speed:      1.0,
	}
}

// Converter 章节音频转换器
// 每次转换是一个独立的工作单元：读章节EPUB、清洗文本、分块、
// 逐块合成、拼接成章节音频。全部中间产物放在临时目录，
// 只有完整成功的结果才改名进输出目录，失败不留半成品
type Converter struct {
	engine  tts.Engine
	chunker *chunker.Chunker
	config  Config
	logger  *logrus.Logger
}

// NewConverter 创建音频转换器
func NewConverter(engine tts.Engine, config Config, logger *logrus.Logger) *Converter {
	if config.Format == "" {
		config.Format = DefaultConfig().Format
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Converter{
		engine:  engine,
		chunker: chunker.NewChunker(chunker.Config{ChunkSize: config.ChunkSize}),
		config:  config,
		logger:  logger,
	}
}

// ConvertChapter 把一个章节EPUB转换为音频文件
// 返回写出的音频文件路径（both格式时返回wav路径）
func (c *Converter) ConvertChapter(ctx context.Context, epubPath, outDir string) (string, error) {
	book, err := epub.Parse(epubPath)
	if err != nil {
		return "", err
	}

	text := c.chapterText(book)
	if text == "" {
		return "", fmt.Errorf("%w: %s", models.ErrNoContent, epubPath)
	}

	chunks := c.chunker.Split(text)

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	// 中间产物全部落在输出目录下的临时目录，与最终文件同卷，
	// 改名才是原子的
	tempDir, err := os.MkdirTemp(outDir, ".convert-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	chunkFiles, err := c.synthesizeChunks(ctx, chunks, tempDir)
	if err != nil {
		return "", err
	}

	combined := filepath.Join(tempDir, "combined.wav")
	if err := audio.ConcatWAV(chunkFiles, combined, c.config.Silence); err != nil {
		return "", err
	}

	base := strings.TrimSuffix(filepath.Base(epubPath), filepath.Ext(epubPath))
	return c.publish(ctx, combined, outDir, base)
}

// chapterText 提取并清洗章节的全部文本
func (c *Converter) chapterText(book *epub.Book) string {
	var parts []string
	for _, doc := range book.Documents {
		text := textclean.Clean(string(doc.Content))
		if text == "" {
			c.logger.WithField("href", doc.Href).Warn("Document has no extractable text, skipping")
			continue
		}
		parts = append(parts, textclean.ExpandAbbreviations(text))
	}
	return strings.Join(parts, "\n")
}

// synthesizeChunks 逐块合成音频，引擎失败按配置重试
func (c *Converter) synthesizeChunks(ctx context.Context, chunks []chunker.Chunk, tempDir string) ([]string, error) {
	files := make([]string, 0, len(chunks))

	for _, chunk := range chunks {
		ext := c.engine.OutputFormat()
		rawPath := filepath.Join(tempDir, fmt.Sprintf("chunk_%04d.%s", chunk.Index, ext))

		if err := c.synthesizeWithRetry(ctx, chunk, rawPath); err != nil {
			return nil, err
		}

		// 非WAV输出的引擎先统一转成WAV再拼接
		wavPath := rawPath
		if ext != "wav" {
			wavPath = filepath.Join(tempDir, fmt.Sprintf("chunk_%04d.wav", chunk.Index))
			if err := audio.ConvertToWAV(ctx, rawPath, wavPath); err != nil {
				return nil, err
			}
		}
		files = append(files, wavPath)
	}

	return files, nil
}

// synthesizeWithRetry 合成单个分块，引擎错误最多重试MaxRetries次
func (c *Converter) synthesizeWithRetry(ctx context.Context, chunk chunker.Chunk, outPath string) error {
	req := tts.SynthRequest{
		Text:       chunk.Text,
		Voice:      c.config.Voice,
		Speed:      c.config.Speed,
		OutputPath: outPath,
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = c.engine.Synthesize(ctx, req)
		if lastErr == nil {
			return nil
		}

		// 只有引擎错误才值得重试，IO等其它错误直接失败
		var engErr *models.EngineError
		if !errors.As(lastErr, &engErr) {
			return lastErr
		}

		if attempt < c.config.MaxRetries {
			c.logger.WithFields(logrus.Fields{
				"chunk":   chunk.Index,
				"attempt": attempt + 1,
				"error":   lastErr.Error(),
			}).Warn("TTS synthesis failed, retrying")

			if c.config.RetryDelay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(c.config.RetryDelay):
				}
			}
		}
	}

	return models.NewEngineError(c.engine.Name(), chunk.Index, lastErr)
}

// publish 把拼接好的音频按配置格式发布到输出目录
func (c *Converter) publish(ctx context.Context, combined, outDir, base string) (string, error) {
	writeWAV := c.config.Format == "wav" || c.config.Format == "both"
	writeMP3 := c.config.Format == "mp3" || c.config.Format == "both"

	// ffmpeg缺失时降级为仅WAV输出，不让整章转换失败
	if writeMP3 && !audio.HasFFmpeg() {
		c.logger.WithField("format", c.config.Format).Warn("ffmpeg not found, keeping WAV output only")
		writeMP3 = false
		writeWAV = true
	}

	var mp3Temp string
	if writeMP3 {
		mp3Temp = filepath.Join(filepath.Dir(combined), base+".mp3")
		if err := audio.ConvertToMP3(ctx, combined, mp3Temp); err != nil {
			return "", err
		}
	}

	// 转码全部成功后才开始改名，避免发布半套结果
	var finalPath string
	if writeWAV {
		wavPath := filepath.Join(outDir, base+".wav")
		if err := os.Rename(combined, wavPath); err != nil {
			return "", fmt.Errorf("failed to move wav output: %w", err)
		}
		finalPath = wavPath
	}
	if writeMP3 {
		mp3Path := filepath.Join(outDir, base+".mp3")
		if err := os.Rename(mp3Temp, mp3Path); err != nil {
			return "", fmt.Errorf("failed to move mp3 output: %w", err)
		}
		if finalPath == "" {
			finalPath = mp3Path
		}
	}

	return finalPath, nil
}
