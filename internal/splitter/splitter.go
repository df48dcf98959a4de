package splitter

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/epub-audiobook/internal/epub"
	"github.com/fyerfyer/epub-audiobook/internal/textclean"
)

// maxSlugLength 文件名中章节标题片段的最大长度
const maxSlugLength = 50

// Chapter 拆分出的章节
// 由一段连续的文档组成，是后续音频转换的独立单位
type Chapter struct {
	Ordinal   int             // 章节序号（从1开始，连续无间隔）
	Title     string          // 章节标题（第一个标题，或生成的占位标题）
	WordCount int             // 清洗后文本的词数
	Documents []epub.Document // 章节包含的原始文档
}

// CleanedText 返回章节全部文档清洗后的文本
// 章节EPUB保留原始标记，清洗发生在音频阶段；这里的结果只用于
// 词数判断和预览
func (c *Chapter) CleanedText() string {
	parts := make([]string, 0, len(c.Documents))
	for _, doc := range c.Documents {
		if text := textclean.Clean(string(doc.Content)); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

// Config 拆分器配置
// 所有阈值和判定函数显式传入，不读取环境状态
type Config struct {
	MinWords   int                // 章节最小词数阈值
	Classifier BoundaryClassifier // 章节边界判定（nil时使用默认）
	Skip       SkipFilter         // 非叙述内容判定（nil时使用默认）
}

// DefaultConfig 返回默认拆分器配置
func DefaultConfig() Config {
	return Config{
		MinWords:   100,
		Classifier: DefaultClassifier,
		Skip:       DefaultSkipFilter,
	}
}

// Splitter 章节拆分器
// 在spine顺序上单遍扫描，用最小词数阈值合并过小的章节
type Splitter struct {
	cfg    Config
	logger *logrus.Logger
}

// NewSplitter 创建章节拆分器
func NewSplitter(cfg Config, logger *logrus.Logger) *Splitter {
	if cfg.MinWords <= 0 {
		cfg.MinWords = DefaultConfig().MinWords
	}
	if cfg.Classifier == nil {
		cfg.Classifier = DefaultClassifier
	}
	if cfg.Skip == nil {
		cfg.Skip = DefaultSkipFilter
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Splitter{cfg: cfg, logger: logger}
}

// accumulator 正在累积的章节草稿
type accumulator struct {
	docs  []epub.Document
	words int
}

func (a *accumulator) empty() bool {
	return len(a.docs) == 0
}

func (a *accumulator) add(doc epub.Document, words int) {
	a.docs = append(a.docs, doc)
	a.words += words
}

// Split 将书籍的文档划分为章节
// 结果章节的序号从1开始连续递增；没有任何可用章节时返回空切片，
// 由调用方决定是否降低阈值重试
func (s *Splitter) Split(book *epub.Book) []Chapter {
	var chapters []Chapter
	var current accumulator

	// flush 关闭当前累积器为一个完成的章节
	flush := func() {
		if current.empty() {
			return
		}
		chapters = append(chapters, Chapter{
			Title:     firstHeading(current.docs),
			WordCount: current.words,
			Documents: current.docs,
		})
		current = accumulator{}
	}

	for i := range book.Documents {
		doc := book.Documents[i]

		// 非叙述文档完全排除，不进入任何章节也不计入阈值
		if s.cfg.Skip(&doc) {
			s.logger.WithFields(logrus.Fields{
				"href":  doc.Href,
				"title": doc.Title,
			}).Debug("Skipping non-narrative document")
			continue
		}

		words := textclean.WordCount(textclean.Clean(string(doc.Content)))

		isBoundary := current.empty() || s.cfg.Classifier(&doc)
		if isBoundary && !current.empty() {
			if current.words >= s.cfg.MinWords {
				flush()
			} else {
				// 当前积累不足阈值：边界文档并入当前章节而不是另起新章，
				// 避免产生过小的章节
				s.logger.WithFields(logrus.Fields{
					"title": doc.Title,
					"words": current.words,
				}).Debug("Merging boundary into undersized chapter")
			}
		}

		current.add(doc, words)
	}

	// 收尾：末尾积累达标则独立成章，否则向后并入前一章节
	if !current.empty() {
		if current.words >= s.cfg.MinWords || len(chapters) == 0 {
			flush()
		} else {
			last := &chapters[len(chapters)-1]
			last.Documents = append(last.Documents, current.docs...)
			last.WordCount += current.words
		}
	}

	// 全书只有一章时允许低于阈值；否则丢弃零词数的残留
	if len(chapters) == 1 && chapters[0].WordCount == 0 {
		chapters = nil
	}

	// 分配权威序号，输出文件命名以此为准
	for i := range chapters {
		chapters[i].Ordinal = i + 1
		if chapters[i].Title == "" {
			chapters[i].Title = fmt.Sprintf("Chapter %d", i+1)
		}
	}

	return chapters
}

// firstHeading 返回文档序列中第一个非空标题
func firstHeading(docs []epub.Document) string {
	for _, doc := range docs {
		if doc.Title != "" {
			return doc.Title
		}
	}
	return ""
}

// WriteChapters 将每个章节写出为独立的EPUB文件
// 文件名形如 {base}_chapter_001_{slug}.epub，序号为权威命名依据；
// 返回写出的文件路径，顺序与章节一致
func WriteChapters(book *epub.Book, chapters []Chapter, outDir, baseName string) ([]string, error) {
	paths := make([]string, 0, len(chapters))

	for _, ch := range chapters {
		name := fmt.Sprintf("%s_chapter_%03d_%s.epub", baseName, ch.Ordinal, Slug(ch.Title))
		outPath := filepath.Join(outDir, name)

		chapterBook := &epub.Book{
			Title:    joinTitle(book.Title, ch.Title),
			Author:   book.Author,
			Language: book.Language,
		}
		if err := epub.Write(chapterBook, ch.Documents, outPath); err != nil {
			return paths, fmt.Errorf("failed to write chapter %d: %w", ch.Ordinal, err)
		}
		paths = append(paths, outPath)
	}

	return paths, nil
}

// Slug 将章节标题转为文件名安全的片段
func Slug(title string) string {
	var buf strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			buf.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			buf.WriteByte('_')
		}
	}

	slug := strings.Trim(buf.String(), "_")
	for strings.Contains(slug, "__") {
		slug = strings.ReplaceAll(slug, "__", "_")
	}
	if len(slug) > maxSlugLength {
		slug = slug[:maxSlugLength]
	}
	if slug == "" {
		slug = "untitled"
	}
	return slug
}

// joinTitle 组合书名和章节标题
func joinTitle(bookTitle, chapterTitle string) string {
	if bookTitle == "" {
		return chapterTitle
	}
	return bookTitle + " - " + chapterTitle
}
