package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/fyerfyer/epub-audiobook/internal/textclean"
)

// Config 分块器配置
type Config struct {
	ChunkSize int // 单块最大字符数（按rune计）
}

// DefaultConfig 返回默认分块器配置
func DefaultConfig() Config {
	return Config{
		ChunkSize: 5000,
	}
}

// Chunk 一段提交给TTS引擎的有界文本
// 同一章节的分块按Index有序，互不重叠；按顺序拼接（段落间补换行、
// 句子间补空格）即可还原章节的清洗文本
type Chunk struct {
	Index int    // 块在章节内的序号（从0开始）
	Text  string // 块文本
}

// Chunker 将章节清洗文本切分为不超过预算的文本块
// 优先在段落边界切分，段落超限时退到句子边界，单句仍超限时
// 才做硬切
type Chunker struct {
	config Config
}

// NewChunker 创建新的分块器
func NewChunker(config Config) *Chunker {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultConfig().ChunkSize
	}
	return &Chunker{config: config}
}

// Split 将文本切分为有序的文本块
func (c *Chunker) Split(text string) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var pieces []string
	if utf8.RuneCountInString(text) <= c.config.ChunkSize {
		pieces = []string{text}
	} else {
		pieces = c.packParagraphs(splitParagraphs(text))
	}

	chunks := make([]Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, Chunk{Index: i, Text: piece})
	}
	return chunks
}

// packParagraphs 贪心地把段落装入块中
// 放不下的段落开启新块；单个段落超限时按句子继续切分
func (c *Chunker) packParagraphs(paragraphs []string) []string {
	var chunks []string
	var current strings.Builder
	currentSize := 0

	flush := func() {
		if currentSize > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentSize = 0
		}
	}

	for _, p := range paragraphs {
		size := utf8.RuneCountInString(p)

		if size > c.config.ChunkSize {
			// 超限段落单独处理，先结清已积累的块
			flush()
			chunks = append(chunks, c.packSentences(p)...)
			continue
		}

		// 换行分隔符占一个字符
		if currentSize > 0 && currentSize+1+size > c.config.ChunkSize {
			flush()
		}
		if currentSize > 0 {
			current.WriteByte('\n')
			currentSize++
		}
		current.WriteString(p)
		currentSize += size
	}

	flush()
	return chunks
}

// packSentences 按句子切分超限段落并贪心装块
func (c *Chunker) packSentences(paragraph string) []string {
	var chunks []string
	var current strings.Builder
	currentSize := 0

	flush := func() {
		if currentSize > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentSize = 0
		}
	}

	for _, sentence := range textclean.SplitSentences(paragraph) {
		size := utf8.RuneCountInString(sentence)

		if size > c.config.ChunkSize {
			flush()
			chunks = append(chunks, hardCut(sentence, c.config.ChunkSize)...)
			continue
		}

		if currentSize > 0 && currentSize+1+size > c.config.ChunkSize {
			flush()
		}
		if currentSize > 0 {
			current.WriteByte(' ')
			currentSize++
		}
		current.WriteString(sentence)
		currentSize += size
	}

	flush()
	return chunks
}

// hardCut 对超限的单句做硬切
// 尽量在空格处断开，避免切断单词；完全没有空格时按字符数直切
func hardCut(sentence string, size int) []string {
	var chunks []string
	runes := []rune(sentence)

	for len(runes) > 0 {
		if len(runes) <= size {
			chunks = append(chunks, string(runes))
			break
		}

		cut := size
		for i := size; i > size/2; i-- {
			if runes[i-1] == ' ' {
				cut = i
				break
			}
		}

		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), " "))
		runes = runes[cut:]
	}

	return chunks
}

// splitParagraphs 按清洗文本的段落分隔符切分
func splitParagraphs(text string) []string {
	var result []string
	for _, p := range strings.Split(text, "\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
