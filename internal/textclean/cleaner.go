package textclean

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// blockTags 提取文本时产生换行的块级标签集合
var blockTags = map[atom.Atom]bool{
	atom.P:          true,
	atom.Br:         true,
	atom.Div:        true,
	atom.H1:         true,
	atom.H2:         true,
	atom.H3:         true,
	atom.H4:         true,
	atom.H5:         true,
	atom.H6:         true,
	atom.Li:         true,
	atom.Tr:         true,
	atom.Blockquote: true,
	atom.Hr:         true,
}

// skipTags 内容整体跳过的标签集合
var skipTags = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
}

// charReplacements TTS不友好字符的替换表
// 与排版字符相比，TTS引擎对ASCII标点的发音更稳定
var charReplacements = strings.NewReplacer(
	"“", `"`, // 左双引号
	"”", `"`, // 右双引号
	"‘", "'", // 左单引号
	"’", "'", // 右单引号
	"…", "...", // 省略号
	"–", "-", // en dash
	"—", "-", // em dash
	"\u00A0", " ", // 不间断空格
	"\u200B", "", // 零宽空格
	"\uFEFF", "", // BOM
)

var (
	// footnotePattern 脚注标记，如[12]
	footnotePattern = regexp.MustCompile(`\[\d+\]`)
	// pageNumberPattern 只含页码的行
	pageNumberPattern = regexp.MustCompile(`^\s*-?\s*\d+\s*-?\s*$`)
	// spaceRunPattern 行内连续空白
	spaceRunPattern = regexp.MustCompile(`[ \t]+`)
	// missingSpacePattern 句末标点后缺失的空格
	missingSpacePattern = regexp.MustCompile(`([.!?])([A-ZÀ-Þ])`)
)

// frenchAbbreviations 法语TTS发音修正的缩写展开表
// 顺序固定，避免前缀互相干扰
var frenchAbbreviations = []struct {
	abbr string
	full string
}{
	{"M.", "Monsieur"},
	{"Mme", "Madame"},
	{"Dr", "Docteur"},
	{"etc.", "et cetera"},
	{"ex.", "exemple"},
}

// Clean 将原始标记内容清洗为TTS可用的纯文本
// 段落边界保留为单个换行符，行内空白折叠为单个空格；
// 无可提取文本（如纯图片页）时返回空字符串。
// 清洗是幂等的：Clean(Clean(x)) == Clean(x)
func Clean(markup string) string {
	if markup == "" {
		return ""
	}

	text := markup
	if strings.ContainsAny(markup, "<>") {
		text = extractText(markup)
	}

	return normalize(text)
}

// extractText 用HTML分词器剥离标记，块级标签转换为换行
func extractText(markup string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(markup))

	var buf strings.Builder
	skipDepth := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			// 到达输入末尾（或标记畸形时尽力而为）
			return buf.String()

		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			a := atom.Lookup(name)
			if skipTags[a] {
				skipDepth++
				continue
			}
			if blockTags[a] {
				buf.WriteByte('\n')
			}

		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			a := atom.Lookup(name)
			if skipTags[a] && skipDepth > 0 {
				skipDepth--
				continue
			}
			if blockTags[a] {
				buf.WriteByte('\n')
			}

		case html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			if blockTags[atom.Lookup(name)] {
				buf.WriteByte('\n')
			}

		case html.TextToken:
			if skipDepth == 0 {
				buf.Write(tokenizer.Text())
			}
		}
	}
}

// normalize 规范化纯文本：字符替换、伪迹移除、空白折叠
func normalize(text string) string {
	text = charReplacements.Replace(text)
	text = footnotePattern.ReplaceAllString(text, "")
	text = stripControlChars(text)

	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(spaceRunPattern.ReplaceAllString(line, " "))
		if line == "" {
			continue
		}
		// 只含页码的行不是叙述内容
		if pageNumberPattern.MatchString(line) {
			continue
		}
		out = append(out, line)
	}

	return strings.Join(out, "\n")
}

// stripControlChars 移除除换行外的控制字符和残留的标记字符
func stripControlChars(text string) string {
	var buf bytes.Buffer
	buf.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' || r == ' ' {
			buf.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) || r == '<' || r == '>' {
			continue
		}
		buf.WriteRune(r)
	}
	return buf.String()
}

// ExpandAbbreviations 展开常见缩写以改善TTS发音
// 目前只内置法语缩写表，与朗读语音的语言匹配时调用
func ExpandAbbreviations(text string) string {
	for _, e := range frenchAbbreviations {
		text = strings.ReplaceAll(text, e.abbr, e.full)
	}
	// 句末标点后紧跟大写字母时补一个空格
	return missingSpacePattern.ReplaceAllString(text, "$1 $2")
}

// WordCount 统计空白分隔的词数，任何输入都不会失败
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// sentenceTerminators 句子结束符集合，含CJK全角标点
var sentenceTerminators = map[rune]bool{
	'.': true, '!': true, '?': true,
	'。': true, '！': true, '？': true, '；': true,
}

// SplitSentences 将文本切分为句子
// 简单的结束符切分，供分块器在段落超限时使用
func SplitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for _, r := range text {
		current.WriteRune(r)
		if sentenceTerminators[r] {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}

	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// EstimateReadingTime 按朗读速度估算时长（分钟）
func EstimateReadingTime(text string, wordsPerMinute int) float64 {
	if wordsPerMinute <= 0 {
		wordsPerMinute = 150
	}
	return float64(WordCount(text)) / float64(wordsPerMinute)
}
