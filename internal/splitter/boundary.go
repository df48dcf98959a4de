package splitter

import (
	"path"
	"regexp"
	"strings"

	"github.com/fyerfyer/epub-audiobook/internal/epub"
)

// BoundaryClassifier 章节边界判定函数
// 返回true表示该文档开启一个新章节；作为可插拔断言传入配置，
// 便于新增语言或标记习惯而不触碰拆分器的合并逻辑
type BoundaryClassifier func(doc *epub.Document) bool

// SkipFilter 非叙述内容判定函数
// 返回true的文档（封面、目录、版权页等）完全排除在章节之外，
// 也不计入词数阈值
type SkipFilter func(doc *epub.Document) bool

// chapterHeadingPatterns 各语言"第N章"式标题的匹配模式
// 匹配不区分大小写，容忍首尾空白和标点
var chapterHeadingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^chapter\b`),          // 英语
	regexp.MustCompile(`(?i)^chapitre\b`),         // 法语
	regexp.MustCompile(`(?i)^chap\.?\s*\d+`),      // 缩写形式
	regexp.MustCompile(`(?i)^kapitel\b`),          // 德语
	regexp.MustCompile(`(?i)^cap[ií]tulo\b`),      // 西语/葡语
	regexp.MustCompile(`(?i)^capitolo\b`),         // 意语
	regexp.MustCompile(`(?i)^глава\b`),            // 俄语
	regexp.MustCompile(`^第.{1,8}[章回节話话]`),        // 中日文
	regexp.MustCompile(`(?i)^(prologue|epilogue|prólogo|epílogo)\b`),
	regexp.MustCompile(`^\d+$`),                   // 纯数字标题
	regexp.MustCompile(`(?i)^[ivxlcdm]{1,7}$`),    // 罗马数字标题
	regexp.MustCompile(`(?i)^part\s+\w+`),         // 分部标题
	regexp.MustCompile(`(?i)^partie\s+\w+`),
}

// skipPatterns 非叙述文档的标题/文件名特征
var skipPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bcover\b`),
	regexp.MustCompile(`(?i)couverture`),
	regexp.MustCompile(`(?i)\btoc\b`),
	regexp.MustCompile(`(?i)table\s+of\s+contents`),
	regexp.MustCompile(`(?i)^contents$`),
	regexp.MustCompile(`(?i)sommaire`),
	regexp.MustCompile(`(?i)copyright`),
	regexp.MustCompile(`(?i)colophon`),
	regexp.MustCompile(`(?i)titlepage|title\s*page`),
	regexp.MustCompile(`(?i)\bnav\b|navigation`),
	regexp.MustCompile(`(?i)imprint`),
	regexp.MustCompile(`(?i)mentions\s+l[ée]gales`),
}

// normalizeHeading 去除标题首尾的空白和标点，便于模式匹配
func normalizeHeading(title string) string {
	return strings.TrimFunc(title, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '.', ':', ';', ',', '-', '–', '—', '«', '»', '"', '\'':
			return true
		}
		return false
	})
}

// DefaultClassifier 默认的章节边界判定
// 标题命中任一章节模式即视为边界
func DefaultClassifier(doc *epub.Document) bool {
	heading := normalizeHeading(doc.Title)
	if heading == "" {
		return false
	}
	for _, p := range chapterHeadingPatterns {
		if p.MatchString(heading) {
			return true
		}
	}
	return false
}

// DefaultSkipFilter 默认的非叙述内容判定
// 同时检查标题和归档内文件名
func DefaultSkipFilter(doc *epub.Document) bool {
	heading := normalizeHeading(doc.Title)
	base := strings.TrimSuffix(path.Base(doc.Href), path.Ext(doc.Href))

	for _, p := range skipPatterns {
		if heading != "" && p.MatchString(heading) {
			return true
		}
		if p.MatchString(base) {
			return true
		}
	}
	return false
}
