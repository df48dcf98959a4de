package epub

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// headingPreference 标题提取的优先顺序
// 优先使用h1，依次降级到文档的<title>
var headingPreference = []atom.Atom{atom.H1, atom.H2, atom.H3, atom.Title}

// extractHeading 从文档标记中提取章节标题
// 按h1 > h2 > h3 > title的优先顺序取第一个非空文本，找不到返回空字符串
func extractHeading(content []byte) string {
	found := make(map[atom.Atom]string, len(headingPreference))

	tokenizer := html.NewTokenizer(bytes.NewReader(content))
	var current atom.Atom
	var buf strings.Builder

	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}

		switch tt {
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			a := atom.Lookup(name)
			if isHeadingAtom(a) {
				current = a
				buf.Reset()
			}
		case html.TextToken:
			if current != 0 {
				buf.Write(tokenizer.Text())
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			a := atom.Lookup(name)
			if a == current && current != 0 {
				text := strings.Join(strings.Fields(buf.String()), " ")
				if text != "" {
					if _, ok := found[current]; !ok {
						found[current] = text
					}
				}
				current = 0
			}
		}

		// h1已找到时无需继续扫描
		if _, ok := found[atom.H1]; ok {
			break
		}
	}

	for _, a := range headingPreference {
		if text, ok := found[a]; ok {
			return text
		}
	}
	return ""
}

// isHeadingAtom 判断标签是否参与标题提取
func isHeadingAtom(a atom.Atom) bool {
	for _, h := range headingPreference {
		if a == h {
			return true
		}
	}
	return false
}
