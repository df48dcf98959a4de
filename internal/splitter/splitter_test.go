package splitter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyerfyer/epub-audiobook/internal/epub"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// makeDoc 构造带指定词数正文的测试文档
func makeDoc(href, title string, words int) epub.Document {
	var buf strings.Builder
	buf.WriteString("<html><body><p>")
	for i := 0; i < words; i++ {
		if i > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(fmt.Sprintf("word%d", i))
	}
	buf.WriteString("</p></body></html>")

	return epub.Document{
		Href:      href,
		MediaType: "application/xhtml+xml",
		Title:     title,
		Content:   []byte(buf.String()),
	}
}

func makeBook(docs ...epub.Document) *epub.Book {
	for i := range docs {
		docs[i].Position = i
	}
	return &epub.Book{
		Title:     "Test Book",
		Author:    "Test Author",
		Language:  "en",
		Documents: docs,
	}
}

func TestSplit(t *testing.T) {
	t.Run("basic chapter boundaries", func(t *testing.T) {
		book := makeBook(
			makeDoc("cover.xhtml", "Cover", 5),
			makeDoc("ch1.xhtml", "Chapter 1", 60),
			makeDoc("ch2.xhtml", "Chapter 2", 80),
			makeDoc("appendix.xhtml", "Appendix", 10),
		)

		s := NewSplitter(Config{MinWords: 50}, testLogger())
		chapters := s.Split(book)

		require.Len(t, chapters, 2)
		assert.Equal(t, "Chapter 1", chapters[0].Title)
		assert.Equal(t, "Chapter 2", chapters[1].Title)
		assert.Equal(t, 1, chapters[0].Ordinal)
		assert.Equal(t, 2, chapters[1].Ordinal)

		// 附录不是章节边界，应并入最后一章
		assert.Len(t, chapters[1].Documents, 2)
		assert.Equal(t, 90, chapters[1].WordCount)
	})

	t.Run("undersized chapter merges forward", func(t *testing.T) {
		book := makeBook(
			makeDoc("ch1.xhtml", "Chapter 1", 20),
			makeDoc("ch2.xhtml", "Chapter 2", 120),
			makeDoc("ch3.xhtml", "Chapter 3", 120),
		)

		s := NewSplitter(Config{MinWords: 100}, testLogger())
		chapters := s.Split(book)

		require.Len(t, chapters, 2)
		// 过小的第一章与后续边界合并，标题保留最早的标题
		assert.Equal(t, "Chapter 1", chapters[0].Title)
		assert.Equal(t, 140, chapters[0].WordCount)
		assert.Equal(t, "Chapter 3", chapters[1].Title)
	})

	t.Run("trailing fragment merges backward", func(t *testing.T) {
		book := makeBook(
			makeDoc("ch1.xhtml", "Chapter 1", 200),
			makeDoc("ch2.xhtml", "Chapter 2", 200),
			makeDoc("notes.xhtml", "Chapter 3", 10),
		)

		s := NewSplitter(Config{MinWords: 100}, testLogger())
		chapters := s.Split(book)

		require.Len(t, chapters, 2)
		assert.Equal(t, 210, chapters[1].WordCount)
		assert.Len(t, chapters[1].Documents, 2)
	})

	t.Run("single undersized chapter survives", func(t *testing.T) {
		book := makeBook(
			makeDoc("ch1.xhtml", "Chapter 1", 30),
		)

		s := NewSplitter(Config{MinWords: 100}, testLogger())
		chapters := s.Split(book)

		require.Len(t, chapters, 1)
		assert.Equal(t, 30, chapters[0].WordCount)
		assert.Equal(t, 1, chapters[0].Ordinal)
	})

	t.Run("non-narrative documents excluded entirely", func(t *testing.T) {
		book := makeBook(
			makeDoc("cover.xhtml", "Cover", 5),
			makeDoc("toc.xhtml", "Table of Contents", 40),
			makeDoc("ch1.xhtml", "Chapter 1", 150),
			makeDoc("copyright.xhtml", "Copyright", 60),
		)

		s := NewSplitter(Config{MinWords: 100}, testLogger())
		chapters := s.Split(book)

		require.Len(t, chapters, 1)
		assert.Equal(t, "Chapter 1", chapters[0].Title)
		assert.Len(t, chapters[0].Documents, 1)
		assert.Equal(t, 150, chapters[0].WordCount)
	})

	t.Run("all documents skipped", func(t *testing.T) {
		book := makeBook(
			makeDoc("cover.xhtml", "Cover", 5),
			makeDoc("toc.xhtml", "Contents", 20),
		)

		s := NewSplitter(Config{MinWords: 100}, testLogger())
		chapters := s.Split(book)

		assert.Empty(t, chapters)
	})

	t.Run("untitled documents get placeholder titles", func(t *testing.T) {
		book := makeBook(
			makeDoc("part1.xhtml", "", 200),
		)

		s := NewSplitter(Config{MinWords: 100}, testLogger())
		chapters := s.Split(book)

		require.Len(t, chapters, 1)
		assert.Equal(t, "Chapter 1", chapters[0].Title)
	})

	t.Run("multilingual boundary headings", func(t *testing.T) {
		book := makeBook(
			makeDoc("c1.xhtml", "Chapitre 1", 150),
			makeDoc("c2.xhtml", "第二章", 150),
			makeDoc("c3.xhtml", "III", 150),
		)

		s := NewSplitter(Config{MinWords: 100}, testLogger())
		chapters := s.Split(book)

		require.Len(t, chapters, 3)
		for i, ch := range chapters {
			assert.Equal(t, i+1, ch.Ordinal)
			assert.Len(t, ch.Documents, 1)
		}
	})

	t.Run("custom classifier", func(t *testing.T) {
		book := makeBook(
			makeDoc("a.xhtml", "Alpha", 150),
			makeDoc("b.xhtml", "Beta", 150),
		)

		everyDoc := func(doc *epub.Document) bool { return true }
		s := NewSplitter(Config{MinWords: 100, Classifier: everyDoc}, testLogger())
		chapters := s.Split(book)

		require.Len(t, chapters, 2)
		assert.Equal(t, "Alpha", chapters[0].Title)
		assert.Equal(t, "Beta", chapters[1].Title)
	})
}

func TestCleanedText(t *testing.T) {
	ch := Chapter{
		Documents: []epub.Document{
			makeDoc("a.xhtml", "Chapter 1", 3),
			makeDoc("b.xhtml", "", 2),
		},
	}

	text := ch.CleanedText()
	assert.Contains(t, text, "word0 word1 word2")
	assert.NotContains(t, text, "<p>")
}

func TestWriteChapters(t *testing.T) {
	tempDir := t.TempDir()

	book := makeBook(
		makeDoc("ch1.xhtml", "Chapter 1", 60),
		makeDoc("ch2.xhtml", "Chapter 2: The Return", 60),
	)

	s := NewSplitter(Config{MinWords: 50}, testLogger())
	chapters := s.Split(book)
	require.Len(t, chapters, 2)

	paths, err := WriteChapters(book, chapters, tempDir, "mybook")
	require.NoError(t, err)
	require.Len(t, paths, 2)

	assert.Equal(t, "mybook_chapter_001_Chapter_1.epub", filepath.Base(paths[0]))
	assert.Equal(t, "mybook_chapter_002_Chapter_2_The_Return.epub", filepath.Base(paths[1]))

	// 写出的章节EPUB应可重新解析，且只包含本章文档
	parsed, err := epub.Parse(paths[0])
	require.NoError(t, err)
	require.Len(t, parsed.Documents, 1)
	assert.Contains(t, string(parsed.Documents[0].Content), "word0")
	assert.Equal(t, "Test Book - Chapter 1", parsed.Title)
}

func TestSlug(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "Chapter 1", "Chapter_1"},
		{"punctuation stripped", "Chapter 2: The Return!", "Chapter_2_The_Return"},
		{"accents dropped", "Préface", "Prface"},
		{"empty title", "", "untitled"},
		{"only punctuation", "***", "untitled"},
		{"long title truncated", strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Slug(tt.input))
		})
	}
}

func TestDefaultClassifier(t *testing.T) {
	boundary := []string{
		"Chapter 1", "CHAPTER XII", "Chapitre 3", "Chap. 4", "Kapitel 9",
		"Capítulo 2", "Глава 5", "第1章", "第十二回", "Prologue", "Epilogue",
		"Part One", "Partie 2", "7", "IV",
	}
	for _, title := range boundary {
		doc := &epub.Document{Title: title}
		assert.True(t, DefaultClassifier(doc), "expected boundary: %q", title)
	}

	notBoundary := []string{
		"", "The Long Road Home", "Acknowledgements", "About the Author",
	}
	for _, title := range notBoundary {
		doc := &epub.Document{Title: title}
		assert.False(t, DefaultClassifier(doc), "expected non-boundary: %q", title)
	}
}

func TestDefaultSkipFilter(t *testing.T) {
	skip := []epub.Document{
		{Title: "Cover", Href: "text/cover.xhtml"},
		{Title: "Table of Contents", Href: "text/toc.xhtml"},
		{Title: "Copyright", Href: "text/copy.xhtml"},
		{Title: "Something", Href: "text/titlepage.xhtml"},
		{Title: "Couverture", Href: "text/p1.xhtml"},
		{Title: "Body", Href: "nav.xhtml"},
	}
	for i := range skip {
		assert.True(t, DefaultSkipFilter(&skip[i]), "expected skip: %q / %q", skip[i].Title, skip[i].Href)
	}

	keep := []epub.Document{
		{Title: "Chapter 1", Href: "text/ch1.xhtml"},
		{Title: "The Discovery", Href: "text/part2.xhtml"},
	}
	for i := range keep {
		assert.False(t, DefaultSkipFilter(&keep[i]), "expected keep: %q / %q", keep[i].Title, keep[i].Href)
	}
}
