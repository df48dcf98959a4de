package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	mimetypeContent = "application/epub+zip"

	containerTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>
`
)

// manifestEntry 新归档中单个文档的命名和类型
type manifestEntry struct {
	ID        string
	Href      string
	MediaType string
}

// Write 将给定文档序列化为一个最小但合法的EPUB容器
// 文档顺序和内容原样保留；目标不可写时返回错误，且不会留下半成品文件
func Write(book *Book, docs []Document, outPath string) error {
	if len(docs) == 0 {
		return fmt.Errorf("cannot write epub without documents")
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// 先写临时文件，成功后再原子替换到目标路径
	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".epub-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := writeArchive(tmp, book, docs); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close epub file: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move epub into place: %w", err)
	}

	return nil
}

// writeArchive 写出EPUB的ZIP结构：mimetype必须是第一个条目且不压缩
func writeArchive(f *os.File, book *Book, docs []Document) error {
	zw := zip.NewWriter(f)

	// mimetype条目：必须未压缩且位于归档首位
	mw, err := zw.CreateHeader(&zip.FileHeader{
		Name:   "mimetype",
		Method: zip.Store,
	})
	if err != nil {
		return fmt.Errorf("failed to create mimetype entry: %w", err)
	}
	if _, err := mw.Write([]byte(mimetypeContent)); err != nil {
		return fmt.Errorf("failed to write mimetype: %w", err)
	}

	cw, err := zw.Create(containerPath)
	if err != nil {
		return fmt.Errorf("failed to create container.xml: %w", err)
	}
	if _, err := cw.Write([]byte(containerTemplate)); err != nil {
		return fmt.Errorf("failed to write container.xml: %w", err)
	}

	entries := buildManifest(docs)

	ow, err := zw.Create("OEBPS/content.opf")
	if err != nil {
		return fmt.Errorf("failed to create content.opf: %w", err)
	}
	if _, err := ow.Write(buildOPF(book, entries)); err != nil {
		return fmt.Errorf("failed to write content.opf: %w", err)
	}

	for i, doc := range docs {
		dw, err := zw.Create("OEBPS/" + entries[i].Href)
		if err != nil {
			return fmt.Errorf("failed to create document entry: %w", err)
		}
		if _, err := dw.Write(doc.Content); err != nil {
			return fmt.Errorf("failed to write document %s: %w", doc.Href, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize epub archive: %w", err)
	}
	return nil
}

// buildManifest 为文档生成新归档内的命名，保持原有顺序
func buildManifest(docs []Document) []manifestEntry {
	entries := make([]manifestEntry, len(docs))
	for i, doc := range docs {
		mediaType := doc.MediaType
		if mediaType == "" {
			mediaType = "application/xhtml+xml"
		}
		entries[i] = manifestEntry{
			ID:        fmt.Sprintf("item%03d", i+1),
			Href:      fmt.Sprintf("text/part%04d.xhtml", i+1),
			MediaType: mediaType,
		}
	}
	return entries
}

// buildOPF 生成OPF清单内容
// encoding/xml对带前缀的元素名（dc:title）支持有限，这里直接拼接并转义
func buildOPF(book *Book, entries []manifestEntry) []byte {
	identifier := book.Identifier
	if identifier == "" {
		identifier = "urn:uuid:" + uuid.New().String()
	}
	language := book.Language
	if language == "" {
		language = "en"
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(`<package xmlns="http://www.idpf.org/2007/opf" version="2.0" unique-identifier="book-id">` + "\n")
	buf.WriteString(`  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">` + "\n")
	buf.WriteString("    <dc:title>" + escapeXML(book.Title) + "</dc:title>\n")
	if book.Author != "" {
		buf.WriteString("    <dc:creator>" + escapeXML(book.Author) + "</dc:creator>\n")
	}
	buf.WriteString("    <dc:language>" + escapeXML(language) + "</dc:language>\n")
	buf.WriteString(`    <dc:identifier id="book-id">` + escapeXML(identifier) + "</dc:identifier>\n")
	buf.WriteString("  </metadata>\n")
	buf.WriteString("  <manifest>\n")
	for _, e := range entries {
		buf.WriteString(fmt.Sprintf(`    <item id=%q href=%q media-type=%q/>`+"\n",
			e.ID, e.Href, e.MediaType))
	}
	buf.WriteString("  </manifest>\n")
	buf.WriteString("  <spine>\n")
	for _, e := range entries {
		buf.WriteString(fmt.Sprintf(`    <itemref idref=%q/>`+"\n", e.ID))
	}
	buf.WriteString("  </spine>\n")
	buf.WriteString("</package>\n")

	return buf.Bytes()
}

// escapeXML 转义文本中的XML特殊字符
func escapeXML(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
