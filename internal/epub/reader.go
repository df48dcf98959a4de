package epub

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/fyerfyer/epub-audiobook/internal/models"
)

// containerPath EPUB容器描述文件的固定路径
const containerPath = "META-INF/container.xml"

// Document EPUB中的一个内容文档
// 按spine顺序排列，是章节拆分的基本单位
type Document struct {
	ID        string // manifest中的条目ID
	Href      string // 归档内的文件路径
	MediaType string // MIME类型
	Position  int    // 在spine中的位置（从0开始）
	Content   []byte // 原始标记内容
	Title     string // 从标记中提取的标题（可能为空）
}

// Book 解析后的EPUB书籍
// 文档严格按spine声明的顺序排列，解析后只读
type Book struct {
	Title      string     // 书籍标题（dc:title）
	Author     string     // 作者（dc:creator）
	Language   string     // 语言（dc:language）
	Identifier string     // 唯一标识符（dc:identifier）
	Documents  []Document // spine顺序的内容文档
}

// container META-INF/container.xml的XML结构
type container struct {
	XMLName   xml.Name `xml:"container"`
	RootFiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

// opfPackage OPF文件的根<package>元素
type opfPackage struct {
	XMLName  xml.Name    `xml:"package"`
	Version  string      `xml:"version,attr"`
	Metadata opfMetadata `xml:"metadata"`
	Manifest opfManifest `xml:"manifest"`
	Spine    opfSpine    `xml:"spine"`
}

// opfMetadata OPF中的Dublin Core元数据
type opfMetadata struct {
	Titles      []string `xml:"http://purl.org/dc/elements/1.1/ title"`
	Creators    []string `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Languages   []string `xml:"http://purl.org/dc/elements/1.1/ language"`
	Identifiers []string `xml:"http://purl.org/dc/elements/1.1/ identifier"`
}

// opfManifest OPF中的<manifest>元素
type opfManifest struct {
	Items []opfManifestItem `xml:"item"`
}

// opfManifestItem manifest中的单个<item>
type opfManifestItem struct {
	ID        string `xml:"id,attr"`
	Href      string `xml:"href,attr"`
	MediaType string `xml:"media-type,attr"`
}

// opfSpine OPF中的<spine>元素
type opfSpine struct {
	ItemRefs []struct {
		IDRef  string `xml:"idref,attr"`
		Linear string `xml:"linear,attr"`
	} `xml:"itemref"`
}

// Parse 解析指定路径的EPUB文件
// 容器无效（归档不可读、manifest缺失、spine畸形）时返回包装了
// models.ErrInvalidFormat的错误
func Parse(filePath string) (*Book, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open epub file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat epub file: %w", err)
	}

	return ParseReader(f, info.Size())
}

// ParseReader 从Reader解析EPUB内容
func ParseReader(r io.ReaderAt, size int64) (*Book, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: not a zip archive: %v", models.ErrInvalidFormat, err)
	}

	// 建立归档内文件索引
	files := make(map[string]*zip.File, len(zr.File))
	for _, zf := range zr.File {
		files[zf.Name] = zf
	}

	// 定位OPF文件
	opfPath, err := locateOPF(files)
	if err != nil {
		return nil, err
	}

	opfData, err := readZipFile(files, opfPath)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read opf: %v", models.ErrInvalidFormat, err)
	}

	var pkg opfPackage
	if err := xml.Unmarshal(opfData, &pkg); err != nil {
		return nil, fmt.Errorf("%w: malformed opf: %v", models.ErrInvalidFormat, err)
	}
	if len(pkg.Manifest.Items) == 0 {
		return nil, fmt.Errorf("%w: manifest is empty", models.ErrInvalidFormat)
	}
	if len(pkg.Spine.ItemRefs) == 0 {
		return nil, fmt.Errorf("%w: spine is empty", models.ErrInvalidFormat)
	}

	// manifest按ID索引
	manifest := make(map[string]opfManifestItem, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		manifest[item.ID] = item
	}

	book := &Book{
		Title:      first(pkg.Metadata.Titles),
		Author:     first(pkg.Metadata.Creators),
		Language:   first(pkg.Metadata.Languages),
		Identifier: first(pkg.Metadata.Identifiers),
	}

	// 按spine顺序收集内容文档
	opfDir := path.Dir(opfPath)
	for _, ref := range pkg.Spine.ItemRefs {
		item, ok := manifest[ref.IDRef]
		if !ok {
			return nil, fmt.Errorf("%w: spine references unknown item %q", models.ErrInvalidFormat, ref.IDRef)
		}
		if !isContentDocument(item.MediaType) {
			continue
		}

		href := resolveHref(opfDir, item.Href)
		content, err := readZipFile(files, href)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot read document %s: %v", models.ErrInvalidFormat, href, err)
		}

		book.Documents = append(book.Documents, Document{
			ID:        item.ID,
			Href:      href,
			MediaType: item.MediaType,
			Position:  len(book.Documents),
			Content:   content,
			Title:     extractHeading(content),
		})
	}

	if len(book.Documents) == 0 {
		return nil, fmt.Errorf("%w: no content documents in spine", models.ErrInvalidFormat)
	}

	return book, nil
}

// locateOPF 通过container.xml定位OPF文件路径
// container.xml缺失时回退为在归档中搜索.opf文件
func locateOPF(files map[string]*zip.File) (string, error) {
	data, err := readZipFile(files, containerPath)
	if err == nil {
		var c container
		if err := xml.Unmarshal(data, &c); err != nil {
			return "", fmt.Errorf("%w: malformed container.xml: %v", models.ErrInvalidFormat, err)
		}
		for _, rf := range c.RootFiles {
			if rf.FullPath != "" {
				return rf.FullPath, nil
			}
		}
	}

	// 回退：直接搜索.opf文件
	for name := range files {
		if strings.HasSuffix(strings.ToLower(name), ".opf") {
			return name, nil
		}
	}

	return "", fmt.Errorf("%w: no opf file found", models.ErrInvalidFormat)
}

// readZipFile 读取归档内指定文件的全部内容
func readZipFile(files map[string]*zip.File, name string) ([]byte, error) {
	zf, ok := files[name]
	if !ok {
		return nil, fmt.Errorf("file %s not found in archive", name)
	}

	rc, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return io.ReadAll(rc)
}

// resolveHref 将manifest中的相对href解析为归档内路径
func resolveHref(opfDir, href string) string {
	if opfDir == "." || opfDir == "" {
		return href
	}
	return path.Join(opfDir, href)
}

// isContentDocument 判断manifest条目是否为可朗读的内容文档
func isContentDocument(mediaType string) bool {
	switch mediaType {
	case "application/xhtml+xml", "text/html", "application/x-dtbook+xml":
		return true
	}
	return false
}

// first 返回切片的第一个元素，空切片返回空字符串
func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}
