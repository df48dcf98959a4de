package cache

import (
	"strconv"
	"time"
)

// chapterTextPrefix 清洗后章节文本的缓存键前缀
const chapterTextPrefix = "chapter_text"

// ChapterTextCache 清洗后章节文本的缓存
// 章节文本在拆分时清洗一次，转换阶段直接复用，
// 避免重复解析EPUB和清洗
type ChapterTextCache struct {
	cache Cache
	ttl   time.Duration
}

// NewChapterTextCache 创建章节文本缓存
func NewChapterTextCache(c Cache, ttl time.Duration) *ChapterTextCache {
	return &ChapterTextCache{cache: c, ttl: ttl}
}

// Get 获取章节的清洗文本
func (c *ChapterTextCache) Get(chapterID uint) (string, bool, error) {
	return c.cache.Get(c.key(chapterID))
}

// Set 缓存章节的清洗文本
func (c *ChapterTextCache) Set(chapterID uint, text string) error {
	return c.cache.Set(c.key(chapterID), text, c.ttl)
}

// Invalidate 清除章节的缓存文本
func (c *ChapterTextCache) Invalidate(chapterID uint) error {
	return c.cache.Delete(c.key(chapterID))
}

func (c *ChapterTextCache) key(chapterID uint) string {
	return GenerateCacheKey(chapterTextPrefix, strconv.FormatUint(uint64(chapterID), 10))
}
