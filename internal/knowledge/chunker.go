package knowledge

import (
	"strings"
	"unicode/utf8"
)

var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Chunk 表示分块后的文本结构
type Chunk struct {
	Index int
	Text  string
}

// Chunker 递归字符分块器，按段落、换行、空格、字符逐级切分后再合并到 chunkSize 以内，
// 相邻块之间保留不超过 chunkOverlap 的重叠
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// NewChunker 创建分块器
func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: overlap,
		separators:   defaultSeparators,
	}
}

// Split 将文本切分为多个chunk
func (c *Chunker) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	pieces := c.splitText(text, c.separators)
	chunks := make([]Chunk, 0, len(pieces))
	for _, piece := range pieces {
		chunks = append(chunks, Chunk{Index: len(chunks), Text: piece})
	}
	return chunks
}

// SplitDocuments 切分文档并保留来源，Metadata 中写入块序号
func (c *Chunker) SplitDocuments(docs []Document) []Document {
	var out []Document
	for _, doc := range docs {
		for _, chunk := range c.Split(doc.PageContent) {
			metadata := make(map[string]interface{}, len(doc.Metadata)+1)
			for k, v := range doc.Metadata {
				metadata[k] = v
			}
			metadata["chunk"] = chunk.Index
			out = append(out, Document{
				PageContent: chunk.Text,
				Source:      doc.Source,
				Metadata:    metadata,
			})
		}
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func (c *Chunker) splitText(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var next []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			next = separators[i+1:]
			break
		}
	}

	var final []string
	var good []string
	for _, split := range splitKeepingSeparator(text, separator) {
		if runeLen(split) < c.chunkSize {
			good = append(good, split)
			continue
		}
		if len(good) > 0 {
			final = append(final, c.merge(good)...)
			good = nil
		}
		if len(next) == 0 {
			final = append(final, split)
		} else {
			final = append(final, c.splitText(split, next)...)
		}
	}
	if len(good) > 0 {
		final = append(final, c.merge(good)...)
	}
	return final
}

// splitKeepingSeparator 分隔符保留在后一段的开头
func splitKeepingSeparator(text, separator string) []string {
	if separator == "" {
		out := make([]string, 0, runeLen(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}

	var out []string
	rest := text
	for rest != "" {
		// 每段至少包含一个字符；以分隔符开头的段跳过自身的分隔符
		skip := len(separator)
		if !strings.HasPrefix(rest, separator) {
			_, skip = utf8.DecodeRuneInString(rest)
		}
		idx := strings.Index(rest[skip:], separator)
		if idx < 0 {
			break
		}
		cut := skip + idx
		out = append(out, rest[:cut])
		rest = rest[cut:]
	}
	if rest != "" {
		out = append(out, rest)
	}
	return out
}

func (c *Chunker) merge(splits []string) []string {
	var docs []string
	var current []string
	total := 0

	for _, split := range splits {
		n := runeLen(split)
		if total+n > c.chunkSize && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				docs = append(docs, doc)
			}
			for total > c.chunkOverlap || (total+n > c.chunkSize && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, split)
		total += n
	}

	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}
