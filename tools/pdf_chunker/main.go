package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aihub/genai-rag/internal/knowledge"
)

func main() {
	chunkSize := flag.Int("size", 200, "chunk size in characters")
	overlap := flag.Int("overlap", 20, "chunk overlap in characters")
	previewLen := flag.Int("preview", 100, "characters of each chunk to print")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Println("Usage: pdf_chunker [-size 200] [-overlap 20] <pdf_file>")
		os.Exit(1)
	}
	pdfPath := flag.Arg(0)

	fmt.Println(strings.Repeat("=", 100))
	fmt.Printf("PDF文件: %s\n", pdfPath)
	fmt.Printf("分块配置: chunkSize=%d, overlap=%d\n", *chunkSize, *overlap)

	file, err := os.Open(pdfPath)
	if err != nil {
		fmt.Printf("错误: 无法打开PDF文件: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	startParse := time.Now()
	pages, err := (&knowledge.PDFParser{}).Parse(file, pdfPath)
	if err != nil {
		fmt.Printf("错误: PDF解析失败: %v\n", err)
		os.Exit(1)
	}
	parseDuration := time.Since(startParse)

	textLen := 0
	for _, page := range pages {
		textLen += len([]rune(page.PageContent))
	}
	fmt.Printf("解析完成 (耗时: %v), 页数: %d, 文本长度: %d 字符\n\n", parseDuration, len(pages), textLen)

	startChunk := time.Now()
	chunks := knowledge.NewChunker(*chunkSize, *overlap).SplitDocuments(pages)
	chunkDuration := time.Since(startChunk)
	if len(chunks) == 0 {
		fmt.Println("没有可分块的文本")
		return
	}

	totalChars := 0
	for i, chunk := range chunks {
		chars := len([]rune(chunk.PageContent))
		totalChars += chars

		fmt.Println(strings.Repeat("-", 100))
		fmt.Printf("块 #%d  页: %v  字符数: %d (%.1f%%)\n",
			i+1, chunk.Metadata["page"], chars, float64(chars)/float64(*chunkSize)*100)

		preview := []rune(chunk.PageContent)
		if len(preview) > *previewLen {
			preview = append(preview[:*previewLen], []rune("...")...)
		}
		fmt.Printf("  %s\n", strings.ReplaceAll(string(preview), "\n", "\\n"))
	}

	fmt.Println(strings.Repeat("=", 100))
	fmt.Printf("分块数量: %d, 平均块大小: %.1f 字符, 重叠带来的额外字符: %d\n",
		len(chunks), float64(totalChars)/float64(len(chunks)), totalChars-textLen)
	fmt.Printf("解析耗时: %v, 分块耗时: %v\n", parseDuration, chunkDuration)
}
