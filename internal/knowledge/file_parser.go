package knowledge

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

// PDFParser PDF文件解析器，按页输出文档
type PDFParser struct{}

func (p *PDFParser) Parse(reader io.Reader, source string) ([]Document, error) {
	pdfBytes, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf: %w", err)
	}

	pdfReader, err := model.NewPdfReader(bytes.NewReader(pdfBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pdf: %w", err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return nil, fmt.Errorf("failed to get pdf page count: %w", err)
	}

	docs := make([]Document, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d: %w", i, err)
		}
		ex, err := extractor.New(page)
		if err != nil {
			return nil, fmt.Errorf("failed to create extractor for page %d: %w", i, err)
		}
		text, err := ex.ExtractText()
		if err != nil {
			return nil, fmt.Errorf("failed to extract text from page %d: %w", i, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, Document{
			PageContent: text,
			Source:      source,
			Metadata: map[string]interface{}{
				"source":      source,
				"page":        i,
				"total_pages": numPages,
			},
		})
	}
	return docs, nil
}

// JSONParser 提取JSON中所有字符串叶子节点，按文档顺序每个叶子一个文档
type JSONParser struct{}

func (p *JSONParser) Parse(payload []byte, source string) ([]Document, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}

	var docs []Document
	var walk func(value gjson.Result, pointer string)
	walk = func(value gjson.Result, pointer string) {
		switch {
		case value.IsObject() || value.IsArray():
			idx := 0
			value.ForEach(func(key, child gjson.Result) bool {
				segment := key.String()
				if value.IsArray() {
					segment = fmt.Sprintf("%d", idx)
				}
				idx++
				walk(child, pointer+"/"+escapePointer(segment))
				return true
			})
		case value.Type == gjson.String:
			docs = append(docs, Document{
				PageContent: value.String(),
				Source:      source,
				Metadata: map[string]interface{}{
					"source":  source,
					"line":    len(docs) + 1,
					"pointer": pointer,
				},
			})
		}
	}
	walk(gjson.ParseBytes(payload), "")
	return docs, nil
}

func escapePointer(segment string) string {
	return strings.NewReplacer("~", "~0", "/", "~1").Replace(segment)
}
