package knowledge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const maxPageBytes = 10 << 20

// WebLoader 抓取网页并转换为纯文本文档
type WebLoader struct {
	client *http.Client
}

func NewWebLoader(timeout time.Duration) *WebLoader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebLoader{client: &http.Client{Timeout: timeout}}
}

func (l *WebLoader) Load(ctx context.Context, url string) ([]Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid website url: %w", err)
	}
	req.Header.Set("User-Agent", "genai-rag-api/1.0")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode)
	}

	text, err := HTMLToText(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html from %s: %w", url, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("no text content found at %s", url)
	}

	return []Document{{
		PageContent: text,
		Source:      url,
		Metadata:    map[string]interface{}{"source": url},
	}}, nil
}

var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"head": true, "svg": true, "iframe": true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"tr": true, "table": true, "section": true, "article": true, "header": true,
	"footer": true, "blockquote": true, "pre": true, "hr": true, "title": true,
}

// HTMLToText 提取可见文本，块级元素之间换行
func HTMLToText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
					b.WriteString(" ")
				}
				b.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] && b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteString("\n")
		}
	}
	walk(doc)

	lines := strings.Split(b.String(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n"), nil
}
