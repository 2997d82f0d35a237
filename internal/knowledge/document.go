package knowledge

// Document 带来源信息的文本片段
type Document struct {
	PageContent string
	Source      string
	Metadata    map[string]interface{}
}
