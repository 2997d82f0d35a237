package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const summaryTemplate = `
You are an expert in summarizing pdf documents.
Your goal is to create a summary of pdf document.
Below you find data in the pdf:
--------
{text}
--------

The pdf will also be used as the basis for a question and answer bot.
Provide some examples questions and answers that could be asked about the pdf. Make these questions very specific.

Total output will be a summary of the data in pdf and a list of example questions the user could ask of the pdf.

SUMMARY AND QUESTIONS:
`

const summaryRefineTemplate = `
You are an expert in summarizing PDF documents.
Your goal is to create a summary of a PDF.
We have provided an existing summary up to a certain point: {existing_answer}

Below you find the content of PDF:
--------
{text}
--------

Given the new context, refine the summary and example questions.
The pdf will also be used as the basis for a question and answer bot.
Provide some examples questions and answers that could be asked about the pdf. Make
these questions very specific.
If the context isn't useful, return the original summary and questions.
Total output will be a summary of the pdf and a list of example questions the user could ask of the pdf.

SUMMARY AND QUESTIONS:
`

// RefineSummarizer 逐块精炼摘要：首块使用摘要模板，后续每块携带已有摘要使用精炼模板
type RefineSummarizer struct {
	model ChatModel
}

func NewRefineSummarizer(model ChatModel) *RefineSummarizer {
	return &RefineSummarizer{model: model}
}

func (s *RefineSummarizer) Summarize(ctx context.Context, docs []Document) (string, error) {
	if len(docs) == 0 {
		return "", errors.New("no content to summarize")
	}

	var summary string
	for i, doc := range docs {
		var prompt string
		if i == 0 {
			prompt = strings.Replace(summaryTemplate, "{text}", doc.PageContent, 1)
		} else {
			prompt = strings.NewReplacer(
				"{existing_answer}", summary,
				"{text}", doc.PageContent,
			).Replace(summaryRefineTemplate)
		}

		out, err := s.model.Generate(ctx, []Message{{Role: RoleUser, Content: prompt}})
		if err != nil {
			return "", fmt.Errorf("summarize chunk %d/%d: %w", i+1, len(docs), err)
		}
		summary = strings.TrimSpace(out)
	}
	return summary, nil
}
