package ai

import (
	"context"
	"errors"
)

var (
	// ErrExtraction means no usable text could be read from the document.
	ErrExtraction = errors.New("text extraction failed")
	// ErrDisabled is returned when no AI provider is configured.
	ErrDisabled = errors.New("ai analysis is disabled")
)

// Analysis is the structured review of a resume.
type Analysis struct {
	Score            float64  `json:"score"`
	Strengths        []string `json:"strengths"`
	Weaknesses       []string `json:"weaknesses"`
	Improvements     []string `json:"improvements"`
	MissingElements  []string `json:"missing_elements"`
	FormattingIssues []string `json:"formatting_issues"`
	Keywords         []string `json:"keywords"`
	JobFitSuggestion string   `json:"job_fit_suggestion"`
}

type Analyzer interface {
	Analyze(ctx context.Context, document []byte, mimeType string) (*Analysis, error)
}

// Disabled is an Analyzer that always fails with ErrDisabled.
type Disabled struct{}

func (Disabled) Analyze(context.Context, []byte, string) (*Analysis, error) {
	return nil, ErrDisabled
}
