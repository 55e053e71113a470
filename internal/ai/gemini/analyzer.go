package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"github.com/spigell/careerhub/internal/ai"
	"github.com/spigell/careerhub/internal/utils"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
	GenerateFromDocument(ctx context.Context, system string, document []byte, mimeType, instruction string) (string, error)
}

//go:embed prompt.md
var promptTemplate string

const (
	defaultMaxLogLength = 200
	minResumeRunes      = 20

	extractionInstruction = "Extract ALL text from the document. Return ONLY raw text, no explanation."
	analysisSystem        = "You review resumes and answer with a single JSON object."
)

// Analyzer reviews resumes in two steps: it asks Gemini for the document's
// text, then for a JSON analysis of that text.
type Analyzer struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

var _ ai.Analyzer = (*Analyzer)(nil)

func NewAnalyzer(generator contentGenerator, logger *zap.Logger, maxLogLength int) *Analyzer {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Analyzer{
		generator: generator,
		logger:    logger,
		maxLogLen: maxLogLength,
	}
}

func (a *Analyzer) Analyze(ctx context.Context, document []byte, mimeType string) (*ai.Analysis, error) {
	if len(document) == 0 {
		return nil, fmt.Errorf("%w: empty document", ai.ErrExtraction)
	}

	raw, err := a.generator.GenerateFromDocument(ctx, "", document, mimeType, extractionInstruction)
	if err != nil {
		return nil, fmt.Errorf("extracting text: %w", err)
	}

	text := cleanText(raw)
	if utf8.RuneCountInString(text) < minResumeRunes {
		a.logger.Debug("extracted text too short",
			zap.Int("text_length", utf8.RuneCountInString(text)),
			zap.String("text_preview", utils.TruncateForLog(text, a.maxLogLen)),
		)
		return nil, ai.ErrExtraction
	}

	prompt := buildPrompt(text)
	a.logger.Debug("gemini analysis request",
		zap.String("mime_type", mimeType),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, a.maxLogLen)),
	)

	reply, err := a.generator.GenerateContent(ctx, analysisSystem, prompt)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("gemini analysis response",
		zap.Int("response_length", utf8.RuneCountInString(reply)),
		zap.String("response_preview", utils.TruncateForLog(reply, a.maxLogLen)),
	)

	return parseResponse(reply)
}

func buildPrompt(text string) string {
	template := promptTemplate
	if strings.TrimSpace(template) == "" {
		template = "Resume:\n{{RESUME_TEXT}}\n\nJSON Response:"
	}
	return strings.ReplaceAll(template, "{{RESUME_TEXT}}", text)
}

// cleanText collapses whitespace and drops control characters.
func cleanText(raw string) string {
	var builder strings.Builder
	builder.Grow(len(raw))

	space := false
	for _, r := range raw {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsControl(r):
		default:
			if space && builder.Len() > 0 {
				builder.WriteByte(' ')
			}
			space = false
			builder.WriteRune(r)
		}
	}
	return builder.String()
}

func parseResponse(raw string) (*ai.Analysis, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	score := coerceFloat(data["score"])
	if math.IsNaN(score) {
		score = 0
	}

	return &ai.Analysis{
		Score:            score,
		Strengths:        coerceStrings(data["strengths"]),
		Weaknesses:       coerceStrings(data["weaknesses"]),
		Improvements:     coerceStrings(data["improvements"]),
		MissingElements:  coerceStrings(data["missing_elements"]),
		FormattingIssues: coerceStrings(data["formatting_issues"]),
		Keywords:         coerceStrings(data["keywords"]),
		JobFitSuggestion: coerceString(data["job_fit_suggestion"]),
	}, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}

	first := strings.Index(raw, "{")
	last := strings.LastIndex(raw, "}")
	if first != -1 && last > first {
		raw = raw[first : last+1]
	}
	return strings.TrimSpace(raw)
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		trimmed := strings.TrimSuffix(strings.TrimSpace(val), "%")
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

// coerceStrings accepts a list or a single string and always returns a
// non-nil slice so the JSON answer carries [] rather than null.
func coerceStrings(v any) []string {
	result := []string{}
	switch val := v.(type) {
	case []any:
		for _, item := range val {
			if s := coerceString(item); s != "" {
				result = append(result, s)
			}
		}
	case string:
		if s := strings.TrimSpace(val); s != "" {
			result = append(result, s)
		}
	}
	return result
}
