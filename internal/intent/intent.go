// Package intent classifies a query's register to pick a generation
// temperature.
package intent

import (
	"context"
	"strings"

	"webscout/internal/llm"
	"webscout/internal/logging"
)

// Intent is the register of a query.
type Intent string

const (
	// Factual queries want precise, low-temperature answers.
	Factual Intent = "FACTUAL"
	// Creative queries want open-ended, high-temperature output.
	Creative Intent = "CREATIVE"
	// Mixed queries sit in between.
	Mixed Intent = "MIXED"
)

// Temperature maps the intent to a generation temperature.
func (i Intent) Temperature() float64 {
	switch i {
	case Creative:
		return 0.8
	case Mixed:
		return 0.5
	default:
		return 0.2
	}
}

const classifyPrompt = `Classify this query as FACTUAL (wants accurate information), CREATIVE (wants imaginative writing), or MIXED (both). Reply with exactly one word.

Query: %QUERY%`

// Classifier asks a small model for the query register.
type Classifier struct {
	backend llm.Backend
	model   string
}

// NewClassifier creates a classifier using the given utility model.
func NewClassifier(backend llm.Backend, model string) *Classifier {
	return &Classifier{backend: backend, model: model}
}

// Classify returns the query's intent. Keywords are matched
// case-insensitively with FACTUAL checked first; unrecognized output
// and call failures both default to Factual, the conservative choice.
func (c *Classifier) Classify(ctx context.Context, query string) Intent {
	prompt := strings.Replace(classifyPrompt, "%QUERY%", query, 1)

	resp, err := c.backend.Chat(ctx, c.model, []llm.Message{
		{Role: "user", Content: prompt},
	}, llm.Options{Temperature: 0.1, NumPredict: 20})
	if err != nil {
		logging.LLMDebug("Intent classification failed, defaulting to factual: %v", err)
		return Factual
	}

	return Parse(resp.Text)
}

// Parse scans classifier output for an intent keyword. FACTUAL wins
// when multiple keywords appear.
func Parse(text string) Intent {
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, string(Factual)):
		return Factual
	case strings.Contains(upper, string(Creative)):
		return Creative
	case strings.Contains(upper, string(Mixed)):
		return Mixed
	default:
		return Factual
	}
}
