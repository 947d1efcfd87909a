// Package rater scores candidate URLs for relevance to a query with a
// small model before scraping spends time on them.
package rater

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"webscout/internal/llm"
	"webscout/internal/logging"
	"webscout/internal/search"
)

// batchSize keeps each rating prompt inside small-model context limits.
const batchSize = 10

// neutralScore is assigned when a line cannot be parsed or a whole
// batch fails.
const neutralScore = 5

// Rating is one scored URL.
type Rating struct {
	URL       string
	Title     string
	Score     int
	Reasoning string
}

// Stats reports rating throughput.
type Stats struct {
	Batches         int
	AvgTokensPerSec float64
}

// scoreLine matches "N. Score: X - Reasoning: ..." with some slack for
// model formatting drift.
var scoreLine = regexp.MustCompile(`(?i)^\s*(\d+)[.)]\s*score:\s*(\d+)\s*(?:-\s*reasoning:\s*(.*))?$`)

// Rater batches URLs through a utility model.
type Rater struct {
	backend llm.Backend
	model   string
}

// NewRater creates a rater using the given utility model.
func NewRater(backend llm.Backend, model string) *Rater {
	return &Rater{backend: backend, model: model}
}

// Rate scores every result and returns them sorted by descending
// score. Parse failures on single lines and whole-batch errors both
// degrade to the neutral score rather than dropping URLs.
func (r *Rater) Rate(ctx context.Context, query string, results []search.Result) ([]Rating, Stats) {
	timer := logging.StartTimer(logging.CategorySearch, "Rater.Rate")
	defer timer.StopWithInfo()

	var ratings []Rating
	var stats Stats
	var totalTokensPerSec float64

	for start := 0; start < len(results); start += batchSize {
		end := start + batchSize
		if end > len(results) {
			end = len(results)
		}
		batch := results[start:end]

		batchRatings, tokensPerSec, err := r.rateBatch(ctx, query, batch)
		if err != nil {
			logging.SearchWarn("URL rating batch failed, assigning neutral scores: %v", err)
			batchRatings = neutralBatch(batch)
		} else {
			totalTokensPerSec += tokensPerSec
			stats.Batches++
		}
		ratings = append(ratings, batchRatings...)
	}

	if stats.Batches > 0 {
		stats.AvgTokensPerSec = totalTokensPerSec / float64(stats.Batches)
	}

	sort.SliceStable(ratings, func(i, j int) bool {
		return ratings[i].Score > ratings[j].Score
	})

	logging.Search("Rated %d URLs in %d batches (%.1f tok/s avg)", len(ratings), stats.Batches, stats.AvgTokensPerSec)
	return ratings, stats
}

func (r *Rater) rateBatch(ctx context.Context, query string, batch []search.Result) ([]Rating, float64, error) {
	var sb strings.Builder
	sb.WriteString("Rate each URL 0-10 for how well it answers the query. Use exactly this format per line:\n")
	sb.WriteString("N. Score: X - Reasoning: short reason\n\n")
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")
	for i, res := range batch {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, res.Title, res.URL)
	}

	resp, err := r.backend.Chat(ctx, r.model, []llm.Message{
		{Role: "user", Content: sb.String()},
	}, llm.Options{Temperature: 0.1, NumPredict: 500})
	if err != nil {
		return nil, 0, err
	}

	return parseBatch(resp.Text, batch), resp.TokensPerSecond, nil
}

// parseBatch maps score lines back onto batch entries by their leading
// number. Unmatched entries keep the neutral score.
func parseBatch(text string, batch []search.Result) []Rating {
	ratings := neutralBatch(batch)

	for _, line := range strings.Split(text, "\n") {
		m := scoreLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		index, err := strconv.Atoi(m[1])
		if err != nil || index < 1 || index > len(batch) {
			continue
		}
		score, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		if score < 0 {
			score = 0
		}
		if score > 10 {
			score = 10
		}
		ratings[index-1].Score = score
		ratings[index-1].Reasoning = strings.TrimSpace(m[3])
	}
	return ratings
}

func neutralBatch(batch []search.Result) []Rating {
	ratings := make([]Rating, len(batch))
	for i, res := range batch {
		ratings[i] = Rating{URL: res.URL, Title: res.Title, Score: neutralScore}
	}
	return ratings
}
