// Package history manages conversation history and its compression.
// When accumulated turns approach the model's context limit, the oldest
// block of turns is collapsed into a single summary turn, with a FIFO
// cap on how many summaries may accumulate.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"webscout/internal/llm"
	"webscout/internal/logging"
)

// Turn is one exchange in the conversation.
type Turn struct {
	User      string
	Assistant string
	Timestamp time.Time
	Summary   bool // true for synthetic compression-marker turns
}

// State reports what the compressor decided for one invocation.
type State string

const (
	// StateShort means the history has too few turns to bother.
	StateShort State = "short"
	// StateBelowThreshold means the history fits comfortably.
	StateBelowThreshold State = "below_threshold"
	// StateRefused means compressing would consume every real turn.
	StateRefused State = "refused"
	// StateComplete means a block of turns was replaced by a summary.
	StateComplete State = "complete"
	// StateFailed means summary generation produced unusable output
	// and the history was left unchanged.
	StateFailed State = "failed"
)

// compressionMarker tags summary turns so they are recognizable in
// history and countable for FIFO eviction.
const compressionMarker = "[Compressed: %d messages]"

// minSummaryLen guards against the model returning junk. Anything
// shorter is treated as a failed summary.
const minSummaryLen = 20

// Config tunes the compressor.
type Config struct {
	ThresholdFraction float64 // compress at this fraction of the context limit
	BlockSize         int     // turns collapsed per compression
	MaxSummaries      int     // FIFO cap on summary turns
	MinTurns          int     // below this, never compress
	CharsPerToken     int
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		ThresholdFraction: 0.7,
		BlockSize:         6,
		MaxSummaries:      10,
		MinTurns:          10,
		CharsPerToken:     4,
	}
}

// Result carries the outcome of a compression pass.
type Result struct {
	State        State
	History      []Turn
	TokensBefore int
	TokensAfter  int
}

// Compressor collapses old conversation turns into summaries.
type Compressor struct {
	cfg     Config
	backend llm.Backend
	model   string
}

// NewCompressor creates a compressor using the given model for summary
// generation.
func NewCompressor(cfg Config, backend llm.Backend, model string) *Compressor {
	if cfg.BlockSize == 0 {
		cfg = DefaultConfig()
	}
	if cfg.CharsPerToken == 0 {
		cfg.CharsPerToken = 4
	}
	return &Compressor{cfg: cfg, backend: backend, model: model}
}

// Compress examines the history against the model's context limit and
// collapses the oldest block of turns when the estimate crosses the
// threshold. The input slice is never mutated; the returned history is
// a fresh slice when compression happened and the input otherwise.
func (c *Compressor) Compress(ctx context.Context, history []Turn, contextLimit int) Result {
	timer := logging.StartTimer(logging.CategoryHistory, "Compress")
	defer timer.Stop()

	before := c.estimateTokens(history)
	result := Result{History: history, TokensBefore: before, TokensAfter: before}

	if len(history) < c.cfg.MinTurns {
		result.State = StateShort
		return result
	}

	threshold := int(c.cfg.ThresholdFraction * float64(contextLimit))
	if before < threshold {
		result.State = StateBelowThreshold
		logging.HistoryDebug("History at ~%d tokens, below threshold %d", before, threshold)
		return result
	}

	// Compressing the block must leave at least one real turn behind.
	realTurns := 0
	for _, t := range history {
		if !t.Summary {
			realTurns++
		}
	}
	if realTurns <= c.cfg.BlockSize {
		result.State = StateRefused
		logging.HistoryDebug("Compression refused: block of %d would consume all %d real turns", c.cfg.BlockSize, realTurns)
		return result
	}

	block := oldestBlock(history, c.cfg.BlockSize)

	summary, err := c.summarize(ctx, block)
	if err != nil || len(strings.TrimSpace(summary)) < minSummaryLen {
		result.State = StateFailed
		logging.HistoryWarn("Summary generation failed, history unchanged: %v", err)
		return result
	}

	summaryTurn := Turn{
		Assistant: fmt.Sprintf(compressionMarker, len(block)*2) + " " + summary,
		Timestamp: time.Now(),
		Summary:   true,
	}

	updated := replaceBlock(history, summaryTurn, c.cfg.BlockSize)
	updated = enforceSummaryCap(updated, c.cfg.MaxSummaries)

	after := c.estimateTokens(updated)
	ratio := 1.0
	if after > 0 {
		ratio = float64(before) / float64(after)
	}
	logging.History("Compressed %d turns: ~%d -> ~%d tokens (%.1fx)", len(block), before, after, ratio)

	result.State = StateComplete
	result.History = updated
	result.TokensAfter = after
	return result
}

// oldestBlock returns the oldest real (non-summary) turns up to
// blockSize. Existing summary turns are never re-summarized.
func oldestBlock(history []Turn, blockSize int) []Turn {
	var block []Turn
	for _, t := range history {
		if t.Summary {
			continue
		}
		block = append(block, t)
		if len(block) == blockSize {
			break
		}
	}
	return block
}

// replaceBlock rebuilds the history with the oldest block of real
// turns collapsed into the summary turn, placed where the block began
// so chronological order holds.
func replaceBlock(history []Turn, summaryTurn Turn, blockSize int) []Turn {
	out := make([]Turn, 0, len(history))
	removed := 0
	inserted := false
	for _, t := range history {
		if !t.Summary && removed < blockSize {
			if !inserted {
				out = append(out, summaryTurn)
				inserted = true
			}
			removed++
			continue
		}
		out = append(out, t)
	}
	return out
}

// enforceSummaryCap drops the oldest summary turns until at most
// maxSummaries remain.
func enforceSummaryCap(history []Turn, maxSummaries int) []Turn {
	count := 0
	for _, t := range history {
		if t.Summary {
			count++
		}
	}
	if count <= maxSummaries {
		return history
	}

	toDrop := count - maxSummaries
	out := make([]Turn, 0, len(history))
	for _, t := range history {
		if t.Summary && toDrop > 0 {
			toDrop--
			continue
		}
		out = append(out, t)
	}
	return out
}

func (c *Compressor) summarize(ctx context.Context, block []Turn) (string, error) {
	var sb strings.Builder
	sb.WriteString("Summarize this conversation segment in a short paragraph. Keep concrete facts, decisions, and open questions. Reply with only the summary.\n\n")
	for _, t := range block {
		if t.User != "" {
			sb.WriteString("User: ")
			sb.WriteString(t.User)
			sb.WriteString("\n")
		}
		if t.Assistant != "" {
			sb.WriteString("Assistant: ")
			sb.WriteString(t.Assistant)
			sb.WriteString("\n")
		}
	}

	resp, err := c.backend.Chat(ctx, c.model, []llm.Message{
		{Role: "user", Content: sb.String()},
	}, llm.Options{Temperature: 0.3, NumPredict: 300})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

func (c *Compressor) estimateTokens(history []Turn) int {
	chars := 0
	for _, t := range history {
		chars += len(t.User) + len(t.Assistant)
	}
	return chars / c.cfg.CharsPerToken
}

// Render converts history into backend messages. Summary turns become
// system messages so the model treats them as context rather than
// dialogue.
func Render(history []Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)*2)
	for _, t := range history {
		if t.Summary {
			msgs = append(msgs, llm.Message{Role: "system", Content: t.Assistant})
			continue
		}
		if t.User != "" {
			msgs = append(msgs, llm.Message{Role: "user", Content: t.User})
		}
		if t.Assistant != "" {
			msgs = append(msgs, llm.Message{Role: "assistant", Content: t.Assistant})
		}
	}
	return msgs
}
