package cache

import (
	"context"
	"strings"

	"webscout/internal/llm"
	"webscout/internal/logging"
)

const digestMaxLen = 150

const digestPrompt = `Summarize the following research answer in one sentence of at most 150 characters. Reply with only the sentence.

%ANSWER%`

// GenerateDigest asks the utility model for a one-line summary of a
// cached answer. Runs in the background after a store; failures are
// logged and swallowed since the digest is advisory.
func GenerateDigest(ctx context.Context, backend llm.Backend, model, answer string) (string, error) {
	prompt := strings.Replace(digestPrompt, "%ANSWER%", answer, 1)

	resp, err := backend.Chat(ctx, model, []llm.Message{
		{Role: "user", Content: prompt},
	}, llm.Options{
		Temperature: 0.1,
		NumPredict:  100,
	})
	if err != nil {
		return "", err
	}

	digest := strings.TrimSpace(resp.Text)
	digest = strings.ReplaceAll(digest, "\n", " ")
	if runes := []rune(digest); len(runes) > digestMaxLen {
		digest = string(runes[:digestMaxLen-3]) + "..."
	}
	logging.CacheDebug("Generated digest (%d chars)", len([]rune(digest)))
	return digest, nil
}
