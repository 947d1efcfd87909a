package assemble

import (
	"webscout/internal/llm"
	"webscout/internal/logging"
)

// windowLadder holds the allowed context window sizes, ascending. The
// steps match common model serving configurations so the computed size
// maps cleanly onto backend allocations.
var windowLadder = []int{
	2048, 4096, 8192, 10240, 12288, 16384,
	20480, 24576, 28672, 32768, 40960, 65536,
}

// WindowSize computes the context window for a generation call.
// Overrides are honored verbatim but clipped to the model limit.
// Otherwise the estimate is total characters / 4, doubled to reserve
// matching output budget, rounded up to the ladder, and clipped to the
// model limit. The model limit must be freshly queried by the caller:
// users switch models between turns.
func WindowSize(messages []llm.Message, modelLimit, override int) int {
	if override > 0 {
		if modelLimit > 0 && override > modelLimit {
			logging.ContextWarn("Context override %d exceeds model limit %d, clipping", override, modelLimit)
			return modelLimit
		}
		return override
	}

	chars := 0
	for _, msg := range messages {
		chars += len(msg.Content)
	}

	// Half input, half output.
	needed := (chars / 4) * 2

	size := windowLadder[len(windowLadder)-1]
	for _, step := range windowLadder {
		if step >= needed {
			size = step
			break
		}
	}

	if modelLimit > 0 && size > modelLimit {
		logging.ContextWarn("Computed context %d exceeds model limit %d, clipping", size, modelLimit)
		size = modelLimit
	}

	logging.ContextDebug("Context window: %d chars -> %d tokens needed -> %d", chars, needed, size)
	return size
}
