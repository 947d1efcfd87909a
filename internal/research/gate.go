package research

import (
	"context"
	"fmt"
	"strings"

	"webscout/internal/cache"
	"webscout/internal/llm"
	"webscout/internal/logging"
)

// Decision selects the answering strategy for one turn.
type Decision string

const (
	// DecisionExplicitResearch means the user demanded a live search.
	DecisionExplicitResearch Decision = "explicit_research"
	// DecisionCacheFollowup means the question continues cached research.
	DecisionCacheFollowup Decision = "cache_followup"
	// DecisionNewResearch means cached research is stale for this question.
	DecisionNewResearch Decision = "new_research"
	// DecisionOwnKnowledge means the model answers without research.
	DecisionOwnKnowledge Decision = "own_knowledge"
)

const gatePrompt = `The user sent a message. Decide whether answering it needs a fresh web search.

%CACHED%Reply with exactly one of:
- "context" if the message is a follow-up answerable from the previous research above
- "yes" if it needs a new web search
- "no" if it can be answered from general knowledge

Message: %MESSAGE%`

// Gate decides the strategy for a turn: a lexical trigger list
// short-circuits to explicit research, otherwise a small classifier
// model picks between new research, cached follow-up, and own
// knowledge.
type Gate struct {
	backend  llm.Backend
	model    string
	triggers []string
}

// NewGate creates a gate. Trigger phrases are matched as
// case-insensitive substrings of the user text.
func NewGate(backend llm.Backend, model string, triggers []string) *Gate {
	lowered := make([]string, len(triggers))
	for i, t := range triggers {
		lowered[i] = strings.ToLower(t)
	}
	return &Gate{backend: backend, model: model, triggers: lowered}
}

// Decide picks the strategy. cached may be nil when the session has no
// prior research. Classifier errors return own-knowledge along with
// the error so the orchestrator can report it while still answering.
func (g *Gate) Decide(ctx context.Context, userText string, cached *cache.Research) (Decision, error) {
	lower := strings.ToLower(userText)
	for _, trigger := range g.triggers {
		if strings.Contains(lower, trigger) {
			logging.Decision("Explicit research trigger %q matched", trigger)
			return DecisionExplicitResearch, nil
		}
	}

	prompt := strings.Replace(gatePrompt, "%CACHED%", describeCached(cached), 1)
	prompt = strings.Replace(prompt, "%MESSAGE%", userText, 1)

	opts := llm.Options{Temperature: 0.2, NumPredict: 20}
	msgs := []llm.Message{{Role: "user", Content: prompt}}
	resp, err := g.backend.Chat(ctx, g.model, msgs, opts)
	if err != nil {
		// One retry; the classifier call is cheap and transient
		// failures here would otherwise disable research routing.
		logging.DecisionDebug("Gate classifier failed, retrying: %v", err)
		resp, err = g.backend.Chat(ctx, g.model, msgs, opts)
	}
	if err != nil {
		logging.DecisionDebug("Gate classifier retry failed: %v", err)
		return DecisionOwnKnowledge, fmt.Errorf("decision classifier failed: %w", err)
	}

	decision := parseGateReply(resp.Text, cached != nil)
	logging.Decision("Gate: %q -> %s", userText, decision)
	return decision, nil
}

// parseGateReply scans the classifier output. "context" is checked
// before "yes": a reply naming both is about the cached research, and
// follow-up is the cheaper interpretation. Unrecognized output means
// own knowledge.
func parseGateReply(text string, haveCache bool) Decision {
	lower := strings.ToLower(text)
	switch {
	case haveCache && strings.Contains(lower, "context"):
		return DecisionCacheFollowup
	case strings.Contains(lower, "yes"):
		return DecisionNewResearch
	default:
		return DecisionOwnKnowledge
	}
}

// describeCached renders the session's prior research for the gate
// prompt: the generated digest when present, raw URL+title lines as
// fallback.
func describeCached(cached *cache.Research) string {
	if cached == nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Previous research in this session:\n")
	if cached.Summary != "" {
		sb.WriteString(cached.Summary)
		sb.WriteString("\n")
	} else {
		sb.WriteString("Query: ")
		sb.WriteString(cached.Query)
		sb.WriteString("\n")
		for _, src := range cached.Sources {
			sb.WriteString("- ")
			sb.WriteString(src.Title)
			sb.WriteString(" (")
			sb.WriteString(src.URL)
			sb.WriteString(")\n")
		}
	}
	sb.WriteString("\n")
	return sb.String()
}
