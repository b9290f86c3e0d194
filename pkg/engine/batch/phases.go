package batch

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/recallio/insight-engine/pkg/core"
	"github.com/recallio/insight-engine/pkg/core/types"
	"github.com/recallio/insight-engine/pkg/engine/coherence"
)

// phaseInput is what every proactive phase sees. Phases are independent:
// each may produce zero or more items and a failure in one never blocks the
// others.
type phaseInput struct {
	segmentText string
	insights    []types.Insight
	priorities  []priorRecord
}

// priorRecord is a prior decision with its embedding, for conflict checks.
type priorRecord struct {
	insight   *types.Insight
	embedding []float32
}

type vaguenessPattern struct {
	re         *regexp.Regexp
	confidence float64
}

var vaguenessPatterns = []vaguenessPattern{
	{regexp.MustCompile(`(?i)\b(someone|somebody)\s+(should|needs? to|has to)\b`), 0.95},
	{regexp.MustCompile(`(?i)\bat some point\b`), 0.92},
	{regexp.MustCompile(`(?i)\beventually\b`), 0.91},
	{regexp.MustCompile(`(?i)\bwhen (?:we|someone) get[s]? (?:a chance|around to it)\b`), 0.93},
	{regexp.MustCompile(`(?i)\bwe should probably\b`), 0.90},
	// Ordinary action phrasing; below the alert gate on its own.
	{regexp.MustCompile(`(?i)\bwe (?:need|should) to\b`), 0.60},
}

var (
	ownerNearbyRe    = regexp.MustCompile(`(?i)(\b[A-Z][a-z]+ will\b|\bI'll\b|\bI will\b|\bassigned to\b|\bowns?\b|\btake that\b)`)
	deadlineNearbyRe = regexp.MustCompile(`(?i)\b(by (?:monday|tuesday|wednesday|thursday|friday|saturday|sunday|tomorrow|next week|end of|eod|eow)|deadline|due (?:date|by)|this (?:week|sprint)|tomorrow|today)\b`)
)

// clarificationPhase flags vague commitments. A pattern only alerts at or
// above the confidence gate, and is suppressed when the surrounding context
// already names an owner or a deadline (raw pattern hits on ordinary
// action-item phrasing far too often).
func (p *Processor) clarificationPhase(_ context.Context, in *phaseInput) ([]types.ProactiveAssistanceItem, error) {
	var items []types.ProactiveAssistanceItem
	for _, pat := range vaguenessPatterns {
		if pat.confidence < p.cfg.ClarificationConfidence {
			continue
		}
		for _, loc := range pat.re.FindAllStringIndex(in.segmentText, -1) {
			window := contextWindow(in.segmentText, loc[0], loc[1], p.cfg.ClarificationContextChars)
			if ownerNearbyRe.MatchString(window) || deadlineNearbyRe.MatchString(window) {
				continue
			}
			items = append(items, types.ProactiveAssistanceItem{
				Type:       types.AssistClarificationNeeded,
				Confidence: pat.confidence,
				Payload: map[string]any{
					"excerpt": strings.TrimSpace(window),
					"matched": in.segmentText[loc[0]:loc[1]],
					"reason":  "commitment has no owner or deadline in context",
				},
			})
		}
	}
	return items, nil
}

func contextWindow(text string, start, end, radius int) string {
	lo := start - radius
	if lo < 0 {
		lo = 0
	}
	hi := end + radius
	if hi > len(text) {
		hi = len(text)
	}
	return text[lo:hi]
}

var (
	descriptionVerbRe  = regexp.MustCompile(`(?i)\b(fix|update|write|review|send|schedule|deploy|investigate|create|implement|draft|migrate|test|document|follow up|ship)\b`)
	successCriteriaRe  = regexp.MustCompile(`(?i)\b(done when|so that|success|acceptance|verify|until|complete when|sign[- ]?off|confirmed?)\b`)
	completenessFields = []string{"owner", "deadline", "description", "success_criteria"}
)

// completenessPhase scores each action item on the presence of an owner, a
// deadline, a clear description, and success criteria (0.25 each). The score
// must fall strictly below the alert threshold to fire: one missing field is
// routine and alerting on every gap causes fatigue.
func (p *Processor) completenessPhase(_ context.Context, in *phaseInput) ([]types.ProactiveAssistanceItem, error) {
	var items []types.ProactiveAssistanceItem
	for _, ins := range in.insights {
		if ins.Type != types.InsightActionItem {
			continue
		}
		score, missing := scoreCompleteness(ins.Content)
		if score >= p.cfg.CompletenessAlertThreshold {
			continue
		}
		items = append(items, types.ProactiveAssistanceItem{
			Type:       types.AssistIncompleteActionItem,
			Confidence: 1 - score,
			Payload: map[string]any{
				"insight_id":     ins.ID,
				"action_item":    ins.Content,
				"score":          score,
				"missing_fields": missing,
			},
		})
	}
	return items, nil
}

func scoreCompleteness(content string) (float64, []string) {
	present := map[string]bool{
		"owner":            ownerNearbyRe.MatchString(content),
		"deadline":         deadlineNearbyRe.MatchString(content),
		"description":      len(content) >= 40 && descriptionVerbRe.MatchString(content),
		"success_criteria": successCriteriaRe.MatchString(content),
	}
	score := 0.0
	var missing []string
	for _, field := range completenessFields {
		if present[field] {
			score += 0.25
		} else {
			missing = append(missing, field)
		}
	}
	return score, missing
}

var negationCueRe = regexp.MustCompile(`(?i)\b(not|instead|rather than|cancel|revert|won't|no longer|switch(?:ing)? to|change(?:d)? to|drop)\b`)

// conflictPhase compares new decisions against the session's prior decisions:
// a semantically close pair where the new one carries a reversal cue is
// surfaced as a conflict.
func (p *Processor) conflictPhase(ctx context.Context, in *phaseInput) ([]types.ProactiveAssistanceItem, error) {
	if p.embedder == nil || len(in.priorities) == 0 {
		return nil, nil
	}
	var items []types.ProactiveAssistanceItem
	for _, ins := range in.insights {
		if ins.Type != types.InsightDecision || !negationCueRe.MatchString(ins.Content) {
			continue
		}
		vec, err := p.embedder.Embed(ctx, ins.Content)
		if err != nil {
			return items, fmt.Errorf("embed decision: %w", err)
		}
		for _, prior := range in.priorities {
			if prior.insight.ID == ins.ID {
				continue
			}
			sim := coherence.Cosine(vec, prior.embedding)
			if sim <= p.cfg.ConflictSimilarityThreshold {
				continue
			}
			items = append(items, types.ProactiveAssistanceItem{
				Type:       types.AssistConflictDetected,
				Confidence: sim,
				Payload: map[string]any{
					"new_decision":   ins.Content,
					"prior_decision": prior.insight.Content,
					"prior_id":       prior.insight.ID,
					"similarity":     sim,
				},
			})
		}
	}
	return items, nil
}

const followUpSystemPrompt = `You review a finished discussion segment from a live meeting.
Suggest at most two concrete follow-ups the participants did not already commit to.
Respond with JSON: {"suggestions": [{"suggestion": "...", "confidence": 0.0-1.0}]}.
Return an empty list when nothing is worth suggesting.`

// followUpPhase asks the cascade for follow-up suggestions.
func (p *Processor) followUpPhase(ctx context.Context, in *phaseInput) ([]types.ProactiveAssistanceItem, error) {
	resp, err := p.cascade.Invoke(ctx, &types.CompletionRequest{
		System:     followUpSystemPrompt,
		Prompt:     in.segmentText,
		JSONSchema: generateSchema[followUpPayload](),
	})
	if err != nil {
		if core.KindOf(err) == core.KindAllProvidersExhausted {
			return nil, nil
		}
		return nil, err
	}

	var items []types.ProactiveAssistanceItem
	for _, s := range parseFollowUps(resp.Text) {
		if strings.TrimSpace(s.Suggestion) == "" {
			continue
		}
		items = append(items, types.ProactiveAssistanceItem{
			Type:       types.AssistFollowUpSuggestion,
			Confidence: s.Confidence,
			Payload:    map[string]any{"suggestion": strings.TrimSpace(s.Suggestion)},
		})
	}
	return items, nil
}
