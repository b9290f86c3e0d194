package types

import "time"

// InsightType enumerates the categories the batch path can extract.
type InsightType string

const (
	InsightActionItem        InsightType = "action_item"
	InsightDecision          InsightType = "decision"
	InsightRisk              InsightType = "risk"
	InsightQuestion          InsightType = "question"
	InsightKeyPoint          InsightType = "key_point"
	InsightMissingInfo       InsightType = "missing_info"
	InsightContradiction     InsightType = "contradiction"
	InsightRelatedDiscussion InsightType = "related_discussion"
)

// AllInsightTypes lists every valid insight type.
func AllInsightTypes() []InsightType {
	return []InsightType{
		InsightActionItem, InsightDecision, InsightRisk, InsightQuestion,
		InsightKeyPoint, InsightMissingInfo, InsightContradiction,
		InsightRelatedDiscussion,
	}
}

// ValidInsightType reports whether t is a known insight type.
func ValidInsightType(t InsightType) bool {
	for _, known := range AllInsightTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Priority orders insights by urgency.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank returns a comparable weight for priority escalation checks. Unknown
// priorities rank lowest.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	default:
		return 0
	}
}

// Insight is one extracted finding. Created only by the batch path; the
// evolution tracker may escalate its priority or expand its content in place.
// Insights are never deleted, only superseded.
type Insight struct {
	ID               string      `json:"id"`
	Type             InsightType `json:"type"`
	Priority         Priority    `json:"priority"`
	Content          string      `json:"content"`
	SourceSegmentRef string      `json:"source_segment_ref"`
	Confidence       float64     `json:"confidence"`
	CreatedAt        time.Time   `json:"created_at"`
}

// AssistanceType enumerates proactive-assistance categories. Auto answers come
// from the immediate path; every other type only from the batch path.
type AssistanceType string

const (
	AssistClarificationNeeded  AssistanceType = "clarification_needed"
	AssistIncompleteActionItem AssistanceType = "incomplete_action_item"
	AssistConflictDetected     AssistanceType = "conflict_detected"
	AssistFollowUpSuggestion   AssistanceType = "follow_up_suggestion"
	AssistAutoAnswer           AssistanceType = "auto_answer"
)

// ProactiveAssistanceItem is one suggestion surfaced to the meeting.
type ProactiveAssistanceItem struct {
	Type       AssistanceType `json:"type"`
	Payload    map[string]any `json:"payload"`
	Confidence float64        `json:"confidence"`
}
