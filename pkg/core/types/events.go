package types

import "time"

// SourceRef points at one grounding candidate used to answer a question.
type SourceRef struct {
	ContentID  string  `json:"content_id"`
	Title      string  `json:"title"`
	Similarity float64 `json:"similarity"`
}

// AutoAnswerEvent is emitted by the immediate path when a question asked in
// the meeting was answered with sufficient confidence.
type AutoAnswerEvent struct {
	SessionID  string      `json:"session_id"`
	ChunkIndex uint        `json:"chunk_index"`
	Question   string      `json:"question"`
	Answer     string      `json:"answer"`
	Confidence float64     `json:"confidence"`
	Sources    []SourceRef `json:"sources"`
	Timestamp  time.Time   `json:"timestamp"`
}

// SegmentStatus summarizes how a batch run went. Partial means at least one
// proactive phase failed while the others returned results.
type SegmentStatus string

const (
	SegmentOK      SegmentStatus = "ok"
	SegmentPartial SegmentStatus = "partial"
	SegmentFailed  SegmentStatus = "failed"
)

// InsightsExtractedEvent is emitted once per closed topic segment.
type InsightsExtractedEvent struct {
	SessionID           string                    `json:"session_id"`
	ChunkIndex          uint                      `json:"chunk_index"`
	Insights            []Insight                 `json:"insights"`
	ProactiveAssistance []ProactiveAssistanceItem `json:"proactive_assistance"`
	TopicCloseReason    CloseReason               `json:"topic_close_reason"`
	ProcessingTimeMs    int64                     `json:"processing_time_ms"`
	Status              SegmentStatus             `json:"status"`
}
