// Package types defines the data model shared across the engine: transcript
// chunks, insights, proactive assistance items, provider call contracts, and
// the outbound event shapes.
package types

import "time"

// TranscriptChunk is one transcribed segment of speech. Immutable once
// created; owned by the session buffer until the batch path consumes it.
type TranscriptChunk struct {
	Index              uint      `json:"index"`
	Text               string    `json:"text"`
	StartOffsetSeconds float64   `json:"start_offset_seconds"`
	DurationSeconds    float64   `json:"duration_seconds"`
	ReceivedAt         time.Time `json:"received_at"`
}

// CloseReason explains why the coherence detector closed (or kept) a segment.
type CloseReason string

const (
	CloseMaxChunks   CloseReason = "max_chunks_reached"
	CloseMaxDuration CloseReason = "max_duration_reached"
	CloseTopicChange CloseReason = "topic_change"
	CloseSameTopic   CloseReason = "same_topic"
)
