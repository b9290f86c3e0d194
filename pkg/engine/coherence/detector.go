// Package coherence decides, chunk by chunk, whether the current topic
// segment should keep accumulating or close.
package coherence

import (
	"math"
	"time"

	"github.com/recallio/insight-engine/pkg/core/types"
)

// Config tunes the detector.
type Config struct {
	// CoherenceThreshold is the exclusive lower bound for staying in a topic:
	// similarity strictly below it closes the segment, equal keeps it open.
	CoherenceThreshold float64

	// MinTopicChunks is the advisory size at which a segment counts as
	// established. It never blocks the safety nets.
	MinTopicChunks int

	// MaxTopicChunks closes a segment regardless of semantic signal.
	MaxTopicChunks int

	// MaxTopicDuration closes a segment regardless of semantic signal.
	MaxTopicDuration time.Duration
}

// DefaultConfig returns the standard detector tuning.
func DefaultConfig() Config {
	return Config{
		CoherenceThreshold: 0.70,
		MinTopicChunks:     2,
		MaxTopicChunks:     6,
		MaxTopicDuration:   120 * time.Second,
	}
}

// Result is one evaluation outcome. Similarity is nil when the chunk had no
// predecessor to compare against.
type Result struct {
	ShouldClose bool
	Reason      types.CloseReason
	Similarity  *float64
}

// Detector evaluates topic coherence. Stateless per call; time is injectable
// for tests.
type Detector struct {
	cfg Config
	now func() time.Time
}

// New creates a detector. A nil clock uses time.Now.
func New(cfg Config, clock func() time.Time) *Detector {
	if cfg.CoherenceThreshold <= 0 {
		cfg.CoherenceThreshold = 0.70
	}
	if cfg.MinTopicChunks <= 0 {
		cfg.MinTopicChunks = 2
	}
	if cfg.MaxTopicChunks <= 0 {
		cfg.MaxTopicChunks = 6
	}
	if cfg.MaxTopicDuration <= 0 {
		cfg.MaxTopicDuration = 120 * time.Second
	}
	if clock == nil {
		clock = time.Now
	}
	return &Detector{cfg: cfg, now: clock}
}

// Evaluate applies the closure rules in strict order: max-chunk safety net,
// max-duration safety net, then semantic drift against the previous chunk's
// embedding. The first chunk of a segment always stays open.
func (d *Detector) Evaluate(buffer []types.TranscriptChunk, segmentStartedAt time.Time, newEmbedding, lastEmbedding []float32) Result {
	if len(buffer) == 0 {
		return Result{ShouldClose: false, Reason: types.CloseSameTopic}
	}

	if len(buffer) >= d.cfg.MaxTopicChunks {
		return Result{ShouldClose: true, Reason: types.CloseMaxChunks}
	}

	if !segmentStartedAt.IsZero() && d.now().Sub(segmentStartedAt) >= d.cfg.MaxTopicDuration {
		return Result{ShouldClose: true, Reason: types.CloseMaxDuration}
	}

	if len(newEmbedding) == 0 || len(lastEmbedding) == 0 {
		return Result{ShouldClose: false, Reason: types.CloseSameTopic}
	}

	sim := Cosine(newEmbedding, lastEmbedding)
	if sim < d.cfg.CoherenceThreshold {
		return Result{ShouldClose: true, Reason: types.CloseTopicChange, Similarity: &sim}
	}
	return Result{ShouldClose: false, Reason: types.CloseSameTopic, Similarity: &sim}
}

// Established reports whether a buffer of the given size counts as an
// established segment. Advisory only.
func (d *Detector) Established(bufferLen int) bool {
	return bufferLen >= d.cfg.MinTopicChunks
}

// Cosine returns the cosine similarity of two vectors, or 0 when either has
// no magnitude or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
