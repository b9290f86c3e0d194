package coherence

import (
	"math"
	"testing"
	"time"

	"github.com/recallio/insight-engine/pkg/core/types"
)

// vecAt returns a unit vector whose cosine similarity with [1, 0] is sim.
func vecAt(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}

var base = []float32{1, 0}

func chunks(n int) []types.TranscriptChunk {
	out := make([]types.TranscriptChunk, n)
	for i := range out {
		out[i] = types.TranscriptChunk{Index: uint(i), Text: "chunk"}
	}
	return out
}

func TestDetector_FirstChunkNeverCloses(t *testing.T) {
	d := New(DefaultConfig(), nil)
	res := d.Evaluate(nil, time.Time{}, vecAt(0.1), nil)
	if res.ShouldClose {
		t.Fatal("first chunk must open a segment, not close one")
	}
	if res.Reason != types.CloseSameTopic {
		t.Fatalf("reason=%s, want %s", res.Reason, types.CloseSameTopic)
	}
	if res.Similarity != nil {
		t.Fatalf("similarity=%v, want nil for first chunk", *res.Similarity)
	}
}

func TestDetector_HighSimilarityContinues(t *testing.T) {
	d := New(DefaultConfig(), nil)
	res := d.Evaluate(chunks(3), time.Now(), vecAt(0.9), base)
	if res.ShouldClose {
		t.Fatal("similarity above threshold must not close")
	}
	if res.Similarity == nil || math.Abs(*res.Similarity-0.9) > 1e-6 {
		t.Fatalf("similarity=%v, want ~0.9", res.Similarity)
	}
}

// Similarity exactly at the threshold is not a drift: the threshold is an
// exclusive lower bound for closing.
func TestDetector_ThresholdEqualityContinues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CoherenceThreshold = 0.70
	d := New(cfg, nil)
	res := d.Evaluate(chunks(3), time.Now(), vecAt(0.70), base)
	if res.ShouldClose {
		t.Fatal("similarity equal to threshold must not close")
	}
}

func TestDetector_SemanticDriftCloses(t *testing.T) {
	d := New(DefaultConfig(), nil)
	res := d.Evaluate(chunks(3), time.Now(), vecAt(0.35), base)
	if !res.ShouldClose {
		t.Fatal("similarity below threshold must close")
	}
	if res.Reason != types.CloseTopicChange {
		t.Fatalf("reason=%s, want %s", res.Reason, types.CloseTopicChange)
	}
	if res.Similarity == nil || math.Abs(*res.Similarity-0.35) > 1e-6 {
		t.Fatalf("similarity=%v, want ~0.35", res.Similarity)
	}
}

// The safety net dominates the semantic signal.
func TestDetector_MaxChunksClosesRegardlessOfSimilarity(t *testing.T) {
	d := New(DefaultConfig(), nil)
	res := d.Evaluate(chunks(6), time.Now(), vecAt(0.99), base)
	if !res.ShouldClose {
		t.Fatal("full buffer must close")
	}
	if res.Reason != types.CloseMaxChunks {
		t.Fatalf("reason=%s, want %s", res.Reason, types.CloseMaxChunks)
	}
}

func TestDetector_MaxDurationCloses(t *testing.T) {
	now := time.Unix(1700000000, 0)
	d := New(DefaultConfig(), func() time.Time { return now })
	started := now.Add(-121 * time.Second)
	res := d.Evaluate(chunks(2), started, vecAt(0.99), base)
	if !res.ShouldClose {
		t.Fatal("expired segment must close")
	}
	if res.Reason != types.CloseMaxDuration {
		t.Fatalf("reason=%s, want %s", res.Reason, types.CloseMaxDuration)
	}
}

func TestDetector_MaxChunksWinsOverMaxDuration(t *testing.T) {
	now := time.Unix(1700000000, 0)
	d := New(DefaultConfig(), func() time.Time { return now })
	started := now.Add(-time.Hour)
	res := d.Evaluate(chunks(6), started, vecAt(0.1), base)
	if res.Reason != types.CloseMaxChunks {
		t.Fatalf("reason=%s, want %s (rules apply in strict order)", res.Reason, types.CloseMaxChunks)
	}
}

// Similarities [-, 0.85, 0.82, 0.35]: the segment closes exactly at the 4th
// chunk with reason topic_change.
func TestDetector_DriftScenario(t *testing.T) {
	d := New(DefaultConfig(), nil)
	sims := []float64{0.85, 0.82, 0.35}

	var buffer []types.TranscriptChunk
	buffer = append(buffer, types.TranscriptChunk{Index: 0})

	for i, sim := range sims {
		res := d.Evaluate(buffer, time.Now(), vecAt(sim), base)
		if i < 2 {
			if res.ShouldClose {
				t.Fatalf("chunk %d closed early (sim=%.2f)", i+2, sim)
			}
			buffer = append(buffer, types.TranscriptChunk{Index: uint(i + 1)})
			continue
		}
		if !res.ShouldClose {
			t.Fatal("4th chunk should close the segment")
		}
		if res.Reason != types.CloseTopicChange {
			t.Fatalf("reason=%s, want %s", res.Reason, types.CloseTopicChange)
		}
		if res.Similarity == nil || math.Abs(*res.Similarity-0.35) > 1e-6 {
			t.Fatalf("similarity=%v, want ~0.35", res.Similarity)
		}
	}
}

func TestDetector_Established(t *testing.T) {
	d := New(DefaultConfig(), nil)
	if d.Established(1) {
		t.Fatal("one chunk is not an established segment")
	}
	if !d.Established(2) {
		t.Fatal("two chunks should be established")
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("Cosine=%v, want %v", got, tt.want)
			}
		})
	}
}
