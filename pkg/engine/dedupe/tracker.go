// Package dedupe reconciles candidate insights against a session's history:
// near-duplicates are suppressed, genuine refinements evolve the prior record
// in place.
package dedupe

import (
	"context"
	"log/slog"

	"github.com/recallio/insight-engine/pkg/core"
	"github.com/recallio/insight-engine/pkg/core/types"
	"github.com/recallio/insight-engine/pkg/engine/coherence"
)

// Config tunes the tracker.
type Config struct {
	// SimilarityThreshold is the exclusive bound above which a candidate is a
	// duplicate of a prior insight. At or below it, the candidate is related
	// but distinct.
	SimilarityThreshold float64

	// ContentGrowthFactor is how much longer a duplicate's content must be to
	// count as a material expansion of the prior insight.
	ContentGrowthFactor float64
}

// DefaultConfig returns the standard dedup tuning.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.85,
		ContentGrowthFactor: 1.25,
	}
}

// Record is one remembered insight with its embedding.
type Record struct {
	Insight   *types.Insight
	Embedding []float32
}

// History is the per-session set of previously accepted insights. It is owned
// by one session and needs no locking.
type History struct {
	records []*Record
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{}
}

// Len returns the number of remembered insights.
func (h *History) Len() int { return len(h.records) }

// Records returns the remembered insights with their embeddings, in
// acceptance order. The slice is a snapshot; the records are shared.
func (h *History) Records() []*Record {
	out := make([]*Record, len(h.records))
	copy(out, h.records)
	return out
}

// Insights returns the remembered insights in acceptance order.
func (h *History) Insights() []*types.Insight {
	out := make([]*types.Insight, len(h.records))
	for i, r := range h.records {
		out[i] = r.Insight
	}
	return out
}

// ResolutionKind classifies a reconcile outcome.
type ResolutionKind string

const (
	ResolutionNew       ResolutionKind = "new"
	ResolutionDuplicate ResolutionKind = "duplicate"
	ResolutionEvolved   ResolutionKind = "evolved"
)

// Evolution change markers.
const (
	ChangePriorityEscalated = "priority_escalated"
	ChangeContentExpanded   = "content_expanded"
)

// Resolution is the outcome of reconciling one candidate.
type Resolution struct {
	Kind    ResolutionKind
	PriorID string
	Changes []string

	// Insight is the surviving record: the candidate for New, the updated
	// prior for Evolved, nil for Duplicate.
	Insight *types.Insight
}

// Tracker reconciles candidates against history.
type Tracker struct {
	cfg      Config
	embedder core.Embedder
	logger   *slog.Logger
}

// New creates a tracker.
func New(cfg Config, embedder core.Embedder, logger *slog.Logger) *Tracker {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.85
	}
	if cfg.ContentGrowthFactor <= 1 {
		cfg.ContentGrowthFactor = 1.25
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{cfg: cfg, embedder: embedder, logger: logger}
}

// Reconcile embeds the candidate's content and compares it to every prior
// insight. Above the similarity threshold the candidate is dropped as a
// duplicate, unless it escalates priority or materially expands content, in
// which case the matched prior evolves in place. Otherwise the candidate is
// inserted as new.
func (t *Tracker) Reconcile(ctx context.Context, candidate *types.Insight, history *History) Resolution {
	var embedding []float32
	if t.embedder != nil {
		var err error
		embedding, err = t.embedder.Embed(ctx, candidate.Content)
		if err != nil {
			// Without a vector the candidate cannot match anything; admit it
			// rather than lose the insight.
			t.logger.Warn("dedupe: embedding failed, admitting candidate as new",
				"insight_type", string(candidate.Type), "error", err)
		}
	}

	best, bestSim := t.closestMatch(embedding, history)
	if best == nil || bestSim <= t.cfg.SimilarityThreshold {
		history.records = append(history.records, &Record{Insight: candidate, Embedding: embedding})
		return Resolution{Kind: ResolutionNew, Insight: candidate}
	}

	changes := t.evolutionChanges(candidate, best.Insight)
	if len(changes) == 0 {
		return Resolution{Kind: ResolutionDuplicate, PriorID: best.Insight.ID}
	}

	for _, change := range changes {
		switch change {
		case ChangePriorityEscalated:
			best.Insight.Priority = candidate.Priority
		case ChangeContentExpanded:
			best.Insight.Content = candidate.Content
			best.Embedding = embedding
		}
	}
	return Resolution{
		Kind:    ResolutionEvolved,
		PriorID: best.Insight.ID,
		Changes: changes,
		Insight: best.Insight,
	}
}

func (t *Tracker) closestMatch(embedding []float32, history *History) (*Record, float64) {
	if len(embedding) == 0 {
		return nil, 0
	}
	var best *Record
	bestSim := -1.0
	for _, r := range history.records {
		sim := coherence.Cosine(embedding, r.Embedding)
		if sim > bestSim {
			best = r
			bestSim = sim
		}
	}
	return best, bestSim
}

func (t *Tracker) evolutionChanges(candidate, prior *types.Insight) []string {
	var changes []string
	if candidate.Priority.Rank() > prior.Priority.Rank() {
		changes = append(changes, ChangePriorityEscalated)
	}
	if float64(len(candidate.Content)) >= t.cfg.ContentGrowthFactor*float64(len(prior.Content)) {
		changes = append(changes, ChangeContentExpanded)
	}
	return changes
}
