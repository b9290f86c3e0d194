// Package batch is the per-segment path: once a topic segment closes it
// extracts insights with full segment context and runs the proactive
// assistance phases.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/recallio/insight-engine/pkg/core"
	"github.com/recallio/insight-engine/pkg/core/cascade"
	"github.com/recallio/insight-engine/pkg/core/types"
	"github.com/recallio/insight-engine/pkg/engine/dedupe"
	"github.com/recallio/insight-engine/pkg/engine/store"
)

// Question answering is exclusively the immediate path's responsibility, so
// every extraction request skips it. This is the main cost-reduction lever of
// the two-path design: a segment is never answered twice.
const skipQuestionAnswering = true

// Config tunes the batch path's policy thresholds.
type Config struct {
	// ClarificationConfidence is the minimum pattern confidence that may
	// raise a clarification alert.
	ClarificationConfidence float64

	// ClarificationContextChars is the radius around a vague phrase searched
	// for an owner or deadline before alerting.
	ClarificationContextChars int

	// CompletenessAlertThreshold: an action item alerts only when its
	// completeness score is strictly below this (at least two of owner,
	// deadline, description, success criteria missing at the default 0.5).
	CompletenessAlertThreshold float64

	// ConflictSimilarityThreshold is the exclusive similarity bound above
	// which a reversal-flavored decision conflicts with a prior one.
	ConflictSimilarityThreshold float64
}

// DefaultConfig returns the standard batch tuning.
func DefaultConfig() Config {
	return Config{
		ClarificationConfidence:     0.90,
		ClarificationContextChars:   100,
		CompletenessAlertThreshold:  0.5,
		ConflictSimilarityThreshold: 0.80,
	}
}

// Request is one closed segment to process.
type Request struct {
	SessionID string
	Chunks    []types.TranscriptChunk

	CloseReason types.CloseReason

	// EnabledTypes filters extracted insights; empty admits every type.
	EnabledTypes map[types.InsightType]bool

	// History is the session's insight history; reconciliation mutates it.
	History *dedupe.History
}

// Result is what one segment produced.
type Result struct {
	Insights  []types.Insight
	Proactive []types.ProactiveAssistanceItem
	Status    types.SegmentStatus
}

// Processor runs the batch path. One instance is shared by all sessions;
// per-session serialization is the caller's job.
type Processor struct {
	cfg      Config
	cascade  *cascade.Cascade
	embedder core.Embedder
	tracker  *dedupe.Tracker
	store    store.Store
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// New creates a processor. The store may be nil; a nil clock uses time.Now.
func New(cfg Config, c *cascade.Cascade, embedder core.Embedder, tracker *dedupe.Tracker, st store.Store, logger *slog.Logger, clock func() time.Time) *Processor {
	if cfg.ClarificationConfidence <= 0 {
		cfg.ClarificationConfidence = 0.90
	}
	if cfg.ClarificationContextChars <= 0 {
		cfg.ClarificationContextChars = 100
	}
	if cfg.CompletenessAlertThreshold <= 0 {
		cfg.CompletenessAlertThreshold = 0.5
	}
	if cfg.ConflictSimilarityThreshold <= 0 {
		cfg.ConflictSimilarityThreshold = 0.80
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Processor{
		cfg:      cfg,
		cascade:  c,
		embedder: embedder,
		tracker:  tracker,
		store:    st,
		logger:   logger,
		now:      clock,
		newID:    uuid.NewString,
	}
}

const extractionSystemPrompt = `You extract structured insights from a finished discussion segment of a live meeting.
Report action items, decisions, risks, open questions, key points, missing information, contradictions, and related discussions.
Respond with JSON matching the provided schema. Report only what the segment supports.`

const noAnsweringInstruction = `Do NOT answer any questions raised in the segment; record them as question insights only.`

// ProcessSegment runs the batch path on one closed segment. The caller has
// already snapshotted and cleared the session's buffer, so the chunks here
// are processed exactly once. The returned result is always usable: phase
// failures degrade status to partial (or failed when extraction itself
// produced nothing) instead of erroring out.
func (p *Processor) ProcessSegment(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || len(req.Chunks) == 0 {
		return nil, core.NewInvalidRequestError("segment must contain at least one chunk")
	}

	segmentText := joinChunks(req.Chunks)
	segmentRef := fmt.Sprintf("%s:%d-%d", req.SessionID, req.Chunks[0].Index, req.Chunks[len(req.Chunks)-1].Index)

	// Prior decisions are snapshotted before reconciliation so the conflict
	// phase compares against what the meeting had already settled.
	var priorDecisions []priorRecord
	if req.History != nil {
		for _, r := range req.History.Records() {
			if r.Insight.Type == types.InsightDecision {
				priorDecisions = append(priorDecisions, priorRecord{insight: r.Insight, embedding: r.Embedding})
			}
		}
	}

	insights, extractionOK := p.extractInsights(ctx, req, segmentText, segmentRef)

	in := &phaseInput{
		segmentText: segmentText,
		insights:    insights,
		priorities:  priorDecisions,
	}

	type phase struct {
		name string
		run  func(context.Context, *phaseInput) ([]types.ProactiveAssistanceItem, error)
	}
	phases := []phase{
		{"clarification", p.clarificationPhase},
		{"conflict", p.conflictPhase},
		{"completeness", p.completenessPhase},
		{"follow_up", p.followUpPhase},
	}

	var proactive []types.ProactiveAssistanceItem
	failedPhases := 0
	for _, ph := range phases {
		items, err := p.runPhase(ctx, ph.name, ph.run, in)
		if err != nil {
			failedPhases++
			p.logger.Warn("batch: phase failed",
				"session_id", req.SessionID, "phase", ph.name, "error", err)
			continue
		}
		proactive = append(proactive, items...)
	}

	status := types.SegmentOK
	switch {
	case !extractionOK && len(insights) == 0:
		status = types.SegmentFailed
	case !extractionOK || failedPhases > 0:
		status = types.SegmentPartial
	}

	if p.store != nil && len(insights) > 0 {
		if err := p.store.SaveInsights(ctx, req.SessionID, insights); err != nil {
			p.logger.Warn("batch: insight persistence failed",
				"session_id", req.SessionID, "error", err)
		}
	}

	return &Result{Insights: insights, Proactive: proactive, Status: status}, nil
}

// extractInsights makes the single extraction call and reconciles candidates
// against session history. The bool reports whether extraction ran cleanly.
func (p *Processor) extractInsights(ctx context.Context, req *Request, segmentText, segmentRef string) ([]types.Insight, bool) {
	prompt := segmentText
	if len(req.EnabledTypes) > 0 {
		prompt = "Only report insights of these types: " + enabledTypeList(req.EnabledTypes) + "\n\n" + prompt
	}
	system := extractionSystemPrompt
	if skipQuestionAnswering {
		system += "\n" + noAnsweringInstruction
	}

	resp, err := p.cascade.Invoke(ctx, &types.CompletionRequest{
		System:     system,
		Prompt:     prompt,
		JSONSchema: generateSchema[extractionPayload](),
	})
	if err != nil {
		// AllProvidersExhausted and friends mean "no result for this
		// request"; the segment still goes through the local phases.
		p.logger.Warn("batch: extraction call failed",
			"session_id", req.SessionID, "kind", string(core.KindOf(err)), "error", err)
		return nil, false
	}

	raw, parsedCleanly := parseExtraction(resp.Text)
	if !parsedCleanly {
		p.logger.Warn("batch: recovered insights from malformed provider output",
			"session_id", req.SessionID, "provider", resp.Provider, "recovered", len(raw))
	}

	var insights []types.Insight
	for _, r := range raw {
		ins, ok := toInsight(r, p.newID(), segmentRef)
		if !ok {
			continue
		}
		if len(req.EnabledTypes) > 0 && !req.EnabledTypes[ins.Type] {
			continue
		}
		ins.CreatedAt = p.now()

		if p.tracker == nil || req.History == nil {
			insights = append(insights, ins)
			continue
		}
		res := p.tracker.Reconcile(ctx, &ins, req.History)
		switch res.Kind {
		case dedupe.ResolutionNew:
			insights = append(insights, ins)
		case dedupe.ResolutionEvolved:
			// The prior record was updated in place; it keeps its ID so the
			// store's upsert overwrites the existing row.
			insights = append(insights, *res.Insight)
		case dedupe.ResolutionDuplicate:
			// Dropped.
		}
	}
	return insights, parsedCleanly
}

// runPhase isolates one proactive phase: its error, or panic, never blocks
// sibling phases.
func (p *Processor) runPhase(ctx context.Context, name string, run func(context.Context, *phaseInput) ([]types.ProactiveAssistanceItem, error), in *phaseInput) (items []types.ProactiveAssistanceItem, err error) {
	defer func() {
		if v := recover(); v != nil {
			items = nil
			err = fmt.Errorf("phase %s panicked: %v", name, v)
		}
	}()
	return run(ctx, in)
}

func joinChunks(chunks []types.TranscriptChunk) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if t := strings.TrimSpace(c.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func enabledTypeList(enabled map[types.InsightType]bool) string {
	var names []string
	for _, t := range types.AllInsightTypes() {
		if enabled[t] {
			names = append(names, string(t))
		}
	}
	return strings.Join(names, ", ")
}
