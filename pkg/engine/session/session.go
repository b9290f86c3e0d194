// Package session owns per-meeting state: the current topic segment, the
// sliding context window, and the insight history. It routes each incoming
// chunk through the immediate path and, when a segment closes, hands the
// snapshot to the batch path.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/recallio/insight-engine/pkg/core"
	"github.com/recallio/insight-engine/pkg/core/types"
	"github.com/recallio/insight-engine/pkg/engine/batch"
	"github.com/recallio/insight-engine/pkg/engine/dedupe"
	"github.com/recallio/insight-engine/pkg/engine/search"
)

// Session is one live meeting. All mutable state is guarded by mu; batch runs
// are serialized per session by batchMu so history mutation stays ordered.
type Session struct {
	id           string
	scope        search.Scope
	enabledTypes map[types.InsightType]bool

	// ctx scopes all async work for this session; discard cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.Mutex
	closed           bool
	buffer           []types.TranscriptChunk
	segmentStartedAt time.Time
	lastEmbedding    []float32
	window           []types.TranscriptChunk
	lastActivity     time.Time

	batchMu sync.Mutex
	history *dedupe.History

	mgr *Manager
}

func newSession(mgr *Manager, id string, scope search.Scope, enabledTypes map[types.InsightType]bool) *Session {
	ctx, cancel := context.WithCancel(mgr.baseCtx)
	return &Session{
		id:           id,
		scope:        scope,
		enabledTypes: enabledTypes,
		ctx:          ctx,
		cancel:       cancel,
		history:      dedupe.NewHistory(),
		lastActivity: mgr.now(),
		mgr:          mgr,
	}
}

// Sentinel markers transcription engines emit for non-speech audio. A chunk
// that is nothing but markers carries no content worth processing.
var sentinelMarkers = []string{
	"[blank_audio]", "[inaudible]", "[silence]", "[music]", "[noise]",
	"[applause]", "[laughter]",
}

// meaningful reports whether chunk text warrants processing. Markers are
// stripped first so "[inaudible] ok" is judged on the two real characters.
func meaningful(text string, minLength int) bool {
	lowered := strings.ToLower(text)
	for _, marker := range sentinelMarkers {
		lowered = strings.ReplaceAll(lowered, marker, " ")
	}
	return len(strings.TrimSpace(lowered)) >= minLength
}

// ingest runs the per-chunk pipeline: update the sliding window, gate on
// meaningfulness, kick the immediate path, and evaluate topic coherence. A
// closing segment is snapshotted and cleared before the batch run starts, so
// chunks arriving mid-run land in the next segment.
func (s *Session) ingest(ctx context.Context, chunk types.TranscriptChunk) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return core.NewSessionClosedError(s.id)
	}
	s.lastActivity = s.mgr.now()

	trailing := windowText(s.window)
	s.window = append(s.window, chunk)
	if max := s.mgr.cfg.MaxWindowSize; len(s.window) > max {
		s.window = s.window[len(s.window)-max:]
	}

	if !meaningful(chunk.Text, s.mgr.cfg.MinTranscriptLength) {
		s.mu.Unlock()
		s.mgr.logger.Debug("session: chunk below meaningfulness gate",
			"session_id", s.id, "chunk_index", chunk.Index)
		return nil
	}

	s.mgr.spawn(func() { s.answerQuestion(chunk, trailing) })

	var embedding []float32
	if s.mgr.embedder != nil {
		var err error
		embedding, err = s.mgr.embedder.Embed(ctx, chunk.Text)
		if err != nil {
			// No vector means no drift signal for this chunk; the size and
			// duration nets still apply.
			s.mgr.logger.Warn("session: chunk embedding failed",
				"session_id", s.id, "chunk_index", chunk.Index, "error", err)
			embedding = nil
		}
	}

	res := s.mgr.detector.Evaluate(s.buffer, s.segmentStartedAt, embedding, s.lastEmbedding)
	if res.ShouldClose {
		snapshot := s.buffer
		s.buffer = nil
		var sim any = "n/a"
		if res.Similarity != nil {
			sim = *res.Similarity
		}
		s.mgr.logger.Info("session: topic segment closed",
			"session_id", s.id,
			"reason", string(res.Reason),
			"chunks", len(snapshot),
			"similarity", sim,
		)
		s.mgr.spawn(func() { s.processSegment(snapshot, res.Reason) })
	}

	if len(s.buffer) == 0 {
		s.segmentStartedAt = s.mgr.now()
	}
	s.buffer = append(s.buffer, chunk)
	s.lastEmbedding = embedding
	s.mu.Unlock()
	return nil
}

// discard ends the session: the partial segment buffer is dropped without
// batch processing, further ingestion is refused, and in-flight work for the
// session is canceled. Used on explicit session end and idle expiry.
func (s *Session) discard() {
	s.mu.Lock()
	s.closed = true
	dropped := len(s.buffer)
	s.buffer = nil
	s.lastEmbedding = nil
	s.segmentStartedAt = time.Time{}
	s.mu.Unlock()

	s.cancel()
	if dropped > 0 {
		s.mgr.logger.Info("session: partial segment discarded",
			"session_id", s.id, "chunks", dropped)
	}
}

// answerQuestion runs the immediate path for one chunk. Failures are logged
// and dropped; nothing here blocks ingestion.
func (s *Session) answerQuestion(chunk types.TranscriptChunk, trailing string) {
	if s.mgr.immediate == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.mgr.cfg.ImmediateTimeout)
	defer cancel()

	ev, err := s.mgr.immediate.Process(ctx, s.id, chunk, trailing, s.scope)
	if err != nil {
		s.mgr.logger.Warn("session: immediate path failed",
			"session_id", s.id, "chunk_index", chunk.Index, "error", err)
		return
	}
	if ev == nil {
		return
	}
	if err := s.mgr.emitter.EmitAutoAnswer(ctx, ev); err != nil {
		s.mgr.logger.Warn("session: auto-answer delivery failed, dropping event",
			"session_id", s.id, "chunk_index", chunk.Index, "error", err)
	}
}

// processSegment runs the batch path on a closed segment and emits the
// result. batchMu keeps history mutation sequential when segments close in
// quick succession.
func (s *Session) processSegment(snapshot []types.TranscriptChunk, reason types.CloseReason) {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, s.mgr.cfg.BatchTimeout)
	defer cancel()

	started := s.mgr.now()
	res, err := s.mgr.batch.ProcessSegment(ctx, &batch.Request{
		SessionID:    s.id,
		Chunks:       snapshot,
		CloseReason:  reason,
		EnabledTypes: s.enabledTypes,
		History:      s.history,
	})
	if err != nil {
		s.mgr.logger.Error("session: batch processing failed",
			"session_id", s.id, "error", err)
		return
	}
	if s.ctx.Err() != nil {
		// The session ended while this segment was in flight; its result is
		// dropped along with everything else the close canceled.
		return
	}

	ev := &types.InsightsExtractedEvent{
		SessionID:           s.id,
		ChunkIndex:          snapshot[len(snapshot)-1].Index,
		Insights:            res.Insights,
		ProactiveAssistance: res.Proactive,
		TopicCloseReason:    reason,
		ProcessingTimeMs:    s.mgr.now().Sub(started).Milliseconds(),
		Status:              res.Status,
	}
	if err := s.mgr.emitter.EmitInsights(ctx, ev); err != nil {
		s.mgr.logger.Warn("session: insights delivery failed, dropping event",
			"session_id", s.id, "chunk_index", ev.ChunkIndex, "error", err)
	}
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

func windowText(window []types.TranscriptChunk) string {
	parts := make([]string, 0, len(window))
	for _, c := range window {
		if t := strings.TrimSpace(c.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
