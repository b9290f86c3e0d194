package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/recallio/insight-engine/pkg/core"
	"github.com/recallio/insight-engine/pkg/core/types"
	"github.com/recallio/insight-engine/pkg/engine/batch"
	"github.com/recallio/insight-engine/pkg/engine/coherence"
	"github.com/recallio/insight-engine/pkg/engine/delivery"
	"github.com/recallio/insight-engine/pkg/engine/immediate"
	"github.com/recallio/insight-engine/pkg/engine/search"
)

// Config tunes session lifecycle and the per-chunk gates.
type Config struct {
	// MaxWindowSize bounds the sliding context window, in chunks.
	MaxWindowSize int

	// MinTranscriptLength is the minimum character count, after sentinel
	// markers are stripped, for a chunk to be processed.
	MinTranscriptLength int

	// IdleTimeout expires a session with no chunk activity; its remaining
	// partial buffer is discarded, never batch-processed.
	IdleTimeout time.Duration

	// JanitorInterval is how often idle sessions are swept.
	JanitorInterval time.Duration

	// TombstoneRetention is how long a closed session's ID keeps rejecting
	// late chunks before it is forgotten.
	TombstoneRetention time.Duration

	// ImmediateTimeout and BatchTimeout bound the async paths.
	ImmediateTimeout time.Duration
	BatchTimeout     time.Duration
}

// DefaultConfig returns the standard session tuning.
func DefaultConfig() Config {
	return Config{
		MaxWindowSize:       10,
		MinTranscriptLength: 15,
		IdleTimeout:         10 * time.Minute,
		JanitorInterval:     time.Minute,
		TombstoneRetention:  time.Hour,
		ImmediateTimeout:    30 * time.Second,
		BatchTimeout:        2 * time.Minute,
	}
}

// SubmitRequest is one incoming chunk. Scope and EnabledTypes are captured
// when the session is created on its first chunk; later values are ignored.
type SubmitRequest struct {
	SessionID    string
	Chunk        types.TranscriptChunk
	Scope        search.Scope
	EnabledTypes []types.InsightType
}

// Manager owns every live session. It creates sessions on first chunk,
// expires idle ones, and remembers closed IDs so late chunks are rejected
// instead of resurrecting a finished meeting.
type Manager struct {
	cfg       Config
	detector  *coherence.Detector
	embedder  core.Embedder
	immediate *immediate.Processor
	batch     *batch.Processor
	emitter   delivery.Emitter
	logger    *slog.Logger
	now       func() time.Time

	baseCtx    context.Context
	cancelBase context.CancelFunc
	stopSweep  chan struct{}
	stopOnce   sync.Once

	mu         sync.Mutex
	sessions   map[string]*Session
	tombstones map[string]time.Time

	wg sync.WaitGroup
}

// NewManager creates a manager and starts its idle-session janitor. A nil
// emitter falls back to logging; a nil clock uses time.Now.
func NewManager(cfg Config, detector *coherence.Detector, embedder core.Embedder, imm *immediate.Processor, bp *batch.Processor, emitter delivery.Emitter, logger *slog.Logger, clock func() time.Time) *Manager {
	def := DefaultConfig()
	if cfg.MaxWindowSize <= 0 {
		cfg.MaxWindowSize = def.MaxWindowSize
	}
	if cfg.MinTranscriptLength <= 0 {
		cfg.MinTranscriptLength = def.MinTranscriptLength
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = def.JanitorInterval
	}
	if cfg.TombstoneRetention <= 0 {
		cfg.TombstoneRetention = def.TombstoneRetention
	}
	if cfg.ImmediateTimeout <= 0 {
		cfg.ImmediateTimeout = def.ImmediateTimeout
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = def.BatchTimeout
	}
	if emitter == nil {
		emitter = &delivery.LogEmitter{Logger: logger}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:        cfg,
		detector:   detector,
		embedder:   embedder,
		immediate:  imm,
		batch:      bp,
		emitter:    emitter,
		logger:     logger,
		now:        clock,
		baseCtx:    baseCtx,
		cancelBase: cancel,
		stopSweep:  make(chan struct{}),
		sessions:   make(map[string]*Session),
		tombstones: make(map[string]time.Time),
	}
	go m.janitor()
	return m
}

// Submit routes one chunk to its session, creating the session on first
// contact. A chunk for a closed session is rejected with SessionClosed.
func (m *Manager) Submit(ctx context.Context, req *SubmitRequest) error {
	if req == nil || req.SessionID == "" {
		return core.NewInvalidRequestError("session id is required")
	}
	chunk := req.Chunk
	if chunk.ReceivedAt.IsZero() {
		chunk.ReceivedAt = m.now()
	}

	m.mu.Lock()
	if _, closed := m.tombstones[req.SessionID]; closed {
		m.mu.Unlock()
		return core.NewSessionClosedError(req.SessionID)
	}
	s, ok := m.sessions[req.SessionID]
	if !ok {
		var enabled map[types.InsightType]bool
		if len(req.EnabledTypes) > 0 {
			enabled = make(map[types.InsightType]bool, len(req.EnabledTypes))
			for _, t := range req.EnabledTypes {
				enabled[t] = true
			}
		}
		s = newSession(m, req.SessionID, req.Scope, enabled)
		m.sessions[req.SessionID] = s
		m.logger.Info("session: created", "session_id", req.SessionID)
	}
	m.mu.Unlock()

	return s.ingest(ctx, chunk)
}

// Close ends a session: in-flight work for it is canceled, the partial
// segment buffer is discarded without batch processing, and the ID is
// tombstoned so late chunks are rejected.
func (m *Manager) Close(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		_, closed := m.tombstones[sessionID]
		m.mu.Unlock()
		if closed {
			return core.NewSessionClosedError(sessionID)
		}
		return core.NewInvalidRequestError("unknown session: " + sessionID)
	}
	delete(m.sessions, sessionID)
	m.tombstones[sessionID] = m.now()
	m.mu.Unlock()

	s.discard()
	m.logger.Info("session: closed", "session_id", sessionID)
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown ends every session the way Close does and waits for in-flight
// async work to wind down. It reports false when the context expired first;
// stragglers are then canceled.
func (m *Manager) Shutdown(ctx context.Context) bool {
	m.stopOnce.Do(func() { close(m.stopSweep) })

	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		live = append(live, s)
		m.tombstones[id] = m.now()
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range live {
		s.discard()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()

	drained := true
	select {
	case <-done:
	case <-ctx.Done():
		drained = false
	}
	m.cancelBase()
	return drained
}

// spawn tracks one async unit of work.
func (m *Manager) spawn(fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}

// janitor sweeps idle sessions and expired tombstones.
func (m *Manager) janitor() {
	ticker := time.NewTicker(m.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	now := m.now()

	m.mu.Lock()
	var idle []string
	for id, s := range m.sessions {
		if s.idleSince(now) >= m.cfg.IdleTimeout {
			idle = append(idle, id)
		}
	}
	for id, closedAt := range m.tombstones {
		if now.Sub(closedAt) >= m.cfg.TombstoneRetention {
			delete(m.tombstones, id)
		}
	}
	m.mu.Unlock()

	for _, id := range idle {
		m.logger.Info("session: idle timeout", "session_id", id)
		if err := m.Close(id); err != nil {
			m.logger.Warn("session: idle close failed", "session_id", id, "error", err)
		}
	}
}
