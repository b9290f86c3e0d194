package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/recallio/insight-engine/pkg/core"
	"github.com/recallio/insight-engine/pkg/core/cascade"
	"github.com/recallio/insight-engine/pkg/core/types"
	"github.com/recallio/insight-engine/pkg/engine/batch"
	"github.com/recallio/insight-engine/pkg/engine/coherence"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   int
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (e *fakeEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type captureEmitter struct {
	mu       sync.Mutex
	answers  []*types.AutoAnswerEvent
	insights []*types.InsightsExtractedEvent
}

func (e *captureEmitter) EmitAutoAnswer(_ context.Context, ev *types.AutoAnswerEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.answers = append(e.answers, ev)
	return nil
}

func (e *captureEmitter) EmitInsights(_ context.Context, ev *types.InsightsExtractedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.insights = append(e.insights, ev)
	return nil
}

func (e *captureEmitter) insightEvents() []*types.InsightsExtractedEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*types.InsightsExtractedEvent, len(e.insights))
	copy(out, e.insights)
	return out
}

type staticProvider struct {
	name string
	text string
}

func (p *staticProvider) Name() string { return p.name }

func (p *staticProvider) Complete(_ context.Context, _ *types.CompletionRequest) (*types.CompletionResponse, error) {
	return &types.CompletionResponse{Provider: p.name, Text: p.text}, nil
}

// blockingProvider parks every call until its context is canceled, signalling
// the first arrival on started.
type blockingProvider struct {
	name    string
	started chan struct{}
}

func (p *blockingProvider) Name() string { return p.name }

func (p *blockingProvider) Complete(ctx context.Context, _ *types.CompletionRequest) (*types.CompletionResponse, error) {
	select {
	case p.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

type harness struct {
	mgr     *Manager
	clock   *fakeClock
	emitter *captureEmitter
	embed   *fakeEmbedder
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	return newHarnessWithProvider(t, cfg, &staticProvider{name: "primary", text: `{"insights": []}`})
}

func newHarnessWithProvider(t *testing.T, cfg Config, provider core.Provider) *harness {
	t.Helper()
	clock := newFakeClock()
	embed := &fakeEmbedder{vectors: map[string][]float32{}}
	emitter := &captureEmitter{}

	c, err := cascade.New(cascade.DefaultConfig(), nil, clock.Now, provider)
	if err != nil {
		t.Fatalf("cascade.New: %v", err)
	}
	bp := batch.New(batch.DefaultConfig(), c, nil, nil, nil, nil, clock.Now)
	detector := coherence.New(coherence.DefaultConfig(), clock.Now)

	mgr := NewManager(cfg, detector, embed, nil, bp, emitter, nil, clock.Now)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
	})
	return &harness{mgr: mgr, clock: clock, emitter: emitter, embed: embed}
}

func (h *harness) submit(t *testing.T, sessionID string, index uint, text string) {
	t.Helper()
	err := h.mgr.Submit(context.Background(), &SubmitRequest{
		SessionID: sessionID,
		Chunk:     types.TranscriptChunk{Index: index, Text: text},
	})
	if err != nil {
		t.Fatalf("Submit(%d): %v", index, err)
	}
}

// drain waits for async work without tearing the manager down.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.mgr.wg.Wait()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("async work did not drain")
	}
}

const meaningfulText = "We decided to move the launch to the first week of April."

func TestSubmit_ShortChunkSkipsProcessing(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.submit(t, "s1", 0, "Thank you.")
	h.drain(t)

	if h.embed.callCount() != 0 {
		t.Fatalf("embedder called %d times for a short chunk", h.embed.callCount())
	}
	if got := h.emitter.insightEvents(); len(got) != 0 {
		t.Fatalf("events=%d, want none", len(got))
	}

	// The short chunk still lands in the sliding window.
	h.mgr.mu.Lock()
	s := h.mgr.sessions["s1"]
	h.mgr.mu.Unlock()
	if s == nil || len(s.window) != 1 {
		t.Fatal("short chunk missing from the sliding window")
	}
}

func TestSubmit_SentinelOnlyChunkSkipsProcessing(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.submit(t, "s1", 0, "[blank_audio] [silence]")
	h.drain(t)

	if h.embed.callCount() != 0 {
		t.Fatalf("embedder called %d times for sentinel audio", h.embed.callCount())
	}
}

func TestSubmit_MaxChunksClosesSegment(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	for i := uint(0); i < 7; i++ {
		h.submit(t, "s1", i, meaningfulText)
	}
	h.drain(t)

	events := h.emitter.insightEvents()
	if len(events) != 1 {
		t.Fatalf("got %d segment events, want 1", len(events))
	}
	ev := events[0]
	if ev.TopicCloseReason != types.CloseMaxChunks {
		t.Fatalf("close reason=%s, want max_chunks_reached", ev.TopicCloseReason)
	}
	if ev.ChunkIndex != 5 {
		t.Fatalf("chunk_index=%d, want 5 (last chunk of the closed segment)", ev.ChunkIndex)
	}

	// Chunk 6 started the next segment.
	h.mgr.mu.Lock()
	s := h.mgr.sessions["s1"]
	h.mgr.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buffer) != 1 || s.buffer[0].Index != 6 {
		t.Fatalf("buffer=%+v, want just chunk 6", s.buffer)
	}
}

func TestSubmit_MaxDurationClosesSegment(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.submit(t, "s1", 0, meaningfulText)
	h.clock.Advance(121 * time.Second)
	h.submit(t, "s1", 1, meaningfulText)
	h.drain(t)

	events := h.emitter.insightEvents()
	if len(events) != 1 {
		t.Fatalf("got %d segment events, want 1", len(events))
	}
	if events[0].TopicCloseReason != types.CloseMaxDuration {
		t.Fatalf("close reason=%s, want max_duration_reached", events[0].TopicCloseReason)
	}
	if events[0].ChunkIndex != 0 {
		t.Fatalf("chunk_index=%d, want 0", events[0].ChunkIndex)
	}
}

func TestSubmit_TopicDriftClosesSegment(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.embed.vectors["The quarterly budget needs another review before we commit."] = []float32{1, 0, 0}
	h.embed.vectors["Let's talk about the new office dog policy instead."] = []float32{0, 1, 0}

	h.submit(t, "s1", 0, "The quarterly budget needs another review before we commit.")
	h.submit(t, "s1", 1, "Let's talk about the new office dog policy instead.")
	h.drain(t)

	events := h.emitter.insightEvents()
	if len(events) != 1 {
		t.Fatalf("got %d segment events, want 1", len(events))
	}
	if events[0].TopicCloseReason != types.CloseTopicChange {
		t.Fatalf("close reason=%s, want topic_change", events[0].TopicCloseReason)
	}
}

func TestClose_DiscardsPartialBufferAndTombstones(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.submit(t, "s1", 0, meaningfulText)
	if err := h.mgr.Close("s1"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	h.drain(t)

	if got := h.emitter.insightEvents(); len(got) != 0 {
		t.Fatalf("got %d segment events for a discarded buffer, want 0", len(got))
	}

	err := h.mgr.Submit(context.Background(), &SubmitRequest{
		SessionID: "s1",
		Chunk:     types.TranscriptChunk{Index: 1, Text: meaningfulText},
	})
	if core.KindOf(err) != core.KindSessionClosed {
		t.Fatalf("late chunk err=%v, want session closed", err)
	}
}

func TestClose_CancelsInFlightSegment(t *testing.T) {
	provider := &blockingProvider{name: "primary", started: make(chan struct{}, 1)}
	h := newHarnessWithProvider(t, DefaultConfig(), provider)

	// Seven chunks close a full segment and leave chunk 6 buffered; the
	// segment's extraction call parks inside the provider.
	for i := uint(0); i < 7; i++ {
		h.submit(t, "s1", i, meaningfulText)
	}
	select {
	case <-provider.started:
	case <-time.After(5 * time.Second):
		t.Fatal("segment processing never reached the provider")
	}

	if err := h.mgr.Close("s1"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	h.drain(t)

	if got := h.emitter.insightEvents(); len(got) != 0 {
		t.Fatalf("got %d segment events after close, want 0 (run canceled, buffer discarded)", len(got))
	}
}

func TestIngest_AfterCloseRejectsChunk(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.submit(t, "s1", 0, meaningfulText)
	h.mgr.mu.Lock()
	s := h.mgr.sessions["s1"]
	h.mgr.mu.Unlock()

	if err := h.mgr.Close("s1"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A submitter that looked the session up before Close must not slip a
	// chunk into the discarded buffer.
	err := s.ingest(context.Background(), types.TranscriptChunk{Index: 1, Text: meaningfulText})
	if core.KindOf(err) != core.KindSessionClosed {
		t.Fatalf("ingest after close err=%v, want session closed", err)
	}
	h.drain(t)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buffer) != 0 {
		t.Fatalf("buffer=%+v after close, want empty", s.buffer)
	}
}

func TestClose_UnknownSessionRejected(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	if err := h.mgr.Close("nope"); core.KindOf(err) != core.KindInvalidRequest {
		t.Fatalf("err=%v, want invalid request", err)
	}
}

func TestSubmit_SlidingWindowBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxWindowSize = 3
	h := newHarness(t, cfg)

	for i := uint(0); i < 5; i++ {
		h.submit(t, "s1", i, "Hi.")
	}
	h.drain(t)

	h.mgr.mu.Lock()
	s := h.mgr.sessions["s1"]
	h.mgr.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.window) != 3 {
		t.Fatalf("window len=%d, want 3", len(s.window))
	}
	if s.window[0].Index != 2 {
		t.Fatalf("window starts at %d, want 2", s.window[0].Index)
	}
}

func TestJanitor_ExpiresIdleSession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JanitorInterval = 10 * time.Millisecond
	h := newHarness(t, cfg)

	h.submit(t, "s1", 0, meaningfulText)
	h.clock.Advance(11 * time.Minute)

	deadline := time.Now().Add(5 * time.Second)
	for h.mgr.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle session was not expired")
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.drain(t)

	if got := h.emitter.insightEvents(); len(got) != 0 {
		t.Fatalf("got %d segment events on idle expiry, want 0 (buffer discarded)", len(got))
	}
	err := h.mgr.Submit(context.Background(), &SubmitRequest{
		SessionID: "s1",
		Chunk:     types.TranscriptChunk{Index: 1, Text: meaningfulText},
	})
	if core.KindOf(err) != core.KindSessionClosed {
		t.Fatalf("late chunk err=%v, want session closed", err)
	}
}

func TestShutdown_DiscardsSessionsAndDrains(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.submit(t, "s1", 0, meaningfulText)
	h.submit(t, "s2", 0, meaningfulText)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !h.mgr.Shutdown(ctx) {
		t.Fatal("shutdown did not drain")
	}
	if got := h.emitter.insightEvents(); len(got) != 0 {
		t.Fatalf("got %d segment events on shutdown, want 0 (buffers discarded)", len(got))
	}
	if h.mgr.Count() != 0 {
		t.Fatalf("count=%d after shutdown", h.mgr.Count())
	}
}

func TestMeaningful(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Thank you.", false},
		{"[blank_audio]", false},
		{"[inaudible] ok", false},
		{"[music] so about the migration plan", true},
		{meaningfulText, true},
	}
	for _, tt := range tests {
		if got := meaningful(tt.text, 15); got != tt.want {
			t.Fatalf("meaningful(%q)=%v, want %v", tt.text, got, tt.want)
		}
	}
}
