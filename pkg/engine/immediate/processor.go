// Package immediate is the low-latency per-chunk path: it detects questions
// asked in the meeting and answers them from grounded search results. It
// never touches segment state or insight history.
package immediate

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/recallio/insight-engine/pkg/core"
	"github.com/recallio/insight-engine/pkg/core/cascade"
	"github.com/recallio/insight-engine/pkg/core/types"
	"github.com/recallio/insight-engine/pkg/engine/search"
)

// Config tunes the immediate path.
type Config struct {
	// ConfidenceThreshold suppresses answers below it instead of emitting a
	// low-confidence guess.
	ConfidenceThreshold float64

	// MaxSources bounds how many grounding candidates are fetched.
	MaxSources int
}

// DefaultConfig returns the standard immediate-path tuning.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.70,
		MaxSources:          5,
	}
}

// Processor answers questions as they are asked.
type Processor struct {
	cfg      Config
	cascade  *cascade.Cascade
	searcher search.Searcher
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a processor. A nil clock uses time.Now.
func New(cfg Config, c *cascade.Cascade, s search.Searcher, logger *slog.Logger, clock func() time.Time) *Processor {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.70
	}
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Processor{cfg: cfg, cascade: c, searcher: s, logger: logger, now: clock}
}

const answerSystemPrompt = `You answer questions asked during a live meeting using only the provided sources.
Respond with a JSON object: {"answer": "...", "confidence": 0.0-1.0}.
Confidence reflects how well the sources support the answer. Keep answers to one or two sentences.`

// Process runs the immediate path for one meaningful chunk. With no question
// in the chunk it returns nothing and makes no external call. A detected
// question is classified, grounded via search, answered through the cascade,
// and suppressed when confidence falls below the threshold.
func (p *Processor) Process(ctx context.Context, sessionID string, chunk types.TranscriptChunk, trailingContext string, scope search.Scope) (*types.AutoAnswerEvent, error) {
	question, ok := DetectQuestion(chunk.Text, trailingContext)
	if !ok {
		return nil, nil
	}
	kind := ClassifyQuestion(question)

	var candidates []search.Candidate
	if p.searcher != nil {
		var err error
		candidates, err = p.searcher.Search(ctx, searchQuery(question, kind), scope, p.cfg.MaxSources)
		if err != nil {
			p.logger.Warn("immediate: search failed, answering ungrounded",
				"session_id", sessionID, "error", err)
		}
	}

	resp, err := p.cascade.Invoke(ctx, &types.CompletionRequest{
		System: answerSystemPrompt,
		Prompt: answerPrompt(question, trailingContext, candidates),
	})
	if err != nil {
		if core.KindOf(err) == core.KindAllProvidersExhausted {
			// No result for this request; the session carries on.
			p.logger.Warn("immediate: all providers exhausted, dropping question",
				"session_id", sessionID, "chunk_index", chunk.Index)
			return nil, nil
		}
		return nil, err
	}

	answer, confidence := parseAnswer(resp.Text)
	if answer == "" {
		return nil, nil
	}
	if confidence < p.cfg.ConfidenceThreshold {
		p.logger.Debug("immediate: answer suppressed below confidence threshold",
			"session_id", sessionID, "confidence", confidence)
		return nil, nil
	}

	sources := make([]types.SourceRef, 0, len(candidates))
	for _, c := range candidates {
		sources = append(sources, types.SourceRef{
			ContentID:  c.ContentID,
			Title:      c.Title,
			Similarity: c.Similarity,
		})
	}
	return &types.AutoAnswerEvent{
		SessionID:  sessionID,
		ChunkIndex: chunk.Index,
		Question:   question,
		Answer:     answer,
		Confidence: confidence,
		Sources:    sources,
		Timestamp:  p.now(),
	}, nil
}

// AssistanceItem converts an answer event into the proactive-assistance shape.
func AssistanceItem(ev *types.AutoAnswerEvent) types.ProactiveAssistanceItem {
	return types.ProactiveAssistanceItem{
		Type:       types.AssistAutoAnswer,
		Confidence: ev.Confidence,
		Payload: map[string]any{
			"question":    ev.Question,
			"answer":      ev.Answer,
			"sources":     ev.Sources,
			"chunk_index": ev.ChunkIndex,
		},
	}
}

func searchQuery(question string, kind QuestionKind) string {
	q := strings.TrimSuffix(strings.TrimSpace(question), "?")
	if kind == QuestionAction {
		q += " owner status"
	}
	return q
}

func answerPrompt(question, trailingContext string, candidates []search.Candidate) string {
	var b strings.Builder
	if trailingContext != "" {
		fmt.Fprintf(&b, "Recent discussion:\n%s\n\n", trailingContext)
	}
	if len(candidates) > 0 {
		b.WriteString("Sources:\n")
		for i, c := range candidates {
			fmt.Fprintf(&b, "[%d] %s: %s\n", i+1, c.Title, c.Snippet)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Question: %s", question)
	return b.String()
}

var quotedAnswerRe = regexp.MustCompile(`"answer"\s*:\s*"((?:[^"\\]|\\.)*)"`)

// parseAnswer extracts the answer and confidence from the provider's output,
// tolerating malformed JSON via field scraping.
func parseAnswer(text string) (string, float64) {
	body := jsonBody(text)
	if gjson.Valid(body) {
		answer := gjson.Get(body, "answer").String()
		confidence := gjson.Get(body, "confidence").Float()
		if answer != "" {
			return strings.TrimSpace(answer), confidence
		}
	}
	if m := quotedAnswerRe.FindStringSubmatch(text); m != nil {
		// Malformed envelope but a recognizable answer field. Without a
		// parseable confidence the answer cannot clear the gate.
		return strings.TrimSpace(m[1]), 0
	}
	return "", 0
}

// jsonBody trims markdown fences and surrounding prose down to the outermost
// JSON object.
func jsonBody(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
