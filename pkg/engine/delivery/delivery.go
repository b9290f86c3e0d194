// Package delivery is the outbound event boundary. The engine pushes two
// message shapes through an Emitter; what sits behind it (WebSocket hub, log,
// queue) is a deployment choice.
package delivery

import (
	"context"
	"log/slog"

	"github.com/recallio/insight-engine/pkg/core/types"
)

// Event message type identifiers on the wire.
const (
	TypeAutoAnswer        = "auto_answer"
	TypeInsightsExtracted = "insights_extracted"
)

// Emitter delivers engine output. A failed emit maps to DeliveryUnavailable:
// the caller logs, drops that one message, and keeps processing.
type Emitter interface {
	EmitAutoAnswer(ctx context.Context, ev *types.AutoAnswerEvent) error
	EmitInsights(ctx context.Context, ev *types.InsightsExtractedEvent) error
}

// LogEmitter writes events to a structured logger. Useful standalone and as
// the default when no transport is wired.
type LogEmitter struct {
	Logger *slog.Logger
}

func (e *LogEmitter) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *LogEmitter) EmitAutoAnswer(_ context.Context, ev *types.AutoAnswerEvent) error {
	e.logger().Info("auto_answer",
		"session_id", ev.SessionID,
		"chunk_index", ev.ChunkIndex,
		"question", ev.Question,
		"confidence", ev.Confidence,
		"sources", len(ev.Sources),
	)
	return nil
}

func (e *LogEmitter) EmitInsights(_ context.Context, ev *types.InsightsExtractedEvent) error {
	e.logger().Info("insights_extracted",
		"session_id", ev.SessionID,
		"chunk_index", ev.ChunkIndex,
		"insights", len(ev.Insights),
		"proactive", len(ev.ProactiveAssistance),
		"close_reason", string(ev.TopicCloseReason),
		"processing_ms", ev.ProcessingTimeMs,
		"status", string(ev.Status),
	)
	return nil
}

var _ Emitter = (*LogEmitter)(nil)
