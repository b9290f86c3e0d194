// Package store is the optional persistence boundary for extracted insights.
// The engine is fully functional with a nil store; saving is best-effort and
// never blocks or fails a segment.
package store

import (
	"context"

	"github.com/recallio/insight-engine/pkg/core/types"
)

// Store persists insights after each batch run.
type Store interface {
	SaveInsights(ctx context.Context, sessionID string, insights []types.Insight) error
}
