// Package search defines the grounding-search collaborator consumed by the
// immediate path, plus an HTTP-backed implementation.
package search

import "context"

// Candidate is one ranked grounding result.
type Candidate struct {
	ContentID  string  `json:"content_id"`
	Title      string  `json:"title"`
	Snippet    string  `json:"snippet"`
	Similarity float64 `json:"similarity"`
}

// Scope narrows a query to the meeting's project and organization.
type Scope struct {
	ProjectRef string
	OrgRef     string
}

// Searcher returns ranked grounding candidates for a query. Implementations
// live at the boundary; the engine only consumes this interface.
type Searcher interface {
	Search(ctx context.Context, query string, scope Scope, limit int) ([]Candidate, error)
}
