package search

import (
	"github.com/poiesic/docqa/core"
)

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type SearchMonitor interface {
	Start(query string)
	AfterVectorSearch(candidates []*core.SearchResult)
	Filtered(result *core.SearchResult, reason string)
	Finish(results []*core.SearchResult)
}

// Reasons passed to SearchMonitor.Filtered.
const (
	ReasonBelowMinScore = "below_min_score"
	ReasonMissingTerms  = "missing_terms"
)

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                           {}
func (n *noopMonitor) AfterVectorSearch(_ []*core.SearchResult) {}
func (n *noopMonitor) Filtered(_ *core.SearchResult, _ string)  {}
func (n *noopMonitor) Finish(_ []*core.SearchResult)            {}
