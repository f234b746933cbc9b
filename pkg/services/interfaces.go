package services

import (
	"context"

	"github.com/leadwatch/core/pkg/models"
)

// Searcher finds candidate companies for a saved query
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) ([]models.Candidate, error)
}

// Analyzer runs the analysis protocol on one company and stores the result
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (AnalysisResult, error)
}

// SearchRequest is the payload sent to the search service
type SearchRequest struct {
	TenantID   string            `json:"tenant_id"`
	Query      string            `json:"query"`
	Filters    map[string]string `json:"filters,omitempty"`
	MaxResults int               `json:"max_results"`
}

// AnalysisRequest names the stored entity to analyze. Candidate carries the
// raw search hit when the entity was created in the same run.
type AnalysisRequest struct {
	TenantID  string            `json:"tenant_id"`
	EntityID  string            `json:"entity_id,omitempty"`
	Candidate *models.Candidate `json:"candidate,omitempty"`
	Protocol  string            `json:"protocol,omitempty"`
	Provider  string            `json:"provider,omitempty"`
}

// AnalysisResult reports the stored entity the analysis wrote to
type AnalysisResult struct {
	Success  bool   `json:"success"`
	EntityID string `json:"entity_id"`
	Message  string `json:"message,omitempty"`
}
