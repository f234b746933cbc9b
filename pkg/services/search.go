package services

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/leadwatch/core/pkg/models"
)

// SearchClient calls the company search service over HTTP
type SearchClient struct {
	http *jsonClient
}

// NewSearchClient creates a search client
func NewSearchClient(cfg ClientConfig) *SearchClient {
	return &SearchClient{http: newJSONClient("search", cfg)}
}

type searchResponse struct {
	Results []models.Candidate `json:"results"`
}

// Search returns the candidates for a query, capped at MaxResults when set
func (c *SearchClient) Search(ctx context.Context, req SearchRequest) ([]models.Candidate, error) {
	var resp searchResponse
	if err := c.http.post(ctx, "/search", req, &resp); err != nil {
		return nil, errors.Wrapf(err, "search %q", req.Query)
	}
	if req.MaxResults > 0 && len(resp.Results) > req.MaxResults {
		resp.Results = resp.Results[:req.MaxResults]
	}
	return resp.Results, nil
}
