package services

import (
	"context"

	"github.com/cockroachdb/errors"
)

// AnalysisClient calls the analysis service over HTTP
type AnalysisClient struct {
	http *jsonClient
}

// NewAnalysisClient creates an analysis client
func NewAnalysisClient(cfg ClientConfig) *AnalysisClient {
	return &AnalysisClient{http: newJSONClient("analysis", cfg)}
}

// Analyze runs one analysis. A response with success=false is returned as an error.
func (c *AnalysisClient) Analyze(ctx context.Context, req AnalysisRequest) (AnalysisResult, error) {
	var result AnalysisResult
	if err := c.http.post(ctx, "/analyze", req, &result); err != nil {
		return AnalysisResult{}, errors.Wrap(err, "analyze")
	}
	if !result.Success {
		msg := result.Message
		if msg == "" {
			msg = "analysis reported failure"
		}
		return result, errors.Newf("analysis failed: %s", msg)
	}
	return result, nil
}
