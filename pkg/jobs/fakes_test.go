package jobs

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/leadwatch/core/pkg/logger"
	"github.com/leadwatch/core/pkg/models"
	"github.com/leadwatch/core/pkg/services"
)

// 2025-03-08 is a Saturday
var testNow = time.Date(2025, 3, 8, 10, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func quietLogger() *logger.Logger {
	return logger.NewWithWriter("test", io.Discard)
}

type mockSearcher struct {
	searchFunc func(ctx context.Context, req services.SearchRequest) ([]models.Candidate, error)
	calls      int
}

func (m *mockSearcher) Search(ctx context.Context, req services.SearchRequest) ([]models.Candidate, error) {
	m.calls++
	if m.searchFunc != nil {
		return m.searchFunc(ctx, req)
	}
	return nil, nil
}

type mockAnalyzer struct {
	analyzeFunc func(ctx context.Context, req services.AnalysisRequest) (services.AnalysisResult, error)
	requests    []services.AnalysisRequest
}

func (m *mockAnalyzer) Analyze(ctx context.Context, req services.AnalysisRequest) (services.AnalysisResult, error) {
	m.requests = append(m.requests, req)
	if m.analyzeFunc != nil {
		return m.analyzeFunc(ctx, req)
	}
	return services.AnalysisResult{Success: true, EntityID: req.EntityID}, nil
}

type sentMessage struct {
	address, subject, body string
}

type mockNotifier struct {
	mu   sync.Mutex
	err  error
	sent []sentMessage
}

func (m *mockNotifier) Send(ctx context.Context, address, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{address: address, subject: subject, body: body})
	return m.err
}

func floatPtr(v float64) *float64 { return &v }
