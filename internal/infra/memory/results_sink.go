package memory

import (
	"context"
	"sync"

	"live-quiz-service/internal/domain"
)

// ResultsSink keeps final session results in memory. It is used when no
// database is configured and by tests.
type ResultsSink struct {
	mu      sync.RWMutex
	results map[string]domain.SessionResults
	calls   map[string]int
}

func NewResultsSink() *ResultsSink {
	return &ResultsSink{
		results: make(map[string]domain.SessionResults),
		calls:   make(map[string]int),
	}
}

func (s *ResultsSink) RecordResults(_ context.Context, results domain.SessionResults) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[results.SessionID] = results
	s.calls[results.SessionID]++
	return nil
}

// Results returns what was recorded for a session.
func (s *ResultsSink) Results(sessionID string) (domain.SessionResults, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.results[sessionID]
	return res, ok
}

// Calls reports how many times results were recorded for a session.
func (s *ResultsSink) Calls(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[sessionID]
}
