package mocklogger

import (
	"context"
	"log/slog"
	"sync"
)

// MockHandler is a slog.Handler that keeps every record in memory.
type MockHandler struct {
	mu      *sync.Mutex
	records *[]slog.Record
}

func NewMockHandler() *MockHandler {
	return &MockHandler{mu: &sync.Mutex{}, records: &[]slog.Record{}}
}

// Enabled implements slog.Handler.
func (h *MockHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

// Handle implements slog.Handler.
func (h *MockHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, r.Clone())
	return nil
}

// WithAttrs implements slog.Handler. Attributes are dropped; records still
// land in the shared buffer.
func (h *MockHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

// WithGroup implements slog.Handler.
func (h *MockHandler) WithGroup(_ string) slog.Handler {
	return h
}

func (h *MockHandler) Messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(*h.records))
	for i, r := range *h.records {
		out[i] = r.Message
	}
	return out
}

func (h *MockHandler) Levels() []slog.Level {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]slog.Level, len(*h.records))
	for i, r := range *h.records {
		out[i] = r.Level
	}
	return out
}

// NewMockLogger creates a new logger with the mock handler
func NewMockLogger() *slog.Logger {
	return slog.New(NewMockHandler())
}

// NewMockLoggerWithHandler returns the logger together with its handler so
// tests can inspect what was logged.
func NewMockLoggerWithHandler() (*slog.Logger, *MockHandler) {
	h := NewMockHandler()
	return slog.New(h), h
}
