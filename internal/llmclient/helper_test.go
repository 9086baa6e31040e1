package llmclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/config"
)

// MockLLMClient is a mock implementation of the LLMClient interface for testing.
type MockLLMClient struct {
	mock.Mock
	Name string
}

// Generate mocks the Generate method.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// Close mocks the Close method.
func (m *MockLLMClient) Close() error {
	return nil
}

// MockEngine is a mock implementation of schemas.Engine.
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Next(ctx context.Context, req schemas.EngineRequest) (schemas.NextStep, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(schemas.NextStep), args.Error(1)
}

// setupTestLogger is a helper to create a zap logger for testing with an observer.
func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

// getValidLLMConfig returns a valid LLMModelConfig for testing purposes.
func getValidLLMConfig() config.LLMModelConfig {
	return config.LLMModelConfig{
		Provider:    config.ProviderGemini,
		APIKey:      "test-api-key",
		Model:       "test-model",
		APITimeout:  5 * time.Second,
		Temperature: 0.2,
		MaxTokens:   512,
	}
}

// newGeminiServer starts a fake Gemini REST endpoint and returns a model
// config pointed at it.
func newGeminiServer(t *testing.T, handler http.HandlerFunc) config.LLMModelConfig {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg := getValidLLMConfig()
	cfg.Endpoint = server.URL
	return cfg
}
