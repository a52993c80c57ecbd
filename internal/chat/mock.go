package chat

import (
	"context"
	"fmt"
	"strings"
)

// MockGenerator provides deterministic local replies when no provider is configured.
type MockGenerator struct{}

func NewMockGenerator() *MockGenerator { return &MockGenerator{} }

func (g *MockGenerator) Name() string { return "mock" }

func (g *MockGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}
	return Response{Text: buildMockReply(req)}, nil
}

func buildMockReply(req Request) string {
	base := strings.TrimSpace(req.InputText)
	if base == "" {
		return "I am listening."
	}
	return fmt.Sprintf("I heard you: %s", base)
}
