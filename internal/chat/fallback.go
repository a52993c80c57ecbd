package chat

import (
	"context"
	"fmt"

	"github.com/ent0n29/novavoice/internal/reliability"
)

// FallbackGenerator attempts a primary generator first and falls back on
// provider failures. Caller cancellation and client errors are returned as is.
type FallbackGenerator struct {
	primary  Generator
	fallback Generator
}

func NewFallbackGenerator(primary, fallback Generator) *FallbackGenerator {
	return &FallbackGenerator{primary: primary, fallback: fallback}
}

func (g *FallbackGenerator) Name() string {
	return NameOf(g.primary) + "+" + NameOf(g.fallback)
}

// Primary returns the preferred generator used before fallback.
func (g *FallbackGenerator) Primary() Generator { return g.primary }

// Secondary returns the fallback generator.
func (g *FallbackGenerator) Secondary() Generator { return g.fallback }

func (g *FallbackGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	if g.primary == nil {
		if g.fallback != nil {
			return g.fallback.Generate(ctx, req)
		}
		return Response{}, fmt.Errorf("fallback generator misconfigured")
	}

	resp, err := g.primary.Generate(ctx, req)
	if err == nil {
		return resp, nil
	}
	if g.fallback == nil || ctx.Err() != nil || !reliability.ShouldFallback(err) {
		return Response{}, err
	}

	fallbackResp, fallbackErr := g.fallback.Generate(ctx, req)
	if fallbackErr != nil {
		return Response{}, fmt.Errorf("primary generator error: %w; fallback generator error: %v", err, fallbackErr)
	}
	return fallbackResp, nil
}
