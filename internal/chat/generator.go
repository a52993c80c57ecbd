// Package chat produces assistant replies from recognized user text.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Request is the normalized generation request. Context, when set, is sent to
// the provider as a system-level instruction ahead of the user text.
type Request struct {
	SessionID string `json:"session_id,omitempty"`
	InputText string `json:"input_text"`
	Context   string `json:"context,omitempty"`
}

type Response struct {
	Text string `json:"text"`
}

// Generator turns one user utterance into one reply.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

type named interface {
	Name() string
}

// NameOf reports a short provider label for logs and status output.
func NameOf(g Generator) string {
	if n, ok := g.(named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", g)
}

// Config controls generator construction.
type Config struct {
	Provider string
	Fallback string

	OpenAIClient *openai.Client
	OpenAIModel  string

	GeminiAPIKey string
	GeminiModel  string

	HTTPURL    string
	HTTPStrict bool
}

var ErrMissingCredentials = errors.New("generation provider credentials missing")

// NewGenerator resolves Provider (and the optional Fallback) into a Generator.
// "auto" prefers OpenAI, then Gemini, then the HTTP endpoint, then the mock.
func NewGenerator(ctx context.Context, cfg Config) (Generator, error) {
	primary, err := newByName(ctx, cfg, cfg.Provider)
	if err != nil {
		return nil, err
	}
	fb := strings.ToLower(strings.TrimSpace(cfg.Fallback))
	if fb == "" || fb == "none" {
		return primary, nil
	}
	secondary, err := newByName(ctx, cfg, fb)
	if err != nil {
		return nil, fmt.Errorf("fallback generator: %w", err)
	}
	return NewFallbackGenerator(primary, secondary), nil
}

func newByName(ctx context.Context, cfg Config, name string) (Generator, error) {
	mode := strings.ToLower(strings.TrimSpace(name))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAuto(ctx, cfg)
	case "openai":
		if cfg.OpenAIClient == nil {
			return nil, fmt.Errorf("%w: openai generation requires OPENAI_API_KEY", ErrMissingCredentials)
		}
		return NewOpenAIGenerator(cfg.OpenAIClient, cfg.OpenAIModel), nil
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, fmt.Errorf("%w: gemini generation requires GEMINI_API_KEY", ErrMissingCredentials)
		}
		return NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("http generation requires GENERATION_HTTP_URL")
		}
		return NewHTTPGeneratorWithOptions(cfg.HTTPURL, cfg.HTTPStrict), nil
	case "mock":
		return NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported generation provider %q", name)
	}
}

func newAuto(ctx context.Context, cfg Config) (Generator, error) {
	if cfg.OpenAIClient != nil {
		return NewOpenAIGenerator(cfg.OpenAIClient, cfg.OpenAIModel), nil
	}
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		return NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	}
	if strings.TrimSpace(cfg.HTTPURL) != "" {
		return NewHTTPGeneratorWithOptions(cfg.HTTPURL, cfg.HTTPStrict), nil
	}
	return NewMockGenerator(), nil
}

// NewOpenAIClient builds the client shared by recognition, generation and synthesis.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if base := strings.TrimSpace(baseURL); base != "" {
		cfg.BaseURL = strings.TrimRight(base, "/")
	}
	return openai.NewClientWithConfig(cfg)
}
