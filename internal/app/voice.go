package app

import (
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ent0n29/novavoice/internal/config"
	"github.com/ent0n29/novavoice/internal/voice"
)

type voiceSetup struct {
	recognizer       voice.Recognizer
	synthesizer      voice.Synthesizer
	resolvedProvider string
	sttModel         string
	ttsModel         string
	detail           string
}

// resolveVoiceProviders picks recognition and synthesis backends. "auto" uses
// OpenAI when a client is configured and the mock otherwise.
func resolveVoiceProviders(cfg config.Config, client *openai.Client) (voiceSetup, error) {
	voiceMode := strings.ToLower(strings.TrimSpace(cfg.ProviderMode))
	if voiceMode == "" {
		voiceMode = "auto"
	}

	tryOpenAI := func() (voiceSetup, bool) {
		if client == nil {
			return voiceSetup{}, false
		}
		p := voice.NewOpenAIProvider(client, cfg.OpenAISTTModel, cfg.OpenAITTSModel)
		return voiceSetup{
			recognizer:       p,
			synthesizer:      p,
			resolvedProvider: "openai",
			sttModel:         p.STTModel(),
			ttsModel:         p.TTSModel(),
			detail:           fmt.Sprintf("openai (%s + %s)", p.STTModel(), p.TTSModel()),
		}, true
	}

	mock := func(detail string) voiceSetup {
		p := voice.NewMockProvider()
		return voiceSetup{
			recognizer:       p,
			synthesizer:      p,
			resolvedProvider: "mock",
			sttModel:         "mock",
			ttsModel:         "mock",
			detail:           detail,
		}
	}

	switch voiceMode {
	case "openai":
		if setup, ok := tryOpenAI(); ok {
			return setup, nil
		}
		return voiceSetup{}, fmt.Errorf("PROVIDER_MODE=openai but OPENAI_API_KEY is not set")
	case "mock":
		return mock("mock"), nil
	case "auto":
		if setup, ok := tryOpenAI(); ok {
			return setup, nil
		}
		return mock("mock (no OPENAI_API_KEY)"), nil
	default:
		return voiceSetup{}, fmt.Errorf("invalid PROVIDER_MODE: %q (expected auto|openai|mock)", cfg.ProviderMode)
	}
}
