package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ent0n29/novavoice/internal/chat"
	"github.com/ent0n29/novavoice/internal/config"
	"github.com/ent0n29/novavoice/internal/httpapi"
	"github.com/ent0n29/novavoice/internal/intent"
	"github.com/ent0n29/novavoice/internal/observability"
	"github.com/ent0n29/novavoice/internal/session"
	"github.com/ent0n29/novavoice/internal/voice"
)

const janitorInterval = time.Minute

type VoiceInfo struct {
	Provider     string
	Detail       string
	DefaultVoice string
	Generation   string
}

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     session.Tracker
	Orchestrator *voice.Orchestrator
	Metrics      *observability.Metrics
	Voice        VoiceInfo

	// Cleanup should be called on shutdown to release external resources
	// (session store connections, background sweeps).
	Cleanup func() error
}

// Build wires providers, the session store and the HTTP surface from cfg.
// ctx bounds start-up connectivity checks and the lifetime of background sweeps.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	return buildWith(ctx, cfg, logger, observability.NewMetrics(cfg.MetricsNamespace))
}

func buildWith(ctx context.Context, cfg config.Config, logger *zap.Logger, metrics *observability.Metrics) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var openaiClient *openai.Client
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		openaiClient = chat.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	}

	voiceSetup, err := resolveVoiceProviders(cfg, openaiClient)
	if err != nil {
		return nil, err
	}

	generator, err := chat.NewGenerator(ctx, chat.Config{
		Provider:     cfg.GenerationProvider,
		Fallback:     cfg.GenerationFallback,
		OpenAIClient: openaiClient,
		OpenAIModel:  cfg.OpenAIChatModel,
		GeminiAPIKey: cfg.GeminiAPIKey,
		GeminiModel:  cfg.GeminiChatModel,
		HTTPURL:      cfg.GenerationHTTPURL,
		HTTPStrict:   cfg.GenerationHTTPStrict,
	})
	if err != nil {
		return nil, fmt.Errorf("generation provider init failed: %w", err)
	}

	catalog, err := voice.ParseCatalog(cfg.SupportedVoices, cfg.DefaultVoice)
	if err != nil {
		return nil, fmt.Errorf("voice catalog: %w", err)
	}

	rules := intent.DefaultRules()
	if path := strings.TrimSpace(cfg.NavigationRulesFile); path != "" {
		rules, err = intent.LoadRules(path)
		if err != nil {
			return nil, fmt.Errorf("navigation rules: %w", err)
		}
	}

	sessions, err := session.NewTracker(ctx, session.Config{
		Store:       session.StoreType(cfg.SessionStore),
		TTL:         cfg.SessionTTL,
		MaxEntries:  cfg.SessionMaxEntries,
		RedisURL:    cfg.RedisURL,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("session store init failed: %w", err)
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	startSessionSweeps(sweepCtx, sessions, metrics, logger)

	models := voice.ModelInfo{
		Recognition: voiceSetup.sttModel,
		Generation:  chat.NameOf(generator),
		Synthesis:   voiceSetup.ttsModel,
	}
	orchestrator := voice.NewOrchestrator(voice.Deps{
		Recognizer:      voiceSetup.recognizer,
		Generator:       generator,
		Synthesizer:     voiceSetup.synthesizer,
		Sessions:        sessions,
		Voices:          catalog,
		Router:          intent.NewRouter(rules...),
		Metrics:         metrics,
		Logger:          logger,
		Models:          models,
		ProviderTimeout: cfg.ProviderTimeout,
		RawSpeech:       cfg.RawSpeech,
	})

	api := httpapi.New(orchestrator, httpapi.Options{
		Logger:   logger,
		Metrics:  metrics,
		Sessions: sessions,
		Status: httpapi.Status{
			ProviderMode:   voiceSetup.resolvedProvider,
			SessionStore:   cfg.SessionStore,
			DebugEndpoints: cfg.DebugEndpoints,
		},
		MaxAudioBytes:  cfg.MaxAudioBytes,
		DebugEndpoints: cfg.DebugEndpoints,
		CORSOrigins:    cfg.CORSOrigins,
	})

	cleanup := func() error {
		stopSweep()
		if err := sessions.Close(); err != nil {
			return fmt.Errorf("close session store: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Voice: VoiceInfo{
			Provider:     voiceSetup.resolvedProvider,
			Detail:       voiceSetup.detail,
			DefaultVoice: catalog.Default(),
			Generation:   models.Generation,
		},
		Cleanup: cleanup,
	}, nil
}

// startSessionSweeps runs the backend specific expiry loop until ctx is done.
// Redis expires keys on its own.
func startSessionSweeps(ctx context.Context, sessions session.Tracker, metrics *observability.Metrics, logger *zap.Logger) {
	switch t := sessions.(type) {
	case *session.MemoryTracker:
		t.SetEvictHook(func(_ string, reason session.EvictReason) {
			metrics.ObserveSessionEviction(string(reason))
		})
		t.StartJanitor(ctx, janitorInterval)
	case *session.PostgresTracker:
		go func() {
			ticker := time.NewTicker(janitorInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					n, err := t.Sweep(ctx)
					if err != nil {
						logger.Warn("session sweep failed", zap.Error(err))
						continue
					}
					for i := int64(0); i < n; i++ {
						metrics.ObserveSessionEviction(string(session.EvictExpired))
					}
				}
			}
		}()
	}
}
