package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/novavoice/internal/chat"
	"github.com/ent0n29/novavoice/internal/intent"
	"github.com/ent0n29/novavoice/internal/observability"
	"github.com/ent0n29/novavoice/internal/policy"
	"github.com/ent0n29/novavoice/internal/prompt"
	"github.com/ent0n29/novavoice/internal/reliability"
	"github.com/ent0n29/novavoice/internal/session"
)

const (
	// GreetingInput stands in for user speech when the app opens a session.
	GreetingInput = "The user just opened the app. Please say hi first."

	defaultSampleName      = "there"
	sampleTemplate         = "Hi %s, I'm your check-in companion. This is how I will sound when we talk."
	defaultProviderTimeout = 30 * time.Second
)

// TurnRequest is one recorded user utterance. Filename is an optional format
// hint for recognition.
type TurnRequest struct {
	Audio     []byte
	Filename  string
	Voice     string
	SessionID string
	Profile   string
}

type GreetRequest struct {
	Voice     string
	SessionID string
	Profile   string
}

// StageTimings holds per-stage wall time in milliseconds. Stages that did not
// run are zero.
type StageTimings struct {
	RecognitionMS int64 `json:"recognitionMs,omitempty"`
	GenerationMS  int64 `json:"generationMs"`
	SynthesisMS   int64 `json:"synthesisMs"`
	TotalMS       int64 `json:"totalMs"`
}

type TurnResult struct {
	SessionID      string
	UserText       string
	ReplyText      string
	AudioBase64    string
	ShouldNavigate bool
	// TargetPage is empty when no navigation rule matched.
	TargetPage string
	FirstTurn  bool
	Timings    StageTimings
}

type GreetResult struct {
	SessionID   string
	ReplyText   string
	AudioBase64 string
	Timings     StageTimings
}

// ModelInfo labels the configured providers in logs and status output.
type ModelInfo struct {
	Recognition string `json:"recognition"`
	Generation  string `json:"generation"`
	Synthesis   string `json:"synthesis"`
}

// Deps are the collaborators of an Orchestrator. Recognizer, Generator,
// Synthesizer, Sessions and Voices are required.
type Deps struct {
	Recognizer  Recognizer
	Generator   chat.Generator
	Synthesizer Synthesizer
	Sessions    session.Tracker
	Voices      *Catalog
	Router      *intent.Router
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	Models      ModelInfo

	// ProviderTimeout bounds each provider call. Zero means 30s; negative disables.
	ProviderTimeout time.Duration
	// RawSpeech sends the reply to synthesis exactly as generated, without
	// stripping markdown, links and emoji.
	RawSpeech       bool
	NewSessionID    func() string
	Now             func() time.Time
}

// Orchestrator runs the recognize, generate, synthesize pipeline.
type Orchestrator struct {
	recognizer  Recognizer
	generator   chat.Generator
	synthesizer Synthesizer
	sessions    session.Tracker
	voices      *Catalog
	router      *intent.Router
	metrics     *observability.Metrics
	logger      *zap.Logger
	models      ModelInfo
	timeout     time.Duration
	rawSpeech   bool
	newID       func() string
	now         func() time.Time
}

func NewOrchestrator(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	router := deps.Router
	if router == nil {
		router = intent.NewRouter(intent.DefaultRules()...)
	}
	timeout := deps.ProviderTimeout
	if timeout == 0 {
		timeout = defaultProviderTimeout
	}
	newID := deps.NewSessionID
	if newID == nil {
		newID = session.NewID
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		recognizer:  deps.Recognizer,
		generator:   deps.Generator,
		synthesizer: deps.Synthesizer,
		sessions:    deps.Sessions,
		voices:      deps.Voices,
		router:      router,
		metrics:     deps.Metrics,
		logger:      logger.Named("orchestrator"),
		models:      deps.Models,
		timeout:     timeout,
		rawSpeech:   deps.RawSpeech,
		newID:       newID,
		now:         now,
	}
}

func (o *Orchestrator) Voices() []VoiceOption { return o.voices.Options() }

func (o *Orchestrator) DefaultVoice() string { return o.voices.Default() }

func (o *Orchestrator) Models() ModelInfo { return o.models }

// Greet speaks the opening line of a session and marks the session seen.
func (o *Orchestrator) Greet(ctx context.Context, req GreetRequest) (GreetResult, error) {
	start := o.now()
	providerVoice, err := o.validateVoice(req.Voice)
	if err != nil {
		return GreetResult{}, err
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return GreetResult{}, invalid("sessionId", "is required")
	}

	contextText := prompt.BuildContext(req.Profile, prompt.Greeting)

	run := observability.PipelineRun{Phase: observability.PhaseGreeting}
	reply, err := o.generate(ctx, GreetingInput, sessionID, contextText, &run.Generation)
	if err != nil {
		o.fail("greet", sessionID, err)
		return GreetResult{}, err
	}

	audioBytes, err := o.synthesize(ctx, reply, providerVoice, &run.Synthesis)
	if err != nil {
		o.fail("greet", sessionID, err)
		return GreetResult{}, err
	}

	if err := o.sessions.MarkSeen(ctx, sessionID); err != nil {
		err = fmt.Errorf("mark session seen: %w", err)
		o.fail("greet", sessionID, err)
		return GreetResult{}, err
	}

	run.Total = o.now().Sub(start)
	timings := timingsOf(run)
	o.metrics.ObserveStage(observability.StageGreetTotal, run.Total)
	o.metrics.ObserveRun(run)
	o.metrics.ObserveOperation("greet", "ok")

	o.logger.Info("voice greet",
		zap.String("session_id", sessionID),
		zap.String("voice", req.Voice),
		zap.String("chat_model", o.models.Generation),
		zap.String("tts_model", o.models.Synthesis),
		zap.Int64("chat_ms", timings.GenerationMS),
		zap.Int64("tts_ms", timings.SynthesisMS),
		zap.Int64("total_ms", timings.TotalMS),
		zap.String("reply_text", redact(reply, req.Profile)),
	)

	return GreetResult{
		SessionID:   sessionID,
		ReplyText:   reply,
		AudioBase64: base64.StdEncoding.EncodeToString(audioBytes),
		Timings:     timings,
	}, nil
}

// HandleTurn runs one user turn. The session is marked seen before any provider
// is called and stays marked if a later stage fails.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	start := o.now()
	if len(req.Audio) == 0 {
		return TurnResult{}, invalid("audio", "is required")
	}
	providerVoice, err := o.validateVoice(req.Voice)
	if err != nil {
		return TurnResult{}, err
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = o.newID()
	}

	first, err := o.sessions.CheckAndMark(ctx, sessionID)
	if err != nil {
		err = fmt.Errorf("check session: %w", err)
		o.fail("turn", sessionID, err)
		return TurnResult{}, err
	}
	run := observability.PipelineRun{Phase: observability.PhaseContinuing}
	if first {
		run.Phase = observability.PhaseFirstTurn
	}

	userText, err := o.recognize(ctx, Clip{Data: req.Audio, Filename: req.Filename}, &run.Recognition)
	if err != nil {
		o.fail("turn", sessionID, err)
		return TurnResult{}, err
	}

	pos := prompt.Continuing
	if first {
		pos = prompt.FirstTurn
	}
	contextText := prompt.BuildContext(req.Profile, pos)

	reply, err := o.generate(ctx, userText, sessionID, contextText, &run.Generation)
	if err != nil {
		o.fail("turn", sessionID, err)
		return TurnResult{}, err
	}

	audioBytes, err := o.synthesize(ctx, reply, providerVoice, &run.Synthesis)
	if err != nil {
		o.fail("turn", sessionID, err)
		return TurnResult{}, err
	}

	decision := o.router.Route(userText)
	if decision.ShouldNavigate {
		o.metrics.ObserveNavigation(decision.Target)
	}

	run.Navigated = decision.ShouldNavigate
	run.Total = o.now().Sub(start)
	timings := timingsOf(run)
	o.metrics.ObserveStage(observability.StageTurnTotal, run.Total)
	o.metrics.ObserveRun(run)
	o.metrics.ObserveOperation("turn", "ok")

	o.logger.Info("voice turn",
		zap.String("session_id", sessionID),
		zap.String("voice", req.Voice),
		zap.Bool("first_turn", first),
		zap.String("stt_model", o.models.Recognition),
		zap.String("chat_model", o.models.Generation),
		zap.String("tts_model", o.models.Synthesis),
		zap.Int64("stt_ms", timings.RecognitionMS),
		zap.Int64("chat_ms", timings.GenerationMS),
		zap.Int64("tts_ms", timings.SynthesisMS),
		zap.Int64("total_ms", timings.TotalMS),
		zap.Bool("navigate", decision.ShouldNavigate),
		zap.String("target_page", decision.Target),
		zap.String("rule", decision.Rule),
		zap.String("user_text", redact(userText, req.Profile)),
	)

	return TurnResult{
		SessionID:      sessionID,
		UserText:       userText,
		ReplyText:      reply,
		AudioBase64:    base64.StdEncoding.EncodeToString(audioBytes),
		ShouldNavigate: decision.ShouldNavigate,
		TargetPage:     decision.Target,
		FirstTurn:      first,
		Timings:        timings,
	}, nil
}

// VoiceSample speaks a fixed preview line addressed to name.
func (o *Orchestrator) VoiceSample(ctx context.Context, voice, name string) (string, error) {
	providerVoice, err := o.validateVoice(voice)
	if err != nil {
		return "", err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultSampleName
	}
	audioBytes, err := o.synthesize(ctx, fmt.Sprintf(sampleTemplate, name), providerVoice, nil)
	if err != nil {
		o.fail("sample", "", err)
		return "", err
	}
	o.metrics.ObserveOperation("sample", "ok")
	return base64.StdEncoding.EncodeToString(audioBytes), nil
}

// Recognize runs recognition alone.
func (o *Orchestrator) Recognize(ctx context.Context, clip Clip) (string, error) {
	if len(clip.Data) == 0 {
		return "", invalid("audio", "is required")
	}
	text, err := o.recognize(ctx, clip, nil)
	if err != nil {
		o.fail("debug_stt", "", err)
		return "", err
	}
	return text, nil
}

// Generate runs generation alone with an optional caller-supplied context.
func (o *Orchestrator) Generate(ctx context.Context, text, sessionID, contextText string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", invalid("text", "is required")
	}
	reply, err := o.generate(ctx, text, sessionID, contextText, nil)
	if err != nil {
		o.fail("debug_chat", sessionID, err)
		return "", err
	}
	return reply, nil
}

// Synthesize runs synthesis alone and returns base64 audio.
func (o *Orchestrator) Synthesize(ctx context.Context, text, voice string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", invalid("text", "is required")
	}
	providerVoice, err := o.validateVoice(voice)
	if err != nil {
		return "", err
	}
	audioBytes, err := o.synthesize(ctx, text, providerVoice, nil)
	if err != nil {
		o.fail("debug_tts", "", err)
		return "", err
	}
	return base64.StdEncoding.EncodeToString(audioBytes), nil
}

func (o *Orchestrator) validateVoice(voice string) (string, error) {
	if strings.TrimSpace(voice) == "" {
		return "", invalid("voice", "is required")
	}
	providerVoice, ok := o.voices.ProviderVoice(voice)
	if !ok {
		return "", invalid("voice", fmt.Sprintf("unsupported voice %q", voice))
	}
	return providerVoice, nil
}

func (o *Orchestrator) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout < 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

// The stage helpers store their wall time in *took when it is non-nil.

func (o *Orchestrator) recognize(ctx context.Context, clip Clip, took *time.Duration) (string, error) {
	stageCtx, cancel := o.stageContext(ctx)
	defer cancel()

	start := o.now()
	text, err := o.recognizer.Recognize(stageCtx, clip)
	o.stageDone(observability.StageRecognition, start, took)
	if err != nil {
		return "", o.providerFailure(StageRecognition, err)
	}
	return text, nil
}

func (o *Orchestrator) generate(ctx context.Context, text, sessionID, contextText string, took *time.Duration) (string, error) {
	stageCtx, cancel := o.stageContext(ctx)
	defer cancel()

	start := o.now()
	resp, err := o.generator.Generate(stageCtx, chat.Request{
		SessionID: sessionID,
		InputText: text,
		Context:   contextText,
	})
	o.stageDone(observability.StageGeneration, start, took)
	if err != nil {
		return "", o.providerFailure(StageGeneration, err)
	}
	return resp.Text, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, text, providerVoice string, took *time.Duration) ([]byte, error) {
	stageCtx, cancel := o.stageContext(ctx)
	defer cancel()

	spoken := text
	if !o.rawSpeech {
		if cleaned := speakableText(text); cleaned != "" {
			spoken = cleaned
		}
	}

	start := o.now()
	audioBytes, err := o.synthesizer.Synthesize(stageCtx, spoken, providerVoice)
	o.stageDone(observability.StageSynthesis, start, took)
	if err != nil {
		return nil, o.providerFailure(StageSynthesis, err)
	}
	return audioBytes, nil
}

func (o *Orchestrator) stageDone(stage string, start time.Time, took *time.Duration) {
	d := o.now().Sub(start)
	o.metrics.ObserveStage(stage, d)
	if took != nil {
		*took = d
	}
}

func timingsOf(run observability.PipelineRun) StageTimings {
	return StageTimings{
		RecognitionMS: run.Recognition.Milliseconds(),
		GenerationMS:  run.Generation.Milliseconds(),
		SynthesisMS:   run.Synthesis.Milliseconds(),
		TotalMS:       run.Total.Milliseconds(),
	}
}

func (o *Orchestrator) providerFailure(stage Stage, err error) error {
	perr := newProviderError(stage, err)
	o.metrics.ObserveProviderError(string(stage), string(perr.Kind))
	return perr
}

// fail logs the raw error server-side. Callers only ever see sanitized text.
func (o *Orchestrator) fail(operation, sessionID string, err error) {
	outcome := "internal_error"
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("session_id", sessionID),
		zap.Error(err),
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		outcome = "provider_" + string(perr.Kind)
		fields = append(fields, zap.String("stage", string(perr.Stage)), zap.String("kind", string(perr.Kind)))
	}
	o.metrics.ObserveOperation(operation, outcome)

	if perr != nil && perr.Kind == reliability.KindCanceled {
		o.logger.Info("voice pipeline canceled", fields...)
		return
	}
	o.logger.Error("voice pipeline failed", fields...)
}

func redact(text, profile string) string {
	out, _ := policy.ForProfile(profile).Redact(text)
	return out
}
