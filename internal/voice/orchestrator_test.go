package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ent0n29/novavoice/internal/chat"
	"github.com/ent0n29/novavoice/internal/observability"
	"github.com/ent0n29/novavoice/internal/prompt"
	"github.com/ent0n29/novavoice/internal/reliability"
	"github.com/ent0n29/novavoice/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeRecognizer struct {
	mu       sync.Mutex
	text     string
	err      error
	calls    int
	block    bool
	lastClip Clip
}

func (f *fakeRecognizer) Recognize(ctx context.Context, clip Clip) (string, error) {
	f.mu.Lock()
	f.calls++
	f.lastClip = clip
	block := f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.text, f.err
}

type fakeGenerator struct {
	mu    sync.Mutex
	reply string
	err   error
	reqs  []chat.Request
}

func (f *fakeGenerator) Generate(_ context.Context, req chat.Request) (chat.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return chat.Response{}, f.err
	}
	return chat.Response{Text: f.reply}, nil
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type synthCall struct {
	Text  string
	Voice string
}

type fakeSynthesizer struct {
	mu    sync.Mutex
	audio []byte
	err   error
	got   []synthCall
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, text, voice string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, synthCall{Text: text, Voice: voice})
	if f.err != nil {
		return nil, f.err
	}
	return f.audio, nil
}

type harness struct {
	rec      *fakeRecognizer
	gen      *fakeGenerator
	synth    *fakeSynthesizer
	sessions *session.MemoryTracker
	orch     *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		rec:      &fakeRecognizer{text: "hello"},
		gen:      &fakeGenerator{reply: "hi there"},
		synth:    &fakeSynthesizer{audio: []byte("B-audio-bytes")},
		sessions: session.NewMemoryTracker(time.Hour, 100),
	}
	h.orch = NewOrchestrator(Deps{
		Recognizer:   h.rec,
		Generator:    h.gen,
		Synthesizer:  h.synth,
		Sessions:     h.sessions,
		Voices:       MustParseCatalog("v1,alloy,synthex=alloy"),
		NewSessionID: func() string { return "sess-generated" },
	})
	return h
}

func (h *harness) providerCalls() int {
	h.synth.mu.Lock()
	defer h.synth.mu.Unlock()
	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	return h.rec.calls + h.gen.calls() + len(h.synth.got)
}

func TestHandleTurnEndToEnd(t *testing.T) {
	h := newHarness(t)

	got, err := h.orch.HandleTurn(context.Background(), TurnRequest{Audio: []byte("A"), Voice: "v1"})
	require.NoError(t, err)

	want := TurnResult{
		SessionID:      "sess-generated",
		UserText:       "hello",
		ReplyText:      "hi there",
		AudioBase64:    base64.StdEncoding.EncodeToString([]byte("B-audio-bytes")),
		ShouldNavigate: false,
		TargetPage:     "",
		FirstTurn:      true,
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(TurnResult{}, "Timings")); diff != "" {
		t.Fatalf("HandleTurn() mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, h.gen.reqs, 1)
	assert.Equal(t, "hello", h.gen.reqs[0].InputText)
	assert.Equal(t, "sess-generated", h.gen.reqs[0].SessionID)
	assert.Equal(t, prompt.BuildContext("", prompt.FirstTurn), h.gen.reqs[0].Context)
	assert.Equal(t, []synthCall{{Text: "hi there", Voice: "v1"}}, h.synth.got)
}

func TestHandleTurnNavigatesOnContactName(t *testing.T) {
	h := newHarness(t)
	h.rec.text = "let's talk with anna now"

	got, err := h.orch.HandleTurn(context.Background(), TurnRequest{Audio: []byte("A"), Voice: "v1", SessionID: "s1"})
	require.NoError(t, err)
	assert.True(t, got.ShouldNavigate)
	assert.Equal(t, "call", got.TargetPage)
	assert.Equal(t, "s1", got.SessionID)
}

func TestHandleTurnSecondTurnUsesContinuingPrompt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	profile := `{"preferredName":"Li"}`

	first, err := h.orch.HandleTurn(ctx, TurnRequest{Audio: []byte("A"), Voice: "v1", SessionID: "s1", Profile: profile})
	require.NoError(t, err)
	second, err := h.orch.HandleTurn(ctx, TurnRequest{Audio: []byte("A"), Voice: "v1", SessionID: "s1", Profile: profile})
	require.NoError(t, err)

	assert.True(t, first.FirstTurn)
	assert.False(t, second.FirstTurn)
	require.Len(t, h.gen.reqs, 2)
	assert.Equal(t, prompt.BuildContext(profile, prompt.FirstTurn), h.gen.reqs[0].Context)
	assert.Equal(t, prompt.BuildContext(profile, prompt.Continuing), h.gen.reqs[1].Context)
}

func TestSupportedVoicesAcceptedUnsupportedRejected(t *testing.T) {
	ctx := context.Background()
	for _, v := range []string{"v1", "alloy", "synthex"} {
		h := newHarness(t)
		_, err := h.orch.HandleTurn(ctx, TurnRequest{Audio: []byte("A"), Voice: v})
		require.NoError(t, err, "turn voice %q", v)
		_, err = h.orch.Greet(ctx, GreetRequest{Voice: v, SessionID: "g-" + v})
		require.NoError(t, err, "greet voice %q", v)
	}

	for _, v := range []string{"unsupported-voice", "", "ALLOY", "onyx"} {
		h := newHarness(t)
		_, err := h.orch.HandleTurn(ctx, TurnRequest{Audio: []byte("A"), Voice: v, SessionID: "s1"})
		assert.ErrorIs(t, err, ErrValidation, "turn voice %q", v)
		_, err = h.orch.Greet(ctx, GreetRequest{Voice: v, SessionID: "s1"})
		assert.ErrorIs(t, err, ErrValidation, "greet voice %q", v)

		assert.Zero(t, h.providerCalls(), "voice %q reached a provider", v)
		seen, _ := h.sessions.HasSeenFirstTurn(ctx, "s1")
		assert.False(t, seen, "validation failure must not mark the session")
	}
}

func TestAliasVoiceSynthesizesWithProviderVoice(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.HandleTurn(context.Background(), TurnRequest{Audio: []byte("A"), Voice: "synthex"})
	require.NoError(t, err)
	assert.Equal(t, "alloy", h.synth.got[0].Voice)
}

func TestHandleTurnValidation(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.HandleTurn(context.Background(), TurnRequest{Voice: "v1"})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "audio", verr.Field)
	assert.Zero(t, h.providerCalls())
}

func TestHandleTurnEmptyRecognitionIsNotAnError(t *testing.T) {
	h := newHarness(t)
	h.rec.text = ""

	got, err := h.orch.HandleTurn(context.Background(), TurnRequest{Audio: []byte("A"), Voice: "v1"})
	require.NoError(t, err)
	assert.Equal(t, "", got.UserText)
	assert.Equal(t, "", h.gen.reqs[0].InputText)
	assert.False(t, got.ShouldNavigate)
}

func TestProviderFailureAfterMarkLeavesSessionSeen(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name  string
		setup func(h *harness)
		stage Stage
	}{
		{"recognition", func(h *harness) { h.rec.err = errors.New("stt down") }, StageRecognition},
		{"generation", func(h *harness) { h.gen.err = errors.New("llm down") }, StageGeneration},
		{"synthesis", func(h *harness) { h.synth.err = errors.New("tts down") }, StageSynthesis},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			tc.setup(h)

			_, err := h.orch.HandleTurn(ctx, TurnRequest{Audio: []byte("A"), Voice: "v1", SessionID: "s1"})
			var perr *ProviderError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tc.stage, perr.Stage)
			assert.Equal(t, reliability.KindGeneric, perr.Kind)

			seen, _ := h.sessions.HasSeenFirstTurn(ctx, "s1")
			assert.True(t, seen)
		})
	}
}

func TestProviderStagesAbortPipeline(t *testing.T) {
	h := newHarness(t)
	h.rec.err = errors.New("stt down")

	_, err := h.orch.HandleTurn(context.Background(), TurnRequest{Audio: []byte("A"), Voice: "v1"})
	require.Error(t, err)
	assert.Zero(t, h.gen.calls())
	assert.Empty(t, h.synth.got)
}

func TestQuotaErrorsAreClassified(t *testing.T) {
	h := newHarness(t)
	h.synth.err = &openai.APIError{Code: "insufficient_quota", HTTPStatusCode: 429, Message: "You exceeded your current quota"}

	_, err := h.orch.Greet(context.Background(), GreetRequest{Voice: "v1", SessionID: "s1"})
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.IsQuota())
	assert.Equal(t, StageSynthesis, perr.Stage)

	seen, _ := h.sessions.HasSeenFirstTurn(context.Background(), "s1")
	assert.False(t, seen, "greet marks the session only after synthesis succeeds")
}

func TestProviderTimeoutIsHonored(t *testing.T) {
	h := newHarness(t)
	h.rec.block = true
	h.orch.timeout = 20 * time.Millisecond

	start := time.Now()
	_, err := h.orch.HandleTurn(context.Background(), TurnRequest{Audio: []byte("A"), Voice: "v1"})
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, reliability.KindTimeout, perr.Kind)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCallerCancellationPropagates(t *testing.T) {
	h := newHarness(t)
	h.rec.block = true

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := h.orch.HandleTurn(ctx, TurnRequest{Audio: []byte("A"), Voice: "v1"})
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, reliability.KindCanceled, perr.Kind)
}

func TestGreet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	profile := `{"preferredName":"Mei","condition":"diabetes"}`

	got, err := h.orch.Greet(ctx, GreetRequest{Voice: "v1", SessionID: "s1", Profile: profile})
	require.NoError(t, err)

	want := GreetResult{
		SessionID:   "s1",
		ReplyText:   "hi there",
		AudioBase64: base64.StdEncoding.EncodeToString([]byte("B-audio-bytes")),
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(GreetResult{}, "Timings")); diff != "" {
		t.Fatalf("Greet() mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, h.gen.reqs, 1)
	assert.Equal(t, GreetingInput, h.gen.reqs[0].InputText)
	assert.Equal(t, prompt.BuildContext(profile, prompt.Greeting), h.gen.reqs[0].Context)

	// The turn after a greeting is not the first turn.
	turn, err := h.orch.HandleTurn(ctx, TurnRequest{Audio: []byte("A"), Voice: "v1", SessionID: "s1"})
	require.NoError(t, err)
	assert.False(t, turn.FirstTurn)
}

func TestGreetTwiceIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	seen, _ := h.sessions.HasSeenFirstTurn(ctx, "s1")
	assert.False(t, seen)

	_, err := h.orch.Greet(ctx, GreetRequest{Voice: "v1", SessionID: "s1"})
	require.NoError(t, err)
	seen, _ = h.sessions.HasSeenFirstTurn(ctx, "s1")
	assert.True(t, seen)

	_, err = h.orch.Greet(ctx, GreetRequest{Voice: "v1", SessionID: "s1"})
	require.NoError(t, err)
	seen, _ = h.sessions.HasSeenFirstTurn(ctx, "s1")
	assert.True(t, seen)
}

func TestGreetRequiresSessionID(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Greet(context.Background(), GreetRequest{Voice: "v1", SessionID: "  "})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "sessionId", verr.Field)
	assert.Zero(t, h.providerCalls())
}

func TestConcurrentTurnsForOneSessionHaveOneFirstTurn(t *testing.T) {
	h := newHarness(t)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		first int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.orch.HandleTurn(context.Background(), TurnRequest{Audio: []byte("A"), Voice: "v1", SessionID: "shared"})
			if err != nil {
				t.Errorf("HandleTurn() error = %v", err)
				return
			}
			if res.FirstTurn {
				mu.Lock()
				first++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, first)
}

func TestSpeechIsSanitizedButReplyIsNot(t *testing.T) {
	h := newHarness(t)
	h.gen.reply = "**Great!** See [the guide](https://example.com)."

	got, err := h.orch.HandleTurn(context.Background(), TurnRequest{Audio: []byte("A"), Voice: "v1"})
	require.NoError(t, err)
	assert.Equal(t, "**Great!** See [the guide](https://example.com).", got.ReplyText)
	assert.Equal(t, "Great! See the guide.", h.synth.got[0].Text)
}

func TestSymbolOnlyReplyIsSpokenRaw(t *testing.T) {
	h := newHarness(t)
	h.gen.reply = "***"

	_, err := h.orch.HandleTurn(context.Background(), TurnRequest{Audio: []byte("A"), Voice: "v1"})
	require.NoError(t, err)
	assert.Equal(t, "***", h.synth.got[0].Text)
}

func TestRawSpeechSkipsSanitizing(t *testing.T) {
	synth := &fakeSynthesizer{audio: []byte("B")}
	orch := NewOrchestrator(Deps{
		Recognizer:  &fakeRecognizer{text: "hello"},
		Generator:   &fakeGenerator{reply: "**Great!** 120/80 😊"},
		Synthesizer: synth,
		Sessions:    session.NewMemoryTracker(time.Hour, 10),
		Voices:      MustParseCatalog("v1"),
		RawSpeech:   true,
	})

	_, err := orch.HandleTurn(context.Background(), TurnRequest{Audio: []byte("A"), Voice: "v1"})
	require.NoError(t, err)
	assert.Equal(t, "**Great!** 120/80 😊", synth.got[0].Text)
}

func TestTurnPassesFilenameToRecognizer(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.HandleTurn(context.Background(), TurnRequest{Audio: []byte("A"), Filename: "clip.ogg", Voice: "v1"})
	require.NoError(t, err)
	assert.Equal(t, Clip{Data: []byte("A"), Filename: "clip.ogg"}, h.rec.lastClip)
}

func TestRunsAreRecordedByPhase(t *testing.T) {
	h := newHarness(t)
	metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "test")
	h.orch.metrics = metrics
	h.gen.reply = "let's check in"
	h.rec.text = "call anna"
	ctx := context.Background()

	_, err := h.orch.HandleTurn(ctx, TurnRequest{Audio: []byte("A"), Voice: "v1", SessionID: "s-1"})
	require.NoError(t, err)
	_, err = h.orch.HandleTurn(ctx, TurnRequest{Audio: []byte("A"), Voice: "v1", SessionID: "s-1"})
	require.NoError(t, err)
	_, err = h.orch.Greet(ctx, GreetRequest{Voice: "v1", SessionID: "s-2"})
	require.NoError(t, err)

	h.synth.err = errors.New("boom")
	_, err = h.orch.HandleTurn(ctx, TurnRequest{Audio: []byte("A"), Voice: "v1", SessionID: "s-1"})
	require.Error(t, err)

	snap := metrics.LatencySnapshot()
	var phases []string
	for _, p := range snap.Phases {
		phases = append(phases, string(p.Phase))
		assert.Equal(t, 1, p.Runs, "runs in %s", p.Phase)
	}
	assert.Equal(t, []string{"greeting", "first_turn", "continuing"}, phases)
	assert.Equal(t, 1, snap.Phases[1].Navigations)
	assert.Equal(t, []observability.FailureCount{{Stage: "synthesis", Kind: "generic", Count: 1}}, snap.Failures)
}

func TestVoiceSample(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	audio, err := h.orch.VoiceSample(ctx, "synthex", "Mei")
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("B-audio-bytes")), audio)
	assert.Equal(t, synthCall{
		Text:  "Hi Mei, I'm your check-in companion. This is how I will sound when we talk.",
		Voice: "alloy",
	}, h.synth.got[0])

	_, err = h.orch.VoiceSample(ctx, "v1", "")
	require.NoError(t, err)
	assert.Contains(t, h.synth.got[1].Text, "Hi there,")

	_, err = h.orch.VoiceSample(ctx, "nope", "Mei")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDebugOperations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	text, err := h.orch.Recognize(ctx, Clip{Data: []byte("A"), Filename: "memo.m4a"})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, "memo.m4a", h.rec.lastClip.Filename)
	_, err = h.orch.Recognize(ctx, Clip{})
	assert.ErrorIs(t, err, ErrValidation)

	reply, err := h.orch.Generate(ctx, "hello", "", "custom context")
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply)
	assert.Equal(t, "custom context", h.gen.reqs[0].Context)
	_, err = h.orch.Generate(ctx, " ", "", "")
	assert.ErrorIs(t, err, ErrValidation)

	audio, err := h.orch.Synthesize(ctx, "hi", "v1")
	require.NoError(t, err)
	assert.NotEmpty(t, audio)
	_, err = h.orch.Synthesize(ctx, "hi", "zzz")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = h.orch.Synthesize(ctx, "", "v1")
	assert.ErrorIs(t, err, ErrValidation)

	assert.Equal(t, "v1", h.orch.DefaultVoice())
	assert.Len(t, h.orch.Voices(), 3)
}
