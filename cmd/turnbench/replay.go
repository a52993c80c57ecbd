package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/novavoice/internal/audio"
	"github.com/ent0n29/novavoice/internal/observability"
	"github.com/ent0n29/novavoice/internal/protocol"
)

const toneSampleRate = 16000

type timings struct {
	RecognitionMS int64 `json:"recognitionMs"`
	GenerationMS  int64 `json:"generationMs"`
	SynthesisMS   int64 `json:"synthesisMs"`
	TotalMS       int64 `json:"totalMs"`
}

type turnResponse struct {
	SessionID      string  `json:"sessionId"`
	UserText       string  `json:"userText"`
	ReplyText      string  `json:"replyText"`
	AudioBase64    string  `json:"audioBase64"`
	ShouldNavigate bool    `json:"shouldNavigate"`
	TargetPage     *string `json:"targetPage"`
	Timings        timings `json:"timings"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (o options) validate() error {
	if strings.TrimSpace(o.baseURL) == "" {
		return fmt.Errorf("base-url is required")
	}
	if o.sessions <= 0 {
		return fmt.Errorf("sessions must be > 0")
	}
	if o.turns < 0 {
		return fmt.Errorf("turns must be >= 0")
	}
	if o.clipPath == "" && (o.toneMS < 50 || o.toneMS > 30000) {
		return fmt.Errorf("tone-ms must be in [50,30000]")
	}
	if o.transport != "http" && o.transport != "ws" {
		return fmt.Errorf("transport must be http or ws")
	}
	if o.timeout < time.Second {
		return fmt.Errorf("timeout must be at least 1s")
	}
	return nil
}

func loadClip(opts options) ([]byte, error) {
	if opts.clipPath != "" {
		data, err := os.ReadFile(opts.clipPath)
		if err != nil {
			return nil, fmt.Errorf("read clip: %w", err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("clip %s is empty", opts.clipPath)
		}
		return data, nil
	}
	pcm := audio.Tone(440, time.Duration(opts.toneMS)*time.Millisecond, toneSampleRate)
	return audio.EncodeWAV(pcm, toneSampleRate), nil
}

func runReplay(ctx context.Context, opts options, log io.Writer) (*report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	opts.baseURL = strings.TrimRight(strings.TrimSpace(opts.baseURL), "/")
	clip, err := loadClip(opts)
	if err != nil {
		return nil, err
	}
	if opts.verbose {
		fmt.Fprintf(log, "turnbench: clip format=%s bytes=%d sessions=%d turns=%d transport=%s\n",
			audio.DetectFormat(clip), len(clip), opts.sessions, opts.turns, opts.transport)
	}

	rep := newReport()
	client := &http.Client{Timeout: opts.timeout}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.sessions; i++ {
		sessionID := fmt.Sprintf("bench-%d-%d", time.Now().UnixMilli(), i)
		g.Go(func() error {
			var err error
			if opts.transport == "ws" {
				err = replayWS(gctx, opts, sessionID, clip, rep, log)
			} else {
				err = replayHTTP(gctx, client, opts, sessionID, clip, rep, log)
			}
			if err != nil {
				return fmt.Errorf("session %s: %w", sessionID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, err
	}
	return rep, nil
}

func replayHTTP(ctx context.Context, client *http.Client, opts options, sessionID string, clip []byte, rep *report, log io.Writer) error {
	start := time.Now()
	greet, err := postGreet(ctx, client, opts, sessionID)
	if err != nil {
		return fmt.Errorf("greet: %w", err)
	}
	rep.addGreet(greet.Timings, time.Since(start), greet.AudioBase64)

	for i := 0; i < opts.turns; i++ {
		start := time.Now()
		res, err := postTurn(ctx, client, opts, sessionID, clip)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		rep.addTurn(res.Timings, time.Since(start), res.AudioBase64)
		if opts.verbose {
			fmt.Fprintf(log, "turnbench: %s turn %d/%d user=%q total_ms=%d navigate=%t\n",
				sessionID, i+1, opts.turns, res.UserText, res.Timings.TotalMS, res.ShouldNavigate)
		}
	}
	return nil
}

func postGreet(ctx context.Context, client *http.Client, opts options, sessionID string) (turnResponse, error) {
	payload, err := json.Marshal(map[string]string{
		"voice":     opts.voice,
		"sessionId": sessionID,
		"profile":   opts.profile,
	})
	if err != nil {
		return turnResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.baseURL+"/voice/greet", bytes.NewReader(payload))
	if err != nil {
		return turnResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON(client, req)
}

func postTurn(ctx context.Context, client *http.Client, opts options, sessionID string, clip []byte) (turnResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range map[string]string{"voice": opts.voice, "sessionId": sessionID, "profile": opts.profile} {
		if err := mw.WriteField(k, v); err != nil {
			return turnResponse{}, err
		}
	}
	part, err := mw.CreateFormFile("audio", audio.UploadFilename(clip, opts.clipPath))
	if err != nil {
		return turnResponse{}, err
	}
	if _, err := part.Write(clip); err != nil {
		return turnResponse{}, err
	}
	if err := mw.Close(); err != nil {
		return turnResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.baseURL+"/voice/chat", &body)
	if err != nil {
		return turnResponse{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return doJSON(client, req)
}

func doJSON(client *http.Client, req *http.Request) (turnResponse, error) {
	res, err := client.Do(req)
	if err != nil {
		return turnResponse{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<20))
	if err != nil {
		return turnResponse{}, err
	}
	if res.StatusCode != http.StatusOK {
		var e errorResponse
		if json.Unmarshal(body, &e) == nil && e.Code != "" {
			return turnResponse{}, fmt.Errorf("HTTP %d %s: %s", res.StatusCode, e.Code, e.Error)
		}
		return turnResponse{}, fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var out turnResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return turnResponse{}, err
	}
	return out, nil
}

func replayWS(ctx context.Context, opts options, sessionID string, clip []byte, rep *report, log io.Writer) error {
	wsURL, err := wsURLForSession(opts.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	var ready protocol.SystemEvent
	if err := readFrame(conn, opts.timeout, &ready); err != nil {
		return fmt.Errorf("await session_ready: %w", err)
	}

	start := time.Now()
	greet, err := roundTrip(conn, opts.timeout, protocol.GreetRequest{
		Type:      protocol.TypeGreetRequest,
		RequestID: "greet",
		SessionID: sessionID,
		Voice:     opts.voice,
		Profile:   protocol.ProfileJSON(opts.profile),
	})
	if err != nil {
		return fmt.Errorf("greet: %w", err)
	}
	rep.addGreet(greet.Timings, time.Since(start), greet.AudioBase64)

	audioBase64 := base64.StdEncoding.EncodeToString(clip)
	for i := 0; i < opts.turns; i++ {
		start := time.Now()
		res, err := roundTrip(conn, opts.timeout, protocol.TurnRequest{
			Type:        protocol.TypeTurnRequest,
			RequestID:   fmt.Sprintf("turn-%d", i+1),
			SessionID:   sessionID,
			Voice:       opts.voice,
			Profile:     protocol.ProfileJSON(opts.profile),
			Filename:    "turnbench.wav",
			AudioBase64: audioBase64,
		})
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		rep.addTurn(res.Timings, time.Since(start), res.AudioBase64)
		if opts.verbose {
			fmt.Fprintf(log, "turnbench: %s ws turn %d/%d total_ms=%d\n", sessionID, i+1, opts.turns, res.Timings.TotalMS)
		}
	}
	return nil
}

type wsFrame struct {
	Type        protocol.MessageType `json:"type"`
	Code        string               `json:"code"`
	Detail      string               `json:"detail"`
	AudioBase64 string               `json:"audio_base64"`
	Timings     protocol.Timings     `json:"timings"`
}

// roundTrip sends one request and waits for its result or error event.
func roundTrip(conn *websocket.Conn, timeout time.Duration, msg any) (turnResponse, error) {
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	if err := conn.WriteJSON(msg); err != nil {
		return turnResponse{}, err
	}
	for {
		var frame wsFrame
		if err := readFrame(conn, timeout, &frame); err != nil {
			return turnResponse{}, err
		}
		switch frame.Type {
		case protocol.TypeTurnResult, protocol.TypeGreetResult:
			return turnResponse{
				AudioBase64: frame.AudioBase64,
				Timings: timings{
					RecognitionMS: frame.Timings.RecognitionMS,
					GenerationMS:  frame.Timings.GenerationMS,
					SynthesisMS:   frame.Timings.SynthesisMS,
					TotalMS:       frame.Timings.TotalMS,
				},
			}, nil
		case protocol.TypeErrorEvent:
			return turnResponse{}, fmt.Errorf("error_event %s: %s", frame.Code, frame.Detail)
		}
	}
}

func readFrame(conn *websocket.Conn, timeout time.Duration, out any) error {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	return conn.ReadJSON(out)
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/voice/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func printServerLatency(ctx context.Context, baseURL string, reset bool, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/v1/perf/latency"
	if reset {
		endpoint += "?reset=1"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	res, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", res.StatusCode)
	}
	var snapshot observability.LatencySnapshot
	if err := json.NewDecoder(res.Body).Decode(&snapshot); err != nil {
		return fmt.Errorf("decode latency snapshot: %w", err)
	}
	fmt.Fprintf(out, "window=%d\n", snapshot.WindowSize)
	for _, phase := range snapshot.Phases {
		fmt.Fprintf(out, "%s runs=%d navigations=%d\n", phase.Phase, phase.Runs, phase.Navigations)
		for _, s := range phase.Stages {
			fmt.Fprintf(out, "  %-12s p50=%8.1fms p95=%8.1fms target_p95=%8.1fms over=%d\n", s.Stage, s.P50MS, s.P95MS, s.TargetP95MS, s.OverTarget)
		}
	}
	for _, f := range snapshot.Failures {
		fmt.Fprintf(out, "failed %s/%s x%d\n", f.Stage, f.Kind, f.Count)
	}
	return nil
}
