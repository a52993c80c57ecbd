package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/novavoice/internal/reliability"
)

// HTTPGenerator forwards requests to a JSON generation endpoint. Replies may be
// a JSON object, plain text, SSE or NDJSON.
type HTTPGenerator struct {
	url    string
	client *http.Client
	strict bool
}

func NewHTTPGenerator(url string) *HTTPGenerator {
	return NewHTTPGeneratorWithOptions(url, false)
}

// NewHTTPGeneratorWithOptions rejects malformed stream frames when strict is set.
func NewHTTPGeneratorWithOptions(url string, strict bool) *HTTPGenerator {
	return &HTTPGenerator{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		strict: strict,
	}
}

func (g *HTTPGenerator) Name() string { return "http" }

func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream, application/x-ndjson")

	res, err := g.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Response{}, &reliability.StatusError{
			Provider:   "generation endpoint",
			StatusCode: res.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	switch {
	case strings.Contains(ct, "text/event-stream"):
		return g.consumeSSE(res.Body)
	case strings.Contains(ct, "application/x-ndjson"):
		return g.consumeNDJSON(res.Body)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return Response{Text: strings.TrimSpace(string(body))}, nil
	}
	return Response{Text: extractText(obj)}, nil
}

func (g *HTTPGenerator) consumeSSE(body io.Reader) (Response, error) {
	scanner := newLineScanner(body)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			// event:, id:, retry: carry no text.
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		delta, err := g.decodeFrame(data)
		if err != nil {
			return Response{}, err
		}
		out.WriteString(delta)
	}
	if err := scanner.Err(); err != nil {
		return Response{}, fmt.Errorf("stream read: %w", err)
	}
	return Response{Text: strings.TrimSpace(out.String())}, nil
}

func (g *HTTPGenerator) consumeNDJSON(body io.Reader) (Response, error) {
	scanner := newLineScanner(body)

	var out strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if trimmed == "[DONE]" {
			break
		}
		delta, err := g.decodeFrame(trimmed)
		if err != nil {
			return Response{}, err
		}
		if delta == trimmed {
			// Bare text frames keep their leading whitespace.
			delta = strings.TrimRight(line, "\r")
		}
		out.WriteString(delta)
	}
	if err := scanner.Err(); err != nil {
		return Response{}, fmt.Errorf("stream read: %w", err)
	}
	return Response{Text: strings.TrimSpace(out.String())}, nil
}

// decodeFrame extracts the text of one stream frame. Non-JSON frames are taken
// as raw text unless the generator is strict.
func (g *HTTPGenerator) decodeFrame(frame string) (string, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(frame), &obj); err != nil {
		if g.strict {
			return "", fmt.Errorf("invalid stream frame %q: %w", truncate(frame, 64), err)
		}
		return frame, nil
	}
	return extractText(obj), nil
}

func newLineScanner(body io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return scanner
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "delta", "reply", "replyText", "output", "message"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
