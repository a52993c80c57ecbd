package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ent0n29/novavoice/internal/audio"
)

const (
	DefaultSTTModel = "gpt-4o-mini-transcribe"
	DefaultTTSModel = "gpt-4o-mini-tts"
)

// maxSpeechBytes caps one synthesized reply. A var so tests can lower it.
var maxSpeechBytes = 32 << 20

var ErrSpeechTooLarge = errors.New("synthesized audio too large")

// OpenAIProvider recognizes with the transcription API and synthesizes with the
// speech API. One client serves both.
type OpenAIProvider struct {
	client   *openai.Client
	sttModel string
	ttsModel string
}

func NewOpenAIProvider(client *openai.Client, sttModel, ttsModel string) *OpenAIProvider {
	if strings.TrimSpace(sttModel) == "" {
		sttModel = DefaultSTTModel
	}
	if strings.TrimSpace(ttsModel) == "" {
		ttsModel = DefaultTTSModel
	}
	return &OpenAIProvider{client: client, sttModel: sttModel, ttsModel: ttsModel}
}

func (p *OpenAIProvider) STTModel() string { return p.sttModel }
func (p *OpenAIProvider) TTSModel() string { return p.ttsModel }

func (p *OpenAIProvider) Recognize(ctx context.Context, clip Clip) (string, error) {
	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    p.sttModel,
		Reader:   bytes.NewReader(clip.Data),
		FilePath: audio.UploadFilename(clip.Data, clip.Filename),
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (p *OpenAIProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	resp, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(p.ttsModel),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(io.LimitReader(resp, int64(maxSpeechBytes)+1))
	if err != nil {
		return nil, fmt.Errorf("read speech audio: %w", err)
	}
	if len(data) > maxSpeechBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrSpeechTooLarge, maxSpeechBytes)
	}
	return data, nil
}
