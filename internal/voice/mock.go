package voice

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ent0n29/novavoice/internal/audio"
)

const (
	mockSampleRate  = 24000
	mockRuneLength  = 45 * time.Millisecond
	mockMaxDuration = 3 * time.Second
)

// MockProvider is a local provider used when OpenAI is not configured.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Recognize(ctx context.Context, clip Clip) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(clip.Data) == 0 {
		return "", nil
	}
	return "simulated voice input", nil
}

// Synthesize returns a WAV tone whose length follows the text length. The
// pitch is derived from the voice so different voices are distinguishable.
func (p *MockProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	d := time.Duration(n) * mockRuneLength
	if d > mockMaxDuration {
		d = mockMaxDuration
	}
	if d <= 0 {
		d = 100 * time.Millisecond
	}
	var freq float64
	if n > 0 {
		freq = 180 + float64(voiceSeed(voice)%12)*20
	}
	return audio.EncodeWAV(audio.Tone(freq, d, mockSampleRate), mockSampleRate), nil
}

func voiceSeed(voice string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(voice); i++ {
		h ^= uint32(voice[i])
		h *= 16777619
	}
	return h
}
