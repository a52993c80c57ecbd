package voice

import "context"

// Clip is a recorded utterance. Filename is the client's name for the
// recording and may be empty.
type Clip struct {
	Data     []byte
	Filename string
}

// Recognizer turns a recorded clip into text. Empty text is a valid result.
type Recognizer interface {
	Recognize(ctx context.Context, clip Clip) (string, error)
}

// Synthesizer renders text as encoded audio in the given provider voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Provider is implemented by backends that do both directions.
type Provider interface {
	Recognizer
	Synthesizer
}
