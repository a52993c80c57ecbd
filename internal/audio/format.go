package audio

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Format is an audio container recognized from its leading bytes.
type Format string

const (
	FormatUnknown Format = ""
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatOGG     Format = "ogg"
	FormatWebM    Format = "webm"
	FormatMP4     Format = "mp4"
	FormatFLAC    Format = "flac"
)

// Filename returns a name whose extension transcription APIs accept.
func (f Format) Filename() string {
	if f == FormatUnknown {
		return "audio.webm"
	}
	if f == FormatMP4 {
		return "audio.m4a"
	}
	return "audio." + string(f)
}

// DetectFormat sniffs the container from magic bytes.
func DetectFormat(data []byte) Format {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV
	case bytes.HasPrefix(data, []byte("ID3")):
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	case bytes.HasPrefix(data, []byte("OggS")):
		return FormatOGG
	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return FormatWebM
	case len(data) >= 8 && bytes.Equal(data[4:8], []byte("ftyp")):
		return FormatMP4
	case bytes.HasPrefix(data, []byte("fLaC")):
		return FormatFLAC
	default:
		return FormatUnknown
	}
}

// FormatFromFilename maps a client-supplied file name onto a Format.
func FormatFromFilename(name string) Format {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "wav", "wave":
		return FormatWAV
	case "mp3", "mpeg", "mpga":
		return FormatMP3
	case "ogg", "oga", "opus":
		return FormatOGG
	case "webm":
		return FormatWebM
	case "mp4", "m4a":
		return FormatMP4
	case "flac":
		return FormatFLAC
	default:
		return FormatUnknown
	}
}

// UploadFilename picks the name sent upstream for an uploaded clip. Sniffed
// bytes win over the client's file name.
func UploadFilename(data []byte, clientName string) string {
	if f := DetectFormat(data); f != FormatUnknown {
		return f.Filename()
	}
	return FormatFromFilename(clientName).Filename()
}
