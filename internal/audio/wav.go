package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"time"
)

const wavHeaderSize = 44

var ErrNotPCMWAV = errors.New("not a 16-bit PCM wav")

// EncodeWAV wraps mono PCM16LE samples in a canonical 44-byte WAV header.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	out := make([]byte, wavHeaderSize+len(pcm))
	le := binary.LittleEndian

	copy(out[0:], "RIFF")
	le.PutUint32(out[4:], uint32(36+len(pcm)))
	copy(out[8:], "WAVEfmt ")
	le.PutUint32(out[16:], 16)
	le.PutUint16(out[20:], 1) // PCM
	le.PutUint16(out[22:], 1) // mono
	le.PutUint32(out[24:], uint32(sampleRate))
	le.PutUint32(out[28:], uint32(sampleRate*2))
	le.PutUint16(out[32:], 2)
	le.PutUint16(out[34:], 16)
	copy(out[36:], "data")
	le.PutUint32(out[40:], uint32(len(pcm)))
	copy(out[wavHeaderSize:], pcm)
	return out
}

// WAVDuration reports the playback length of a 16-bit PCM wav by walking its
// chunks. Extra chunks such as LIST are skipped.
func WAVDuration(data []byte) (time.Duration, error) {
	if DetectFormat(data) != FormatWAV {
		return 0, ErrNotPCMWAV
	}
	le := binary.LittleEndian
	var byteRate, bits uint32
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(le.Uint32(data[off+4:]))
		off += 8
		switch id {
		case "fmt ":
			if size < 16 || off+16 > len(data) {
				return 0, ErrNotPCMWAV
			}
			if le.Uint16(data[off:]) != 1 {
				return 0, ErrNotPCMWAV
			}
			byteRate = le.Uint32(data[off+8:])
			bits = uint32(le.Uint16(data[off+14:]))
		case "data":
			if byteRate == 0 || bits != 16 {
				return 0, ErrNotPCMWAV
			}
			// Streams written before the size is known leave it short or open ended.
			if size > len(data)-off || size < 0 {
				size = len(data) - off
			}
			return time.Duration(float64(size) / float64(byteRate) * float64(time.Second)), nil
		}
		off += size + size%2
	}
	return 0, ErrNotPCMWAV
}

// Tone returns PCM16LE mono samples of a sine wave. A zero frequency yields silence.
func Tone(freqHz float64, duration time.Duration, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	n := int(duration.Seconds() * float64(sampleRate))
	if n <= 0 {
		return nil
	}
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		var v int16
		if freqHz > 0 {
			v = int16(0.2 * math.MaxInt16 * math.Sin(2*math.Pi*freqHz*float64(i)/float64(sampleRate)))
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}
