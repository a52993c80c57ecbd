package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/novavoice/internal/audio"
	"github.com/ent0n29/novavoice/internal/protocol"
	"github.com/ent0n29/novavoice/internal/voice"
)

// multipartOverhead leaves room for form fields next to the audio part.
const multipartOverhead = 1 << 20

var errAudioTooLarge = errors.New("audio upload too large")

type chatResponse struct {
	SessionID      string             `json:"sessionId"`
	UserText       string             `json:"userText"`
	ReplyText      string             `json:"replyText"`
	AudioBase64    string             `json:"audioBase64"`
	ShouldNavigate bool               `json:"shouldNavigate"`
	TargetPage     *string            `json:"targetPage"`
	Timings        voice.StageTimings `json:"timings"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	clip, err := s.readAudioUpload(w, r)
	if err != nil {
		s.respondUploadError(w, err)
		return
	}

	res, err := s.orchestrator.HandleTurn(r.Context(), voice.TurnRequest{
		Audio:     clip.Data,
		Filename:  clip.Filename,
		Voice:     strings.TrimSpace(r.FormValue("voice")),
		SessionID: strings.TrimSpace(r.FormValue("sessionId")),
		Profile:   r.FormValue("profile"),
	})
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, chatResponse{
		SessionID:      res.SessionID,
		UserText:       res.UserText,
		ReplyText:      res.ReplyText,
		AudioBase64:    res.AudioBase64,
		ShouldNavigate: res.ShouldNavigate,
		TargetPage:     protocol.TargetPage(res.TargetPage),
		Timings:        res.Timings,
	})
}

type greetRequest struct {
	Voice     string          `json:"voice"`
	SessionID string          `json:"sessionId"`
	Profile   json.RawMessage `json:"profile,omitempty"`
}

type greetResponse struct {
	SessionID   string             `json:"sessionId"`
	ReplyText   string             `json:"replyText"`
	AudioBase64 string             `json:"audioBase64"`
	Timings     voice.StageTimings `json:"timings"`
}

func (s *Server) handleGreet(w http.ResponseWriter, r *http.Request) {
	var req greetRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", bodyError(err))
		return
	}

	res, err := s.orchestrator.Greet(r.Context(), voice.GreetRequest{
		Voice:     strings.TrimSpace(req.Voice),
		SessionID: strings.TrimSpace(req.SessionID),
		Profile:   protocol.ProfileText(req.Profile),
	})
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, greetResponse{
		SessionID:   res.SessionID,
		ReplyText:   res.ReplyText,
		AudioBase64: res.AudioBase64,
		Timings:     res.Timings,
	})
}

type sampleRequest struct {
	Voice string `json:"voice"`
	Name  string `json:"name"`
}

type sampleResponse struct {
	Voice       string `json:"voice"`
	AudioBase64 string `json:"audioBase64"`
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	var req sampleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", bodyError(err))
		return
	}
	voiceID := strings.TrimSpace(req.Voice)
	audioBase64, err := s.orchestrator.VoiceSample(r.Context(), voiceID, req.Name)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sampleResponse{Voice: voiceID, AudioBase64: audioBase64})
}

type voicesResponse struct {
	DefaultVoice string              `json:"defaultVoice"`
	Voices       []voice.VoiceOption `json:"voices"`
}

func (s *Server) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, voicesResponse{
		DefaultVoice: s.orchestrator.DefaultVoice(),
		Voices:       s.orchestrator.Voices(),
	})
}

// readAudioUpload returns the multipart "audio" part and its file name.
func (s *Server) readAudioUpload(w http.ResponseWriter, r *http.Request) (voice.Clip, error) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.maxAudioBytes)+multipartOverhead)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return voice.Clip{}, errAudioTooLarge
		}
		return voice.Clip{}, fmt.Errorf("parse multipart form: %w", err)
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		return voice.Clip{}, fmt.Errorf("audio file is required: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(file, int64(s.maxAudioBytes)+1))
	if err != nil {
		return voice.Clip{}, fmt.Errorf("read audio: %w", err)
	}
	if n > int64(s.maxAudioBytes) {
		return voice.Clip{}, errAudioTooLarge
	}

	clip := voice.Clip{Data: buf.Bytes(), Filename: header.Filename}
	s.logger.Debug("audio upload",
		zap.String("filename", clip.Filename),
		zap.Int("bytes", len(clip.Data)),
		zap.String("detected_format", string(audio.DetectFormat(clip.Data))),
	)
	return clip, nil
}

func (s *Server) respondUploadError(w http.ResponseWriter, err error) {
	if errors.Is(err, errAudioTooLarge) {
		respondError(w, http.StatusRequestEntityTooLarge, "audio_too_large",
			fmt.Sprintf("audio exceeds %d bytes", s.maxAudioBytes))
		return
	}
	respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
}

func bodyError(err error) string {
	if errors.Is(err, errEmptyBody) {
		return "request body is required"
	}
	return "invalid JSON body"
}
