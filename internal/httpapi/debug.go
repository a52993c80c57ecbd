package httpapi

import (
	"net/http"
	"strings"
)

func (s *Server) handleDebugSTT(w http.ResponseWriter, r *http.Request) {
	clip, err := s.readAudioUpload(w, r)
	if err != nil {
		s.respondUploadError(w, err)
		return
	}
	text, err := s.orchestrator.Recognize(r.Context(), clip)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"text": text})
}

type debugChatRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"sessionId"`
	Context   string `json:"context"`
}

func (s *Server) handleDebugChat(w http.ResponseWriter, r *http.Request) {
	var req debugChatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", bodyError(err))
		return
	}
	reply, err := s.orchestrator.Generate(r.Context(), req.Text, strings.TrimSpace(req.SessionID), req.Context)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"replyText": reply})
}

type debugTTSRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

func (s *Server) handleDebugTTS(w http.ResponseWriter, r *http.Request) {
	var req debugTTSRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", bodyError(err))
		return
	}
	audioBase64, err := s.orchestrator.Synthesize(r.Context(), req.Text, strings.TrimSpace(req.Voice))
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"audioBase64": audioBase64})
}
