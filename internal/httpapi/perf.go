package httpapi

import "net/http"

func (s *Server) handlePerfLatency(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("reset") == "1" {
		defer s.metrics.ResetLatencyWindow()
	}
	respondJSON(w, http.StatusOK, s.metrics.LatencySnapshot())
}
