package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/novavoice/internal/protocol"
	"github.com/ent0n29/novavoice/internal/session"
	"github.com/ent0n29/novavoice/internal/voice"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsIdleTimeout  = 120 * time.Second
)

// handleVoiceWS runs turns and greetings over one connection. Requests are
// processed in arrival order; a session_id query parameter becomes the default
// for requests that omit one.
func (s *Server) handleVoiceWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		sessionID = session.NewID()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.ActiveWSConns.Inc()
		defer s.metrics.ActiveWSConns.Dec()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 16)
	outbound := make(chan any, 16)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		defer close(outbound)
		for msg := range inbound {
			if ctx.Err() != nil {
				continue
			}
			reply := s.dispatch(ctx, sessionID, msg)
			select {
			case <-ctx.Done():
			case outbound <- reply:
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range outbound {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				cancel()
				return
			}
			s.metrics.ObserveWSMessage("outbound", string(messageTypeOf(msg)))
		}
	}()

	// Unblock ReadMessage when the server shuts down or the writer fails.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	s.enqueue(ctx, outbound, protocol.SystemEvent{
		Type:   protocol.TypeSystemEvent,
		Code:   "session_ready",
		Detail: sessionID,
	})

	conn.SetReadLimit(int64(s.maxAudioBytes)*4/3 + 4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data, s.maxAudioBytes)
		if err != nil {
			s.enqueue(ctx, outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Detail:    err.Error(),
			})
			continue
		}

		s.metrics.ObserveWSMessage("inbound", string(messageTypeOf(parsed)))
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
}

// enqueue never blocks the read loop; a saturated queue drops the event.
func (s *Server) enqueue(ctx context.Context, outbound chan<- any, msg any) {
	select {
	case <-ctx.Done():
	case outbound <- msg:
	default:
		s.metrics.ObserveWSMessage("outbound_dropped", string(messageTypeOf(msg)))
	}
}

func (s *Server) dispatch(ctx context.Context, connSessionID string, msg any) any {
	switch m := msg.(type) {
	case protocol.TurnRequest:
		sessionID := firstNonEmpty(m.SessionID, connSessionID)
		res, err := s.orchestrator.HandleTurn(ctx, voice.TurnRequest{
			Audio:     m.Audio,
			Filename:  m.Filename,
			Voice:     strings.TrimSpace(m.Voice),
			SessionID: sessionID,
			Profile:   protocol.ProfileText(m.Profile),
		})
		if err != nil {
			return errorEvent(m.RequestID, sessionID, err)
		}
		return protocol.TurnResult{
			Type:           protocol.TypeTurnResult,
			RequestID:      m.RequestID,
			SessionID:      res.SessionID,
			UserText:       res.UserText,
			ReplyText:      res.ReplyText,
			AudioBase64:    res.AudioBase64,
			ShouldNavigate: res.ShouldNavigate,
			TargetPage:     protocol.TargetPage(res.TargetPage),
			Timings:        wireTimings(res.Timings),
		}
	case protocol.GreetRequest:
		sessionID := firstNonEmpty(m.SessionID, connSessionID)
		res, err := s.orchestrator.Greet(ctx, voice.GreetRequest{
			Voice:     strings.TrimSpace(m.Voice),
			SessionID: sessionID,
			Profile:   protocol.ProfileText(m.Profile),
		})
		if err != nil {
			return errorEvent(m.RequestID, sessionID, err)
		}
		return protocol.GreetResult{
			Type:        protocol.TypeGreetResult,
			RequestID:   m.RequestID,
			SessionID:   res.SessionID,
			ReplyText:   res.ReplyText,
			AudioBase64: res.AudioBase64,
			Timings:     wireTimings(res.Timings),
		}
	default:
		return errorEvent("", connSessionID, errors.New("unsupported message"))
	}
}

func errorEvent(requestID, sessionID string, err error) protocol.ErrorEvent {
	f := classifyFailure(err)
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		RequestID: requestID,
		SessionID: sessionID,
		Code:      f.Code,
		Retryable: f.Retryable,
		Detail:    f.Message,
	}
}

func wireTimings(t voice.StageTimings) protocol.Timings {
	return protocol.Timings{
		RecognitionMS: t.RecognitionMS,
		GenerationMS:  t.GenerationMS,
		SynthesisMS:   t.SynthesisMS,
		TotalMS:       t.TotalMS,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func messageTypeOf(v any) protocol.MessageType {
	switch m := v.(type) {
	case protocol.TurnRequest:
		return m.Type
	case protocol.GreetRequest:
		return m.Type
	case protocol.TurnResult:
		return m.Type
	case protocol.GreetResult:
		return m.Type
	case protocol.SystemEvent:
		return m.Type
	case protocol.ErrorEvent:
		return m.Type
	default:
		return "unknown"
	}
}
