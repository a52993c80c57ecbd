package httpapi

import (
	"errors"
	"net/http"

	"github.com/ent0n29/novavoice/internal/reliability"
	"github.com/ent0n29/novavoice/internal/voice"
)

// statusClientClosedRequest is written when the caller went away mid-pipeline.
// Nobody reads it; it keeps access logs honest.
const statusClientClosedRequest = 499

type failure struct {
	Status    int
	Code      string
	Message   string
	Retryable bool
}

// classifyFailure maps a pipeline error onto a client-safe status, code and
// message. Provider detail never leaves the server.
func classifyFailure(err error) failure {
	var verr *voice.ValidationError
	if errors.As(err, &verr) {
		return failure{Status: http.StatusBadRequest, Code: "invalid_request", Message: verr.Error()}
	}

	var perr *voice.ProviderError
	if !errors.As(err, &perr) {
		return failure{Status: http.StatusInternalServerError, Code: "internal_error", Message: "internal error"}
	}
	switch perr.Kind {
	case reliability.KindQuota:
		return failure{
			Status:  http.StatusServiceUnavailable,
			Code:    "provider_quota",
			Message: "The voice service is temporarily unavailable because the provider quota is exhausted. Please try again later.",
		}
	case reliability.KindTimeout:
		return failure{
			Status:    http.StatusGatewayTimeout,
			Code:      "provider_timeout",
			Message:   "The " + string(perr.Stage) + " provider took too long to respond.",
			Retryable: true,
		}
	case reliability.KindCanceled:
		return failure{Status: statusClientClosedRequest, Code: "canceled", Message: "request canceled"}
	default:
		return failure{
			Status:    http.StatusBadGateway,
			Code:      "provider_failed",
			Message:   "The " + string(perr.Stage) + " provider failed. Please try again.",
			Retryable: true,
		}
	}
}

func respondFailure(w http.ResponseWriter, err error) {
	f := classifyFailure(err)
	respondError(w, f.Status, f.Code, f.Message)
}
