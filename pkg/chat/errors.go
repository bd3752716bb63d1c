package chat

import (
	"context"
	"errors"
	"net/http"

	"github.com/lkarlslund/kagi-proxy/pkg/kagi"
	"github.com/lkarlslund/kagi-proxy/pkg/session"
	openai "github.com/sashabaranov/go-openai"
)

// ErrNoMessages rejects a chat request without messages.
var ErrNoMessages = errors.New("messages is required")

const (
	TypeAPIError       = "api_error"
	TypeInvalidRequest = "invalid_request_error"
)

// Failure is how an error is reported to API callers.
type Failure struct {
	Status  int
	Type    string
	Code    string
	Message string
}

// Classify maps an error from the upstream path onto an HTTP status and an
// OpenAI-style error type and code.
func Classify(err error) Failure {
	f := Failure{Status: http.StatusInternalServerError, Type: TypeAPIError, Code: "internal_error"}
	if err == nil {
		return f
	}
	f.Message = err.Error()

	var pe *kagi.ProtocolError
	var te *kagi.TransportError
	switch {
	case errors.Is(err, ErrNoMessages):
		f.Status, f.Type, f.Code = http.StatusBadRequest, TypeInvalidRequest, "missing_required_parameter"
	case errors.Is(err, session.ErrUnconfigured):
		f.Status, f.Code = http.StatusServiceUnavailable, "session_unconfigured"
	case errors.Is(err, kagi.ErrInvalidSession):
		f.Status, f.Code = http.StatusUnauthorized, "invalid_session"
	case errors.Is(err, context.DeadlineExceeded):
		f.Status, f.Code = http.StatusGatewayTimeout, "upstream_timeout"
	case errors.As(err, &pe):
		f.Status, f.Code = http.StatusBadGateway, "upstream_protocol_error"
	case errors.As(err, &te):
		f.Status, f.Code = http.StatusBadGateway, "upstream_error"
		switch {
		case kagi.IsBlocked(err):
			f.Code = "upstream_blocked"
		case kagi.IsRateLimited(err):
			f.Status = http.StatusTooManyRequests
		}
	}
	return f
}

// Body renders the failure as an OpenAI error response body.
func (f Failure) Body() openai.ErrorResponse {
	return ErrorBody(f.Message, f.Type, f.Code)
}

func ErrorBody(message, errType, code string) openai.ErrorResponse {
	return openai.ErrorResponse{Error: &openai.APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}}
}
