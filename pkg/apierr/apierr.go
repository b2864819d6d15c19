// Package apierr provides the structured API error envelope and HTTP status
// mapping the routing engine's front door writes for a failed
// POST /v1/summarize, compatible with the OpenAI error format the rest of
// the retrieval pack's HTTP surfaces use.
package apierr

import (
	"encoding/json"
	"errors"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/summary-router/pkg/routererr"
)

// ErrorType constants.
const (
	TypeInvalidRequest    = "invalid_request_error"
	TypeAuthenticationErr = "authentication_error"
	TypeRateLimitError    = "rate_limit_error"
	TypeProviderError     = "provider_error"
	TypeServerError       = "server_error"
)

// Code constants.
const (
	CodeInvalidRequest  = "invalid_request"
	CodeInvalidAPIKey   = "invalid_api_key"
	CodeBudgetExceeded  = "budget_exceeded"
	CodeNoCandidates    = "no_candidates"
	CodeRequestTimeout  = "request_timeout"
	CodeInternalError   = "internal_error"
)

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the error as JSON to the fasthttp response with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// WriteRouterError maps an error returned by Router.Generate onto the
// front door's HTTP envelope. Unrecognised errors fall back to a generic
// 500 server_error.
func WriteRouterError(ctx *fasthttp.RequestCtx, err error) {
	var nc *routererr.NoCandidatesError
	if errors.As(err, &nc) {
		WriteNoCandidates(ctx, nc)
		return
	}

	var rerr *routererr.Error
	if errors.As(err, &rerr) {
		status, errType, code := classify(rerr.Kind)
		Write(ctx, status, rerr.Error(), errType, code)
		return
	}

	Write(ctx, fasthttp.StatusInternalServerError, err.Error(), TypeServerError, CodeInternalError)
}

// WriteNoCandidates writes the aggregate failure a routererr.NoCandidatesError
// carries — spec.md §7's "every candidate failed or was ineligible" case.
// The HTTP status follows the most specific cause: an auth failure among
// the causes maps to 401, otherwise 502.
func WriteNoCandidates(ctx *fasthttp.RequestCtx, nc *routererr.NoCandidatesError) {
	status := fasthttp.StatusBadGateway
	errType := TypeProviderError
	code := CodeNoCandidates

	for _, cause := range nc.Causes {
		var rerr *routererr.Error
		if errors.As(cause, &rerr) && rerr.Kind == routererr.KindAuthFailed {
			status = fasthttp.StatusUnauthorized
			errType = TypeAuthenticationErr
			code = CodeInvalidAPIKey
			break
		}
	}

	Write(ctx, status, nc.Error(), errType, code)
}

// classify maps a routererr.Kind onto an HTTP status, error type, and code.
func classify(kind routererr.Kind) (status int, errType, code string) {
	switch kind {
	case routererr.KindEmptyText:
		return fasthttp.StatusBadRequest, TypeInvalidRequest, CodeInvalidRequest
	case routererr.KindMissingKey, routererr.KindAuthFailed:
		return fasthttp.StatusUnauthorized, TypeAuthenticationErr, CodeInvalidAPIKey
	case routererr.KindBudgetExceeded:
		return fasthttp.StatusTooManyRequests, TypeRateLimitError, CodeBudgetExceeded
	case routererr.KindTimeout:
		return fasthttp.StatusGatewayTimeout, TypeProviderError, CodeRequestTimeout
	case routererr.KindCircuitOpen, routererr.KindAdapterTransient:
		return fasthttp.StatusBadGateway, TypeProviderError, CodeNoCandidates
	case routererr.KindNoCandidates, routererr.KindPaidDisabled:
		return fasthttp.StatusServiceUnavailable, TypeProviderError, CodeNoCandidates
	default:
		return fasthttp.StatusInternalServerError, TypeServerError, CodeInternalError
	}
}
