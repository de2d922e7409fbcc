// Package handler holds the shared HTTP response and request-decoding helpers
// used by the api and webhook handlers.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/dukerupert/tuition/internal/domain"
	"github.com/dukerupert/tuition/internal/middleware"
)

// errorBody is the stable error envelope: {"error":{"kind":...,"message":...}}.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string            `json:"kind"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID, domain.ESIGNATURE:
		return http.StatusBadRequest // 400
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized // 401
	case domain.EFORBIDDEN:
		return http.StatusForbidden // 403
	case domain.ENOTFOUND:
		return http.StatusNotFound // 404
	case domain.ECONFLICT:
		return http.StatusConflict // 409
	case domain.ETOOLARGE:
		return http.StatusRequestEntityTooLarge // 413
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests // 429
	case domain.ENOTIMPL:
		return http.StatusNotImplemented // 501
	case domain.ERESOLUTION, domain.EATTACHMENT, domain.EFINALIZATION:
		return http.StatusBadGateway // 502
	case domain.EUNAVAILABLE:
		return http.StatusServiceUnavailable // 503
	case domain.EUNKNOWNACCOUNT, domain.EMISSINGCREDENTIAL, domain.EINTERNAL:
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// ErrorResponse logs err and writes the error envelope. Only the domain
// message reaches the client; wrapped causes stay in the log.
func ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	status := ErrorCodeToHTTPStatus(code)

	log := middleware.GetLogger(r.Context())
	event := log.Info()
	switch {
	case status >= 500 || domain.IsConfigurationError(err):
		event = log.Error()
	case code == domain.ESIGNATURE:
		event = log.Warn()
	}
	event.Err(err).
		Str("kind", code).
		Str("op", domain.ErrorOp(err)).
		Int("status", status).
		Msg("request failed")

	detail := errorDetail{Kind: code, Message: domain.ErrorMessage(err)}
	if fields := domain.GetValidationFields(err); fields != nil {
		detail.Message = "Request validation failed"
		detail.Fields = fields
	}
	JSON(w, status, errorBody{Error: detail})
}

// NotFoundResponse writes a 404.
func NotFoundResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Errorf(domain.ENOTFOUND, "", "The requested resource was not found"))
}

// UnauthorizedResponse writes a 401.
func UnauthorizedResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Errorf(domain.EUNAUTHORIZED, "", "Authentication required"))
}

// ForbiddenResponse writes a 403.
func ForbiddenResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Errorf(domain.EFORBIDDEN, "", "You don't have permission to access this resource"))
}

// InternalErrorResponse logs err and writes a generic 500.
func InternalErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	ErrorResponse(w, r, domain.Internal(err, "", "An unexpected error occurred"))
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
