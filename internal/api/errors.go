package api

import (
	"errors"
	"net/http"
)

// Machine-readable denial codes surfaced in error bodies.
const (
	CodeUnauthorized        = "unauthorized"
	CodePaymentRequired     = "payment_required"
	CodeQuotaExceeded       = "quota_exceeded"
	CodeRateLimited         = "rate_limited"
	CodeUpstreamUnavailable = "upstream_unavailable"
)

// AppError carries an HTTP status, a stable machine code, and a human
// message. The machine code is what SDK clients switch on.
type AppError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *AppError) Error() string {
	return e.Message
}

var (
	ErrBadRequest = &AppError{Status: http.StatusBadRequest, Code: "bad_request", Message: "bad request"}
	ErrNotFound   = &AppError{Status: http.StatusNotFound, Code: "not_found", Message: "not found"}

	ErrUnauthorized = &AppError{
		Status:  http.StatusUnauthorized,
		Code:    CodeUnauthorized,
		Message: "a valid API key is required",
	}
	ErrPaymentRequired = &AppError{
		Status:  http.StatusPaymentRequired,
		Code:    CodePaymentRequired,
		Message: "payment required: provide a valid API key or an X-PAYMENT header",
	}
	ErrQuotaExceeded = &AppError{
		Status:  http.StatusTooManyRequests,
		Code:    CodeQuotaExceeded,
		Message: "daily request quota exceeded for this API key",
	}
	ErrRateLimited = &AppError{
		Status:  http.StatusTooManyRequests,
		Code:    CodeRateLimited,
		Message: "too many requests",
	}
	ErrUpstreamUnavailable = &AppError{
		Status:  http.StatusServiceUnavailable,
		Code:    CodeUpstreamUnavailable,
		Message: "an upstream dependency is unavailable",
	}
	ErrInternalServer = &AppError{
		Status:  http.StatusInternalServerError,
		Code:    "internal_error",
		Message: "internal server error",
	}
)

func NewBadRequestError(msg string) *AppError {
	return &AppError{Status: http.StatusBadRequest, Code: "bad_request", Message: msg}
}

func HandleError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		JSONError(w, appErr)
		return
	}
	JSONError(w, ErrInternalServer)
}
