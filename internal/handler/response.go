package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"bizdir/internal/service"
	"bizdir/internal/token"
	"bizdir/internal/util"

	"go.uber.org/zap"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Machine-readable error codes carried alongside HTTP status
const (
	CodeValidationFailed      = "VALIDATION_FAILED"
	CodeInvalidCredentials    = "INVALID_CREDENTIALS"
	CodeAccountLocked         = "ACCOUNT_LOCKED"
	CodeEmailNotVerified      = "EMAIL_NOT_VERIFIED"
	CodeEmailExists           = "EMAIL_EXISTS"
	CodeEmailTaken            = "EMAIL_TAKEN"
	CodeEmailRateLimited      = "EMAIL_RATE_LIMITED"
	CodeIPRateLimited         = "IP_RATE_LIMITED"
	CodeRegistrationFull      = "REGISTRATION_FULL"
	CodeInvalidOrExpiredToken = "INVALID_OR_EXPIRED_TOKEN"
	CodeNoPendingChange       = "NO_PENDING_CHANGE"
	CodeNoDeletionScheduled   = "NO_DELETION_SCHEDULED"
	CodeNotFound              = "NOT_FOUND"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeInternal              = "INTERNAL_ERROR"
)

// successResponse creates a successful response
func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// errorResponse creates an error response
func errorResponse(code string, err error, message string) Response {
	return Response{
		Success: false,
		Code:    code,
		Error:   err.Error(),
		Message: message,
	}
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, logger *zap.Logger, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError maps a service error to the envelope and status code.
// Rate-limit errors additionally carry a Retry-After header.
func respondWithError(w http.ResponseWriter, logger *zap.Logger, err error, message string) {
	statusCode, code := classifyError(err)

	var rle *service.RateLimitError
	if errors.As(err, &rle) {
		w.Header().Set("Retry-After", strconv.Itoa(rle.RetryAfter))
	}

	logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("code", code),
	)
	respondWithJSON(w, logger, statusCode, errorResponse(code, err, message))
}

// classifyError determines the HTTP status and machine code for an error
func classifyError(err error) (int, string) {
	var ve *service.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, CodeValidationFailed
	}

	var rle *service.RateLimitError
	if errors.As(err, &rle) {
		if rle.Scope == "ip" {
			return http.StatusTooManyRequests, CodeIPRateLimited
		}
		return http.StatusTooManyRequests, CodeEmailRateLimited
	}

	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, CodeInvalidCredentials
	case errors.Is(err, service.ErrAccountLocked):
		return http.StatusLocked, CodeAccountLocked
	case errors.Is(err, service.ErrEmailNotVerified):
		return http.StatusForbidden, CodeEmailNotVerified
	case errors.Is(err, service.ErrEmailAlreadyExists):
		return http.StatusConflict, CodeEmailExists
	case errors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict, CodeEmailTaken
	case errors.Is(err, service.ErrRegistrationFull):
		return http.StatusServiceUnavailable, CodeRegistrationFull
	case errors.Is(err, service.ErrInvalidOrExpiredToken):
		return http.StatusBadRequest, CodeInvalidOrExpiredToken
	case errors.Is(err, service.ErrNoPendingChange):
		return http.StatusBadRequest, CodeNoPendingChange
	case errors.Is(err, service.ErrNoDeletionScheduled):
		return http.StatusBadRequest, CodeNoDeletionScheduled
	case errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, token.ErrNoToken),
		errors.Is(err, token.ErrMalformedToken),
		errors.Is(err, token.ErrExpiredToken),
		errors.Is(err, token.ErrWrongTokenType),
		errors.Is(err, token.ErrNotYetValid):
		return http.StatusUnauthorized, CodeUnauthorized
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
