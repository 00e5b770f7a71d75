package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	catalogdomain "github.com/barva88/trauck/internal/catalog/domain"
	meteringdomain "github.com/barva88/trauck/internal/metering/domain"
	orderdomain "github.com/barva88/trauck/internal/order/domain"
	paymentdomain "github.com/barva88/trauck/internal/payment/domain"
	refunddomain "github.com/barva88/trauck/internal/refund/domain"
	walletdomain "github.com/barva88/trauck/internal/wallet/domain"
)

// APIError is the wire shape of every error response.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *APIError) Error() string { return e.Message }

var (
	ErrUnauthorized = &APIError{
		Status:  http.StatusUnauthorized,
		Code:    "unauthorized",
		Message: "unauthorized",
	}
	ErrNotFound = &APIError{
		Status:  http.StatusNotFound,
		Code:    "not_found",
		Message: "not found",
	}
	ErrTooManyRequests = &APIError{
		Status:  http.StatusTooManyRequests,
		Code:    "too_many_requests",
		Message: "too many requests",
	}
	ErrServiceUnavailable = &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "service_unavailable",
		Message: "service unavailable",
	}
)

func invalidRequestError() *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "invalid_request",
		Message: "invalid request",
	}
}

func newValidationError(field, code, message string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    code,
		Message: message,
		Field:   field,
	}
}

// domainStatus maps service-layer sentinel errors to HTTP statuses.
// Anything unmapped is a 500.
func domainStatus(err error) *APIError {
	switch {
	case errors.Is(err, orderdomain.ErrOrderNotFound),
		errors.Is(err, catalogdomain.ErrPlanNotFound),
		errors.Is(err, catalogdomain.ErrPackNotFound),
		errors.Is(err, walletdomain.ErrWalletNotFound):
		return &APIError{Status: http.StatusNotFound, Code: "not_found", Message: err.Error()}
	case errors.Is(err, walletdomain.ErrInsufficientCredits):
		return &APIError{Status: http.StatusPaymentRequired, Code: "insufficient_credits", Message: err.Error()}
	case errors.Is(err, refunddomain.ErrUnauthorizedRequester):
		return &APIError{Status: http.StatusForbidden, Code: "unauthorized_requester", Message: err.Error()}
	case errors.Is(err, refunddomain.ErrGuaranteeExpired),
		errors.Is(err, refunddomain.ErrRefundNotEligible),
		errors.Is(err, refunddomain.ErrAlreadyRefunded):
		return &APIError{Status: http.StatusConflict, Code: "refund_rejected", Message: err.Error()}
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return &APIError{Status: http.StatusUnauthorized, Code: "invalid_signature", Message: err.Error()}
	case errors.Is(err, paymentdomain.ErrProviderNotFound):
		return &APIError{Status: http.StatusNotFound, Code: "provider_not_found", Message: err.Error()}
	case errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent):
		return &APIError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: err.Error()}
	case errors.Is(err, walletdomain.ErrInvalidAmount),
		errors.Is(err, walletdomain.ErrInvalidUser),
		errors.Is(err, meteringdomain.ErrInvalidAmount),
		errors.Is(err, meteringdomain.ErrInvalidServiceCode),
		errors.Is(err, orderdomain.ErrInvalidCatalogRef):
		return &APIError{Status: http.StatusBadRequest, Code: "invalid_request", Message: err.Error()}
	default:
		return nil
	}
}

// AbortWithError renders an error response and stops the handler chain.
func AbortWithError(c *gin.Context, err error) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		apiErr = domainStatus(err)
	}
	if apiErr == nil {
		apiErr = &APIError{
			Status:  http.StatusInternalServerError,
			Code:    "internal_error",
			Message: "internal error",
		}
	}
	c.AbortWithStatusJSON(apiErr.Status, gin.H{"error": apiErr})
}
