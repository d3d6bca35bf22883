package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/railzwaylabs/storepay/internal/ledger/domain"
	orderdomain "github.com/railzwaylabs/storepay/internal/order/domain"
	paymentdomain "github.com/railzwaylabs/storepay/internal/payment/domain"
	providerdomain "github.com/railzwaylabs/storepay/internal/providers/payment/domain"
	settlementdomain "github.com/railzwaylabs/storepay/internal/settlement/domain"
	"github.com/railzwaylabs/storepay/internal/settlement/fee"
)

// APIError is an error with a fixed HTTP status and machine-readable code.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string { return e.Code }

var (
	ErrInvalidRequest = &APIError{Status: http.StatusBadRequest, Code: "invalid_request", Message: "invalid request"}
	ErrUnauthorized   = &APIError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "missing or invalid admin token"}
	ErrNotFound       = &APIError{Status: http.StatusNotFound, Code: "not_found", Message: "resource not found"}
	ErrInternal       = &APIError{Status: http.StatusInternalServerError, Code: "internal_error", Message: "internal server error"}
)

func invalidRequestError(msg ...string) *APIError {
	if len(msg) == 0 {
		return ErrInvalidRequest
	}
	return &APIError{Status: http.StatusBadRequest, Code: ErrInvalidRequest.Code, Message: msg[0]}
}

type errorMapping struct {
	target error
	status int
}

var errorMappings = []errorMapping{
	{paymentdomain.ErrInvalidProvider, http.StatusBadRequest},
	{paymentdomain.ErrUnknownProvider, http.StatusBadRequest},
	{paymentdomain.ErrProviderNotEnabled, http.StatusBadRequest},
	{paymentdomain.ErrInvalidSignature, http.StatusBadRequest},
	{paymentdomain.ErrInvalidPayload, http.StatusBadRequest},
	{paymentdomain.ErrInvalidEvent, http.StatusBadRequest},
	{paymentdomain.ErrInvalidConfig, http.StatusBadRequest},
	{paymentdomain.ErrInvalidAmount, http.StatusBadRequest},
	{paymentdomain.ErrInvalidOrder, http.StatusBadRequest},
	{paymentdomain.ErrPaymentInProgress, http.StatusBadRequest},
	{paymentdomain.ErrOrderAlreadyPaid, http.StatusBadRequest},
	{paymentdomain.ErrRefundExceedsAmount, http.StatusBadRequest},
	{paymentdomain.ErrInvalidRefundStatus, http.StatusBadRequest},
	{paymentdomain.ErrIntentNotFound, http.StatusNotFound},
	{paymentdomain.ErrRefundNotFound, http.StatusNotFound},
	{paymentdomain.ErrAlreadyTerminal, http.StatusConflict},
	{paymentdomain.ErrInvalidTransition, http.StatusConflict},
	{paymentdomain.ErrRefundNotAllowed, http.StatusConflict},
	{paymentdomain.ErrRefundNotPending, http.StatusConflict},
	{paymentdomain.ErrIdempotencyConflict, http.StatusConflict},
	{paymentdomain.ErrProviderNetwork, http.StatusBadGateway},

	{orderdomain.ErrOrderNotFound, http.StatusNotFound},

	{providerdomain.ErrInvalidProvider, http.StatusBadRequest},
	{providerdomain.ErrInvalidConfig, http.StatusBadRequest},
	{providerdomain.ErrInvalidTenant, http.StatusBadRequest},
	{providerdomain.ErrConfigNotFound, http.StatusNotFound},
	{providerdomain.ErrEncryptionKeyMissing, http.StatusServiceUnavailable},

	{settlementdomain.ErrInvalidPeriod, http.StatusBadRequest},
	{settlementdomain.ErrInvalidStore, http.StatusBadRequest},
	{settlementdomain.ErrSettlementNotFound, http.StatusNotFound},
	{settlementdomain.ErrInvalidTransition, http.StatusConflict},
	{settlementdomain.ErrNoEligibleOrders, http.StatusUnprocessableEntity},
	{settlementdomain.ErrMixedCurrency, http.StatusUnprocessableEntity},
	{fee.ErrInvalidMode, http.StatusBadRequest},
	{fee.ErrInvalidPolicy, http.StatusBadRequest},

	{ledgerdomain.ErrInvalidStore, http.StatusBadRequest},
	{ledgerdomain.ErrInvalidAmount, http.StatusBadRequest},
	{ledgerdomain.ErrAccountNotFound, http.StatusNotFound},
}

// resolveError maps err onto a status and the sentinel that names it. Unknown
// errors become a 500 whose message never leaks the cause.
func resolveError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return &APIError{Status: m.status, Code: m.target.Error(), Message: err.Error()}
		}
	}
	return ErrInternal
}

// AbortWithError writes the error envelope and stops the handler chain.
func AbortWithError(c *gin.Context, err error) {
	apiErr := resolveError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(apiErr.Status, gin.H{
		"success": false,
		"errors": []gin.H{{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		}},
	})
}
