package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/railzwaylabs/storepay/internal/payment/domain"
)

const maxWebhookBodyBytes = 1 << 20

// ReceiveWebhook
// POST /payments/webhooks/:provider_code
func (s *Server) ReceiveWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		AbortWithError(c, paymentdomain.ErrInvalidPayload)
		return
	}

	res, err := s.webhooks.Ingest(c.Request.Context(), c.Param("provider_code"), body, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, res)
}
