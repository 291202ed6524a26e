package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	stripeadapter "github.com/smallbiznis/reconciler/internal/payment/adapters/stripe"
)

const maxWebhookBodyBytes = 1 << 20

// HandleStripeWebhook reads the raw body, since the signature is computed
// over the exact bytes the sender posted.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			AbortWithError(c, ErrPayloadTooLarge)
			return
		}
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.webhookSvc.Ingest(c.Request.Context(), payload, c.GetHeader(stripeadapter.SignatureHeader))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("event_type", result.EventType)
	body := gin.H{"received": true}
	if result.Duplicate {
		body["duplicate"] = true
	}
	c.JSON(http.StatusOK, body)
}
