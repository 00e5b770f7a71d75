package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	paymentdomain "github.com/barva88/trauck/internal/payment/domain"
)

const maxWebhookBody = 1 << 20

// HandleWebhook receives provider webhook deliveries. Replays of an
// already-processed event return 200 so the provider stops retrying;
// signature failures return 401 before any state is touched.
func (s *Server) HandleWebhook(c *gin.Context) {
	provider := c.Param("provider")

	if !s.webhookLimiter.Allow(provider + ":" + c.ClientIP()) {
		AbortWithError(c, ErrTooManyRequests)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err = s.paymentSvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
			c.JSON(http.StatusOK, gin.H{"status": "already_processed"})
			return
		}
		s.log.Warn("webhook rejected",
			zap.String("provider", provider),
			zap.Error(err),
		)
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
