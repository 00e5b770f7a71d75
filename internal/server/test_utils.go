package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

type testCleanupRequest struct {
	UserIDs []int64 `json:"user_ids"`
}

// TestCleanup removes all billing data for the given users. Gated off
// in production; test suites call it between scenarios.
func (s *Server) TestCleanup(c *gin.Context) {
	if s.cfg.Environment == "production" {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req testCleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(req.UserIDs) == 0 {
		AbortWithError(c, newValidationError("user_ids", "required", "user_ids is required"))
		return
	}

	if err := s.deleteUserBillingData(c.Request.Context(), req.UserIDs); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) deleteUserBillingData(ctx context.Context, userIDs []int64) error {
	queries := []string{
		`DELETE FROM consumption_events WHERE wallet_id IN (SELECT id FROM credit_wallets WHERE user_id IN ?)`,
		`DELETE FROM credit_transactions WHERE wallet_id IN (SELECT id FROM credit_wallets WHERE user_id IN ?)`,
		`DELETE FROM refund_requests WHERE user_id IN ?`,
		`DELETE FROM guarantee_windows WHERE order_id IN (SELECT id FROM orders WHERE user_id IN ?)`,
		`DELETE FROM order_renewals WHERE order_id IN (SELECT id FROM orders WHERE user_id IN ?)`,
		`DELETE FROM orders WHERE user_id IN ?`,
		`DELETE FROM notifications WHERE user_id IN ?`,
		`DELETE FROM audit_logs WHERE user_id IN ?`,
		`DELETE FROM credit_wallets WHERE user_id IN ?`,
	}

	for _, query := range queries {
		if err := s.db.WithContext(ctx).Exec(query, userIDs).Error; err != nil {
			return err
		}
	}
	return nil
}
