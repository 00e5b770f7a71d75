package events

// Billing event types published to the outbox.
const (
	EventOrderActivated  = "order_activated"
	EventOrderRenewed    = "order_renewed"
	EventOrderPastDue    = "order_past_due"
	EventPaymentReceived = "payment_received"
	EventRefundSettled   = "refund_settled"
	EventCreditsGranted  = "credits_granted"
	EventCreditsSpent    = "credits_spent"
)

// PaymentPayload captures the minimal data needed to fan out a
// reconciled payment event.
type PaymentPayload struct {
	Provider        string `json:"provider"`
	ProviderEventID string `json:"provider_event_id"`
	EventType       string `json:"event_type"`
	OrderID         string `json:"order_id,omitempty"`
	UserID          int64  `json:"user_id,omitempty"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p PaymentPayload) ToMap() map[string]any {
	payload := map[string]any{
		"provider":          p.Provider,
		"provider_event_id": p.ProviderEventID,
		"event_type":        p.EventType,
	}
	if p.OrderID != "" {
		payload["order_id"] = p.OrderID
	}
	if p.UserID != 0 {
		payload["user_id"] = p.UserID
	}
	return payload
}

// RefundPayload captures the minimal data needed to fan out a settled
// refund.
type RefundPayload struct {
	OrderID          string `json:"order_id"`
	UserID           int64  `json:"user_id"`
	AmountUSD        string `json:"amount_usd"`
	ProviderRefundID string `json:"provider_refund_id,omitempty"`
	Status           string `json:"status"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p RefundPayload) ToMap() map[string]any {
	payload := map[string]any{
		"order_id":   p.OrderID,
		"user_id":    p.UserID,
		"amount_usd": p.AmountUSD,
		"status":     p.Status,
	}
	if p.ProviderRefundID != "" {
		payload["provider_refund_id"] = p.ProviderRefundID
	}
	return payload
}
