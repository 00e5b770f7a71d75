package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	catalogdomain "github.com/barva88/trauck/internal/catalog/domain"
	"github.com/barva88/trauck/internal/gateway"
	meteringdomain "github.com/barva88/trauck/internal/metering/domain"
	orderdomain "github.com/barva88/trauck/internal/order/domain"
)

// ListPlans returns the purchasable catalog with plan benefits.
func (s *Server) ListPlans(c *gin.Context) {
	plans, err := s.catalogSvc.ActivePlans(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	type planResponse struct {
		ID                string   `json:"id"`
		Name              string   `json:"name"`
		Slug              string   `json:"slug"`
		PriceUSD          string   `json:"price_usd"`
		CreditsOnPurchase int64    `json:"credits_on_purchase"`
		RenewalInterval   string   `json:"renewal_interval"`
		Description       string   `json:"description"`
		Benefits          []string `json:"benefits"`
	}

	resp := make([]planResponse, 0, len(plans))
	for _, plan := range plans {
		benefits, err := s.catalogSvc.PlanBenefits(c.Request.Context(), plan.ID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		labels := make([]string, 0, len(benefits))
		for _, benefit := range benefits {
			labels = append(labels, benefit.Label)
		}
		resp = append(resp, planResponse{
			ID:                plan.ID.String(),
			Name:              plan.Name,
			Slug:              plan.Slug,
			PriceUSD:          plan.PriceUSD.StringFixed(2),
			CreditsOnPurchase: plan.CreditsOnPurchase,
			RenewalInterval:   string(plan.RenewalInterval),
			Description:       plan.Description,
			Benefits:          labels,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetWallet(c *gin.Context) {
	wallet, err := s.walletSvc.GetOrCreate(c.Request.Context(), s.currentUser(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"id":      wallet.ID.String(),
		"balance": wallet.Balance,
	}})
}

func (s *Server) ListTransactions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	records, err := s.walletSvc.Transactions(c.Request.Context(), s.currentUser(c), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	type transactionResponse struct {
		ID           string `json:"id"`
		Type         string `json:"type"`
		SignedAmount int64  `json:"signed_amount"`
		Reason       string `json:"reason"`
		CreatedAt    string `json:"created_at"`
	}
	resp := make([]transactionResponse, 0, len(records))
	for _, record := range records {
		resp = append(resp, transactionResponse{
			ID:           record.ID.String(),
			Type:         string(record.Type),
			SignedAmount: record.SignedAmount,
			Reason:       record.Reason,
			CreatedAt:    record.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type createCheckoutRequest struct {
	PlanID string `json:"plan_id"`
	PackID string `json:"pack_id"`
}

// CreateCheckout opens a hosted checkout session and records the
// pending order keyed on the session id. The order only becomes PAID
// when the provider's webhook confirms payment.
func (s *Server) CreateCheckout(c *gin.Context) {
	if s.gateway == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	var req createCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if (req.PlanID == "") == (req.PackID == "") {
		AbortWithError(c, newValidationError("plan_id", "invalid_catalog_ref", "exactly one of plan_id or pack_id is required"))
		return
	}

	ctx := c.Request.Context()
	userID := s.currentUser(c)

	var ref orderdomain.CatalogRef
	var priceID string
	mode := gateway.ModePayment

	if req.PlanID != "" {
		planID, err := snowflake.ParseString(strings.TrimSpace(req.PlanID))
		if err != nil {
			AbortWithError(c, newValidationError("plan_id", "invalid_plan_id", "invalid plan_id"))
			return
		}
		plan, err := s.catalogSvc.GetPlan(ctx, planID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if plan.ProviderPriceID == nil || *plan.ProviderPriceID == "" {
			AbortWithError(c, newValidationError("plan_id", "plan_not_purchasable", "plan has no provider price"))
			return
		}
		ref.PlanID = &plan.ID
		priceID = *plan.ProviderPriceID
		if plan.RenewalInterval == catalogdomain.IntervalMonthly {
			mode = gateway.ModeSubscription
		}
	} else {
		packID, err := snowflake.ParseString(strings.TrimSpace(req.PackID))
		if err != nil {
			AbortWithError(c, newValidationError("pack_id", "invalid_pack_id", "invalid pack_id"))
			return
		}
		pack, err := s.catalogSvc.GetPack(ctx, packID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if pack.ProviderPriceID == nil || *pack.ProviderPriceID == "" {
			AbortWithError(c, newValidationError("pack_id", "pack_not_purchasable", "pack has no provider price"))
			return
		}
		ref.PackID = &pack.ID
		priceID = *pack.ProviderPriceID
	}

	customerID, err := s.ensureProviderCustomer(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	session, err := s.gateway.CreateCheckout(ctx, gateway.CheckoutParams{
		CustomerID:        customerID,
		PriceID:           priceID,
		Mode:              mode,
		SuccessURL:        s.cfg.CheckoutSuccessURL,
		CancelURL:         s.cfg.CheckoutCancelURL,
		ClientReferenceID: strconv.FormatInt(userID, 10),
		Metadata:          map[string]string{"user_id": strconv.FormatInt(userID, 10)},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	order, err := s.orderSvc.CreatePending(ctx, userID, ref, session.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := order.ID.String()
		_ = s.auditSvc.AuditLog(ctx, &userID, "checkout.created", "order", &targetID, map[string]any{
			"checkout_session_id": session.ID,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"order_id":     order.ID.String(),
		"checkout_url": session.URL,
	}})
}

// CreatePortal opens the provider's self-service billing portal.
func (s *Server) CreatePortal(c *gin.Context) {
	if s.gateway == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	customerID, err := s.ensureProviderCustomer(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	session, err := s.gateway.CreatePortal(c.Request.Context(), customerID, s.cfg.PortalReturnURL)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"portal_url": session.URL}})
}

// ensureProviderCustomer returns the user's provider customer id,
// creating the provider-side record on first use.
func (s *Server) ensureProviderCustomer(c *gin.Context) (string, error) {
	ctx := c.Request.Context()
	userID := s.currentUser(c)

	wallet, err := s.walletSvc.GetOrCreate(ctx, userID)
	if err != nil {
		return "", err
	}
	if wallet.ProviderCustomerID != nil && *wallet.ProviderCustomerID != "" {
		return *wallet.ProviderCustomerID, nil
	}

	customer, err := s.gateway.CreateCustomer(ctx, "", map[string]string{
		"user_id": strconv.FormatInt(userID, 10),
	})
	if err != nil {
		return "", err
	}
	if err := s.walletSvc.SetProviderCustomer(ctx, userID, customer.ID); err != nil {
		return "", err
	}
	return customer.ID, nil
}

type consumeRequest struct {
	ServiceType string `json:"service_type"`
	Amount      int64  `json:"amount"`
	Source      string `json:"source"`
}

func (s *Server) Consume(c *gin.Context) {
	var req consumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.ServiceType) == "" {
		AbortWithError(c, newValidationError("service_type", "required", "service_type is required"))
		return
	}

	balance, err := s.meteringSvc.DebitForService(c.Request.Context(), meteringdomain.DebitRequest{
		UserID:      s.currentUser(c),
		ServiceCode: req.ServiceType,
		Amount:      req.Amount,
		Source:      strings.TrimSpace(req.Source),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"balance": balance}})
}

func (s *Server) GetOrder(c *gin.Context) {
	orderID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_order_id", "invalid order id"))
		return
	}

	ctx := c.Request.Context()
	order, err := s.orderSvc.Get(ctx, orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if order.UserID != s.currentUser(c) {
		AbortWithError(c, ErrNotFound)
		return
	}

	resp := gin.H{
		"id":              order.ID.String(),
		"status":          string(order.Status),
		"credits_granted": order.CreditsGranted,
		"amount_usd":      order.AmountUSD.StringFixed(2),
		"created_at":      order.CreatedAt,
	}
	if window, err := s.orderSvc.Window(ctx, orderID); err == nil {
		resp["guarantee"] = gin.H{
			"status":    string(window.Status),
			"ends_at":   window.EndsAt,
			"starts_at": window.StartsAt,
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type refundRequestBody struct {
	Reason string `json:"reason"`
}

func (s *Server) RequestRefund(c *gin.Context) {
	orderID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_order_id", "invalid order id"))
		return
	}

	var req refundRequestBody
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	request, err := s.refundSvc.Request(c.Request.Context(), s.currentUser(c), orderID, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"id":         request.ID.String(),
		"order_id":   request.OrderID.String(),
		"amount_usd": request.RefundAmountUSD.StringFixed(2),
		"status":     string(request.Status),
	}})
}
