package referral

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/forgetsubs/forgetsubs/internal/chains"
	"github.com/forgetsubs/forgetsubs/internal/logging"
	"github.com/forgetsubs/forgetsubs/internal/validation"
	"github.com/forgetsubs/forgetsubs/internal/verify"
)

// Handler provides the referral HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a new referral handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the referral routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/users", h.RegisterUser)
	r.POST("/referral-click", h.Click)
	r.POST("/claim-referral", h.Claim)
	r.GET("/leaderboard", h.Leaderboard)
	r.POST("/withdrawals", h.RequestWithdrawal)
	r.GET("/withdrawals/:address", h.ListWithdrawals)
}

type registerRequest struct {
	Address string `json:"address"`
}

// RegisterUser handles POST /api/users.
func (h *Handler) RegisterUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}
	if errs := validation.Validate(
		validation.Required("address", req.Address),
		validation.ValidAddress("address", req.Address),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": errs.Error(), "details": errs})
		return
	}

	user, err := h.service.Register(c.Request.Context(), req.Address)
	if err != nil {
		logging.L(c.Request.Context()).Error("user registration failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed", "message": "Could not register user"})
		return
	}
	c.JSON(http.StatusOK, user)
}

type clickRequest struct {
	Code string `json:"code"`
}

// Click handles POST /api/referral-click.
func (h *Handler) Click(c *gin.Context) {
	var req clickRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Missing code"})
		return
	}

	if err := h.service.Click(c.Request.Context(), req.Code); err != nil {
		if errors.Is(err, ErrInvalidCode) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_code", "message": "Invalid referral code"})
			return
		}
		logging.L(c.Request.Context()).Error("click tracking failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "click_failed", "message": "Server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type claimRequest struct {
	ReferrerCode string `json:"referrerCode"`
	TxHash       string `json:"txHash"`
	ChainID      int64  `json:"chainId"`
	PayerAddress string `json:"payerAddress"`
}

// Claim handles POST /api/claim-referral.
func (h *Handler) Claim(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}
	if errs := validation.Validate(
		validation.Required("referrerCode", req.ReferrerCode),
		validation.Required("txHash", req.TxHash),
		validation.ValidTxHash("txHash", req.TxHash),
		validation.Required("payerAddress", req.PayerAddress),
		validation.ValidAddress("payerAddress", req.PayerAddress),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": errs.Error(), "details": errs})
		return
	}

	err := h.service.Claim(c.Request.Context(), ClaimRequest{
		ReferrerCode: req.ReferrerCode,
		TxHash:       req.TxHash,
		ChainID:      req.ChainID,
		PayerAddress: req.PayerAddress,
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, ErrAlreadyClaimed):
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "Already claimed"})
	case errors.Is(err, ErrInvalidCode), errors.Is(err, ErrSelfReferral):
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "Invalid or self referral"})
	case errors.Is(err, chains.ErrUnsupportedChain):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_chain", "message": "Unsupported chain"})
	case errors.Is(err, verify.ErrNotConfirmed):
		c.JSON(http.StatusBadRequest, gin.H{"error": "transaction_not_confirmed", "message": "Transaction failed or not found"})
	case errors.Is(err, verify.ErrPaymentNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "payment_not_found", "message": "Payment not verified"})
	default:
		logging.L(c.Request.Context()).Error("referral claim failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "claim_failed", "message": "Server error"})
	}
}

// Leaderboard handles GET /api/leaderboard.
func (h *Handler) Leaderboard(c *gin.Context) {
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	users, err := h.service.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("leaderboard query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "leaderboard_failed", "message": "Server error"})
		return
	}
	if users == nil {
		users = []*User{}
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": users})
}

type withdrawalRequest struct {
	Address     string `json:"address"`
	Amount      string `json:"amount"`
	ChainID     int64  `json:"chainId"`
	Destination string `json:"destination"`
}

// RequestWithdrawal handles POST /api/withdrawals.
func (h *Handler) RequestWithdrawal(c *gin.Context) {
	var req withdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}
	if errs := validation.Validate(
		validation.Required("address", req.Address),
		validation.ValidAddress("address", req.Address),
		validation.Required("amount", req.Amount),
		validation.ValidAddress("destination", req.Destination),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": errs.Error(), "details": errs})
		return
	}

	w, err := h.service.RequestWithdrawal(c.Request.Context(), req.Address, req.Amount, req.ChainID, req.Destination)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, w)
	case errors.Is(err, ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found", "message": "Unknown user"})
	case errors.Is(err, ErrInsufficientEarnings):
		c.JSON(http.StatusBadRequest, gin.H{"error": "insufficient_earnings", "message": "Withdrawal exceeds earnings"})
	default:
		logging.L(c.Request.Context()).Error("withdrawal request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "withdrawal_failed", "message": "Server error"})
	}
}

// ListWithdrawals handles GET /api/withdrawals/:address.
func (h *Handler) ListWithdrawals(c *gin.Context) {
	list, err := h.service.Withdrawals(c.Request.Context(), c.Param("address"))
	if err != nil {
		logging.L(c.Request.Context()).Error("withdrawal list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "withdrawals_failed", "message": "Server error"})
		return
	}
	if list == nil {
		list = []*Withdrawal{}
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": list})
}
