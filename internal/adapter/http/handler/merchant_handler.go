package handler

import (
	"crypto-payment-gateway/internal/adapter/http/dto"
	"crypto-payment-gateway/internal/core/ports"
	"crypto-payment-gateway/pkg/apperror"
	"crypto-payment-gateway/pkg/response"

	"github.com/gin-gonic/gin"
)

// MerchantHandler handles merchant self-service endpoints.
type MerchantHandler struct {
	merchantSvc  ports.MerchantService
	reportingSvc ports.ReportingService
}

func NewMerchantHandler(merchantSvc ports.MerchantService, reportingSvc ports.ReportingService) *MerchantHandler {
	return &MerchantHandler{merchantSvc: merchantSvc, reportingSvc: reportingSvc}
}

// GetProfile returns the authenticated merchant's profile.
func (h *MerchantHandler) GetProfile(c *gin.Context) {
	mid, ok := merchantID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	profile, err := h.merchantSvc.GetProfile(c.Request.Context(), mid)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewMerchantResponse(profile))
}

// UpdateWallet stores a new destination wallet in checksummed form.
func (h *MerchantHandler) UpdateWallet(c *gin.Context) {
	mid, ok := merchantID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.UpdateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrInvalidAddress())
		return
	}

	profile, err := h.merchantSvc.UpdateWallet(c.Request.Context(), mid, req.WalletAddress)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewMerchantResponse(profile))
}

// UpdateWebhookURL updates the merchant's webhook URL.
func (h *MerchantHandler) UpdateWebhookURL(c *gin.Context) {
	mid, ok := merchantID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.UpdateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	if err := h.merchantSvc.UpdateWebhookURL(c.Request.Context(), mid, req.WebhookURL); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "webhook URL updated"})
}

// RotateAPIKey issues a new API key; the old one stops working immediately.
func (h *MerchantHandler) RotateAPIKey(c *gin.Context) {
	mid, ok := merchantID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	apiKey, err := h.merchantSvc.RotateAPIKey(c.Request.Context(), mid)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.RotateAPIKeyResponse{APIKey: apiKey})
}

// RotateSigningSecret adds a new signing secret version. Queued deliveries
// keep the version they were enqueued with.
func (h *MerchantHandler) RotateSigningSecret(c *gin.Context) {
	mid, ok := merchantID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	rotated, err := h.merchantSvc.RotateSigningSecret(c.Request.Context(), mid)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.RotateSigningSecretResponse{
		Version:       rotated.Version,
		SigningSecret: rotated.Secret,
	})
}

func (h *MerchantHandler) ListSigningSecrets(c *gin.Context) {
	mid, ok := merchantID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	secrets, err := h.merchantSvc.ListSigningSecrets(c.Request.Context(), mid)
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]dto.SigningSecretResponse, len(secrets))
	for i := range secrets {
		items[i] = dto.NewSigningSecretResponse(&secrets[i])
	}
	response.OK(c, items)
}

// ListDeliveries handles GET /api/v1/merchants/me/deliveries.
func (h *MerchantHandler) ListDeliveries(c *gin.Context) {
	mid, ok := merchantID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	page, pageSize := pageParams(c)
	deliveries, total, err := h.reportingSvc.ListDeliveries(c.Request.Context(), mid, page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paged(c, toDeliveryResponses(deliveries), total, page, pageSize)
}

// GetStats handles GET /api/v1/merchants/me/stats?period=day|week|month|all.
func (h *MerchantHandler) GetStats(c *gin.Context) {
	mid, ok := merchantID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	stats, err := h.reportingSvc.GetIntentStats(c.Request.Context(), mid, c.DefaultQuery("period", "all"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}
