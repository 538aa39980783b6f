package handler

import (
	"crypto-payment-gateway/internal/adapter/http/dto"
	"crypto-payment-gateway/internal/core/domain"
	"crypto-payment-gateway/internal/core/ports"
	"crypto-payment-gateway/pkg/response"

	"github.com/gin-gonic/gin"
)

// AdminHandler serves operator endpoints. Routes are guarded by an operator JWT.
type AdminHandler struct {
	merchantSvc  ports.MerchantService
	reportingSvc ports.ReportingService
	intents      *IntentHandler
}

func NewAdminHandler(merchantSvc ports.MerchantService, intentSvc ports.PaymentIntentService, reportingSvc ports.ReportingService) *AdminHandler {
	return &AdminHandler{
		merchantSvc:  merchantSvc,
		reportingSvc: reportingSvc,
		intents:      NewIntentHandler(intentSvc),
	}
}

// SetMerchantStatus returns a handler that moves the merchant in :id to status.
func (h *AdminHandler) SetMerchantStatus(status domain.MerchantStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathID(c)
		if err != nil {
			response.Error(c, err)
			return
		}

		merchant, err := h.merchantSvc.SetStatus(c.Request.Context(), id, status)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, dto.NewMerchantResponse(merchant))
	}
}

func (h *AdminHandler) VerifyEmail(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	if err := h.merchantSvc.MarkEmailVerified(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "email verified"})
}

// CancelIntent cancels any merchant's intent.
func (h *AdminHandler) CancelIntent(c *gin.Context) {
	h.intents.cancel(c, nil, "cancelled by operator")
}

// ListExhaustedDeliveries handles GET /api/v1/admin/deliveries/exhausted.
func (h *AdminHandler) ListExhaustedDeliveries(c *gin.Context) {
	page, pageSize := pageParams(c)
	deliveries, total, err := h.reportingSvc.ListExhaustedDeliveries(c.Request.Context(), page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paged(c, toDeliveryResponses(deliveries), total, page, pageSize)
}

func toDeliveryResponses(deliveries []domain.WebhookDelivery) []dto.DeliveryResponse {
	items := make([]dto.DeliveryResponse, len(deliveries))
	for i := range deliveries {
		items[i] = dto.NewDeliveryResponse(&deliveries[i])
	}
	return items
}
