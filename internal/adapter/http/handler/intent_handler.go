package handler

import (
	"strings"
	"time"

	"crypto-payment-gateway/internal/adapter/http/dto"
	"crypto-payment-gateway/internal/adapter/http/middleware"
	"crypto-payment-gateway/internal/core/domain"
	"crypto-payment-gateway/internal/core/ports"
	"crypto-payment-gateway/pkg/apperror"
	"crypto-payment-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	maxIdempotencyKeyLen = 128
)

// IntentHandler serves the merchant-facing payment intent API.
type IntentHandler struct {
	intentSvc ports.PaymentIntentService
}

func NewIntentHandler(intentSvc ports.PaymentIntentService) *IntentHandler {
	return &IntentHandler{intentSvc: intentSvc}
}

// Create handles POST /api/v1/intents.
func (h *IntentHandler) Create(c *gin.Context) {
	mid, ok := merchantID(c)
	if !ok {
		response.Error(c, apperror.ErrUnauthorized())
		return
	}

	var req dto.CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		response.Error(c, apperror.ErrInvalidAmount())
		return
	}

	idempKey := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
	if len(idempKey) > maxIdempotencyKeyLen {
		response.Error(c, apperror.Validation("Idempotency-Key is too long"))
		return
	}

	var ttl *time.Duration
	if req.TTLSeconds != nil {
		d := time.Duration(*req.TTLSeconds) * time.Second
		ttl = &d
	}

	intent, err := h.intentSvc.CreateIntent(c.Request.Context(), ports.CreateIntentRequest{
		MerchantID:     mid,
		Amount:         amount,
		Currency:       req.Currency,
		TTL:            ttl,
		IdempotencyKey: idempKey,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxResourceID, intent.ID.String())
	response.Created(c, dto.NewIntentResponse(intent))
}

// Get handles GET /api/v1/intents/:id.
func (h *IntentHandler) Get(c *gin.Context) {
	mid, ok := merchantID(c)
	if !ok {
		response.Error(c, apperror.ErrUnauthorized())
		return
	}
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	intent, err := h.intentSvc.GetIntent(c.Request.Context(), mid, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewIntentResponse(intent))
}

// List handles GET /api/v1/intents?status=&page=&page_size=.
func (h *IntentHandler) List(c *gin.Context) {
	mid, ok := merchantID(c)
	if !ok {
		response.Error(c, apperror.ErrUnauthorized())
		return
	}

	page, pageSize := pageParams(c)
	params := domain.IntentListParams{
		MerchantID: mid,
		Page:       page,
		PageSize:   pageSize,
	}
	if s := c.Query("status"); s != "" {
		status := domain.IntentStatus(strings.ToUpper(s))
		params.Status = &status
	}

	intents, total, err := h.intentSvc.ListIntents(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.IntentResponse, len(intents))
	for i := range intents {
		items[i] = dto.NewIntentResponse(&intents[i])
	}
	response.Paged(c, items, total, page, pageSize)
}

// Cancel handles POST /api/v1/intents/:id/cancel.
func (h *IntentHandler) Cancel(c *gin.Context) {
	mid, ok := merchantID(c)
	if !ok {
		response.Error(c, apperror.ErrUnauthorized())
		return
	}
	h.cancel(c, &mid, "cancelled by merchant")
}

// cancel moves the intent to FAILED. A nil owner skips the ownership check.
func (h *IntentHandler) cancel(c *gin.Context, owner *uuid.UUID, defaultReason string) {
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req dto.CancelIntentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
		dto.SanitizeStruct(&req)
	}
	reason := req.Reason
	if reason == "" {
		reason = defaultReason
	}

	intent, err := h.intentSvc.Cancel(c.Request.Context(), id, owner, reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewIntentResponse(intent))
}
