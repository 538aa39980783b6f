package handler

import (
	"crypto-payment-gateway/internal/adapter/http/dto"
	"crypto-payment-gateway/internal/adapter/http/middleware"
	"crypto-payment-gateway/internal/core/ports"
	"crypto-payment-gateway/pkg/apperror"
	"crypto-payment-gateway/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuthHandler handles onboarding and dashboard login.
type AuthHandler struct {
	authSvc ports.AuthService
}

func NewAuthHandler(authSvc ports.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// Onboard handles POST /api/v1/merchants. The API key and signing secret
// appear in this response only.
func (h *AuthHandler) Onboard(c *gin.Context) {
	var req dto.OnboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	result, err := h.authSvc.Onboard(c.Request.Context(), ports.OnboardRequest{
		Email:         req.Email,
		Password:      req.Password,
		BusinessName:  req.BusinessName,
		WalletAddress: req.WalletAddress,
		WebhookURL:    req.WebhookURL,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxMerchantID, result.MerchantID)
	c.Set(middleware.CtxResourceID, result.MerchantID.String())
	response.Created(c, dto.OnboardResponse{
		MerchantID:    result.MerchantID.String(),
		Status:        string(result.Status),
		APIKey:        result.APIKey,
		SigningSecret: result.SigningSecret,
	})
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	token, expiry, err := h.authSvc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.LoginResponse{
		Token:  token,
		Expiry: expiry.Unix(),
	})
}
