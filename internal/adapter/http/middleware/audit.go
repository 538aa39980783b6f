package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"crypto-payment-gateway/internal/core/domain"
	"crypto-payment-gateway/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CtxResourceID lets a handler name the resource it created for the audit entry.
const CtxResourceID = "audit_resource_id"

// AuditLog creates an audit middleware that logs successful write operations.
// Routes are matched on their registered template, not the raw path.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only audit successful write operations (status 2xx)
		if c.Writer.Status() < 200 || c.Writer.Status() >= 300 {
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}

		action, resourceType := mapRouteToAction(c.FullPath(), c.Request.Method)
		if action == "" {
			return
		}

		var merchantID *uuid.UUID
		if mid, exists := c.Get(CtxMerchantID); exists {
			if id, ok := mid.(uuid.UUID); ok {
				merchantID = &id
			}
		}

		resourceID := c.GetString(CtxResourceID)
		if resourceID == "" {
			resourceID = c.Param("id")
		}

		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"request_id": c.GetString(CtxRequestID),
		}
		if oid, exists := c.Get(CtxOperatorID); exists {
			fields["operator_id"] = fmt.Sprint(oid)
		}
		details, _ := json.Marshal(fields)

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			MerchantID:   merchantID,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   resourceID,
			IPAddress:    c.ClientIP(),
			Details:      string(details),
			CreatedAt:    time.Now().UTC(),
		})
	}
}

func mapRouteToAction(route, method string) (domain.AuditAction, string) {
	switch method {
	case http.MethodPost:
		switch route {
		case "/api/v1/merchants":
			return domain.AuditActionRegister, "merchant"
		case "/api/v1/auth/login":
			return domain.AuditActionLogin, "session"
		case "/api/v1/intents":
			return domain.AuditActionCreateIntent, "payment_intent"
		case "/api/v1/intents/:id/cancel", "/api/v1/admin/intents/:id/cancel":
			return domain.AuditActionCancelIntent, "payment_intent"
		case "/api/v1/merchants/me/rotate-api-key":
			return domain.AuditActionRotateAPIKey, "merchant"
		case "/api/v1/merchants/me/rotate-signing-secret":
			return domain.AuditActionRotateSigningSecret, "merchant"
		case "/api/v1/admin/merchants/:id/activate", "/api/v1/admin/merchants/:id/suspend",
			"/api/v1/admin/merchants/:id/close", "/api/v1/admin/merchants/:id/verify-email":
			return domain.AuditActionMerchantStatus, "merchant"
		}
	case http.MethodPut:
		switch route {
		case "/api/v1/merchants/me/wallet":
			return domain.AuditActionUpdateWallet, "merchant"
		case "/api/v1/merchants/me/webhook":
			return domain.AuditActionUpdateWebhook, "merchant"
		}
	}
	return "", ""
}
