package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jag18729/guard-quote-sub000/internal/realtime"
)

// ClientWS upgrades an anonymous quote-client connection
func (h *Handler) ClientWS(c *gin.Context) {
	h.hub.HandleClient(c)
}

// AdminWS verifies the caller's token and upgrades an admin
// connection carrying the authenticated identity. Tokens are issued
// by the auth subsystem; this service only verifies them.
func (h *Handler) AdminWS(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("token")
		if raw == "" {
			raw = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}

		identity, err := verifyAdminToken(raw, secret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
			return
		}

		h.hub.HandleAdmin(c, *identity)
	}
}

func verifyAdminToken(raw, secret string) (*realtime.AdminIdentity, error) {
	if raw == "" {
		return nil, fmt.Errorf("missing token")
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}

	identity := &realtime.AdminIdentity{}
	if id, ok := claims["user_id"].(float64); ok {
		identity.UserID = int(id)
	}
	if role, ok := claims["role"].(string); ok {
		identity.Role = role
	}
	if identity.Role == "" {
		return nil, fmt.Errorf("token carries no role")
	}
	return identity, nil
}
