package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context is the authenticated tenant + user identity attached to every
// request. The trust pipeline trusts it as-is and never re-derives identity.
type Context struct {
	TenantID string
	UserID   string
	Name     string
	Email    string
}

const contextKey = "auth.context"

// Middleware validates the bearer token and stores the resolved identity in
// the request context.
func Middleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "missing bearer token", "code": "unauthenticated"})
			return
		}

		raw := strings.TrimPrefix(header, "Bearer ")
		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid token", "code": "unauthenticated"})
			return
		}

		identity := Context{
			TenantID: stringClaim(claims, "tenant_id"),
			UserID:   stringClaim(claims, "sub"),
			Name:     stringClaim(claims, "name"),
			Email:    stringClaim(claims, "email"),
		}
		if identity.TenantID == "" || identity.UserID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "token missing identity claims", "code": "unauthenticated"})
			return
		}

		c.Set(contextKey, identity)
		c.Next()
	}
}

// FromContext returns the identity set by Middleware.
func FromContext(c *gin.Context) (Context, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return Context{}, false
	}
	identity, ok := v.(Context)
	return identity, ok
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
