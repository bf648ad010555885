package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"docuchat/internal/transport/http/response"
)

const (
	ContextOwnerIDKey       = "owner_id"
	ContextAuthenticatedKey = "authenticated"
	OwnerIDHeader           = "X-Owner-ID"
)

// Claims are issued by the identity provider in front of the service. The
// subject is the owner id.
type Claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

var errNoSubject = errors.New("token has no subject")

// Identity resolves the caller. A bearer token, when present, must verify
// against secret and names the owner. Without one the owner comes from the
// X-Owner-ID header and may be overridden by the request itself.
func Identity(secret, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			if owner := strings.TrimSpace(c.GetHeader(OwnerIDHeader)); owner != "" {
				c.Set(ContextOwnerIDKey, owner)
			}
			c.Next()
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid authorization scheme")
			c.Abort()
			return
		}
		if secret == "" {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "token authentication is not configured")
			c.Abort()
			return
		}

		claims, err := ParseToken(secret, issuer, strings.TrimSpace(strings.TrimPrefix(authHeader, prefix)))
		if err != nil {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextOwnerIDKey, claims.Subject)
		c.Set(ContextAuthenticatedKey, true)
		c.Next()
	}
}

func ParseToken(secret, issuer, token string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errNoSubject
	}
	return claims, nil
}

// OwnerID returns the caller's owner id. An authenticated owner always wins
// over requested; otherwise requested, then the header value, is used.
func OwnerID(c *gin.Context, requested string) string {
	if c.GetBool(ContextAuthenticatedKey) {
		return c.GetString(ContextOwnerIDKey)
	}
	if requested = strings.TrimSpace(requested); requested != "" {
		return requested
	}
	return c.GetString(ContextOwnerIDKey)
}
