// Package auth scopes requests to the company carried in a bearer token.
// Tokens are issued elsewhere; this package only verifies them.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const companyKey = "auth.company_id"

// Claims are the token claims the API relies on.
type Claims struct {
	CompanyID int64 `json:"company_id"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier. An empty secret is rejected.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is not set")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Parse validates tokenString and returns its claims.
func (v *Verifier) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims.CompanyID <= 0 {
		return nil, errors.New("token has no company_id claim")
	}
	return claims, nil
}

// Sign issues a token for companyID. Used by tooling and tests.
func (v *Verifier) Sign(companyID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		CompanyID: companyID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Middleware rejects requests without a valid bearer token and stores the
// company id on the context. Websocket handshakes may pass the token as the
// access_token query parameter.
func Middleware(v *Verifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		// browsers cannot set headers on websocket handshakes
		if !found && c.IsWebsocket() {
			tokenString, found = c.Query("access_token"), true
		}
		if !found || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := v.Parse(tokenString)
		if err != nil {
			logger.Debug("Rejected bearer token", zap.Error(err), zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		SetCompanyID(c, claims.CompanyID)
		c.Next()
	}
}

// SetCompanyID stores the tenant on the request context.
func SetCompanyID(c *gin.Context, companyID int64) {
	c.Set(companyKey, companyID)
}

// CompanyID returns the tenant stored by Middleware.
func CompanyID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(companyKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok && id > 0
}
