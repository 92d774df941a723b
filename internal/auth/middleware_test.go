package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupRouter(t *testing.T, v *Verifier) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/whoami", Middleware(v, zap.NewNop()), func(c *gin.Context) {
		id, ok := CompanyID(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"company_id": id})
	})
	return router
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier("")
	assert.Error(t, err)
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	v, err := NewVerifier("test-secret")
	require.NoError(t, err)
	token, err := v.Sign(7, time.Hour)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	setupRouter(t, v).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"company_id":7}`, w.Body.String())
}

func TestMiddlewareRejects(t *testing.T) {
	v, _ := NewVerifier("test-secret")
	other, _ := NewVerifier("other-secret")

	expired, err := v.Sign(7, -time.Minute)
	require.NoError(t, err)
	foreign, err := other.Sign(7, time.Hour)
	require.NoError(t, err)
	noCompany, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"expired", "Bearer " + expired},
		{"wrong secret", "Bearer " + foreign},
		{"no company claim", "Bearer " + noCompany},
	}

	router := setupRouter(t, v)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestMiddlewareQueryTokenOnlyForWebsockets(t *testing.T) {
	v, _ := NewVerifier("test-secret")
	token, err := v.Sign(7, time.Hour)
	require.NoError(t, err)
	router := setupRouter(t, v)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami?access_token="+token, nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/whoami?access_token="+token, nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCompanyIDUnset(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, ok := CompanyID(c)
	assert.False(t, ok)
}
