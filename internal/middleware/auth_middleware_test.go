package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kidride-backend/internal/utils"
)

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWTAuth("secret"), RequireRole(utils.RoleParent), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": UserID(c), "role": Role(c)})
	})
	return r
}

func serve(r http.Handler, target, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	r := newAuthRouter()
	parent, err := utils.GenerateJWT("secret", "parent-1", utils.RoleParent, time.Hour)
	require.NoError(t, err)
	driver, err := utils.GenerateJWT("secret", "driver-1", utils.RoleDriver, time.Hour)
	require.NoError(t, err)
	admin, err := utils.GenerateJWT("secret", "", utils.RoleAdmin, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, serve(r, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/me", "Token "+parent).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/me", "Bearer garbage").Code)

	w := serve(r, "/me", "Bearer "+parent)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "parent-1")

	assert.Equal(t, http.StatusOK, serve(r, "/me?token="+parent, "").Code)
	assert.Equal(t, http.StatusForbidden, serve(r, "/me", "Bearer "+driver).Code)
	assert.Equal(t, http.StatusOK, serve(r, "/me", "Bearer "+admin).Code)
}
