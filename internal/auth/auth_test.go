package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "scanattend"
)

func TestIssueAndParse(t *testing.T) {
	tok, err := Issue("gate-1", "op-7", "teacher", testIssuer, testKey, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, 5*time.Second)

	claims, err := Parse(tok.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "gate-1", claims.Station)
	assert.Equal(t, "op-7", claims.Operator)
	assert.Equal(t, "teacher", claims.Role)
	assert.Equal(t, "gate-1", claims.Subject)

	_, err = Parse(tok.AccessToken, "other-key", testIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = Parse(tok.AccessToken, testKey, "someone-else")
	assert.ErrorIs(t, err, ErrIssuerMismatch)

	expired, err := Issue("gate-1", "op-7", "teacher", testIssuer, testKey, -time.Minute)
	require.NoError(t, err)
	_, err = Parse(expired.AccessToken, testKey, testIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(StationAuth(testKey, testIssuer))
	r.GET("/any", func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, claims.Operator)
	})
	r.GET("/admin", RequireRole("admin"), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func do(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStationAuth(t *testing.T) {
	r := newRouter()
	tok, err := Issue("gate-1", "op-7", "teacher", testIssuer, testKey, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, do(r, "/any", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/any", "garbage").Code)

	w := do(r, "/any", tok.AccessToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "op-7", w.Body.String())

	assert.Equal(t, http.StatusForbidden, do(r, "/admin", tok.AccessToken).Code)

	admin, err := Issue("office", "op-1", "admin", testIssuer, testKey, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, do(r, "/admin", admin.AccessToken).Code)
}
