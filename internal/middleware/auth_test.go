package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dietchat-service/internal/models"
)

var testKey = []byte("test-signing-key")

func TestVerifySignedToken(t *testing.T) {
	verifier := NewTokenVerifier(testKey)

	token, err := verifier.Sign(Identity{UserID: 42, Role: models.RoleDietitian}, time.Hour)
	require.NoError(t, err)

	identity, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, 42, identity.UserID)
	assert.Equal(t, models.RoleDietitian, identity.Role)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	verifier := NewTokenVerifier(testKey)

	token, err := verifier.Sign(Identity{UserID: 42, Role: models.RoleClient}, -time.Minute)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	require.Error(t, err)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	other := NewTokenVerifier([]byte("other-key"))
	token, err := other.Sign(Identity{UserID: 42, Role: models.RoleClient}, time.Hour)
	require.NoError(t, err)

	_, err = NewTokenVerifier(testKey).Verify(token)
	require.Error(t, err)
}

func TestVerifyRejectsUnknownRole(t *testing.T) {
	raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  float64(42),
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	token, err := raw.SignedString(testKey)
	require.NoError(t, err)

	_, err = NewTokenVerifier(testKey).Verify(token)
	require.Error(t, err)
}

func setupAuthRouter(verifier *TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(verifier))
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id": c.GetInt("userID"),
			"role":    string(RoleFromContext(c)),
		})
	})
	return r
}

func TestAuthMiddlewareSetsIdentity(t *testing.T) {
	verifier := NewTokenVerifier(testKey)
	router := setupAuthRouter(verifier)

	token, err := verifier.Sign(Identity{UserID: 7, Role: models.RoleClient}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"user_id":7`)
	assert.Contains(t, rec.Body.String(), `"role":"client"`)
}

func TestAuthMiddlewareMissingHeader(t *testing.T) {
	router := setupAuthRouter(NewTokenVerifier(testKey))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareMalformedHeader(t *testing.T) {
	router := setupAuthRouter(NewTokenVerifier(testKey))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Token abc")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareBadToken(t *testing.T) {
	router := setupAuthRouter(NewTokenVerifier(testKey))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
