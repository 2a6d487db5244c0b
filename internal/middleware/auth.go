package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"

	"dietchat-service/internal/models"
)

const (
	userIDClaim = "sub"
	roleClaim   = "role"
	expClaim    = "exp"
)

// Identity is the authenticated principal extracted from a bearer token.
type Identity struct {
	UserID int
	Role   models.Role
}

// TokenVerifier validates HS256 bearer tokens issued by the platform's auth
// service.
type TokenVerifier struct {
	signingKey []byte
}

// NewTokenVerifier constructs a TokenVerifier.
func NewTokenVerifier(signingKey []byte) *TokenVerifier {
	return &TokenVerifier{signingKey: signingKey}
}

// Verify parses and validates a token string and returns the identity it
// carries.
func (v *TokenVerifier) Verify(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("invalid token claims")
	}

	userID, ok := claims[userIDClaim].(float64)
	if !ok {
		return Identity{}, fmt.Errorf("invalid user id claim")
	}

	role, ok := claims[roleClaim].(string)
	if !ok || (models.Role(role) != models.RoleClient && models.Role(role) != models.RoleDietitian) {
		return Identity{}, fmt.Errorf("invalid role claim")
	}

	return Identity{UserID: int(userID), Role: models.Role(role)}, nil
}

// Sign mints a token for the identity, used by tests and local tooling.
func (v *TokenVerifier) Sign(identity Identity, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIDClaim: identity.UserID,
		roleClaim:   string(identity.Role),
		expClaim:    time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(v.signingKey)
}

// AuthMiddleware validates the Authorization header and stores the caller's
// identity on the request context.
func AuthMiddleware(verifier *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		identity, err := verifier.Verify(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("userID", identity.UserID)
		c.Set("userRole", string(identity.Role))
		c.Next()
	}
}

// RoleFromContext returns the caller's role stored by AuthMiddleware.
func RoleFromContext(c *gin.Context) models.Role {
	return models.Role(c.GetString("userRole"))
}
