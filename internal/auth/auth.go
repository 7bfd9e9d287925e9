// Package auth issues and verifies the platform's JWT access tokens and
// provides the gin middleware enforcing them.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/napsa-zm/erm-platform/internal/config"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient role")
)

// Role is a coarse permission level carried in the token.
type Role string

const (
	RoleViewer  Role = "viewer"
	RoleAnalyst Role = "analyst"
	RoleOfficer Role = "officer" // compliance officer: cases, SARs
	RoleAdmin   Role = "admin"
)

// roleRank orders roles for RequireRole; higher ranks include lower ones.
var roleRank = map[Role]int{
	RoleViewer:  1,
	RoleAnalyst: 2,
	RoleOfficer: 3,
	RoleAdmin:   4,
}

// Claims is the platform token payload.
type Claims struct {
	Username   string `json:"username"`
	Role       Role   `json:"role"`
	Department string `json:"department,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and verifies tokens.
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	skew   time.Duration
}

// NewManager builds a token manager from config.
func NewManager(cfg config.JWTConfig) *Manager {
	ttl := time.Duration(cfg.ExpirationHours) * time.Hour
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &Manager{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		skew:   cfg.ClockSkew,
	}
}

// Issue signs a token for the user.
func (m *Manager) Issue(username string, role Role, department string) (string, error) {
	if _, ok := roleRank[role]; !ok {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidToken, role)
	}
	now := time.Now()
	claims := Claims{
		Username:   username,
		Role:       role,
		Department: department,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token string.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.skew > 0 {
		opts = append(opts, jwt.WithLeeway(m.skew))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if _, known := roleRank[claims.Role]; !known {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return claims, nil
}

// contextKey is the gin context key holding the verified claims.
const contextKey = "auth.claims"

// Middleware authenticates Bearer tokens and stores the claims on the
// request context.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := m.Verify(strings.TrimPrefix(header, prefix))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(contextKey, claims)
		c.Next()
	}
}

// RequireRole rejects requests below the given role. Admin passes every
// check.
func RequireRole(min Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := FromContext(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		if roleRank[claims.Role] < roleRank[min] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}

// FromContext returns the verified claims, or nil outside the middleware.
func FromContext(c *gin.Context) *Claims {
	v, ok := c.Get(contextKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}
