package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/napsa-zm/erm-platform/internal/auth"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// login authenticates against the directory and issues an access token.
func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if s.deps.Directory == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "directory unavailable"})
		return
	}

	user, err := s.deps.Directory.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		s.deps.Logger.Warn("login failed", zap.String("username", req.Username))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	role := roleForDepartment(user.Department)
	token, err := s.deps.Auth.Issue(user.Username, role, user.Department)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"username":   user.Username,
		"role":       role,
		"department": user.Department,
	})
}

// refresh reissues a token for the already-authenticated caller.
func (s *Server) refresh(c *gin.Context) {
	claims := auth.FromContext(c)
	token, err := s.deps.Auth.Issue(claims.Username, claims.Role, claims.Department)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "role": claims.Role})
}

// roleForDepartment derives the starting role from the AD department.
// Compliance staff get officer rights, ICT gets admin, everyone else
// starts as analyst.
func roleForDepartment(department string) auth.Role {
	d := strings.ToLower(department)
	switch {
	case strings.Contains(d, "ict") || strings.Contains(d, "information technology"):
		return auth.RoleAdmin
	case strings.Contains(d, "compliance"):
		return auth.RoleOfficer
	default:
		return auth.RoleAnalyst
	}
}

// actor returns the authenticated username for audit fields.
func actor(c *gin.Context) string {
	if claims := auth.FromContext(c); claims != nil {
		return claims.Username
	}
	return "system"
}
