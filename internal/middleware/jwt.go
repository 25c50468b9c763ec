package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/atl-live/backend/internal/auth"
	"github.com/atl-live/backend/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for user role in gin context.
	ContextUserRole = "user_role"
	// ContextNickname is the key for the user's display name in gin context.
	ContextNickname = "user_nickname"
)

// JWT returns a middleware that validates the bearer token and sets user
// claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := claimsFromHeader(c, jwtService)
		if err != nil {
			response.Unauthorized(c, err.Error())
			c.Abort()
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, claims.Role)
		c.Set(ContextNickname, claims.Nickname)
		c.Next()
	}
}

// OptionalJWT sets user claims when a valid bearer token is present but lets
// anonymous requests through untouched. Participant-facing endpoints accept
// anonymous identities when the activity allows it.
func OptionalJWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := claimsFromHeader(c, jwtService)
		if err == nil {
			c.Set(ContextUserID, claims.UserID)
			c.Set(ContextUserRole, claims.Role)
			c.Set(ContextNickname, claims.Nickname)
		}
		c.Next()
	}
}

func claimsFromHeader(c *gin.Context, jwtService *auth.JWTService) (*auth.Claims, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return nil, errMissingHeader
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, errBadHeader
	}
	claims, err := jwtService.Validate(parts[1])
	if err != nil {
		return nil, errBadToken
	}
	return claims, nil
}

var (
	errMissingHeader = headerError("missing authorization header")
	errBadHeader     = headerError("invalid authorization header")
	errBadToken      = headerError("invalid or expired token")
)

type headerError string

func (e headerError) Error() string { return string(e) }
