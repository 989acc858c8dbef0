package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/sosnairobi/aidlink-server/internal/auth"
)

const (
	// ContextKeySubjectID is the context key for the authenticated subject.
	ContextKeySubjectID = "subject_id"
	// ContextKeyRole is the context key for the authenticated role.
	ContextKeyRole = "role"
)

// AuthMiddleware validates JWT bearer tokens and requires the given role.
func AuthMiddleware(jwtConfig *auth.JWTConfig, requiredRole string, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.Debug().Msg("missing authorization header")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing authorization header"})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			logger.Debug().Msg("invalid authorization header format")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := auth.ValidateToken(jwtConfig, parts[1])
		if err != nil {
			logger.Debug().Err(err).Msg("invalid token")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			c.Abort()
			return
		}
		if claims.Role != requiredRole {
			logger.Debug().Str("role", claims.Role).Msg("wrong role for endpoint")
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "forbidden"})
			c.Abort()
			return
		}

		c.Set(ContextKeySubjectID, claims.SubjectID)
		c.Set(ContextKeyRole, claims.Role)

		c.Next()
	}
}

// LoggerMiddleware logs HTTP requests after completion.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
