package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joshua-takyi/gatherly/internal/helpers"
	"github.com/joshua-takyi/gatherly/internal/models"
	"github.com/joshua-takyi/gatherly/internal/services"
)

// RequestID middleware adds a unique request ID to each request
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// SessionID assigns a stable anonymous session cookie used for view
// deduplication. Authenticated and anonymous viewers both get one.
func SessionID() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := c.Cookie("session_id")
		if err != nil || sessionID == "" {
			sessionID = uuid.New().String()
			c.SetCookie("session_id", sessionID, 3600*24*30, "/", "", false, true)
		}
		c.Set("session_id", sessionID)
		c.Next()
	}
}

// StructuredLogger provides structured logging middleware
func StructuredLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		clientIP := c.ClientIP()
		method := c.Request.Method
		statusCode := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		requestID, _ := c.Get("request_id")

		logger.Info("HTTP Request",
			"request_id", requestID,
			"method", method,
			"path", path,
			"status", statusCode,
			"latency", latency,
			"client_ip", clientIP,
		)
	}
}

// ErrorHandler provides centralized error handling
func ErrorHandler(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last()
			requestID, _ := c.Get("request_id")

			logger.Error("Request error",
				"request_id", requestID,
				"error", err.Error(),
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
			)

			if !c.Writer.Written() {
				c.JSON(http.StatusInternalServerError, models.ErrorResponse("Internal server error"))
			}
		}
	}
}

func tokenFromRequest(c *gin.Context) string {
	if token, err := c.Cookie("access_token"); err == nil && token != "" {
		return token
	}
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func resolveClaims(c *gin.Context, userService *services.UserService, logger *slog.Logger) (*helpers.EnhancedClaims, bool) {
	token := tokenFromRequest(c)
	if token == "" {
		return nil, false
	}

	claims, err := helpers.ValidateToken(token)
	if err != nil {
		logger.Debug("token validation failed", "error", err)
		return nil, false
	}

	enhanced := &helpers.EnhancedClaims{
		CustomClaims: claims,
		UserID:       claims.Subject,
		Email:        claims.Email,
		Username:     claims.Username,
	}

	// Enrich with profile data when available; a missing profile still
	// yields a valid identity (the token is the source of truth).
	if user, err := userService.GetUser(c.Request.Context(), claims.Subject); err == nil {
		enhanced.Username = user.Username
		enhanced.AvatarURL = user.AvatarURL
		enhanced.CreatedAt = user.CreatedAt.Format(time.RFC3339)
	}

	return enhanced, true
}

// AuthMiddleware requires a valid identity on the request; requests
// without one are rejected with 401.
func AuthMiddleware(userService *services.UserService, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := resolveClaims(c, userService, logger)
		if !ok {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse("authentication required"))
			c.Abort()
			return
		}
		c.Set("user", claims)
		c.Next()
	}
}

// OptionalAuth attaches an identity when one is present but lets
// anonymous requests through. Used on public reads that personalize
// their side effects (view tracking).
func OptionalAuth(userService *services.UserService, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, ok := resolveClaims(c, userService, logger); ok {
			c.Set("user", claims)
		}
		c.Next()
	}
}
