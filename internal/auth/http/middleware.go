package http

import (
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"

	authService "github.com/hivedb/hivedb/internal/auth/service"
	"github.com/hivedb/hivedb/internal/catalog/usecase"
	apperrors "github.com/hivedb/hivedb/internal/errors"
	"github.com/hivedb/hivedb/internal/httputil"
)

// AuthenticationMiddleware provides authentication via Bearer token in the
// Authorization header.
//
// The middleware:
// 1. Extracts the Bearer token from the Authorization header (case-insensitive)
// 2. Verifies the token signature and expiry via the token service
// 3. Loads the user and stores it in the request context
// 4. Allows downstream handlers to access the user via GetUser()
//
// Error handling:
//   - Missing/malformed Authorization header → 401 Unauthorized
//   - Invalid or expired token → 401 Unauthorized
//   - Unknown or inactive user → 401/403
func AuthenticationMiddleware(
	tokenService authService.TokenService,
	userUseCase usecase.UserUseCaseInterface,
	logger *slog.Logger,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.Debug("authentication failed: missing authorization header")
			httputil.HandleErrorGin(c, apperrors.ErrUnauthorized, logger)
			c.Abort()
			return
		}

		const bearerPrefix = "bearer "
		if len(authHeader) < len(bearerPrefix) ||
			!strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
			logger.Debug("authentication failed: malformed authorization header")
			httputil.HandleErrorGin(c, apperrors.ErrUnauthorized, logger)
			c.Abort()
			return
		}

		plainToken := authHeader[len(bearerPrefix):]
		if plainToken == "" {
			logger.Debug("authentication failed: empty bearer token")
			httputil.HandleErrorGin(c, apperrors.ErrUnauthorized, logger)
			c.Abort()
			return
		}

		userID, err := tokenService.Verify(plainToken)
		if err != nil {
			logger.Debug("authentication failed", slog.String("error", err.Error()))
			httputil.HandleErrorGin(c, err, logger)
			c.Abort()
			return
		}

		user, err := userUseCase.GetUserByID(c.Request.Context(), userID)
		if err != nil {
			logger.Debug("authentication failed: unknown user",
				slog.String("user_id", userID.String()))
			httputil.HandleErrorGin(c, apperrors.ErrUnauthorized, logger)
			c.Abort()
			return
		}
		if !user.IsActive {
			httputil.HandleErrorGin(c, apperrors.ErrForbidden, logger)
			c.Abort()
			return
		}

		ctx := WithUser(c.Request.Context(), user)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// AdminMiddleware restricts a route to admin users.
//
// MUST be used after AuthenticationMiddleware.
func AdminMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := GetUser(c.Request.Context())
		if !ok || user == nil {
			httputil.HandleErrorGin(c, apperrors.ErrUnauthorized, logger)
			c.Abort()
			return
		}
		if !user.IsAdmin {
			logger.Debug("authorization failed: admin required",
				slog.String("user_id", user.ID.String()))
			httputil.HandleErrorGin(c, apperrors.ErrForbidden, logger)
			c.Abort()
			return
		}
		c.Next()
	}
}
