package http

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	authService "github.com/hivedb/hivedb/internal/auth/service"
	"github.com/hivedb/hivedb/internal/catalog/domain"
)

func setupMiddlewareTest(t *testing.T) (*gin.Engine, *MockUserUseCase, authService.TokenService) {
	t.Helper()

	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tokenService, err := authService.NewTokenService("test-signing-key", time.Hour)
	require.NoError(t, err)

	mockUseCase := &MockUserUseCase{}

	router := gin.New()
	router.Use(AuthenticationMiddleware(tokenService, mockUseCase, logger))
	router.GET("/me", func(c *gin.Context) {
		user, ok := GetUser(c.Request.Context())
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"user_id": user.ID.String()})
	})
	router.GET("/admin", AdminMiddleware(logger), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	return router, mockUseCase, tokenService
}

func doRequest(router *gin.Engine, path, authHeader string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestAuthenticationMiddleware(t *testing.T) {
	t.Run("valid token loads user", func(t *testing.T) {
		router, mockUseCase, tokenService := setupMiddlewareTest(t)

		user := &domain.User{ID: uuid.Must(uuid.NewV7()), IsActive: true}
		token, err := tokenService.Issue(user.ID)
		require.NoError(t, err)
		mockUseCase.On("GetUserByID", mock.Anything, user.ID).Return(user, nil)

		w := doRequest(router, "/me", "Bearer "+token)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), user.ID.String())
	})

	t.Run("missing header", func(t *testing.T) {
		router, _, _ := setupMiddlewareTest(t)
		w := doRequest(router, "/me", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		router, _, _ := setupMiddlewareTest(t)
		w := doRequest(router, "/me", "Token abc")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		router, _, _ := setupMiddlewareTest(t)
		w := doRequest(router, "/me", "Bearer garbage")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("inactive user", func(t *testing.T) {
		router, mockUseCase, tokenService := setupMiddlewareTest(t)

		user := &domain.User{ID: uuid.Must(uuid.NewV7()), IsActive: false}
		token, err := tokenService.Issue(user.ID)
		require.NoError(t, err)
		mockUseCase.On("GetUserByID", mock.Anything, user.ID).Return(user, nil)

		w := doRequest(router, "/me", "Bearer "+token)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestAdminMiddleware(t *testing.T) {
	t.Run("admin passes", func(t *testing.T) {
		router, mockUseCase, tokenService := setupMiddlewareTest(t)

		user := &domain.User{ID: uuid.Must(uuid.NewV7()), IsActive: true, IsAdmin: true}
		token, err := tokenService.Issue(user.ID)
		require.NoError(t, err)
		mockUseCase.On("GetUserByID", mock.Anything, user.ID).Return(user, nil)

		w := doRequest(router, "/admin", "Bearer "+token)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("non admin forbidden", func(t *testing.T) {
		router, mockUseCase, tokenService := setupMiddlewareTest(t)

		user := &domain.User{ID: uuid.Must(uuid.NewV7()), IsActive: true}
		token, err := tokenService.Issue(user.ID)
		require.NoError(t, err)
		mockUseCase.On("GetUserByID", mock.Anything, user.ID).Return(user, nil)

		w := doRequest(router, "/admin", "Bearer "+token)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	user := &domain.User{ID: uuid.Must(uuid.NewV7()), IsActive: true}

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(WithUser(c.Request.Context(), user))
		c.Next()
	})
	router.Use(RateLimitMiddleware(1, 2, logger))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		w := doRequest(router, "/ping", "")
		codes = append(codes, w.Code)
	}

	// Burst of 2, then the bucket is empty.
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusOK, codes[1])
	assert.Equal(t, http.StatusTooManyRequests, codes[2])
	assert.Equal(t, http.StatusTooManyRequests, codes[3])
}
