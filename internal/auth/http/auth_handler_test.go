package http

import (
	"bytes"
	"context"
	"encoding/json"
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

	"github.com/hivedb/hivedb/internal/auth/http/dto"
	authService "github.com/hivedb/hivedb/internal/auth/service"
	"github.com/hivedb/hivedb/internal/catalog/domain"
	"github.com/hivedb/hivedb/internal/catalog/usecase"
)

// MockUserUseCase is a mock implementation of usecase.UserUseCaseInterface
type MockUserUseCase struct {
	mock.Mock
}

func (m *MockUserUseCase) RegisterUser(ctx context.Context, input usecase.RegisterUserInput) (*domain.User, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserUseCase) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserUseCase) GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserUseCase) CountUsers(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func setupAuthTestHandler(t *testing.T) (*AuthHandler, *MockUserUseCase, authService.TokenService) {
	t.Helper()

	gin.SetMode(gin.TestMode)

	mockUseCase := &MockUserUseCase{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tokenService, err := authService.NewTokenService("test-signing-key", time.Hour)
	require.NoError(t, err)

	return NewAuthHandler(mockUseCase, tokenService, logger), mockUseCase, tokenService
}

func createTestContext(method, path string, body any) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	return c, w
}

func TestAuthHandler_RegisterHandler(t *testing.T) {
	t.Run("Success_ValidRequest", func(t *testing.T) {
		handler, mockUseCase, _ := setupAuthTestHandler(t)

		user := &domain.User{
			ID:       uuid.Must(uuid.NewV7()),
			Username: "alice",
			Email:    "alice@example.com",
			IsActive: true,
		}
		mockUseCase.On("RegisterUser", mock.Anything, usecase.RegisterUserInput{
			Username: "alice",
			Email:    "alice@example.com",
			Password: "SecurePass123",
		}).Return(user, nil).Once()

		c, w := createTestContext(http.MethodPost, "/auth/register", dto.RegisterRequest{
			Username: "alice",
			Email:    "alice@example.com",
			Password: "SecurePass123",
		})

		handler.RegisterHandler(c)

		assert.Equal(t, http.StatusCreated, w.Code)

		var response dto.UserResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, user.ID.String(), response.ID)
		assert.Equal(t, "alice", response.Username)
		mockUseCase.AssertExpectations(t)
	})

	t.Run("Error_InvalidJSON", func(t *testing.T) {
		handler, _, _ := setupAuthTestHandler(t)

		c, w := createTestContext(http.MethodPost, "/auth/register", nil)
		c.Request.Body = io.NopCloser(bytes.NewReader([]byte("invalid json")))

		handler.RegisterHandler(c)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Error_MissingEmail", func(t *testing.T) {
		handler, mockUseCase, _ := setupAuthTestHandler(t)

		c, w := createTestContext(http.MethodPost, "/auth/register", dto.RegisterRequest{
			Username: "alice",
			Password: "SecurePass123",
		})

		handler.RegisterHandler(c)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockUseCase.AssertNotCalled(t, "RegisterUser")
	})

	t.Run("Error_DuplicateEmail", func(t *testing.T) {
		handler, mockUseCase, _ := setupAuthTestHandler(t)

		mockUseCase.On("RegisterUser", mock.Anything, mock.Anything).
			Return(nil, domain.ErrUserAlreadyExists).Once()

		c, w := createTestContext(http.MethodPost, "/auth/register", dto.RegisterRequest{
			Username: "alice",
			Email:    "alice@example.com",
			Password: "SecurePass123",
		})

		handler.RegisterHandler(c)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthHandler_LoginHandler(t *testing.T) {
	t.Run("Success_ValidCredentials", func(t *testing.T) {
		handler, mockUseCase, tokenService := setupAuthTestHandler(t)

		user := &domain.User{
			ID:       uuid.Must(uuid.NewV7()),
			Username: "alice",
			Email:    "alice@example.com",
			IsActive: true,
			IsAdmin:  true,
		}
		mockUseCase.On("Authenticate", mock.Anything, "alice@example.com", "SecurePass123").
			Return(user, nil).Once()

		c, w := createTestContext(http.MethodPost, "/auth/login", dto.LoginRequest{
			Email:    "alice@example.com",
			Password: "SecurePass123",
		})

		handler.LoginHandler(c)

		assert.Equal(t, http.StatusOK, w.Code)

		var response dto.LoginResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "bearer", response.TokenType)
		assert.Equal(t, user.ID.String(), response.UserID)
		assert.True(t, response.IsAdmin)

		subject, err := tokenService.Verify(response.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID, subject)
	})

	t.Run("Error_InvalidCredentials", func(t *testing.T) {
		handler, mockUseCase, _ := setupAuthTestHandler(t)

		mockUseCase.On("Authenticate", mock.Anything, "alice@example.com", "WrongPass123").
			Return(nil, domain.ErrInvalidCredentials).Once()

		c, w := createTestContext(http.MethodPost, "/auth/login", dto.LoginRequest{
			Email:    "alice@example.com",
			Password: "WrongPass123",
		})

		handler.LoginHandler(c)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Error_LockedAccount", func(t *testing.T) {
		handler, mockUseCase, _ := setupAuthTestHandler(t)

		mockUseCase.On("Authenticate", mock.Anything, "alice@example.com", "SecurePass123").
			Return(nil, domain.ErrUserLocked).Once()

		c, w := createTestContext(http.MethodPost, "/auth/login", dto.LoginRequest{
			Email:    "alice@example.com",
			Password: "SecurePass123",
		})

		handler.LoginHandler(c)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})
}
