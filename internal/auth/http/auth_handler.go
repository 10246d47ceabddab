package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hivedb/hivedb/internal/auth/http/dto"
	authService "github.com/hivedb/hivedb/internal/auth/service"
	"github.com/hivedb/hivedb/internal/catalog/usecase"
	"github.com/hivedb/hivedb/internal/httputil"
	customValidation "github.com/hivedb/hivedb/internal/validation"
)

// AuthHandler handles HTTP requests for registration and login.
type AuthHandler struct {
	userUseCase  usecase.UserUseCaseInterface
	tokenService authService.TokenService
	logger       *slog.Logger
}

// NewAuthHandler creates a new auth handler with required dependencies.
func NewAuthHandler(
	userUseCase usecase.UserUseCaseInterface,
	tokenService authService.TokenService,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		userUseCase:  userUseCase,
		tokenService: tokenService,
		logger:       logger,
	}
}

// RegisterHandler creates a new user account.
// POST /auth/register - Returns 201 Created with the user view.
func (h *AuthHandler) RegisterHandler(c *gin.Context) {
	var req dto.RegisterRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	user, err := h.userUseCase.RegisterUser(c.Request.Context(), usecase.RegisterUserInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusCreated, dto.MapUserToResponse(user))
}

// LoginHandler authenticates a user and issues a bearer token.
// POST /auth/login - Returns 200 OK with the access token.
func (h *AuthHandler) LoginHandler(c *gin.Context) {
	var req dto.LoginRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	user, err := h.userUseCase.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	token, err := h.tokenService.Issue(user.ID)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.LoginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		UserID:      user.ID.String(),
		Username:    user.Username,
		Email:       user.Email,
		IsAdmin:     user.IsAdmin,
	})
}
