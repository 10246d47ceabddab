// Package http provides HTTP handlers for cell management and the cell data
// plane.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	authHTTP "github.com/hivedb/hivedb/internal/auth/http"
	"github.com/hivedb/hivedb/internal/catalog/domain"
	catalogUseCase "github.com/hivedb/hivedb/internal/catalog/usecase"
	"github.com/hivedb/hivedb/internal/cells/http/dto"
	apperrors "github.com/hivedb/hivedb/internal/errors"
	"github.com/hivedb/hivedb/internal/httputil"
	customValidation "github.com/hivedb/hivedb/internal/validation"
)

// CellHandler handles HTTP requests for cell lifecycle operations.
type CellHandler struct {
	cellUseCase catalogUseCase.CellUseCaseInterface
	logger      *slog.Logger
}

// NewCellHandler creates a new cell handler with required dependencies.
func NewCellHandler(cellUseCase catalogUseCase.CellUseCaseInterface, logger *slog.Logger) *CellHandler {
	return &CellHandler{
		cellUseCase: cellUseCase,
		logger:      logger,
	}
}

// CreateHandler creates a new cell owned by the authenticated user.
// POST /cells - Returns 201 Created with the cell view.
func (h *CellHandler) CreateHandler(c *gin.Context) {
	user, ok := authHTTP.GetUser(c.Request.Context())
	if !ok {
		httputil.HandleErrorGin(c, errUnauthenticated, h.logger)
		return
	}

	var req dto.CreateCellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	cell, err := h.cellUseCase.CreateCell(c.Request.Context(), user.ID, catalogUseCase.CreateCellInput{
		Name:     req.Name,
		Password: req.Password,
	})
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusCreated, dto.MapCellToResponse(cell))
}

// ListHandler lists the cells the authenticated user can access.
// GET /cells - Returns 200 OK with cell views.
func (h *CellHandler) ListHandler(c *gin.Context) {
	user, ok := authHTTP.GetUser(c.Request.Context())
	if !ok {
		httputil.HandleErrorGin(c, errUnauthenticated, h.logger)
		return
	}

	cells, err := h.cellUseCase.ListCells(c.Request.Context(), user.ID)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapCellsToResponse(cells))
}

// GetHandler retrieves a cell the authenticated user can read.
// GET /cells/:key - Returns 200 OK with the cell view.
func (h *CellHandler) GetHandler(c *gin.Context) {
	user, ok := authHTTP.GetUser(c.Request.Context())
	if !ok {
		httputil.HandleErrorGin(c, errUnauthenticated, h.logger)
		return
	}

	cell, err := h.cellUseCase.CheckAccess(c.Request.Context(), user.ID, c.Param("key"), false)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapCellToResponse(cell))
}

// DeleteHandler removes a cell. Only the owner may delete.
// DELETE /cells/:key - Returns 200 OK with a status acknowledgement.
func (h *CellHandler) DeleteHandler(c *gin.Context) {
	user, ok := authHTTP.GetUser(c.Request.Context())
	if !ok {
		httputil.HandleErrorGin(c, errUnauthenticated, h.logger)
		return
	}

	if err := h.cellUseCase.DeleteCell(c.Request.Context(), user.ID, c.Param("key")); err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.StatusResponse{Status: "deleted"})
}

// ShareHandler grants another user access to a cell. Only the owner may share.
// POST /cells/:key/share - Returns 200 OK with a status acknowledgement.
func (h *CellHandler) ShareHandler(c *gin.Context) {
	user, ok := authHTTP.GetUser(c.Request.Context())
	if !ok {
		httputil.HandleErrorGin(c, errUnauthenticated, h.logger)
		return
	}

	var req dto.ShareCellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	targetID, err := uuid.Parse(req.UserID)
	if err != nil {
		httputil.HandleErrorGin(c, apperrors.Wrap(apperrors.ErrInvalidInput, "user_id must be a valid UUID"), h.logger)
		return
	}

	err = h.cellUseCase.AddOwnership(
		c.Request.Context(), user.ID, c.Param("key"), targetID, domain.Permission(req.Permission))
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.StatusResponse{Status: "shared"})
}
