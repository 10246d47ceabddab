package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	authHTTP "github.com/hivedb/hivedb/internal/auth/http"
	catalogUseCase "github.com/hivedb/hivedb/internal/catalog/usecase"
	cellsUseCase "github.com/hivedb/hivedb/internal/cells/usecase"
	"github.com/hivedb/hivedb/internal/cells/http/dto"
	apperrors "github.com/hivedb/hivedb/internal/errors"
	"github.com/hivedb/hivedb/internal/httputil"
	customValidation "github.com/hivedb/hivedb/internal/validation"
)

var errUnauthenticated = apperrors.ErrUnauthorized

// DataHandler handles HTTP requests for items within a cell.
type DataHandler struct {
	cellUseCase catalogUseCase.CellUseCaseInterface
	dataUseCase *cellsUseCase.DataUseCase
	logger      *slog.Logger
}

// NewDataHandler creates a new data handler with required dependencies.
func NewDataHandler(
	cellUseCase catalogUseCase.CellUseCaseInterface,
	dataUseCase *cellsUseCase.DataUseCase,
	logger *slog.Logger,
) *DataHandler {
	return &DataHandler{
		cellUseCase: cellUseCase,
		dataUseCase: dataUseCase,
		logger:      logger,
	}
}

// checkAccess resolves the authenticated user and verifies cell access.
func (h *DataHandler) checkAccess(c *gin.Context, write bool) (cellKey string, ok bool) {
	user, found := authHTTP.GetUser(c.Request.Context())
	if !found {
		httputil.HandleErrorGin(c, errUnauthenticated, h.logger)
		return "", false
	}

	cellKey = c.Param("key")
	if _, err := h.cellUseCase.CheckAccess(c.Request.Context(), user.ID, cellKey, write); err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return "", false
	}
	return cellKey, true
}

// KeysHandler lists the item keys of a cell.
// GET /cells/:key/keys - Requires read access.
func (h *DataHandler) KeysHandler(c *gin.Context) {
	cellKey, ok := h.checkAccess(c, false)
	if !ok {
		return
	}

	keys, err := h.dataUseCase.ListKeys(c.Request.Context(), cellKey)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.KeysResponse{Keys: keys})
}

// PutHandler stores an item in a cell.
// POST /cells/:key/data - Requires write access. Returns 201 for a new item
// and 200 for an update.
func (h *DataHandler) PutHandler(c *gin.Context) {
	cellKey, ok := h.checkAccess(c, true)
	if !ok {
		return
	}

	var req dto.PutDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	created, err := h.dataUseCase.Put(c.Request.Context(), cellKey, req.Key, req.Value)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, dto.PutDataResponse{
		Status:    "success",
		Encrypted: h.dataUseCase.Encrypted(),
	})
}

// GetItemHandler retrieves a single item.
// GET /cells/:key/data/:item - Requires read access.
func (h *DataHandler) GetItemHandler(c *gin.Context) {
	cellKey, ok := h.checkAccess(c, false)
	if !ok {
		return
	}

	itemKey := c.Param("item")
	value, err := h.dataUseCase.Get(c.Request.Context(), cellKey, itemKey)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.ItemResponse{Key: itemKey, Value: value})
}

// DeleteItemHandler removes an item. Deleting a missing item succeeds.
// DELETE /cells/:key/data/:item - Requires write access.
func (h *DataHandler) DeleteItemHandler(c *gin.Context) {
	cellKey, ok := h.checkAccess(c, true)
	if !ok {
		return
	}

	if err := h.dataUseCase.Delete(c.Request.Context(), cellKey, c.Param("item")); err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.StatusResponse{Status: "success"})
}
