package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	authHTTP "github.com/hivedb/hivedb/internal/auth/http"
	catalogUseCase "github.com/hivedb/hivedb/internal/catalog/usecase"
	"github.com/hivedb/hivedb/internal/cells/http/dto"
	cellsUseCase "github.com/hivedb/hivedb/internal/cells/usecase"
	"github.com/hivedb/hivedb/internal/httputil"
	"github.com/hivedb/hivedb/internal/query"
	customValidation "github.com/hivedb/hivedb/internal/validation"
)

// QueryHandler handles HTTP requests for querying items within a cell.
type QueryHandler struct {
	cellUseCase catalogUseCase.CellUseCaseInterface
	dataUseCase *cellsUseCase.DataUseCase
	logger      *slog.Logger
}

// NewQueryHandler creates a new query handler with required dependencies.
func NewQueryHandler(
	cellUseCase catalogUseCase.CellUseCaseInterface,
	dataUseCase *cellsUseCase.DataUseCase,
	logger *slog.Logger,
) *QueryHandler {
	return &QueryHandler{
		cellUseCase: cellUseCase,
		dataUseCase: dataUseCase,
		logger:      logger,
	}
}

// QueryHandler evaluates a query over a cell's items.
// POST /cells/:key/query - Requires read access.
func (h *QueryHandler) QueryHandler(c *gin.Context) {
	user, ok := authHTTP.GetUser(c.Request.Context())
	if !ok {
		httputil.HandleErrorGin(c, errUnauthenticated, h.logger)
		return
	}

	cellKey := c.Param("key")
	if _, err := h.cellUseCase.CheckAccess(c.Request.Context(), user.ID, cellKey, false); err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	var req dto.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	results, err := h.dataUseCase.Query(c.Request.Context(), cellKey, query.Query{
		Filter: req.Filter,
		Sort:   req.Sort,
		Limit:  req.Limit,
	})
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.QueryResponse{
		Results: results,
		Count:   len(results),
	})
}
