// Package dto provides data transfer objects for the cell HTTP API.
package dto

import (
	"time"

	validation "github.com/jellydator/validation"

	"github.com/hivedb/hivedb/internal/catalog/domain"
	customValidation "github.com/hivedb/hivedb/internal/validation"
)

// CreateCellRequest contains the parameters for creating a cell.
type CreateCellRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// Validate checks if the create cell request is valid.
func (r *CreateCellRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Password,
			validation.Required,
			validation.Length(8, 128),
		),
		validation.Field(&r.Name,
			validation.Length(0, 255),
		),
	)
}

// ShareCellRequest grants another user access to a cell.
type ShareCellRequest struct {
	UserID     string `json:"user_id"`
	Permission string `json:"permission"`
}

// Validate checks if the share cell request is valid.
func (r *ShareCellRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.UserID,
			validation.Required,
			customValidation.NotBlank,
		),
		validation.Field(&r.Permission,
			validation.Required,
		),
	)
}

// PutDataRequest contains an item write.
type PutDataRequest struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Validate checks if the put data request is valid.
func (r *PutDataRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Key,
			validation.Required,
			customValidation.NotBlank,
			validation.Length(1, 255),
		),
	)
}

// QueryRequest contains a query over a cell's items.
type QueryRequest struct {
	Filter map[string]any `json:"filter,omitempty"`
	Sort   []string       `json:"sort,omitempty"`
	Limit  int            `json:"limit,omitempty"`
}

// Validate checks if the query request is valid.
func (r *QueryRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Limit, validation.Min(0)),
	)
}

// CellResponse is the public view of a cell. The password hash is never
// exposed.
type CellResponse struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// MapCellToResponse converts a domain cell to its response representation.
func MapCellToResponse(cell *domain.Cell) CellResponse {
	return CellResponse{
		ID:        cell.ID.String(),
		Key:       cell.Key,
		Name:      cell.Name,
		OwnerID:   cell.OwnerID.String(),
		CreatedAt: cell.CreatedAt,
	}
}

// MapCellsToResponse converts a list of domain cells.
func MapCellsToResponse(cells []*domain.Cell) []CellResponse {
	responses := make([]CellResponse, 0, len(cells))
	for _, cell := range cells {
		responses = append(responses, MapCellToResponse(cell))
	}
	return responses
}

// KeysResponse lists the item keys of a cell.
type KeysResponse struct {
	Keys []string `json:"keys"`
}

// PutDataResponse reports the result of an item write.
type PutDataResponse struct {
	Status    string `json:"status"`
	Encrypted bool   `json:"encrypted"`
}

// ItemResponse is a single item read.
type ItemResponse struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// StatusResponse is a bare status acknowledgement.
type StatusResponse struct {
	Status string `json:"status"`
}

// QueryResponse contains query results and their cardinality.
type QueryResponse struct {
	Results []map[string]any `json:"results"`
	Count   int              `json:"count"`
}
