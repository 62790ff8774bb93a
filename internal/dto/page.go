package dto

import "encoding/json"

// CreatePageRequest is the payload for creating a page.
type CreatePageRequest struct {
	Slug   string          `json:"slug" validate:"required,max=128"`
	Title  string          `json:"title" validate:"required,max=255"`
	Body   string          `json:"body"`
	Blocks json.RawMessage `json:"blocks"`
	Meta   json.RawMessage `json:"meta"`
}

// UpdatePageRequest carries partial page updates; nil fields are unchanged.
type UpdatePageRequest struct {
	Slug   *string         `json:"slug" validate:"omitempty,max=128"`
	Title  *string         `json:"title" validate:"omitempty,max=255"`
	Body   *string         `json:"body"`
	Blocks json.RawMessage `json:"blocks"`
	Meta   json.RawMessage `json:"meta"`
}

// PageQuery mirrors supported listing filters.
type PageQuery struct {
	Search   string
	Page     int
	PageSize int
}
