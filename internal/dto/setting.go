package dto

import "encoding/json"

// PutSettingRequest creates or replaces a setting value.
type PutSettingRequest struct {
	Value       json.RawMessage `json:"value" validate:"required"`
	Description string          `json:"description" validate:"max=255"`
}
