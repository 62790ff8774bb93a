package revision

import (
	"strings"

	appErrors "github.com/noah-isme/revision-engine/pkg/errors"
)

// EntityRef identifies the subject of a revision across entity types.
type EntityRef struct {
	Type string `json:"entityType"`
	ID   string `json:"entityId"`
}

// Ref builds a trimmed EntityRef.
func Ref(entityType, id string) EntityRef {
	return EntityRef{Type: strings.TrimSpace(entityType), ID: strings.TrimSpace(id)}
}

// Validate rejects refs missing either part.
func (r EntityRef) Validate() error {
	if r.Type == "" || r.ID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "entity type and id are required")
	}
	return nil
}

func (r EntityRef) String() string {
	return r.Type + "#" + r.ID
}
