package dto

import (
	"github.com/noah-isme/revision-engine/internal/models"
	"github.com/noah-isme/revision-engine/internal/revision"
)

// ManualRevisionRequest records an explicit action that is not raw CRUD.
type ManualRevisionRequest struct {
	Action      string         `json:"action" validate:"required"`
	Description string         `json:"description" validate:"max=500"`
	Metadata    map[string]any `json:"metadata"`
	IsPublished bool           `json:"isPublished"`
}

// PublishRequest promotes the current state of an entity to published.
type PublishRequest struct {
	Description string `json:"description" validate:"max=500"`
}

// RevertRequest restores an entity to a recorded revision.
type RevertRequest struct {
	RevisionID  string `json:"revisionId" validate:"required"`
	Description string `json:"description" validate:"max=500"`
	Publish     bool   `json:"publish"`
}

// RevisionHistoryQuery mirrors supported history filters.
type RevisionHistoryQuery struct {
	Action string
	Limit  int
	Offset int
}

// RevisionComparison is the difference between two revisions of one entity.
type RevisionComparison struct {
	From    *models.Revision   `json:"from"`
	To      *models.Revision   `json:"to"`
	Changes revision.ChangeSet `json:"changes"`
	Unified string             `json:"unified"`
}

// RevisionExport is a rendered history document.
type RevisionExport struct {
	Filename    string
	ContentType string
	Payload     []byte
}
