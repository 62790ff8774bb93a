package models

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/revision-engine/internal/revision"
)

// EntityTypeSetting is the ledger type tag of settings.
const EntityTypeSetting = "setting"

// Setting is a revisionable key/value entry holding a JSON value.
type Setting struct {
	Key         string          `db:"key" json:"key"`
	Value       json.RawMessage `db:"value" json:"value"`
	Description *string         `db:"description" json:"description,omitempty"`
	UpdatedBy   *string         `db:"updated_by" json:"updatedBy,omitempty"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updatedAt"`
}

func (s *Setting) RevisionRef() revision.EntityRef {
	return revision.Ref(EntityTypeSetting, s.Key)
}

func (s *Setting) SnapshotData() map[string]any {
	return map[string]any{
		"value":       rawDocument(s.Value, nil),
		"description": s.Description,
		"updated_by":  s.UpdatedBy,
		"updated_at":  s.UpdatedAt,
	}
}

func (s *Setting) ExcludedFields() []string { return nil }

// TrackedFields limits history to the value and its description.
func (s *Setting) TrackedFields() []string {
	return []string{"value", "description"}
}

// ApplySnapshot overwrites the tracked fields with recorded state.
func (s *Setting) ApplySnapshot(data revision.Snapshot) error {
	value, err := snapshotDocument(data, "value", "null")
	if err != nil {
		return err
	}
	description, err := snapshotString(data, "description")
	if err != nil {
		return err
	}
	s.Value = value
	s.Description = nil
	if description != "" {
		s.Description = &description
	}
	return nil
}
