package models

import (
	"encoding/json"
	"regexp"
	"time"
)

// RevisionAction names what caused a revision. The set is open: custom
// actions are accepted when they match customActionPattern.
type RevisionAction string

const (
	RevisionActionCreate  RevisionAction = "create"
	RevisionActionUpdate  RevisionAction = "update"
	RevisionActionDelete  RevisionAction = "delete"
	RevisionActionPublish RevisionAction = "publish"
	RevisionActionRevert  RevisionAction = "revert"
)

var customActionPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,31}$`)

// Valid reports whether the action is a well-formed action name.
func (a RevisionAction) Valid() bool {
	return customActionPattern.MatchString(string(a))
}

// Revision is an immutable ledger record.
type Revision struct {
	ID          string          `db:"id" json:"id"`
	EntityType  string          `db:"entity_type" json:"entityType"`
	EntityID    string          `db:"entity_id" json:"entityId"`
	ActorID     *string         `db:"actor_id" json:"actorId,omitempty"`
	Action      RevisionAction  `db:"action" json:"action"`
	Version     int64           `db:"version" json:"version"`
	Data        json.RawMessage `db:"data" json:"data"`
	Changes     json.RawMessage `db:"changes" json:"changes"`
	Metadata    json.RawMessage `db:"metadata" json:"metadata"`
	Description *string         `db:"description" json:"description,omitempty"`
	IsPublished bool            `db:"is_published" json:"isPublished"`
	PublishedAt *time.Time      `db:"published_at" json:"publishedAt,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
}

// RevisionFilter narrows history queries.
type RevisionFilter struct {
	Action *RevisionAction
	Limit  int
	Offset int
}

// RevisionVerification summarises a consistency check of one entity's chain.
type RevisionVerification struct {
	EntityType string               `json:"entityType"`
	EntityID   string               `json:"entityId"`
	Revisions  int                  `json:"revisions"`
	Valid      bool                 `json:"valid"`
	Issues     []RevisionChainIssue `json:"issues,omitempty"`
	// Gaps lists versions skipped by the sequencer. Gaps are allowed.
	Gaps      []int64   `json:"gaps,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// RevisionChainIssue describes one inconsistency found in a chain.
type RevisionChainIssue struct {
	Version int64  `json:"version"`
	Kind    string `json:"kind"`
	Detail  string `json:"detail"`
}

// Chain issue kinds.
const (
	ChainIssueVersionOrder   = "version_order"
	ChainIssueChangeMismatch = "changes_mismatch"
	ChainIssueUndecodable    = "undecodable"
)
