package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/noah-isme/revision-engine/internal/revision"
)

// EntityTypePage is the ledger type tag of pages.
const EntityTypePage = "page"

// Page is a revisionable content page.
type Page struct {
	ID        string          `db:"id" json:"id"`
	Slug      string          `db:"slug" json:"slug"`
	Title     string          `db:"title" json:"title"`
	Body      string          `db:"body" json:"body"`
	Blocks    json.RawMessage `db:"blocks" json:"blocks"`
	Meta      json.RawMessage `db:"meta" json:"meta"`
	CreatedBy *string         `db:"created_by" json:"createdBy,omitempty"`
	UpdatedBy *string         `db:"updated_by" json:"updatedBy,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time       `db:"updated_at" json:"updatedAt"`
}

// PageFilter captures list criteria for pages.
type PageFilter struct {
	Search   string
	Page     int
	PageSize int
}

func (p *Page) RevisionRef() revision.EntityRef {
	return revision.Ref(EntityTypePage, p.ID)
}

func (p *Page) SnapshotData() map[string]any {
	return map[string]any{
		"id":         p.ID,
		"slug":       p.Slug,
		"title":      p.Title,
		"body":       p.Body,
		"blocks":     rawDocument(p.Blocks, []any{}),
		"meta":       rawDocument(p.Meta, map[string]any{}),
		"created_by": p.CreatedBy,
		"updated_by": p.UpdatedBy,
		"created_at": p.CreatedAt,
		"updated_at": p.UpdatedAt,
	}
}

func (p *Page) ExcludedFields() []string {
	return []string{"id", "created_by", "updated_by", "created_at", "updated_at"}
}

func (p *Page) TrackedFields() []string { return nil }

// ApplySnapshot overwrites the tracked fields with recorded state.
func (p *Page) ApplySnapshot(data revision.Snapshot) error {
	slug, err := snapshotString(data, "slug")
	if err != nil {
		return err
	}
	title, err := snapshotString(data, "title")
	if err != nil {
		return err
	}
	body, err := snapshotString(data, "body")
	if err != nil {
		return err
	}
	blocks, err := snapshotDocument(data, "blocks", "[]")
	if err != nil {
		return err
	}
	meta, err := snapshotDocument(data, "meta", "{}")
	if err != nil {
		return err
	}
	p.Slug, p.Title, p.Body, p.Blocks, p.Meta = slug, title, body, blocks, meta
	return nil
}

func rawDocument(raw json.RawMessage, fallback any) any {
	if len(raw) == 0 {
		return fallback
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return fallback
	}
	return out
}

func snapshotString(data revision.Snapshot, field string) (string, error) {
	value, ok := data[field]
	if !ok || value == nil {
		return "", nil
	}
	str, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("field %s: expected string, got %T", field, value)
	}
	return str, nil
}

func snapshotDocument(data revision.Snapshot, field, fallback string) (json.RawMessage, error) {
	value, ok := data[field]
	if !ok || value == nil {
		return json.RawMessage(fallback), nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", field, err)
	}
	return encoded, nil
}
