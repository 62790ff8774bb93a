package revision

import (
	"bytes"
	"encoding/json"
	"fmt"

	appErrors "github.com/noah-isme/revision-engine/pkg/errors"
)

// Snapshot is the normalised, trackable state of an entity. Values are limited
// to map[string]any, []any, string, json.Number, bool and nil.
type Snapshot map[string]any

// Capture builds the snapshot of entity restricted to its tracked fields.
func Capture(entity Revisionable) (Snapshot, error) {
	if entity == nil {
		return nil, appErrors.Clone(appErrors.ErrSnapshot, "entity is nil")
	}
	data := selectFields(entity.SnapshotData(), entity.TrackedFields(), entity.ExcludedFields())
	snap, err := Normalize(data)
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", entity.RevisionRef(), err)
	}
	return snap, nil
}

// Normalize converts arbitrary Go values into their canonical snapshot form.
// Values that cannot be represented as JSON are rejected.
func Normalize(data map[string]any) (Snapshot, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrSnapshot, "")
	}
	return DecodeSnapshot(encoded)
}

// DecodeSnapshot parses a stored snapshot document.
func DecodeSnapshot(raw []byte) (Snapshot, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Snapshot{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrSnapshot, "snapshot document is not a JSON object")
	}
	if out == nil {
		out = map[string]any{}
	}
	return Snapshot(out), nil
}

// Encode returns the canonical JSON form; object keys are sorted.
func (s Snapshot) Encode() (json.RawMessage, error) {
	if s == nil {
		return json.RawMessage("{}"), nil
	}
	encoded, err := json.Marshal(map[string]any(s))
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrSnapshot, "")
	}
	return encoded, nil
}

// Equal compares canonical encodings.
func (s Snapshot) Equal(other Snapshot) bool {
	a, errA := s.Encode()
	b, errB := other.Encode()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Clone deep-copies the snapshot.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	return Snapshot(deepCopy(map[string]any(s)).(map[string]any))
}

func selectFields(data map[string]any, tracked, excluded []string) map[string]any {
	out := make(map[string]any, len(data))
	if tracked != nil {
		for _, field := range tracked {
			if value, ok := data[field]; ok {
				out[field] = value
			}
		}
		return out
	}
	skip := make(map[string]struct{}, len(excluded))
	for _, field := range excluded {
		skip[field] = struct{}{}
	}
	for key, value := range data {
		if _, ok := skip[key]; ok {
			continue
		}
		out[key] = value
	}
	return out
}

func deepCopy(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return typed
	}
}
