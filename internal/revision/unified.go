package revision

import (
	"encoding/json"
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
)

// Flatten lists every leaf of s as a `path = value` line in canonical path
// order. Values are rendered as JSON.
func Flatten(s Snapshot) []string {
	leaves := Diff(nil, s)
	lines := make([]string, 0, len(leaves))
	for _, path := range leaves.Paths() {
		encoded, err := json.Marshal(leaves[path].To)
		if err != nil {
			encoded = []byte(fmt.Sprintf("%v", leaves[path].To))
		}
		lines = append(lines, path+" = "+string(encoded)+"\n")
	}
	return lines
}

// RenderUnified renders a unified text diff of two flattened snapshots.
// Identical snapshots render as an empty string.
func RenderUnified(fromLabel string, from Snapshot, toLabel string, to Snapshot) (string, error) {
	if from.Equal(to) {
		return "", nil
	}
	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        Flatten(from),
		B:        Flatten(to),
		FromFile: fromLabel,
		ToFile:   toLabel,
		Context:  2,
	})
	if err != nil {
		return "", fmt.Errorf("render unified diff: %w", err)
	}
	return out, nil
}
