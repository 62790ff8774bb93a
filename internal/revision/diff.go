package revision

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	appErrors "github.com/noah-isme/revision-engine/pkg/errors"
)

// Op classifies a single field change.
type Op string

const (
	OpAdded   Op = "added"
	OpRemoved Op = "removed"
	OpChanged Op = "changed"
)

// Change is the before/after pair recorded for one field path.
type Change struct {
	Op   Op  `json:"op"`
	From any `json:"from"`
	To   any `json:"to"`
}

// ChangeSet maps field paths (`a.b[2].c`) to their change.
type ChangeSet map[string]Change

// Diff computes the field-level difference between two snapshots. A nil prev
// reports every leaf of cur as added. Lists are compared by position.
func Diff(prev, cur Snapshot) ChangeSet {
	cs := ChangeSet{}
	if prev == nil {
		collectLeaves(cs, nil, map[string]any(cur))
		return cs
	}
	if cur == nil {
		cur = Snapshot{}
	}
	diffMaps(cs, nil, prev, cur)
	return cs
}

func diffValue(cs ChangeSet, path []segment, from, to any) {
	fromMap, fromIsMap := from.(map[string]any)
	toMap, toIsMap := to.(map[string]any)
	if fromIsMap && toIsMap {
		diffMaps(cs, path, fromMap, toMap)
		return
	}
	fromList, fromIsList := from.([]any)
	toList, toIsList := to.([]any)
	if fromIsList && toIsList {
		diffLists(cs, path, fromList, toList)
		return
	}
	if !valuesEqual(from, to) {
		cs[formatPath(path)] = Change{Op: OpChanged, From: from, To: to}
	}
}

func diffMaps(cs ChangeSet, path []segment, from, to map[string]any) {
	for _, key := range unionKeys(from, to) {
		fromVal, inFrom := from[key]
		toVal, inTo := to[key]
		child := appendSeg(path, keySeg(key))
		switch {
		case inFrom && !inTo:
			cs[formatPath(child)] = Change{Op: OpRemoved, From: fromVal}
		case !inFrom && inTo:
			cs[formatPath(child)] = Change{Op: OpAdded, To: toVal}
		default:
			diffValue(cs, child, fromVal, toVal)
		}
	}
}

func diffLists(cs ChangeSet, path []segment, from, to []any) {
	common := len(from)
	if len(to) < common {
		common = len(to)
	}
	for i := 0; i < common; i++ {
		diffValue(cs, appendSeg(path, indexSeg(i)), from[i], to[i])
	}
	for i := common; i < len(to); i++ {
		cs[formatPath(appendSeg(path, indexSeg(i)))] = Change{Op: OpAdded, To: to[i]}
	}
	for i := common; i < len(from); i++ {
		cs[formatPath(appendSeg(path, indexSeg(i)))] = Change{Op: OpRemoved, From: from[i]}
	}
}

func collectLeaves(cs ChangeSet, path []segment, value any) {
	switch typed := value.(type) {
	case map[string]any:
		if len(typed) > 0 || len(path) == 0 {
			for _, key := range sortedKeys(typed) {
				collectLeaves(cs, appendSeg(path, keySeg(key)), typed[key])
			}
			return
		}
	case []any:
		if len(typed) > 0 {
			for i, item := range typed {
				collectLeaves(cs, appendSeg(path, indexSeg(i)), item)
			}
			return
		}
	}
	cs[formatPath(path)] = Change{Op: OpAdded, To: value}
}

// Empty reports whether nothing changed.
func (cs ChangeSet) Empty() bool { return len(cs) == 0 }

// Paths returns the changed paths in canonical order.
func (cs ChangeSet) Paths() []string {
	type parsed struct {
		raw  string
		segs []segment
	}
	items := make([]parsed, 0, len(cs))
	for path := range cs {
		segs, err := parsePath(path)
		if err != nil {
			segs = []segment{keySeg(path)}
		}
		items = append(items, parsed{raw: path, segs: segs})
	}
	sort.Slice(items, func(i, j int) bool { return comparePaths(items[i].segs, items[j].segs) < 0 })
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.raw
	}
	return out
}

// Encode returns the canonical JSON form of the change set.
func (cs ChangeSet) Encode() (json.RawMessage, error) {
	if cs == nil {
		return json.RawMessage("{}"), nil
	}
	encoded, err := json.Marshal(map[string]Change(cs))
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrSnapshot, "change set cannot be encoded")
	}
	return encoded, nil
}

// Equal compares canonical encodings.
func (cs ChangeSet) Equal(other ChangeSet) bool {
	a, errA := cs.Encode()
	b, errB := other.Encode()
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// DecodeChangeSet parses a stored change set document.
func DecodeChangeSet(raw []byte) (ChangeSet, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ChangeSet{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var out map[string]Change
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode change set: %w", err)
	}
	if out == nil {
		out = map[string]Change{}
	}
	return ChangeSet(out), nil
}

// Apply replays cs on top of base and returns the resulting snapshot, so that
// Apply(a, Diff(a, b)) equals b. base is not modified.
func Apply(base Snapshot, cs ChangeSet) (Snapshot, error) {
	type step struct {
		segs   []segment
		change Change
	}
	var sets, removals []step
	for path, change := range cs {
		segs, err := parsePath(path)
		if err != nil {
			return nil, appErrors.WrapAs(err, appErrors.ErrValidation, "invalid change path")
		}
		if change.Op == OpRemoved {
			removals = append(removals, step{segs: segs, change: change})
		} else {
			sets = append(sets, step{segs: segs, change: change})
		}
	}
	sort.Slice(sets, func(i, j int) bool { return comparePaths(sets[i].segs, sets[j].segs) < 0 })
	// trailing list elements must go highest index first
	sort.Slice(removals, func(i, j int) bool { return comparePaths(removals[i].segs, removals[j].segs) > 0 })

	var root any = map[string]any{}
	if base != nil {
		root = deepCopy(map[string]any(base))
	}
	var err error
	for _, s := range sets {
		if root, err = setAt(root, s.segs, deepCopy(s.change.To)); err != nil {
			return nil, fmt.Errorf("apply %s: %w", formatPath(s.segs), err)
		}
	}
	for _, s := range removals {
		if root, err = removeAt(root, s.segs); err != nil {
			return nil, fmt.Errorf("apply %s: %w", formatPath(s.segs), err)
		}
	}
	out, ok := root.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("apply produced a non-object root")
	}
	return Snapshot(out), nil
}

func setAt(node any, segs []segment, value any) (any, error) {
	if len(segs) == 0 {
		return value, nil
	}
	seg := segs[0]
	if seg.isIndex {
		var list []any
		if node != nil {
			typed, ok := node.([]any)
			if !ok {
				return nil, fmt.Errorf("index %d on non-list value", seg.index)
			}
			list = typed
		}
		for len(list) <= seg.index {
			list = append(list, nil)
		}
		child, err := setAt(list[seg.index], segs[1:], value)
		if err != nil {
			return nil, err
		}
		list[seg.index] = child
		return list, nil
	}
	m := map[string]any{}
	if node != nil {
		typed, ok := node.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("key %q on non-object value", seg.key)
		}
		m = typed
	}
	child, err := setAt(m[seg.key], segs[1:], value)
	if err != nil {
		return nil, err
	}
	m[seg.key] = child
	return m, nil
}

func removeAt(node any, segs []segment) (any, error) {
	seg := segs[0]
	last := len(segs) == 1
	if seg.isIndex {
		list, ok := node.([]any)
		if !ok || seg.index >= len(list) {
			return nil, fmt.Errorf("index %d out of range", seg.index)
		}
		if last {
			return append(list[:seg.index:seg.index], list[seg.index+1:]...), nil
		}
		child, err := removeAt(list[seg.index], segs[1:])
		if err != nil {
			return nil, err
		}
		list[seg.index] = child
		return list, nil
	}
	m, ok := node.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("key %q on non-object value", seg.key)
	}
	if last {
		delete(m, seg.key)
		return m, nil
	}
	child, err := removeAt(m[seg.key], segs[1:])
	if err != nil {
		return nil, err
	}
	m[seg.key] = child
	return m, nil
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	encA, errA := json.Marshal(a)
	encB, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(encA, encB)
}

func unionKeys(a, b map[string]any) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	keys := make([]string, 0, len(a)+len(b))
	for _, m := range []map[string]any{a, b} {
		for key := range m {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
