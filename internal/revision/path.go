package revision

import (
	"fmt"
	"strconv"
	"strings"
)

// segment is one step of a field path: a map key or a list index.
type segment struct {
	key     string
	index   int
	isIndex bool
}

func keySeg(key string) segment { return segment{key: key} }
func indexSeg(i int) segment    { return segment{index: i, isIndex: true} }

func appendSeg(path []segment, seg segment) []segment {
	out := make([]segment, len(path), len(path)+1)
	copy(out, path)
	return append(out, seg)
}

// emptyKey is the path form of the empty object key.
const emptyKey = `\e`

// formatPath renders segments as `a.b[2].c`. Keys containing path syntax are
// backslash-escaped and the empty key is written as `\e`.
func formatPath(path []segment) string {
	var b strings.Builder
	for i, seg := range path {
		if seg.isIndex {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(seg.index))
			b.WriteByte(']')
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(escapeKey(seg.key))
	}
	return b.String()
}

func escapeKey(key string) string {
	if key == "" {
		return emptyKey
	}
	if !strings.ContainsAny(key, `.[]\`) {
		return key
	}
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// parsePath is the inverse of formatPath.
func parsePath(path string) ([]segment, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}
	var (
		segs    []segment
		key     strings.Builder
		pending bool
	)
	flush := func() {
		if pending {
			segs = append(segs, keySeg(key.String()))
			key.Reset()
			pending = false
		}
	}
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch c {
		case '\\':
			if i+1 >= len(path) {
				return nil, fmt.Errorf("path %q: dangling escape", path)
			}
			i++
			if path[i] == 'e' {
				if pending || (i+1 < len(path) && path[i+1] != '.' && path[i+1] != '[') {
					return nil, fmt.Errorf("path %q: empty key marker inside key at offset %d", path, i-1)
				}
				pending = true
				continue
			}
			key.WriteByte(path[i])
			pending = true
		case '.':
			if !pending && (len(segs) == 0 || !segs[len(segs)-1].isIndex) {
				return nil, fmt.Errorf("path %q: empty key at offset %d", path, i)
			}
			flush()
		case '[':
			flush()
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("path %q: unterminated index", path)
			}
			idx, err := strconv.Atoi(path[i+1 : i+end])
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("path %q: invalid index %q", path, path[i+1:i+end])
			}
			segs = append(segs, indexSeg(idx))
			i += end
		default:
			key.WriteByte(c)
			pending = true
		}
	}
	flush()
	return segs, nil
}

// comparePaths orders paths segment by segment, list indices numerically.
func comparePaths(a, b []segment) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		x, y := a[i], b[i]
		switch {
		case x.isIndex && y.isIndex:
			if x.index != y.index {
				if x.index < y.index {
					return -1
				}
				return 1
			}
		case x.isIndex != y.isIndex:
			if x.isIndex {
				return 1
			}
			return -1
		default:
			if c := strings.Compare(x.key, y.key); c != 0 {
				return c
			}
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}
