package gql

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Path addresses a position in a response tree. Elements are field response
// names (string) or list indices (int).
type Path []PathElement

type PathElement any

// Append returns a new path with elem appended; p is never mutated.
func (p Path) Append(elem ...PathElement) Path {
	out := make(Path, len(p), len(p)+len(elem))
	copy(out, p)
	return append(out, elem...)
}

// Concat returns p followed by q.
func (p Path) Concat(q Path) Path {
	return p.Append(q...)
}

func (p Path) String() string {
	var b strings.Builder
	for i, elem := range p {
		switch v := elem.(type) {
		case string:
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(v)
		case int:
			b.WriteString("[" + strconv.Itoa(v) + "]")
		default:
			fmt.Fprintf(&b, "<%v>", v)
		}
	}
	return b.String()
}

// Equal reports whether both paths have identical elements.
func (p Path) Equal(q Path) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is a leading subsequence of p.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	return p[:len(prefix)].Equal(prefix)
}

// NormalizePath converts a decoded JSON path (numbers as float64 or
// json.Number) into a Path with int indices. Unsupported elements yield false.
func NormalizePath(raw []any) (Path, bool) {
	if raw == nil {
		return nil, true
	}
	out := make(Path, 0, len(raw))
	for _, elem := range raw {
		switch v := elem.(type) {
		case string:
			out = append(out, v)
		case int:
			out = append(out, v)
		case float64:
			if v != float64(int(v)) {
				return nil, false
			}
			out = append(out, int(v))
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				return nil, false
			}
			out = append(out, int(n))
		default:
			return nil, false
		}
	}
	return out, true
}
