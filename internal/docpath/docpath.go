// Package docpath reads and writes JSON-shaped documents (map[string]any,
// []any and scalars) by dot-separated path. Writes never mutate their input:
// every container on the path to the change is copied, everything off the
// path is shared.
//
// Path segments address map keys by name and slice elements by decimal
// index, e.g. "tables.0.rows.2.amount". Patterns may use "*" to match any
// single segment, e.g. "pics.*.emails".
package docpath

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// Wildcard matches any single path segment in a pattern.
const Wildcard = "*"

var (
	// ErrInvalidPath is returned for empty paths and empty segments.
	ErrInvalidPath = errors.New("docpath: invalid path")
	// ErrNotFound is returned when a path does not resolve.
	ErrNotFound = errors.New("docpath: path not found")
	// ErrNotContainer is returned when a path walks through a scalar.
	ErrNotContainer = errors.New("docpath: not a container")
)

// Split parses a path into its segments.
func Split(path string) ([]string, error) {
	if path == "" {
		return nil, ErrInvalidPath
	}
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		}
	}
	return parts, nil
}

// Join builds a path from segments.
func Join(parts ...string) string {
	return strings.Join(parts, ".")
}

// Index returns the path of element i of the group at path.
func Index(path string, i int) string {
	return path + "." + strconv.Itoa(i)
}

// Get returns the value at path and whether it exists.
func Get(doc any, path string) (any, bool) {
	parts, err := Split(path)
	if err != nil {
		return nil, false
	}
	current := doc
	for _, part := range parts {
		switch c := current.(type) {
		case map[string]any:
			v, ok := c[part]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(c) {
				return nil, false
			}
			current = c[i]
		default:
			return nil, false
		}
	}
	return current, true
}

// GetString returns the value at path as a string. Numbers and booleans are
// formatted; absent and null values yield "".
func GetString(doc any, path string) string {
	v, ok := Get(doc, path)
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(s)
	}
}

// GetList returns the slice at path, or nil if the path does not hold a list.
func GetList(doc any, path string) []any {
	v, ok := Get(doc, path)
	if !ok {
		return nil
	}
	list, _ := v.([]any)
	return list
}

// Set returns a copy of doc with the value at path replaced. Missing map keys
// along the path are created as objects; slice indexes must already exist.
// doc itself is never modified.
func Set(doc any, path string, value any) (any, error) {
	parts, err := Split(path)
	if err != nil {
		return nil, err
	}
	return setAt(doc, parts, value, path)
}

func setAt(current any, parts []string, value any, full string) (any, error) {
	if len(parts) == 0 {
		return value, nil
	}
	head, rest := parts[0], parts[1:]

	switch c := current.(type) {
	case nil:
		child, err := setAt(nil, rest, value, full)
		if err != nil {
			return nil, err
		}
		return map[string]any{head: child}, nil

	case map[string]any:
		child, err := setAt(c[head], rest, value, full)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(c)+1)
		for k, v := range c {
			out[k] = v
		}
		out[head] = child
		return out, nil

	case []any:
		i, err := strconv.Atoi(head)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an index in %q", ErrInvalidPath, head, full)
		}
		if i < 0 || i >= len(c) {
			return nil, fmt.Errorf("%w: index %d out of range in %q", ErrNotFound, i, full)
		}
		child, err := setAt(c[i], rest, value, full)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(c))
		copy(out, c)
		out[i] = child
		return out, nil

	default:
		return nil, fmt.Errorf("%w: segment %q of %q", ErrNotContainer, head, full)
	}
}

// Clone returns a deep copy of a JSON-shaped value.
func Clone(v any) any {
	switch c := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(c))
		for k, e := range c {
			out[k] = Clone(e)
		}
		return out
	case []any:
		out := make([]any, len(c))
		for i, e := range c {
			out[i] = Clone(e)
		}
		return out
	default:
		return v
	}
}

// Normalize converts any JSON-serializable value (structs, typed slices,
// ints) into its generic JSON shape so that it can be addressed by path and
// compared with Equal.
func Normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("docpath: normalize: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("docpath: normalize: %w", err)
	}
	return out, nil
}

// Equal reports whether two JSON-shaped documents hold the same data.
func Equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// Match reports whether a concrete path matches a pattern segment by segment.
func Match(pattern, path string) bool {
	pp := strings.Split(pattern, ".")
	ps := strings.Split(path, ".")
	if len(pp) != len(ps) {
		return false
	}
	for i := range pp {
		if pp[i] != Wildcard && pp[i] != ps[i] {
			return false
		}
	}
	return true
}

// Expand resolves a pattern against doc and returns every concrete path that
// exists, in document order. Wildcards expand over slice indexes and over map
// keys (sorted, so the result is deterministic).
func Expand(doc any, pattern string) []string {
	parts, err := Split(pattern)
	if err != nil {
		return nil
	}
	var out []string
	expand(doc, parts, nil, &out)
	return out
}

func expand(current any, parts, prefix []string, out *[]string) {
	if len(parts) == 0 {
		*out = append(*out, Join(prefix...))
		return
	}
	head, rest := parts[0], parts[1:]

	switch c := current.(type) {
	case map[string]any:
		if head != Wildcard {
			if v, ok := c[head]; ok {
				expand(v, rest, appendSeg(prefix, head), out)
			}
			return
		}
		for _, k := range slices.Sorted(maps.Keys(c)) {
			expand(c[k], rest, appendSeg(prefix, k), out)
		}
	case []any:
		if head != Wildcard {
			i, err := strconv.Atoi(head)
			if err == nil && i >= 0 && i < len(c) {
				expand(c[i], rest, appendSeg(prefix, head), out)
			}
			return
		}
		for i := range c {
			expand(c[i], rest, appendSeg(prefix, strconv.Itoa(i)), out)
		}
	}
}

func appendSeg(prefix []string, seg string) []string {
	out := make([]string, len(prefix)+1)
	copy(out, prefix)
	out[len(prefix)] = seg
	return out
}
