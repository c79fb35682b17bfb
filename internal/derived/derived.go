// Package derived holds pure projections over collection snapshots and
// working drafts: search filtering, grouping, numeric totals and document
// expiry classification. Nothing here caches; every call recomputes.
package derived

import (
	"math"
	"strconv"
	"strings"
)

// FilterBySearchTerm returns the items for which any of the given fields
// contains term, ignoring case and surrounding whitespace in term. An empty
// (or all-whitespace) term returns items unchanged.
func FilterBySearchTerm[T any](items []T, term string, fields ...func(T) string) []T {
	q := strings.ToLower(strings.TrimSpace(term))
	if q == "" {
		return items
	}

	filtered := make([]T, 0, len(items))
	for _, item := range items {
		for _, field := range fields {
			if strings.Contains(strings.ToLower(field(item)), q) {
				filtered = append(filtered, item)
				break
			}
		}
	}
	return filtered
}

// Group is one bucket of a GroupBy result.
type Group[K comparable, T any] struct {
	Key   K   `json:"key"`
	Items []T `json:"items"`
}

// GroupBy buckets items by key. Groups appear in the order their key was
// first seen, and items keep their relative order within a group.
func GroupBy[T any, K comparable](items []T, keyFn func(T) K) []Group[K, T] {
	var groups []Group[K, T]
	index := make(map[K]int)
	for _, item := range items {
		k := keyFn(item)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group[K, T]{Key: k})
		}
		groups[i].Items = append(groups[i].Items, item)
	}
	return groups
}

// ParseAmount parses a user-entered amount. Surrounding whitespace and
// thousands separators are ignored. Empty, unparseable, NaN and infinite
// input yields 0.
func ParseAmount(s string) float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// FormatAmount renders an amount with two decimals.
func FormatAmount(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// SumNumericField sums the amounts fieldFn extracts from rows, counting
// anything ParseAmount rejects as zero. The result is always finite.
func SumNumericField[T any](rows []T, fieldFn func(T) string) float64 {
	var total float64
	for _, row := range rows {
		total += ParseAmount(fieldFn(row))
	}
	if math.IsInf(total, 0) {
		return 0
	}
	return total
}

// Percentage returns part as a percentage of total, 0 when total is 0.
func Percentage(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) * 100 / float64(total)
}

// IDs projects items to their ids, preserving order.
func IDs[T any, K comparable](items []T, idFn func(T) K) []K {
	ids := make([]K, len(items))
	for i, item := range items {
		ids[i] = idFn(item)
	}
	return ids
}

// OrderBySource returns the members of selected that still exist in source,
// deduplicated and in source order. Stale ids are dropped.
func OrderBySource[K comparable](selected, source []K) []K {
	want := make(map[K]struct{}, len(selected))
	for _, id := range selected {
		want[id] = struct{}{}
	}
	out := make([]K, 0, len(want))
	for _, id := range source {
		if _, ok := want[id]; ok {
			out = append(out, id)
			delete(want, id)
		}
	}
	return out
}
