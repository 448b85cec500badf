package util

import (
	"net/netip"
	"sort"
	"strings"
)

// =============================================================================
// Host Validation Helpers
// =============================================================================

// internalSuffixes are TLDs that never reach a public relay.
var internalSuffixes = []string{".local", ".internal", ".onion", ".localhost"}

// IsInternalHost reports whether host sits under a private or overlay TLD.
func IsInternalHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for _, suffix := range internalSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// IsLoopbackHost reports localhost and loopback IP literals, bracketed or not.
func IsLoopbackHost(host string) bool {
	host = strings.Trim(strings.ToLower(host), "[]")
	if host == "localhost" {
		return true
	}
	addr, err := netip.ParseAddr(host)
	return err == nil && addr.IsLoopback()
}

// =============================================================================
// Tag Extraction Helpers
// =============================================================================

// TagAt returns tag[i] or "" when the tag is too short.
// Reference tags carry optional positions that relays often send as "".
func TagAt(tag []string, i int) string {
	if i < 0 || i >= len(tag) {
		return ""
	}
	return tag[i]
}

// =============================================================================
// Slice Helpers
// =============================================================================

// LimitSlice returns at most n elements of slice.
func LimitSlice[T any](slice []T, n int) []T {
	if n <= 0 {
		return nil
	}
	if len(slice) <= n {
		return slice
	}
	return slice[:n]
}

// SortedCopy returns a sorted copy of a string slice.
// The original slice is not modified.
// Useful for building stable cache keys from unordered inputs.
func SortedCopy(slice []string) []string {
	if len(slice) == 0 {
		return nil
	}
	sorted := make([]string, len(slice))
	copy(sorted, slice)
	sort.Strings(sorted)
	return sorted
}

// UniqueStrings returns the non-empty values of the given slices in first-seen order.
func UniqueStrings(slices ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range slices {
		for _, v := range s {
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) <= size {
		if len(items) == 0 {
			return nil
		}
		return [][]T{items}
	}
	var chunks [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// FilterSlice returns a new slice containing only elements that satisfy the predicate.
// The original slice is not modified.
func FilterSlice[T any](items []T, predicate func(T) bool) []T {
	result := make([]T, 0, len(items))
	for _, item := range items {
		if predicate(item) {
			result = append(result, item)
		}
	}
	return result
}

// MapSlice applies fn to every element of items.
func MapSlice[T, U any](items []T, fn func(T) U) []U {
	out := make([]U, len(items))
	for i, item := range items {
		out[i] = fn(item)
	}
	return out
}
