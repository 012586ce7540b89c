// Package strings normalizes identifier values for requests and identity views.
package strings

import "slices"

// SortedUnique returns the distinct non-empty values in plain lexicographic
// (byte-wise) ascending order. Values are compared exactly as given; no
// trimming or case folding is applied. The result is never nil so it encodes
// as an empty JSON array.
//
// Example:
//
//	SortedUnique([]string{"b@y.com", "a@x.com", "b@y.com", ""})
//	// Returns: []string{"a@x.com", "b@y.com"}
func SortedUnique(values []string) []string {
	result := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			result = append(result, v)
		}
	}
	slices.Sort(result)
	return slices.Compact(result)
}

// EmptyToNil returns nil for a nil or empty string. The value is not trimmed;
// whitespace is significant in identifiers.
func EmptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
