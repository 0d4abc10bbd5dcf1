package service

import (
	"slices"
	"strings"
)

// Fuse deduplicates candidates by case-folded name, keeping the most
// confident instance, and returns them sorted by confidence, truncated to
// limit (or defaultLimit when limit <= 0). Equal confidences keep the order
// in which their names were first seen.
func Fuse(candidates []TagSuggestion, limit, defaultLimit int) []TagSuggestion {
	merged := make([]TagSuggestion, 0, len(candidates))
	index := make(map[string]int, len(candidates))
	for _, c := range candidates {
		c.Confidence = clamp01(c.Confidence)
		key := strings.ToLower(c.Name)
		i, ok := index[key]
		if !ok {
			index[key] = len(merged)
			merged = append(merged, c)
			continue
		}
		if c.Confidence > merged[i].Confidence {
			merged[i] = c
		}
	}

	slices.SortStableFunc(merged, func(a, b TagSuggestion) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return 0
	})

	n := limit
	if n <= 0 {
		n = defaultLimit
	}
	n = min(max(1, n), len(merged))
	return merged[:n]
}
