// Package strings holds the string helpers shared by configuration parsing
// and credential document composition.
package strings

import (
	"strings"
)

// MergeUnique concatenates the lists in order, keeping the first occurrence
// of each value and dropping empty ones. JSON-LD @context and type arrays are
// built this way.
func MergeUnique(lists ...[]string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, v := range list {
			if _, dup := seen[v]; dup || v == "" {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// SplitList turns a comma-separated setting such as "kafka-1:9092, kafka-2:9092"
// into its trimmed, distinct entries. A blank value yields nil.
func SplitList(value string) []string {
	parts := strings.Split(value, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return MergeUnique(parts)
}
