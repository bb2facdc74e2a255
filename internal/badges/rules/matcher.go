package rules

import (
	"encoding/json"
	"strconv"
	"strings"

	"credentials/internal/badges/models"
)

// Resolve descends tree along the dot-separated path.
// It reports false when a segment is missing or a non-object is reached early.
func Resolve(tree any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	current := tree
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Matches reports whether every rule holds for tree. An empty rule set matches.
func Matches(rules []models.DataRule, tree map[string]any) bool {
	for _, rule := range rules {
		if !Match(rule, tree) {
			return false
		}
	}
	return true
}

// Match evaluates a single rule.
func Match(rule models.DataRule, tree map[string]any) bool {
	value, ok := Resolve(tree, rule.Path)
	if !ok {
		return false
	}
	switch rule.Operator {
	case models.OperatorEq, "":
		return equals(value, rule.Value)
	default:
		return false
	}
}

// equals compares the textual form of a scalar leaf with the rule value.
// Null and container leaves never match.
func equals(value any, expected string) bool {
	switch v := value.(type) {
	case string:
		return v == expected
	case json.Number:
		return v.String() == expected
	case bool:
		return strings.EqualFold(strconv.FormatBool(v), expected)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64) == expected
	case int:
		return strconv.Itoa(v) == expected
	case int64:
		return strconv.FormatInt(v, 10) == expected
	default:
		return false
	}
}
