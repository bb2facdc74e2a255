// Package rules evaluates badge data rules against learning-event payloads.
//
// Payloads are normalized into plain trees of map[string]any, []any,
// json.Number, string, bool and nil before any rule is evaluated.
package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"credentials/internal/badges/models"
)

// MaxDepth bounds the user search through nested payloads.
const MaxDepth = 32

// ErrCannotIdentifyUser means no user structure was found in the payload.
var ErrCannotIdentifyUser = errors.New("cannot identify user in event payload")

// Normalize converts any JSON-encodable value into a plain tree.
// Struct fields become map keys following their json tags.
func Normalize(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return NormalizeJSON(data)
}

// NormalizeJSON decodes a JSON object into a plain tree, keeping numbers in
// their textual form.
func NormalizeJSON(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree map[string]any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if tree == nil {
		return nil, errors.New("decode payload: not a JSON object")
	}
	return tree, nil
}

// ExtractUser finds the acting user by depth-first search for a "user" object
// carrying a non-empty pii.username. Keys are visited in sorted order.
func ExtractUser(tree map[string]any) (models.UserData, error) {
	if user, ok := findUser(tree, 0); ok {
		return user, nil
	}
	return models.UserData{}, ErrCannotIdentifyUser
}

func findUser(node any, depth int) (models.UserData, bool) {
	if depth > MaxDepth {
		return models.UserData{}, false
	}
	switch n := node.(type) {
	case map[string]any:
		if candidate, ok := n["user"].(map[string]any); ok {
			if user, ok := toUserData(candidate); ok {
				return user, true
			}
		}
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if user, ok := findUser(n[k], depth+1); ok {
				return user, true
			}
		}
	case []any:
		for _, item := range n {
			if user, ok := findUser(item, depth+1); ok {
				return user, true
			}
		}
	}
	return models.UserData{}, false
}

func toUserData(m map[string]any) (models.UserData, bool) {
	pii, _ := m["pii"].(map[string]any)
	username, _ := pii["username"].(string)
	if strings.TrimSpace(username) == "" {
		return models.UserData{}, false
	}
	user := models.UserData{Username: username}
	user.Email, _ = pii["email"].(string)
	user.Name, _ = pii["name"].(string)
	user.IsActive, _ = m["is_active"].(bool)
	switch id := m["id"].(type) {
	case json.Number:
		user.ID, _ = id.Int64()
	case float64:
		user.ID = int64(id)
	case int64:
		user.ID = id
	case int:
		user.ID = int64(id)
	}
	return user, true
}
