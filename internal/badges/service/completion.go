package service

import (
	"github.com/google/uuid"

	"credentials/internal/badges/models"
)

// CompletionPolicy decides whether a template is earned given its active
// requirements and the set of fulfilled requirement IDs.
type CompletionPolicy interface {
	Complete(requirements []models.BadgeRequirement, fulfilled map[uuid.UUID]struct{}) bool
}

// CompletionFunc adapts a function to CompletionPolicy.
type CompletionFunc func(requirements []models.BadgeRequirement, fulfilled map[uuid.UUID]struct{}) bool

func (f CompletionFunc) Complete(requirements []models.BadgeRequirement, fulfilled map[uuid.UUID]struct{}) bool {
	return f(requirements, fulfilled)
}

// AllRequirements completes a template once every active requirement is
// fulfilled. Groups are ignored. A template without active requirements is
// never complete.
var AllRequirements CompletionPolicy = CompletionFunc(func(requirements []models.BadgeRequirement, fulfilled map[uuid.UUID]struct{}) bool {
	active := 0
	for _, r := range requirements {
		if !r.IsActive {
			continue
		}
		active++
		if _, ok := fulfilled[r.ID]; !ok {
			return false
		}
	}
	return active > 0
})
