// Package storages describes the wallets credentials can be issued into.
package storages

import (
	"fmt"
	"maps"
	"slices"

	"credentials/internal/verifiable/models"
	dErrors "credentials/pkg/domain-errors"
	"credentials/pkg/validation"
)

// Storage identifiers.
const (
	LCWallet  = "lc_wallet"
	WebWallet = "web_wallet"
)

// Request is the validated issuance request body of a storage.
type Request struct {
	HolderID       string `json:"holder_id" validate:"required,did"`
	ExpirationDate string `json:"expiration_date" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// Storage is one wallet with its request schema and preferred data model.
type Storage struct {
	ID                 string
	Name               string
	PreferredDataModel string
	// Renames maps wallet-specific request fields onto Request fields.
	Renames map[string]string
}

// ParseRequest applies field renames and validates the request body.
// Failures are field-keyed validation errors.
func (s Storage) ParseRequest(body map[string]any) (*Request, error) {
	data := maps.Clone(body)
	if data == nil {
		data = map[string]any{}
	}
	for from, to := range s.Renames {
		if v, ok := data[from]; ok {
			if _, exists := data[to]; !exists {
				data[to] = v
			}
			delete(data, from)
		}
	}

	req := &Request{
		HolderID:       stringField(data, "holder_id"),
		ExpirationDate: stringField(data, "expiration_date"),
	}
	if err := validation.Validate(req); err != nil {
		return nil, err
	}
	return req, nil
}

func stringField(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

var builtin = []Storage{
	{
		ID:                 LCWallet,
		Name:               "Learner Credential Wallet",
		PreferredDataModel: models.DataModelOBv3,
		Renames:            map[string]string{"holder": "holder_id"},
	},
	{
		ID:                 WebWallet,
		Name:               "Web Wallet",
		PreferredDataModel: models.DataModelVC11,
	},
}

// Registry holds the enabled storages.
type Registry struct {
	storages map[string]Storage
}

// NewRegistry enables the built-in storages named by ids.
func NewRegistry(ids []string) (*Registry, error) {
	r := &Registry{storages: make(map[string]Storage, len(ids))}
	for _, id := range ids {
		idx := slices.IndexFunc(builtin, func(s Storage) bool { return s.ID == id })
		if idx < 0 {
			return nil, dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("unknown storage %q", id))
		}
		r.storages[id] = builtin[idx]
	}
	if len(r.storages) == 0 {
		return nil, dErrors.New(dErrors.CodeConfiguration, "at least one storage must be enabled")
	}
	return r, nil
}

// Get returns the enabled storage with the given id.
func (r *Registry) Get(id string) (Storage, error) {
	s, ok := r.storages[id]
	if !ok {
		return Storage{}, dErrors.NewValidation("unknown storage", map[string]string{
			"storage_id": fmt.Sprintf("storage %q is not enabled", id),
		})
	}
	return s, nil
}

// List returns the enabled storages ordered by id.
func (r *Registry) List() []Storage {
	out := slices.Collect(maps.Values(r.storages))
	slices.SortFunc(out, func(a, b Storage) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}
