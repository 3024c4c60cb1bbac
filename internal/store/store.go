// Package store defines the ledger store port the rest of the system is
// written against: a key/value document store with get/set/delete/list and
// an atomic read-modify-write update. Two adapters are provided, an
// in-process map for tests and standalone runs, and Redis for deployments.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

// Path prefixes and settings documents. The names mirror the original
// panel's database layout so existing data remains addressable.
const (
	KeysPrefix     = "keys_code/"
	AccountsPrefix = "users/"
	ReferralPrefix = "referral_code/"

	MaintenancePath = "settings/maintenance"
	DefensePath     = "settings/defense"
	PricingPath     = "settings/key_pricing"
	EncryptionPath  = "settings/encrypted_api"
	FeaturesPath    = "settings/features"
	ModInfoPath     = "settings/modinfo"
)

var (
	// ErrNotFound is returned when no document exists at the given path.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned by Update when the document changed
	// concurrently and the configured retry budget was exhausted.
	ErrConflict = errors.New("store: conflict")
)

// UpdateFunc transforms the current document into its replacement. current
// is nil when no document exists at the path. Returning an error aborts the
// update without writing; the error propagates to the caller unchanged.
//
// The function may be invoked more than once under contention and must be
// free of side effects.
type UpdateFunc func(current json.RawMessage) (updated any, err error)

// Store is the ledger store port.
type Store interface {
	// Get decodes the document at path into out.
	Get(ctx context.Context, path string, out any) error
	// Set writes the document at path unconditionally.
	Set(ctx context.Context, path string, v any) error
	// Delete removes the document at path. Deleting a missing document
	// is not an error.
	Delete(ctx context.Context, path string) error
	// List returns all documents whose path begins with prefix, keyed by
	// full path.
	List(ctx context.Context, prefix string) (map[string]json.RawMessage, error)
	// Update atomically applies fn to the document at path. The
	// check-then-write is serialized per path: concurrent updates never
	// interleave between fn observing the document and the write landing.
	Update(ctx context.Context, path string, fn UpdateFunc) error
}

// decode unmarshals raw into out, mapping an absent document to ErrNotFound.
func decode(raw []byte, out any) error {
	if raw == nil {
		return ErrNotFound
	}
	return json.Unmarshal(raw, out)
}
