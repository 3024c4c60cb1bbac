// Package keys implements the license key lifecycle: provisioning,
// activation on first validation, bounded device admission, operator edits,
// and bulk sweeps.
//
// A key moves Provisioned -> Activated -> {Valid, Expired} on the temporal
// axis while the operator toggles Active/Blocked independently. Every
// mutation that carries an invariant (activation, device admission) goes
// through the store's conditional update so races converge.
package keys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kuropanel/internal/domain"
	"kuropanel/internal/store"
)

// ErrNotFound is returned when no key matches the lookup.
var ErrNotFound = errors.New("keys: not found")

// Admission is the outcome of a device admission attempt.
type Admission int

const (
	// Admitted means the device was appended to the key's device set.
	Admitted Admission = iota
	// AlreadyRegistered means the device was present; no mutation. The
	// validation flow treats this the same as Admitted.
	AlreadyRegistered
	// DeviceLimitReached means the set is full and the device was not
	// registered.
	DeviceLimitReached
)

func (a Admission) String() string {
	switch a {
	case Admitted:
		return "admitted"
	case AlreadyRegistered:
		return "already_registered"
	default:
		return "device_limit_reached"
	}
}

// CreateSpec is the operator's description of a key to provision.
type CreateSpec struct {
	Game         string
	Secret       string // generated when empty
	Duration     int
	DurationUnit domain.DurationUnit
	MaxDevices   int
}

// Manager owns all reads and writes of key records.
type Manager struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a key manager over the given store.
func NewManager(s store.Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:  s,
		logger: logger.With(slog.String("component", "keys")),
		now:    time.Now,
	}
}

// Create provisions a new key. The caller is responsible for having debited
// the issuance cost first. The key starts active with an empty device set
// and no expiry; the expiry anchors on first successful validation.
func (m *Manager) Create(ctx context.Context, spec CreateSpec, owner string) (*domain.Key, error) {
	if spec.Duration <= 0 {
		return nil, fmt.Errorf("keys: duration must be positive, got %d", spec.Duration)
	}
	if spec.MaxDevices < 1 {
		return nil, fmt.Errorf("keys: max_devices must be at least 1, got %d", spec.MaxDevices)
	}
	if !spec.DurationUnit.Valid() {
		return nil, fmt.Errorf("keys: unknown duration unit %q", spec.DurationUnit)
	}
	secret := spec.Secret
	if secret == "" {
		secret = uuid.New().String()
	}
	now := m.now().UTC()
	key := &domain.Key{
		ID:           uuid.New().String(),
		Game:         spec.Game,
		Secret:       secret,
		Duration:     spec.Duration,
		DurationUnit: spec.DurationUnit,
		MaxDevices:   spec.MaxDevices,
		Devices:      nil,
		Status:       domain.KeyActive,
		Registrator:  owner,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.Set(ctx, store.KeysPrefix+key.ID, key); err != nil {
		return nil, fmt.Errorf("persist key: %w", err)
	}
	m.logger.InfoContext(ctx, "key created",
		slog.String("key_id", key.ID),
		slog.String("game", key.Game),
		slog.String("registrator", owner),
		slog.Int("duration", key.Duration),
		slog.String("duration_unit", string(key.DurationUnit)),
		slog.Int("max_devices", key.MaxDevices))
	return key, nil
}

// Get returns the key record by storage ID.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Key, error) {
	var key domain.Key
	err := m.store.Get(ctx, store.KeysPrefix+id, &key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load key %s: %w", id, err)
	}
	return &key, nil
}

// List returns all key records.
func (m *Manager) List(ctx context.Context) ([]*domain.Key, error) {
	docs, err := m.store.List(ctx, store.KeysPrefix)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	out := make([]*domain.Key, 0, len(docs))
	for _, raw := range docs {
		var key domain.Key
		if err := json.Unmarshal(raw, &key); err != nil {
			return nil, fmt.Errorf("decode key: %w", err)
		}
		out = append(out, &key)
	}
	return out, nil
}

// Resolve finds the key addressed by the (secret, game) pair. That pair, not
// the record ID, is how clients identify keys.
func (m *Manager) Resolve(ctx context.Context, secret, game string) (*domain.Key, error) {
	docs, err := m.store.List(ctx, store.KeysPrefix)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	for _, raw := range docs {
		var key domain.Key
		if err := json.Unmarshal(raw, &key); err != nil {
			return nil, fmt.Errorf("decode key: %w", err)
		}
		if key.Secret == secret && key.Game == game {
			return &key, nil
		}
	}
	return nil, ErrNotFound
}

// EnsureActivated anchors the key's expiry on first use: expires_at becomes
// created_at + duration in the key's unit. Idempotent: once set, subsequent
// calls observe the stored value and never recompute. Two racing first
// validations converge on one value because the conditional update re-reads
// the record before writing.
func (m *Manager) EnsureActivated(ctx context.Context, key *domain.Key) (*domain.Key, error) {
	if key.Activated() {
		return key, nil
	}
	var result domain.Key
	err := m.store.Update(ctx, store.KeysPrefix+key.ID, func(current json.RawMessage) (any, error) {
		if current == nil {
			return nil, ErrNotFound
		}
		var k domain.Key
		if err := json.Unmarshal(current, &k); err != nil {
			return nil, err
		}
		if !k.Activated() {
			exp := domain.ExpiryFrom(k.CreatedAt, k.Duration, k.DurationUnit)
			k.ExpiresAt = &exp
			k.UpdatedAt = m.now().UTC()
		}
		result = k
		return &k, nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "key activated",
		slog.String("key_id", result.ID),
		slog.Time("expires_at", *result.ExpiresAt))
	return &result, nil
}

// AdmitDevice registers deviceID against the key, respecting max_devices.
// The check-then-append is a single conditional update, so concurrent
// admissions can never overshoot the bound.
func (m *Manager) AdmitDevice(ctx context.Context, keyID, deviceID string) (Admission, *domain.Key, error) {
	var (
		admission Admission
		result    domain.Key
	)
	err := m.store.Update(ctx, store.KeysPrefix+keyID, func(current json.RawMessage) (any, error) {
		if current == nil {
			return nil, ErrNotFound
		}
		var k domain.Key
		if err := json.Unmarshal(current, &k); err != nil {
			return nil, err
		}
		switch {
		case k.Devices.Contains(deviceID):
			admission = AlreadyRegistered
		case len(k.Devices) >= k.MaxDevices:
			admission = DeviceLimitReached
		default:
			admission = Admitted
			k.Devices = append(k.Devices, deviceID)
			k.UpdatedAt = m.now().UTC()
		}
		result = k
		return &k, nil
	})
	if err != nil {
		return 0, nil, err
	}
	if admission == Admitted {
		m.logger.InfoContext(ctx, "device admitted",
			slog.String("key_id", keyID),
			slog.Int("devices", len(result.Devices)),
			slog.Int("max_devices", result.MaxDevices))
	}
	return admission, &result, nil
}

// SetStatus toggles the operator-controlled status axis.
func (m *Manager) SetStatus(ctx context.Context, keyID string, status domain.KeyStatus) (*domain.Key, error) {
	if status != domain.KeyActive && status != domain.KeyBlocked {
		return nil, fmt.Errorf("keys: unknown status %q", status)
	}
	return m.mutate(ctx, keyID, func(k *domain.Key) error {
		k.Status = status
		return nil
	})
}

// ResetDevices clears the device set, leaving the expiry untouched.
func (m *Manager) ResetDevices(ctx context.Context, keyID string) (*domain.Key, error) {
	return m.mutate(ctx, keyID, func(k *domain.Key) error {
		k.Devices = nil
		return nil
	})
}

// Edit applies an operator edit. A changed duration recomputes the expiry
// from the original creation time, not from the moment of the edit, and only
// if the key was already activated.
type Edit struct {
	Duration   *int
	MaxDevices *int
	Secret     *string
}

// ApplyEdit mutates the key per the edit.
func (m *Manager) ApplyEdit(ctx context.Context, keyID string, edit Edit) (*domain.Key, error) {
	return m.mutate(ctx, keyID, func(k *domain.Key) error {
		if edit.Duration != nil && *edit.Duration != k.Duration {
			if *edit.Duration <= 0 {
				return fmt.Errorf("keys: duration must be positive, got %d", *edit.Duration)
			}
			k.Duration = *edit.Duration
			if k.Activated() {
				exp := domain.ExpiryFrom(k.CreatedAt, k.Duration, k.DurationUnit)
				k.ExpiresAt = &exp
			}
		}
		if edit.MaxDevices != nil {
			if *edit.MaxDevices < 1 {
				return fmt.Errorf("keys: max_devices must be at least 1, got %d", *edit.MaxDevices)
			}
			if len(k.Devices) > *edit.MaxDevices {
				return fmt.Errorf("keys: %d devices registered, cannot lower max_devices to %d",
					len(k.Devices), *edit.MaxDevices)
			}
			k.MaxDevices = *edit.MaxDevices
		}
		if edit.Secret != nil && *edit.Secret != "" {
			k.Secret = *edit.Secret
		}
		return nil
	})
}

// Delete removes the key record.
func (m *Manager) Delete(ctx context.Context, keyID string) error {
	if err := m.store.Delete(ctx, store.KeysPrefix+keyID); err != nil {
		return fmt.Errorf("delete key %s: %w", keyID, err)
	}
	m.logger.InfoContext(ctx, "key deleted", slog.String("key_id", keyID))
	return nil
}

// mutate applies fn to the key inside a conditional update and stamps
// updated_at.
func (m *Manager) mutate(ctx context.Context, keyID string, fn func(*domain.Key) error) (*domain.Key, error) {
	var result domain.Key
	err := m.store.Update(ctx, store.KeysPrefix+keyID, func(current json.RawMessage) (any, error) {
		if current == nil {
			return nil, ErrNotFound
		}
		var k domain.Key
		if err := json.Unmarshal(current, &k); err != nil {
			return nil, err
		}
		if err := fn(&k); err != nil {
			return nil, err
		}
		k.UpdatedAt = m.now().UTC()
		result = k
		return &k, nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
