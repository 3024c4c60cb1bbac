package keys

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"kuropanel/internal/domain"
	"kuropanel/internal/store"
)

// SweepKind selects which keys a bulk sweep removes.
type SweepKind string

const (
	// SweepAll removes every key.
	SweepAll SweepKind = "all"
	// SweepExpired removes keys whose expiry has passed. Provisioned keys
	// (no expiry yet) are kept.
	SweepExpired SweepKind = "expired"
	// SweepUnused removes keys that never registered a device.
	SweepUnused SweepKind = "unused"
)

// Sweep deletes keys matching the kind and returns how many were removed.
func (m *Manager) Sweep(ctx context.Context, kind SweepKind) (int, error) {
	docs, err := m.store.List(ctx, store.KeysPrefix)
	if err != nil {
		return 0, fmt.Errorf("list keys: %w", err)
	}
	now := m.now().UTC()
	deleted := 0
	for path, raw := range docs {
		var key domain.Key
		if err := json.Unmarshal(raw, &key); err != nil {
			return deleted, fmt.Errorf("decode key at %s: %w", path, err)
		}
		var match bool
		switch kind {
		case SweepAll:
			match = true
		case SweepExpired:
			match = key.Expired(now)
		case SweepUnused:
			match = len(key.Devices) == 0
		default:
			return deleted, fmt.Errorf("keys: unknown sweep kind %q", kind)
		}
		if !match {
			continue
		}
		if err := m.store.Delete(ctx, path); err != nil {
			return deleted, fmt.Errorf("delete key at %s: %w", path, err)
		}
		deleted++
	}
	m.logger.InfoContext(ctx, "bulk sweep completed",
		slog.String("kind", string(kind)),
		slog.Int("deleted", deleted))
	return deleted, nil
}
