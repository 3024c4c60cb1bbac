package keys

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kuropanel/internal/domain"
	"kuropanel/internal/store"
)

func newTestManager() *Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(store.NewMemory(), logger)
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("generates secret and id when absent", func(t *testing.T) {
		m := newTestManager()
		key, err := m.Create(ctx, CreateSpec{
			Game:         "pubg",
			Duration:     7,
			DurationUnit: domain.DurationDays,
			MaxDevices:   2,
		}, "owner")
		require.NoError(t, err)

		assert.NotEmpty(t, key.ID)
		assert.NotEmpty(t, key.Secret)
		assert.Equal(t, domain.KeyActive, key.Status)
		assert.Nil(t, key.ExpiresAt, "expiry anchors on first validation, not on creation")
		assert.Empty(t, key.Devices)
		assert.Equal(t, "owner", key.Registrator)
	})

	t.Run("keeps operator-chosen secret", func(t *testing.T) {
		m := newTestManager()
		key, err := m.Create(ctx, CreateSpec{
			Game:         "pubg",
			Secret:       "VIP-KEY-01",
			Duration:     1,
			DurationUnit: domain.DurationHours,
			MaxDevices:   1,
		}, "owner")
		require.NoError(t, err)
		assert.Equal(t, "VIP-KEY-01", key.Secret)
	})

	t.Run("rejects invalid specs", func(t *testing.T) {
		m := newTestManager()
		tests := []struct {
			name string
			spec CreateSpec
		}{
			{"zero duration", CreateSpec{Game: "g", Duration: 0, DurationUnit: domain.DurationDays, MaxDevices: 1}},
			{"negative duration", CreateSpec{Game: "g", Duration: -1, DurationUnit: domain.DurationDays, MaxDevices: 1}},
			{"zero max devices", CreateSpec{Game: "g", Duration: 1, DurationUnit: domain.DurationDays, MaxDevices: 0}},
			{"bad unit", CreateSpec{Game: "g", Duration: 1, DurationUnit: "weeks", MaxDevices: 1}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := m.Create(ctx, tt.spec, "owner")
				assert.Error(t, err)
			})
		}
	})
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	created, err := m.Create(ctx, CreateSpec{
		Game: "pubg", Secret: "s-1", Duration: 7,
		DurationUnit: domain.DurationDays, MaxDevices: 1,
	}, "owner")
	require.NoError(t, err)

	key, err := m.Resolve(ctx, "s-1", "pubg")
	require.NoError(t, err)
	assert.Equal(t, created.ID, key.ID)

	_, err = m.Resolve(ctx, "s-1", "othergame")
	assert.ErrorIs(t, err, ErrNotFound, "same secret under a different game is a different address")

	_, err = m.Resolve(ctx, "unknown", "pubg")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnsureActivated(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return created }

	key, err := m.Create(ctx, CreateSpec{
		Game: "pubg", Duration: 7, DurationUnit: domain.DurationDays, MaxDevices: 1,
	}, "owner")
	require.NoError(t, err)

	// first validation happens two days later; the window still anchors
	// on creation time
	m.now = func() time.Time { return created.Add(48 * time.Hour) }

	activated, err := m.EnsureActivated(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, activated.ExpiresAt)
	assert.True(t, activated.ExpiresAt.Equal(created.AddDate(0, 0, 7)),
		"expiry anchors on creation time, got %v", activated.ExpiresAt)

	// idempotent: a later call observes the stored expiry
	m.now = func() time.Time { return created.Add(96 * time.Hour) }
	again, err := m.EnsureActivated(ctx, activated)
	require.NoError(t, err)
	assert.True(t, again.ExpiresAt.Equal(*activated.ExpiresAt))
}

func TestEnsureActivatedConcurrent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	key, err := m.Create(ctx, CreateSpec{
		Game: "pubg", Duration: 12, DurationUnit: domain.DurationHours, MaxDevices: 1,
	}, "owner")
	require.NoError(t, err)

	const racers = 10
	results := make([]time.Time, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k, err := m.EnsureActivated(ctx, key)
			if err == nil && k.ExpiresAt != nil {
				results[i] = k.ExpiresAt.UTC()
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < racers; i++ {
		assert.True(t, results[i].Equal(results[0]), "all racers must observe one expiry")
	}
	assert.True(t, results[0].Equal(key.CreatedAt.Add(12*time.Hour)))
}

func TestAdmitDevice(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	key, err := m.Create(ctx, CreateSpec{
		Game: "pubg", Duration: 7, DurationUnit: domain.DurationDays, MaxDevices: 2,
	}, "owner")
	require.NoError(t, err)

	adm, k, err := m.AdmitDevice(ctx, key.ID, "dev-a")
	require.NoError(t, err)
	assert.Equal(t, Admitted, adm)
	assert.Equal(t, domain.DeviceSet{"dev-a"}, k.Devices)

	adm, _, err = m.AdmitDevice(ctx, key.ID, "dev-a")
	require.NoError(t, err)
	assert.Equal(t, AlreadyRegistered, adm)

	adm, _, err = m.AdmitDevice(ctx, key.ID, "dev-b")
	require.NoError(t, err)
	assert.Equal(t, Admitted, adm)

	adm, k, err = m.AdmitDevice(ctx, key.ID, "dev-c")
	require.NoError(t, err)
	assert.Equal(t, DeviceLimitReached, adm)
	assert.Len(t, k.Devices, 2, "rejected device must not be appended")

	// known devices keep working at the limit
	adm, _, err = m.AdmitDevice(ctx, key.ID, "dev-b")
	require.NoError(t, err)
	assert.Equal(t, AlreadyRegistered, adm)

	_, _, err = m.AdmitDevice(ctx, "missing", "dev-a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdmitDeviceConcurrent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	const limit = 3
	key, err := m.Create(ctx, CreateSpec{
		Game: "pubg", Duration: 7, DurationUnit: domain.DurationDays, MaxDevices: limit,
	}, "owner")
	require.NoError(t, err)

	const racers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			adm, _, err := m.AdmitDevice(ctx, key.ID, "dev-"+string(rune('a'+i)))
			if err == nil && adm == Admitted {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, limit, admitted)

	final, err := m.Get(ctx, key.ID)
	require.NoError(t, err)
	assert.Len(t, final.Devices, limit, "device set never overshoots the bound")
}

func TestApplyEdit(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	created := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return created }

	key, err := m.Create(ctx, CreateSpec{
		Game: "pubg", Duration: 7, DurationUnit: domain.DurationDays, MaxDevices: 2,
	}, "owner")
	require.NoError(t, err)

	t.Run("duration change before activation leaves expiry unset", func(t *testing.T) {
		d := 14
		edited, err := m.ApplyEdit(ctx, key.ID, Edit{Duration: &d})
		require.NoError(t, err)
		assert.Equal(t, 14, edited.Duration)
		assert.Nil(t, edited.ExpiresAt)
	})

	t.Run("duration change after activation recomputes from creation time", func(t *testing.T) {
		_, err := m.EnsureActivated(ctx, key)
		require.NoError(t, err)

		d := 30
		edited, err := m.ApplyEdit(ctx, key.ID, Edit{Duration: &d})
		require.NoError(t, err)
		require.NotNil(t, edited.ExpiresAt)
		assert.True(t, edited.ExpiresAt.Equal(created.AddDate(0, 0, 30)),
			"expiry recomputes from creation time, got %v", edited.ExpiresAt)
	})

	t.Run("cannot lower max devices below registered count", func(t *testing.T) {
		_, _, err := m.AdmitDevice(ctx, key.ID, "dev-a")
		require.NoError(t, err)
		_, _, err = m.AdmitDevice(ctx, key.ID, "dev-b")
		require.NoError(t, err)

		one := 1
		_, err = m.ApplyEdit(ctx, key.ID, Edit{MaxDevices: &one})
		assert.Error(t, err)
	})

	t.Run("secret change", func(t *testing.T) {
		s := "rotated"
		edited, err := m.ApplyEdit(ctx, key.ID, Edit{Secret: &s})
		require.NoError(t, err)
		assert.Equal(t, "rotated", edited.Secret)

		_, err = m.Resolve(ctx, "rotated", "pubg")
		assert.NoError(t, err)
	})
}

func TestResetDevicesAndStatus(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	key, err := m.Create(ctx, CreateSpec{
		Game: "pubg", Duration: 7, DurationUnit: domain.DurationDays, MaxDevices: 1,
	}, "owner")
	require.NoError(t, err)

	_, _, err = m.AdmitDevice(ctx, key.ID, "dev-a")
	require.NoError(t, err)

	cleared, err := m.ResetDevices(ctx, key.ID)
	require.NoError(t, err)
	assert.Empty(t, cleared.Devices)

	blocked, err := m.SetStatus(ctx, key.ID, domain.KeyBlocked)
	require.NoError(t, err)
	assert.Equal(t, domain.KeyBlocked, blocked.Status)

	_, err = m.SetStatus(ctx, key.ID, "paused")
	assert.Error(t, err)
}

func TestSweep(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) *Manager {
		t.Helper()
		m := newTestManager()
		base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
		m.now = func() time.Time { return base }

		// expired: activated, window closed
		expired, err := m.Create(ctx, CreateSpec{Game: "g", Duration: 1, DurationUnit: domain.DurationHours, MaxDevices: 1}, "o")
		require.NoError(t, err)
		_, err = m.EnsureActivated(ctx, expired)
		require.NoError(t, err)
		_, _, err = m.AdmitDevice(ctx, expired.ID, "dev")
		require.NoError(t, err)

		// live: activated, still valid
		live, err := m.Create(ctx, CreateSpec{Game: "g", Duration: 30, DurationUnit: domain.DurationDays, MaxDevices: 1}, "o")
		require.NoError(t, err)
		_, err = m.EnsureActivated(ctx, live)
		require.NoError(t, err)
		_, _, err = m.AdmitDevice(ctx, live.ID, "dev")
		require.NoError(t, err)

		// unused: provisioned, never validated
		_, err = m.Create(ctx, CreateSpec{Game: "g", Duration: 7, DurationUnit: domain.DurationDays, MaxDevices: 1}, "o")
		require.NoError(t, err)

		// sweeps run a day later
		m.now = func() time.Time { return base.Add(24 * time.Hour) }
		return m
	}

	t.Run("expired", func(t *testing.T) {
		m := seed(t)
		n, err := m.Sweep(ctx, SweepExpired)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "provisioned keys without expiry survive an expired sweep")

		remaining, err := m.List(ctx)
		require.NoError(t, err)
		assert.Len(t, remaining, 2)
	})

	t.Run("unused", func(t *testing.T) {
		m := seed(t)
		n, err := m.Sweep(ctx, SweepUnused)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("all", func(t *testing.T) {
		m := seed(t)
		n, err := m.Sweep(ctx, SweepAll)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		remaining, err := m.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, remaining)
	})

	t.Run("unknown kind", func(t *testing.T) {
		m := seed(t)
		_, err := m.Sweep(ctx, SweepKind("bogus"))
		assert.Error(t, err)
	})
}
