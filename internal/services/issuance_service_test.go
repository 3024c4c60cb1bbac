package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kuropanel/internal/domain"
	"kuropanel/internal/infrastructure"
	"kuropanel/internal/keys"
	"kuropanel/internal/ledger"
	"kuropanel/internal/store"
)

type issuanceFixture struct {
	ledger   *ledger.Ledger
	keys     *keys.Manager
	settings *SettingsService
	issuance *IssuanceService
}

func newIssuanceFixture(t *testing.T) *issuanceFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := store.NewMemory()
	led := ledger.New(mem, logger)
	manager := keys.NewManager(mem, logger)
	settings := NewSettingsService(mem)
	return &issuanceFixture{
		ledger:   led,
		keys:     manager,
		settings: settings,
		issuance: NewIssuanceService(manager, led, settings, infrastructure.NewMetrics(), logger),
	}
}

func (f *issuanceFixture) seedAccount(t *testing.T, balance float64, tier domain.Tier) {
	t.Helper()
	require.NoError(t, f.ledger.Create(context.Background(), &domain.Account{
		ID: "acct", Username: "shopkeeper", Balance: balance, Tier: tier,
	}))
}

func TestIssueKey(t *testing.T) {
	ctx := context.Background()
	spec := keys.CreateSpec{
		Game: "pubg", Duration: 5, DurationUnit: domain.DurationDays, MaxDevices: 2,
	}

	t.Run("debits the untiered cost", func(t *testing.T) {
		f := newIssuanceFixture(t)
		f.seedAccount(t, 100, domain.TierReseller)

		key, cost, err := f.issuance.IssueKey(ctx, "acct", spec)
		require.NoError(t, err)
		assert.InDelta(t, 30, cost, 1e-9) // 5 days x 2 devices x 3
		assert.Equal(t, "shopkeeper", key.Registrator)

		acc, err := f.ledger.Get(ctx, "acct")
		require.NoError(t, err)
		assert.InDelta(t, 70, acc.Balance, 1e-9)
	})

	t.Run("uses the configured tier price", func(t *testing.T) {
		f := newIssuanceFixture(t)
		f.seedAccount(t, 100, domain.TierReseller)
		require.NoError(t, f.settings.SetPricing(ctx, domain.PricingPolicy{
			DefaultPricePerDay: 1,
			Tiers:              map[string]domain.PriceTier{"5": {Days: 5, Price: 4}},
		}))

		_, cost, err := f.issuance.IssueKey(ctx, "acct", spec)
		require.NoError(t, err)
		assert.InDelta(t, 8, cost, 1e-9) // tier 4 x 2 devices
	})

	t.Run("insufficient balance creates nothing", func(t *testing.T) {
		f := newIssuanceFixture(t)
		f.seedAccount(t, 5, domain.TierReseller)

		_, _, err := f.issuance.IssueKey(ctx, "acct", spec)
		assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

		list, err := f.keys.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("owner issues for free", func(t *testing.T) {
		f := newIssuanceFixture(t)
		f.seedAccount(t, 0, domain.TierOwner)

		_, _, err := f.issuance.IssueKey(ctx, "acct", spec)
		require.NoError(t, err)

		acc, err := f.ledger.Get(ctx, "acct")
		require.NoError(t, err)
		assert.InDelta(t, 0, acc.Balance, 1e-9)
	})

	t.Run("defense gate blocks issuance", func(t *testing.T) {
		f := newIssuanceFixture(t)
		f.seedAccount(t, 100, domain.TierReseller)
		require.NoError(t, f.settings.SetDefense(ctx, domain.DefenseFlag{
			Enabled: true, Message: "back later",
		}))

		_, _, err := f.issuance.IssueKey(ctx, "acct", spec)

		var disabled *IssuanceDisabledError
		require.ErrorAs(t, err, &disabled)
		assert.Equal(t, "back later", disabled.Message)

		list, err := f.keys.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("invalid spec refunds the debit", func(t *testing.T) {
		f := newIssuanceFixture(t)
		f.seedAccount(t, 100, domain.TierReseller)

		bad := spec
		bad.DurationUnit = "weeks"
		_, _, err := f.issuance.IssueKey(ctx, "acct", bad)
		require.Error(t, err)

		acc, err := f.ledger.Get(ctx, "acct")
		require.NoError(t, err)
		assert.InDelta(t, 100, acc.Balance, 1e-9, "the failed issuance must not charge")
	})
}

func TestIssueKeyConcurrent(t *testing.T) {
	ctx := context.Background()
	f := newIssuanceFixture(t)
	// each key costs 15 (5 days x 1 device x 3); 60 covers exactly 4
	f.seedAccount(t, 60, domain.TierReseller)

	spec := keys.CreateSpec{
		Game: "pubg", Duration: 5, DurationUnit: domain.DurationDays, MaxDevices: 1,
	}

	const attempts = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := f.issuance.IssueKey(ctx, "acct", spec); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, succeeded, "the balance admits exactly four issuances")

	list, err := f.keys.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 4)

	acc, err := f.ledger.Get(ctx, "acct")
	require.NoError(t, err)
	assert.InDelta(t, 0, acc.Balance, 1e-9)
}
