// Package ledger provides atomic balance operations against accounts.
// Debits are compare-and-decrement through the store's conditional update,
// so two racing issuances can never both spend the same balance.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kuropanel/internal/domain"
	"kuropanel/internal/store"
)

// ErrInsufficientBalance is returned when a debit would take a non-owner
// account below zero. No state changes in that case.
var ErrInsufficientBalance = errors.New("ledger: insufficient balance")

// ErrAccountNotFound is returned when the account does not exist.
var ErrAccountNotFound = errors.New("ledger: account not found")

// Ledger mediates all balance mutations.
type Ledger struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a ledger over the given store.
func New(s store.Store, logger *slog.Logger) *Ledger {
	return &Ledger{store: s, logger: logger.With(slog.String("component", "ledger"))}
}

// Get returns the account record.
func (l *Ledger) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	var acc domain.Account
	err := l.store.Get(ctx, store.AccountsPrefix+accountID, &acc)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", accountID, err)
	}
	return &acc, nil
}

// Create persists a new account record.
func (l *Ledger) Create(ctx context.Context, acc *domain.Account) error {
	if err := l.store.Set(ctx, store.AccountsPrefix+acc.ID, acc); err != nil {
		return fmt.Errorf("create account %s: %w", acc.ID, err)
	}
	return nil
}

// Debit atomically subtracts amount from the account balance. Owner-tier
// accounts always succeed without mutation. A debit that would drive the
// balance negative fails with ErrInsufficientBalance before any side effect.
func (l *Ledger) Debit(ctx context.Context, accountID string, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("ledger: negative debit %v", amount)
	}
	err := l.store.Update(ctx, store.AccountsPrefix+accountID, func(current json.RawMessage) (any, error) {
		if current == nil {
			return nil, ErrAccountNotFound
		}
		var acc domain.Account
		if err := json.Unmarshal(current, &acc); err != nil {
			return nil, err
		}
		if acc.Tier == domain.TierOwner {
			return &acc, nil
		}
		if acc.Balance < amount {
			return nil, ErrInsufficientBalance
		}
		acc.Balance -= amount
		acc.UpdatedAt = time.Now().UTC()
		return &acc, nil
	})
	if err == nil {
		l.logger.InfoContext(ctx, "balance debited",
			slog.String("account_id", accountID),
			slog.Float64("amount", amount))
	}
	return err
}

// Credit atomically adds amount to the account balance. There is no upper
// bound.
func (l *Ledger) Credit(ctx context.Context, accountID string, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("ledger: negative credit %v", amount)
	}
	err := l.store.Update(ctx, store.AccountsPrefix+accountID, func(current json.RawMessage) (any, error) {
		if current == nil {
			return nil, ErrAccountNotFound
		}
		var acc domain.Account
		if err := json.Unmarshal(current, &acc); err != nil {
			return nil, err
		}
		acc.Balance += amount
		acc.UpdatedAt = time.Now().UTC()
		return &acc, nil
	})
	if err == nil {
		l.logger.InfoContext(ctx, "balance credited",
			slog.String("account_id", accountID),
			slog.Float64("amount", amount))
	}
	return err
}
