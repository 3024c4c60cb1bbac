package services

import (
	"context"
	"fmt"
	"log/slog"

	"kuropanel/internal/domain"
	"kuropanel/internal/infrastructure"
	"kuropanel/internal/keys"
	"kuropanel/internal/ledger"
	"kuropanel/internal/pricing"
)

// IssuanceDisabledError carries the operator's defense-mode message when key
// issuance is switched off.
type IssuanceDisabledError struct {
	Message string
}

func (e *IssuanceDisabledError) Error() string {
	if e.Message == "" {
		return "key issuance is temporarily disabled"
	}
	return e.Message
}

// IssuanceService charges an account and provisions a key in that order:
// defense gate, price the spec, debit the registrator, create the record.
// The debit is atomic, so racing issuances against one balance can never
// both succeed past it.
type IssuanceService struct {
	keys     *keys.Manager
	ledger   *ledger.Ledger
	settings *SettingsService
	metrics  *infrastructure.Metrics
	logger   *slog.Logger
}

// NewIssuanceService wires the issuance flow.
func NewIssuanceService(k *keys.Manager, l *ledger.Ledger, settings *SettingsService, metrics *infrastructure.Metrics, logger *slog.Logger) *IssuanceService {
	return &IssuanceService{
		keys:     k,
		ledger:   l,
		settings: settings,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "issuance")),
	}
}

// IssueKey provisions a key for the account, debiting the issuance cost
// up front. Returns the key and the cost charged.
func (s *IssuanceService) IssueKey(ctx context.Context, accountID string, spec keys.CreateSpec) (*domain.Key, float64, error) {
	defense, err := s.settings.Defense(ctx)
	if err != nil {
		return nil, 0, err
	}
	if defense.Enabled {
		return nil, 0, &IssuanceDisabledError{Message: defense.Message}
	}

	account, err := s.ledger.Get(ctx, accountID)
	if err != nil {
		return nil, 0, err
	}

	policy, err := s.settings.Pricing(ctx)
	if err != nil {
		return nil, 0, err
	}
	cost := pricing.Cost(spec.Duration, spec.DurationUnit, spec.MaxDevices, policy)

	if err := s.ledger.Debit(ctx, accountID, cost); err != nil {
		return nil, 0, err
	}

	key, err := s.keys.Create(ctx, spec, account.Username)
	if err != nil {
		// refund the debit so a storage failure is not a silent charge;
		// owner accounts were never debited
		if account.Tier != domain.TierOwner && cost > 0 {
			refundErr := s.ledger.Credit(ctx, accountID, cost)
			if refundErr != nil {
				s.logger.ErrorContext(ctx, "refund after failed key create",
					slog.String("account_id", accountID),
					slog.String("error", refundErr.Error()))
			}
		}
		return nil, 0, fmt.Errorf("create key: %w", err)
	}

	s.metrics.KeyIssued()
	s.logger.InfoContext(ctx, "key issued",
		slog.String("key_id", key.ID),
		slog.String("account_id", accountID),
		slog.Float64("cost", cost))
	return key, cost, nil
}
