// Package referral issues and redeems single-use referral codes. Redemption
// is an atomic check-and-flip of used_by, so a code can seed at most one
// account no matter how many redeemers race on it.
package referral

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kuropanel/internal/domain"
	"kuropanel/internal/ledger"
	"kuropanel/internal/store"
)

var (
	// ErrCodeNotFound is returned when no referral code matches.
	ErrCodeNotFound = errors.New("referral: code not found")
	// ErrAlreadyUsed is returned when the code has been redeemed before.
	ErrAlreadyUsed = errors.New("referral: code already used")
)

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Service issues and redeems referral codes.
type Service struct {
	store  store.Store
	ledger *ledger.Ledger
	logger *slog.Logger
	now    func() time.Time
}

// New creates a referral service.
func New(s store.Store, l *ledger.Ledger, logger *slog.Logger) *Service {
	return &Service{
		store:  s,
		ledger: l,
		logger: logger.With(slog.String("component", "referral")),
		now:    time.Now,
	}
}

// Issue creates a new referral code carrying the grant, debiting the
// creator's balance by the seeded amount first. Owner-tier creators are
// exempt from the debit inside the ledger.
func (s *Service) Issue(ctx context.Context, creatorID, createdBy string, grant domain.ReferralGrant) (*domain.ReferralCode, error) {
	if grant.Balance < 0 {
		return nil, fmt.Errorf("referral: negative grant balance %v", grant.Balance)
	}
	if err := s.ledger.Debit(ctx, creatorID, grant.Balance); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	code := &domain.ReferralCode{
		ID:        uuid.New().String(),
		Code:      generateCode(),
		Grants:    grant,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Set(ctx, store.ReferralPrefix+code.ID, code); err != nil {
		// the debit already landed; refund so the failure is clean
		if crErr := s.ledger.Credit(ctx, creatorID, grant.Balance); crErr != nil {
			s.logger.ErrorContext(ctx, "refund after failed code persist",
				slog.String("account_id", creatorID),
				slog.String("error", crErr.Error()))
		}
		return nil, fmt.Errorf("persist referral code: %w", err)
	}
	s.logger.InfoContext(ctx, "referral code issued",
		slog.String("code_id", code.ID),
		slog.String("created_by", createdBy),
		slog.Float64("grant_balance", grant.Balance))
	return code, nil
}

// List returns all referral codes.
func (s *Service) List(ctx context.Context) ([]*domain.ReferralCode, error) {
	docs, err := s.store.List(ctx, store.ReferralPrefix)
	if err != nil {
		return nil, fmt.Errorf("list referral codes: %w", err)
	}
	out := make([]*domain.ReferralCode, 0, len(docs))
	for _, raw := range docs {
		var code domain.ReferralCode
		if err := json.Unmarshal(raw, &code); err != nil {
			return nil, fmt.Errorf("decode referral code: %w", err)
		}
		out = append(out, &code)
	}
	return out, nil
}

// Delete removes a referral code record.
func (s *Service) Delete(ctx context.Context, codeID string) error {
	if err := s.store.Delete(ctx, store.ReferralPrefix+codeID); err != nil {
		return fmt.Errorf("delete referral code %s: %w", codeID, err)
	}
	return nil
}

// Redeem consumes the code and seeds a new account for username with the
// code's grant. The used_by flip happens inside a conditional update: of N
// concurrent redeemers exactly one wins, the rest get ErrAlreadyUsed.
func (s *Service) Redeem(ctx context.Context, codeValue, username string) (*domain.Account, error) {
	record, err := s.findByCode(ctx, codeValue)
	if err != nil {
		return nil, err
	}
	var grant domain.ReferralGrant
	err = s.store.Update(ctx, store.ReferralPrefix+record.ID, func(current json.RawMessage) (any, error) {
		if current == nil {
			return nil, ErrCodeNotFound
		}
		var c domain.ReferralCode
		if err := json.Unmarshal(current, &c); err != nil {
			return nil, err
		}
		if c.Used() {
			return nil, ErrAlreadyUsed
		}
		c.UsedBy = &username
		c.UpdatedAt = s.now().UTC()
		grant = c.Grants
		return &c, nil
	})
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	expiry := grant.AccountExpiry
	acc := &domain.Account{
		ID:        uuid.New().String(),
		Username:  username,
		Balance:   grant.Balance,
		Tier:      grant.Tier,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !expiry.IsZero() {
		acc.ExpiresAt = &expiry
	}
	if err := s.ledger.Create(ctx, acc); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "referral code redeemed",
		slog.String("code_id", record.ID),
		slog.String("used_by", username),
		slog.String("account_id", acc.ID))
	return acc, nil
}

// findByCode scans for the record carrying the given code value.
func (s *Service) findByCode(ctx context.Context, codeValue string) (*domain.ReferralCode, error) {
	docs, err := s.store.List(ctx, store.ReferralPrefix)
	if err != nil {
		return nil, fmt.Errorf("list referral codes: %w", err)
	}
	for _, raw := range docs {
		var c domain.ReferralCode
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode referral code: %w", err)
		}
		if c.Code == codeValue {
			return &c, nil
		}
	}
	return nil, ErrCodeNotFound
}

// generateCode produces a KURO-XXXXXX code from a crypto-random draw over an
// alphabet without lookalike characters.
func generateCode() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the platform source is broken;
		// fall back to a UUID-derived suffix
		return "KURO-" + uuid.New().String()[:6]
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return "KURO-" + string(buf)
}
