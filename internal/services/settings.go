package services

import (
	"context"
	"errors"
	"fmt"

	"kuropanel/internal/domain"
	"kuropanel/internal/store"
)

// SettingsService reads and writes the operator-configured records the
// validation core consumes: the maintenance and defense gates, pricing,
// encryption material, feature toggles, and display metadata. Readers get
// sensible defaults when a record has never been written.
type SettingsService struct {
	store store.Store
}

// NewSettingsService creates a settings service over the given store.
func NewSettingsService(s store.Store) *SettingsService {
	return &SettingsService{store: s}
}

// Maintenance returns the process-wide maintenance gate, default off.
func (s *SettingsService) Maintenance(ctx context.Context) (domain.MaintenanceFlag, error) {
	var flag domain.MaintenanceFlag
	err := s.store.Get(ctx, store.MaintenancePath, &flag)
	if errors.Is(err, store.ErrNotFound) {
		return domain.MaintenanceFlag{}, nil
	}
	if err != nil {
		return domain.MaintenanceFlag{}, fmt.Errorf("load maintenance flag: %w", err)
	}
	return flag, nil
}

// SetMaintenance writes the maintenance gate.
func (s *SettingsService) SetMaintenance(ctx context.Context, flag domain.MaintenanceFlag) error {
	return s.store.Set(ctx, store.MaintenancePath, flag)
}

// Defense returns the issuance guard, default off.
func (s *SettingsService) Defense(ctx context.Context) (domain.DefenseFlag, error) {
	var flag domain.DefenseFlag
	err := s.store.Get(ctx, store.DefensePath, &flag)
	if errors.Is(err, store.ErrNotFound) {
		return domain.DefenseFlag{}, nil
	}
	if err != nil {
		return domain.DefenseFlag{}, fmt.Errorf("load defense flag: %w", err)
	}
	return flag, nil
}

// SetDefense writes the issuance guard.
func (s *SettingsService) SetDefense(ctx context.Context, flag domain.DefenseFlag) error {
	return s.store.Set(ctx, store.DefensePath, flag)
}

// Pricing returns the pricing policy, defaulting to an empty policy with a
// per-day price of 1 when none is configured.
func (s *SettingsService) Pricing(ctx context.Context) (domain.PricingPolicy, error) {
	var policy domain.PricingPolicy
	err := s.store.Get(ctx, store.PricingPath, &policy)
	if errors.Is(err, store.ErrNotFound) {
		return domain.PricingPolicy{DefaultPricePerDay: 1}, nil
	}
	if err != nil {
		return domain.PricingPolicy{}, fmt.Errorf("load pricing policy: %w", err)
	}
	return policy, nil
}

// SetPricing writes the pricing policy.
func (s *SettingsService) SetPricing(ctx context.Context, policy domain.PricingPolicy) error {
	return s.store.Set(ctx, store.PricingPath, policy)
}

// Encryption returns the AES material for the encrypted transport. A missing
// record returns the zero config; the codec fails closed on it.
func (s *SettingsService) Encryption(ctx context.Context) (domain.EncryptionConfig, error) {
	var cfg domain.EncryptionConfig
	err := s.store.Get(ctx, store.EncryptionPath, &cfg)
	if errors.Is(err, store.ErrNotFound) {
		return domain.EncryptionConfig{}, nil
	}
	if err != nil {
		return domain.EncryptionConfig{}, fmt.Errorf("load encryption config: %w", err)
	}
	return cfg, nil
}

// SetEncryption validates and writes the AES material.
func (s *SettingsService) SetEncryption(ctx context.Context, cfg domain.EncryptionConfig) error {
	if len(cfg.Key) != 64 {
		return fmt.Errorf("encryption key must be 64 hex characters, got %d", len(cfg.Key))
	}
	if len(cfg.IV) != 32 {
		return fmt.Errorf("encryption iv must be 32 hex characters, got %d", len(cfg.IV))
	}
	return s.store.Set(ctx, store.EncryptionPath, cfg)
}

// Features returns the feature toggle snapshot, default all off.
func (s *SettingsService) Features(ctx context.Context) (domain.FeatureFlags, error) {
	var flags domain.FeatureFlags
	err := s.store.Get(ctx, store.FeaturesPath, &flags)
	if errors.Is(err, store.ErrNotFound) {
		return domain.DefaultFeatureFlags(), nil
	}
	if err != nil {
		return domain.FeatureFlags{}, fmt.Errorf("load feature flags: %w", err)
	}
	return flags, nil
}

// SetFeatures writes the feature toggle snapshot.
func (s *SettingsService) SetFeatures(ctx context.Context, flags domain.FeatureFlags) error {
	return s.store.Set(ctx, store.FeaturesPath, flags)
}

// ModInfo returns the display metadata, with the stock defaults.
func (s *SettingsService) ModInfo(ctx context.Context) (domain.ModInfo, error) {
	var info domain.ModInfo
	err := s.store.Get(ctx, store.ModInfoPath, &info)
	if errors.Is(err, store.ErrNotFound) {
		return domain.DefaultModInfo(), nil
	}
	if err != nil {
		return domain.ModInfo{}, fmt.Errorf("load mod info: %w", err)
	}
	return info, nil
}

// SetModInfo writes the display metadata.
func (s *SettingsService) SetModInfo(ctx context.Context, info domain.ModInfo) error {
	return s.store.Set(ctx, store.ModInfoPath, info)
}
