// Package services holds the orchestration layer between transport and the
// domain managers: the validation pipeline, key issuance, and settings
// access.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"kuropanel/internal/codec"
	"kuropanel/internal/domain"
	"kuropanel/internal/infrastructure"
	"kuropanel/internal/keys"
)

// maxSecretLength bounds the user_key field; longer inputs are rejected as
// Bad Parameter before any lookup.
const maxSecretLength = 36

// identPattern matches the identifier-safe alphabet allowed for game names
// and device serials.
var identPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidationRequest is the client's validation input. Field names follow the
// wire contract: the secret travels as user_key and the device as serial.
type ValidationRequest struct {
	Game     string `json:"game"`
	Secret   string `json:"user_key"`
	DeviceID string `json:"serial"`
}

// ValidationService runs the validation state machine: maintenance gate,
// syntactic checks, key resolution, status, activation, expiry, device
// admission, payload assembly. Every user-visible rejection is a Result, not
// an error; errors mean the store failed.
type ValidationService struct {
	keys     *keys.Manager
	settings *SettingsService
	metrics  *infrastructure.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewValidationService wires the validation pipeline.
func NewValidationService(k *keys.Manager, settings *SettingsService, metrics *infrastructure.Metrics, logger *slog.Logger) *ValidationService {
	return &ValidationService{
		keys:     k,
		settings: settings,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "validation")),
		now:      time.Now,
	}
}

// Validate executes the pipeline and returns the result to encode. The
// steps short-circuit on the first failing check.
func (s *ValidationService) Validate(ctx context.Context, req ValidationRequest) (codec.Result, error) {
	maintenance, err := s.settings.Maintenance(ctx)
	if err != nil {
		return nil, err
	}
	if maintenance.Enabled {
		s.observe(ctx, "maintenance", req)
		return codec.Maintenance{Message: maintenance.Message}, nil
	}

	if !s.wellFormed(req) {
		s.observe(ctx, "bad_parameter", req)
		return codec.Failure{Reason: codec.ReasonBadParameter}, nil
	}

	key, err := s.keys.Resolve(ctx, req.Secret, req.Game)
	if err == keys.ErrNotFound {
		s.observe(ctx, "not_registered", req)
		return codec.Failure{Reason: codec.ReasonNotRegistered}, nil
	}
	if err != nil {
		return nil, err
	}

	if key.Status == domain.KeyBlocked {
		s.observe(ctx, "blocked", req)
		return codec.Failure{Reason: codec.ReasonBlocked}, nil
	}

	key, err = s.keys.EnsureActivated(ctx, key)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if key.Expired(now) {
		s.observe(ctx, "expired", req)
		return codec.Failure{Reason: codec.ReasonExpired}, nil
	}

	admission, key, err := s.keys.AdmitDevice(ctx, key.ID, req.DeviceID)
	if err != nil {
		return nil, err
	}
	if admission == keys.DeviceLimitReached {
		s.observe(ctx, "max_device", req)
		return codec.Failure{Reason: codec.ReasonMaxDevice}, nil
	}

	payload, err := s.assemble(ctx, key, req, now)
	if err != nil {
		return nil, err
	}
	s.observe(ctx, "success", req)
	return codec.Success{Data: *payload}, nil
}

// wellFormed applies the syntactic contract: identifier-safe game and
// serial, non-empty bounded secret.
func (s *ValidationService) wellFormed(req ValidationRequest) bool {
	if req.Game == "" || req.DeviceID == "" || req.Secret == "" {
		return false
	}
	if len(req.Secret) > maxSecretLength {
		return false
	}
	return identPattern.MatchString(req.Game) && identPattern.MatchString(req.DeviceID)
}

// assemble builds the success payload from read-only configuration.
func (s *ValidationService) assemble(ctx context.Context, key *domain.Key, req ValidationRequest, now time.Time) (*codec.Payload, error) {
	features, err := s.settings.Features(ctx)
	if err != nil {
		return nil, err
	}
	info, err := s.settings.ModInfo(ctx)
	if err != nil {
		return nil, err
	}
	if key.ExpiresAt == nil {
		// activation precedes assembly; reaching here without an expiry
		// means the pipeline was bypassed
		return nil, fmt.Errorf("assemble payload: key %s not activated", key.ID)
	}
	real, token := codec.Fingerprint(req.Game, req.Secret, req.DeviceID)
	expiry := key.ExpiresAt.UTC().Format(time.RFC3339)
	return &codec.Payload{
		Real:         real,
		Token:        token,
		ModName:      info.ModName,
		ModStatus:    info.Status,
		Credit:       info.Credit,
		FeatureFlags: features,
		ExpiredDate:  expiry,
		EXP:          expiry,
		ExDate:       expiry,
		Device:       key.MaxDevices,
		RNG:          now.Unix(),
	}, nil
}

func (s *ValidationService) observe(ctx context.Context, outcome string, req ValidationRequest) {
	s.metrics.ValidationOutcome(outcome)
	s.logger.InfoContext(ctx, "validation processed",
		slog.String("outcome", outcome),
		slog.String("game", req.Game))
}
