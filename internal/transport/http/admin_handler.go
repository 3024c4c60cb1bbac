package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"kuropanel/internal/domain"
	apierrors "kuropanel/internal/errors"
	"kuropanel/internal/keys"
	"kuropanel/internal/ledger"
	"kuropanel/internal/referral"
	"kuropanel/internal/services"
)

// AdminHandler exposes the operator surface: key CRUD and sweeps, referral
// codes, account balances, and the settings records the validation core
// consumes.
type AdminHandler struct {
	issuance *services.IssuanceService
	keys     *keys.Manager
	ledger   *ledger.Ledger
	referral *referral.Service
	settings *services.SettingsService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAdminHandler creates the admin handler.
func NewAdminHandler(
	issuance *services.IssuanceService,
	k *keys.Manager,
	l *ledger.Ledger,
	ref *referral.Service,
	settings *services.SettingsService,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		issuance: issuance,
		keys:     k,
		ledger:   l,
		referral: ref,
		settings: settings,
		validate: validator.New(),
		logger:   logger.With(slog.String("handler", "admin")),
	}
}

// Routes mounts the admin endpoints.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Route("/keys", func(r chi.Router) {
		r.Get("/", h.ListKeys)
		r.Post("/", h.CreateKey)
		r.Post("/sweep", h.SweepKeys)
		r.Route("/{keyID}", func(r chi.Router) {
			r.Get("/", h.GetKey)
			r.Put("/", h.EditKey)
			r.Delete("/", h.DeleteKey)
			r.Put("/status", h.SetKeyStatus)
			r.Delete("/devices", h.ResetKeyDevices)
		})
	})

	r.Route("/referrals", func(r chi.Router) {
		r.Get("/", h.ListReferrals)
		r.Post("/", h.CreateReferral)
		r.Post("/redeem", h.RedeemReferral)
		r.Delete("/{codeID}", h.DeleteReferral)
	})

	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", h.CreateAccount)
		r.Get("/{accountID}", h.GetAccount)
		r.Post("/{accountID}/credit", h.CreditAccount)
	})

	r.Route("/settings", func(r chi.Router) {
		r.Get("/maintenance", h.GetMaintenance)
		r.Put("/maintenance", h.SetMaintenance)
		r.Get("/defense", h.GetDefense)
		r.Put("/defense", h.SetDefense)
		r.Get("/pricing", h.GetPricing)
		r.Put("/pricing", h.SetPricing)
		r.Put("/encryption", h.SetEncryption)
		r.Get("/features", h.GetFeatures)
		r.Put("/features", h.SetFeatures)
		r.Get("/modinfo", h.GetModInfo)
		r.Put("/modinfo", h.SetModInfo)
	})

	return r
}

// successResponse is the admin envelope for successful operations.
type successResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

func (h *AdminHandler) ok(w http.ResponseWriter, r *http.Request, data any) {
	render.JSON(w, r, successResponse{Success: true, Data: data})
}

// renderError maps domain errors onto the admin error vocabulary.
func (h *AdminHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	var disabled *services.IssuanceDisabledError
	var apiErr *apierrors.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &disabled):
		apiErr = apierrors.IssuanceDisabledError(disabled.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance):
		apiErr = apierrors.ErrInsufficientBalance
	case errors.Is(err, ledger.ErrAccountNotFound):
		apiErr = apierrors.NotFoundError("account")
	case errors.Is(err, keys.ErrNotFound):
		apiErr = apierrors.NotFoundError("key")
	case errors.Is(err, referral.ErrCodeNotFound):
		apiErr = apierrors.NotFoundError("referral code")
	case errors.Is(err, referral.ErrAlreadyUsed):
		apiErr = apierrors.ErrCodeAlreadyUsed
	default:
		h.logger.ErrorContext(r.Context(), "admin request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		apiErr = apierrors.InternalError(err)
	}
	render.Status(r, apiErr.StatusCode)
	render.JSON(w, r, apiErr)
}

// decode unmarshals and validates a request body.
func (h *AdminHandler) decode(r *http.Request, v any) error {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		return apierrors.InvalidRequestWithError(err)
	}
	if err := h.validate.Struct(v); err != nil {
		return apierrors.NewWithDetails(http.StatusBadRequest, "VALIDATION_FAILED",
			"Request validation failed", err.Error())
	}
	return nil
}

// --- keys ---

// createKeyRequest provisions a key on behalf of an account.
type createKeyRequest struct {
	AccountID    string `json:"account_id" validate:"required"`
	Game         string `json:"game" validate:"required,max=64"`
	Secret       string `json:"user_key" validate:"omitempty,max=36"`
	Duration     int    `json:"duration" validate:"required,gt=0"`
	DurationUnit string `json:"duration_unit" validate:"required,oneof=days hours"`
	MaxDevices   int    `json:"max_devices" validate:"required,gte=1"`
}

type keyIssuedResponse struct {
	Key  *domain.Key `json:"key"`
	Cost float64     `json:"cost"`
}

// CreateKey handles POST /api/admin/keys.
func (h *AdminHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := h.decode(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}
	key, cost, err := h.issuance.IssueKey(r.Context(), req.AccountID, keys.CreateSpec{
		Game:         req.Game,
		Secret:       req.Secret,
		Duration:     req.Duration,
		DurationUnit: domain.DurationUnit(req.DurationUnit),
		MaxDevices:   req.MaxDevices,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, successResponse{Success: true, Data: keyIssuedResponse{Key: key, Cost: cost}})
}

// ListKeys handles GET /api/admin/keys.
func (h *AdminHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	list, err := h.keys.List(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.ok(w, r, list)
}

// GetKey handles GET /api/admin/keys/{keyID}.
func (h *AdminHandler) GetKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.Get(r.Context(), chi.URLParam(r, "keyID"))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.ok(w, r, key)
}

// editKeyRequest carries an operator edit; absent fields stay unchanged.
type editKeyRequest struct {
	Duration   *int    `json:"duration" validate:"omitempty,gt=0"`
	MaxDevices *int    `json:"max_devices" validate:"omitempty,gte=1"`
	Secret     *string `json:"user_key" validate:"omitempty,max=36"`
}

// EditKey handles PUT /api/admin/keys/{keyID}.
func (h *AdminHandler) EditKey(w http.ResponseWriter, r *http.Request) {
	var req editKeyRequest
	if err := h.decode(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}
	key, err := h.keys.ApplyEdit(r.Context(), chi.URLParam(r, "keyID"), keys.Edit{
		Duration:   req.Duration,
		MaxDevices: req.MaxDevices,
		Secret:     req.Secret,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.ok(w, r, key)
}

// DeleteKey handles DELETE /api/admin/keys/{keyID}.
func (h *AdminHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	if err := h.keys.Delete(r.Context(), chi.URLParam(r, "keyID")); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.ok(w, r, nil)
}

type setStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active blocked"`
}

// SetKeyStatus handles PUT /api/admin/keys/{keyID}/status.
func (h *AdminHandler) SetKeyStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if err := h.decode(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}
	key, err := h.keys.SetStatus(r.Context(), chi.URLParam(r, "keyID"), domain.KeyStatus(req.Status))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.ok(w, r, key)
}

// ResetKeyDevices handles DELETE /api/admin/keys/{keyID}/devices.
func (h *AdminHandler) ResetKeyDevices(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.ResetDevices(r.Context(), chi.URLParam(r, "keyID"))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.ok(w, r, key)
}

type sweepRequest struct {
	Kind string `json:"kind" validate:"required,oneof=all expired unused"`
}

type sweepResponse struct {
	Deleted int `json:"deleted"`
}

// SweepKeys handles POST /api/admin/keys/sweep.
func (h *AdminHandler) SweepKeys(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if err := h.decode(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}
	deleted, err := h.keys.Sweep(r.Context(), keys.SweepKind(req.Kind))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.ok(w, r, sweepResponse{Deleted: deleted})
}

// --- referrals ---

type createReferralRequest struct {
	AccountID     string    `json:"account_id" validate:"required"`
	CreatedBy     string    `json:"created_by" validate:"required"`
	Balance       float64   `json:"set_saldo" validate:"gte=0"`
	Tier          string    `json:"tier" validate:"required,oneof=owner reseller-admin reseller trial"`
	AccountExpiry time.Time `json:"acc_expiration"`
}

// CreateReferral handles POST /api/admin/referrals.
func (h *AdminHandler) CreateReferral(w http.ResponseWriter, r *http.Request) {
	var req createReferralRequest
	if err := h.decode(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}
	code, err := h.referral.Issue(r.Context(), req.AccountID, req.CreatedBy, domain.ReferralGrant{
		Balance:       req.Balance,
		Tier:          domain.Tier(req.Tier),
		AccountExpiry: req.AccountExpiry,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, successResponse{Success: true, Data: code})
}

// ListReferrals handles GET /api/admin/referrals.
func (h *AdminHandler) ListReferrals(w http.ResponseWriter, r *http.Request) {
	list, err := h.referral.List(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.ok(w, r, list)
}

// DeleteReferral handles DELETE /api/admin/referrals/{codeID}.
func (h *AdminHandler) DeleteReferral(w http.ResponseWriter, r *http.Request) {
	if err := h.referral.Delete(r.Context(), chi.URLParam(r, "codeID")); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.ok(w, r, nil)
}

type redeemReferralRequest struct {
	Code     string `json:"code" validate:"required"`
	Username string `json:"username" validate:"required,max=64"`
}

// RedeemReferral handles POST /api/admin/referrals/redeem.
func (h *AdminHandler) RedeemReferral(w http.ResponseWriter, r *http.Request) {
	var req redeemReferralRequest
	if err := h.decode(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}
	account, err := h.referral.Redeem(r.Context(), req.Code, req.Username)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, successResponse{Success: true, Data: account})
}

// --- accounts ---

type createAccountRequest struct {
	Username string  `json:"username" validate:"required,max=64"`
	Balance  float64 `json:"saldo" validate:"gte=0"`
	Tier     string  `json:"tier" validate:"required,oneof=owner reseller-admin reseller trial"`
}

// CreateAccount handles POST /api/admin/accounts.
func (h *AdminHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := h.decode(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}
	now := time.Now().UTC()
	account := &domain.Account{
		ID:        uuid.NewString(),
		Username:  req.Username,
		Balance:   req.Balance,
		Tier:      domain.Tier(req.Tier),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.ledger.Create(r.Context(), account); err != nil {
		h.renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, successResponse{Success: true, Data: account})
}

// GetAccount handles GET /api/admin/accounts/{accountID}.
func (h *AdminHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.ledger.Get(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.ok(w, r, account)
}

type creditRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

// CreditAccount handles POST /api/admin/accounts/{accountID}/credit.
func (h *AdminHandler) CreditAccount(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if err := h.decode(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}
	accountID := chi.URLParam(r, "accountID")
	if err := h.ledger.Credit(r.Context(), accountID, req.Amount); err != nil {
		h.renderError(w, r, err)
		return
	}
	account, err := h.ledger.Get(r.Context(), accountID)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.ok(w, r, account)
}

// --- settings ---

// GetMaintenance handles GET /api/admin/settings/maintenance.
func (h *AdminHandler) GetMaintenance(w http.ResponseWriter, r *http.Request) {
	flag, err := h.settings.Maintenance(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.ok(w, r, flag)
}

// SetMaintenance handles PUT /api/admin/settings/maintenance.
func (h *AdminHandler) SetMaintenance(w http.ResponseWriter, r *http.Request) {
	var flag domain.MaintenanceFlag
	if err := render.DecodeJSON(r.Body, &flag); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.settings.SetMaintenance(r.Context(), flag); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.ok(w, r, flag)
}

// GetDefense handles GET /api/admin/settings/defense.
func (h *AdminHandler) GetDefense(w http.ResponseWriter, r *http.Request) {
	flag, err := h.settings.Defense(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.ok(w, r, flag)
}

// SetDefense handles PUT /api/admin/settings/defense.
func (h *AdminHandler) SetDefense(w http.ResponseWriter, r *http.Request) {
	var flag domain.DefenseFlag
	if err := render.DecodeJSON(r.Body, &flag); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.settings.SetDefense(r.Context(), flag); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.ok(w, r, flag)
}

// GetPricing handles GET /api/admin/settings/pricing.
func (h *AdminHandler) GetPricing(w http.ResponseWriter, r *http.Request) {
	policy, err := h.settings.Pricing(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.ok(w, r, policy)
}

// SetPricing handles PUT /api/admin/settings/pricing.
func (h *AdminHandler) SetPricing(w http.ResponseWriter, r *http.Request) {
	var policy domain.PricingPolicy
	if err := render.DecodeJSON(r.Body, &policy); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.settings.SetPricing(r.Context(), policy); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.ok(w, r, policy)
}

type setEncryptionRequest struct {
	Key string `json:"key" validate:"required,len=64,hexadecimal"`
	IV  string `json:"iv" validate:"required,len=32,hexadecimal"`
}

// SetEncryption handles PUT /api/admin/settings/encryption. The material is
// never echoed back in reads; it is write-only through the API.
func (h *AdminHandler) SetEncryption(w http.ResponseWriter, r *http.Request) {
	var req setEncryptionRequest
	if err := h.decode(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}
	if err := h.settings.SetEncryption(r.Context(), domain.EncryptionConfig{Key: req.Key, IV: req.IV}); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.ok(w, r, nil)
}

// GetFeatures handles GET /api/admin/settings/features.
func (h *AdminHandler) GetFeatures(w http.ResponseWriter, r *http.Request) {
	flags, err := h.settings.Features(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.ok(w, r, flags)
}

// SetFeatures handles PUT /api/admin/settings/features.
func (h *AdminHandler) SetFeatures(w http.ResponseWriter, r *http.Request) {
	var flags domain.FeatureFlags
	if err := render.DecodeJSON(r.Body, &flags); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.settings.SetFeatures(r.Context(), flags); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.ok(w, r, flags)
}

// GetModInfo handles GET /api/admin/settings/modinfo.
func (h *AdminHandler) GetModInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.settings.ModInfo(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.ok(w, r, info)
}

// SetModInfo handles PUT /api/admin/settings/modinfo.
func (h *AdminHandler) SetModInfo(w http.ResponseWriter, r *http.Request) {
	var info domain.ModInfo
	if err := render.DecodeJSON(r.Body, &info); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.settings.SetModInfo(r.Context(), info); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.ok(w, r, info)
}
