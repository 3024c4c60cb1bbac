// Package http contains the chi HTTP handlers: the client validation
// endpoints, the admin CRUD surface, and health.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"kuropanel/internal/codec"
	"kuropanel/internal/middleware"
	"kuropanel/internal/services"
)

// contactPage answers GET on the validation endpoints, which clients
// sometimes open in a browser.
const contactPage = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>Kuro Panel</title></head>
<body><h1>Kuro Panel</h1><p>This endpoint serves license validation requests. Contact your reseller for access.</p></body>
</html>`

// ValidateHandler serves the two validation transports. The plain endpoint
// answers JSON; the encrypted endpoint answers base64 AES-256-CBC ciphertext
// as text/plain.
type ValidateHandler struct {
	validation *services.ValidationService
	settings   *services.SettingsService
	logger     *slog.Logger
}

// NewValidateHandler creates the validation handler.
func NewValidateHandler(validation *services.ValidationService, settings *services.SettingsService, logger *slog.Logger) *ValidateHandler {
	return &ValidateHandler{
		validation: validation,
		settings:   settings,
		logger:     logger.With(slog.String("handler", "validate")),
	}
}

// Routes mounts the validation endpoints.
func (h *ValidateHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/connect", h.landing)
	r.Post("/connect", h.Connect)
	r.Get("/encrypted", h.landing)
	r.Post("/encrypted", h.Encrypted)
	return r
}

func (h *ValidateHandler) landing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(contactPage))
}

// Connect handles POST /api/connect: plain JSON transport.
func (h *ValidateHandler) Connect(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("validate-handler").Start(r.Context(), "validate.connect",
		trace.WithAttributes(
			attribute.String("http.route", "/api/connect"),
			attribute.String("request_id", middleware.GetReqID(r.Context())),
		),
	)
	defer span.End()

	req := h.bind(r)
	result, err := h.validation.Validate(ctx, req)
	if err != nil {
		h.infrastructureFault(ctx, w, err)
		return
	}
	body, err := codec.EncodePlain(result)
	if err != nil {
		h.infrastructureFault(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// Encrypted handles POST /api/encrypted: the whole body is base64
// AES-256-CBC ciphertext of the canonical JSON. Missing or malformed
// encryption material fails closed with a plain configuration error; it
// never falls back to plaintext results.
func (h *ValidateHandler) Encrypted(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("validate-handler").Start(r.Context(), "validate.encrypted",
		trace.WithAttributes(
			attribute.String("http.route", "/api/encrypted"),
			attribute.String("request_id", middleware.GetReqID(r.Context())),
		),
	)
	defer span.End()

	cfg, err := h.settings.Encryption(ctx)
	if err != nil {
		h.infrastructureFault(ctx, w, err)
		return
	}
	if _, _, err := codec.Material(cfg); err != nil {
		h.logger.ErrorContext(ctx, "encrypted transport requested without valid material",
			slog.String("error", err.Error()))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"status":false,"reason":"Server-side encryption is not configured."}`))
		return
	}

	req := h.bind(r)
	result, err := h.validation.Validate(ctx, req)
	if err != nil {
		h.infrastructureFault(ctx, w, err)
		return
	}
	body, err := codec.EncodeEncrypted(result, cfg)
	if err != nil {
		h.infrastructureFault(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

// bind extracts the request from a form-encoded or JSON body. Malformed
// bodies yield empty fields, which the pipeline rejects as Bad Parameter.
func (h *ValidateHandler) bind(r *http.Request) services.ValidationRequest {
	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		var req services.ValidationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return services.ValidationRequest{}
		}
		return req
	}
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		// not multipart; fall through to urlencoded parsing
		if err := r.ParseForm(); err != nil {
			return services.ValidationRequest{}
		}
	}
	return services.ValidationRequest{
		Game:     r.FormValue("game"),
		Secret:   r.FormValue("user_key"),
		DeviceID: r.FormValue("serial"),
	}
}

// infrastructureFault answers 500 for store-level failures, the only branch
// that breaks the always-200 envelope contract.
func (h *ValidateHandler) infrastructureFault(ctx context.Context, w http.ResponseWriter, err error) {
	h.logger.ErrorContext(ctx, "validation infrastructure fault",
		slog.String("error", err.Error()))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	w.Write([]byte(`{"status":false,"reason":"internal server error"}`))
}
