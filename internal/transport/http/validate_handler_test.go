package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kuropanel/internal/codec"
	"kuropanel/internal/domain"
	"kuropanel/internal/infrastructure"
	"kuropanel/internal/keys"
	"kuropanel/internal/services"
	"kuropanel/internal/store"
)

var handlerTestCfg = domain.EncryptionConfig{
	Key: strings.Repeat("0123456789abcdef", 4),
	IV:  strings.Repeat("fedcba9876543210", 2),
}

type validateFixture struct {
	server   *httptest.Server
	keys     *keys.Manager
	settings *services.SettingsService
}

func newValidateFixture(t *testing.T) *validateFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := store.NewMemory()
	manager := keys.NewManager(mem, logger)
	settings := services.NewSettingsService(mem)
	validation := services.NewValidationService(manager, settings, infrastructure.NewMetrics(), logger)

	handler := NewValidateHandler(validation, settings, logger)
	srv := httptest.NewServer(handler.Routes())
	t.Cleanup(srv.Close)

	return &validateFixture{server: srv, keys: manager, settings: settings}
}

func (f *validateFixture) provisionKey(t *testing.T) {
	t.Helper()
	_, err := f.keys.Create(context.Background(), keys.CreateSpec{
		Game:         "pubg",
		Secret:       "s-1",
		Duration:     7,
		DurationUnit: domain.DurationDays,
		MaxDevices:   2,
	}, "owner")
	require.NoError(t, err)
}

func TestConnectJSONBody(t *testing.T) {
	f := newValidateFixture(t)
	f.provisionKey(t)

	resp, err := http.Post(f.server.URL+"/connect", "application/json",
		strings.NewReader(`{"game":"pubg","user_key":"s-1","serial":"dev-a"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"status":true`)
	assert.Contains(t, string(body), `"token"`)
}

func TestConnectFormBody(t *testing.T) {
	f := newValidateFixture(t)
	f.provisionKey(t)

	form := url.Values{}
	form.Set("game", "pubg")
	form.Set("user_key", "s-1")
	form.Set("serial", "dev-a")

	resp, err := http.Post(f.server.URL+"/connect", "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"status":true`)
}

func TestConnectRejectionsStayHTTP200(t *testing.T) {
	f := newValidateFixture(t)
	f.provisionKey(t)

	tests := []struct {
		name       string
		payload    string
		wantReason codec.Reason
	}{
		{"empty body", `{}`, codec.ReasonBadParameter},
		{"unknown key", `{"game":"pubg","user_key":"nope","serial":"d"}`, codec.ReasonNotRegistered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(f.server.URL+"/connect", "application/json",
				strings.NewReader(tt.payload))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusOK, resp.StatusCode,
				"rejections travel in the envelope, not the status code")

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Contains(t, string(body), `"status":false`)
			assert.Contains(t, string(body), string(tt.wantReason))
		})
	}
}

func TestConnectLandingPage(t *testing.T) {
	f := newValidateFixture(t)

	resp, err := http.Get(f.server.URL + "/connect")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func TestEncryptedFailsClosedWithoutMaterial(t *testing.T) {
	f := newValidateFixture(t)
	f.provisionKey(t)

	resp, err := http.Post(f.server.URL+"/encrypted", "application/json",
		strings.NewReader(`{"game":"pubg","user_key":"s-1","serial":"dev-a"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":false,"reason":"Server-side encryption is not configured."}`, string(body))
}

func TestEncryptedRoundTrip(t *testing.T) {
	f := newValidateFixture(t)
	f.provisionKey(t)
	require.NoError(t, f.settings.SetEncryption(context.Background(), handlerTestCfg))

	resp, err := http.Post(f.server.URL+"/encrypted", "application/json",
		strings.NewReader(`{"game":"pubg","user_key":"s-1","serial":"dev-a"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	ciphertext, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(ciphertext), `"status"`, "body must be ciphertext")

	plain, err := codec.Decrypt(string(ciphertext), handlerTestCfg)
	require.NoError(t, err)
	assert.Contains(t, string(plain), `"status":true`)
	assert.Contains(t, string(plain), `"token"`)
}

func TestEncryptedRejectionIsAlsoEncrypted(t *testing.T) {
	f := newValidateFixture(t)
	require.NoError(t, f.settings.SetEncryption(context.Background(), handlerTestCfg))

	resp, err := http.Post(f.server.URL+"/encrypted", "application/json",
		strings.NewReader(`{"game":"pubg","user_key":"unknown","serial":"d"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ciphertext, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	plain, err := codec.Decrypt(string(ciphertext), handlerTestCfg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":false,"reason":"USER OR GAME NOT REGISTERED"}`, string(plain))
}
