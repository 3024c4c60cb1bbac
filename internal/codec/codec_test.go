package codec

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kuropanel/internal/domain"
)

var testCfg = domain.EncryptionConfig{
	Key: strings.Repeat("0123456789abcdef", 4), // 64 hex chars
	IV:  strings.Repeat("fedcba9876543210", 2), // 32 hex chars
}

func TestEncodePlainEnvelopes(t *testing.T) {
	t.Run("failure reasons are frozen strings", func(t *testing.T) {
		tests := []struct {
			reason Reason
			want   string
		}{
			{ReasonBadParameter, `{"status":false,"reason":"Bad Parameter"}`},
			{ReasonNotRegistered, `{"status":false,"reason":"USER OR GAME NOT REGISTERED"}`},
			{ReasonBlocked, `{"status":false,"reason":"USER BLOCKED"}`},
			{ReasonExpired, `{"status":false,"reason":"EXPIRED KEY"}`},
			{ReasonMaxDevice, `{"status":false,"reason":"MAX DEVICE REACHED"}`},
		}
		for _, tt := range tests {
			raw, err := EncodePlain(Failure{Reason: tt.reason})
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))
		}
	})

	t.Run("maintenance reports status true with the message", func(t *testing.T) {
		raw, err := EncodePlain(Maintenance{Message: "back at noon"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"status":true,"reason":"back at noon"}`, string(raw))
	})

	t.Run("success flattens feature flags into the payload", func(t *testing.T) {
		raw, err := EncodePlain(Success{Data: Payload{
			Real:         "r",
			Token:        "t",
			ModName:      "Kuro",
			ModStatus:    "Online",
			Credit:       "Kuro Panel",
			FeatureFlags: domain.DefaultFeatureFlags(),
			ExpiredDate:  "2026-06-01T00:00:00Z",
			EXP:          "2026-06-01T00:00:00Z",
			ExDate:       "2026-06-01T00:00:00Z",
			Device:       2,
			RNG:          1234,
		}})
		require.NoError(t, err)

		var envelope struct {
			Status bool                       `json:"status"`
			Data   map[string]json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(raw, &envelope))
		assert.True(t, envelope.Status)
		for _, field := range []string{
			"real", "token", "modname", "mod_status", "credit",
			"ESP", "Item", "AIM", "SilentAim", "BulletTrack", "Floating", "Memory", "Setting",
			"expired_date", "EXP", "exdate", "device", "rng",
		} {
			assert.Contains(t, envelope.Data, field)
		}
	})
}

func TestMaterial(t *testing.T) {
	tests := []struct {
		name string
		cfg  domain.EncryptionConfig
		ok   bool
	}{
		{"valid", testCfg, true},
		{"empty key", domain.EncryptionConfig{IV: testCfg.IV}, false},
		{"empty iv", domain.EncryptionConfig{Key: testCfg.Key}, false},
		{"short key", domain.EncryptionConfig{Key: "abcd", IV: testCfg.IV}, false},
		{"short iv", domain.EncryptionConfig{Key: testCfg.Key, IV: "abcd"}, false},
		{"non-hex key", domain.EncryptionConfig{Key: strings.Repeat("zz", 32), IV: testCfg.IV}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, iv, err := Material(tt.cfg)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrNotConfigured)
				return
			}
			require.NoError(t, err)
			assert.Len(t, key, 32)
			assert.Len(t, iv, 16)
		})
	}
}

func TestEncryptedRoundTrip(t *testing.T) {
	result := Failure{Reason: ReasonExpired}

	ciphertext, err := EncodeEncrypted(result, testCfg)
	require.NoError(t, err)
	assert.NotContains(t, ciphertext, "EXPIRED", "body must not leak plaintext")

	plain, err := Decrypt(ciphertext, testCfg)
	require.NoError(t, err)

	want, err := EncodePlain(result)
	require.NoError(t, err)
	assert.Equal(t, want, plain, "decryption reproduces the pre-encryption bytes exactly")
}

func TestEncodeEncryptedFailsClosed(t *testing.T) {
	_, err := EncodeEncrypted(Failure{Reason: ReasonBlocked}, domain.EncryptionConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	t.Run("not base64", func(t *testing.T) {
		_, err := Decrypt("%%%not-base64%%%", testCfg)
		assert.Error(t, err)
	})

	t.Run("not block aligned", func(t *testing.T) {
		_, err := Decrypt("YWJj", testCfg) // 3 raw bytes
		assert.Error(t, err)
	})

	t.Run("wrong key never recovers the plaintext", func(t *testing.T) {
		ciphertext, err := EncodeEncrypted(Failure{Reason: ReasonBlocked}, testCfg)
		require.NoError(t, err)

		other := testCfg
		other.Key = strings.Repeat("ff", 32)
		plain, err := Decrypt(ciphertext, other)
		if err == nil {
			want, _ := EncodePlain(Failure{Reason: ReasonBlocked})
			assert.NotEqual(t, want, plain)
		}
	})
}

func TestFingerprint(t *testing.T) {
	real, token := Fingerprint("pubg", "secret-1", "device-9")

	assert.Equal(t, "pubg-secret-1-device-9-"+installSalt, real)

	sum := md5.Sum([]byte(real))
	assert.Equal(t, hex.EncodeToString(sum[:]), token)

	// deterministic across calls
	real2, token2 := Fingerprint("pubg", "secret-1", "device-9")
	assert.Equal(t, real, real2)
	assert.Equal(t, token, token2)

	// any input change moves the digest
	_, other := Fingerprint("pubg", "secret-1", "device-8")
	assert.NotEqual(t, token, other)
}
