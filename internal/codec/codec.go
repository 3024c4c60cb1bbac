// Package codec turns validation results into wire responses. One result
// shape, two transports: plain JSON, or the same JSON encrypted with
// AES-256-CBC under operator-supplied material and emitted as base64 text.
// Encryption round-trips exactly: decrypting a response with the same key
// and IV reproduces the pre-encryption bytes.
package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"kuropanel/internal/domain"
)

// Reason strings are a frozen client contract; change nothing here.
type Reason string

const (
	ReasonBadParameter  Reason = "Bad Parameter"
	ReasonNotRegistered Reason = "USER OR GAME NOT REGISTERED"
	ReasonBlocked       Reason = "USER BLOCKED"
	ReasonExpired       Reason = "EXPIRED KEY"
	ReasonMaxDevice     Reason = "MAX DEVICE REACHED"
)

// installSalt is the installation-wide constant folded into every session
// fingerprint. Clients recompute the digest with the same salt.
const installSalt = "Vm8Lk7Uj2JmsjCPVPVjrLa7zgfx3uz9E"

// ErrNotConfigured is returned when encrypted mode is requested without
// valid encryption material. Encrypted mode fails closed; it never falls
// back to plaintext.
var ErrNotConfigured = errors.New("codec: encryption not configured")

// Payload is the success body of a validation response. Field names and
// the triplicated expiry are part of the client contract.
type Payload struct {
	Real      string `json:"real"`
	Token     string `json:"token"`
	ModName   string `json:"modname"`
	ModStatus string `json:"mod_status"`
	Credit    string `json:"credit"`
	domain.FeatureFlags
	ExpiredDate string `json:"expired_date"`
	EXP         string `json:"EXP"`
	ExDate      string `json:"exdate"`
	Device      int    `json:"device"`
	RNG         int64  `json:"rng"`
}

// Result is the tagged outcome of a validation request. Exactly one of
// Success, Failure, or Maintenance implements it.
type Result interface {
	envelope() any
}

// Success carries the full validation payload.
type Success struct {
	Data Payload
}

// Failure carries one of the stable reason strings.
type Failure struct {
	Reason Reason
}

// Maintenance carries the operator-configured downtime message. It reports
// status true so clients display the message instead of treating it as a
// key rejection.
type Maintenance struct {
	Message string
}

func (s Success) envelope() any {
	return struct {
		Status bool    `json:"status"`
		Data   Payload `json:"data"`
	}{true, s.Data}
}

func (f Failure) envelope() any {
	return struct {
		Status bool   `json:"status"`
		Reason string `json:"reason"`
	}{false, string(f.Reason)}
}

func (m Maintenance) envelope() any {
	return struct {
		Status bool   `json:"status"`
		Reason string `json:"reason"`
	}{true, m.Message}
}

// EncodePlain serializes the result as its JSON envelope.
func EncodePlain(r Result) ([]byte, error) {
	return json.Marshal(r.envelope())
}

// EncodeEncrypted serializes the result to its canonical JSON form and
// encrypts it, returning the base64 ciphertext that forms the entire
// response body.
func EncodeEncrypted(r Result, cfg domain.EncryptionConfig) (string, error) {
	key, iv, err := Material(cfg)
	if err != nil {
		return "", err
	}
	plain, err := EncodePlain(r)
	if err != nil {
		return "", err
	}
	return encrypt(plain, key, iv)
}

// Material parses and size-checks the hex key and IV. Both must be present
// and exact: 64 hex characters of key, 32 of IV.
func Material(cfg domain.EncryptionConfig) (key, iv []byte, err error) {
	if cfg.Key == "" || cfg.IV == "" {
		return nil, nil, ErrNotConfigured
	}
	key, err = hex.DecodeString(cfg.Key)
	if err != nil || len(key) != 32 {
		return nil, nil, fmt.Errorf("%w: key must be 64 hex characters", ErrNotConfigured)
	}
	iv, err = hex.DecodeString(cfg.IV)
	if err != nil || len(iv) != 16 {
		return nil, nil, fmt.Errorf("%w: iv must be 32 hex characters", ErrNotConfigured)
	}
	return key, iv, nil
}

// Fingerprint returns the deterministic session token for a validated
// device: a digest over game, key secret, device identifier, and the
// installation salt. The pre-digest concatenation is also returned because
// the client contract exposes it as "real".
func Fingerprint(game, secret, deviceID string) (real, token string) {
	real = fmt.Sprintf("%s-%s-%s-%s", game, secret, deviceID, installSalt)
	sum := md5.Sum([]byte(real))
	return real, hex.EncodeToString(sum[:])
}

func encrypt(plain, key, iv []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	padded := pkcs7Pad(plain, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses EncodeEncrypted given the same material. Used by tests
// and operator tooling to verify the round-trip contract.
func Decrypt(b64 string, cfg domain.EncryptionConfig) ([]byte, error) {
	key, iv, err := Material(cfg)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, errors.New("codec: ciphertext is not block aligned")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, raw)
	return pkcs7Unpad(out, aes.BlockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(pad)}, pad)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("codec: empty plaintext")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, errors.New("codec: invalid padding")
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, errors.New("codec: invalid padding")
		}
	}
	return data[:len(data)-pad], nil
}
