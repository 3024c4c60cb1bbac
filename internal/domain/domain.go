// Package domain holds the persistent record types shared by the ledger
// store, the lifecycle managers, and the transport layer. The JSON tags are
// part of the client wire contract and must not change.
package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// DurationUnit is the closed set of units a key duration may be expressed in.
type DurationUnit string

const (
	DurationDays  DurationUnit = "days"
	DurationHours DurationUnit = "hours"
)

// Valid reports whether the unit is one of the supported values.
func (u DurationUnit) Valid() bool {
	return u == DurationDays || u == DurationHours
}

// KeyStatus is the operator-controlled axis of a key's lifecycle,
// orthogonal to temporal validity.
type KeyStatus string

const (
	KeyActive  KeyStatus = "active"
	KeyBlocked KeyStatus = "blocked"
)

// DeviceSet is an ordered, duplicate-free set of opaque device identifiers.
//
// Historical data stored device lists as null, "", "[]", or a comma-joined
// string. Decoding normalizes all of those to the canonical JSON array form;
// encoding always emits an array.
type DeviceSet []string

// Contains reports whether id is already registered.
func (d DeviceSet) Contains(id string) bool {
	for _, v := range d {
		if v == id {
			return true
		}
	}
	return false
}

// UnmarshalJSON accepts the canonical array form plus the legacy string
// encodings left behind by the previous storage layer.
func (d *DeviceSet) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*d = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// null or anything else unrecognized decodes as empty
		*d = nil
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" || s == "[]" {
		*d = nil
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" && !DeviceSet(out).Contains(part) {
			out = append(out, part)
		}
	}
	*d = out
	return nil
}

// MarshalJSON always emits the canonical array form, never null.
func (d DeviceSet) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(d))
}

// Key is a time-limited, device-bound access license. A key is addressed by
// the (game, user_key) pair during validation; ID is only the storage handle.
type Key struct {
	ID           string       `json:"id"`
	Game         string       `json:"game"`
	Secret       string       `json:"user_key"`
	Duration     int          `json:"duration"`
	DurationUnit DurationUnit `json:"duration_unit"`
	MaxDevices   int          `json:"max_devices"`
	Devices      DeviceSet    `json:"devices"`
	Status       KeyStatus    `json:"status"`
	Registrator  string       `json:"registrator"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	// ExpiresAt stays nil until the first successful validation activates
	// the key; once set it only changes through an explicit operator edit.
	ExpiresAt *time.Time `json:"expired_date,omitempty"`
}

// Activated reports whether the key's validity window has been anchored.
func (k *Key) Activated() bool { return k.ExpiresAt != nil }

// Expired reports whether the key's window has closed at the given instant.
// A provisioned (never validated) key is not expired.
func (k *Key) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// ExpiryFrom computes the expiry instant for a duration anchored at start.
// It is the single place duration units are interpreted.
func ExpiryFrom(start time.Time, duration int, unit DurationUnit) time.Time {
	if unit == DurationHours {
		return start.Add(time.Duration(duration) * time.Hour)
	}
	return start.AddDate(0, 0, duration)
}

// Tier is an account's privilege level. Owner-tier accounts are exempt from
// balance debits.
type Tier string

const (
	TierOwner         Tier = "owner"
	TierResellerAdmin Tier = "reseller-admin"
	TierReseller      Tier = "reseller"
	TierTrial         Tier = "trial"
)

// Account is a spendable-credit holder ("saldo" in the original panel).
type Account struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Balance   float64   `json:"saldo"`
	Tier      Tier      `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// ExpiresAt bounds the account itself, seeded by referral redemption.
	ExpiresAt *time.Time `json:"expiration_date,omitempty"`
}

// ReferralGrant is what redeeming a referral code seeds a new account with.
type ReferralGrant struct {
	Balance       float64   `json:"set_saldo"`
	Tier          Tier      `json:"tier"`
	AccountExpiry time.Time `json:"acc_expiration"`
}

// ReferralCode is a single-use token. UsedBy transitions from nil to the
// redeemer exactly once; a used code is permanently inert.
type ReferralCode struct {
	ID        string        `json:"id"`
	Code      string        `json:"code"`
	Grants    ReferralGrant `json:"grants"`
	CreatedBy string        `json:"created_by"`
	UsedBy    *string       `json:"used_by"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Used reports whether the code has already been redeemed.
func (r *ReferralCode) Used() bool { return r.UsedBy != nil }

// PriceTier is a flat price for a specific whole-day duration.
type PriceTier struct {
	Days  int     `json:"days"`
	Price float64 `json:"price"`
}

// PricingPolicy maps durations to issuance cost. Tiers are keyed by the
// duration in days rendered as a decimal string, matching the stored form.
type PricingPolicy struct {
	DefaultPricePerDay float64              `json:"default_price_per_day"`
	Tiers              map[string]PriceTier `json:"tiers,omitempty"`
}

// EncryptionConfig carries the operator-supplied AES-256-CBC material for
// the encrypted response transport. Key is 64 hex characters (32 bytes), IV
// is 32 hex characters (16 bytes). Both must be present and well formed
// before encrypted mode may be used.
type EncryptionConfig struct {
	Key string `json:"key"`
	IV  string `json:"iv"`
}

// MaintenanceFlag is the process-wide kill switch checked before any
// validation logic runs.
type MaintenanceFlag struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

// DefenseFlag disables key issuance with an operator-supplied message.
type DefenseFlag struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

// FeatureFlags is the toggle snapshot echoed back in successful validation
// payloads. Values are the literal strings "on" and "off".
type FeatureFlags struct {
	ESP         string `json:"ESP"`
	Item        string `json:"Item"`
	Aim         string `json:"AIM"`
	SilentAim   string `json:"SilentAim"`
	BulletTrack string `json:"BulletTrack"`
	Floating    string `json:"Floating"`
	Memory      string `json:"Memory"`
	Setting     string `json:"Setting"`
}

// DefaultFeatureFlags returns the all-off snapshot used when no feature
// record has been configured yet.
func DefaultFeatureFlags() FeatureFlags {
	return FeatureFlags{
		ESP: "off", Item: "off", Aim: "off", SilentAim: "off",
		BulletTrack: "off", Floating: "off", Memory: "off", Setting: "off",
	}
}

// ModInfo is display metadata included in successful validation payloads.
type ModInfo struct {
	ModName string `json:"modname"`
	Status  string `json:"mod_status"`
	Credit  string `json:"credit"`
}

// DefaultModInfo returns the display metadata used before an operator has
// configured any.
func DefaultModInfo() ModInfo {
	return ModInfo{ModName: "Kuro", Status: "Online", Credit: "Kuro Panel"}
}
