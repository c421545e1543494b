package models

import "time"

// ApiKey authenticates a tenant on the HTTP surface.
// The key value is immutable; keys are disabled by setting DisabledAt.
type ApiKey struct {
	BaseModel

	// Key is the opaque bearer value presented by clients.
	// Never logged in clear text.
	Key string `gorm:"not null;size:128;uniqueIndex" json:"-"`

	// Owner is a human-readable account label.
	Owner string `gorm:"size:255" json:"owner"`

	// RateLimitPerMin caps requests accepted per UTC minute for this key.
	RateLimitPerMin int `gorm:"default:60" json:"rate_limit_per_min"`

	// DisabledAt, when set, rejects the key with 403.
	DisabledAt *Time `json:"disabled_at,omitempty"`
}

// TableName returns the table name for ApiKey.
func (ApiKey) TableName() string {
	return "api_keys"
}

// IsDisabled reports whether the key has been revoked.
func (k *ApiKey) IsDisabled() bool {
	return k.DisabledAt != nil
}

// RateCounter tracks requests accepted per API key per one-minute UTC window.
// Old windows are disposable and pruned by the janitor.
type RateCounter struct {
	// APIKeyID and WindowStartMS form the unique window identity.
	APIKeyID      ULID  `gorm:"type:varchar(26);not null;uniqueIndex:idx_rate_window,priority:1" json:"api_key_id"`
	WindowStartMS int64 `gorm:"not null;uniqueIndex:idx_rate_window,priority:2" json:"window_start_ms"`

	// Tokens is the count of requests accepted in this window.
	Tokens int `gorm:"not null;default:0" json:"tokens"`
}

// TableName returns the table name for RateCounter.
func (RateCounter) TableName() string {
	return "rate_counters"
}

// WindowStart truncates the given time to its UTC minute in epoch millis.
func WindowStart(now time.Time) int64 {
	return now.UTC().Truncate(time.Minute).UnixMilli()
}
