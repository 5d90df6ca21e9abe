package goSession

import (
	"errors"
	"time"
)

// Config is the complete Engine configuration. Field tags let hosts load it with
// koanf from YAML and environment variables.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	// KeyPrefix namespaces every Redis key written by the Engine.
	KeyPrefix string          `koanf:"key_prefix"`
	Token     TokenConfig     `koanf:"token"`
	Password  PasswordConfig  `koanf:"password"`
	Recovery  RecoveryConfig  `koanf:"recovery"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	External  ExternalConfig  `koanf:"external"`
	Audit     AuditConfig     `koanf:"audit"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig holds the two signing secrets and token lifetimes. The secrets must
// be non-empty and must differ.
type TokenConfig struct {
	AccessSecret  string        `koanf:"access_secret"`
	RenewalSecret string        `koanf:"renewal_secret"`
	AccessTTL     time.Duration `koanf:"access_ttl"`
	RenewalTTL    time.Duration `koanf:"renewal_ttl"`
	Issuer        string        `koanf:"issuer"`
	Leeway        time.Duration `koanf:"leeway"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id parameters. UpgradeOnLogin re-hashes legacy and
// weaker hashes after a successful login.
type PasswordConfig struct {
	Memory         uint32 `koanf:"memory"`
	Time           uint32 `koanf:"time"`
	Parallelism    uint8  `koanf:"parallelism"`
	SaltLength     uint32 `koanf:"salt_length"`
	KeyLength      uint32 `koanf:"key_length"`
	UpgradeOnLogin bool   `koanf:"upgrade_on_login"`
}

/*
====================================
RECOVERY CONFIG
====================================
*/

// RecoveryConfig controls one-time recovery codes.
type RecoveryConfig struct {
	CodeDigits int           `koanf:"code_digits"`
	CodeTTL    time.Duration `koanf:"code_ttl"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig holds fixed-window limits. A zero maximum disables that limit.
type RateLimitConfig struct {
	LoginMaxFailures int           `koanf:"login_max_failures"`
	LoginWindow      time.Duration `koanf:"login_window"`

	RegisterMax    int           `koanf:"register_max"`
	RegisterWindow time.Duration `koanf:"register_window"`

	RecoveryInitiateMax    int           `koanf:"recovery_initiate_max"`
	RecoveryInitiateWindow time.Duration `koanf:"recovery_initiate_window"`

	RecoveryCompleteMaxFailures int           `koanf:"recovery_complete_max_failures"`
	RecoveryCompleteWindow      time.Duration `koanf:"recovery_complete_window"`
}

/*
====================================
EXTERNAL CONFIG
====================================
*/

// ExternalConfig controls the third-party credential proxy and its response cache.
type ExternalConfig struct {
	// RefreshSkew refreshes a credential this long before it actually expires.
	RefreshSkew time.Duration `koanf:"refresh_skew"`
	// AssumedTokenLifetime is stamped on access tokens that arrive without an expiry,
	// whether linked through Register or UpdateProfile or returned by a refresh.
	AssumedTokenLifetime time.Duration `koanf:"assumed_token_lifetime"`
	TopItemsTTL          time.Duration `koanf:"top_items_ttl"`
	NowPlayingTTL        time.Duration `koanf:"now_playing_ttl"`
	TopItemsLimit        int           `koanf:"top_items_limit"`
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `koanf:"enabled"`
	BufferSize int  `koanf:"buffer_size"`
	DropIfFull bool `koanf:"drop_if_full"`
}

// MetricsConfig controls in-process counters and the latency histogram.
type MetricsConfig struct {
	Enabled                 bool `koanf:"enabled"`
	EnableLatencyHistograms bool `koanf:"enable_latency_histograms"`
}

// DefaultConfig returns a Config with production defaults and empty secrets.
// Callers must set Token.AccessSecret and Token.RenewalSecret.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		KeyPrefix: "gs",
		Token: TokenConfig{
			AccessTTL:  15 * time.Minute,
			RenewalTTL: 7 * 24 * time.Hour,
			Issuer:     "gosession",
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Recovery: RecoveryConfig{
			CodeDigits: 6,
			CodeTTL:    3 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			LoginMaxFailures:            5,
			LoginWindow:                 10 * time.Minute,
			RegisterMax:                 5,
			RegisterWindow:              10 * time.Minute,
			RecoveryInitiateMax:         3,
			RecoveryInitiateWindow:      10 * time.Minute,
			RecoveryCompleteMaxFailures: 3,
			RecoveryCompleteWindow:      10 * time.Minute,
		},
		External: ExternalConfig{
			RefreshSkew:          30 * time.Second,
			AssumedTokenLifetime: 40 * time.Minute,
			TopItemsTTL:          3 * time.Hour,
			NowPlayingTTL:        30 * time.Second,
			TopItemsLimit:        10,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found, or nil.
func (c *Config) Validate() error {
	if c.KeyPrefix == "" {
		return errors.New("KeyPrefix must not be empty")
	}

	// Token
	if c.Token.AccessSecret == "" || c.Token.RenewalSecret == "" {
		return errors.New("Token AccessSecret and RenewalSecret are required")
	}
	if c.Token.AccessSecret == c.Token.RenewalSecret {
		return errors.New("Token AccessSecret and RenewalSecret must differ")
	}
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RenewalTTL <= 0 {
		return errors.New("Token RenewalTTL must be > 0")
	}
	if c.Token.RenewalTTL < c.Token.AccessTTL {
		return errors.New("Token RenewalTTL must be >= AccessTTL")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be between 0 and 2m")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Recovery
	if c.Recovery.CodeDigits < 6 || c.Recovery.CodeDigits > 10 {
		return errors.New("Recovery CodeDigits must be between 6 and 10")
	}
	if c.Recovery.CodeTTL <= 0 {
		return errors.New("Recovery CodeTTL must be > 0")
	}

	// Rate limits
	limits := []struct {
		name   string
		max    int
		window time.Duration
	}{
		{"login", c.RateLimit.LoginMaxFailures, c.RateLimit.LoginWindow},
		{"register", c.RateLimit.RegisterMax, c.RateLimit.RegisterWindow},
		{"recovery initiate", c.RateLimit.RecoveryInitiateMax, c.RateLimit.RecoveryInitiateWindow},
		{"recovery complete", c.RateLimit.RecoveryCompleteMaxFailures, c.RateLimit.RecoveryCompleteWindow},
	}
	for _, l := range limits {
		if l.max < 0 {
			return errors.New("RateLimit " + l.name + " maximum must be >= 0")
		}
		if l.max > 0 && l.window <= 0 {
			return errors.New("RateLimit " + l.name + " window must be > 0 when the limit is enabled")
		}
	}

	// External
	if c.External.RefreshSkew < 0 {
		return errors.New("External RefreshSkew must be >= 0")
	}
	if c.External.AssumedTokenLifetime <= 0 || c.External.AssumedTokenLifetime <= c.External.RefreshSkew {
		return errors.New("External AssumedTokenLifetime must be > RefreshSkew")
	}
	if c.External.TopItemsTTL < 0 || c.External.NowPlayingTTL < 0 {
		return errors.New("External cache TTLs must be >= 0")
	}
	if c.External.TopItemsLimit < 1 || c.External.TopItemsLimit > 50 {
		return errors.New("External TopItemsLimit must be between 1 and 50")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
