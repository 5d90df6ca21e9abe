package goSession

import "time"

// SecurityReport summarizes the effective security-relevant configuration of an
// Engine. It never contains secrets.
type SecurityReport struct {
	SigningAlgorithm      string
	AccessTTL             time.Duration
	RenewalTTL            time.Duration
	TokenLeeway           time.Duration
	SingleSession         bool
	Argon2                PasswordConfigReport
	UpgradeOnLogin        bool
	RecoveryCodeDigits    int
	RecoveryCodeTTL       time.Duration
	LoginLimitActive      bool
	RegisterLimitActive   bool
	RecoveryLimitsActive  bool
	AuditEnabled          bool
	MetricsEnabled        bool
	ExternalProxyEnabled  bool
	ExternalRefreshSkew   time.Duration
	SeparateCacheBackends bool
}

// PasswordConfigReport is the Argon2id parameter set in effect.
type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	rl := e.config.RateLimit
	return SecurityReport{
		SigningAlgorithm: "HS256",
		AccessTTL:        e.config.Token.AccessTTL,
		RenewalTTL:       e.config.Token.RenewalTTL,
		TokenLeeway:      e.config.Token.Leeway,
		SingleSession:    true,
		Argon2: PasswordConfigReport{
			Memory:      e.config.Password.Memory,
			Time:        e.config.Password.Time,
			Parallelism: e.config.Password.Parallelism,
			SaltLength:  e.config.Password.SaltLength,
			KeyLength:   e.config.Password.KeyLength,
		},
		UpgradeOnLogin:        e.config.Password.UpgradeOnLogin,
		RecoveryCodeDigits:    e.config.Recovery.CodeDigits,
		RecoveryCodeTTL:       e.config.Recovery.CodeTTL,
		LoginLimitActive:      rl.LoginMaxFailures > 0,
		RegisterLimitActive:   rl.RegisterMax > 0,
		RecoveryLimitsActive:  rl.RecoveryInitiateMax > 0 && rl.RecoveryCompleteMaxFailures > 0,
		AuditEnabled:          e.audit != nil,
		MetricsEnabled:        e.metrics.Enabled(),
		ExternalProxyEnabled:  e.externalAPI != nil && e.refresher != nil,
		ExternalRefreshSkew:   e.config.External.RefreshSkew,
		SeparateCacheBackends: e.cacheSeparate,
	}
}
