package internaldefs

import (
	goSession "github.com/MrEthical07/goSession"
)

// CounterDef binds a counter MetricID to its exported name.
type CounterDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// HistogramDef binds a histogram MetricID to its exported name.
type HistogramDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in MetricID order.
var CounterDefs = []CounterDef{
	{ID: goSession.MetricLoginSuccess, Name: "gosession_login_success_total", Help: "Logins that issued a token pair."},
	{ID: goSession.MetricLoginFailure, Name: "gosession_login_failure_total", Help: "Logins rejected as unauthorized."},
	{ID: goSession.MetricLoginRateLimited, Name: "gosession_login_rate_limited_total", Help: "Logins rejected by the failure limiter."},
	{ID: goSession.MetricRenewSuccess, Name: "gosession_renew_success_total", Help: "Renewals that rotated the session secret."},
	{ID: goSession.MetricRenewFailure, Name: "gosession_renew_failure_total", Help: "Rejected renewals, including lost races."},
	{ID: goSession.MetricLogout, Name: "gosession_logout_total", Help: "Logouts that cleared the session secret."},
	{ID: goSession.MetricPasswordRehashed, Name: "gosession_password_rehashed_total", Help: "Legacy or weak password hashes replaced after login."},
	{ID: goSession.MetricRegisterSuccess, Name: "gosession_register_success_total", Help: "Created principals."},
	{ID: goSession.MetricRegisterConflict, Name: "gosession_register_conflict_total", Help: "Registrations rejected for a duplicate email or phone."},
	{ID: goSession.MetricRegisterRateLimited, Name: "gosession_register_rate_limited_total", Help: "Registrations rejected by the limiter."},
	{ID: goSession.MetricRecoveryInitiated, Name: "gosession_recovery_initiated_total", Help: "Dispatched recovery codes."},
	{ID: goSession.MetricRecoveryDispatchFailed, Name: "gosession_recovery_dispatch_failed_total", Help: "Recovery codes the mailer could not deliver."},
	{ID: goSession.MetricRecoveryCompleted, Name: "gosession_recovery_completed_total", Help: "Completed password recoveries."},
	{ID: goSession.MetricRecoveryInvalidCode, Name: "gosession_recovery_invalid_code_total", Help: "Rejected recovery codes."},
	{ID: goSession.MetricRecoveryRateLimited, Name: "gosession_recovery_rate_limited_total", Help: "Recovery requests rejected by a limiter."},
	{ID: goSession.MetricExternalCacheHit, Name: "gosession_external_cache_hit_total", Help: "External responses served from the cache."},
	{ID: goSession.MetricExternalCacheMiss, Name: "gosession_external_cache_miss_total", Help: "External responses fetched upstream."},
	{ID: goSession.MetricExternalRefresh, Name: "gosession_external_refresh_total", Help: "Successful third-party credential refreshes."},
	{ID: goSession.MetricExternalRefreshFailure, Name: "gosession_external_refresh_failure_total", Help: "Failed third-party credential refreshes."},
	{ID: goSession.MetricExternalPersistFailure, Name: "gosession_external_persist_failure_total", Help: "Refreshed third-party tokens the principal store did not record."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goSession.MetricAuthenticateLatency, Name: "gosession_authenticate_latency_seconds", Help: "Access token verification latency."},
}

// AuditDroppedName is the counter exported for AuditDropped.
const AuditDroppedName = "gosession_audit_dropped_total"

// AuditDroppedHelp is the help text for AuditDroppedName.
const AuditDroppedHelp = "Audit events dropped due to dispatcher backpressure."

// HistogramUpperBounds are the bucket upper bounds in seconds, excluding +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBounds are the text form of the bucket bounds, matching the Engine buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix renders each bound as an instrument name suffix.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, padding missing buckets with zero.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
