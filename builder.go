package goSession

import (
	"errors"
	"log/slog"

	internalflows "github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/internal/stores"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/password"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// dummyPassword is hashed once at build time so logins for unknown identifiers
// spend the same hashing work as real ones.
const dummyPassword = "gosession-unknown-principal"

// Builder assembles an [Engine]. Every collaborator is passed in explicitly; a
// Builder can be used for exactly one Build.
type Builder struct {
	config Config

	redis      redis.UniversalClient
	cacheRedis redis.UniversalClient

	store       PrincipalStore
	mailer      Mailer
	externalAPI ExternalAPI
	refresher   CredentialRefresher
	auditSink   AuditSink
	logger      *slog.Logger

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client used for recovery codes and rate limits. It is
// also used for the response cache unless WithCacheRedis is given.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCacheRedis sets a separate Redis client for cached external responses.
func (b *Builder) WithCacheRedis(client redis.UniversalClient) *Builder {
	b.cacheRedis = client
	return b
}

// WithPrincipalStore sets the principal persistence. Required.
func (b *Builder) WithPrincipalStore(store PrincipalStore) *Builder {
	b.store = store
	return b
}

// WithMailer sets the recovery code dispatcher. Without it recovery initiation
// returns ErrEngineNotReady.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithExternalAPI sets the third-party resource API client.
func (b *Builder) WithExternalAPI(api ExternalAPI) *Builder {
	b.externalAPI = api
	return b
}

// WithCredentialRefresher sets the third-party OAuth refresher.
func (b *Builder) WithCredentialRefresher(r CredentialRefresher) *Builder {
	b.refresher = r
	return b
}

// WithAuditSink sets the audit sink. Audit events are only produced when
// Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. The default discards everything.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the Authenticate latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("principal store required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	cacheClient := b.cacheRedis
	if cacheClient == nil {
		cacheClient = b.redis
	}

	engine := &Engine{
		config:        cfg,
		store:         b.store,
		mailer:        b.mailer,
		externalAPI:   b.externalAPI,
		refresher:     b.refresher,
		logger:        logger,
		refreshes:     new(singleflight.Group),
		cacheSeparate: b.cacheRedis != nil,
	}

	engine.rateLimiter = rate.New(b.redis, rate.Config{
		KeyPrefix:                   cfg.KeyPrefix,
		LoginMaxFailures:            cfg.RateLimit.LoginMaxFailures,
		LoginWindow:                 cfg.RateLimit.LoginWindow,
		RegisterMax:                 cfg.RateLimit.RegisterMax,
		RegisterWindow:              cfg.RateLimit.RegisterWindow,
		RecoveryInitiateMax:         cfg.RateLimit.RecoveryInitiateMax,
		RecoveryInitiateWindow:      cfg.RateLimit.RecoveryInitiateWindow,
		RecoveryCompleteMaxFailures: cfg.RateLimit.RecoveryCompleteMaxFailures,
		RecoveryCompleteWindow:      cfg.RateLimit.RecoveryCompleteWindow,
	})
	engine.codes = stores.NewCodeStore(b.redis, cfg.KeyPrefix)
	engine.cache = stores.NewResponseCache(cacheClient, cfg.KeyPrefix)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink, func() {
		logger.Warn("audit event dropped", "buffer_size", cfg.Audit.BufferSize)
	})

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph
	engine.dummyHash, err = ph.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}

	codec, err := jwt.NewCodec(jwt.Config{
		AccessSecret:  []byte(cfg.Token.AccessSecret),
		RenewalSecret: []byte(cfg.Token.RenewalSecret),
		AccessTTL:     cfg.Token.AccessTTL,
		RenewalTTL:    cfg.Token.RenewalTTL,
		Issuer:        cfg.Token.Issuer,
		Leeway:        cfg.Token.Leeway,
	})
	if err != nil {
		return nil, err
	}
	engine.codec = codec

	session := engine.sessionFlowDeps()
	engine.flow = internalflows.New(internalflows.Deps{
		Session:  session,
		Account:  engine.accountFlowDeps(session),
		Recovery: engine.recoveryFlowDeps(),
		External: engine.externalFlowDeps(),
	})

	b.built = true

	return engine, nil
}
