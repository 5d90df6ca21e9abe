package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters. A zero Max disables that limit.
type Config struct {
	KeyPrefix string

	LoginMaxFailures int
	LoginWindow      time.Duration

	RegisterMax    int
	RegisterWindow time.Duration

	RecoveryInitiateMax    int
	RecoveryInitiateWindow time.Duration

	RecoveryCompleteMaxFailures int
	RecoveryCompleteWindow      time.Duration
}

// Limiter enforces fixed-window limits for login and recovery operations using
// Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "gs"
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckLogin reports ErrRateLimited once the identifier has used up its failure budget.
func (l *Limiter) CheckLogin(ctx context.Context, identifier string) error {
	if l == nil || l.config.LoginMaxFailures <= 0 {
		return nil
	}
	return l.checkCounter(ctx, l.loginKey(identifier), l.config.LoginMaxFailures)
}

// IncrementLogin records a failed login attempt for the identifier.
func (l *Limiter) IncrementLogin(ctx context.Context, identifier string) error {
	if l == nil || l.config.LoginMaxFailures <= 0 {
		return nil
	}
	_, err := l.incrementWithTTL(ctx, l.loginKey(identifier), l.config.LoginWindow)
	return err
}

// ResetLogin clears the failed-login counter for the identifier.
// Called after a successful login.
func (l *Limiter) ResetLogin(ctx context.Context, identifier string) error {
	if l == nil || l.config.LoginMaxFailures <= 0 {
		return nil
	}
	if err := l.redis.Del(ctx, l.loginKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// CheckRegister counts one registration attempt for key (client IP or e-mail) and
// rejects it when the window budget is exhausted.
func (l *Limiter) CheckRegister(ctx context.Context, key string) error {
	if l == nil || l.config.RegisterMax <= 0 {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, l.config.KeyPrefix+":rl:register:"+key, l.config.RegisterWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.RegisterMax) {
		return ErrRateLimited
	}
	return nil
}

// CheckRecoveryInitiate counts one recovery request for the e-mail address and
// rejects it when the window budget is exhausted.
func (l *Limiter) CheckRecoveryInitiate(ctx context.Context, email string) error {
	if l == nil || l.config.RecoveryInitiateMax <= 0 {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, l.recoveryInitiateKey(email), l.config.RecoveryInitiateWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.RecoveryInitiateMax) {
		return ErrRateLimited
	}
	return nil
}

// CheckRecoveryComplete rejects completion attempts for a principal after too many
// failed codes within the window.
func (l *Limiter) CheckRecoveryComplete(ctx context.Context, principalID string) error {
	if l == nil || l.config.RecoveryCompleteMaxFailures <= 0 {
		return nil
	}
	return l.checkCounter(ctx, l.recoveryCompleteKey(principalID), l.config.RecoveryCompleteMaxFailures)
}

// IncrementRecoveryComplete records a failed completion attempt.
func (l *Limiter) IncrementRecoveryComplete(ctx context.Context, principalID string) error {
	if l == nil || l.config.RecoveryCompleteMaxFailures <= 0 {
		return nil
	}
	_, err := l.incrementWithTTL(ctx, l.recoveryCompleteKey(principalID), l.config.RecoveryCompleteWindow)
	return err
}

// ResetRecoveryComplete clears the completion failure counter after a successful recovery.
func (l *Limiter) ResetRecoveryComplete(ctx context.Context, principalID string) error {
	if l == nil || l.config.RecoveryCompleteMaxFailures <= 0 {
		return nil
	}
	if err := l.redis.Del(ctx, l.recoveryCompleteKey(principalID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// GetLoginAttempts returns the current failure counter for an identifier.
// Missing keys return zero and do not reveal account existence.
func (l *Limiter) GetLoginAttempts(ctx context.Context, identifier string) (int, error) {
	if l == nil {
		return 0, nil
	}
	count, err := l.redis.Get(ctx, l.loginKey(identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(maxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func (l *Limiter) loginKey(identifier string) string {
	return l.config.KeyPrefix + ":rl:login:" + identifier
}

func (l *Limiter) recoveryInitiateKey(email string) string {
	return l.config.KeyPrefix + ":rl:recover:" + email
}

func (l *Limiter) recoveryCompleteKey(principalID string) string {
	return l.config.KeyPrefix + ":rl:reset:" + principalID
}
