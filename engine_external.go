package goSession

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	internalflows "github.com/MrEthical07/goSession/internal/flows"
)

const (
	externalKindTopItems   = "top_items"
	externalKindNowPlaying = "now_playing"
)

// ExternalAccessToken returns a usable third-party access token for principalID.
// A token expiring within External.RefreshSkew is refreshed and persisted first;
// concurrent callers for the same principal share one refresh.
func (e *Engine) ExternalAccessToken(ctx context.Context, principalID string) (string, error) {
	if !e.ready() || e.refresher == nil {
		return "", ErrEngineNotReady
	}
	return e.flow.ExternalAccessToken(ctx, principalID)
}

// GetExternalTopItems returns the principal's top artists as raw JSON, served from
// the response cache for up to External.TopItemsTTL.
func (e *Engine) GetExternalTopItems(ctx context.Context, claims Claims) (TopItems, error) {
	if err := e.externalReady(claims); err != nil {
		return nil, err
	}
	limit := e.config.External.TopItemsLimit
	body, err := e.flow.CachedFetch(ctx, claims.ID, externalKindTopItems, e.config.External.TopItemsTTL,
		func(ctx context.Context, token string) ([]byte, error) {
			return e.externalAPI.TopItems(ctx, token, limit)
		})
	if err != nil {
		return nil, err
	}
	return TopItems(body), nil
}

// GetExternalNowPlaying returns the currently playing item as raw JSON, served from
// the response cache for up to External.NowPlayingTTL.
func (e *Engine) GetExternalNowPlaying(ctx context.Context, claims Claims) (NowPlaying, error) {
	if err := e.externalReady(claims); err != nil {
		return nil, err
	}
	body, err := e.flow.CachedFetch(ctx, claims.ID, externalKindNowPlaying, e.config.External.NowPlayingTTL,
		e.externalAPI.NowPlaying)
	if err != nil {
		return nil, err
	}
	return NowPlaying(body), nil
}

// StartExternalPlayback starts playing trackURI on the principal's active device.
// It never uses the cache and drops the cached now-playing entry on success.
func (e *Engine) StartExternalPlayback(ctx context.Context, claims Claims, trackURI string) error {
	if err := e.externalReady(claims); err != nil {
		return err
	}
	trackURI = strings.TrimSpace(trackURI)
	if trackURI == "" {
		return fmt.Errorf("%w: track uri is required", ErrInvalidInput)
	}

	err := e.flow.ExternalMutation(ctx, claims.ID, []string{externalKindNowPlaying},
		func(ctx context.Context, token string) error {
			return e.externalAPI.StartPlayback(ctx, token, trackURI)
		})
	e.emitAudit(ctx, auditEventExternalMutation, err == nil, claims.ID, err, func() map[string]string {
		return map[string]string{"action": "play"}
	})
	return err
}

// PauseExternalPlayback pauses the principal's active device. It returns
// ErrNoActiveTarget when no device is active.
func (e *Engine) PauseExternalPlayback(ctx context.Context, claims Claims) error {
	if err := e.externalReady(claims); err != nil {
		return err
	}

	err := e.flow.ExternalMutation(ctx, claims.ID, []string{externalKindNowPlaying}, e.externalAPI.PausePlayback)
	e.emitAudit(ctx, auditEventExternalMutation, err == nil, claims.ID, err, func() map[string]string {
		return map[string]string{"action": "pause"}
	})
	return err
}

func (e *Engine) externalReady(claims Claims) error {
	if !e.ready() || e.externalAPI == nil || e.refresher == nil {
		return ErrEngineNotReady
	}
	if claims.ID == "" {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) externalFlowDeps() internalflows.ExternalDeps {
	deps := internalflows.ExternalDeps{
		RefreshSkew:     e.config.External.RefreshSkew,
		AssumedLifetime: e.config.External.AssumedTokenLifetime,
		Now:             time.Now,
		IsNotFound: func(err error) bool {
			return errors.Is(err, ErrNotFound)
		},
		Refreshes: e.refreshes,
		Warn:      e.warn,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		Metrics: internalflows.ExternalMetrics{
			CacheHit:                 int(MetricExternalCacheHit),
			CacheMiss:                int(MetricExternalCacheMiss),
			CredentialRefresh:        int(MetricExternalRefresh),
			CredentialRefreshFailure: int(MetricExternalRefreshFailure),
			CredentialPersistFailure: int(MetricExternalPersistFailure),
		},
		Errors: internalflows.ExternalErrors{
			EngineNotReady:      ErrEngineNotReady,
			NotFound:            ErrNotFound,
			UpstreamCredential:  ErrUpstreamCredential,
			UpstreamUnavailable: ErrUpstreamUnavailable,
		},
	}

	if e.store != nil {
		deps.LoadCredential = func(ctx context.Context, id string) (*internalflows.ExternalCredential, error) {
			p, err := e.store.GetByID(ctx, id)
			if err != nil {
				return nil, err
			}
			return toFlowExternalCredential(p.External), nil
		}
		deps.PersistAccessToken = e.store.UpdateExternalAccessToken
	}
	if e.refresher != nil {
		deps.RefreshCredential = func(ctx context.Context, cred internalflows.ExternalCredential) (string, time.Time, error) {
			return e.refresher.Refresh(ctx, *fromFlowExternalCredential(&cred))
		}
	}
	if e.cache != nil {
		deps.CacheGet = e.cache.Get
		deps.CacheSet = e.cache.Set
		deps.CacheDelete = e.cache.Delete
	}

	return deps
}
