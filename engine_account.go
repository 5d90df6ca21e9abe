package goSession

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goSession/internal"
	internalflows "github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/password"
	"github.com/oklog/ulid/v2"
)

// Register validates req, creates the principal and logs it in.
//
// Field rules: first and last name are required, the e-mail address must have a
// local@domain.tld shape, the phone number must have 10 digits once non-digits are
// removed, and the password must satisfy the password policy. A taken e-mail
// address or phone number returns a *ConflictError naming the field.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	if !e.ready() {
		return RegisterResult{}, ErrEngineNotReady
	}

	id, pair, err := e.flow.Register(ctx, internalflows.AccountRegisterRequest{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Password:  req.Password,
		External:  toFlowExternalCredential(e.withAssumedExpiry(req.External)),
	})
	if err != nil {
		return RegisterResult{}, err
	}
	return RegisterResult{Claims: fromFlowIdentity(id), Tokens: fromFlowTokenPair(pair)}, nil
}

// GetProfile returns the profile of the principal named by claims.
func (e *Engine) GetProfile(ctx context.Context, claims Claims) (Profile, error) {
	if !e.ready() {
		return Profile{}, ErrEngineNotReady
	}
	if claims.ID == "" {
		return Profile{}, ErrUnauthorized
	}

	p, err := e.store.GetByID(ctx, claims.ID)
	if err != nil {
		return Profile{}, err
	}
	return profileOf(p), nil
}

// UpdateProfile applies a partial update to the principal named by claims. Fields
// follow the registration rules; a taken e-mail address or phone number returns a
// *ConflictError. Replacing the external credential drops cached external
// responses for the principal.
func (e *Engine) UpdateProfile(ctx context.Context, claims Claims, update ProfileUpdate) (Profile, error) {
	if !e.ready() {
		return Profile{}, ErrEngineNotReady
	}
	if claims.ID == "" {
		return Profile{}, ErrUnauthorized
	}

	normalized, err := normalizeProfileUpdate(update)
	if err != nil {
		e.emitAudit(ctx, auditEventProfileUpdate, false, claims.ID, err, nil)
		return Profile{}, err
	}
	normalized.External = e.withAssumedExpiry(normalized.External)

	p, err := e.store.UpdateProfile(ctx, claims.ID, normalized)
	if err != nil {
		e.emitAudit(ctx, auditEventProfileUpdate, false, claims.ID, err, nil)
		return Profile{}, err
	}

	if normalized.External != nil && e.cache != nil {
		for _, kind := range []string{externalKindTopItems, externalKindNowPlaying} {
			if err := e.cache.Delete(ctx, claims.ID, kind); err != nil {
				e.warn("response cache invalidation failed", "principal_id", claims.ID, "endpoint", kind, "err", err)
			}
		}
	}

	e.emitAudit(ctx, auditEventProfileUpdate, true, claims.ID, nil, func() map[string]string {
		return map[string]string{"fields": strings.Join(updatedFields(normalized), ",")}
	})
	return profileOf(p), nil
}

func normalizeProfileUpdate(update ProfileUpdate) (ProfileUpdate, error) {
	var out ProfileUpdate

	if update.FirstName != nil {
		v := strings.TrimSpace(*update.FirstName)
		if v == "" {
			return out, fmt.Errorf("%w: first name must not be empty", ErrInvalidInput)
		}
		out.FirstName = &v
	}
	if update.LastName != nil {
		v := strings.TrimSpace(*update.LastName)
		if v == "" {
			return out, fmt.Errorf("%w: last name must not be empty", ErrInvalidInput)
		}
		out.LastName = &v
	}
	if update.Email != nil {
		v := internal.NormalizeEmail(*update.Email)
		if !internal.ValidEmail(v) {
			return out, fmt.Errorf("%w: email is malformed", ErrInvalidInput)
		}
		out.Email = &v
	}
	if update.Phone != nil {
		v := internal.NormalizePhone(*update.Phone)
		if !internal.ValidPhone(v) {
			return out, fmt.Errorf("%w: phone must have %d digits", ErrInvalidInput, internal.PhoneDigits)
		}
		out.Phone = &v
	}
	if update.External != nil {
		cred := *update.External
		out.External = &cred
	}

	if out.FirstName == nil && out.LastName == nil && out.Email == nil && out.Phone == nil && out.External == nil {
		return out, fmt.Errorf("%w: no fields to update", ErrInvalidInput)
	}
	return out, nil
}

func updatedFields(u ProfileUpdate) []string {
	var fields []string
	if u.FirstName != nil {
		fields = append(fields, "first_name")
	}
	if u.LastName != nil {
		fields = append(fields, "last_name")
	}
	if u.Email != nil {
		fields = append(fields, "email")
	}
	if u.Phone != nil {
		fields = append(fields, "phone")
	}
	if u.External != nil {
		fields = append(fields, "external")
	}
	return fields
}

func profileOf(p *Principal) Profile {
	if p == nil {
		return Profile{}
	}
	return Profile{
		ID:             p.ID,
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		Email:          p.Email,
		Phone:          p.Phone,
		ExternalLinked: p.External != nil && (p.External.AccessToken != "" || p.External.RefreshToken != ""),
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func (e *Engine) accountFlowDeps(session internalflows.SessionDeps) internalflows.AccountDeps {
	deps := internalflows.AccountDeps{
		ClientIPFromContext: clientIPFromContext,
		IsRateLimited: func(err error) bool {
			return errors.Is(err, rate.ErrRateLimited)
		},
		CheckPolicy: password.CheckPolicy,
		IsConflict: func(err error) bool {
			return errors.Is(err, ErrConflict)
		},
		Session: session,
		Warn:    e.warn,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Metrics: internalflows.AccountMetrics{
			RegisterSuccess:     int(MetricRegisterSuccess),
			RegisterConflict:    int(MetricRegisterConflict),
			RegisterRateLimited: int(MetricRegisterRateLimited),
		},
		Events: internalflows.AccountEvents{
			RegisterSuccess: auditEventRegisterSuccess,
			RegisterFailure: auditEventRegisterFailure,
		},
		Errors: internalflows.AccountErrors{
			EngineNotReady: ErrEngineNotReady,
			InvalidInput:   ErrInvalidInput,
			RateLimited:    ErrRateLimited,
		},
	}

	if e.rateLimiter != nil {
		deps.CheckRegisterLimiter = e.rateLimiter.CheckRegister
	}
	if e.passwordHash != nil {
		deps.HashPassword = e.passwordHash.Hash
	}
	if e.store != nil {
		deps.CreatePrincipal = func(ctx context.Context, in internalflows.AccountCreateInput) (internalflows.Identity, error) {
			now := time.Now().UTC()
			p := &Principal{
				ID:           ulid.Make().String(),
				FirstName:    in.FirstName,
				LastName:     in.LastName,
				Email:        in.Email,
				Phone:        in.Phone,
				PasswordHash: in.PasswordHash,
				External:     fromFlowExternalCredential(in.External),
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := e.store.Create(ctx, p); err != nil {
				return internalflows.Identity{}, err
			}
			return internalflows.Identity{ID: p.ID, Email: p.Email, Phone: p.Phone}, nil
		}
	}

	return deps
}

// withAssumedExpiry returns a copy of c whose unknown access token expiry is set to
// AssumedTokenLifetime from now.
func (e *Engine) withAssumedExpiry(c *ExternalCredential) *ExternalCredential {
	if c == nil || c.AccessToken == "" || !c.AccessTokenExpiresAt.IsZero() {
		return c
	}
	out := *c
	out.AccessTokenExpiresAt = time.Now().Add(e.config.External.AssumedTokenLifetime).UTC()
	return &out
}

func toFlowExternalCredential(c *ExternalCredential) *internalflows.ExternalCredential {
	if c == nil {
		return nil
	}
	return &internalflows.ExternalCredential{
		AccessToken:          c.AccessToken,
		AccessTokenExpiresAt: c.AccessTokenExpiresAt,
		RefreshToken:         c.RefreshToken,
		ClientID:             c.ClientID,
		ClientSecret:         c.ClientSecret,
	}
}

func fromFlowExternalCredential(c *internalflows.ExternalCredential) *ExternalCredential {
	if c == nil {
		return nil
	}
	return &ExternalCredential{
		AccessToken:          c.AccessToken,
		AccessTokenExpiresAt: c.AccessTokenExpiresAt,
		RefreshToken:         c.RefreshToken,
		ClientID:             c.ClientID,
		ClientSecret:         c.ClientSecret,
	}
}
