package authreg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kwray/authreg/registry"
	"github.com/kwray/authreg/token"
)

// Engine defines a public type used by authreg APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config   Config
	registry *registry.Registry
	audit    *auditDispatcher
	metrics  *Metrics
	logger   zerolog.Logger
	tokens   *token.Manager
	revoked  *token.Store
}

// Close describes the close operation and its observable behavior.
//
// Close flushes and stops the audit dispatcher. It is safe to call more
// than once and safe on a nil receiver.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events dropped because the
// dispatch buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time deep copy of all counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Login describes the login operation and its observable behavior.
//
// An empty name authenticates the hash against the general-key table with
// no side effects; a non-empty name authenticates against the named-user
// table and increments that user's connection counter on success. Failure
// is always an error value — there is no reserved permission level.
//
// Login may return an error when input validation, dependency calls, or security checks fail.
// Login does not mutate shared global state beyond the documented connection counter and can be used concurrently.
func (e *Engine) Login(ctx context.Context, hash, name string) (Grant, error) {
	if e == nil || e.registry == nil {
		return Grant{}, ErrEngineNotReady
	}

	grant, err := e.registry.Login(hash, name)

	if name == "" {
		if err != nil {
			e.metricInc(MetricKeyLoginFailure)
			e.logger.Error().Err(err).Msg("general key login rejected")
			e.emitAudit(ctx, auditEventKeyLoginFailure, SeverityError, false, "", err, nil)
			return Grant{}, err
		}
		e.metricInc(MetricKeyLoginSuccess)
		e.emitAudit(ctx, auditEventKeyLoginSuccess, SeverityInfo, true, "", nil, func() map[string]string {
			return map[string]string{
				"perms": fmt.Sprintf("%d", grant.Perms),
			}
		})
		return grant, nil
	}

	if err != nil {
		e.metricInc(MetricLoginFailure)
		if errors.Is(err, registry.ErrConnectionLimit) {
			e.metricInc(MetricConnectionLimitHit)
		}
		e.logger.Error().Err(err).Str("name", name).Msg("login rejected")
		e.emitAudit(ctx, auditEventLoginFailure, SeverityError, false, name, err, nil)
		return Grant{}, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, SeverityInfo, true, name, nil, func() map[string]string {
		return map[string]string{
			"perms":       fmt.Sprintf("%d", grant.Perms),
			"connections": fmt.Sprintf("%d", grant.Connections),
		}
	})
	return grant, nil
}

// Logout describes the logout operation and its observable behavior.
//
// Anonymous logouts always succeed; named logouts verify the credential
// and decrement the connection counter, which never goes below zero.
//
// Logout may return an error when input validation, dependency calls, or security checks fail.
// Logout does not mutate shared global state beyond the documented connection counter and can be used concurrently.
func (e *Engine) Logout(ctx context.Context, hash, name string) error {
	if e == nil || e.registry == nil {
		return ErrEngineNotReady
	}

	err := e.registry.Logout(hash, name)
	if err != nil {
		e.metricInc(MetricLogoutFailure)
		if errors.Is(err, registry.ErrNoActiveConnections) {
			e.metricInc(MetricLogoutNoConnections)
		}
		e.logger.Error().Err(err).Str("name", name).Msg("logout rejected")
		e.emitAudit(ctx, auditEventLogoutFailure, SeverityError, false, name, err, nil)
		return err
	}

	e.metricInc(MetricLogoutSuccess)
	e.emitAudit(ctx, auditEventLogoutSuccess, SeverityInfo, true, name, nil, nil)
	return nil
}

// PutUser inserts a user unconditionally, overwriting any existing entry
// with the same name. Overwrite is a legitimate administrative action: the
// call always succeeds, and a replaced entry is surfaced as a warning
// (log, audit, metric) plus the returned flag. Use [Engine.Add] for the
// protective variant.
func (e *Engine) PutUser(ctx context.Context, u User) (replaced bool) {
	if e == nil || e.registry == nil {
		return false
	}

	replaced = e.registry.PutUser(u)
	if replaced {
		e.metricInc(MetricCredentialOverwritten)
		e.logger.Warn().Str("name", u.Name).Msg("overwrote existing user entry")
		e.emitAudit(ctx, auditEventCredentialOverwrite, SeverityWarning, true, u.Name, nil, func() map[string]string {
			return map[string]string{"kind": "user"}
		})
	}
	return replaced
}

// PutKey inserts a general key unconditionally, overwriting any existing
// entry with the same hash. Overwrites are reported as warnings, never as
// failures.
func (e *Engine) PutKey(ctx context.Context, k GeneralKey) (replaced bool) {
	if e == nil || e.registry == nil {
		return false
	}

	replaced = e.registry.PutKey(k)
	if replaced {
		e.metricInc(MetricCredentialOverwritten)
		e.logger.Warn().Msg("overwrote existing general key entry")
		e.emitAudit(ctx, auditEventCredentialOverwrite, SeverityWarning, true, "", nil, func() map[string]string {
			return map[string]string{"kind": "general_key"}
		})
	}
	return replaced
}

// Add is the protective insert: it fails with
// [registry.ErrAlreadyExists] when an entry with the same name or hash is
// already registered, and performs no mutation in that case. Dispatch is
// on the concrete [Credential] type.
func (e *Engine) Add(ctx context.Context, c Credential) error {
	if e == nil || e.registry == nil {
		return ErrEngineNotReady
	}

	name := credentialName(c)
	if err := e.registry.Add(c); err != nil {
		e.metricInc(MetricCredentialDuplicate)
		e.logger.Error().Err(err).Str("name", name).Msg("credential insert rejected")
		e.emitAudit(ctx, auditEventCredentialDuplicate, SeverityError, false, name, err, nil)
		return err
	}

	e.metricInc(MetricCredentialAdded)
	e.emitAudit(ctx, auditEventCredentialAdded, SeverityInfo, true, name, nil, nil)
	return nil
}

// SetPerms is the guarded permission update: the target must exist, and a
// user-shaped credential must present the stored hash. See
// [registry.Registry.SetPerms] for the exact contract.
func (e *Engine) SetPerms(ctx context.Context, c Credential, perms int) error {
	if e == nil || e.registry == nil {
		return ErrEngineNotReady
	}

	name := credentialName(c)
	if err := e.registry.SetPerms(c, perms); err != nil {
		e.metricInc(MetricPermsChangeDenied)
		e.logger.Error().Err(err).Str("name", name).Msg("permission change rejected")
		e.emitAudit(ctx, auditEventPermsChangeDenied, SeverityError, false, name, err, nil)
		return err
	}

	e.metricInc(MetricPermsChanged)
	e.emitAudit(ctx, auditEventPermsChanged, SeverityInfo, true, name, nil, func() map[string]string {
		return map[string]string{"perms": fmt.Sprintf("%d", perms)}
	})
	return nil
}

// SetUserPerms overwrites the permission level of an existing user without
// a credential check. The target must exist; callers own that precondition.
func (e *Engine) SetUserPerms(ctx context.Context, name string, perms int) error {
	if e == nil || e.registry == nil {
		return ErrEngineNotReady
	}

	if err := e.registry.SetUserPerms(name, perms); err != nil {
		e.metricInc(MetricPermsChangeDenied)
		e.logger.Error().Err(err).Str("name", name).Msg("permission change rejected")
		e.emitAudit(ctx, auditEventPermsChangeDenied, SeverityError, false, name, err, nil)
		return err
	}

	e.metricInc(MetricPermsChanged)
	e.emitAudit(ctx, auditEventPermsChanged, SeverityInfo, true, name, nil, func() map[string]string {
		return map[string]string{"perms": fmt.Sprintf("%d", perms)}
	})
	return nil
}

// SetKeyPerms overwrites the permission level of an existing general key
// without further checks. The target must exist.
func (e *Engine) SetKeyPerms(ctx context.Context, hash string, perms int) error {
	if e == nil || e.registry == nil {
		return ErrEngineNotReady
	}

	if err := e.registry.SetKeyPerms(hash, perms); err != nil {
		e.metricInc(MetricPermsChangeDenied)
		e.logger.Error().Err(err).Msg("key permission change rejected")
		e.emitAudit(ctx, auditEventPermsChangeDenied, SeverityError, false, "", err, nil)
		return err
	}

	e.metricInc(MetricPermsChanged)
	e.emitAudit(ctx, auditEventPermsChanged, SeverityInfo, true, "", nil, func() map[string]string {
		return map[string]string{"perms": fmt.Sprintf("%d", perms), "kind": "general_key"}
	})
	return nil
}

// Connections returns the current connection counter for a named user and
// whether the user exists.
func (e *Engine) Connections(name string) (int, bool) {
	if e == nil || e.registry == nil {
		return 0, false
	}
	return e.registry.Connections(name)
}

// LoginToken authenticates like [Engine.Login] and exchanges the grant for
// a signed bearer token. Requires the token layer to be enabled; with a
// Redis client configured the token is also tracked for revocation. If
// issuance fails after a successful named login, the connection counter is
// rolled back so accounting stays exact.
func (e *Engine) LoginToken(ctx context.Context, hash, name string) (string, Grant, error) {
	if e == nil || e.registry == nil {
		return "", Grant{}, ErrEngineNotReady
	}
	if e.tokens == nil {
		return "", Grant{}, ErrTokensDisabled
	}

	grant, err := e.Login(ctx, hash, name)
	if err != nil {
		return "", Grant{}, err
	}

	signed, err := e.tokens.Issue(name, grant.Perms)
	if err == nil && e.revoked != nil {
		if claims, parseErr := e.tokens.Parse(signed); parseErr == nil {
			err = e.revoked.TrackIssued(ctx, name, claims.ID, e.tokens.TTL())
		}
	}
	if err != nil {
		if name != "" {
			// Undo the login so the counter does not leak a phantom session.
			_ = e.registry.Logout(hash, name)
		}
		e.metricInc(MetricTokenRejected)
		e.logger.Error().Err(err).Str("name", name).Msg("token issuance failed")
		e.emitAudit(ctx, auditEventTokenRejected, SeverityError, false, name, err, nil)
		return "", Grant{}, err
	}

	e.metricInc(MetricTokenIssued)
	e.emitAudit(ctx, auditEventTokenIssued, SeverityInfo, true, name, nil, func() map[string]string {
		return map[string]string{"perms": fmt.Sprintf("%d", grant.Perms)}
	})
	return signed, grant, nil
}

// Verify parses and validates a bearer token, then checks the revocation
// list when one is configured.
func (e *Engine) Verify(ctx context.Context, tokenStr string) (*token.Claims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if e.tokens == nil {
		return nil, ErrTokensDisabled
	}

	claims, err := e.tokens.Parse(tokenStr)
	if err != nil {
		e.metricInc(MetricTokenRejected)
		e.emitAudit(ctx, auditEventTokenRejected, SeverityError, false, "", ErrTokenInvalid, nil)
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if e.revoked != nil {
		revoked, err := e.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRevocationUnavailable, err)
		}
		if revoked {
			e.metricInc(MetricTokenRejected)
			e.emitAudit(ctx, auditEventTokenRejected, SeverityError, false, claims.Name, ErrTokenRevoked, nil)
			return nil, ErrTokenRevoked
		}
	}

	return claims, nil
}

// RevokeToken invalidates one token for the remainder of its lifetime.
// Requires a Redis-backed revocation store.
func (e *Engine) RevokeToken(ctx context.Context, tokenStr string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if e.tokens == nil {
		return ErrTokensDisabled
	}
	if e.revoked == nil {
		return ErrRevocationUnavailable
	}

	claims, err := e.tokens.Parse(tokenStr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if err := e.revoked.Revoke(ctx, claims.ID, ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrRevocationUnavailable, err)
	}

	e.metricInc(MetricTokenRevoked)
	e.emitAudit(ctx, auditEventTokenRevoked, SeverityInfo, true, claims.Name, nil, nil)
	return nil
}

// RevokeAllForUser invalidates every tracked token for a user name and
// returns how many were revoked. Requires a Redis-backed revocation store.
func (e *Engine) RevokeAllForUser(ctx context.Context, name string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	if e.tokens == nil {
		return 0, ErrTokensDisabled
	}
	if e.revoked == nil {
		return 0, ErrRevocationUnavailable
	}

	n, err := e.revoked.RevokeAllForName(ctx, name, e.tokens.TTL())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRevocationUnavailable, err)
	}
	if n > 0 {
		e.metricInc(MetricTokenRevoked)
		e.emitAudit(ctx, auditEventTokenRevoked, SeverityInfo, true, name, nil, func() map[string]string {
			return map[string]string{"count": fmt.Sprintf("%d", n)}
		})
	}
	return n, nil
}

func credentialName(c Credential) string {
	if u, ok := c.(registry.User); ok {
		return u.Name
	}
	return ""
}
