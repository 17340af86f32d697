package authreg

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kwray/authreg/registry"
)

const (
	auditEventLoginSuccess        = "login_success"
	auditEventLoginFailure        = "login_failure"
	auditEventKeyLoginSuccess     = "key_login_success"
	auditEventKeyLoginFailure     = "key_login_failure"
	auditEventLogoutSuccess       = "logout_success"
	auditEventLogoutFailure       = "logout_failure"
	auditEventCredentialOverwrite = "credential_overwritten"
	auditEventCredentialAdded     = "credential_added"
	auditEventCredentialDuplicate = "credential_duplicate"
	auditEventPermsChanged        = "perms_changed"
	auditEventPermsChangeDenied   = "perms_change_denied"
	auditEventTokenIssued         = "token_issued"
	auditEventTokenRejected       = "token_rejected"
	auditEventTokenRevoked        = "token_revoked"
)

// AuditErrorCode defines a public type used by authreg APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrInvalidCredentials  AuditErrorCode = "invalid_credentials"
	auditErrUnknownUser         AuditErrorCode = "unknown_user"
	auditErrNotFound            AuditErrorCode = "not_found"
	auditErrDuplicate           AuditErrorCode = "duplicate"
	auditErrNoActiveConnections AuditErrorCode = "no_active_connections"
	auditErrConnectionLimit     AuditErrorCode = "connection_limit"
	auditErrTokenInvalid        AuditErrorCode = "invalid_token"
	auditErrTokenRevoked        AuditErrorCode = "token_revoked"
	auditErrTokensDisabled      AuditErrorCode = "tokens_disabled"
	auditErrRevocationBackend   AuditErrorCode = "revocation_unavailable"
	auditErrInternal            AuditErrorCode = "internal_error"
)

func auditErrorCode(err error) AuditErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, registry.ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, registry.ErrUnknownUser):
		return auditErrUnknownUser
	case errors.Is(err, registry.ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, registry.ErrAlreadyExists):
		return auditErrDuplicate
	case errors.Is(err, registry.ErrNoActiveConnections):
		return auditErrNoActiveConnections
	case errors.Is(err, registry.ErrConnectionLimit):
		return auditErrConnectionLimit
	case errors.Is(err, ErrTokenRevoked):
		return auditErrTokenRevoked
	case errors.Is(err, ErrTokenInvalid):
		return auditErrTokenInvalid
	case errors.Is(err, ErrTokensDisabled):
		return auditErrTokensDisabled
	case errors.Is(err, ErrRevocationUnavailable):
		return auditErrRevocationBackend
	default:
		return auditErrInternal
	}
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	severity string,
	success bool,
	name string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Severity:  severity,
		Name:      name,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}
