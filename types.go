package authreg

import (
	"io"

	internalaudit "github.com/kwray/authreg/internal/audit"
	"github.com/kwray/authreg/registry"
)

// User is a named account record: opaque credential hash, permission level,
// declared connection cap, and the key-vs-password flag.
type User = registry.User

// GeneralKey is an anonymous bearer credential mapped directly to a
// permission level.
type GeneralKey = registry.GeneralKey

// Credential is the tagged union over [User] and [GeneralKey] accepted by
// the shape-dispatching operations [Engine.Add] and [Engine.SetPerms].
type Credential = registry.Credential

// Grant is the explicit success result of a login: the permission level
// plus a copy of the matched record. Failure is always an error value,
// never a reserved permission level.
type Grant = registry.Grant

// RegistrySnapshot is the static user/general-key configuration a registry
// is bulk-loaded from at construction time.
type RegistrySnapshot = registry.Snapshot

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// Audit event severities, re-exported for sink implementations.
const (
	SeverityInfo    = internalaudit.SeverityInfo
	SeverityWarning = internalaudit.SeverityWarning
	SeverityError   = internalaudit.SeverityError
)

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
