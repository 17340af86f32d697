// Package audit defines the structured event model and sinks for
// security-relevant registry operations.
//
// # Components
//
//   - [Event] — structured audit record with event ID, timestamp, type,
//     severity, user name, IP, and metadata.
//   - [Sink] — interface for event consumers (channel, JSON writer, no-op).
//
// # Architecture boundaries
//
// This package owns the event model and sink delivery. It does NOT decide
// which events to emit or how they are buffered — that responsibility
// belongs to the Engine's dispatcher in the root package.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import the root package or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
