// Package bus implements the session-gated event bus.
//
// The Bus decodes inbound envelopes, validates the sending session against
// the shared store, and dispatches by event name to a registered handler.
// Outbound emits re-check the session before any bytes leave the process,
// format decimal-tagged monetary fields at currency precision, and deliver
// through the connection registry to one or all live connections.
//
// Protocol and authorization misses are dropped silently: no error envelope
// goes back to the client, so a malicious frame learns nothing about which
// sessions are valid.
package bus
