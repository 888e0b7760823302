// Package transport implements the WebSocket layer.
//
// The transport accepts connections, pairs each with a live session id,
// and hands inbound frames to the event bus. Writes go through a buffered
// per-connection queue drained by a single write pump, so a slow peer never
// blocks another connection's delivery.
package transport
