// Package progress implements the per-request progress channel: ordered,
// push-only events with an explicit terminal contract (exactly one complete
// or error event), delivered to clients as server-sent events.
package progress
