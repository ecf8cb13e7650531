// Package conn owns the duplex transport to the chat peer.
//
// Ownership boundary:
// - the live websocket handle (never exposed to callers)
// - the Idle/Connecting/Open/Closed/Failed lifecycle
// - reconnect scheduling with exponential backoff and a give-up policy
package conn
