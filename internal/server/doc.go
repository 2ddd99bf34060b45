// Package server is the network side of relayhub.
//
// It upgrades HTTP requests to WebSocket connections, verifies handshake
// tokens, applies the origin and rate-limit policies, and hands every
// decoded frame to a relay.Hub. The hub owns all chat state; this package
// only moves bytes in and out of it.
package server
