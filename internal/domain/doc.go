// Package domain defines the core relay types and interfaces.
//
// This package contains concept-oriented files (client.go, message.go, event.go, palette.go, bus.go, errors.go)
// with shared types and cross-cutting interfaces. Message encoding lives here because every layer
// (gateway, hub, relay, bus adapters) exchanges the same envelope.
package domain
