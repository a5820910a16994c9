// Package transport defines the interface for pluggable inbound transports.
//
// Each transport (HTTP, gRPC) accepts raw interaction payloads and hands
// them to the orchestrator through a Handler. The orchestrator doesn't care
// how payloads arrive; it only works with the Handler contract.
package transport

import (
	"context"

	"github.com/nadzzz/voicedesk/internal/interaction"
)

// Handler processes one raw interaction payload. It always returns a
// response; failures are expressed in the response status and body.
type Handler func(ctx context.Context, raw []byte) *interaction.Response

// Transport is the interface that every transport adapter must implement.
type Transport interface {
	// Name returns the transport identifier (e.g., "grpc", "http").
	Name() string

	// Listen starts accepting payloads and passes them to the handler.
	// It blocks until the context is cancelled.
	Listen(ctx context.Context, handler Handler) error

	// Close gracefully shuts down the transport, draining in-flight work.
	Close() error
}
