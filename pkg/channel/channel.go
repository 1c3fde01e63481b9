package channel

import (
	"context"

	"wecomgw/pkg/bus"
)

// DeliverFunc receives one resolved reply payload. Implementations must be
// safe to call from the resolver's own goroutine.
type DeliverFunc func(ctx context.Context, payload bus.ReplyPayload)

// Resolver turns one dispatch context into zero or more reply payloads,
// invoking deliver once per payload. This is the single reply-dispatch
// operation; historical dispatcher variants are normalized to it before the
// channel ever sees them.
type Resolver interface {
	Resolve(ctx context.Context, dc bus.DispatchContext, deliver DeliverFunc) error
}

// Adapter bridges one external transport (for example WeCom) into the gateway.
type Adapter interface {
	Name() string
	Run(ctx context.Context, resolver Resolver) error
}
