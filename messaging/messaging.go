// Package messaging carries change notifications to downstream consumers.
package messaging

import "context"

// Publisher sends a payload to a named queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, payload []byte) error
}

// Handler processes one received message. Returning an error leaves the
// message unacknowledged so the broker can redeliver it.
type Handler func(ctx context.Context, payload []byte) error

// Consumer drains a named queue, invoking the handler per message until the
// context is canceled.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler Handler) error
}
