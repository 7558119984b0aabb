package broker

import (
	"context"
)

// Producer publishes one JSON-encoded payload per call. The engine only
// produces (config-change notifications); it never consumes a stream.
type Producer interface {
	Publish(ctx context.Context, topic, key string, payload interface{}) error
	Close() error
}
