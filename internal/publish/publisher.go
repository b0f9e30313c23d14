// Package publish defines the Publisher Port (component J): an abstract
// sink accepting (topic, payload). The core never maintains subscriber
// lists; that is the transport layer's responsibility. Implementations
// live in publish/hub (in-process fan-out) and publish/kafkarelay
// (cross-replica relay).
package publish

import "context"

// Publisher is best-effort and non-blocking from the caller's
// perspective. Ordering is preserved per topic from a single producer;
// duplicates are tolerated by subscribers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
}

// Multi fans a single Publish call out to every configured Publisher. A
// failure from one does not block the others; the first error is
// returned after all have been attempted.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, topic string, payload interface{}) error {
	var firstErr error
	for _, p := range m {
		if err := p.Publish(ctx, topic, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
