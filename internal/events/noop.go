package events

import "context"

// NoopPublisher discards everything. The hub uses it when no NATS URL is set.
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(context.Context, string, any) error {
	return nil
}

func (n *NoopPublisher) Close() error {
	return nil
}
