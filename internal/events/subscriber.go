package events

// Subscriber receives mirrored events from the broker.
type Subscriber interface {
	// Subscribe delivers raw event payloads on the returned channel.
	// Call the returned cancel function to unsubscribe and close the channel.
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}
