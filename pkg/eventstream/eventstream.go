package eventstream

import (
	"context"
	"errors"
)

var ErrStreamerClosed = errors.New("eventstream: streamer closed")

// TopicFilter selects the topics a subscriber wants. nil accepts everything.
type TopicFilter[Topic any] func(Topic) bool

// Event is one published payload together with the topic it was sent on.
type Event[Topic any, Payload any] struct {
	Topic   Topic
	Payload Payload
}

// SyncStreamer fans published events out to subscribers.
//
//	streamer := memory.New[string, Change]()
//	events, _ := streamer.Subscribe(ctx, nil)
//	streamer.Publish("todos", change)
//	defer streamer.Shutdown()
type SyncStreamer[Topic any, Payload any] interface {
	// Publish never blocks; slow subscribers lose events once their buffer is full.
	Publish(topic Topic, payloads ...Payload)

	// Subscribe returns a channel closed when ctx is done or the streamer shuts down.
	Subscribe(ctx context.Context, filter TopicFilter[Topic]) (<-chan Event[Topic, Payload], error)

	Shutdown()
}

// EqualTopic is a filter matching a single comparable topic.
func EqualTopic[Topic comparable](want Topic) TopicFilter[Topic] {
	return func(t Topic) bool { return t == want }
}
