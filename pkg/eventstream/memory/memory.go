// Package memory is the in-process change feed behind a sync session. Every
// load, optimistic mutation and rollback is fanned out to the listeners whose
// topic filter accepts it. Publishing never waits on a listener.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/the-dev-tools/restsync/pkg/eventstream"
)

// DefaultBuffer is the per-listener queue length.
const DefaultBuffer = 1024

type Option func(*config)

type config struct {
	buffer int
}

// WithBuffer sets the per-listener queue length. Values below 1 are ignored.
func WithBuffer(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.buffer = n
		}
	}
}

type listener[Topic any, Payload any] struct {
	accept eventstream.TopicFilter[Topic]
	out    chan eventstream.Event[Topic, Payload]
	stop   func() bool
}

func (l *listener[Topic, Payload]) wants(topic Topic) bool {
	return l.accept == nil || l.accept(topic)
}

// Feed implements eventstream.SyncStreamer in memory.
type Feed[Topic any, Payload any] struct {
	buffer  int
	dropped atomic.Uint64

	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]*listener[Topic, Payload]
	done      bool
}

var _ eventstream.SyncStreamer[string, int] = (*Feed[string, int])(nil)

func New[Topic any, Payload any](opts ...Option) *Feed[Topic, Payload] {
	cfg := config{buffer: DefaultBuffer}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Feed[Topic, Payload]{
		buffer:    cfg.buffer,
		listeners: make(map[uint64]*listener[Topic, Payload]),
	}
}

// Publish queues payloads, in order, for every listener accepting topic. A
// listener whose queue is full misses the event and Dropped grows.
func (f *Feed[Topic, Payload]) Publish(topic Topic, payloads ...Payload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return
	}
	for _, l := range f.listeners {
		if !l.wants(topic) {
			continue
		}
		for _, p := range payloads {
			select {
			case l.out <- eventstream.Event[Topic, Payload]{Topic: topic, Payload: p}:
			default:
				f.dropped.Add(1)
			}
		}
	}
}

// Subscribe registers a listener until ctx is done or the feed shuts down;
// either one closes the returned channel.
func (f *Feed[Topic, Payload]) Subscribe(
	ctx context.Context,
	filter eventstream.TopicFilter[Topic],
) (<-chan eventstream.Event[Topic, Payload], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return nil, eventstream.ErrStreamerClosed
	}

	id := f.nextID
	f.nextID++
	l := &listener[Topic, Payload]{
		accept: filter,
		out:    make(chan eventstream.Event[Topic, Payload], f.buffer),
	}
	f.listeners[id] = l
	l.stop = context.AfterFunc(ctx, func() { f.remove(id) })
	return l.out, nil
}

// Shutdown closes every listener. Later publishes are ignored and later
// subscriptions fail with eventstream.ErrStreamerClosed.
func (f *Feed[Topic, Payload]) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return
	}
	f.done = true
	for id, l := range f.listeners {
		l.stop()
		close(l.out)
		delete(f.listeners, id)
	}
}

// Dropped counts events lost to full listener queues.
func (f *Feed[Topic, Payload]) Dropped() uint64 {
	return f.dropped.Load()
}

func (f *Feed[Topic, Payload]) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.listeners[id]
	if !ok {
		return
	}
	delete(f.listeners, id)
	close(l.out)
}
