// Package crudsync keeps an in-memory collection mirrored against one REST
// resource. Mutations apply optimistically and roll back to a full snapshot
// when the server call fails.
//
// All loads and mutations of a Session run one at a time, in call order, on
// the session's worker. Each operation snapshots the collection when it
// starts, so a rollback restores exactly the state the operation saw.
package crudsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/the-dev-tools/restsync/pkg/errmap"
	"github.com/the-dev-tools/restsync/pkg/eventstream"
	"github.com/the-dev-tools/restsync/pkg/eventstream/memory"
	"github.com/the-dev-tools/restsync/pkg/httpclient"
	"github.com/the-dev-tools/restsync/pkg/idwrap"
	"github.com/the-dev-tools/restsync/pkg/model/mrecord"
	"github.com/the-dev-tools/restsync/pkg/patch"
	"github.com/the-dev-tools/restsync/pkg/serialdispatch"
)

var (
	ErrRecordNotFound = errors.New("no record found")
	ErrNoIDs          = errors.New("no ids given")
)

const DefaultQueueSize = 64

// OnSettled fires exactly once per operation. err is nil on success, an
// *errmap.Error for transport failures, or wraps ErrRecordNotFound when the
// operation was rejected before any mutation. It runs on the session worker
// and must not wait for another operation of the same session.
type OnSettled func(err error)

// Notifier receives the formatted message of every failed operation.
type Notifier func(ctx context.Context, message string)

type Config struct {
	BaseURL string
	Kind    mrecord.Kind
	// SimulatedLatency delays every PUT to make pending states visible.
	SimulatedLatency time.Duration
	QueueSize        int
	Token            string
}

type Session struct {
	cfg       Config
	rest      *httpclient.RestClient
	logger    *slog.Logger
	notify    Notifier
	clock     clockwork.Clock
	stream    eventstream.SyncStreamer[string, Change]
	ownStream bool
	queue     *serialdispatch.Dispatcher

	mu      sync.RWMutex
	started bool
	data    mrecord.Collection
	status  LoadStatus
	err     error
}

type Option func(*Session)

func WithNotifier(n Notifier) Option {
	return func(s *Session) { s.notify = n }
}

func WithClock(c clockwork.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithStreamer shares one change stream between sessions. The caller owns it.
func WithStreamer(st eventstream.SyncStreamer[string, Change]) Option {
	return func(s *Session) { s.stream, s.ownStream = st, false }
}

func WithHTTPClient(c httpclient.HttpClient) Option {
	return func(s *Session) {
		s.rest = httpclient.NewRestClient(s.cfg.BaseURL, s.logger,
			httpclient.WithHTTPClient(c), httpclient.WithBearerToken(s.cfg.Token))
	}
}

func New(cfg Config, logger *slog.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	logger = logger.With("resource", cfg.BaseURL)

	s := &Session{
		cfg:       cfg,
		rest:      httpclient.NewRestClient(cfg.BaseURL, logger, httpclient.WithBearerToken(cfg.Token)),
		logger:    logger,
		clock:     clockwork.NewRealClock(),
		stream:    memory.New[string, Change](),
		ownStream: true,
		status:    StatusLoading,
	}
	s.notify = func(ctx context.Context, message string) {
		s.logger.ErrorContext(ctx, message)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = serialdispatch.New(cfg.QueueSize)
	return s
}

func (s *Session) Topic() string {
	return s.cfg.BaseURL
}

func (s *Session) Kind() mrecord.Kind {
	return s.cfg.Kind
}

// Data returns a private copy of the collection.
func (s *Session) Data() mrecord.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Clone()
}

func (s *Session) Status() LoadStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Err is the error of the last failed load, nil after a successful one.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Subscribe streams the changes of this session until ctx is done.
func (s *Session) Subscribe(ctx context.Context) (<-chan eventstream.Event[string, Change], error) {
	return s.stream.Subscribe(ctx, eventstream.EqualTopic(s.Topic()))
}

// Start schedules the initial load. Only the first call loads; it returns
// false for later calls, whose onSettled fires once the initial load is done.
func (s *Session) Start(ctx context.Context, onSettled OnSettled) bool {
	s.mu.Lock()
	first := !s.started
	s.started = true
	s.mu.Unlock()

	if !first {
		s.enqueue(onSettled, func() error { return nil })
		return false
	}
	s.enqueue(onSettled, func() error { return s.load(ctx) })
	return true
}

// ReFetch runs the load again. Status passes through loading.
func (s *Session) ReFetch(ctx context.Context, onSettled OnSettled) {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.enqueue(onSettled, func() error { return s.load(ctx) })
}

// Create assigns the next id (and sequence for todos), prepends the record and
// POSTs it.
func (s *Session) Create(ctx context.Context, payload map[string]any, onSettled OnSettled) {
	s.enqueue(onSettled, func() error { return s.create(ctx, payload) })
}

// Update merges the set fields of p onto the stored record and PUTs the result.
func (s *Session) Update(ctx context.Context, p patch.RecordPatch, onSettled OnSettled) {
	s.enqueue(onSettled, func() error { return s.update(ctx, p) })
}

// Delete removes every id in one DELETE request. All ids must exist.
func (s *Session) Delete(ctx context.Context, ids []idwrap.IDWrap, onSettled OnSettled) {
	ids = dedupe(ids)
	s.enqueue(onSettled, func() error { return s.delete(ctx, ids) })
}

func (s *Session) DeleteOne(ctx context.Context, id idwrap.IDWrap, onSettled OnSettled) {
	s.Delete(ctx, []idwrap.IDWrap{id}, onSettled)
}

// Close waits for queued operations and stops the worker.
func (s *Session) Close() {
	s.queue.Close()
	if s.ownStream {
		s.stream.Shutdown()
	}
}

func (s *Session) enqueue(onSettled OnSettled, op func() error) {
	err := s.queue.Go(func() error {
		settle(onSettled, op())
		return nil
	})
	if err != nil {
		settle(onSettled, err)
	}
}

func settle(onSettled OnSettled, err error) {
	if onSettled != nil {
		onSettled(err)
	}
}

func (s *Session) load(ctx context.Context) error {
	s.mu.Lock()
	s.status = StatusLoading
	s.mu.Unlock()
	s.publish(ChangeLoading, nil, nil)

	var data mrecord.Collection
	err := s.rest.List(ctx, &data)
	if err == nil {
		if verr := data.Validate(); verr != nil {
			err = errmap.Decode("GET", s.rest.BaseURL(), verr)
		}
	}
	if err != nil {
		s.mu.Lock()
		s.status = StatusErrored
		s.err = err
		s.mu.Unlock()
		s.logger.WarnContext(ctx, "load failed", "error", err)
		s.publish(ChangeLoadFailed, nil, err)
		return err
	}

	if data == nil {
		data = mrecord.Collection{}
	}
	s.mu.Lock()
	s.data = data
	s.status = StatusSuccess
	s.err = nil
	s.mu.Unlock()
	s.logger.DebugContext(ctx, "loaded", "count", len(data))
	s.publish(ChangeLoaded, nil, nil)
	return nil
}

func (s *Session) create(ctx context.Context, payload map[string]any) error {
	s.mu.Lock()
	snapshot := s.data.Clone()
	rec := s.cfg.Kind.Assign(s.data, payload)
	next := make(mrecord.Collection, 0, len(s.data)+1)
	next = append(next, rec.Clone())
	s.data = append(next, s.data...)
	s.mu.Unlock()
	s.publish(ChangeCreated, []idwrap.IDWrap{rec.ID}, nil)

	if err := s.rest.Create(ctx, rec); err != nil {
		s.rollback(ctx, snapshot, []idwrap.IDWrap{rec.ID}, err)
		return err
	}
	return nil
}

func (s *Session) update(ctx context.Context, p patch.RecordPatch) error {
	s.mu.Lock()
	idx := s.data.Index(p.ID)
	if idx < 0 {
		s.mu.Unlock()
		return s.reject(ctx, fmt.Errorf("%w with id %s", ErrRecordNotFound, p.ID))
	}
	s.logger.DebugContext(ctx, "updating", "id", p.ID.String(), "fields", p.SetFields())
	snapshot := s.data.Clone()
	updated := p.Apply(s.data[idx])
	s.data[idx] = updated.Clone()
	s.mu.Unlock()
	s.publish(ChangeUpdated, []idwrap.IDWrap{p.ID}, nil)

	if err := s.simulateLatency(ctx); err != nil {
		err = errmap.MapRequestError("PUT", s.rest.ItemURL(p.ID), err)
		s.rollback(ctx, snapshot, []idwrap.IDWrap{p.ID}, err)
		return err
	}
	if err := s.rest.Replace(ctx, updated.ID, updated); err != nil {
		s.rollback(ctx, snapshot, []idwrap.IDWrap{p.ID}, err)
		return err
	}
	return nil
}

func (s *Session) delete(ctx context.Context, ids []idwrap.IDWrap) error {
	if len(ids) == 0 {
		return s.reject(ctx, ErrNoIDs)
	}

	s.mu.Lock()
	var missing []string
	for _, id := range ids {
		if !s.data.Has(id) {
			missing = append(missing, id.String())
		}
	}
	if len(missing) > 0 {
		s.mu.Unlock()
		return s.reject(ctx, fmt.Errorf("%w with id %s", ErrRecordNotFound, strings.Join(missing, ", ")))
	}
	snapshot := s.data.Clone()
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id.String()] = struct{}{}
	}
	kept := make(mrecord.Collection, 0, len(s.data))
	for _, r := range s.data {
		if _, ok := drop[r.ID.String()]; !ok {
			kept = append(kept, r)
		}
	}
	s.data = kept
	s.mu.Unlock()
	s.publish(ChangeDeleted, ids, nil)

	if err := s.rest.Delete(ctx, ids); err != nil {
		s.rollback(ctx, snapshot, ids, err)
		return err
	}
	return nil
}

func (s *Session) simulateLatency(ctx context.Context) error {
	if s.cfg.SimulatedLatency <= 0 {
		return nil
	}
	select {
	case <-s.clock.After(s.cfg.SimulatedLatency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) rollback(ctx context.Context, snapshot mrecord.Collection, ids []idwrap.IDWrap, cause error) {
	s.mu.Lock()
	s.data = snapshot
	s.mu.Unlock()
	s.logger.WarnContext(ctx, "rolled back optimistic change", "ids", idwrap.JoinIDs(ids), "error", cause)
	s.publish(ChangeRolledBack, ids, cause)
	s.notify(ctx, errmap.Notification(cause))
}

// reject reports a precondition failure: nothing was mutated or sent.
func (s *Session) reject(ctx context.Context, err error) error {
	s.logger.DebugContext(ctx, "operation rejected", "error", err)
	s.notify(ctx, err.Error())
	return err
}

func (s *Session) publish(kind ChangeKind, ids []idwrap.IDWrap, err error) {
	s.mu.RLock()
	change := Change{
		Kind:   kind,
		IDs:    ids,
		Status: s.status,
		Data:   s.data.Clone(),
		Err:    err,
	}
	s.mu.RUnlock()
	s.stream.Publish(s.Topic(), change)
}

func dedupe(ids []idwrap.IDWrap) []idwrap.IDWrap {
	seen := make(map[string]struct{}, len(ids))
	out := make([]idwrap.IDWrap, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id.String()]; ok {
			continue
		}
		seen[id.String()] = struct{}{}
		out = append(out, id)
	}
	return out
}
