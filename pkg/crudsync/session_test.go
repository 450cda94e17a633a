package crudsync

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"github.com/the-dev-tools/restsync/pkg/errmap"
	"github.com/the-dev-tools/restsync/pkg/idwrap"
	"github.com/the-dev-tools/restsync/pkg/logger/mocklogger"
	"github.com/the-dev-tools/restsync/pkg/model/mrecord"
	"github.com/the-dev-tools/restsync/pkg/patch"
)

// fakeAPI is a json-server stand-in that records every request.
type fakeAPI struct {
	mu       sync.Mutex
	list     string
	fail     map[string]int
	failBody string
	gate     chan struct{}
	requests []string
	bodies   []string
}

func newFakeAPI(list string) *fakeAPI {
	return &fakeAPI{list: list, fail: map[string]int{}}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.bodies = append(f.bodies, string(body))
	status := f.fail[r.Method]
	failBody := f.failBody
	list := f.list
	gate := f.gate
	f.mu.Unlock()

	if gate != nil && r.Method != http.MethodGet {
		<-gate
	}
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(failBody))
		return
	}
	if r.Method == http.MethodGet {
		_, _ = w.Write([]byte(list))
		return
	}
	_, _ = w.Write([]byte(`{}`))
}

func (f *fakeAPI) setFail(method string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[method] = status
	f.failBody = body
}

func (f *fakeAPI) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *fakeAPI) lastBody() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[len(f.bodies)-1]
}

type notes struct {
	mu   sync.Mutex
	msgs []string
}

func (n *notes) notify(_ context.Context, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *notes) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

const todos = `[
	{"id":1,"todoText":"milk","completed":false,"sequence":1},
	{"id":2,"todoText":"bread","completed":true,"sequence":2},
	{"id":3,"todoText":"eggs","completed":false,"sequence":3}
]`

func newTestSession(t *testing.T, api *fakeAPI, kind mrecord.Kind, opts ...Option) (*Session, *notes) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	n := &notes{}
	opts = append([]Option{WithNotifier(n.notify)}, opts...)
	s := New(Config{BaseURL: srv.URL + "/todos", Kind: kind}, mocklogger.NewMockLogger(), opts...)
	t.Cleanup(s.Close)
	return s, n
}

func startAndWait(t *testing.T, s *Session) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, Await(ctx, func(cb OnSettled) { s.Start(ctx, cb) }))
}

func TestSession_StartLoadsOnce(t *testing.T) {
	api := newFakeAPI(todos)
	s, _ := newTestSession(t, api, mrecord.KindTodo)
	require.Equal(t, StatusLoading, s.Status())

	ctx := context.Background()
	var started bool
	require.NoError(t, Await(ctx, func(cb OnSettled) { started = s.Start(ctx, cb) }))
	require.True(t, started)
	require.NoError(t, Await(ctx, func(cb OnSettled) { started = s.Start(ctx, cb) }))
	require.False(t, started)

	require.Equal(t, StatusSuccess, s.Status())
	require.NoError(t, s.Err())
	require.Len(t, s.Data(), 3)
	require.Equal(t, []string{"GET /todos"}, api.calls())
}

func TestSession_LoadFailureThenReFetch(t *testing.T) {
	api := newFakeAPI(todos)
	api.setFail(http.MethodGet, http.StatusInternalServerError, "down")
	s, n := newTestSession(t, api, mrecord.KindTodo)

	ctx := context.Background()
	events, err := s.Subscribe(ctx)
	require.NoError(t, err)

	err = Await(ctx, func(cb OnSettled) { s.Start(ctx, cb) })
	var e *errmap.Error
	require.True(t, errors.As(err, &e))
	require.Equal(t, StatusErrored, s.Status())
	require.Error(t, s.Err())
	require.Empty(t, s.Data())
	require.Empty(t, n.all(), "load failures are surfaced through status, not the notifier")

	api.setFail(http.MethodGet, 0, "")
	require.NoError(t, Await(ctx, func(cb OnSettled) { s.ReFetch(ctx, cb) }))
	require.Equal(t, StatusSuccess, s.Status())
	require.NoError(t, s.Err())

	var kinds []ChangeKind
	for i := 0; i < 4; i++ {
		kinds = append(kinds, (<-events).Payload.Kind)
	}
	require.Equal(t, []ChangeKind{ChangeLoading, ChangeLoadFailed, ChangeLoading, ChangeLoaded}, kinds)
}

func TestSession_LoadKeepsLastGoodDataOnFailure(t *testing.T) {
	api := newFakeAPI(todos)
	s, _ := newTestSession(t, api, mrecord.KindTodo)
	startAndWait(t, s)

	api.setFail(http.MethodGet, http.StatusBadGateway, "")
	ctx := context.Background()
	require.Error(t, Await(ctx, func(cb OnSettled) { s.ReFetch(ctx, cb) }))
	require.Equal(t, StatusErrored, s.Status())
	require.Len(t, s.Data(), 3)
}

func TestSession_CreateAssignsNextIDAndSequence(t *testing.T) {
	api := newFakeAPI(todos)
	s, n := newTestSession(t, api, mrecord.KindTodo)
	startAndWait(t, s)

	ctx := context.Background()
	require.NoError(t, Await(ctx, func(cb OnSettled) {
		s.Create(ctx, map[string]any{"todoText": "jam", "completed": false}, cb)
	}))

	data := s.Data()
	require.Len(t, data, 4)
	require.Equal(t, "4", data[0].ID.String(), "new record is prepended")
	seq, ok := data[0].Sequence()
	require.True(t, ok)
	require.Equal(t, 4.0, seq)

	require.Equal(t, "POST /todos", api.calls()[1])
	require.JSONEq(t, `{"id":4,"todoText":"jam","completed":false,"sequence":4}`, api.lastBody())
	require.Empty(t, n.all())
}

func TestSession_CreateOnEmptyCollection(t *testing.T) {
	api := newFakeAPI(`[]`)
	s, _ := newTestSession(t, api, mrecord.KindSpeaker)
	startAndWait(t, s)

	ctx := context.Background()
	require.NoError(t, Await(ctx, func(cb OnSettled) {
		s.Create(ctx, map[string]any{"first": "Ada"}, cb)
	}))
	data := s.Data()
	require.Len(t, data, 1)
	require.Equal(t, "1", data[0].ID.String())
	_, hasSeq := data[0].Sequence()
	require.False(t, hasSeq, "only todos get a sequence")
}

func TestSession_CreateFailureRollsBack(t *testing.T) {
	api := newFakeAPI(todos)
	s, n := newTestSession(t, api, mrecord.KindTodo)
	startAndWait(t, s)
	before := s.Data()

	api.setFail(http.MethodPost, http.StatusInternalServerError, "insert failed")
	ctx := context.Background()
	err := Await(ctx, func(cb OnSettled) {
		s.Create(ctx, map[string]any{"todoText": "jam"}, cb)
	})
	require.Error(t, err)
	require.Equal(t, before, s.Data())
	require.Equal(t, []string{"request failed with status code 500: insert failed"}, n.all())
}

func TestSession_CreateIsVisibleBeforeResponse(t *testing.T) {
	api := newFakeAPI(todos)
	s, _ := newTestSession(t, api, mrecord.KindTodo)
	startAndWait(t, s)

	gate := make(chan struct{})
	api.mu.Lock()
	api.gate = gate
	api.mu.Unlock()

	ctx := context.Background()
	events, err := s.Subscribe(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	s.Create(ctx, map[string]any{"todoText": "jam"}, func(err error) { done <- err })

	evt := <-events
	require.Equal(t, ChangeCreated, evt.Payload.Kind)
	require.Len(t, s.Data(), 4)

	select {
	case <-done:
		t.Fatal("settled before the server answered")
	default:
	}
	close(gate)
	require.NoError(t, <-done)
}

func TestSession_UpdateMergesOnlySetFields(t *testing.T) {
	api := newFakeAPI(todos)
	s, _ := newTestSession(t, api, mrecord.KindTodo)
	startAndWait(t, s)

	p := patch.NewRecordPatch(idwrap.NewNum(2)).With("completed", false)
	p.Fields["todoText"] = patch.NotSet[any]()

	ctx := context.Background()
	require.NoError(t, Await(ctx, func(cb OnSettled) { s.Update(ctx, p, cb) }))

	rec, ok := s.Data().Find(idwrap.NewNum(2))
	require.True(t, ok)
	require.Equal(t, "bread", rec.Fields["todoText"])
	require.Equal(t, false, rec.Fields["completed"])

	require.Equal(t, "PUT /todos/2", api.calls()[1])
	require.JSONEq(t, `{"id":2,"todoText":"bread","completed":false,"sequence":2}`, api.lastBody())
}

func TestSession_UpdateMissingRecord(t *testing.T) {
	api := newFakeAPI(todos)
	s, n := newTestSession(t, api, mrecord.KindTodo)
	startAndWait(t, s)
	before := s.Data()

	ctx := context.Background()
	err := Await(ctx, func(cb OnSettled) {
		s.Update(ctx, patch.NewRecordPatch(idwrap.NewText("missing")).With("x", 1), cb)
	})
	require.ErrorIs(t, err, ErrRecordNotFound)
	require.Equal(t, before, s.Data())
	require.Equal(t, []string{"GET /todos"}, api.calls())
	require.Equal(t, []string{"no record found with id missing"}, n.all())
}

func TestSession_UpdateNotFoundRollsBackWithURL(t *testing.T) {
	api := newFakeAPI(todos)
	s, n := newTestSession(t, api, mrecord.KindTodo)
	startAndWait(t, s)
	before := s.Data()

	api.setFail(http.MethodPut, http.StatusNotFound, "{}")
	ctx := context.Background()
	err := Await(ctx, func(cb OnSettled) {
		s.Update(ctx, patch.NewRecordPatch(idwrap.NewNum(1)).With("completed", true), cb)
	})
	require.Error(t, err)
	require.Equal(t, before, s.Data())

	msgs := n.all()
	require.Len(t, msgs, 1)
	require.True(t, strings.HasSuffix(msgs[0], "/todos/1"), msgs[0])
}

func TestSession_UpdateSimulatedLatency(t *testing.T) {
	api := newFakeAPI(todos)
	fc := clockwork.NewFakeClock()
	srv := httptest.NewServer(api)
	defer srv.Close()

	s := New(Config{BaseURL: srv.URL + "/todos", SimulatedLatency: 2 * time.Second},
		mocklogger.NewMockLogger(), WithClock(fc))
	defer s.Close()
	startAndWait(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	s.Update(ctx, patch.NewRecordPatch(idwrap.NewNum(1)).With("completed", true), func(err error) { done <- err })

	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	require.Equal(t, []string{"GET /todos"}, api.calls(), "PUT must wait for the latency")

	rec, _ := s.Data().Find(idwrap.NewNum(1))
	require.Equal(t, true, rec.Fields["completed"], "merge is applied before the wait")

	fc.Advance(2 * time.Second)
	require.NoError(t, <-done)
	require.Equal(t, "PUT /todos/1", api.calls()[1])
}

func TestSession_DeleteBatch(t *testing.T) {
	api := newFakeAPI(todos)
	s, _ := newTestSession(t, api, mrecord.KindTodo)
	startAndWait(t, s)

	ctx := context.Background()
	require.NoError(t, Await(ctx, func(cb OnSettled) {
		s.Delete(ctx, []idwrap.IDWrap{idwrap.NewNum(1), idwrap.NewNum(3), idwrap.NewNum(1)}, cb)
	}))
	data := s.Data()
	require.Len(t, data, 1)
	require.Equal(t, "2", data[0].ID.String())
	require.Equal(t, []string{"GET /todos", "DELETE /todos/1,3"}, api.calls())
}

func TestSession_DeleteBatchFailureRestoresAll(t *testing.T) {
	api := newFakeAPI(todos)
	s, n := newTestSession(t, api, mrecord.KindTodo)
	startAndWait(t, s)
	before := s.Data()

	api.setFail(http.MethodDelete, http.StatusInternalServerError, "locked")
	ctx := context.Background()
	err := Await(ctx, func(cb OnSettled) {
		s.Delete(ctx, []idwrap.IDWrap{idwrap.NewNum(1), idwrap.NewNum(2)}, cb)
	})
	require.Error(t, err)
	require.Equal(t, before, s.Data())
	require.Len(t, n.all(), 1)
}

func TestSession_DeleteMissingID(t *testing.T) {
	api := newFakeAPI(todos)
	s, n := newTestSession(t, api, mrecord.KindTodo)
	startAndWait(t, s)

	ctx := context.Background()
	err := Await(ctx, func(cb OnSettled) { s.DeleteOne(ctx, idwrap.NewText("missing"), cb) })
	require.ErrorIs(t, err, ErrRecordNotFound)
	require.Len(t, s.Data(), 3)
	require.Equal(t, []string{"GET /todos"}, api.calls())
	require.Len(t, n.all(), 1)

	err = Await(ctx, func(cb OnSettled) { s.Delete(ctx, nil, cb) })
	require.ErrorIs(t, err, ErrNoIDs)
}

func TestSession_OperationsRunInOrder(t *testing.T) {
	api := newFakeAPI(todos)
	s, _ := newTestSession(t, api, mrecord.KindTodo)
	startAndWait(t, s)
	before := s.Data()

	api.setFail(http.MethodPost, http.StatusInternalServerError, "")
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	s.Create(ctx, map[string]any{"todoText": "jam"}, func(error) { wg.Done() })
	s.Update(ctx, patch.NewRecordPatch(idwrap.NewNum(3)).With("completed", true), func(error) { wg.Done() })
	wg.Wait()

	// the failed create restores its own snapshot, taken before the update ran
	data := s.Data()
	require.Len(t, data, len(before))
	rec, _ := data.Find(idwrap.NewNum(3))
	require.Equal(t, true, rec.Fields["completed"])
}

func TestSession_ClosedSessionSettlesWithError(t *testing.T) {
	api := newFakeAPI(todos)
	s, _ := newTestSession(t, api, mrecord.KindTodo)
	s.Close()

	ctx := context.Background()
	err := Await(ctx, func(cb OnSettled) { s.ReFetch(ctx, cb) })
	require.Error(t, err)
}

func TestSession_ReorderSinkUpdatesDisplacedOnly(t *testing.T) {
	api := newFakeAPI(todos)
	s, _ := newTestSession(t, api, mrecord.KindTodo)
	startAndWait(t, s)

	final := s.Data()
	final[0].Set(mrecord.FieldSequence, 2.0)
	final[1].Set(mrecord.FieldSequence, 1.0)

	ctx := context.Background()
	require.NoError(t, Await(ctx, func(cb OnSettled) { s.ReorderSink(ctx, cb)(final) }))

	calls := api.calls()
	require.ElementsMatch(t, []string{"GET /todos", "PUT /todos/1", "PUT /todos/2"}, calls)

	data := s.Data()
	r1, _ := data.Find(idwrap.NewNum(1))
	r2, _ := data.Find(idwrap.NewNum(2))
	seq1, _ := r1.Sequence()
	seq2, _ := r2.Sequence()
	require.Equal(t, 2.0, seq1)
	require.Equal(t, 1.0, seq2)
}

func TestSession_ReorderSinkNothingDisplaced(t *testing.T) {
	api := newFakeAPI(todos)
	s, _ := newTestSession(t, api, mrecord.KindTodo)
	startAndWait(t, s)

	ctx := context.Background()
	require.NoError(t, Await(ctx, func(cb OnSettled) { s.ReorderSink(ctx, cb)(s.Data()) }))
	require.Equal(t, []string{"GET /todos"}, api.calls())
}

func TestSession_ChangeCarriesSnapshot(t *testing.T) {
	api := newFakeAPI(todos)
	s, _ := newTestSession(t, api, mrecord.KindTodo)

	ctx := context.Background()
	events, err := s.Subscribe(ctx)
	require.NoError(t, err)
	startAndWait(t, s)

	<-events
	loaded := (<-events).Payload
	require.Equal(t, ChangeLoaded, loaded.Kind)
	require.Equal(t, StatusSuccess, loaded.Status)

	out, err := json.Marshal(loaded.Data)
	require.NoError(t, err)
	require.JSONEq(t, todos, string(out))
}
