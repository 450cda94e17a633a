// Package mockserver is a json-server compatible REST backend used by the
// demos, the CLI serve command and tests. Every resource is a flat list of
// JSON objects addressed by id.
package mockserver

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/cors"
	"github.com/the-dev-tools/restsync/pkg/compress"
	"github.com/the-dev-tools/restsync/pkg/idwrap"
	"github.com/the-dev-tools/restsync/pkg/model/mrecord"
	"github.com/the-dev-tools/restsync/pkg/patch"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const maxBodySize = 1 << 20

type fault struct {
	status int
	body   string
}

type Server struct {
	store  Store
	logger *slog.Logger
	secret []byte

	mu     sync.Mutex
	faults map[string][]fault
}

type Option func(*Server)

// WithAuth requires a bearer token signed with secret on every request.
func WithAuth(secret []byte) Option {
	return func(s *Server) { s.secret = secret }
}

func New(store Store, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		store:  store,
		logger: logger,
		faults: make(map[string][]fault),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailNext makes the next request with method answer status and body
// without touching the store. Calls queue up.
func (s *Server) FailNext(method string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	method = strings.ToUpper(method)
	s.faults[method] = append(s.faults[method], fault{status: status, body: body})
}

func (s *Server) takeFault(method string) (fault, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.faults[method]
	if len(q) == 0 {
		return fault{}, false
	}
	s.faults[method] = q[1:]
	return q[0], true
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{resource}", s.handleList)
	mux.HandleFunc("POST /{resource}", s.handleCreate)
	mux.HandleFunc("GET /{resource}/{ids}", s.handleGet)
	mux.HandleFunc("PUT /{resource}/{ids}", s.handleReplace)
	mux.HandleFunc("PATCH /{resource}/{ids}", s.handlePatch)
	mux.HandleFunc("DELETE /{resource}/{ids}", s.handleDelete)

	return newCORS().Handler(s.logRequests(s.authenticate(s.injectFaults(mux))))
}

// HTTPServer wraps Handler for addr, serving HTTP/2 without TLS as well.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		Handler:           h2c.NewHandler(s.Handler(), &http2.Server{}),
	}
}

func newCORS() *cors.Cors {
	return cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowOriginFunc: func(origin string) bool {
			return true
		},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Encoding", "X-Request-Id"},
		MaxAge:         int(time.Hour / time.Second),
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.DebugContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"request_id", r.Header.Get("X-Request-Id"),
			"elapsed", time.Since(start))
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	if len(s.secret) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			writeError(w, r, http.StatusUnauthorized, errors.New("no token provided"))
			return
		}
		claims, err := ValidateToken(raw, s.secret)
		if err != nil {
			s.logger.WarnContext(r.Context(), "rejected token", "error", err)
			writeError(w, r, http.StatusUnauthorized, ErrInvalidToken)
			return
		}
		s.logger.DebugContext(r.Context(), "authenticated", "subject", claims.Subject)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := s.takeFault(r.Method)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_, _ = io.WriteString(w, f.body)
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.List(r.Context(), r.PathValue("resource"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	resource, ids := r.PathValue("resource"), parseIDs(r.PathValue("ids"))
	if len(ids) == 1 {
		rec, err := s.store.Get(r.Context(), resource, ids[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, rec)
		return
	}

	out := make(mrecord.Collection, 0, len(ids))
	for _, id := range ids {
		rec, err := s.store.Get(r.Context(), resource, id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out = append(out, rec)
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	raw, err := readObject(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if _, ok := raw[mrecord.FieldID]; !ok {
		id, _ := json.Marshal(idwrap.NewNow())
		raw[mrecord.FieldID] = id
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.store.Insert(r.Context(), r.PathValue("resource"), rec); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, rec)
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	id, ok := singleID(w, r)
	if !ok {
		return
	}
	raw, err := readObject(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	raw[mrecord.FieldID], _ = json.Marshal(id)
	rec, err := decodeRecord(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.store.Replace(r.Context(), r.PathValue("resource"), rec); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	id, ok := singleID(w, r)
	if !ok {
		return
	}
	raw, err := readObject(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	raw[mrecord.FieldID], _ = json.Marshal(id)
	body, err := json.Marshal(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	p, err := patch.FromJSON(body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	rec, err := s.store.Patch(r.Context(), r.PathValue("resource"), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ids := parseIDs(r.PathValue("ids"))
	if err := s.store.Delete(r.Context(), r.PathValue("resource"), ids); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, struct{}{})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, r, http.StatusNotFound, err)
	case errors.Is(err, ErrDuplicate):
		writeError(w, r, http.StatusConflict, err)
	default:
		s.logger.ErrorContext(r.Context(), "store failure", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, err)
	}
}

func singleID(w http.ResponseWriter, r *http.Request) (idwrap.IDWrap, bool) {
	ids := parseIDs(r.PathValue("ids"))
	if len(ids) != 1 {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("%s takes exactly one id", r.Method))
		return idwrap.IDWrap{}, false
	}
	return ids[0], true
}

// parseIDs splits a comma separated id path segment. Decimal ids are numeric.
func parseIDs(segment string) []idwrap.IDWrap {
	parts := strings.Split(segment, ",")
	ids := make([]idwrap.IDWrap, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, idwrap.Parse(p))
		}
	}
	return ids
}

func readObject(r *http.Request) (map[string]json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	body, err = compress.DecompressWithContentEncodeStr(body, r.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	raw := map[string]json.RawMessage{}
	if len(strings.TrimSpace(string(body))) == 0 {
		return raw, nil
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("body must be a JSON object: %w", err)
	}
	if raw == nil {
		raw = map[string]json.RawMessage{}
	}
	return raw, nil
}

func decodeRecord(raw map[string]json.RawMessage) (mrecord.Record, error) {
	body, err := json.Marshal(raw)
	if err != nil {
		return mrecord.Record{}, err
	}
	var rec mrecord.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return mrecord.Record{}, err
	}
	return rec, nil
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	writeJSON(w, r, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"encode response"}`)
	}

	w.Header().Set("Content-Type", "application/json")
	if enc, algo := negotiate(r.Header.Get("Accept-Encoding")); algo != compress.CompressTypeNone {
		if packed, err := compress.Compress(body, algo); err == nil {
			w.Header().Set("Content-Encoding", enc)
			body = packed
		}
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// negotiate picks the first encoding in the Accept-Encoding list that the
// compress package supports. Quality values are ignored.
func negotiate(accept string) (string, compress.CompressType) {
	for _, part := range strings.Split(accept, ",") {
		name, _, _ := strings.Cut(part, ";")
		name = strings.ToLower(strings.TrimSpace(name))
		if algo, ok := compress.CompressLookupMap[name]; ok && algo != compress.CompressTypeNone {
			return name, algo
		}
	}
	return "", compress.CompressTypeNone
}
