package httpclient

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/the-dev-tools/restsync/pkg/compress"
	"github.com/the-dev-tools/restsync/pkg/errmap"
	"github.com/the-dev-tools/restsync/pkg/idwrap"
)

// RestClient speaks the json-server dialect against one base URL:
//
//	GET    {base}
//	POST   {base}
//	PUT    {base}/{id}
//	DELETE {base}/{id1,id2,...}
//
// Any 2xx is success. Failures are *errmap.Error values.
type RestClient struct {
	client  HttpClient
	baseURL string
	token   string
	logger  *slog.Logger
}

type RestOption func(*RestClient)

func WithBearerToken(token string) RestOption {
	return func(c *RestClient) { c.token = token }
}

func WithHTTPClient(client HttpClient) RestOption {
	return func(c *RestClient) { c.client = client }
}

func NewRestClient(baseURL string, logger *slog.Logger, opts ...RestOption) *RestClient {
	if logger == nil {
		logger = slog.Default()
	}
	c := &RestClient{
		client:  New(),
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RestClient) BaseURL() string {
	return c.baseURL
}

// ItemURL addresses one or more records.
func (c *RestClient) ItemURL(ids ...idwrap.IDWrap) string {
	return c.baseURL + "/" + idwrap.JoinIDs(ids)
}

// List decodes the GET {base} array into out.
func (c *RestClient) List(ctx context.Context, out any) error {
	return c.Do(ctx, http.MethodGet, c.baseURL, nil, out)
}

func (c *RestClient) Create(ctx context.Context, record any) error {
	return c.Do(ctx, http.MethodPost, c.baseURL, record, nil)
}

func (c *RestClient) Replace(ctx context.Context, id idwrap.IDWrap, record any) error {
	return c.Do(ctx, http.MethodPut, c.ItemURL(id), record, nil)
}

func (c *RestClient) Delete(ctx context.Context, ids []idwrap.IDWrap) error {
	return c.Do(ctx, http.MethodDelete, c.ItemURL(ids...), nil, nil)
}

// Do sends one JSON request. in is encoded as the body when non-nil; out is
// decoded from a 2xx body when non-nil.
func (c *RestClient) Do(ctx context.Context, method, url string, in, out any) error {
	req := &Request{
		Method: method,
		URL:    url,
		Headers: []Header{
			{HeaderKey: HeaderAccept, Value: MimeJSON},
			{HeaderKey: HeaderAcceptEncoding, Value: compress.AcceptEncoding},
			{HeaderKey: HeaderRequestID, Value: uuid.NewString()},
		},
	}
	if c.token != "" {
		req.Headers = append(req.Headers, Header{HeaderKey: HeaderAuthorization, Value: "Bearer " + c.token})
	}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return errmap.Decode(method, url, err)
		}
		req.Body = body
		req.Headers = append(req.Headers, Header{HeaderKey: HeaderContentType, Value: MimeJSON})
	}

	start := time.Now()
	resp, err := SendRequestAndConvertWithContext(ctx, c.client, req)
	if err != nil {
		mapped := errmap.MapRequestError(method, url, err)
		c.logger.DebugContext(ctx, "rest request failed", "method", method, "url", url, "error", mapped)
		return mapped
	}
	c.logger.DebugContext(ctx, "rest request",
		"method", method,
		"url", url,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if !resp.OK() {
		return errmap.HTTPStatus(method, url, resp.StatusCode, resp.Body)
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return errmap.Decode(method, url, err)
	}
	return nil
}
