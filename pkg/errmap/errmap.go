package errmap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
)

// Code classifies high-level error categories for user-facing messages.
type Code string

const (
	CodeCanceled          Code = "canceled"
	CodeTimeout           Code = "timeout"
	CodeDNSError          Code = "dns_error"
	CodeInvalidURL        Code = "invalid_url"
	CodeConnectionRefused Code = "connection_refused"
	CodeConnectionReset   Code = "connection_reset"
	CodeHTTPStatus        Code = "http_status"
	CodeDecode            Code = "decode"
	CodeUnexpected        Code = "unexpected"
)

// Error is a transport failure of one REST call. It carries the request
// context and, for non-2xx responses, the status and body.
type Error struct {
	Code   Code
	Method string
	URL    string
	Status int
	Body   string
	cause  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := humanize(e.Code, e.Status, e.cause)
	if e.Method != "" && e.URL != "" {
		return fmt.Sprintf("%s %s: %s", e.Method, e.URL, msg)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

// NotFound reports a 404 response.
func (e *Error) NotFound() bool {
	return e != nil && e.Code == CodeHTTPStatus && e.Status == http.StatusNotFound
}

// Notification renders the message handed to the caller's notifier: the
// transport message followed by the URL for 404s and by the response body
// for every other failure that has one.
func (e *Error) Notification() string {
	if e == nil {
		return ""
	}
	msg := humanize(e.Code, e.Status, e.cause)
	switch {
	case e.NotFound():
		return fmt.Sprintf("%s: %s", msg, e.URL)
	case e.Body != "":
		return fmt.Sprintf("%s: %s", msg, e.Body)
	}
	return msg
}

func humanize(code Code, status int, cause error) string {
	switch code {
	case CodeCanceled:
		return "request was canceled"
	case CodeTimeout:
		return "request timed out"
	case CodeDNSError:
		var dn *net.DNSError
		if errors.As(cause, &dn) && dn.Name != "" {
			return fmt.Sprintf("DNS lookup failed for %q: %s", dn.Name, dn.Err)
		}
		return "DNS error"
	case CodeInvalidURL:
		return "invalid URL"
	case CodeConnectionRefused:
		return "connection refused by remote host"
	case CodeConnectionReset:
		return "connection reset by peer"
	case CodeHTTPStatus:
		return fmt.Sprintf("request failed with status code %d", status)
	case CodeDecode:
		if cause != nil {
			return fmt.Sprintf("invalid response body: %s", cause.Error())
		}
		return "invalid response body"
	default:
		if cause != nil {
			return cause.Error()
		}
		return "unexpected error"
	}
}

// Map converts an arbitrary error into an *Error with a best-effort code.
// It keeps the original error as the cause.
func Map(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Code: CodeCanceled, cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeTimeout, cause: err}
	}

	var uerr *url.Error
	if errors.As(err, &uerr) {
		var t net.Error
		if errors.As(uerr.Err, &t) && t.Timeout() {
			return &Error{Code: CodeTimeout, cause: err}
		}
		lower := strings.ToLower(uerr.Error())
		if strings.Contains(lower, "unsupported protocol scheme") || strings.Contains(lower, "invalid url") {
			return &Error{Code: CodeInvalidURL, cause: err}
		}
		err = uerr.Err
	}

	var dnserr *net.DNSError
	if errors.As(err, &dnserr) {
		return &Error{Code: CodeDNSError, cause: dnserr}
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &Error{Code: CodeTimeout, cause: nerr}
	}

	var operr *net.OpError
	if errors.As(err, &operr) {
		switch {
		case errors.Is(operr.Err, syscall.ECONNREFUSED):
			return &Error{Code: CodeConnectionRefused, cause: err}
		case errors.Is(operr.Err, syscall.ECONNRESET):
			return &Error{Code: CodeConnectionReset, cause: err}
		}
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout"):
		return &Error{Code: CodeTimeout, cause: err}
	case strings.Contains(lower, "refused"):
		return &Error{Code: CodeConnectionRefused, cause: err}
	case strings.Contains(lower, "reset"):
		return &Error{Code: CodeConnectionReset, cause: err}
	}
	return &Error{Code: CodeUnexpected, cause: err}
}

// MapRequestError annotates the mapped error with request context.
func MapRequestError(method, urlStr string, err error) error {
	if err == nil {
		return nil
	}
	m := Map(err)
	var me *Error
	if errors.As(m, &me) {
		me.Method = method
		me.URL = urlStr
		return me
	}
	return m
}

// HTTPStatus builds the error for a completed request with a non-2xx status.
func HTTPStatus(method, urlStr string, status int, body []byte) *Error {
	return &Error{
		Code:   CodeHTTPStatus,
		Method: method,
		URL:    urlStr,
		Status: status,
		Body:   strings.TrimSpace(string(body)),
	}
}

// Decode wraps a response body that could not be decoded.
func Decode(method, urlStr string, err error) *Error {
	return &Error{Code: CodeDecode, Method: method, URL: urlStr, cause: err}
}

// Notification renders any error for a notifier: *Error values use their own
// formatting, everything else falls back to Error().
func Notification(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Notification()
	}
	return err.Error()
}
