// Package httpclient issues requests whose response bodies are always
// drained and closed.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrBodyTooLarge means a response body exceeded the caller's limit.
var ErrBodyTooLarge = errors.New("httpclient: response body too large")

// RequestOption customizes an outgoing HTTP request.
type RequestOption func(*http.Request) error

// WithHeader sets a request header key/value pair.
func WithHeader(key, value string) RequestOption {
	return func(req *http.Request) error {
		req.Header.Set(key, value)
		return nil
	}
}

// Response wraps http.Response with helpers that guarantee cleanup.
type Response struct {
	*http.Response
	closed bool
}

// Close drains and closes the response body to allow connection reuse.
func (r *Response) Close() error {
	if r == nil || r.closed || r.Response == nil || r.Body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, r.Body)
	err := r.Body.Close()
	r.closed = true
	return err
}

// ReadAllAndClose reads at most limit bytes of the body and closes it.
func (r *Response) ReadAllAndClose(limit int64) ([]byte, error) {
	if r == nil || r.Response == nil || r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	closeErr := r.Close()
	if err == nil && int64(len(body)) > limit {
		return body[:limit], fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}
	if err == nil {
		err = closeErr
	}
	return body, err
}

// Get issues a GET request.
func Get(ctx context.Context, client *http.Client, url string, opts ...RequestOption) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(req); err != nil {
			return nil, err
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	return &Response{Response: resp}, nil
}

// SimpleGet issues a GET request and returns the body and status code.
func SimpleGet(ctx context.Context, client *http.Client, url string, limit int64, opts ...RequestOption) ([]byte, int, error) {
	resp, err := Get(ctx, client, url, opts...)
	if err != nil {
		return nil, 0, err
	}
	status := resp.StatusCode
	body, err := resp.ReadAllAndClose(limit)
	return body, status, err
}
