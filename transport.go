package aggregator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultMaxBodyBytes limits how much of a response body HTTPTransport reads.
const DefaultMaxBodyBytes = 10 << 20

// Transport sends one request to an absolute URL. Implementations report
// network failures as errors and every HTTP response, whatever its status,
// as a Response.
type Transport interface {
	Send(ctx context.Context, absoluteURL string, req *Request) (*Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, absoluteURL string, req *Request) (*Response, error)

// Send implements Transport.
func (f TransportFunc) Send(ctx context.Context, absoluteURL string, req *Request) (*Response, error) {
	return f(ctx, absoluteURL, req)
}

// HTTPTransport is a Transport over net/http. Its *http.Client, and with it
// the connection pool, may be shared by every dependency client.
type HTTPTransport struct {
	client       *http.Client
	maxBodyBytes int64
}

// NewHTTPTransport creates a transport whose client times out each attempt
// after timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return NewHTTPTransportWithClient(&http.Client{Timeout: timeout}, DefaultMaxBodyBytes)
}

// NewHTTPTransportWithClient creates a transport around an existing client.
func NewHTTPTransportWithClient(client *http.Client, maxBodyBytes int64) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &HTTPTransport{client: client, maxBodyBytes: maxBodyBytes}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, absoluteURL string, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, absoluteURL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientNetworkError{Method: req.Method, URL: absoluteURL, Err: err}
	}
	defer httpResp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(httpResp.Body, t.maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientNetworkError{Method: req.Method, URL: absoluteURL, Err: err}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       payload,
	}, nil
}
