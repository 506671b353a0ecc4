// Package aggregator implements the outbound side of the shopping aggregator
// gateway: one resilient HTTP client per backend dependency (catalog, basket,
// ordering), each running its calls through a fixed interceptor chain of
// logging, retry with exponential backoff, and a circuit breaker.
package aggregator

import (
	"context"
	"net/http"
)

// Request is a single logical call to a dependency. Path is relative to the
// dependency's base address and may carry a query string.
// A Request must not be mutated once it has been issued into a chain;
// retries re-send the same value.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Response is a fully read response from a dependency.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Call performs one pass through the remainder of an interceptor chain.
type Call func(ctx context.Context, req *Request) (*Response, error)

// ResilientClient defines the interface for issuing requests to a single
// dependency through the resilience pipeline.
//
// Example:
//
//	client := aggregator.NewDependencyClient(
//	    endpoint,
//	    aggregator.NewHTTPTransport(10*time.Second),
//	    aggregator.WithRetryOptions(aggregator.WithRetryCount(5)),
//	)
//	resp, err := client.Execute(ctx, &aggregator.Request{Method: http.MethodGet, Path: "/api/v1/catalog"})
type ResilientClient interface {
	// Execute performs a request and returns a response or error.
	// The context should be used to control timeouts and cancellation.
	Execute(ctx context.Context, req *Request) (*Response, error)
}
