package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/prometheus/client_golang/prometheus"

	aggregator "github.com/JohnPlummer/jp-go-aggregator"
	"github.com/JohnPlummer/jp-go-aggregator/server"
)

// recordingTransport answers every call with a fixed response and keeps the
// last request it saw.
type recordingTransport struct {
	mu      sync.Mutex
	url     string
	request *aggregator.Request
	respond func() (*aggregator.Response, error)
}

func (t *recordingTransport) Send(_ context.Context, url string, req *aggregator.Request) (*aggregator.Response, error) {
	t.mu.Lock()
	t.url = url
	t.request = req
	t.mu.Unlock()
	return t.respond()
}

func (t *recordingTransport) last() (string, *aggregator.Request) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url, t.request
}

var _ = Describe("Server", func() {
	var (
		transport *recordingTransport
		registry  *prometheus.Registry
		handler   http.Handler
	)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	build := func(opts server.Options, clientOpts ...aggregator.ClientOption) {
		metrics, err := aggregator.NewMetrics(registry)
		Expect(err).NotTo(HaveOccurred())

		base := []aggregator.ClientOption{
			aggregator.WithClientLogger(logger),
			aggregator.WithMetrics(metrics),
			aggregator.WithRetryOptions(
				aggregator.WithRetryCount(1),
				aggregator.WithExponentialBackoff(time.Millisecond, 0),
			),
			aggregator.WithCircuitBreakerOptions(aggregator.WithFailureThreshold(2)),
		}
		gw, err := aggregator.NewShoppingGateway(aggregator.ShoppingURLs{
			Catalog:  "http://catalog",
			Basket:   "http://basket",
			Ordering: "http://ordering",
		}, transport, append(base, clientOpts...)...)
		Expect(err).NotTo(HaveOccurred())

		opts.Logger = logger
		opts.Gatherer = registry
		handler = server.New(gw, opts).Handler()
	}

	do := func(method, target string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, body)
		for k, v := range header {
			req.Header[k] = v
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		registry = prometheus.NewRegistry()
		transport = &recordingTransport{respond: func() (*aggregator.Response, error) {
			return &aggregator.Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{"Content-Type": []string{"application/json"}},
				Body:       []byte(`{"items":[]}`),
			}, nil
		}}
		build(server.Options{})
	})

	Describe("pass-through route", func() {
		It("should forward method, path, query, body and request ID", func() {
			rec := do(http.MethodPost, "/api/basket/api/v1/basket?user=7", strings.NewReader(`{"id":1}`),
				http.Header{"X-Request-Id": []string{"trace-1"}, "Content-Type": []string{"application/json"}})

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(Equal(`{"items":[]}`))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))
			Expect(rec.Header().Get(aggregator.HeaderRequestID)).To(Equal("trace-1"))

			url, req := transport.last()
			Expect(url).To(Equal("http://basket/api/v1/basket?user=7"))
			Expect(req.Method).To(Equal(http.MethodPost))
			Expect(string(req.Body)).To(Equal(`{"id":1}`))
			Expect(req.Header.Get(aggregator.HeaderRequestID)).To(Equal("trace-1"))
			Expect(req.Header.Get("Content-Type")).To(Equal("application/json"))
		})

		It("should generate a request ID when none is supplied", func() {
			rec := do(http.MethodGet, "/api/catalog/items", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			id := rec.Header().Get(aggregator.HeaderRequestID)
			Expect(id).NotTo(BeEmpty())
			_, req := transport.last()
			Expect(req.Header.Get(aggregator.HeaderRequestID)).To(Equal(id))
		})

		It("should keep percent-encoded path segments", func() {
			rec := do(http.MethodGet, "/api/catalog/items/a%2Fb?x=1", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			url, _ := transport.last()
			Expect(url).To(Equal("http://catalog/items/a%2Fb?x=1"))
		})

		It("should answer 413 for an oversized body without calling the dependency", func() {
			registry = prometheus.NewRegistry()
			build(server.Options{MaxBodyBytes: 8})

			rec := do(http.MethodPost, "/api/basket/api/v1/basket", strings.NewReader(`{"items":[1,2,3]}`), nil)
			Expect(rec.Code).To(Equal(http.StatusRequestEntityTooLarge))

			var body map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body["error"]).To(ContainSubstring("8 bytes"))
			_, req := transport.last()
			Expect(req).To(BeNil())
		})

		It("should answer 404 for an unknown dependency", func() {
			rec := do(http.MethodGet, "/api/payments/x", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))

			var body map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body["dependency"]).To(Equal("payments"))
		})

		It("should relay client errors with the upstream status and body", func() {
			transport.respond = func() (*aggregator.Response, error) {
				return &aggregator.Response{StatusCode: http.StatusNotFound, Body: []byte("no such order")}, nil
			}
			rec := do(http.MethodGet, "/api/ordering/api/v1/orders/9", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(rec.Body.String()).To(Equal("no such order"))
		})

		It("should answer 503 once retries are exhausted and while the breaker is open", func() {
			transport.respond = func() (*aggregator.Response, error) {
				return &aggregator.Response{StatusCode: http.StatusBadGateway}, nil
			}

			rec := do(http.MethodGet, "/api/catalog/items", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))

			var body map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body["outcome"]).To(Equal("exhausted"))

			rec = do(http.MethodGet, "/api/catalog/items", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(rec.Header().Get("Retry-After")).To(Equal("30"))
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body["outcome"]).To(Equal("circuit_open"))
		})

		It("should answer 502 for unclassified failures", func() {
			transport.respond = func() (*aggregator.Response, error) {
				return nil, errors.New("unexpected")
			}
			rec := do(http.MethodGet, "/api/catalog/items", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusBadGateway))
		})
	})

	Describe("request timeout", func() {
		It("should answer 504 when the request deadline passes", func() {
			transport.respond = func() (*aggregator.Response, error) {
				return &aggregator.Response{StatusCode: http.StatusServiceUnavailable}, nil
			}
			registry = prometheus.NewRegistry()
			build(server.Options{RequestTimeout: 20 * time.Millisecond},
				aggregator.WithRetryOptions(aggregator.WithExponentialBackoff(time.Minute, 0)))

			start := time.Now()
			rec := do(http.MethodGet, "/api/catalog/items", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusGatewayTimeout))
			Expect(time.Since(start)).To(BeNumerically("<", 5*time.Second))
		})
	})

	Describe("/health", func() {
		It("should report every dependency", func() {
			rec := do(http.MethodGet, "/health", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var report struct {
				Status       string                    `json:"status"`
				Dependencies []aggregator.HealthStatus `json:"dependencies"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &report)).To(Succeed())
			Expect(report.Status).To(Equal("ok"))
			Expect(report.Dependencies).To(HaveLen(3))
		})

		It("should report degraded while a breaker is open", func() {
			transport.respond = func() (*aggregator.Response, error) {
				return &aggregator.Response{StatusCode: http.StatusInternalServerError}, nil
			}
			do(http.MethodGet, "/api/ordering/orders", nil, nil)

			rec := do(http.MethodGet, "/health", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"status":"degraded"`))
			Expect(rec.Body.String()).To(ContainSubstring(`"state":"open"`))
		})
	})

	Describe("/metrics", func() {
		It("should expose the dependency metrics", func() {
			do(http.MethodGet, "/api/catalog/items", nil, nil)

			rec := do(http.MethodGet, "/metrics", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`aggregator_dependency_requests_total{dependency="catalog",outcome="success"} 1`))
			Expect(rec.Body.String()).To(ContainSubstring(`aggregator_circuit_breaker_state{dependency="basket"} 0`))
		})
	})
})

var _ = Describe("StatusFor", func() {
	DescribeTable("maps gateway errors",
		func(err error, expected int) {
			Expect(server.StatusFor(err)).To(Equal(expected))
		},
		Entry("unknown dependency", aggregator.ErrUnknownDependency, http.StatusNotFound),
		Entry("client error", &aggregator.ClientError{Code: 409}, http.StatusConflict),
		Entry("circuit open", &aggregator.CircuitOpenError{Dependency: "basket"}, http.StatusServiceUnavailable),
		Entry("exhausted", &aggregator.ExhaustedRetriesError{Attempts: 6, Last: &aggregator.RetryableStatusError{Code: 500}}, http.StatusServiceUnavailable),
		Entry("deadline", context.DeadlineExceeded, http.StatusGatewayTimeout),
		Entry("invalid request", aggregator.ErrInvalidRequest, http.StatusBadRequest),
		Entry("other", errors.New("boom"), http.StatusBadGateway),
	)
})
