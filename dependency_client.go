package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Endpoint binds a dependency name to its base address. It is immutable
// after construction.
type Endpoint struct {
	baseURL *url.URL
	name    string
}

// NewEndpoint validates baseURL and returns the binding.
func NewEndpoint(name, baseURL string) (Endpoint, error) {
	if name == "" {
		return Endpoint{}, fmt.Errorf("endpoint name is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint %s: invalid base address: %w", name, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Endpoint{}, fmt.Errorf("endpoint %s: base address %q must be an absolute http(s) URL", name, baseURL)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return Endpoint{name: name, baseURL: u}, nil
}

// Name returns the dependency name.
func (e Endpoint) Name() string { return e.name }

// BaseURL returns the base address.
func (e Endpoint) BaseURL() string { return e.baseURL.String() }

// Resolve joins a relative request path, with optional query, onto the base
// address.
func (e Endpoint) Resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if ref.IsAbs() || ref.Host != "" {
		return "", fmt.Errorf("%w: path %q must be relative to the %s base address", ErrInvalidRequest, path, e.name)
	}

	// Join the escaped forms so encoded separators such as %2F survive.
	rawPath := strings.TrimRight(e.baseURL.EscapedPath(), "/") + "/" + strings.TrimLeft(ref.EscapedPath(), "/")
	decoded, err := url.PathUnescape(rawPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	u := *e.baseURL
	u.Path = decoded
	u.RawPath = rawPath
	u.RawQuery = ref.RawQuery
	return u.String(), nil
}

// ClientConfig holds the collaborators and per-stage options of a
// DependencyClient.
type ClientConfig struct {
	Logger         *slog.Logger
	Clock          Clock
	Metrics        *Metrics
	Classifier     *HTTPStatusClassifier
	RetryOptions   []RetryOption
	BreakerOptions []CircuitBreakerOption
	LoggingOptions []LoggingOption
}

// ClientOption is a functional option for configuring a DependencyClient.
type ClientOption func(*ClientConfig)

// WithClientLogger sets the logger shared by every stage of the chain.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *ClientConfig) {
		c.Logger = logger
	}
}

// WithClientClock sets the clock shared by the breaker and the logging stage.
func WithClientClock(clock Clock) ClientOption {
	return func(c *ClientConfig) {
		c.Clock = clock
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) ClientOption {
	return func(c *ClientConfig) {
		c.Metrics = m
	}
}

// WithStatusClassifier sets the classifier used for status mapping, retries
// and the breaker alike.
func WithStatusClassifier(classifier *HTTPStatusClassifier) ClientOption {
	return func(c *ClientConfig) {
		c.Classifier = classifier
	}
}

// WithRetryOptions appends options for the retry stage.
func WithRetryOptions(opts ...RetryOption) ClientOption {
	return func(c *ClientConfig) {
		c.RetryOptions = append(c.RetryOptions, opts...)
	}
}

// WithCircuitBreakerOptions appends options for the breaker stage.
func WithCircuitBreakerOptions(opts ...CircuitBreakerOption) ClientOption {
	return func(c *ClientConfig) {
		c.BreakerOptions = append(c.BreakerOptions, opts...)
	}
}

// WithLoggingOptions appends options for the logging stage.
func WithLoggingOptions(opts ...LoggingOption) ClientOption {
	return func(c *ClientConfig) {
		c.LoggingOptions = append(c.LoggingOptions, opts...)
	}
}

// DependencyClient is the resilient client for one backend service. Calls run
// through Logging → Retry → CircuitBreaker → Transport. Retry sits outside the
// breaker, so every attempt, retries included, consults and updates it.
type DependencyClient struct {
	endpoint     Endpoint
	transport    Transport
	classifier   *HTTPStatusClassifier
	clock        Clock
	metrics      *Metrics
	logging      *LoggingInterceptor
	retry        *RetryPolicy
	breaker      *CircuitBreaker
	interceptors []Interceptor
	call         Call
}

// NewDependencyClient assembles the chain for one dependency. The breaker is
// created here and lives as long as the client.
//
// Observer hooks installed by the client (retry reporting, breaker state
// changes) take precedence over OnRetry/OnStateChange given in stage options.
func NewDependencyClient(endpoint Endpoint, transport Transport, opts ...ClientOption) *DependencyClient {
	cfg := &ClientConfig{
		Logger:     slog.Default(),
		Clock:      RealClock{},
		Classifier: NewHTTPStatusClassifier(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.Classifier == nil {
		cfg.Classifier = NewHTTPStatusClassifier()
	}

	name := endpoint.Name()
	c := &DependencyClient{
		endpoint:   endpoint,
		transport:  transport,
		classifier: cfg.Classifier,
		clock:      cfg.Clock,
		metrics:    cfg.Metrics,
	}

	loggingOpts := append([]LoggingOption{WithLogger(cfg.Logger), WithLoggingClock(cfg.Clock)}, cfg.LoggingOptions...)
	c.logging = NewLoggingInterceptor(name, loggingOpts...)

	retryOpts := append([]RetryOption{WithRetryLogger(cfg.Logger), WithErrorClassifier(cfg.Classifier)}, cfg.RetryOptions...)
	retryOpts = append(retryOpts, WithRetryObserver(c.onRetry))
	c.retry = NewRetryPolicy(name, retryOpts...)

	breakerOpts := append([]CircuitBreakerOption{
		WithCircuitBreakerLogger(cfg.Logger),
		WithClock(cfg.Clock),
		WithCircuitBreakerErrorClassifier(cfg.Classifier),
	}, cfg.BreakerOptions...)
	breakerOpts = append(breakerOpts, WithStateChangeHandler(c.onStateChange))
	c.breaker = NewCircuitBreaker(name, breakerOpts...)

	c.interceptors = []Interceptor{c.logging, c.retry, c.breaker}
	c.call = Chain(c.send, c.interceptors...)
	c.metrics.InitDependency(name)

	return c
}

// Invoke runs req through the chain.
func (c *DependencyClient) Invoke(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}

	start := c.clock.Now()
	resp, err := c.call(ctx, req)
	c.metrics.ObserveRequest(c.endpoint.Name(), err, c.clock.Since(start))
	return resp, err
}

// Execute implements ResilientClient.
func (c *DependencyClient) Execute(ctx context.Context, req *Request) (*Response, error) {
	return c.Invoke(ctx, req)
}

// Name returns the dependency name.
func (c *DependencyClient) Name() string { return c.endpoint.Name() }

// Endpoint returns the dependency binding.
func (c *DependencyClient) Endpoint() Endpoint { return c.endpoint }

// Breaker returns the client's circuit breaker.
func (c *DependencyClient) Breaker() *CircuitBreaker { return c.breaker }

// RetryPolicy returns the client's retry stage.
func (c *DependencyClient) RetryPolicy() *RetryPolicy { return c.retry }

// Interceptors returns the chain's stage names, outermost first.
func (c *DependencyClient) Interceptors() []string {
	return interceptorNames(c.interceptors)
}

// Health returns the breaker health with the retry counters attached.
func (c *DependencyClient) Health() HealthStatus {
	health := c.breaker.GetHealth()
	stats := c.retry.GetRetryStats()
	health.Retry = &stats
	return health
}

// send is the terminal call: one network attempt plus status mapping.
func (c *DependencyClient) send(ctx context.Context, req *Request) (*Response, error) {
	target, err := c.endpoint.Resolve(req.Path)
	if err != nil {
		return nil, err
	}

	resp, err := c.transport.Send(ctx, target, req)
	if err != nil {
		return nil, err
	}

	if statusErr := c.classifier.ResponseError(resp); statusErr != nil {
		return nil, statusErr
	}
	return resp, nil
}

func (c *DependencyClient) onRetry(info RetryInfo) {
	c.logging.LogRetry(info)
	c.metrics.ObserveRetry(c.endpoint.Name())
}

func (c *DependencyClient) onStateChange(name string, from, to CircuitBreakerState) {
	c.metrics.ObserveStateChange(name, from, to)
}
