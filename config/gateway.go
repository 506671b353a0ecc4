package config

import (
	"log/slog"
	"net/http"

	aggregator "github.com/JohnPlummer/jp-go-aggregator"
)

// ClientOptions translates the retry, breaker and logging sections into
// dependency client options.
func (c *Config) ClientOptions(logger *slog.Logger, metrics *aggregator.Metrics) []aggregator.ClientOption {
	retryOpts := []aggregator.RetryOption{
		aggregator.WithRetryCount(c.Retry.RetryCount),
		aggregator.WithExponentialBackoff(c.Retry.BackoffBase, c.Retry.MaxDelay),
	}
	if c.Retry.Jitter > 0 {
		retryOpts = append(retryOpts, aggregator.WithJitter(c.Retry.Jitter))
	}

	opts := []aggregator.ClientOption{
		aggregator.WithClientLogger(logger),
		aggregator.WithMetrics(metrics),
		aggregator.WithRetryOptions(retryOpts...),
		aggregator.WithCircuitBreakerOptions(
			aggregator.WithFailureThreshold(c.Breaker.FailureThreshold),
			aggregator.WithOpenDuration(c.Breaker.OpenDuration),
		),
	}
	if c.Log.Bodies {
		opts = append(opts, aggregator.WithLoggingOptions(aggregator.WithBodyLogging(c.Log.MaxBodyBytes)))
	}
	return opts
}

// NewGatewayFromConfig builds the catalog, basket and ordering clients over
// one HTTP transport shared by all three.
func NewGatewayFromConfig(c *Config, logger *slog.Logger, metrics *aggregator.Metrics) (*aggregator.Gateway, error) {
	transport := aggregator.NewHTTPTransportWithClient(
		&http.Client{Timeout: c.Transport.Timeout},
		c.Transport.MaxBodyBytes,
	)

	return aggregator.NewShoppingGateway(aggregator.ShoppingURLs{
		Catalog:  c.API.CatalogURL,
		Basket:   c.API.BasketURL,
		Ordering: c.API.OrderingURL,
	}, transport, c.ClientOptions(logger, metrics)...)
}
