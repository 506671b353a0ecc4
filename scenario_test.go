package aggregator_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	aggregator "github.com/JohnPlummer/jp-go-aggregator"
)

var _ = Describe("Shopping dependency scenarios", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("should open on the fifth consecutive 503, reject while open and recover through a probe", func() {
		clock := newFakeClock()
		var healthy atomic.Bool
		transport := &mockTransport{
			sendFunc: func(context.Context, string, *aggregator.Request) (*aggregator.Response, error) {
				if healthy.Load() {
					return response(200, "basket"), nil
				}
				return response(503, "down"), nil
			},
		}

		client := aggregator.NewDependencyClient(mustEndpoint("basket", "http://basket"), transport,
			aggregator.WithClientLogger(quietLogger()),
			aggregator.WithClientClock(clock),
			aggregator.WithRetryOptions(
				aggregator.WithMaxAttempts(3),
				aggregator.WithExponentialBackoff(time.Millisecond, 0),
			),
			aggregator.WithCircuitBreakerOptions(
				aggregator.WithFailureThreshold(5),
				aggregator.WithOpenDuration(30*time.Second),
			),
		)

		// Three failing attempts, all counted by the breaker.
		_, err := client.Invoke(ctx, getRequest("/api/v1/basket/1"))
		var exhausted *aggregator.ExhaustedRetriesError
		Expect(errors.As(err, &exhausted)).To(BeTrue())
		Expect(client.Breaker().State()).To(Equal(aggregator.StateClosed))

		// The fifth 503 opens the breaker; the third attempt is rejected locally.
		_, err = client.Invoke(ctx, getRequest("/api/v1/basket/1"))
		Expect(errors.Is(err, aggregator.ErrCircuitOpen)).To(BeTrue())
		Expect(transport.getCallCount()).To(Equal(5))
		Expect(client.Breaker().State()).To(Equal(aggregator.StateOpen))

		clock.Advance(10 * time.Second)
		_, err = client.Invoke(ctx, getRequest("/api/v1/basket/1"))
		Expect(errors.Is(err, aggregator.ErrCircuitOpen)).To(BeTrue())
		Expect(transport.getCallCount()).To(Equal(5))

		healthy.Store(true)
		clock.Advance(21 * time.Second)
		resp, err := client.Invoke(ctx, getRequest("/api/v1/basket/1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(200))
		Expect(client.Breaker().State()).To(Equal(aggregator.StateClosed))

		for i := 0; i < 3; i++ {
			_, err = client.Invoke(ctx, getRequest("/api/v1/basket/1"))
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(transport.getCallCount()).To(Equal(9))
	})

	It("should wait twice with growing delays through two 429s before succeeding", func() {
		const base = 5 * time.Millisecond

		transport := respondWith(429, 429, 200)
		var delays []time.Duration
		client := aggregator.NewDependencyClient(mustEndpoint("catalog", "http://catalog"), transport,
			aggregator.WithClientLogger(quietLogger()),
			aggregator.WithRetryOptions(
				aggregator.WithRetryCount(5),
				aggregator.WithExponentialBackoff(base, 0),
			),
		)
		probe := aggregator.NewRetryPolicy("catalog", aggregator.WithExponentialBackoff(base, 0))
		delays = append(delays, probe.Delay(1), probe.Delay(2))

		resp, err := client.Invoke(ctx, getRequest("/api/v1/catalog/items"))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(200))
		Expect(transport.getCallCount()).To(Equal(3))

		times := transport.getCallTimes()
		Expect(times).To(HaveLen(3))
		first := times[1].Sub(times[0])
		second := times[2].Sub(times[1])
		Expect(first).To(BeNumerically(">=", delays[0]))
		Expect(second).To(BeNumerically(">=", delays[1]))
		Expect(delays[1]).To(BeNumerically(">", delays[0]))

		stats := client.RetryPolicy().GetRetryStats()
		Expect(stats.TotalRetries).To(Equal(int64(2)))
	})
})
