package aggregator_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	aggregator "github.com/JohnPlummer/jp-go-aggregator"
)

var _ = Describe("Gateway", func() {
	var (
		ctx       context.Context
		transport *mockTransport
		gw        *aggregator.Gateway
	)

	BeforeEach(func() {
		ctx = context.Background()
		transport = respondWith(200)

		var err error
		gw, err = aggregator.NewShoppingGateway(aggregator.ShoppingURLs{
			Catalog:  "http://catalog:5101",
			Basket:   "http://basket:5103",
			Ordering: "http://ordering:5102",
		}, transport,
			aggregator.WithClientLogger(quietLogger()),
			aggregator.WithRetryOptions(aggregator.WithExponentialBackoff(time.Millisecond, 0)),
		)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should register the three shopping dependencies", func() {
		Expect(gw.Dependencies()).To(Equal([]string{
			aggregator.DependencyCatalog,
			aggregator.DependencyBasket,
			aggregator.DependencyOrdering,
		}))
	})

	It("should route by dependency name", func() {
		_, err := gw.Invoke(ctx, aggregator.DependencyBasket, getRequest("/api/v1/basket/42"))
		Expect(err).NotTo(HaveOccurred())
		Expect(transport.getURLs()).To(Equal([]string{"http://basket:5103/api/v1/basket/42"}))
	})

	It("should reject unknown dependencies", func() {
		_, err := gw.Invoke(ctx, "payments", getRequest("/"))
		Expect(errors.Is(err, aggregator.ErrUnknownDependency)).To(BeTrue())
		Expect(transport.getCallCount()).To(Equal(0))
	})

	It("should give each dependency its own breaker", func() {
		catalog, ok := gw.Client(aggregator.DependencyCatalog)
		Expect(ok).To(BeTrue())
		basket, ok := gw.Client(aggregator.DependencyBasket)
		Expect(ok).To(BeTrue())
		Expect(catalog.Breaker()).NotTo(BeIdenticalTo(basket.Breaker()))

		_, ok = gw.Client("payments")
		Expect(ok).To(BeFalse())
	})

	It("should report health for every dependency", func() {
		health := gw.Health()
		Expect(health).To(HaveLen(3))
		for _, h := range health {
			Expect(h.Healthy).To(BeTrue())
			Expect(h.State).To(Equal("closed"))
		}
		Expect(health[0].Dependency).To(Equal(aggregator.DependencyCatalog))
	})

	It("should refuse duplicate dependency names", func() {
		a := aggregator.NewDependencyClient(mustEndpoint("catalog", "http://a"), transport)
		b := aggregator.NewDependencyClient(mustEndpoint("catalog", "http://b"), transport)
		_, err := aggregator.NewGateway(a, b)
		Expect(err).To(HaveOccurred())
	})

	It("should refuse a nil client", func() {
		a := aggregator.NewDependencyClient(mustEndpoint("catalog", "http://a"), transport)
		var gw *aggregator.Gateway
		var err error
		Expect(func() { gw, err = aggregator.NewGateway(a, nil) }).NotTo(Panic())
		Expect(err).To(MatchError(ContainSubstring("nil")))
		Expect(gw).To(BeNil())
	})

	It("should fail on an invalid base address", func() {
		_, err := aggregator.NewShoppingGateway(aggregator.ShoppingURLs{
			Catalog:  "http://catalog",
			Basket:   "not a url",
			Ordering: "http://ordering",
		}, transport)
		Expect(err).To(HaveOccurred())
	})
})
