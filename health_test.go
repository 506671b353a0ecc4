package aggregator_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	aggregator "github.com/JohnPlummer/jp-go-aggregator"
)

var _ = Describe("HealthStatus", func() {
	Describe("JSON Marshaling", func() {
		It("should marshal an open breaker with its opening time", func() {
			openedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			health := aggregator.HealthStatus{
				Dependency:          "basket",
				Healthy:             false,
				State:               "open",
				OpenedAt:            &openedAt,
				ConsecutiveFailures: 0,
				TotalFailures:       5,
				TotalRejections:     2,
			}

			data, err := json.Marshal(health)
			Expect(err).To(BeNil())

			var unmarshaled map[string]interface{}
			Expect(json.Unmarshal(data, &unmarshaled)).To(Succeed())

			Expect(unmarshaled["dependency"]).To(Equal("basket"))
			Expect(unmarshaled["healthy"]).To(BeFalse())
			Expect(unmarshaled["state"]).To(Equal("open"))
			Expect(unmarshaled["opened_at"]).To(Equal("2024-03-01T12:00:00Z"))
			Expect(unmarshaled["total_failures"]).To(BeNumerically("==", 5))
			Expect(unmarshaled["total_rejections"]).To(BeNumerically("==", 2))
			Expect(unmarshaled).NotTo(HaveKey("retry"))
		})

		It("should omit the opening time of a closed breaker and include retry counters", func() {
			health := aggregator.HealthStatus{
				Dependency: "catalog",
				Healthy:    true,
				State:      "closed",
				Retry:      &aggregator.RetryStats{TotalAttempts: 7, TotalRetries: 2},
			}

			data, err := json.Marshal(health)
			Expect(err).To(BeNil())

			var unmarshaled map[string]interface{}
			Expect(json.Unmarshal(data, &unmarshaled)).To(Succeed())

			Expect(unmarshaled).NotTo(HaveKey("opened_at"))
			retry, ok := unmarshaled["retry"].(map[string]interface{})
			Expect(ok).To(BeTrue())
			Expect(retry["total_attempts"]).To(BeNumerically("==", 7))
			Expect(retry["total_retries"]).To(BeNumerically("==", 2))
		})
	})
})
