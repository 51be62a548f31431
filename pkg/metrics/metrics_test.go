/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestMetrics(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Metrics Suite")
}

var _ = Describe("stage metrics", func() {
	It("counts a stage error under its error type label", func() {
		before := testutil.ToFloat64(StageErrorsTotal.WithLabelValues("ReasonOCR", "timeout"))

		RecordStage("ReasonOCR", 50*time.Millisecond, "timeout")

		after := testutil.ToFloat64(StageErrorsTotal.WithLabelValues("ReasonOCR", "timeout"))
		Expect(after).To(Equal(before + 1))
	})

	It("observes a stage duration without recording an error on success", func() {
		before := testutil.ToFloat64(StageErrorsTotal.WithLabelValues("Aggregate", ""))

		RecordStage("Aggregate", 10*time.Millisecond, "")

		metric := &dto.Metric{}
		Expect(StageDurationSeconds.WithLabelValues("Aggregate").Write(metric)).To(Succeed())
		Expect(metric.GetHistogram().GetSampleCount()).To(BeNumerically(">", 0))

		after := testutil.ToFloat64(StageErrorsTotal.WithLabelValues("Aggregate", ""))
		Expect(after).To(Equal(before))
	})

	It("marks a fallback substitution separately from a hard failure", func() {
		before := testutil.ToFloat64(StageFallbacksTotal.WithLabelValues("VerifyAuthenticity"))

		RecordFallback("VerifyAuthenticity")

		after := testutil.ToFloat64(StageFallbacksTotal.WithLabelValues("VerifyAuthenticity"))
		Expect(after).To(Equal(before + 1))
	})

	It("records a timer's elapsed duration against a stage", func() {
		timer := NewTimer()
		time.Sleep(5 * time.Millisecond)
		Expect(timer.Elapsed()).To(BeNumerically(">=", 5*time.Millisecond))

		before := testutil.ToFloat64(StageErrorsTotal.WithLabelValues("PriceCard", "network"))
		timer.RecordStage("PriceCard", "network")
		after := testutil.ToFloat64(StageErrorsTotal.WithLabelValues("PriceCard", "network"))
		Expect(after).To(Equal(before + 1))
	})
})
