package model

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestModel(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Model Suite")
}

var _ = Describe("Tag normalisation", func() {
	It("trims, lower-cases and collapses whitespace", func() {
		Expect(NormalizeTag("  Rust  ")).To(Equal("rust"))
		Expect(NormalizeTag("Bug-Fix")).To(Equal("bug-fix"))
		Expect(NormalizeTag("CRITICAL")).To(Equal("critical"))
	})

	It("rejects tags of length 1", func() {
		Expect(ValidTag(NormalizeTag("a"))).To(BeFalse())
	})

	It("rejects tags of length 101", func() {
		long := make([]byte, 101)
		for i := range long {
			long[i] = 'a'
		}
		Expect(ValidTag(string(long))).To(BeFalse())
	})

	It("accepts a two-character tag", func() {
		Expect(ValidTag(NormalizeTag("go"))).To(BeTrue())
	})

	It("de-duplicates a batch while normalising", func() {
		tags := NormalizeTags([]string{"Bug-Fix", "bug-fix", "CRITICAL", "authentication"})
		Expect(tags).To(ConsistOf("bug-fix", "critical", "authentication"))
	})
})

var _ = Describe("Embedding validation", func() {
	It("accepts a vector of the expected dimension with finite values", func() {
		Expect(ValidEmbedding([]float64{0.1, 0.2, 0.3}, 3)).To(BeTrue())
	})

	It("rejects a dimension mismatch", func() {
		Expect(ValidEmbedding([]float64{0.1, 0.2}, 3)).To(BeFalse())
	})

	It("rejects NaN and Inf components", func() {
		Expect(ValidEmbedding([]float64{0.1, nan()}, 2)).To(BeFalse())
	})
})

func nan() float64 {
	var zero float64
	return zero / zero
}

var _ = Describe("Episode", func() {
	It("computes the next step number starting at 1", func() {
		e := &Episode{}
		Expect(e.NextStepNumber()).To(Equal(1))

		e.Steps = append(e.Steps, Step{StepNumber: 1})
		Expect(e.NextStepNumber()).To(Equal(2))
	})

	It("is not completed until an outcome is set", func() {
		e := &Episode{}
		Expect(e.Completed()).To(BeFalse())
		outcome := NewSuccess("ok", nil)
		e.Outcome = &outcome
		Expect(e.Completed()).To(BeTrue())
	})
})

var _ = Describe("Outcome ranking", func() {
	It("orders Success above PartialSuccess above Failure", func() {
		Expect(NewSuccess("", nil).Rank()).To(BeNumerically(">", NewPartialSuccess("", nil, nil).Rank()))
		Expect(NewPartialSuccess("", nil, nil).Rank()).To(BeNumerically(">", NewFailure("", false).Rank()))
	})
})

var _ = Describe("Pattern", func() {
	It("is valid when success_rate is in [0,1] and support >= 1", func() {
		p := &Pattern{SuccessRate: 0.5, Support: 1}
		Expect(p.Valid()).To(BeTrue())

		p.Support = 0
		Expect(p.Valid()).To(BeFalse())

		p.Support = 1
		p.SuccessRate = 1.5
		Expect(p.Valid()).To(BeFalse())
	})
})
