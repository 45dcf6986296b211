package llmgw

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestLLMGateway(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "LLM Gateway Suite")
}

var _ = Describe("estimateCost", func() {
	DescribeTable("estimates cost from a per-thousand-token rate",
		func(model string, tokensIn, tokensOut int, expected float64) {
			Expect(estimateCost(model, tokensIn, tokensOut)).To(BeNumerically("~", expected, 1e-9))
		},
		Entry("gpt-4o-mini at zero tokens", "gpt-4o-mini", 0, 0, 0.0),
		Entry("gpt-4o-mini at one thousand combined tokens", "gpt-4o-mini", 600, 400, 0.00015),
		Entry("gpt-4o at one thousand combined tokens", "gpt-4o", 500, 500, 0.0025),
		Entry("unknown model falls back to gpt-4o-mini's rate", "some-future-model", 1000, 0, 0.00015),
	)
})

var _ = Describe("Temp", func() {
	It("returns a pointer to the given value", func() {
		p := Temp(0.2)
		Expect(p).NotTo(BeNil())
		Expect(*p).To(Equal(0.2))
	})
})
