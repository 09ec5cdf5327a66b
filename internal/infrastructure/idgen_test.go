package infrastructure_test

import (
	"strconv"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"wabot/internal/infrastructure"
)

var _ = Describe("SnowflakeIDGenerator", func() {
	It("issues unique increasing ids", func() {
		gen, err := infrastructure.NewSnowflakeIDGenerator(1)
		Expect(err).NotTo(HaveOccurred())

		seen := make(map[string]struct{})
		var last int64
		for i := 0; i < 1000; i++ {
			id := gen.NewID()
			Expect(seen).NotTo(HaveKey(id))
			seen[id] = struct{}{}

			n, err := strconv.ParseInt(id, 10, 64)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeNumerically(">", last))
			last = n
		}
	})

	It("issues distinct tokens", func() {
		gen, err := infrastructure.NewSnowflakeIDGenerator(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(gen.NewToken()).NotTo(Equal(gen.NewToken()))
		Expect(gen.NewToken()).To(HaveLen(36))
	})

	It("rejects an out of range node id", func() {
		_, err := infrastructure.NewSnowflakeIDGenerator(5000)
		Expect(err).To(HaveOccurred())
	})
})
