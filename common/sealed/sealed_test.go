package sealed_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"buildrelay.app/relay/common/sealed"
)

var _ = Describe("Sealer", func() {
	var s *sealed.Sealer

	BeforeEach(func() {
		identity, recipient, err := sealed.GenerateKey()
		Expect(err).NotTo(HaveOccurred())
		Expect(identity).To(HavePrefix("AGE-SECRET-KEY-1"))
		Expect(recipient).To(HavePrefix("age1"))

		s, err = sealed.New(identity)
		Expect(err).NotTo(HaveOccurred())
	})

	It("opens what it sealed", func() {
		ct, err := s.Encrypt("11aa22bb33cc")
		Expect(err).NotTo(HaveOccurred())
		Expect(ct).NotTo(ContainSubstring("11aa22bb33cc"))

		pt, err := s.Decrypt(ct)
		Expect(err).NotTo(HaveOccurred())
		Expect(pt).To(Equal("11aa22bb33cc"))
	})

	It("reports values sealed under another key as unusable", func() {
		otherIdentity, _, err := sealed.GenerateKey()
		Expect(err).NotTo(HaveOccurred())
		other, err := sealed.New(otherIdentity)
		Expect(err).NotTo(HaveOccurred())

		ct, err := other.Encrypt("token")
		Expect(err).NotTo(HaveOccurred())

		_, err = s.Decrypt(ct)
		Expect(err).To(MatchError(sealed.ErrUnusable))
	})

	It("reports garbage as unusable", func() {
		_, err := s.Decrypt("not base64 at all!")
		Expect(err).To(MatchError(sealed.ErrUnusable))

		_, err = s.Decrypt("aGVsbG8=")
		Expect(err).To(MatchError(sealed.ErrUnusable))
	})

	It("rejects malformed identities", func() {
		_, err := sealed.New("AGE-SECRET-KEY-1" + strings.Repeat("X", 10))
		Expect(err).To(HaveOccurred())
	})
})
