package webhook_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/gatekeeper/internal/webhook"
)

var _ = Describe("Signer", func() {
	body := []byte(`{"id":"1","event":"user.linked"}`)

	It("produces a sha256 HMAC over the raw body", func() {
		mac := hmac.New(sha256.New, []byte("s3cret"))
		mac.Write(body)
		want := "sha256=" + hex.EncodeToString(mac.Sum(nil))

		Expect(webhook.Sign("s3cret", body)).To(Equal(want))
	})

	It("verifies only the matching secret and body", func() {
		sig := webhook.Sign("s3cret", body)

		Expect(webhook.Verify("s3cret", body, sig)).To(BeTrue())
		Expect(webhook.Verify("other", body, sig)).To(BeFalse())
		Expect(webhook.Verify("s3cret", append(body, ' '), sig)).To(BeFalse())
		Expect(webhook.Verify("s3cret", body, strings.TrimPrefix(sig, "sha256="))).To(BeFalse())
	})

	It("generates distinct prefixed secrets", func() {
		a, err := webhook.GenerateSecret()
		Expect(err).NotTo(HaveOccurred())
		b, err := webhook.GenerateSecret()
		Expect(err).NotTo(HaveOccurred())

		Expect(a).To(HavePrefix("whsec_"))
		Expect(a).NotTo(Equal(b))
		Expect(len(a)).To(BeNumerically(">", 40))
	})
})
