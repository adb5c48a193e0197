package scanning

import (
	"bytes"
	"encoding/base64"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

var _ = Describe("EncodeImage", func() {
	It("should base64 encode the image bytes", func() {
		p, err := EncodeImage(bytes.NewReader([]byte("fake image data")), "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Data).To(Equal(base64.StdEncoding.EncodeToString([]byte("fake image data"))))
		Expect(p.MIMEType).To(Equal("image/png"))
	})

	It("should normalize the MIME type", func() {
		p, err := EncodeImage(bytes.NewReader(nil), "  Image/JPEG ")
		Expect(err).NotTo(HaveOccurred())
		Expect(p.MIMEType).To(Equal("image/jpeg"))
	})

	It("should default an empty MIME type to JPEG", func() {
		p, err := EncodeImage(bytes.NewReader(nil), "")
		Expect(err).NotTo(HaveOccurred())
		Expect(p.MIMEType).To(Equal("image/jpeg"))
	})

	It("should propagate read failures", func() {
		readErr := errors.New("disk gone")
		_, err := EncodeImage(failingReader{err: readErr}, "image/png")
		Expect(err).To(MatchError(readErr))
	})

	It("should round trip through Bytes", func() {
		p, err := EncodeImage(bytes.NewReader([]byte{0, 1, 2, 250}), "image/png")
		Expect(err).NotTo(HaveOccurred())
		data, err := p.Bytes()
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte{0, 1, 2, 250}))
	})
})
