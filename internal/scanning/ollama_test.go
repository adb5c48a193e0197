package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server   *ghttp.Server
		scanner  *Ollama
		received ollamaChatRequest
		data     *CardData
		err      error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		scanner, err = NewOllama(server.URL()+"/", "qwen2.5vl")
		Expect(err).NotTo(HaveOccurred())
		received = ollamaChatRequest{}
	})

	AfterEach(func() {
		server.Close()
	})

	scan := func() {
		payload, encErr := EncodeImage(bytes.NewReader([]byte("jpeg bytes")), "image/jpeg")
		Expect(encErr).NotTo(HaveOccurred())
		data, err = scanner.ScanCard(context.Background(), payload, Credential{})
	}

	captureRequest := func(w http.ResponseWriter, r *http.Request) {
		Expect(json.NewDecoder(r.Body).Decode(&received)).To(Succeed())
	}

	When("the model answers with card JSON", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				captureRequest,
				ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
					Message: ollamaMessage{Role: "assistant", Content: `{"serialNumber":"OL-1","password":""}`},
					Done:    true,
				}),
			))
			scan()
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should parse the fields and fill the sentinel", func() {
			Expect(*data).To(Equal(CardData{SerialNumber: "OL-1", Password: "N/A"}))
		})

		It("should send the model, schema and image", func() {
			Expect(received.Model).To(Equal("qwen2.5vl"))
			Expect(received.Stream).To(BeFalse())
			Expect(string(received.Format)).To(ContainSubstring("serialNumber"))
			Expect(received.Messages).To(HaveLen(2))
			Expect(received.Messages[1].Content).To(Equal(cardScanPrompt))
			Expect(received.Messages[1].Images).To(HaveLen(1))
		})
	})

	When("the server returns an error status", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not found"))
			scan()
		})

		It("returns the generic error", func() {
			Expect(err).To(MatchError(ErrScanFailed))
		})
	})

	When("the model answers with prose", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
				Message: ollamaMessage{Role: "assistant", Content: "I cannot read that."},
				Done:    true,
			}))
			scan()
		})

		It("returns the generic error", func() {
			Expect(err).To(MatchError(ErrScanFailed))
		})
	})
})
