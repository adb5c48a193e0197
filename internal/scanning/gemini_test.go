package scanning

import (
	"bytes"
	"context"
	"errors"

	"github.com/google/generative-ai-go/genai"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeGenerator is a mock implementation of contentGenerator
type fakeGenerator struct {
	text  string
	err   error
	parts []genai.Part
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.parts = parts
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []genai.Part{genai.Text(f.text)}}},
		},
	}, nil
}

var _ = Describe("Gemini", func() {
	var (
		shared   *fakeGenerator
		dialed   *fakeGenerator
		dialKeys []string
		released int
		scanner  *Gemini
		payload  *Payload
		cred     Credential
		data     *CardData
		err      error
	)

	BeforeEach(func() {
		shared = &fakeGenerator{text: `{"serialNumber": "ENV-SN", "password": "ENV-PW"}`}
		dialed = &fakeGenerator{text: `{"serialNumber": "USR-SN", "password": "USR-PW"}`}
		dialKeys = nil
		released = 0
		scanner = &Gemini{
			model: shared,
			dial: func(ctx context.Context, key string) (contentGenerator, func() error, error) {
				dialKeys = append(dialKeys, key)
				return dialed, func() error { released++; return nil }, nil
			},
		}

		payload, err = EncodeImage(bytes.NewReader([]byte("png bytes")), "image/png")
		Expect(err).NotTo(HaveOccurred())
		cred = Credential{Source: CredentialFromEnvironment}
	})

	JustBeforeEach(func() {
		data, err = scanner.ScanCard(context.Background(), payload, cred)
	})

	When("using the environment credential", func() {
		It("should use the shared model", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(*data).To(Equal(CardData{SerialNumber: "ENV-SN", Password: "ENV-PW"}))
			Expect(dialKeys).To(BeEmpty())
		})

		It("should send the image blob and the prompt", func() {
			Expect(shared.parts).To(HaveLen(2))
			Expect(shared.parts[0]).To(Equal(genai.Blob{MIMEType: "image/png", Data: []byte("png bytes")}))
			Expect(shared.parts[1]).To(Equal(genai.Text(cardScanPrompt)))
		})
	})

	When("no environment key was configured", func() {
		BeforeEach(func() {
			scanner.model = nil
		})

		It("returns the missing credential error", func() {
			Expect(err).To(MatchError(ErrMissingCredential))
		})
	})

	When("using a user credential", func() {
		BeforeEach(func() {
			cred = Credential{APIKey: "user-key", Source: CredentialFromUser}
		})

		It("should dial a model with that key", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(dialKeys).To(Equal([]string{"user-key"}))
			Expect(data.SerialNumber).To(Equal("USR-SN"))
		})

		It("should release the dialed model", func() {
			Expect(released).To(Equal(1))
		})
	})

	When("the user credential is empty", func() {
		BeforeEach(func() {
			cred = Credential{Source: CredentialFromUser}
		})

		It("returns the missing credential error without dialing", func() {
			Expect(err).To(MatchError(ErrMissingCredential))
			Expect(dialKeys).To(BeEmpty())
		})
	})

	When("the model leaves a field empty", func() {
		BeforeEach(func() {
			shared.text = `{"serialNumber": "", "password": "ABC123"}`
		})

		It("should store the sentinel", func() {
			Expect(*data).To(Equal(CardData{SerialNumber: "N/A", Password: "ABC123"}))
		})
	})

	When("the API rejects the key", func() {
		BeforeEach(func() {
			shared.err = errors.New("googleapi: Error 400: API key not valid. Please pass a valid API key.")
		})

		It("returns the invalid credential error", func() {
			Expect(err).To(MatchError(ErrInvalidCredential))
			Expect(err.Error()).To(Equal("環境變數中的 API 金鑰無效。"))
		})
	})

	When("the API fails for another reason", func() {
		BeforeEach(func() {
			shared.err = errors.New("503 model overloaded")
		})

		It("returns the generic error", func() {
			Expect(err).To(MatchError(ErrScanFailed))
		})
	})

	When("the model returns no JSON", func() {
		BeforeEach(func() {
			shared.text = "sorry"
		})

		It("returns the generic error", func() {
			Expect(err).To(MatchError(ErrScanFailed))
		})
	})
})

var _ = Describe("configureModel", func() {
	It("should request JSON constrained to the two card fields", func() {
		model := configureModel(&genai.GenerativeModel{})
		Expect(model.ResponseMIMEType).To(Equal("application/json"))
		Expect(model.ResponseSchema.Type).To(Equal(genai.TypeObject))
		Expect(model.ResponseSchema.Properties).To(HaveKey("serialNumber"))
		Expect(model.ResponseSchema.Properties).To(HaveKey("password"))
		Expect(model.ResponseSchema.Required).To(ConsistOf("serialNumber", "password"))
	})
})
