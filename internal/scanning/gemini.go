package scanning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultGeminiModel is used when no model name is configured
const DefaultGeminiModel = "gemini-2.5-flash"

// contentGenerator is the part of *genai.GenerativeModel the scanner uses
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// dialFunc builds a model for a single user-supplied key; the returned func releases it
type dialFunc func(ctx context.Context, apiKey string) (contentGenerator, func() error, error)

// Gemini implements the Scanner interface using Google Gemini
type Gemini struct {
	client *genai.Client    // shared client for an environment key, nil otherwise
	model  contentGenerator // model on the shared client
	dial   dialFunc
}

// NewGemini creates a new Gemini Scanner instance.
// A non-empty apiKey is treated as the environment credential and shared by every call;
// with an empty apiKey each call must carry a user credential.
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if modelName == "" {
		modelName = DefaultGeminiModel
	}

	g := &Gemini{
		dial: func(ctx context.Context, key string) (contentGenerator, func() error, error) {
			client, err := genai.NewClient(ctx, option.WithAPIKey(key))
			if err != nil {
				return nil, nil, fmt.Errorf("creating gemini client: %w", err)
			}
			return configureModel(client.GenerativeModel(modelName)), client.Close, nil
		},
	}

	if apiKey != "" {
		client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
		if err != nil {
			return nil, fmt.Errorf("creating gemini client: %w", err)
		}
		g.client = client
		g.model = configureModel(client.GenerativeModel(modelName))
	}

	return g, nil
}

// configureModel requests schema-constrained JSON with the two card fields
func configureModel(model *genai.GenerativeModel) *genai.GenerativeModel {
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"serialNumber": {
				Type:        genai.TypeString,
				Description: "點數卡的序號",
			},
			"password": {
				Type:        genai.TypeString,
				Description: "點數卡的密碼",
			},
		},
		Required: []string{"serialNumber", "password"},
	}
	return model
}

// modelFor picks the shared model or dials one for a user key
func (g *Gemini) modelFor(ctx context.Context, cred Credential) (contentGenerator, func() error, error) {
	if cred.Source == CredentialFromUser {
		if cred.APIKey == "" {
			return nil, nil, ErrMissingCredential
		}
		return g.dial(ctx, cred.APIKey)
	}
	if g.model == nil {
		return nil, nil, ErrMissingCredential
	}
	return g.model, func() error { return nil }, nil
}

// ScanCard extracts the serial number and password from a gift card image
func (g *Gemini) ScanCard(ctx context.Context, payload *Payload, cred Credential) (*CardData, error) {
	model, release, err := g.modelFor(ctx, cred)
	if err != nil {
		if errors.Is(err, ErrMissingCredential) {
			return nil, err
		}
		return nil, translateError(err, cred)
	}
	defer release()

	data, err := g.generate(ctx, model, payload)
	if err != nil {
		return nil, translateError(err, cred)
	}
	return data, nil
}

func (g *Gemini) generate(ctx context.Context, model contentGenerator, payload *Payload) (*CardData, error) {
	imageData, err := payload.Bytes()
	if err != nil {
		return nil, err
	}

	parts := []genai.Part{
		genai.Blob{MIMEType: payload.MIMEType, Data: imageData},
		genai.Text(cardScanPrompt),
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	data, err := parseCardJSON(responseText.String())
	if err != nil {
		return nil, fmt.Errorf("parsing card data: %w", err)
	}

	return data, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
