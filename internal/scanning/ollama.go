package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Ollama implements the Scanner interface using a local Ollama server
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new Ollama Scanner instance
// Vision models that read printed codes reasonably well:
//   - qwen2.5vl (best OCR of the small models)
//   - llava:1.6
//   - llama3.2-vision
func NewOllama(baseURL string, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "qwen2.5vl"
	}

	return &Ollama{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   modelName,
		client:  &http.Client{},
	}, nil
}

// ollamaChatRequest represents the request body for Ollama's chat API
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   json.RawMessage `json:"format,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ollamaChatResponse represents the response from Ollama's chat API
type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// cardSchema constrains Ollama's output to the two card fields
var cardSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "serialNumber": {"type": "string"},
    "password": {"type": "string"}
  },
  "required": ["serialNumber", "password"]
}`)

// ScanCard extracts the serial number and password from a gift card image.
// Ollama runs locally, so the credential is not used.
func (o *Ollama) ScanCard(ctx context.Context, payload *Payload, cred Credential) (*CardData, error) {
	data, err := o.chat(ctx, payload)
	if err != nil {
		return nil, translateError(err, cred)
	}
	return data, nil
}

func (o *Ollama) chat(ctx context.Context, payload *Payload) (*CardData, error) {
	// Ollama vision models cannot read HEIC
	payload, err := heicToPNG(payload)
	if err != nil {
		return nil, err
	}

	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Format: cardSchema,
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: "You read printed codes on prepaid gift cards. Copy characters exactly as printed.",
			},
			{
				Role:    "user",
				Content: cardScanPrompt,
				Images:  []string{payload.Data},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	data, err := parseCardJSON(chatResp.Message.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing card data: %w", err)
	}

	return data, nil
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
