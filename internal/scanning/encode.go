package scanning

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// Payload is an image ready to be sent to a model
type Payload struct {
	Data     string `json:"data"` // base64, standard encoding
	MIMEType string `json:"mimeType"`
}

// EncodeImage reads an image and base64-encodes it
func EncodeImage(r io.Reader, mimeType string) (*Payload, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}

	return &Payload{
		Data:     base64.StdEncoding.EncodeToString(data),
		MIMEType: normalizeMIMEType(mimeType),
	}, nil
}

// Bytes decodes the payload back into raw image bytes
func (p *Payload) Bytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return data, nil
}

func normalizeMIMEType(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "" {
		mimeType = "image/jpeg" // default
	}
	return mimeType
}
