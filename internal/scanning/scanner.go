package scanning

import "context"

// NotFound is stored in place of a field the model could not read
const NotFound = "N/A"

// CardData contains the fields extracted from a gift card
type CardData struct {
	SerialNumber string `json:"serialNumber"`
	Password     string `json:"password"`
}

// CredentialSource tells where an API key came from
type CredentialSource string

const (
	// CredentialFromUser is a key typed into the browser by the user
	CredentialFromUser CredentialSource = "user"
	// CredentialFromEnvironment is a key supplied by the hosting environment
	CredentialFromEnvironment CredentialSource = "environment"
)

// Credential authenticates calls to the AI service
type Credential struct {
	APIKey string
	Source CredentialSource
}

// Scanner defines the interface for gift card extraction
type Scanner interface {
	// ScanCard sends one encoded image to the model and returns the serial number and password
	ScanCard(ctx context.Context, payload *Payload, cred Credential) (*CardData, error)
	// Close closes the scanner and releases resources
	Close() error
}
