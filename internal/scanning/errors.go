package scanning

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

var (
	// ErrMissingCredential is returned when a key is required but none was given
	ErrMissingCredential = errors.New("請先輸入 API 金鑰。")
	// ErrInvalidCredential matches any InvalidCredentialError
	ErrInvalidCredential = errors.New("API 金鑰無效。")
	// ErrScanFailed is the generic failure shown to the user
	ErrScanFailed = errors.New("AI 模型處理圖片時發生錯誤。")
)

// InvalidCredentialError is returned when the AI service rejects the API key.
// The message depends on where the key came from.
type InvalidCredentialError struct {
	Source CredentialSource
}

func (e *InvalidCredentialError) Error() string {
	if e.Source == CredentialFromEnvironment {
		return "環境變數中的 API 金鑰無效。"
	}
	return "API 金鑰無效，請確認後再試。"
}

// Is reports ErrInvalidCredential as a match
func (e *InvalidCredentialError) Is(target error) bool {
	return target == ErrInvalidCredential
}

var invalidKeyMarkers = []string{
	"API key not valid",
	"API_KEY_INVALID",
}

// translateError logs the upstream error and replaces it with a user-facing one
func translateError(err error, cred Credential) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	slog.Error("Failed to scan card", "credential_source", cred.Source, "error", err)

	msg := err.Error()
	for _, marker := range invalidKeyMarkers {
		if strings.Contains(msg, marker) {
			return &InvalidCredentialError{Source: cred.Source}
		}
	}
	return ErrScanFailed
}
