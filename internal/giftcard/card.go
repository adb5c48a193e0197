package giftcard

import "time"

// Status is the lifecycle state of one Result
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

const (
	pendingPlaceholder = "..."
	errorPlaceholder   = "錯誤"
)

// File is an image selected for extraction
type File struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	AddedAt     time.Time `json:"addedAt"`
	data        []byte
}

// Upload is an incoming file before it is filtered into the selection
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// Result tracks extraction of one File within a batch
type Result struct {
	ID           string `json:"id"`
	FileID       string `json:"fileId"`
	FileName     string `json:"fileName"`
	SerialNumber string `json:"serialNumber"`
	Password     string `json:"password"`
	PreviewURL   string `json:"imagePreviewUrl"`
	Status       Status `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Resolved reports whether the result has left the pending state
func (r Result) Resolved() bool {
	return r.Status == StatusSuccess || r.Status == StatusError
}

// Snapshot is a point-in-time copy of a workspace for the UI
type Snapshot struct {
	Files    []File   `json:"files"`
	Results  []Result `json:"results"`
	Running  bool     `json:"running"`
	Progress int      `json:"progress"`
	Error    string   `json:"error,omitempty"`
}
