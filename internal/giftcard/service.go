package giftcard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/giftcard-ocr/internal/scanning"
)

var (
	// ErrNoFiles is returned when starting a batch with nothing selected
	ErrNoFiles = errors.New("請先選擇點數卡圖片。")
	// ErrRunInProgress is returned when starting a batch while one is running
	ErrRunInProgress = errors.New("正在處理中，請稍候。")
	// ErrNotFound is returned for files or previews outside the workspace
	ErrNotFound = errors.New("not found")
)

// IDGenerator generates unique IDs for files, results and workspaces
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles gift card workspaces and batches
type Service struct {
	pipeline       *Pipeline
	previews       PreviewStore
	credentialMode scanning.CredentialSource
	idGenerator    IDGenerator
	timeSource     TimeSource

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

// NewService creates a new Service with default ID generator and time source
func NewService(scanner scanning.Scanner, previews PreviewStore, mode scanning.CredentialSource) *Service {
	return NewServiceWithDeps(scanner, previews, mode, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(scanner scanning.Scanner, previews PreviewStore, mode scanning.CredentialSource, idGen IDGenerator, timeSrc TimeSource) *Service {
	if mode == "" {
		mode = scanning.CredentialFromEnvironment
	}
	return &Service{
		pipeline:       NewPipeline(scanner),
		previews:       previews,
		credentialMode: mode,
		idGenerator:    idGen,
		timeSource:     timeSrc,
		workspaces:     make(map[string]*Workspace),
	}
}

// CredentialMode tells whether batches use the user's key or the environment's
func (s *Service) CredentialMode() scanning.CredentialSource {
	return s.credentialMode
}

// Workspace returns the workspace for id, creating a new one if id is unknown
func (s *Service) Workspace(id string) *Workspace {
	s.mu.Lock()
	ws, ok := s.workspaces[id]
	if !ok {
		ws = &Workspace{ID: s.idGenerator.Generate()}
		s.workspaces[ws.ID] = ws
	}
	s.mu.Unlock()

	ws.mu.Lock()
	ws.lastSeen = s.timeSource.Now()
	ws.mu.Unlock()
	return ws
}

// isImage reports whether a content type is an image/* MIME type
func isImage(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
}

// AddFiles appends the image uploads to the selection and drops everything else.
// It clears any error shown from a previous batch.
func (s *Service) AddFiles(ws *Workspace, uploads []Upload) []File {
	now := s.timeSource.Now()
	added := make([]File, 0, len(uploads))

	ws.mu.Lock()
	defer ws.mu.Unlock()

	for _, u := range uploads {
		if !isImage(u.ContentType) {
			slog.Debug("Skipping non-image upload", "filename", u.Name, "content_type", u.ContentType)
			continue
		}
		f := &File{
			ID:          s.idGenerator.Generate(),
			Name:        u.Name,
			ContentType: strings.ToLower(strings.TrimSpace(u.ContentType)),
			Size:        int64(len(u.Data)),
			AddedAt:     now,
			data:        u.Data,
		}
		ws.files = append(ws.files, f)
		added = append(added, *f)
	}
	ws.banner = ""

	return added
}

// Clear empties the selection and results. A running batch is abandoned:
// files it has not reached are never scanned and its late outcomes are dropped.
func (s *Service) Clear(ws *Workspace) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	s.discardRun(ws)
	ws.files = nil
	ws.banner = ""
}

// discardRun cancels and releases the current batch; callers must hold ws.mu
func (s *Service) discardRun(ws *Workspace) {
	if ws.run == nil {
		return
	}
	ws.run.cancel()
	for _, r := range ws.run.results {
		if r.PreviewURL == "" {
			continue
		}
		if err := s.previews.Release(r.ID); err != nil {
			slog.Warn("Failed to release preview", "result_id", r.ID, "error", err)
		}
	}
	ws.run = nil
}

// Start begins a batch over the current selection and returns immediately.
// Files are scanned one at a time in selection order.
func (s *Service) Start(ws *Workspace, cred scanning.Credential) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if len(ws.files) == 0 {
		return ErrNoFiles
	}

	if s.credentialMode == scanning.CredentialFromUser {
		cred.Source = scanning.CredentialFromUser
		if strings.TrimSpace(cred.APIKey) == "" {
			ws.banner = scanning.ErrMissingCredential.Error()
			return scanning.ErrMissingCredential
		}
	} else {
		// The environment key lives in the scanner and is never taken from a request
		cred = scanning.Credential{Source: scanning.CredentialFromEnvironment}
	}

	if ws.running() {
		return ErrRunInProgress
	}

	s.discardRun(ws)

	files := append([]*File(nil), ws.files...)
	results := make([]Result, len(files))
	for i, f := range files {
		id := s.idGenerator.Generate()
		previewURL, err := s.previews.Acquire(id, f.data, f.ContentType)
		if err != nil {
			slog.Warn("Failed to create preview", "filename", f.Name, "error", err)
			previewURL = ""
		}
		results[i] = Result{
			ID:           id,
			FileID:       f.ID,
			FileName:     f.Name,
			SerialNumber: pendingPlaceholder,
			Password:     pendingPlaceholder,
			PreviewURL:   previewURL,
			Status:       StatusPending,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		results: results,
		running: true,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	ws.run = r
	ws.banner = ""

	slog.Info("Starting batch", "workspace", ws.ID, "files", len(files), "credential_source", cred.Source)
	go s.process(ctx, ws, r, files, cred)

	return nil
}

func (s *Service) process(ctx context.Context, ws *Workspace, r *run, files []*File, cred scanning.Credential) {
	defer close(r.done)

	start := s.timeSource.Now()
	s.pipeline.Run(ctx, files, cred, func(o Outcome) {
		s.resolve(ws, r, o)
	})

	ws.mu.Lock()
	r.running = false
	r.cancel()
	failed := 0
	for _, res := range r.results {
		if res.Status == StatusError {
			failed++
		}
	}
	ws.mu.Unlock()

	slog.Info("Batch finished",
		"workspace", ws.ID,
		"files", len(files),
		"failed", failed,
		"duration", s.timeSource.Now().Sub(start),
	)
}

// resolve writes one outcome into its slot
func (s *Service) resolve(ws *Workspace, r *run, o Outcome) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	// The batch was cleared or replaced
	if ws.run != r {
		return
	}
	if o.Index < 0 || o.Index >= len(r.results) {
		return
	}
	res := &r.results[o.Index]
	if res.Resolved() {
		return
	}

	if o.Err != nil {
		msg := userMessage(o.Err)
		res.Status = StatusError
		res.SerialNumber = errorPlaceholder
		res.Password = errorPlaceholder
		res.ErrorMessage = msg
		ws.banner = msg
		return
	}

	res.Status = StatusSuccess
	res.SerialNumber = o.Card.SerialNumber
	res.Password = o.Card.Password
}

// userMessage returns the text shown for a failed file
func userMessage(err error) string {
	if errors.Is(err, scanning.ErrInvalidCredential) ||
		errors.Is(err, scanning.ErrMissingCredential) ||
		errors.Is(err, scanning.ErrScanFailed) {
		return err.Error()
	}
	slog.Error("Failed to process card", "error", err)
	return scanning.ErrScanFailed.Error()
}

// Snapshot returns a copy of the workspace for display
func (s *Service) Snapshot(ws *Workspace) Snapshot {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.snapshot()
}

// Export returns the current results as TSV
func (s *Service) Export(ws *Workspace) string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ExportTSV(ws.snapshot().Results)
}

// Done returns a channel closed when the current batch finishes.
// With no batch it returns a closed channel.
func (s *Service) Done(ws *Workspace) <-chan struct{} {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.run == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return ws.run.done
}

// FileData returns the bytes of a selected file
func (s *Service) FileData(ws *Workspace, fileID string) ([]byte, string, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	f := ws.findFile(fileID)
	if f == nil {
		return nil, "", ErrNotFound
	}
	return f.data, f.ContentType, nil
}

// Preview returns the preview image of a result in the current batch
func (s *Service) Preview(ws *Workspace, resultID string) ([]byte, string, error) {
	ws.mu.Lock()
	owned := ws.hasResult(resultID)
	ws.mu.Unlock()
	if !owned {
		return nil, "", ErrNotFound
	}

	data, contentType, err := s.previews.Open(resultID)
	if err != nil {
		return nil, "", fmt.Errorf("opening preview: %w", err)
	}
	return data, contentType, nil
}

// Sweep drops workspaces idle for longer than maxIdle and releases their previews.
// Workspaces with a running batch are kept.
func (s *Service) Sweep(maxIdle time.Duration) int {
	now := s.timeSource.Now()
	removed := 0

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ws := range s.workspaces {
		ws.mu.Lock()
		if !ws.running() && now.Sub(ws.lastSeen) > maxIdle {
			s.discardRun(ws)
			ws.files = nil
			delete(s.workspaces, id)
			removed++
		}
		ws.mu.Unlock()
	}

	if removed > 0 {
		slog.Info("Swept idle workspaces", "removed", removed)
	}
	return removed
}

// Close abandons every workspace and releases all previews
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ws := range s.workspaces {
		ws.mu.Lock()
		s.discardRun(ws)
		ws.files = nil
		ws.mu.Unlock()
		delete(s.workspaces, id)
	}
}
