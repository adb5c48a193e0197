package giftcard

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/giftcard-ocr/internal/scanning"
)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+apiKeyHeader)
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes v as a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// jsonError writes an {"error": message} response
func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{
		"error": message,
	})
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleStaticCSS serves the CSS file
func (s *Server) handleStaticCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css")
	w.Write(appCSS)
}

// handleStaticJS serves the JavaScript file
func (s *Server) handleStaticJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Write(appJS)
}

// handleConfig tells the UI whether it must ask for an API key
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"credentialMode":       string(s.service.CredentialMode()),
		"credentialStorageKey": CredentialStorageKey,
		"version":              s.opts.Version,
	})
}

// handleState returns the whole workspace
func (s *Server) handleState(w http.ResponseWriter, r *http.Request, ws *Workspace) {
	writeJSON(w, http.StatusOK, s.service.Snapshot(ws))
}

// detectContentType uses the part's Content-Type, falling back to the file extension
func detectContentType(header *multipart.FileHeader) string {
	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}

	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// readUpload reads one multipart file into an Upload
func readUpload(header *multipart.FileHeader) (Upload, error) {
	f, err := header.Open()
	if err != nil {
		return Upload{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return Upload{}, err
	}

	return Upload{
		Name:        header.Filename,
		ContentType: detectContentType(header),
		Data:        data,
	}, nil
}

// handleAddFiles appends uploaded images to the selection
func (s *Server) handleAddFiles(w http.ResponseWriter, r *http.Request, ws *Workspace) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, "檔案太大，請壓縮或縮小圖片後再試。", http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := append(r.MultipartForm.File["files"], r.MultipartForm.File["file"]...)
	if len(headers) == 0 {
		jsonError(w, "No file was selected. Please choose a file to upload.", http.StatusBadRequest)
		return
	}

	uploads := make([]Upload, 0, len(headers))
	for _, header := range headers {
		upload, err := readUpload(header)
		if err != nil {
			slog.Error("Error reading file data", "error", err, "filename", header.Filename)
			jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
			return
		}
		uploads = append(uploads, upload)
	}

	added := s.service.AddFiles(ws, uploads)
	slog.Info("Files selected", "workspace", ws.ID, "received", len(uploads), "added", len(added))

	writeJSON(w, http.StatusCreated, s.service.Snapshot(ws))
}

// handleGetFile serves a selected file for the selection thumbnails
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request, ws *Workspace) {
	data, contentType, err := s.service.FileData(ws, r.PathValue("id"))
	if err != nil {
		jsonError(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleClear empties the selection and results
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request, ws *Workspace) {
	s.service.Clear(ws)
	w.WriteHeader(http.StatusNoContent)
}

// handleStartRun starts extraction over the current selection
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request, ws *Workspace) {
	cred := scanning.Credential{APIKey: strings.TrimSpace(r.Header.Get(apiKeyHeader))}

	err := s.service.Start(ws, cred)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, s.service.Snapshot(ws))
	case errors.Is(err, ErrNoFiles), errors.Is(err, scanning.ErrMissingCredential):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrRunInProgress):
		jsonError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("Error starting batch", "workspace", ws.ID, "error", err)
		jsonError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// handleResults returns the results of the current batch
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request, ws *Workspace) {
	snap := s.service.Snapshot(ws)
	writeJSON(w, http.StatusOK, map[string]any{
		"results":  snap.Results,
		"progress": snap.Progress,
		"running":  snap.Running,
		"error":    snap.Error,
	})
}

// handleExport returns the results as tab-separated values
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, ws *Workspace) {
	w.Header().Set("Content-Type", "text/tab-separated-values; charset=utf-8")
	io.WriteString(w, s.service.Export(ws))
}

// handlePreview serves the preview image of a result
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request, ws *Workspace) {
	data, contentType, err := s.service.Preview(ws, r.PathValue("id"))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Error("Error opening preview", "error", err)
		}
		jsonError(w, "Preview not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}
