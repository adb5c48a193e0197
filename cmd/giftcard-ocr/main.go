package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/zombor/giftcard-ocr/internal/giftcard"
	"github.com/zombor/giftcard-ocr/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("giftcard-ocr")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		storagePath    = fs.StringLong("storage", "", "Preview scratch directory (default: a new temp directory)")
		scannerType    = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini' or 'ollama'")
		credentialMode = fs.StringLong("credential-mode", "environment", "Where the Gemini API key comes from: 'environment' or 'user'")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", scanning.DefaultGeminiModel, "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "qwen2.5vl", "Ollama vision model name")
		maxUploadMB    = fs.IntLong("max-upload", 50, "Maximum upload request size in MiB")
		sessionTTL     = fs.DurationLong("session-ttl", 2*time.Hour, "Drop browser sessions idle for this long")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("GIFTCARD_OCR"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	mode := scanning.CredentialSource(*credentialMode)
	if mode != scanning.CredentialFromEnvironment && mode != scanning.CredentialFromUser {
		slog.Error("Invalid credential mode", "mode", *credentialMode, "valid", "environment or user")
		os.Exit(1)
	}

	// Initialize scanner based on type
	var (
		scanner scanning.Scanner
		err     error
	)
	switch *scannerType {
	case "gemini":
		apiKey := ""
		if mode == scanning.CredentialFromEnvironment {
			// Get Gemini API key from flag or environment
			apiKey = *geminiKey
			if apiKey == "" {
				apiKey = os.Getenv("GEMINI_API_KEY")
			}
			if apiKey == "" {
				slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable, or use --credential-mode=user")
				os.Exit(1)
			}
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel, "credential_mode", mode)
		scanner, err = scanning.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		if mode == scanning.CredentialFromUser {
			slog.Error("User credentials need the gemini scanner", "scanner", *scannerType)
			os.Exit(1)
		}
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		scanner, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer scanner.Close()

	// Initialize preview storage
	dir := *storagePath
	if dir == "" {
		dir, err = os.MkdirTemp("", "giftcard-ocr-")
		if err != nil {
			slog.Error("Failed to create scratch directory", "error", err)
			os.Exit(1)
		}
	}
	slog.Info("Initializing storage...", "path", dir)
	store, err := giftcard.NewLocalStorage(dir)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.RemoveAll(); err != nil {
			slog.Warn("Failed to remove scratch directory", "path", dir, "error", err)
		}
	}()

	// Initialize service
	service := giftcard.NewService(scanner, giftcard.NewPreviews(store), mode)
	defer service.Close()

	// Initialize server
	server := giftcard.NewServer(service, giftcard.Options{
		Version:   version,
		MaxUpload: int64(*maxUploadMB) << 20,
	})

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sweep(ctx, service, *sessionTTL)

	// Wait for interrupt signal
	<-ctx.Done()

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}
}

// sweep periodically drops idle browser sessions until ctx is done
func sweep(ctx context.Context, service *giftcard.Service, ttl time.Duration) {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			service.Sweep(ttl)
		}
	}
}
