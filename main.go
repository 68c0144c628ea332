package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"streamscribe/model"
	"streamscribe/pipeline"
	"streamscribe/server"
	"streamscribe/task"
	"streamscribe/transcribe"
	"streamscribe/translate"
	"streamscribe/watcher"
)

func main() {
	httpAddr := flag.String("addr", ":8000", "HTTP listen address (host:port)")
	workDir := flag.String("workdir", "", "Directory for per-task scratch space")
	watchDir := flag.String("watch", "", "Ingest directory to watch for media files (disabled when empty)")
	certFile := flag.String("cert", "", "Path to TLS certificate file")
	keyFile := flag.String("key", "", "Path to TLS key file")
	whisperPath := flag.String("whisper", "whisper-cli", "Path to whisper executable")
	modelDir := flag.String("model-dir", "models", "Directory containing whisper model files")
	defaultModel := flag.String("model", "small", "Default whisper model size or file path")
	language := flag.String("lang", "", "Source language hint passed to whisper (auto-detect when empty)")
	targetLang := flag.String("target-lang", "English", "Target language for translation")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Debug("Received shutdown signal")
		cancel()
	}()

	var translator translate.Translator
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		translator = translate.NewOpenAI(apiKey, os.Getenv("OPENAI_MODEL"), *targetLang)
		slog.Info("Translation enabled", "targetLanguage", *targetLang)
	} else {
		slog.Warn("OPENAI_API_KEY is not set, translation requests will run without translation")
	}

	if *workDir == "" {
		*workDir = filepath.Join(os.TempDir(), "streamscribe")
	}

	manager := task.NewManager()
	orchestrator := pipeline.New(pipeline.Config{
		Manager:  manager,
		Models:   model.NewCache(),
		ModelDir: *modelDir,
		Transcriber: func(h *model.Handle) transcribe.Transcriber {
			return transcribe.NewWhisper(*whisperPath, h, *language)
		},
		Translator: translator,
	})

	if *watchDir != "" {
		ingest, err := watcher.New(watcher.Config{
			IngestDir: *watchDir,
			WorkDir:   *workDir,
			Model:     *defaultModel,
			Translate: translator != nil,
		}, manager, orchestrator)
		if err != nil {
			slog.Error("Failed to initialize ingest watcher", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := ingest.Run(ctx); err != nil {
				slog.Error("Ingest watcher failed", "error", err)
			}
		}()
	}

	service := server.New(server.Config{
		HTTPAddr:     *httpAddr,
		WorkDir:      *workDir,
		CertFile:     *certFile,
		KeyFile:      *keyFile,
		Token:        os.Getenv("STREAMSCRIBE_TOKEN"),
		DefaultModel: *defaultModel,
	}, manager, orchestrator)

	if err := service.Start(ctx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
		os.Exit(1)
	}

	slog.Debug("Program exiting")
}
