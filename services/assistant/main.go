// The assistant service: a multi-channel conversational AI backend with
// per-user context retention and retrieval-augmented generation.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/conversa-ai/conversa/services/assistant/channels"
	"github.com/conversa-ai/conversa/services/assistant/chat"
	"github.com/conversa-ai/conversa/services/assistant/config"
	"github.com/conversa-ai/conversa/services/assistant/contextstore"
	"github.com/conversa-ai/conversa/services/assistant/handlers"
	"github.com/conversa-ai/conversa/services/assistant/rag"
	"github.com/conversa-ai/conversa/services/assistant/retention"
	"github.com/conversa-ai/conversa/services/llm"
)

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("assistant: fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	shutdownTracing := initTracing(ctx, cfg)
	defer shutdownTracing()

	store, err := contextstore.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	provider, err := llm.New(ctx, cfg)
	if err != nil {
		return err
	}

	deps := handlers.Deps{
		Cfg:       cfg,
		Store:     store,
		Scheduler: retention.New(store, cfg.RetentionWindow, cfg.CleanupInterval),
		Dedup:     channels.NewDeduper(cfg.RetentionWindow),
	}

	var retriever chat.Retriever
	if cfg.RAGEnabled && cfg.WeaviateURL != "" {
		vectors, err := connectVectorStore(ctx, cfg, provider)
		if err != nil {
			return err
		}
		ragRetriever := rag.NewRetriever(vectors, provider, cfg.TopK, cfg.MinSimilarity)
		retriever = ragRetriever
		deps.Vectors = vectors
		deps.Retriever = ragRetriever
		deps.Ingestor = rag.NewIngestor(vectors, provider, cfg.ChunkSize, cfg.ChunkOverlap, cfg.EmbedConcurrency)
	} else {
		slog.Info("assistant: retrieval disabled",
			"rag_enabled", cfg.RAGEnabled, "weaviate_configured", cfg.WeaviateURL != "")
	}

	deps.Responder = chat.NewResponder(store, provider, retriever, chat.Options{
		MaxHistoryTurns: cfg.MaxHistoryTurns,
		MaxContextChars: cfg.MaxContextChars,
	})

	if cfg.TelegramToken != "" {
		deps.Telegram = channels.NewTelegramClient(cfg.TelegramToken)
	}
	if cfg.WhatsAppToken != "" && cfg.WhatsAppPhoneID != "" {
		deps.WhatsApp = channels.NewWhatsAppClient(cfg.WhatsAppToken, cfg.WhatsAppPhoneID)
	}

	deps.Scheduler.Start(ctx)
	defer deps.Scheduler.Stop()

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handlers.NewRouter(deps),
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("assistant: listening", "port", cfg.Port, "provider", provider.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("assistant: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// connectVectorStore opens the chunk collection and enforces the
// dimensionality invariant: an existing collection whose vectors do not
// match the active embedding model must stop the process, because every
// similarity search against it would be garbage.
func connectVectorStore(ctx context.Context, cfg config.Config, provider llm.AIProvider) (rag.VectorStore, error) {
	u, err := url.Parse(cfg.WeaviateURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid WEAVIATE_URL %q", cfg.WeaviateURL)
	}
	vectors, err := rag.NewWeaviateStore(u.Host, u.Scheme)
	if err != nil {
		return nil, err
	}
	if err := vectors.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	if err := rag.CheckDimensions(ctx, vectors, provider, provider.Name()); err != nil {
		return nil, err
	}
	slog.Info("assistant: vector store ready",
		"url", cfg.WeaviateURL, "dimensions", provider.Dimensions())
	return vectors, nil
}

// initTracing wires the OTLP exporter when an endpoint is configured.
// Tracing is best-effort: a missing collector logs a warning and the service
// runs untraced.
func initTracing(ctx context.Context, cfg config.Config) func() {
	if cfg.OTLPEndpoint == "" {
		return func() {}
	}
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		slog.Warn("assistant: tracing disabled, exporter init failed", "error", err)
		return func() {}
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "assistant"),
		)),
	)
	otel.SetTracerProvider(tp)
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.Warn("assistant: tracer shutdown failed", "error", err)
		}
	}
}
