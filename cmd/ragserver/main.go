// Package main provides the RAG server entry point: MCP tools over stdio
// or HTTP, plus health and landing endpoints.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dhaines/ragserver/internal/embedding"
	"github.com/dhaines/ragserver/internal/generation"
	mcpserver "github.com/dhaines/ragserver/internal/mcp"
	"github.com/dhaines/ragserver/internal/metastore"
	"github.com/dhaines/ragserver/internal/rag"
	"github.com/dhaines/ragserver/internal/storage"
)

func main() {
	// Load .env if present (local development), ignore if missing.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	qdrantHost := getEnv("QDRANT_HOST", "localhost")
	qdrantPort := getEnvInt("QDRANT_PORT", 6334)
	dimensions := getEnvInt("EMBEDDING_DIMENSIONS", storage.DefaultVectorDimension)
	dbPath := getEnv("RAG_DB_PATH", "ragserver.db")
	port := getEnv("PORT", "8080")

	store, err := storage.NewQdrantStorage(qdrantHost, qdrantPort, dimensions)
	if err != nil {
		log.Fatalf("failed to connect to Qdrant: %v", err)
	}
	defer store.Close()

	if err := store.EnsureCollection(ctx); err != nil {
		log.Fatalf("failed to ensure collection: %v", err)
	}

	metaStore, err := metastore.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer metaStore.Close()

	embedClient, err := embedding.NewClient()
	if err != nil {
		log.Fatalf("failed to create embedding client: %v", err)
	}
	generator := generation.NewGenerator(embedClient.API())

	svc := rag.NewService(embedClient, store, generator, metaStore, nil)

	server := mcpserver.NewServer(svc)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", mcpserver.NewHealthHandler(store, metaStore))
	mux.Handle("/mcp", mcpserver.NewHTTPHandler(server, nil))
	mux.HandleFunc("/", mcpserver.NewLandingHandler())

	serverMode := getEnv("SERVER_MODE", "false") == "true"

	if serverMode {
		addr := "0.0.0.0:" + port
		log.Printf("Starting HTTP server on %s (MCP at /mcp, health at /health)", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	} else {
		// Stdio mode for local MCP clients, health endpoint in background.
		go func() {
			addr := "0.0.0.0:" + port
			log.Printf("Starting health server on %s", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("Health server error: %v", err)
			}
		}()

		log.Println("Starting RAG server (stdio mode)...")
		if err := server.Run(ctx); err != nil {
			log.Printf("server error: %v", err)
			os.Exit(1)
		}
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}
