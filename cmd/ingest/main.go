// Package main provides the ingestion CLI: chunk, embed, and index
// documents from a local directory or a GitHub repository.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dhaines/ragserver/internal/chunker"
	"github.com/dhaines/ragserver/internal/embedding"
	ghclient "github.com/dhaines/ragserver/internal/github"
	"github.com/dhaines/ragserver/internal/ingest"
	"github.com/dhaines/ragserver/internal/metastore"
	"github.com/dhaines/ragserver/internal/storage"
)

var (
	flagTenant    string
	flagTags      []string
	flagChunkSize int
	flagOverlap   int

	flagOwner string
	flagRepo  string
	flagPath  string
	flagRef   string
)

var rootCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Document ingestion tool for the RAG server",
	Long: `Chunks, embeds, and indexes documents into the knowledge base.

Environment variables:
  QDRANT_HOST     Qdrant hostname (default: localhost)
  QDRANT_PORT     Qdrant gRPC port (default: 6334)
  RAG_DB_PATH     SQLite database path (default: ragserver.db)
  OPENAI_API_KEY  OpenAI API key for embeddings (required)
  GITHUB_TOKEN    GitHub token for higher rate limits (optional)`,
}

var dirCmd = &cobra.Command{
	Use:   "dir [path]",
	Short: "Ingest markdown and text files from a local directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd.Context(), ingest.NewDirSource(args[0]))
	},
}

var githubCmd = &cobra.Command{
	Use:   "github",
	Short: "Ingest markdown files from a GitHub repository directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagOwner == "" || flagRepo == "" {
			return fmt.Errorf("--owner and --repo are required")
		}
		client, err := ghclient.NewClient(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to create GitHub client: %w", err)
		}
		fetcher := ghclient.NewFetcher(client, flagOwner, flagRepo, flagPath, flagRef)
		return runIngest(cmd.Context(), ingest.NewGitHubSource(fetcher))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagTenant, "tenant", "default", "tenant the documents belong to")
	rootCmd.PersistentFlags().StringSliceVar(&flagTags, "tags", nil, "tags applied to every ingested document")
	rootCmd.PersistentFlags().IntVar(&flagChunkSize, "chunk-size", 0, "chunk size in tokens (default 512)")
	rootCmd.PersistentFlags().IntVar(&flagOverlap, "chunk-overlap", 0, "chunk overlap in tokens (default 64)")

	githubCmd.Flags().StringVar(&flagOwner, "owner", "", "repository owner")
	githubCmd.Flags().StringVar(&flagRepo, "repo", "", "repository name")
	githubCmd.Flags().StringVar(&flagPath, "path", "", "directory within the repository")
	githubCmd.Flags().StringVar(&flagRef, "ref", "", "branch or commit (default: main)")

	rootCmd.AddCommand(dirCmd)
	rootCmd.AddCommand(githubCmd)
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func runIngest(ctx context.Context, source ingest.Source) error {
	start := time.Now()

	qdrantHost := getEnv("QDRANT_HOST", "localhost")
	qdrantPort := getEnvInt("QDRANT_PORT", 6334)
	dimensions := getEnvInt("EMBEDDING_DIMENSIONS", storage.DefaultVectorDimension)
	dbPath := getEnv("RAG_DB_PATH", "ragserver.db")

	fmt.Printf("Connecting to Qdrant at %s:%d...\n", qdrantHost, qdrantPort)
	store, err := storage.NewQdrantStorage(qdrantHost, qdrantPort, dimensions)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer store.Close()

	if err := store.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("failed to ensure collection: %w", err)
	}

	metaStore, err := metastore.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer metaStore.Close()

	embedClient, err := embedding.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create embedding client: %w", err)
	}

	chunkOpts := chunker.DefaultOptions()
	if flagChunkSize > 0 {
		chunkOpts.ChunkSize = flagChunkSize
	}
	if flagOverlap > 0 {
		chunkOpts.ChunkOverlap = flagOverlap
	}

	fmt.Printf("Ingesting documents (tenant=%s, source=%s)...\n\n", flagTenant, source.Type())
	pipeline := ingest.NewPipeline(source, chunker.New(), embedClient, store, metaStore, ingest.Options{
		TenantID:     flagTenant,
		Tags:         flagTags,
		ChunkOptions: chunkOpts,
	}, nil)

	result, err := pipeline.Run(ctx)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	fmt.Println()
	fmt.Println("Ingestion complete!")
	fmt.Printf("  Documents: %d/%d\n", result.SuccessfulDocs, result.TotalDocs)
	fmt.Printf("  Chunks: %d\n", result.TotalChunks)
	fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Millisecond))

	if len(result.FailedDocs) > 0 {
		fmt.Println()
		fmt.Println("Failed documents:")
		for _, failed := range result.FailedDocs {
			fmt.Printf("  - %s: %s\n", failed.Path, failed.Reason)
		}
	}

	fmt.Println()
	fmt.Printf("Total time: %s\n", time.Since(start).Round(time.Millisecond))
	return nil
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
