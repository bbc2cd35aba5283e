package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse is the JSON body of the /health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Qdrant    string `json:"qdrant"`
	Database  string `json:"database"`
	Timestamp string `json:"timestamp"`
}

// HealthChecker is implemented by both the vector store and the metastore.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// NewHealthHandler creates the /health endpoint. It reports 503 when either
// the vector store or the database is unreachable.
func NewHealthHandler(vectors, db HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		response := HealthResponse{
			Status:    "healthy",
			Qdrant:    "connected",
			Database:  "connected",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		if err := vectors.Health(ctx); err != nil {
			response.Status = "unhealthy"
			response.Qdrant = "disconnected"
		}
		if err := db.Health(ctx); err != nil {
			response.Status = "unhealthy"
			response.Database = "disconnected"
		}

		w.Header().Set("Content-Type", "application/json")
		if response.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(response)
	}
}
