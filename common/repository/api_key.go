package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tomehq/tome/common/db"
)

// APIKeyRepository handles database operations for operational API keys.
// Only a SHA-256 hash of the key is stored.
type APIKeyRepository struct {
	db *db.DB
}

// NewAPIKeyRepository creates a new API key repository
func NewAPIKeyRepository(database *db.DB) *APIKeyRepository {
	return &APIKeyRepository{db: database}
}

// HashKey returns the storage form of an API key
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Create stores a key hash for a project
func (r *APIKeyRepository) Create(ctx context.Context, key string, projectID uuid.UUID, name string) error {
	query := `INSERT INTO api_key (key_hash, project_id, name) VALUES ($1, $2, $3)`

	if _, err := r.db.Exec(ctx, query, HashKey(key), projectID, name); err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}

	return nil
}

// Lookup resolves an API key to its project ID
func (r *APIKeyRepository) Lookup(ctx context.Context, key string) (uuid.UUID, error) {
	query := `SELECT project_id FROM api_key WHERE key_hash = $1`

	var projectID uuid.UUID
	err := r.db.QueryRow(ctx, query, HashKey(key)).Scan(&projectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("failed to look up api key: %w", err)
	}

	return projectID, nil
}
