package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"courseloom-backend/internal/models"
)

// IndexingFeed reads the per-source indexing state and text chunks that the
// document-processing pipeline publishes to Redis. This service never writes
// either key.
type IndexingFeed struct {
	redis *redis.Client
}

func NewIndexingFeed(redisClient *redis.Client) *IndexingFeed {
	return &IndexingFeed{redis: redisClient}
}

// Status returns the indexing report for one source, or a Processing report
// when the pipeline has not published anything yet.
func (f *IndexingFeed) Status(ctx context.Context, sourceID uuid.UUID) (*models.IndexingStatus, error) {
	raw, err := f.redis.Get(ctx, "indexing:"+sourceID.String()).Result()
	if err == redis.Nil {
		return &models.IndexingStatus{SourceID: sourceID, State: models.IndexingProcessing}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read indexing status: %w", err)
	}

	status := &models.IndexingStatus{SourceID: sourceID}
	if err := json.Unmarshal([]byte(raw), status); err != nil {
		return nil, fmt.Errorf("malformed indexing status for %s: %w", sourceID, err)
	}
	status.SourceID = sourceID
	return status, nil
}

// Chunks returns up to limit indexed text chunks for a source document.
func (f *IndexingFeed) Chunks(ctx context.Context, sourceID uuid.UUID, limit int) ([]string, error) {
	chunks, err := f.redis.LRange(ctx, "chunks:"+sourceID.String(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}
	return chunks, nil
}
