package models

import "github.com/google/uuid"

// Indexing states reported by the document-processing collaborator.
const (
	IndexingProcessing = "processing"
	IndexingIndexed    = "indexed"
	IndexingFailed     = "failed"
)

// VectorStoreStatus is the per-store detail attached to an indexing report.
type VectorStoreStatus struct {
	Store   string `json:"store"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// IndexingStatus annotates a source document or video. This service only
// reads it; the processing pipeline owns the data.
type IndexingStatus struct {
	SourceID   uuid.UUID           `json:"source_id"`
	State      string              `json:"state"`
	ChunkCount int                 `json:"chunk_count"`
	Stores     []VectorStoreStatus `json:"stores,omitempty"`
}
