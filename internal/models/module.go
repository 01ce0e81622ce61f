package models

import (
	"time"

	"github.com/google/uuid"
)

// Content item types
const (
	ItemTypeDocument   = "document"
	ItemTypeQuiz       = "quiz"
	ItemTypeAssignment = "assignment"
	ItemTypeLink       = "link"
	ItemTypeVideo      = "video"
)

func ValidItemType(t string) bool {
	switch t {
	case ItemTypeDocument, ItemTypeQuiz, ItemTypeAssignment, ItemTypeLink, ItemTypeVideo:
		return true
	}
	return false
}

// Module is an ordered, publishable container of content items within a
// course. Positions of all modules in one course are dense: 0..n-1.
type Module struct {
	ID          uuid.UUID      `json:"id"`
	CourseID    uuid.UUID      `json:"course_id"`
	Title       string         `json:"title"`
	Position    int            `json:"position"`
	IsPublished bool           `json:"is_published"`
	Items       []*ContentItem `json:"items,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ContentItem is one entry inside a module. Positions within a module are
// dense. An item of type quiz/assignment carries a non-owning reference to
// the assessment via AssessmentID.
type ContentItem struct {
	ID           uuid.UUID  `json:"id"`
	ModuleID     uuid.UUID  `json:"module_id"`
	Title        string     `json:"title"`
	ItemType     string     `json:"item_type"`
	Position     int        `json:"position"`
	IsPublished  bool       `json:"is_published"`
	SourceID     *uuid.UUID `json:"source_id,omitempty"`     // attached document/video
	ContentType  *string    `json:"content_type,omitempty"`  // mime-ish hint for attachments
	AssessmentID *uuid.UUID `json:"assessment_id,omitempty"` // quiz/assignment reference
	CreatedAt    time.Time  `json:"created_at"`
}

type CreateModuleRequest struct {
	CourseID uuid.UUID `json:"course_id"`
	Title    string    `json:"title"`
}

type AddItemRequest struct {
	Title        string     `json:"title"`
	ItemType     string     `json:"item_type"`
	SourceID     *uuid.UUID `json:"source_id"`
	ContentType  *string    `json:"content_type"`
	AssessmentID *uuid.UUID `json:"assessment_id"`
}

type ReorderRequest struct {
	OrderedIDs []uuid.UUID `json:"ordered_ids"`
}

type MoveItemRequest struct {
	TargetModuleID uuid.UUID `json:"target_module_id"`
}
