package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"courseloom-backend/internal/models"
)

// ErrNoRecord is returned by stores when a row does not exist. Services map
// it onto NotFoundError with the entity kind attached.
var ErrNoRecord = errors.New("no record")

// ModuleStore is the persistence surface the content tree needs. Writes that
// carry the dense-position invariant across rows (reorder, move) must be
// applied atomically by the implementation.
type ModuleStore interface {
	CreateModule(ctx context.Context, m *models.Module) error
	GetModule(ctx context.Context, id uuid.UUID) (*models.Module, error)
	ListModules(ctx context.Context, courseID uuid.UUID) ([]*models.Module, error)
	SetModulePublished(ctx context.Context, id uuid.UUID, published bool) error
	CreateItem(ctx context.Context, item *models.ContentItem) error
	GetItem(ctx context.Context, id uuid.UUID) (*models.ContentItem, error)
	AssessmentPublished(ctx context.Context, assessmentID uuid.UUID) (bool, error)
	UpdateModulePositions(ctx context.Context, courseID uuid.UUID, orderedIDs []uuid.UUID) error
	UpdateItemPositions(ctx context.Context, moduleID uuid.UUID, orderedIDs []uuid.UUID) error
	MoveItem(ctx context.Context, itemID, targetModuleID uuid.UUID, sourceOrder, targetOrder []uuid.UUID) error
}

// ContentTreeService owns the ordered tree of modules and content items for
// a course: creation, publish toggles, full-permutation reorders, and atomic
// cross-module moves. Mutations on the same parent serialize on an
// in-process lock so position sequences stay dense under concurrency.
type ContentTreeService struct {
	store ModuleStore
	locks *keyedLocks
}

func NewContentTreeService(store ModuleStore) *ContentTreeService {
	return &ContentTreeService{
		store: store,
		locks: newKeyedLocks(),
	}
}

func courseKey(id uuid.UUID) string { return "course:" + id.String() }
func moduleKey(id uuid.UUID) string { return "module:" + id.String() }

func (s *ContentTreeService) CreateModule(ctx context.Context, courseID uuid.UUID, title string) (*models.Module, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, validationErrorf("module title is required")
	}

	unlock := s.locks.lock(courseKey(courseID))
	defer unlock()

	existing, err := s.store.ListModules(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}

	m := &models.Module{
		CourseID: courseID,
		Title:    title,
		Position: len(existing),
	}
	if err := s.store.CreateModule(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to create module: %w", err)
	}
	return m, nil
}

func (s *ContentTreeService) GetModule(ctx context.Context, moduleID uuid.UUID) (*models.Module, error) {
	m, err := s.store.GetModule(ctx, moduleID)
	if errors.Is(err, ErrNoRecord) {
		return nil, &NotFoundError{Kind: "module", ID: moduleID}
	}
	return m, err
}

func (s *ContentTreeService) ListModules(ctx context.Context, courseID uuid.UUID) ([]*models.Module, error) {
	return s.store.ListModules(ctx, courseID)
}

// ToggleModulePublish flips the module's own publish flag. Child items keep
// their own flags untouched.
func (s *ContentTreeService) ToggleModulePublish(ctx context.Context, moduleID uuid.UUID) (*models.Module, error) {
	m, err := s.GetModule(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetModulePublished(ctx, moduleID, !m.IsPublished); err != nil {
		return nil, fmt.Errorf("failed to update module publish flag: %w", err)
	}
	m.IsPublished = !m.IsPublished
	return m, nil
}

func (s *ContentTreeService) AddItem(ctx context.Context, moduleID uuid.UUID, req models.AddItemRequest) (*models.ContentItem, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, validationErrorf("item title is required")
	}
	if !models.ValidItemType(req.ItemType) {
		return nil, validationErrorf("unknown item type %q", req.ItemType)
	}
	if (req.ItemType == models.ItemTypeQuiz || req.ItemType == models.ItemTypeAssignment) && req.AssessmentID == nil {
		return nil, validationErrorf("%s items must reference an assessment", req.ItemType)
	}

	// A quiz item inherits the quiz's current publish state, so attaching
	// an already-published quiz never produces a draft item pointing at a
	// published assessment. Assignment assessments live with an external
	// collaborator; those items start as drafts.
	published := false
	if req.ItemType == models.ItemTypeQuiz {
		var err error
		published, err = s.store.AssessmentPublished(ctx, *req.AssessmentID)
		if errors.Is(err, ErrNoRecord) {
			return nil, validationErrorf("quiz %s does not exist", *req.AssessmentID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read assessment state: %w", err)
		}
	}

	unlock := s.locks.lock(moduleKey(moduleID))
	defer unlock()

	m, err := s.GetModule(ctx, moduleID)
	if err != nil {
		var notFound *NotFoundError
		if errors.As(err, &notFound) {
			return nil, validationErrorf("module %s does not exist", moduleID)
		}
		return nil, err
	}

	item := &models.ContentItem{
		ModuleID:     moduleID,
		Title:        title,
		ItemType:     req.ItemType,
		Position:     len(m.Items),
		IsPublished:  published,
		SourceID:     req.SourceID,
		ContentType:  req.ContentType,
		AssessmentID: req.AssessmentID,
	}
	if err := s.store.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	return item, nil
}

// ReorderModules accepts the full desired ordering of a course's modules and
// rewrites positions to match. The submitted id set must exactly equal the
// stored set at apply time; a stale set is rejected, never partially applied.
func (s *ContentTreeService) ReorderModules(ctx context.Context, courseID uuid.UUID, orderedIDs []uuid.UUID) error {
	unlock := s.locks.lock(courseKey(courseID))
	defer unlock()

	modules, err := s.store.ListModules(ctx, courseID)
	if err != nil {
		return fmt.Errorf("failed to list modules: %w", err)
	}

	current := make([]uuid.UUID, len(modules))
	for i, m := range modules {
		current[i] = m.ID
	}
	if !sameIDSet(current, orderedIDs) {
		return conflictErrorf("submitted module ids do not match the course's current modules")
	}
	if sameOrder(current, orderedIDs) {
		return nil // already in the requested order; retry-safe
	}

	if err := s.store.UpdateModulePositions(ctx, courseID, orderedIDs); err != nil {
		return fmt.Errorf("failed to reorder modules: %w", err)
	}
	return nil
}

// ReorderItems is the same contract as ReorderModules, scoped to one module.
func (s *ContentTreeService) ReorderItems(ctx context.Context, moduleID uuid.UUID, orderedIDs []uuid.UUID) error {
	unlock := s.locks.lock(moduleKey(moduleID))
	defer unlock()

	m, err := s.GetModule(ctx, moduleID)
	if err != nil {
		return err
	}

	current := make([]uuid.UUID, len(m.Items))
	for i, item := range m.Items {
		current[i] = item.ID
	}
	if !sameIDSet(current, orderedIDs) {
		return conflictErrorf("submitted item ids do not match the module's current items")
	}
	if sameOrder(current, orderedIDs) {
		return nil
	}

	if err := s.store.UpdateItemPositions(ctx, moduleID, orderedIDs); err != nil {
		return fmt.Errorf("failed to reorder items: %w", err)
	}
	return nil
}

// MoveItem transfers an item to the end of the target module. The removal
// from the source sequence and the append to the target commit together or
// not at all; both modules' positions stay dense.
func (s *ContentTreeService) MoveItem(ctx context.Context, itemID, targetModuleID uuid.UUID) error {
	item, err := s.store.GetItem(ctx, itemID)
	if errors.Is(err, ErrNoRecord) {
		return &NotFoundError{Kind: "item", ID: itemID}
	}
	if err != nil {
		return err
	}
	if item.ModuleID == targetModuleID {
		return nil
	}

	// Lock both modules in canonical order before re-reading either side.
	unlock := s.locks.lockPair(moduleKey(item.ModuleID), moduleKey(targetModuleID))
	defer unlock()

	source, err := s.GetModule(ctx, item.ModuleID)
	if err != nil {
		return err
	}
	target, err := s.GetModule(ctx, targetModuleID)
	if err != nil {
		var notFound *NotFoundError
		if errors.As(err, &notFound) {
			return validationErrorf("target module %s does not exist", targetModuleID)
		}
		return err
	}

	sourceOrder := make([]uuid.UUID, 0, len(source.Items))
	for _, it := range source.Items {
		if it.ID != itemID {
			sourceOrder = append(sourceOrder, it.ID)
		}
	}
	if len(sourceOrder) == len(source.Items) {
		// The item moved away between the read and the lock.
		return conflictErrorf("item %s is no longer in module %s", itemID, item.ModuleID)
	}

	targetOrder := make([]uuid.UUID, 0, len(target.Items)+1)
	for _, it := range target.Items {
		targetOrder = append(targetOrder, it.ID)
	}
	targetOrder = append(targetOrder, itemID)

	if err := s.store.MoveItem(ctx, itemID, targetModuleID, sourceOrder, targetOrder); err != nil {
		return fmt.Errorf("failed to move item: %w", err)
	}
	return nil
}

func sameIDSet(current, submitted []uuid.UUID) bool {
	if len(current) != len(submitted) {
		return false
	}
	seen := make(map[uuid.UUID]bool, len(current))
	for _, id := range current {
		seen[id] = true
	}
	for _, id := range submitted {
		if !seen[id] {
			return false
		}
		delete(seen, id)
	}
	return len(seen) == 0
}

func sameOrder(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
