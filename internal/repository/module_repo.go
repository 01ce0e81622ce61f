package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"courseloom-backend/internal/models"
	"courseloom-backend/internal/services"
)

type ModuleRepo struct {
	pool *pgxpool.Pool
}

func NewModuleRepo(pool *pgxpool.Pool) *ModuleRepo {
	return &ModuleRepo{pool: pool}
}

func (r *ModuleRepo) CreateModule(ctx context.Context, m *models.Module) error {
	m.ID = uuid.New()

	query := `INSERT INTO modules (id, course_id, title, position, is_published)
		VALUES ($1, $2, $3, $4, $5) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		m.ID, m.CourseID, m.Title, m.Position, m.IsPublished,
	).Scan(&m.CreatedAt)
}

func (r *ModuleRepo) GetModule(ctx context.Context, id uuid.UUID) (*models.Module, error) {
	m := &models.Module{}
	query := `SELECT id, course_id, title, position, is_published, created_at
		FROM modules WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&m.ID, &m.CourseID, &m.Title, &m.Position, &m.IsPublished, &m.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, services.ErrNoRecord
	}
	if err != nil {
		return nil, err
	}

	items, err := r.listItems(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Items = items
	return m, nil
}

func (r *ModuleRepo) ListModules(ctx context.Context, courseID uuid.UUID) ([]*models.Module, error) {
	query := `SELECT id, course_id, title, position, is_published, created_at
		FROM modules WHERE course_id = $1 ORDER BY position`

	rows, err := r.pool.Query(ctx, query, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var modules []*models.Module
	for rows.Next() {
		m := &models.Module{}
		err := rows.Scan(&m.ID, &m.CourseID, &m.Title, &m.Position, &m.IsPublished, &m.CreatedAt)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

func (r *ModuleRepo) SetModulePublished(ctx context.Context, id uuid.UUID, published bool) error {
	_, err := r.pool.Exec(ctx, "UPDATE modules SET is_published = $1 WHERE id = $2", published, id)
	return err
}

func (r *ModuleRepo) CreateItem(ctx context.Context, item *models.ContentItem) error {
	item.ID = uuid.New()

	query := `INSERT INTO content_items (id, module_id, title, item_type, position, is_published, source_id, content_type, assessment_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		item.ID, item.ModuleID, item.Title, item.ItemType, item.Position,
		item.IsPublished, item.SourceID, item.ContentType, item.AssessmentID,
	).Scan(&item.CreatedAt)
}

func (r *ModuleRepo) GetItem(ctx context.Context, id uuid.UUID) (*models.ContentItem, error) {
	item := &models.ContentItem{}
	query := `SELECT id, module_id, title, item_type, position, is_published, source_id, content_type, assessment_id, created_at
		FROM content_items WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&item.ID, &item.ModuleID, &item.Title, &item.ItemType, &item.Position,
		&item.IsPublished, &item.SourceID, &item.ContentType, &item.AssessmentID, &item.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, services.ErrNoRecord
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// AssessmentPublished reports the publish state of a quiz assessment.
// Assessments owned by other services are not in the quizzes table and
// come back as ErrNoRecord.
func (r *ModuleRepo) AssessmentPublished(ctx context.Context, assessmentID uuid.UUID) (bool, error) {
	var published bool
	err := r.pool.QueryRow(ctx,
		"SELECT is_published FROM quizzes WHERE id = $1", assessmentID,
	).Scan(&published)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, services.ErrNoRecord
	}
	return published, err
}

func (r *ModuleRepo) listItems(ctx context.Context, moduleID uuid.UUID) ([]*models.ContentItem, error) {
	query := `SELECT id, module_id, title, item_type, position, is_published, source_id, content_type, assessment_id, created_at
		FROM content_items WHERE module_id = $1 ORDER BY position`

	rows, err := r.pool.Query(ctx, query, moduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.ContentItem
	for rows.Next() {
		item := &models.ContentItem{}
		err := rows.Scan(
			&item.ID, &item.ModuleID, &item.Title, &item.ItemType, &item.Position,
			&item.IsPublished, &item.SourceID, &item.ContentType, &item.AssessmentID, &item.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateModulePositions rewrites positions to match orderedIDs inside one
// transaction so a failed reorder never leaves a gap.
func (r *ModuleRepo) UpdateModulePositions(ctx context.Context, courseID uuid.UUID, orderedIDs []uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i, id := range orderedIDs {
		tag, err := tx.Exec(ctx,
			"UPDATE modules SET position = $1 WHERE id = $2 AND course_id = $3",
			i, id, courseID,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("module %s is not part of course %s", id, courseID)
		}
	}

	return tx.Commit(ctx)
}

func (r *ModuleRepo) UpdateItemPositions(ctx context.Context, moduleID uuid.UUID, orderedIDs []uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i, id := range orderedIDs {
		tag, err := tx.Exec(ctx,
			"UPDATE content_items SET position = $1 WHERE id = $2 AND module_id = $3",
			i, id, moduleID,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("item %s is not part of module %s", id, moduleID)
		}
	}

	return tx.Commit(ctx)
}

// MoveItem reassigns the item's module and re-densifies both sequences in
// one transaction: either the whole move commits or none of it does.
func (r *ModuleRepo) MoveItem(ctx context.Context, itemID, targetModuleID uuid.UUID, sourceOrder, targetOrder []uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		"UPDATE content_items SET module_id = $1 WHERE id = $2",
		targetModuleID, itemID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("item %s does not exist", itemID)
	}

	for i, id := range sourceOrder {
		if _, err := tx.Exec(ctx, "UPDATE content_items SET position = $1 WHERE id = $2", i, id); err != nil {
			return err
		}
	}
	for i, id := range targetOrder {
		if _, err := tx.Exec(ctx, "UPDATE content_items SET position = $1 WHERE id = $2", i, id); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
