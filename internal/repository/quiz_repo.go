package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"courseloom-backend/internal/models"
	"courseloom-backend/internal/services"
)

type QuizRepo struct {
	pool *pgxpool.Pool
}

func NewQuizRepo(pool *pgxpool.Pool) *QuizRepo {
	return &QuizRepo{pool: pool}
}

// CreateQuiz inserts the quiz and all its questions in one transaction.
func (r *QuizRepo) CreateQuiz(ctx context.Context, q *models.Quiz) error {
	q.ID = uuid.New()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO quizzes (id, course_id, title, difficulty, due_at, time_limit_minutes, attempts_allowed, quiz_length, source, is_published, needs_review, document_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING created_at`

	err = tx.QueryRow(ctx, query,
		q.ID, q.CourseID, q.Title, q.Difficulty, q.DueAt, q.TimeLimitMinutes,
		q.AttemptsAllowed, q.QuizLength, q.Source, q.IsPublished, q.NeedsReview, q.DocumentIDs,
	).Scan(&q.CreatedAt)
	if err != nil {
		return err
	}

	for _, question := range q.Questions {
		question.ID = uuid.New()
		question.QuizID = q.ID

		_, err := tx.Exec(ctx,
			`INSERT INTO questions (id, quiz_id, position, question_text, question_type, options, correct_answer, points, explanation, citations, needs_review)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			question.ID, question.QuizID, question.Position, question.Text, question.Type,
			question.Options, question.CorrectAnswer, question.Points, question.Explanation,
			question.Citations, question.NeedsReview,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *QuizRepo) GetQuiz(ctx context.Context, id uuid.UUID) (*models.Quiz, error) {
	q := &models.Quiz{}
	query := `SELECT id, course_id, title, difficulty, due_at, time_limit_minutes, attempts_allowed, quiz_length, source, is_published, needs_review, document_ids, created_at
		FROM quizzes WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&q.ID, &q.CourseID, &q.Title, &q.Difficulty, &q.DueAt, &q.TimeLimitMinutes,
		&q.AttemptsAllowed, &q.QuizLength, &q.Source, &q.IsPublished, &q.NeedsReview,
		&q.DocumentIDs, &q.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, services.ErrNoRecord
	}
	if err != nil {
		return nil, err
	}

	questions, err := r.listQuestions(ctx, id)
	if err != nil {
		return nil, err
	}
	q.Questions = questions
	return q, nil
}

func (r *QuizRepo) ListQuizzes(ctx context.Context, courseID uuid.UUID) ([]*models.Quiz, error) {
	query := `SELECT id, course_id, title, difficulty, due_at, time_limit_minutes, attempts_allowed, quiz_length, source, is_published, needs_review, document_ids, created_at
		FROM quizzes WHERE course_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quizzes []*models.Quiz
	for rows.Next() {
		q := &models.Quiz{}
		err := rows.Scan(
			&q.ID, &q.CourseID, &q.Title, &q.Difficulty, &q.DueAt, &q.TimeLimitMinutes,
			&q.AttemptsAllowed, &q.QuizLength, &q.Source, &q.IsPublished, &q.NeedsReview,
			&q.DocumentIDs, &q.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		quizzes = append(quizzes, q)
	}
	return quizzes, rows.Err()
}

func (r *QuizRepo) listQuestions(ctx context.Context, quizID uuid.UUID) ([]*models.Question, error) {
	query := `SELECT id, quiz_id, position, question_text, question_type, options, correct_answer, points, explanation, citations, needs_review
		FROM questions WHERE quiz_id = $1 ORDER BY position`

	rows, err := r.pool.Query(ctx, query, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []*models.Question
	for rows.Next() {
		q := &models.Question{}
		err := rows.Scan(
			&q.ID, &q.QuizID, &q.Position, &q.Text, &q.Type, &q.Options,
			&q.CorrectAnswer, &q.Points, &q.Explanation, &q.Citations, &q.NeedsReview,
		)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (r *QuizRepo) UpdateQuizMeta(ctx context.Context, q *models.Quiz) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE quizzes SET title = $1, difficulty = $2, due_at = $3, time_limit_minutes = $4, attempts_allowed = $5, quiz_length = $6
		 WHERE id = $7`,
		q.Title, q.Difficulty, q.DueAt, q.TimeLimitMinutes, q.AttemptsAllowed, q.QuizLength, q.ID,
	)
	return err
}

func (r *QuizRepo) UpdateQuestion(ctx context.Context, q *models.Question) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE questions SET question_text = $1, question_type = $2, options = $3, correct_answer = $4, points = $5, explanation = $6, citations = $7, needs_review = $8
		 WHERE id = $9`,
		q.Text, q.Type, q.Options, q.CorrectAnswer, q.Points, q.Explanation, q.Citations, q.NeedsReview, q.ID,
	)
	return err
}

func (r *QuizRepo) SetQuizReview(ctx context.Context, quizID uuid.UUID, needsReview bool) error {
	_, err := r.pool.Exec(ctx, "UPDATE quizzes SET needs_review = $1 WHERE id = $2", needsReview, quizID)
	return err
}

// PublishQuiz marks the quiz published and synchronizes every content item
// referencing it in the same transaction, so a reader never sees the two
// flags disagree.
func (r *QuizRepo) PublishQuiz(ctx context.Context, quizID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		"UPDATE quizzes SET is_published = TRUE, needs_review = FALSE WHERE id = $1", quizID,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		"UPDATE content_items SET is_published = TRUE WHERE assessment_id = $1", quizID,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// DeleteQuiz removes the quiz and its questions. The referencing-item count
// runs inside the same transaction, with the quiz row locked, so an item
// attached between an earlier read and the delete still aborts it.
func (r *QuizRepo) DeleteQuiz(ctx context.Context, quizID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var id uuid.UUID
	err = tx.QueryRow(ctx, "SELECT id FROM quizzes WHERE id = $1 FOR UPDATE", quizID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return services.ErrNoRecord
	}
	if err != nil {
		return err
	}

	var refs int
	if err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM content_items WHERE assessment_id = $1", quizID,
	).Scan(&refs); err != nil {
		return err
	}
	if refs > 0 {
		return services.ErrStillReferenced
	}

	if _, err := tx.Exec(ctx, "DELETE FROM questions WHERE quiz_id = $1", quizID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "DELETE FROM quizzes WHERE id = $1", quizID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
