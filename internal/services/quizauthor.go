package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"courseloom-backend/internal/models"
)

// ErrStillReferenced is returned by QuizStore.DeleteQuiz when a content item
// still references the quiz at delete time.
var ErrStillReferenced = errors.New("still referenced")

// QuizStore is the persistence surface for quizzes and questions.
// CreateQuiz writes the quiz and all its questions atomically. PublishQuiz
// flips the quiz's publish flag and every referencing content item's flag in
// the same transaction; a reader must never observe them apart. DeleteQuiz
// checks for referencing content items inside the delete transaction and
// fails with ErrStillReferenced while any exist, so a reference attached
// concurrently can never be left dangling.
type QuizStore interface {
	CreateQuiz(ctx context.Context, q *models.Quiz) error
	GetQuiz(ctx context.Context, id uuid.UUID) (*models.Quiz, error)
	ListQuizzes(ctx context.Context, courseID uuid.UUID) ([]*models.Quiz, error)
	UpdateQuizMeta(ctx context.Context, q *models.Quiz) error
	UpdateQuestion(ctx context.Context, q *models.Question) error
	SetQuizReview(ctx context.Context, quizID uuid.UUID, needsReview bool) error
	PublishQuiz(ctx context.Context, quizID uuid.UUID) error
	DeleteQuiz(ctx context.Context, quizID uuid.UUID) error
}

// QuizAuthoringService orchestrates the quiz lifecycle: manual creation,
// RAG generation, per-question regeneration, edits, the publish gate, and
// duplication/deletion. Mutations on one quiz serialize on a per-quiz lock.
type QuizAuthoringService struct {
	store      QuizStore
	gateway    QuestionGenerator
	notify     *Notifier
	locks      *keyedLocks
	genTimeout time.Duration
}

func NewQuizAuthoringService(store QuizStore, gateway QuestionGenerator, notify *Notifier, genTimeout time.Duration) *QuizAuthoringService {
	if genTimeout <= 0 {
		genTimeout = 90 * time.Second
	}
	return &QuizAuthoringService{
		store:      store,
		gateway:    gateway,
		notify:     notify,
		locks:      newKeyedLocks(),
		genTimeout: genTimeout,
	}
}

func quizKey(id uuid.UUID) string { return "quiz:" + id.String() }

func (s *QuizAuthoringService) GetQuiz(ctx context.Context, quizID uuid.UUID) (*models.Quiz, error) {
	q, err := s.store.GetQuiz(ctx, quizID)
	if errors.Is(err, ErrNoRecord) {
		return nil, &NotFoundError{Kind: "quiz", ID: quizID}
	}
	return q, err
}

func (s *QuizAuthoringService) ListQuizzes(ctx context.Context, courseID uuid.UUID) ([]*models.Quiz, error) {
	return s.store.ListQuizzes(ctx, courseID)
}

// CreateManualQuiz validates the supplied questions against the metadata and
// creates an unpublished manual quiz. The question count must equal
// quiz_length exactly.
func (s *QuizAuthoringService) CreateManualQuiz(ctx context.Context, req models.CreateManualQuizRequest) (*models.Quiz, error) {
	meta, err := validateMeta(req.Meta)
	if err != nil {
		return nil, err
	}
	if len(req.Questions) != meta.QuizLength {
		return nil, validationErrorf("quiz_length is %d but %d questions were provided", meta.QuizLength, len(req.Questions))
	}

	for i, q := range req.Questions {
		if err := q.Normalize(); err != nil {
			return nil, validationErrorf("question %d: %v", i+1, err)
		}
		q.Position = i
		q.Citations = nil
		q.NeedsReview = false
	}

	quiz := &models.Quiz{
		CourseID:         req.CourseID,
		Title:            meta.Title,
		Difficulty:       meta.Difficulty,
		DueAt:            meta.DueAt,
		TimeLimitMinutes: meta.TimeLimitMinutes,
		AttemptsAllowed:  meta.AttemptsAllowed,
		QuizLength:       meta.QuizLength,
		Source:           models.SourceManual,
		Questions:        req.Questions,
	}
	if err := s.store.CreateQuiz(ctx, quiz); err != nil {
		return nil, fmt.Errorf("failed to create quiz: %w", err)
	}
	return quiz, nil
}

// GenerateQuiz asks the gateway for exactly quiz_length questions drawn from
// the selected documents. Nothing is written unless the whole batch arrives
// and validates; a timed-out generation leaves no half-written quiz.
func (s *QuizAuthoringService) GenerateQuiz(ctx context.Context, req models.GenerateQuizRequest) (*models.Quiz, error) {
	meta, err := validateMeta(req.Meta)
	if err != nil {
		return nil, err
	}
	if len(req.DocumentIDs) == 0 {
		return nil, &GenerationError{Reason: "no source documents selected"}
	}
	for _, qt := range req.QuestionTypes {
		if !models.ValidQuestionType(qt) {
			return nil, validationErrorf("unknown question type %q", qt)
		}
	}

	genCtx, cancel := context.WithTimeout(ctx, s.genTimeout)
	defer cancel()

	result, err := s.gateway.GenerateQuestions(genCtx, GenerationRequest{
		QuizLength:    meta.QuizLength,
		Difficulty:    meta.Difficulty,
		QuestionTypes: req.QuestionTypes,
		DocumentIDs:   req.DocumentIDs,
	})
	if err != nil {
		return nil, err
	}
	if len(result.Questions) != meta.QuizLength {
		return nil, &GenerationError{Reason: fmt.Sprintf("gateway returned %d questions, expected %d", len(result.Questions), meta.QuizLength)}
	}

	questions, err := draftsToQuestions(result.Questions, result.NeedsReview)
	if err != nil {
		return nil, err
	}

	quiz := &models.Quiz{
		CourseID:         req.CourseID,
		Title:            meta.Title,
		Difficulty:       meta.Difficulty,
		DueAt:            meta.DueAt,
		TimeLimitMinutes: meta.TimeLimitMinutes,
		AttemptsAllowed:  meta.AttemptsAllowed,
		QuizLength:       meta.QuizLength,
		Source:           models.SourceRAG,
		DocumentIDs:      req.DocumentIDs,
		Questions:        questions,
	}
	quiz.NeedsReview = recomputeReview(quiz)

	if err := s.store.CreateQuiz(ctx, quiz); err != nil {
		return nil, fmt.Errorf("failed to create quiz: %w", err)
	}

	s.notify.Publish(ctx, quiz.CourseID, AuthorEvent{Type: "quiz_generated", QuizID: quiz.ID})
	return quiz, nil
}

// RegenerateQuestion replaces one question in place with a fresh draft from
// the quiz's original source documents, preserving its id and position.
func (s *QuizAuthoringService) RegenerateQuestion(ctx context.Context, quizID, questionID uuid.UUID, difficulty string) (*models.Question, error) {
	unlock := s.locks.lock(quizKey(quizID))
	defer unlock()

	quiz, err := s.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if quiz.IsPublished {
		return nil, conflictErrorf("cannot edit a published quiz")
	}
	if len(quiz.DocumentIDs) == 0 {
		return nil, validationErrorf("quiz has no source documents to regenerate from")
	}

	question := findQuestion(quiz, questionID)
	if question == nil {
		return nil, &NotFoundError{Kind: "question", ID: questionID}
	}

	if difficulty == "" {
		difficulty = quiz.Difficulty
	}
	if !models.ValidDifficulty(difficulty) {
		return nil, validationErrorf("unknown difficulty %q", difficulty)
	}

	genCtx, cancel := context.WithTimeout(ctx, s.genTimeout)
	defer cancel()

	result, err := s.gateway.GenerateQuestions(genCtx, GenerationRequest{
		QuizLength:    1,
		Difficulty:    difficulty,
		QuestionTypes: []string{question.Type},
		DocumentIDs:   quiz.DocumentIDs,
	})
	if err != nil {
		return nil, err
	}
	if len(result.Questions) != 1 {
		return nil, &GenerationError{Reason: fmt.Sprintf("gateway returned %d questions, expected 1", len(result.Questions))}
	}

	draft := result.Questions[0]
	question.Text = draft.Text
	question.Type = draft.Type
	question.Options = draft.Options
	question.CorrectAnswer = draft.CorrectAnswer
	question.Explanation = draft.Explanation
	question.Citations = draft.Citations
	question.NeedsReview = draft.NeedsReview || result.NeedsReview || len(draft.Citations) == 0
	if err := question.Normalize(); err != nil {
		return nil, &GenerationError{Reason: fmt.Sprintf("gateway returned an invalid question: %v", err)}
	}

	if err := s.store.UpdateQuestion(ctx, question); err != nil {
		return nil, fmt.Errorf("failed to update question: %w", err)
	}
	if err := s.store.SetQuizReview(ctx, quizID, recomputeReview(quiz)); err != nil {
		return nil, fmt.Errorf("failed to update review flag: %w", err)
	}
	return question, nil
}

// UpdateQuestion applies a manual edit. Existing citations are kept; on a
// RAG quiz the edited question counts as reviewed only when the author
// explicitly reaffirms its citations.
func (s *QuizAuthoringService) UpdateQuestion(ctx context.Context, quizID, questionID uuid.UUID, req models.UpdateQuestionRequest) (*models.Question, error) {
	unlock := s.locks.lock(quizKey(quizID))
	defer unlock()

	quiz, err := s.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if quiz.IsPublished {
		return nil, conflictErrorf("cannot edit a published quiz")
	}

	question := findQuestion(quiz, questionID)
	if question == nil {
		return nil, &NotFoundError{Kind: "question", ID: questionID}
	}

	if req.Text != nil {
		question.Text = *req.Text
	}
	if req.Type != nil {
		question.Type = *req.Type
	}
	if req.Options != nil {
		question.Options = *req.Options
	}
	if req.CorrectAnswer != nil {
		question.CorrectAnswer = *req.CorrectAnswer
	}
	if req.Points != nil {
		question.Points = *req.Points
	}
	if req.Explanation != nil {
		question.Explanation = *req.Explanation
	}
	if quiz.Source == models.SourceRAG {
		question.NeedsReview = !req.ReaffirmCitations
	}

	if err := question.Normalize(); err != nil {
		return nil, validationErrorf("%v", err)
	}

	if err := s.store.UpdateQuestion(ctx, question); err != nil {
		return nil, fmt.Errorf("failed to update question: %w", err)
	}
	if err := s.store.SetQuizReview(ctx, quizID, recomputeReview(quiz)); err != nil {
		return nil, fmt.Errorf("failed to update review flag: %w", err)
	}
	return question, nil
}

// UpdateQuizMeta edits draft quiz metadata. Shrinking or growing quiz_length
// without matching question edits will block a later publish.
func (s *QuizAuthoringService) UpdateQuizMeta(ctx context.Context, quizID uuid.UUID, meta models.QuizMeta) (*models.Quiz, error) {
	unlock := s.locks.lock(quizKey(quizID))
	defer unlock()

	quiz, err := s.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if quiz.IsPublished {
		return nil, conflictErrorf("cannot edit a published quiz")
	}

	validated, err := validateMeta(meta)
	if err != nil {
		return nil, err
	}
	quiz.Title = validated.Title
	quiz.Difficulty = validated.Difficulty
	quiz.DueAt = validated.DueAt
	quiz.TimeLimitMinutes = validated.TimeLimitMinutes
	quiz.AttemptsAllowed = validated.AttemptsAllowed
	quiz.QuizLength = validated.QuizLength

	if err := s.store.UpdateQuizMeta(ctx, quiz); err != nil {
		return nil, fmt.Errorf("failed to update quiz: %w", err)
	}
	return quiz, nil
}

// Publish moves a draft to published. The quiz_length equality check is
// never overridable; the citation-review gate yields to forceOverride. On
// success every content item referencing the quiz is published in the same
// transaction.
func (s *QuizAuthoringService) Publish(ctx context.Context, quizID uuid.UUID, forceOverride bool) (*models.Quiz, error) {
	unlock := s.locks.lock(quizKey(quizID))
	defer unlock()

	quiz, err := s.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if quiz.IsPublished {
		return quiz, nil
	}

	if len(quiz.Questions) != quiz.QuizLength {
		return nil, validationErrorf("quiz has %d questions but quiz_length is %d", len(quiz.Questions), quiz.QuizLength)
	}
	if recomputeReview(quiz) && !forceOverride {
		return nil, &PublishBlockedError{QuizID: quizID}
	}

	if err := s.store.PublishQuiz(ctx, quizID); err != nil {
		return nil, fmt.Errorf("failed to publish quiz: %w", err)
	}
	quiz.IsPublished = true
	quiz.NeedsReview = false

	s.notify.Publish(ctx, quiz.CourseID, AuthorEvent{Type: "quiz_published", QuizID: quizID})
	return quiz, nil
}

// DuplicateQuiz deep-copies the quiz and its questions into a new
// unpublished draft. Citations are copied as references, not re-verified.
func (s *QuizAuthoringService) DuplicateQuiz(ctx context.Context, quizID uuid.UUID) (*models.Quiz, error) {
	unlock := s.locks.lock(quizKey(quizID))
	defer unlock()

	quiz, err := s.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}

	dup := &models.Quiz{
		CourseID:         quiz.CourseID,
		Title:            quiz.Title + " (copy)",
		Difficulty:       quiz.Difficulty,
		DueAt:            quiz.DueAt,
		TimeLimitMinutes: quiz.TimeLimitMinutes,
		AttemptsAllowed:  quiz.AttemptsAllowed,
		QuizLength:       quiz.QuizLength,
		Source:           quiz.Source,
		NeedsReview:      quiz.NeedsReview,
		DocumentIDs:      append([]uuid.UUID(nil), quiz.DocumentIDs...),
	}
	for _, q := range quiz.Questions {
		dup.Questions = append(dup.Questions, &models.Question{
			Position:      q.Position,
			Text:          q.Text,
			Type:          q.Type,
			Options:       append([]string(nil), q.Options...),
			CorrectAnswer: q.CorrectAnswer,
			Points:        q.Points,
			Explanation:   q.Explanation,
			Citations:     append([]string(nil), q.Citations...),
			NeedsReview:   q.NeedsReview,
		})
	}

	if err := s.store.CreateQuiz(ctx, dup); err != nil {
		return nil, fmt.Errorf("failed to duplicate quiz: %w", err)
	}
	return dup, nil
}

// DeleteQuiz removes the quiz and its questions. The delete is rejected
// while any content item still references the quiz; the caller must detach
// or delete those items first. The reference check lives inside the store's
// delete transaction, so an item attached concurrently blocks the delete
// instead of being left dangling.
func (s *QuizAuthoringService) DeleteQuiz(ctx context.Context, quizID uuid.UUID) error {
	unlock := s.locks.lock(quizKey(quizID))
	defer unlock()

	if _, err := s.GetQuiz(ctx, quizID); err != nil {
		return err
	}

	err := s.store.DeleteQuiz(ctx, quizID)
	if errors.Is(err, ErrStillReferenced) {
		return conflictErrorf("quiz is still referenced by a content item; detach it first")
	}
	if errors.Is(err, ErrNoRecord) {
		return &NotFoundError{Kind: "quiz", ID: quizID}
	}
	if err != nil {
		return fmt.Errorf("failed to delete quiz: %w", err)
	}
	return nil
}

// recomputeReview derives the quiz-level review flag from current question
// state. It is never stored independently of a recompute, so it cannot
// drift: a RAG quiz needs review while any question lacks citations or
// carries the low-confidence flag.
func recomputeReview(quiz *models.Quiz) bool {
	for _, q := range quiz.Questions {
		if q.NeedsReview {
			return true
		}
		if quiz.Source == models.SourceRAG && len(q.Citations) == 0 {
			return true
		}
	}
	return false
}

func findQuestion(quiz *models.Quiz, questionID uuid.UUID) *models.Question {
	for _, q := range quiz.Questions {
		if q.ID == questionID {
			return q
		}
	}
	return nil
}

func draftsToQuestions(drafts []QuestionDraft, quizFlagged bool) ([]*models.Question, error) {
	questions := make([]*models.Question, len(drafts))
	for i, draft := range drafts {
		q := &models.Question{
			Position:      i,
			Text:          draft.Text,
			Type:          draft.Type,
			Options:       draft.Options,
			CorrectAnswer: draft.CorrectAnswer,
			Explanation:   draft.Explanation,
			Citations:     draft.Citations,
			NeedsReview:   draft.NeedsReview || quizFlagged || len(draft.Citations) == 0,
		}
		if err := q.Normalize(); err != nil {
			return nil, &GenerationError{Reason: fmt.Sprintf("gateway returned an invalid question (%d): %v", i+1, err)}
		}
		questions[i] = q
	}
	return questions, nil
}

func validateMeta(meta models.QuizMeta) (models.QuizMeta, error) {
	meta.Title = strings.TrimSpace(meta.Title)
	if meta.Title == "" {
		return meta, validationErrorf("quiz title is required")
	}
	if meta.QuizLength <= 0 {
		return meta, validationErrorf("quiz_length must be positive")
	}
	if meta.Difficulty == "" {
		meta.Difficulty = models.DifficultyMedium
	}
	if !models.ValidDifficulty(meta.Difficulty) {
		return meta, validationErrorf("unknown difficulty %q", meta.Difficulty)
	}
	if meta.TimeLimitMinutes < 0 {
		return meta, validationErrorf("time limit cannot be negative")
	}
	if meta.AttemptsAllowed <= 0 {
		meta.AttemptsAllowed = 1
	}
	return meta, nil
}
