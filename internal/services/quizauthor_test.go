package services

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"courseloom-backend/internal/models"
)

// fakeQuizStore is an in-memory QuizStore. PublishQuiz mirrors the
// production transaction: the quiz flag and every referencing item's flag
// flip together.
type fakeQuizStore struct {
	quizzes  map[uuid.UUID]*models.Quiz
	itemRefs map[uuid.UUID][]*models.ContentItem
}

func newFakeQuizStore() *fakeQuizStore {
	return &fakeQuizStore{
		quizzes:  make(map[uuid.UUID]*models.Quiz),
		itemRefs: make(map[uuid.UUID][]*models.ContentItem),
	}
}

func cloneQuiz(q *models.Quiz) *models.Quiz {
	clone := *q
	clone.DocumentIDs = append([]uuid.UUID(nil), q.DocumentIDs...)
	clone.Questions = nil
	for _, question := range q.Questions {
		qc := *question
		qc.Options = append([]string(nil), question.Options...)
		qc.Citations = append([]string(nil), question.Citations...)
		clone.Questions = append(clone.Questions, &qc)
	}
	return &clone
}

func (f *fakeQuizStore) CreateQuiz(ctx context.Context, q *models.Quiz) error {
	q.ID = uuid.New()
	for _, question := range q.Questions {
		question.ID = uuid.New()
		question.QuizID = q.ID
	}
	f.quizzes[q.ID] = cloneQuiz(q)
	return nil
}

func (f *fakeQuizStore) GetQuiz(ctx context.Context, id uuid.UUID) (*models.Quiz, error) {
	q, ok := f.quizzes[id]
	if !ok {
		return nil, ErrNoRecord
	}
	return cloneQuiz(q), nil
}

func (f *fakeQuizStore) ListQuizzes(ctx context.Context, courseID uuid.UUID) ([]*models.Quiz, error) {
	var quizzes []*models.Quiz
	for _, q := range f.quizzes {
		if q.CourseID == courseID {
			quizzes = append(quizzes, cloneQuiz(q))
		}
	}
	return quizzes, nil
}

func (f *fakeQuizStore) UpdateQuizMeta(ctx context.Context, q *models.Quiz) error {
	stored, ok := f.quizzes[q.ID]
	if !ok {
		return ErrNoRecord
	}
	stored.Title = q.Title
	stored.Difficulty = q.Difficulty
	stored.DueAt = q.DueAt
	stored.TimeLimitMinutes = q.TimeLimitMinutes
	stored.AttemptsAllowed = q.AttemptsAllowed
	stored.QuizLength = q.QuizLength
	return nil
}

func (f *fakeQuizStore) UpdateQuestion(ctx context.Context, q *models.Question) error {
	stored, ok := f.quizzes[q.QuizID]
	if !ok {
		return ErrNoRecord
	}
	for i, question := range stored.Questions {
		if question.ID == q.ID {
			qc := *q
			qc.Options = append([]string(nil), q.Options...)
			qc.Citations = append([]string(nil), q.Citations...)
			stored.Questions[i] = &qc
			return nil
		}
	}
	return ErrNoRecord
}

func (f *fakeQuizStore) SetQuizReview(ctx context.Context, quizID uuid.UUID, needsReview bool) error {
	stored, ok := f.quizzes[quizID]
	if !ok {
		return ErrNoRecord
	}
	stored.NeedsReview = needsReview
	return nil
}

func (f *fakeQuizStore) PublishQuiz(ctx context.Context, quizID uuid.UUID) error {
	stored, ok := f.quizzes[quizID]
	if !ok {
		return ErrNoRecord
	}
	stored.IsPublished = true
	stored.NeedsReview = false
	for _, item := range f.itemRefs[quizID] {
		item.IsPublished = true
	}
	return nil
}

func (f *fakeQuizStore) DeleteQuiz(ctx context.Context, quizID uuid.UUID) error {
	if _, ok := f.quizzes[quizID]; !ok {
		return ErrNoRecord
	}
	if len(f.itemRefs[quizID]) > 0 {
		return ErrStillReferenced
	}
	delete(f.quizzes, quizID)
	return nil
}

// fakeGateway returns a canned generation result.
type fakeGateway struct {
	result  *GenerationResult
	err     error
	lastReq GenerationRequest
	calls   int
}

func (f *fakeGateway) GenerateQuestions(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newQuizService(store QuizStore, gateway *fakeGateway) *QuizAuthoringService {
	return NewQuizAuthoringService(store, gateway, nil, 0)
}

func mcqQuestion(text string) *models.Question {
	return &models.Question{
		Text:          text,
		Type:          models.QuestionMCQ,
		Options:       []string{"a", "b", "c", "d"},
		CorrectAnswer: "b",
		Points:        1,
	}
}

func mcqDraft(text string, citations []string) QuestionDraft {
	return QuestionDraft{
		Text:          text,
		Type:          models.QuestionMCQ,
		Options:       []string{"a", "b", "c", "d"},
		CorrectAnswer: "b",
		Citations:     citations,
	}
}

func defaultMeta(length int) models.QuizMeta {
	return models.QuizMeta{Title: "Week 3 Quiz", QuizLength: length}
}

func TestCreateManualQuizLengthInvariant(t *testing.T) {
	tests := []struct {
		name      string
		length    int
		questions int
		wantErr   bool
	}{
		{"exact match", 3, 3, false},
		{"too few", 3, 2, true},
		{"too many", 2, 3, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := newQuizService(newFakeQuizStore(), &fakeGateway{})
			req := models.CreateManualQuizRequest{
				CourseID: uuid.New(),
				Meta:     defaultMeta(tc.length),
			}
			for i := 0; i < tc.questions; i++ {
				req.Questions = append(req.Questions, mcqQuestion("q"))
			}

			quiz, err := svc.CreateManualQuiz(context.Background(), req)
			if tc.wantErr {
				var validation *ValidationError
				if !errors.As(err, &validation) {
					t.Errorf("Expected ValidationError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if quiz.Source != models.SourceManual {
				t.Errorf("Expected manual source, got %q", quiz.Source)
			}
			if quiz.IsPublished || quiz.NeedsReview {
				t.Error("New manual quiz must be an unflagged draft")
			}
			for i, q := range quiz.Questions {
				if q.Position != i {
					t.Errorf("Question %d has position %d", i, q.Position)
				}
				if q.Citations != nil {
					t.Error("Manual questions must carry no citations")
				}
			}
		})
	}
}

func TestGenerateQuizReviewDerivation(t *testing.T) {
	tests := []struct {
		name       string
		drafts     []QuestionDraft
		batchFlag  bool
		wantReview bool
	}{
		{
			"all cited",
			[]QuestionDraft{mcqDraft("q1", []string{"doc:a#0"}), mcqDraft("q2", []string{"doc:a#1"})},
			false,
			false,
		},
		{
			"one uncited",
			[]QuestionDraft{mcqDraft("q1", []string{"doc:a#0"}), mcqDraft("q2", nil)},
			false,
			true,
		},
		{
			"gateway flagged batch",
			[]QuestionDraft{mcqDraft("q1", []string{"doc:a#0"}), mcqDraft("q2", []string{"doc:a#1"})},
			true,
			true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gateway := &fakeGateway{result: &GenerationResult{Questions: tc.drafts, NeedsReview: tc.batchFlag}}
			svc := newQuizService(newFakeQuizStore(), gateway)

			quiz, err := svc.GenerateQuiz(context.Background(), models.GenerateQuizRequest{
				CourseID:    uuid.New(),
				Meta:        defaultMeta(len(tc.drafts)),
				DocumentIDs: []uuid.UUID{uuid.New()},
			})
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if quiz.NeedsReview != tc.wantReview {
				t.Errorf("Expected needs_review=%v, got %v", tc.wantReview, quiz.NeedsReview)
			}
			if quiz.Source != models.SourceRAG {
				t.Errorf("Expected rag source, got %q", quiz.Source)
			}
		})
	}
}

func TestGenerateQuizCountMismatch(t *testing.T) {
	gateway := &fakeGateway{result: &GenerationResult{
		Questions: []QuestionDraft{mcqDraft("only one", []string{"doc:a#0"})},
	}}
	store := newFakeQuizStore()
	svc := newQuizService(store, gateway)

	_, err := svc.GenerateQuiz(context.Background(), models.GenerateQuizRequest{
		CourseID:    uuid.New(),
		Meta:        defaultMeta(3),
		DocumentIDs: []uuid.UUID{uuid.New()},
	})
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("Expected GenerationError, got %v", err)
	}
	if len(store.quizzes) != 0 {
		t.Error("Failed generation must not leave a partial quiz behind")
	}
}

func TestGenerateQuizNoDocuments(t *testing.T) {
	svc := newQuizService(newFakeQuizStore(), &fakeGateway{})

	_, err := svc.GenerateQuiz(context.Background(), models.GenerateQuizRequest{
		CourseID: uuid.New(),
		Meta:     defaultMeta(2),
	})
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Errorf("Expected GenerationError, got %v", err)
	}
}

func TestPublishReviewGate(t *testing.T) {
	store := newFakeQuizStore()
	gateway := &fakeGateway{result: &GenerationResult{
		Questions: []QuestionDraft{mcqDraft("q1", []string{"doc:a#0"}), mcqDraft("q2", nil)},
	}}
	svc := newQuizService(store, gateway)

	quiz, err := svc.GenerateQuiz(context.Background(), models.GenerateQuizRequest{
		CourseID:    uuid.New(),
		Meta:        defaultMeta(2),
		DocumentIDs: []uuid.UUID{uuid.New()},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	item := &models.ContentItem{ID: uuid.New(), ItemType: models.ItemTypeQuiz, AssessmentID: &quiz.ID}
	store.itemRefs[quiz.ID] = []*models.ContentItem{item}

	_, err = svc.Publish(context.Background(), quiz.ID, false)
	var blocked *PublishBlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("Expected PublishBlockedError, got %v", err)
	}
	if item.IsPublished {
		t.Fatal("Blocked publish must not touch referencing items")
	}

	published, err := svc.Publish(context.Background(), quiz.ID, true)
	if err != nil {
		t.Fatalf("Force publish failed: %v", err)
	}
	if !published.IsPublished || published.NeedsReview {
		t.Errorf("Expected published quiz with cleared review flag, got %+v", published)
	}
	if !item.IsPublished {
		t.Error("Publish must flip referencing content items in the same write")
	}
}

func TestPublishLengthInvariantNotOverridable(t *testing.T) {
	store := newFakeQuizStore()
	svc := newQuizService(store, &fakeGateway{})

	quiz, err := svc.CreateManualQuiz(context.Background(), models.CreateManualQuizRequest{
		CourseID:  uuid.New(),
		Meta:      defaultMeta(2),
		Questions: []*models.Question{mcqQuestion("q1"), mcqQuestion("q2")},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// Grow quiz_length without adding questions.
	meta := defaultMeta(5)
	if _, err := svc.UpdateQuizMeta(context.Background(), quiz.ID, meta); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for _, force := range []bool{false, true} {
		_, err := svc.Publish(context.Background(), quiz.ID, force)
		var validation *ValidationError
		if !errors.As(err, &validation) {
			t.Errorf("force=%v: expected ValidationError, got %v", force, err)
		}
	}
}

func TestPublishIdempotent(t *testing.T) {
	store := newFakeQuizStore()
	svc := newQuizService(store, &fakeGateway{})

	quiz, _ := svc.CreateManualQuiz(context.Background(), models.CreateManualQuizRequest{
		CourseID:  uuid.New(),
		Meta:      defaultMeta(1),
		Questions: []*models.Question{mcqQuestion("q1")},
	})

	if _, err := svc.Publish(context.Background(), quiz.ID, false); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	again, err := svc.Publish(context.Background(), quiz.ID, false)
	if err != nil {
		t.Fatalf("Republish of a published quiz must succeed, got %v", err)
	}
	if !again.IsPublished {
		t.Error("Expected quiz to stay published")
	}
}

func TestUpdateQuestionReaffirmFlow(t *testing.T) {
	store := newFakeQuizStore()
	gateway := &fakeGateway{result: &GenerationResult{
		Questions: []QuestionDraft{mcqDraft("q1", []string{"doc:a#0"})},
	}}
	svc := newQuizService(store, gateway)

	quiz, err := svc.GenerateQuiz(context.Background(), models.GenerateQuizRequest{
		CourseID:    uuid.New(),
		Meta:        defaultMeta(1),
		DocumentIDs: []uuid.UUID{uuid.New()},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	questionID := quiz.Questions[0].ID
	newText := "What is the time complexity of a heap insert?"

	// An edit without reaffirmation flags the question and the quiz.
	question, err := svc.UpdateQuestion(context.Background(), quiz.ID, questionID, models.UpdateQuestionRequest{Text: &newText})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !question.NeedsReview {
		t.Error("Edited RAG question must be flagged without reaffirmed citations")
	}
	if len(question.Citations) == 0 {
		t.Error("Edit must keep existing citations")
	}
	stored, _ := store.GetQuiz(context.Background(), quiz.ID)
	if !stored.NeedsReview {
		t.Error("Quiz review flag must follow the flagged question")
	}

	// Reaffirming clears both flags again.
	question, err = svc.UpdateQuestion(context.Background(), quiz.ID, questionID, models.UpdateQuestionRequest{ReaffirmCitations: true})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if question.NeedsReview {
		t.Error("Reaffirmed question must not stay flagged")
	}
	stored, _ = store.GetQuiz(context.Background(), quiz.ID)
	if stored.NeedsReview {
		t.Error("Quiz review flag must clear once every question is reviewed")
	}
}

func TestUpdateQuestionOnPublishedQuiz(t *testing.T) {
	store := newFakeQuizStore()
	svc := newQuizService(store, &fakeGateway{})

	quiz, _ := svc.CreateManualQuiz(context.Background(), models.CreateManualQuizRequest{
		CourseID:  uuid.New(),
		Meta:      defaultMeta(1),
		Questions: []*models.Question{mcqQuestion("q1")},
	})
	if _, err := svc.Publish(context.Background(), quiz.ID, false); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	text := "edited"
	_, err := svc.UpdateQuestion(context.Background(), quiz.ID, quiz.Questions[0].ID, models.UpdateQuestionRequest{Text: &text})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Errorf("Expected ConflictError, got %v", err)
	}
}

func TestRegenerateQuestion(t *testing.T) {
	store := newFakeQuizStore()
	gateway := &fakeGateway{result: &GenerationResult{
		Questions: []QuestionDraft{mcqDraft("original", []string{"doc:a#0"}), mcqDraft("keep me", []string{"doc:a#1"})},
	}}
	svc := newQuizService(store, gateway)

	quiz, err := svc.GenerateQuiz(context.Background(), models.GenerateQuizRequest{
		CourseID:    uuid.New(),
		Meta:        defaultMeta(2),
		DocumentIDs: []uuid.UUID{uuid.New()},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	target := quiz.Questions[0]

	gateway.result = &GenerationResult{Questions: []QuestionDraft{mcqDraft("regenerated", []string{"doc:a#3"})}}
	question, err := svc.RegenerateQuestion(context.Background(), quiz.ID, target.ID, "hard")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if question.ID != target.ID || question.Position != target.Position {
		t.Error("Regeneration must preserve the question's id and position")
	}
	if question.Text != "regenerated" {
		t.Errorf("Expected regenerated text, got %q", question.Text)
	}
	if gateway.lastReq.QuizLength != 1 || gateway.lastReq.Difficulty != "hard" {
		t.Errorf("Unexpected gateway request: %+v", gateway.lastReq)
	}
	if len(gateway.lastReq.DocumentIDs) != len(quiz.DocumentIDs) {
		t.Error("Regeneration must reuse the quiz's source documents")
	}

	stored, _ := store.GetQuiz(context.Background(), quiz.ID)
	if stored.NeedsReview {
		t.Error("Fully cited quiz must not be flagged after regeneration")
	}
}

func TestDuplicateQuizIsIndependent(t *testing.T) {
	store := newFakeQuizStore()
	svc := newQuizService(store, &fakeGateway{})

	quiz, _ := svc.CreateManualQuiz(context.Background(), models.CreateManualQuizRequest{
		CourseID:  uuid.New(),
		Meta:      defaultMeta(2),
		Questions: []*models.Question{mcqQuestion("q1"), mcqQuestion("q2")},
	})
	if _, err := svc.Publish(context.Background(), quiz.ID, false); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	dup, err := svc.DuplicateQuiz(context.Background(), quiz.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if dup.ID == quiz.ID {
		t.Fatal("Duplicate must get a fresh id")
	}
	if dup.Title != quiz.Title+" (copy)" {
		t.Errorf("Unexpected duplicate title %q", dup.Title)
	}
	if dup.IsPublished {
		t.Error("Duplicate of a published quiz must start as a draft")
	}
	if len(dup.Questions) != len(quiz.Questions) {
		t.Fatalf("Expected %d questions, got %d", len(quiz.Questions), len(dup.Questions))
	}

	// Editing the duplicate must not touch the original.
	text := "edited copy"
	if _, err := svc.UpdateQuestion(context.Background(), dup.ID, dup.Questions[0].ID, models.UpdateQuestionRequest{Text: &text}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	original, _ := store.GetQuiz(context.Background(), quiz.ID)
	if original.Questions[0].Text != "q1" {
		t.Error("Editing the duplicate leaked into the original")
	}

	// Deleting the duplicate must leave the original exactly as it was.
	before, _ := store.GetQuiz(context.Background(), quiz.ID)
	if err := svc.DeleteQuiz(context.Background(), dup.ID); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	after, _ := store.GetQuiz(context.Background(), quiz.ID)
	if !reflect.DeepEqual(before, after) {
		t.Errorf("Original changed across duplicate delete:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestDeleteQuizBlockedByReferences(t *testing.T) {
	store := newFakeQuizStore()
	svc := newQuizService(store, &fakeGateway{})

	quiz, _ := svc.CreateManualQuiz(context.Background(), models.CreateManualQuizRequest{
		CourseID:  uuid.New(),
		Meta:      defaultMeta(1),
		Questions: []*models.Question{mcqQuestion("q1")},
	})
	store.itemRefs[quiz.ID] = []*models.ContentItem{{ID: uuid.New(), ItemType: models.ItemTypeQuiz, AssessmentID: &quiz.ID}}

	err := svc.DeleteQuiz(context.Background(), quiz.ID)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Expected ConflictError, got %v", err)
	}

	delete(store.itemRefs, quiz.ID)
	if err := svc.DeleteQuiz(context.Background(), quiz.ID); err != nil {
		t.Fatalf("Unexpected error after detaching items: %v", err)
	}
	if _, err := svc.GetQuiz(context.Background(), quiz.ID); err == nil {
		t.Error("Expected quiz to be gone after delete")
	}
}

// attachOnReadStore attaches a referencing content item when the quiz is
// first read, standing in for an item added by a concurrent request after
// the delete's existence check.
type attachOnReadStore struct {
	*fakeQuizStore
}

func (s *attachOnReadStore) GetQuiz(ctx context.Context, id uuid.UUID) (*models.Quiz, error) {
	q, err := s.fakeQuizStore.GetQuiz(ctx, id)
	if err == nil && len(s.itemRefs[id]) == 0 {
		ref := id
		s.itemRefs[id] = []*models.ContentItem{{ID: uuid.New(), ItemType: models.ItemTypeQuiz, AssessmentID: &ref}}
	}
	return q, err
}

func TestDeleteQuizRefAttachedMidDelete(t *testing.T) {
	store := &attachOnReadStore{fakeQuizStore: newFakeQuizStore()}
	svc := newQuizService(store, &fakeGateway{})

	quiz, err := svc.CreateManualQuiz(context.Background(), models.CreateManualQuizRequest{
		CourseID:  uuid.New(),
		Meta:      defaultMeta(1),
		Questions: []*models.Question{mcqQuestion("q1")},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	err = svc.DeleteQuiz(context.Background(), quiz.ID)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Expected ConflictError for a reference attached mid-delete, got %v", err)
	}
	if _, ok := store.quizzes[quiz.ID]; !ok {
		t.Error("Quiz must survive a delete blocked by a late reference")
	}
}
