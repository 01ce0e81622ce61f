package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Question types
const (
	QuestionMCQ            = "mcq"
	QuestionMultipleSelect = "multiple_select"
	QuestionTrueFalse      = "true_false"
	QuestionShortAnswer    = "short_answer"
	QuestionLongAnswer     = "long_answer"
)

// Quiz difficulty
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// Quiz source
const (
	SourceManual = "manual"
	SourceRAG    = "rag"
)

func ValidQuestionType(t string) bool {
	switch t {
	case QuestionMCQ, QuestionMultipleSelect, QuestionTrueFalse, QuestionShortAnswer, QuestionLongAnswer:
		return true
	}
	return false
}

func ValidDifficulty(d string) bool {
	return d == DifficultyEasy || d == DifficultyMedium || d == DifficultyHard
}

type Question struct {
	ID            uuid.UUID `json:"id"`
	QuizID        uuid.UUID `json:"quiz_id"`
	Position      int       `json:"position"`
	Text          string    `json:"question_text"`
	Type          string    `json:"question_type"`
	Options       []string  `json:"options"`
	CorrectAnswer string    `json:"correct_answer"`
	Points        float64   `json:"points"`
	Explanation   string    `json:"explanation,omitempty"`
	Citations     []string  `json:"citations"`
	NeedsReview   bool      `json:"needs_review"`
}

type Quiz struct {
	ID               uuid.UUID   `json:"id"`
	CourseID         uuid.UUID   `json:"course_id"`
	Title            string      `json:"title"`
	Difficulty       string      `json:"difficulty"`
	DueAt            *time.Time  `json:"due_at,omitempty"`
	TimeLimitMinutes int         `json:"time_limit_minutes"`
	AttemptsAllowed  int         `json:"attempts_allowed"`
	QuizLength       int         `json:"quiz_length"`
	Source           string      `json:"source"`
	IsPublished      bool        `json:"is_published"`
	NeedsReview      bool        `json:"needs_review"`
	DocumentIDs      []uuid.UUID `json:"document_ids,omitempty"`
	Questions        []*Question `json:"questions,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// QuizMeta carries the author-editable quiz metadata.
type QuizMeta struct {
	Title            string     `json:"title"`
	Difficulty       string     `json:"difficulty"`
	DueAt            *time.Time `json:"due_at"`
	TimeLimitMinutes int        `json:"time_limit_minutes"`
	AttemptsAllowed  int        `json:"attempts_allowed"`
	QuizLength       int        `json:"quiz_length"`
}

// AnswerKind tags the per-type correct-answer encoding.
type AnswerKind int

const (
	AnswerSingle   AnswerKind = iota // mcq: one option string
	AnswerMultiple                   // multiple_select: subset of options
	AnswerBoolean                    // true_false
	AnswerFreeText                   // short/long answer: optional grading hint
)

// CorrectAnswer is the decoded form of Question.CorrectAnswer. Exactly one
// of the value fields is meaningful, selected by Kind.
type CorrectAnswer struct {
	Kind     AnswerKind
	Single   string
	Multiple []string
	Boolean  bool
	FreeText string
}

// ParseCorrectAnswer validates raw against the question type and its options
// and returns the tagged decoded form.
func ParseCorrectAnswer(questionType, raw string, options []string) (CorrectAnswer, error) {
	switch questionType {
	case QuestionMCQ:
		raw = strings.TrimSpace(raw)
		for _, opt := range options {
			if raw == opt {
				return CorrectAnswer{Kind: AnswerSingle, Single: raw}, nil
			}
		}
		return CorrectAnswer{}, fmt.Errorf("correct answer %q is not one of the options", raw)

	case QuestionMultipleSelect:
		var selected []string
		if err := json.Unmarshal([]byte(raw), &selected); err != nil {
			return CorrectAnswer{}, fmt.Errorf("multiple_select answer must be a JSON array of option strings")
		}
		if len(selected) == 0 {
			return CorrectAnswer{}, fmt.Errorf("multiple_select answer must select at least one option")
		}
		chosen := make(map[string]bool, len(selected))
		for _, s := range selected {
			found := false
			for _, opt := range options {
				if s == opt {
					found = true
					break
				}
			}
			if !found {
				return CorrectAnswer{}, fmt.Errorf("selected answer %q is not one of the options", s)
			}
			chosen[s] = true
		}
		// Canonical order is option order, not submission order.
		var canonical []string
		for _, opt := range options {
			if chosen[opt] {
				canonical = append(canonical, opt)
			}
		}
		return CorrectAnswer{Kind: AnswerMultiple, Multiple: canonical}, nil

	case QuestionTrueFalse:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true":
			return CorrectAnswer{Kind: AnswerBoolean, Boolean: true}, nil
		case "false":
			return CorrectAnswer{Kind: AnswerBoolean, Boolean: false}, nil
		}
		return CorrectAnswer{}, fmt.Errorf("true_false answer must be \"true\" or \"false\"")

	case QuestionShortAnswer, QuestionLongAnswer:
		return CorrectAnswer{Kind: AnswerFreeText, FreeText: strings.TrimSpace(raw)}, nil
	}

	return CorrectAnswer{}, fmt.Errorf("unknown question type %q", questionType)
}

// Encode returns the canonical stored string for the answer.
func (a CorrectAnswer) Encode() string {
	switch a.Kind {
	case AnswerSingle:
		return a.Single
	case AnswerMultiple:
		b, _ := json.Marshal(a.Multiple)
		return string(b)
	case AnswerBoolean:
		if a.Boolean {
			return "true"
		}
		return "false"
	default:
		return a.FreeText
	}
}

// Normalize trims the question, filters blank options, enforces the per-type
// shape, and rewrites CorrectAnswer into its canonical encoding.
func (q *Question) Normalize() error {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return fmt.Errorf("question text is required")
	}
	if !ValidQuestionType(q.Type) {
		return fmt.Errorf("unknown question type %q", q.Type)
	}

	var options []string
	for _, opt := range q.Options {
		if trimmed := strings.TrimSpace(opt); trimmed != "" {
			options = append(options, trimmed)
		}
	}

	switch q.Type {
	case QuestionMCQ, QuestionMultipleSelect:
		if len(options) < 2 {
			return fmt.Errorf("%s questions need at least 2 options", q.Type)
		}
	case QuestionTrueFalse:
		options = []string{"true", "false"}
	case QuestionShortAnswer, QuestionLongAnswer:
		options = nil
	}
	q.Options = options

	answer, err := ParseCorrectAnswer(q.Type, q.CorrectAnswer, q.Options)
	if err != nil {
		return err
	}
	q.CorrectAnswer = answer.Encode()

	if q.Points == 0 {
		q.Points = 1
	}
	if q.Points <= 0 {
		return fmt.Errorf("points must be positive")
	}

	return nil
}

type CreateManualQuizRequest struct {
	CourseID  uuid.UUID   `json:"course_id"`
	Meta      QuizMeta    `json:"meta"`
	Questions []*Question `json:"questions"`
}

type GenerateQuizRequest struct {
	CourseID      uuid.UUID   `json:"course_id"`
	Meta          QuizMeta    `json:"meta"`
	QuestionTypes []string    `json:"question_types"`
	DocumentIDs   []uuid.UUID `json:"document_ids"`
}

type RegenerateQuestionRequest struct {
	Difficulty string `json:"difficulty"`
}

// UpdateQuestionRequest carries a partial question edit. Nil fields are left
// untouched. ReaffirmCitations marks the edited question as re-reviewed by
// the author; without it an edited RAG question stays flagged.
type UpdateQuestionRequest struct {
	Text              *string   `json:"question_text"`
	Type              *string   `json:"question_type"`
	Options           *[]string `json:"options"`
	CorrectAnswer     *string   `json:"correct_answer"`
	Points            *float64  `json:"points"`
	Explanation       *string   `json:"explanation"`
	ReaffirmCitations bool      `json:"reaffirm_citations"`
}

type PublishQuizRequest struct {
	ForceOverride bool `json:"force_override"`
}
