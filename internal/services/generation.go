package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// GenerationRequest is the gateway contract: a target count, difficulty,
// question-type mix, and the source documents to draw from.
type GenerationRequest struct {
	QuizLength    int
	Difficulty    string
	QuestionTypes []string
	DocumentIDs   []uuid.UUID
}

// QuestionDraft is one proposed question with its citation set. Citations
// are opaque chunk labels; an empty set means the draft has no source
// backing and must be reviewed.
type QuestionDraft struct {
	Text          string   `json:"question_text"`
	Type          string   `json:"question_type"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Explanation   string   `json:"explanation"`
	Citations     []string `json:"citations"`
	NeedsReview   bool     `json:"needs_review"`
}

type GenerationResult struct {
	Questions   []QuestionDraft `json:"questions"`
	NeedsReview bool            `json:"needs_review"`
}

// QuestionGenerator produces question drafts from indexed source documents.
// Implementations must respect ctx cancellation; callers bound the call with
// a timeout and treat a partial result as no result.
type QuestionGenerator interface {
	GenerateQuestions(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
}

// SourceChunkReader returns the indexed text chunks for one source document.
type SourceChunkReader interface {
	Chunks(ctx context.Context, sourceID uuid.UUID, limit int) ([]string, error)
}

const chunksPerDocument = 12

// GeminiGateway generates question drafts with Gemini over the indexed
// chunks of the selected documents.
type GeminiGateway struct {
	client   *genai.Client
	model    *genai.GenerativeModel
	chunks   SourceChunkReader
	rateChan chan struct{} // Token bucket
}

func NewGeminiGateway(apiKey string, concurrentReqs int, chunks SourceChunkReader) (*GeminiGateway, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel("gemini-3-flash-preview")
	model.SetTemperature(0.4)
	model.SetTopP(0.95)

	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &GeminiGateway{
		client:   client,
		model:    model,
		chunks:   chunks,
		rateChan: rateChan,
	}, nil
}

func (g *GeminiGateway) Close() {
	g.client.Close()
}

// acquireRate blocks until a rate slot is available
func (g *GeminiGateway) acquireRate(ctx context.Context) error {
	select {
	case <-g.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Minute):
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (g *GeminiGateway) releaseRate() {
	g.rateChan <- struct{}{}
}

type sourceExcerpt struct {
	Label string
	Text  string
}

func (g *GeminiGateway) GenerateQuestions(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	if err := g.acquireRate(ctx); err != nil {
		return nil, err
	}
	defer g.releaseRate()

	excerpts, err := g.collectExcerpts(ctx, req.DocumentIDs)
	if err != nil {
		return nil, err
	}
	if len(excerpts) == 0 {
		return nil, &GenerationError{Reason: "selected documents have no indexed content"}
	}

	prompt := buildGenerationPrompt(req, excerpts)

	result, err := g.generateOnce(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("Gemini generation failed, retrying once: %v", err)
		result, err = g.generateOnce(ctx, prompt)
		if err != nil {
			return nil, &GenerationError{Reason: err.Error()}
		}
	}

	return result, nil
}

func (g *GeminiGateway) collectExcerpts(ctx context.Context, documentIDs []uuid.UUID) ([]sourceExcerpt, error) {
	var excerpts []sourceExcerpt
	for _, docID := range documentIDs {
		chunks, err := g.chunks.Chunks(ctx, docID, chunksPerDocument)
		if err != nil {
			return nil, fmt.Errorf("failed to read chunks for document %s: %w", docID, err)
		}
		for i, chunk := range chunks {
			excerpts = append(excerpts, sourceExcerpt{
				Label: fmt.Sprintf("doc:%s#%d", docID, i),
				Text:  chunk,
			})
		}
	}
	return excerpts, nil
}

func (g *GeminiGateway) generateOnce(ctx context.Context, prompt string) (*GenerationResult, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("Gemini API error: %w", err)
	}

	rawText := extractText(resp)
	if rawText == "" {
		return nil, fmt.Errorf("Gemini returned empty text")
	}

	result, err := parseGenerationPayload(rawText)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Helper functions

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}

func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	return strings.TrimSpace(raw)
}

func parseGenerationPayload(raw string) (*GenerationResult, error) {
	cleaned := stripFences(raw)

	var result GenerationResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		// Try to extract the JSON object from surrounding prose
		start := strings.Index(cleaned, "{")
		end := strings.LastIndex(cleaned, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("response is not valid JSON")
		}
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &result); err != nil {
			return nil, fmt.Errorf("response is not valid JSON")
		}
	}

	if len(result.Questions) == 0 {
		return nil, fmt.Errorf("response contains no questions")
	}
	return &result, nil
}

func buildGenerationPrompt(req GenerationRequest, excerpts []sourceExcerpt) string {
	var b strings.Builder

	b.WriteString("You are an expert educational assessor. Generate quiz questions strictly from the source excerpts below.\n\n")
	b.WriteString("CRITICAL: Return ONLY a valid JSON object. No preamble, no markdown, no backticks.\n\n")

	b.WriteString(fmt.Sprintf("Generate exactly %d questions.\n", req.QuizLength))

	if len(req.QuestionTypes) > 0 {
		b.WriteString(fmt.Sprintf("Allowed question types: %s. Mix them across the quiz.\n", strings.Join(req.QuestionTypes, ", ")))
	} else {
		b.WriteString("Allowed question types: mcq, true_false.\n")
	}

	b.WriteString(fmt.Sprintf("Difficulty: %s\n", req.Difficulty))
	switch req.Difficulty {
	case "easy":
		b.WriteString("Easy = direct recall from the excerpts.\n")
	case "medium":
		b.WriteString("Medium = application of concepts.\n")
	case "hard":
		b.WriteString("Hard = analysis, synthesis, or inference beyond what is explicitly stated.\n")
	}

	b.WriteString(`
JSON schema:
{"questions": [{"question_text": "string", "question_type": "mcq"|"multiple_select"|"true_false"|"short_answer"|"long_answer", "options": ["string"], "correct_answer": "string", "explanation": "string", "citations": ["label"], "needs_review": bool}], "needs_review": bool}

Rules:
- For mcq: exactly 4 options, correct_answer must equal one option verbatim.
- For multiple_select: 4-6 options, correct_answer is a JSON array string of the correct options.
- For true_false: options must be ["true", "false"].
- For short_answer and long_answer: options must be [], correct_answer is a model answer.
- citations must list the labels of the excerpts each question is based on. Set needs_review to true on any question you could not ground in an excerpt.
`)

	b.WriteString("\n---SOURCE EXCERPTS---\n")
	for _, excerpt := range excerpts {
		b.WriteString(fmt.Sprintf("[%s]\n%s\n\n", excerpt.Label, excerpt.Text))
	}
	b.WriteString("---END---\n")

	return b.String()
}
