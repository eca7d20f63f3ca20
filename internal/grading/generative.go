package grading

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/autogradeai/sage/internal/models"
	"github.com/rs/zerolog/log"
)

// Sanitization bounds on generative output; they cap storage and response
// size regardless of what the model returns.
const (
	maxRationaleLen  = 1000
	maxFeedbackItems = 10

	minUsableLen = 15
)

const systemPrompt = "You are an auto-grader for short-answer STEM exams. " +
	"Use the official solution as the source of truth. " +
	"Award partial credit when reasoning/steps are correct even if the final number differs. " +
	"Be concise. Return STRICT JSON only."

// ChatCompleter issues one JSON-mode request to a generative grading backend
// and returns the raw payload text.
type ChatCompleter interface {
	CompleteJSON(ctx context.Context, system, user string) (string, error)
}

// GenerativeScorer delegates judgment to an external generative grading
// service. The pre-filter and the clamping below are its only deterministic
// guarantees.
type GenerativeScorer struct {
	client ChatCompleter
}

func NewGenerativeScorer(client ChatCompleter) *GenerativeScorer {
	return &GenerativeScorer{client: client}
}

// LowConfidence reports whether the text is too short or too noisy to grade:
// under 15 characters, or fewer than max(5, 0.2*len) alphanumeric runes.
// Such input is usually failed OCR rather than a real answer.
func LowConfidence(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return true
	}
	n := utf8.RuneCountInString(t)
	alnum := 0
	for _, r := range t {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	minAlnum := int(0.2 * float64(n))
	if minAlnum < 5 {
		minAlnum = 5
	}
	return n < minUsableLen || alnum < minAlnum
}

// ScoreAnswer grades one answer with the generative backend.
//
// Unreadable input short-circuits to zero credit without an external call.
// Whatever the service returns, points are clamped to [0, q.MaxPoints],
// the rationale is truncated and the strengths/missing lists bounded. A
// non-JSON payload is recovered locally with a zero-point default; only
// transport failures surface as errors (wrapping ErrScoringUnavailable).
func (s *GenerativeScorer) ScoreAnswer(ctx context.Context, answer string, q models.Question) (models.ScoreResult, error) {
	if LowConfidence(answer) {
		return models.ScoreResult{
			Points: 0,
			Feedback: models.Feedback{
				Strengths: []string{},
				Missing:   []string{"provide readable text or steps"},
				Rationale: "no usable text extracted",
			},
		}, nil
	}

	user := buildGradingPrompt(answer, q.Prompt, q.Key.Text, q.MaxPoints)

	payload, err := s.client.CompleteJSON(ctx, systemPrompt, user)
	if err != nil {
		return models.ScoreResult{}, fmt.Errorf("%w: generative grade: %v", ErrScoringUnavailable, err)
	}

	return sanitizeGenerativePayload(payload, q.MaxPoints), nil
}

func buildGradingPrompt(answer, questionPrompt, keyText string, maxPoints float64) string {
	var b strings.Builder
	b.WriteString("Grade the student's short answer.\n\n")
	fmt.Fprintf(&b, "Question:\n\"\"\"%s\"\"\"\n\n", strings.TrimSpace(questionPrompt))
	fmt.Fprintf(&b, "Official solution / answer key:\n\"\"\"%s\"\"\"\n\n", strings.TrimSpace(keyText))
	fmt.Fprintf(&b, "Student answer:\n\"\"\"%s\"\"\"\n\n", strings.TrimSpace(answer))
	fmt.Fprintf(&b, "Max points: %g\n\n", maxPoints)
	b.WriteString("Rules:\n")
	b.WriteString("- Give partial credit for correct ideas, steps, or formulas.\n")
	b.WriteString("- If the answer is irrelevant, give 0.\n")
	b.WriteString("- Prefer a brief, concrete rationale (1-3 sentences).\n\n")
	b.WriteString("Return STRICT JSON with exactly:\n")
	fmt.Fprintf(&b, "{\n  \"points\": number between 0 and %g,\n", maxPoints)
	b.WriteString("  \"rationale\": \"short text\",\n")
	b.WriteString("  \"strengths\": [\"keyword\", ...],\n")
	b.WriteString("  \"missing\": [\"keyword\", ...]\n}\n")
	return b.String()
}

// sanitizeGenerativePayload parses the model payload defensively. Out-of-range
// or adversarial values are clamped rather than trusted; an unparsable
// payload yields a safe zero-point result instead of aborting the grading run.
func sanitizeGenerativePayload(payload string, maxPoints float64) models.ScoreResult {
	var data map[string]any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		log.Warn().Err(err).Msg("Generative service returned non-JSON payload")
		return models.ScoreResult{
			Points: 0,
			Feedback: models.Feedback{
				Strengths: []string{},
				Missing:   []string{},
				Rationale: "model returned non-JSON",
			},
		}
	}

	points := coerceFloat(data["points"])
	if points < 0 {
		points = 0
	}
	if points > maxPoints {
		points = maxPoints
	}

	rationale := coerceString(data["rationale"])
	if utf8.RuneCountInString(rationale) > maxRationaleLen {
		rationale = string([]rune(rationale)[:maxRationaleLen])
	}

	return models.ScoreResult{
		Points: round2(points),
		Feedback: models.Feedback{
			Strengths: coerceStringList(data["strengths"], maxFeedbackItems),
			Missing:   coerceStringList(data["missing"], maxFeedbackItems),
			Rationale: rationale,
		},
	}
}

func coerceFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
	}
	return 0
}

func coerceString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func coerceStringList(v any, limit int) []string {
	out := make([]string, 0, limit)
	items, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range items {
		if len(out) >= limit {
			break
		}
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
