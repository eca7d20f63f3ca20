package grading

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/autogradeai/sage/internal/models"
	"github.com/rs/zerolog/log"
)

const visionSystemPrompt = "You are an auto-grader for STEM exams. " +
	"Compare the student's images to the official solution images. " +
	"Award partial credit for correct steps even if the final value differs. Return STRICT JSON."

// VisionCompleter issues one JSON-mode vision request: grading instruction
// text plus solution and student page images.
type VisionCompleter interface {
	CompleteVisionJSON(ctx context.Context, system, user string, solutionImgs, studentImgs [][]byte) (string, error)
}

// VisionScorer grades handwritten or scanned answers directly from page
// images, for submissions where text extraction produced nothing usable.
type VisionScorer struct {
	client           VisionCompleter
	maxImagesPerCall int
}

func NewVisionScorer(client VisionCompleter, maxImagesPerCall int) *VisionScorer {
	if maxImagesPerCall <= 0 {
		maxImagesPerCall = 10
	}
	return &VisionScorer{client: client, maxImagesPerCall: maxImagesPerCall}
}

// ScoreImages grades one question from student page images against solution
// images. Student pages are sent in chunks of at most maxImagesPerCall;
// points take the max over chunks (chunks are split views of one answer, so
// summing would double-count), rationales are concatenated, and the same
// clamping and truncation bounds apply as for the text adapter.
func (s *VisionScorer) ScoreImages(ctx context.Context, questionIdx int, studentImgs, solutionImgs [][]byte, maxPoints float64) (models.ScoreResult, error) {
	if len(studentImgs) == 0 {
		return models.ScoreResult{
			Points: 0,
			Feedback: models.Feedback{
				Strengths: []string{},
				Missing:   []string{"provide readable text or steps"},
				Rationale: "no usable text extracted",
			},
		}, nil
	}

	user := fmt.Sprintf(
		"Grade *Question %d* only. Max points: %g.\n"+
			"Return JSON with:\n{\n  \"points\": number 0..Max,\n"+
			"  \"rationale\": \"short\",\n"+
			"  \"strengths\": [\"kw\", ...],\n"+
			"  \"missing\": [\"kw\", ...]\n}\n"+
			"Only evaluate relevant steps; ignore other pages/questions.",
		questionIdx, maxPoints,
	)

	best := 0.0
	rationaleParts := make([]string, 0)
	strengths := make([]string, 0)
	missing := make([]string, 0)

	for start := 0; start < len(studentImgs); start += s.maxImagesPerCall {
		end := start + s.maxImagesPerCall
		if end > len(studentImgs) {
			end = len(studentImgs)
		}
		chunk := studentImgs[start:end]

		payload, err := s.client.CompleteVisionJSON(ctx, visionSystemPrompt, user, solutionImgs, chunk)
		if err != nil {
			return models.ScoreResult{}, fmt.Errorf("%w: vision grade: %v", ErrScoringUnavailable, err)
		}

		res := sanitizeGenerativePayload(payload, maxPoints)
		if res.Points > best {
			best = res.Points
		}
		if r := strings.TrimSpace(res.Feedback.Rationale); r != "" && r != "model returned non-JSON" {
			rationaleParts = append(rationaleParts, r)
		}
		strengths = append(strengths, res.Feedback.Strengths...)
		missing = append(missing, res.Feedback.Missing...)
	}

	rationale := strings.Join(rationaleParts, " ")
	if utf8.RuneCountInString(rationale) > maxRationaleLen {
		rationale = string([]rune(rationale)[:maxRationaleLen])
	}
	if len(strengths) > maxFeedbackItems {
		strengths = strengths[:maxFeedbackItems]
	}
	if len(missing) > maxFeedbackItems {
		missing = missing[:maxFeedbackItems]
	}

	log.Debug().
		Int("questionIdx", questionIdx).
		Int("pages", len(studentImgs)).
		Float64("points", best).
		Msg("Vision score computed")

	return models.ScoreResult{
		Points: round2(best),
		Feedback: models.Feedback{
			Strengths: strengths,
			Missing:   missing,
			Rationale: rationale,
		},
	}, nil
}
