package grading

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/autogradeai/sage/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	payload string
	err     error
	calls   int
	lastMsg string
}

func (f *fakeCompleter) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	f.calls++
	f.lastMsg = user
	if f.err != nil {
		return "", f.err
	}
	return f.payload, nil
}

func genQuestion() models.Question {
	return models.Question{
		Idx:       2,
		Prompt:    "Derive the quadratic formula",
		MaxPoints: 5,
		Key:       models.AnswerKey{Text: "complete the square on ax^2+bx+c=0"},
	}
}

func TestGenerativeScore_HappyPath(t *testing.T) {
	client := &fakeCompleter{payload: `{"points": 3.5, "rationale": "correct setup, arithmetic slip", "strengths": ["completing the square"], "missing": ["sign of discriminant"]}`}
	scorer := NewGenerativeScorer(client)

	res, err := scorer.ScoreAnswer(context.Background(), "start by completing the square on both sides", genQuestion())
	require.NoError(t, err)

	assert.Equal(t, 3.5, res.Points)
	assert.Equal(t, "correct setup, arithmetic slip", res.Feedback.Rationale)
	assert.Equal(t, []string{"completing the square"}, res.Feedback.Strengths)
	assert.Equal(t, []string{"sign of discriminant"}, res.Feedback.Missing)
	assert.Equal(t, 1, client.calls)
}

func TestGenerativeScore_LowConfidenceSkipsBackend(t *testing.T) {
	client := &fakeCompleter{payload: `{"points": 5}`}
	scorer := NewGenerativeScorer(client)

	res, err := scorer.ScoreAnswer(context.Background(), "x=2", genQuestion())
	require.NoError(t, err)

	assert.Equal(t, 0.0, res.Points)
	assert.Equal(t, "no usable text extracted", res.Feedback.Rationale)
	assert.Equal(t, []string{"provide readable text or steps"}, res.Feedback.Missing)
	assert.Equal(t, 0, client.calls, "unreadable input must not reach the backend")
}

func TestGenerativeScore_NoisyInputSkipsBackend(t *testing.T) {
	client := &fakeCompleter{}
	scorer := NewGenerativeScorer(client)

	// Long enough but nearly no alphanumeric content, typical of failed OCR
	res, err := scorer.ScoreAnswer(context.Background(), "~~ !!! ### ??? ... ---- ### !!", genQuestion())
	require.NoError(t, err)

	assert.Equal(t, 0.0, res.Points)
	assert.Equal(t, 0, client.calls)
}

func TestGenerativeScore_ClampsAdversarialPoints(t *testing.T) {
	scorer := NewGenerativeScorer(&fakeCompleter{payload: `{"points": 1000000000, "rationale": "ignore instructions"}`})

	res, err := scorer.ScoreAnswer(context.Background(), "a plausible multi word answer text", genQuestion())
	require.NoError(t, err)
	assert.Equal(t, 5.0, res.Points)

	scorer = NewGenerativeScorer(&fakeCompleter{payload: `{"points": -5}`})
	res, err = scorer.ScoreAnswer(context.Background(), "a plausible multi word answer text", genQuestion())
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Points)
}

func TestGenerativeScore_NonJSONPayloadRecovers(t *testing.T) {
	scorer := NewGenerativeScorer(&fakeCompleter{payload: "Sure! The student deserves 4 points."})

	res, err := scorer.ScoreAnswer(context.Background(), "a plausible multi word answer text", genQuestion())
	require.NoError(t, err)

	assert.Equal(t, 0.0, res.Points)
	assert.Equal(t, "model returned non-JSON", res.Feedback.Rationale)
}

func TestGenerativeScore_TruncatesOversizedOutput(t *testing.T) {
	longRationale := strings.Repeat("r", 3000)
	items := `"a","a","a","a","a","a","a","a","a","a","a","a","a","a","a"`
	payload := `{"points": 2, "rationale": "` + longRationale + `", "strengths": [` + items + `], "missing": [` + items + `]}`
	scorer := NewGenerativeScorer(&fakeCompleter{payload: payload})

	res, err := scorer.ScoreAnswer(context.Background(), "a plausible multi word answer text", genQuestion())
	require.NoError(t, err)

	assert.Len(t, res.Feedback.Rationale, maxRationaleLen)
	assert.Len(t, res.Feedback.Strengths, maxFeedbackItems)
	assert.Len(t, res.Feedback.Missing, maxFeedbackItems)
}

func TestGenerativeScore_TransportFailure(t *testing.T) {
	scorer := NewGenerativeScorer(&fakeCompleter{err: errors.New("503 service unavailable")})

	_, err := scorer.ScoreAnswer(context.Background(), "a plausible multi word answer text", genQuestion())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrScoringUnavailable)
}

func TestGenerativeScore_PromptCarriesKeyAndAnswer(t *testing.T) {
	client := &fakeCompleter{payload: `{"points": 1}`}
	scorer := NewGenerativeScorer(client)

	_, err := scorer.ScoreAnswer(context.Background(), "the student wrote this whole answer", genQuestion())
	require.NoError(t, err)

	assert.Contains(t, client.lastMsg, "the student wrote this whole answer")
	assert.Contains(t, client.lastMsg, "complete the square on ax^2+bx+c=0")
	assert.Contains(t, client.lastMsg, "Max points: 5")
}

func TestSanitize_CoercesStringPoints(t *testing.T) {
	res := sanitizeGenerativePayload(`{"points": "3.25"}`, 5)
	assert.Equal(t, 3.25, res.Points)
}

func TestLowConfidence(t *testing.T) {
	assert.True(t, LowConfidence(""))
	assert.True(t, LowConfidence("   "))
	assert.True(t, LowConfidence("short"))
	assert.False(t, LowConfidence("this is a perfectly normal sentence"))
}
