package grading

import (
	"context"
	"errors"
	"testing"

	"github.com/autogradeai/sage/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	vectors [][]float64
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := f.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors, nil
}

func testQuestion(keywords ...string) models.Question {
	return models.Question{
		Idx:       1,
		Prompt:    "Explain photosynthesis",
		MaxPoints: 10,
		Key: models.AnswerKey{
			Text:     "plants convert light into chemical energy using chlorophyll",
			Keywords: keywords,
		},
	}
}

func TestScoreAnswer_FullCredit(t *testing.T) {
	embedder := &fakeEmbedder{vectors: [][]float64{{1, 0}, {1, 0}}}
	scorer := NewDeterministicScorer(embedder)

	q := testQuestion("light", "chlorophyll")
	res, err := scorer.ScoreAnswer(context.Background(),
		"plants convert light into chemical energy using chlorophyll", q)
	require.NoError(t, err)

	assert.Equal(t, 1.0, res.Signals.KeywordHitRatio)
	assert.Equal(t, 1.0, res.Signals.Semantic)
	assert.InDelta(t, 1.0, res.Signals.Lexical, 1e-9)
	assert.Equal(t, 10.0, res.Points)
	assert.ElementsMatch(t, []string{"light", "chlorophyll"}, res.Feedback.Strengths)
	assert.Empty(t, res.Feedback.Missing)
}

func TestScoreAnswer_KeywordRatioAndMissing(t *testing.T) {
	embedder := &fakeEmbedder{vectors: [][]float64{{1, 0}, {0, 1}}}
	scorer := NewDeterministicScorer(embedder)

	q := testQuestion("light", "chlorophyll", "glucose", "oxygen")
	res, err := scorer.ScoreAnswer(context.Background(), "something about Light only", q)
	require.NoError(t, err)

	assert.Equal(t, 0.25, res.Signals.KeywordHitRatio)
	assert.Equal(t, []string{"light"}, res.Feedback.Strengths)
	assert.Equal(t, []string{"chlorophyll", "glucose", "oxygen"}, res.Feedback.Missing)
}

func TestScoreAnswer_EmptyKeywordListScoresZeroRatio(t *testing.T) {
	embedder := &fakeEmbedder{vectors: [][]float64{{1, 0}, {1, 0}}}
	scorer := NewDeterministicScorer(embedder)

	res, err := scorer.ScoreAnswer(context.Background(), "any answer", testQuestion())
	require.NoError(t, err)

	assert.Equal(t, 0.0, res.Signals.KeywordHitRatio)
	assert.Empty(t, res.Feedback.Strengths)
	assert.Empty(t, res.Feedback.Missing)
}

func TestScoreAnswer_NegativeCosineClampedToZero(t *testing.T) {
	embedder := &fakeEmbedder{vectors: [][]float64{{1, 0}, {-1, 0}}}
	scorer := NewDeterministicScorer(embedder)

	res, err := scorer.ScoreAnswer(context.Background(), "irrelevant words here", testQuestion())
	require.NoError(t, err)

	assert.Equal(t, 0.0, res.Signals.Semantic)
	assert.GreaterOrEqual(t, res.Points, 0.0)
}

func TestScoreAnswer_PointsNeverExceedMax(t *testing.T) {
	// Embeddings that are not unit vectors can push the raw cosine above 1
	embedder := &fakeEmbedder{vectors: [][]float64{{2, 0}, {2, 0}}}
	scorer := NewDeterministicScorer(embedder)

	q := testQuestion("light")
	res, err := scorer.ScoreAnswer(context.Background(), "light light light", q)
	require.NoError(t, err)

	assert.LessOrEqual(t, res.Points, q.MaxPoints)
	assert.LessOrEqual(t, res.Signals.Semantic, 1.0)
}

func TestScoreAnswer_EmbedderFailure(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("connection refused")}
	scorer := NewDeterministicScorer(embedder)

	_, err := scorer.ScoreAnswer(context.Background(), "an answer", testQuestion())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrScoringUnavailable)
}

func TestScoreAnswer_WrongVectorCount(t *testing.T) {
	embedder := &fakeEmbedder{vectors: [][]float64{{1, 0}}}
	scorer := NewDeterministicScorer(embedder)

	_, err := scorer.ScoreAnswer(context.Background(), "an answer", testQuestion())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrScoringUnavailable)
}

func TestScoreAnswer_DeterministicForSameInput(t *testing.T) {
	embedder := &fakeEmbedder{vectors: [][]float64{{0.6, 0.8}, {0.8, 0.6}}}
	scorer := NewDeterministicScorer(embedder)

	q := testQuestion("membrane")
	first, err := scorer.ScoreAnswer(context.Background(), "the membrane regulates transport", q)
	require.NoError(t, err)
	second, err := scorer.ScoreAnswer(context.Background(), "the membrane regulates transport", q)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
