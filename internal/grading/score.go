package grading

import (
	"context"
	"fmt"
	"strings"

	"github.com/autogradeai/sage/internal/models"
	"github.com/rs/zerolog/log"
)

// normalizeKeyword lower-cases a key keyword so membership checks against
// the lower-cased answer token set are case-insensitive.
func normalizeKeyword(kw string) string {
	return strings.ToLower(strings.TrimSpace(kw))
}

// Composite weights: keyword evidence, semantic closeness, lexical overlap.
const (
	weightKeyword  = 0.3
	weightSemantic = 0.5
	weightLexical  = 0.2
)

// Embedder produces sentence-level unit vectors for texts. Deterministic for
// identical input and pinned to one model version.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float64, error)
}

// DeterministicScorer grades an answer against its key from keyword,
// semantic and lexical signals. It performs no writes; the only I/O is the
// embedding call.
type DeterministicScorer struct {
	embedder Embedder
}

func NewDeterministicScorer(embedder Embedder) *DeterministicScorer {
	return &DeterministicScorer{embedder: embedder}
}

// ScoreAnswer computes a score in [0, q.MaxPoints].
//
// keyword_hit_ratio = |keywords ∩ answer tokens| / |keywords| (0 for an
// empty key); semantic = cosine of the two embeddings, negative values
// clamped to 0; lexical = pairwise TF-IDF cosine. The composite
// 0.3*kw + 0.5*sem + 0.2*lex is clamped to [0,1], scaled by max points and
// rounded to 2 decimals.
func (s *DeterministicScorer) ScoreAnswer(ctx context.Context, answer string, q models.Question) (models.ScoreResult, error) {
	answerTokens := tokenSet(answer)

	hits := 0
	strengths := make([]string, 0, len(q.Key.Keywords))
	missing := make([]string, 0, len(q.Key.Keywords))
	for _, kw := range q.Key.Keywords {
		if _, ok := answerTokens[normalizeKeyword(kw)]; ok {
			hits++
			strengths = append(strengths, kw)
		} else {
			missing = append(missing, kw)
		}
	}
	keywordRatio := 0.0
	if len(q.Key.Keywords) > 0 {
		keywordRatio = float64(hits) / float64(len(q.Key.Keywords))
	}

	vecs, err := s.embedder.EmbedMany(ctx, []string{answer, q.Key.Text})
	if err != nil {
		return models.ScoreResult{}, fmt.Errorf("%w: embed answer pair: %v", ErrScoringUnavailable, err)
	}
	if len(vecs) != 2 {
		return models.ScoreResult{}, fmt.Errorf("%w: embedder returned %d vectors, want 2", ErrScoringUnavailable, len(vecs))
	}
	semantic := clamp01(Dot(vecs[0], vecs[1]))

	lexical := clamp01(LexicalSimilarity(answer, q.Key.Text))

	raw := clamp01(weightKeyword*keywordRatio + weightSemantic*semantic + weightLexical*lexical)
	points := round2(raw * q.MaxPoints)

	log.Debug().
		Int("questionIdx", q.Idx).
		Float64("keywordRatio", keywordRatio).
		Float64("semantic", semantic).
		Float64("lexical", lexical).
		Float64("points", points).
		Msg("Deterministic score computed")

	return models.ScoreResult{
		Points: points,
		Signals: models.Signals{
			Semantic:        semantic,
			Lexical:         lexical,
			KeywordHitRatio: keywordRatio,
		},
		Feedback: models.Feedback{
			Strengths: strengths,
			Missing:   missing,
		},
	}, nil
}
