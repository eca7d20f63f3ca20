// Package similarity compares every pair of answers to one question across
// submissions and flags suspiciously similar pairs.
package similarity

import (
	"context"
	"errors"
	"fmt"

	"github.com/autogradeai/sage/internal/grading"
	"github.com/autogradeai/sage/internal/models"
	"github.com/rs/zerolog/log"
)

// ErrSimilarityUnavailable marks failures caused by the embedding backend
// being unreachable. Callers must retry rather than treat the batch as clean.
var ErrSimilarityUnavailable = errors.New("similarity unavailable")

// Embedder is the batched embedding dependency; vectors are unit-normalized.
type Embedder interface {
	EmbedMany(ctx context.Context, texts []string) ([][]float64, error)
}

// AnswerRef is one answer in a comparison batch.
type AnswerRef struct {
	SubmissionID string
	Text         string
}

// Engine runs threshold-gated pairwise comparison. It holds no mutable state
// across invocations; concurrent batches for different questions are
// independent.
type Engine struct {
	embedder Embedder
	pool     *WorkerPool
}

func NewEngine(embedder Embedder, pool *WorkerPool) *Engine {
	return &Engine{embedder: embedder, pool: pool}
}

type pairResult struct {
	i, j     int
	semantic float64
	jaccard  float64
	flagged  bool
}

type pairJob struct {
	i, j          int
	textA, textB  string
	vecA, vecB    []float64
	semThreshold  float64
	jaccThreshold float64
	results       chan<- pairResult
}

// Execute gates on semantic similarity first; lexical overlap is only
// computed for pairs that already look semantically close. The semantic gate
// is inclusive: a pair exactly at the threshold passes.
func (job *pairJob) Execute(ctx context.Context) error {
	res := pairResult{i: job.i, j: job.j}

	res.semantic = grading.Dot(job.vecA, job.vecB)
	if res.semantic < 0 {
		res.semantic = 0
	}
	if res.semantic >= job.semThreshold {
		res.jaccard = grading.Jaccard(job.textA, job.textB)
		res.flagged = res.jaccard >= job.jaccThreshold
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case job.results <- res:
		return nil
	}
}

// FlagPairs compares every unordered pair of answers to the question and
// returns the pairs clearing both thresholds, in (i, j) enumeration order of
// the input sequence. Fewer than two answers yield no candidates and no
// embedding call. Pairwise comparison runs on the worker pool, but all
// comparisons complete before candidates are returned.
func (e *Engine) FlagPairs(ctx context.Context, questionIdx int, answers []AnswerRef, semThreshold, jaccThreshold float64) ([]models.SimilarityCandidate, error) {
	if len(answers) < 2 {
		return nil, nil
	}

	texts := make([]string, len(answers))
	for i, a := range answers {
		texts[i] = a.Text
	}

	vecs, err := e.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: embed batch: %v", ErrSimilarityUnavailable, err)
	}
	if len(vecs) != len(answers) {
		return nil, fmt.Errorf("%w: embed batch returned %d vectors for %d answers", ErrSimilarityUnavailable, len(vecs), len(answers))
	}

	nPairs := len(answers) * (len(answers) - 1) / 2
	results := make(chan pairResult, nPairs)

	for i := 0; i < len(answers); i++ {
		for j := i + 1; j < len(answers); j++ {
			job := &pairJob{
				i: i, j: j,
				textA: texts[i], textB: texts[j],
				vecA: vecs[i], vecB: vecs[j],
				semThreshold:  semThreshold,
				jaccThreshold: jaccThreshold,
				results:       results,
			}
			if err := e.pool.Submit(job); err != nil {
				return nil, fmt.Errorf("%w: submit pair job: %v", ErrSimilarityUnavailable, err)
			}
		}
	}

	byPair := make(map[[2]int]pairResult, nPairs)
	for len(byPair) < nPairs {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrSimilarityUnavailable, ctx.Err())
		case res := <-results:
			byPair[[2]int{res.i, res.j}] = res
		}
	}

	candidates := make([]models.SimilarityCandidate, 0)
	for i := 0; i < len(answers); i++ {
		for j := i + 1; j < len(answers); j++ {
			res := byPair[[2]int{i, j}]
			if !res.flagged {
				continue
			}
			candidates = append(candidates, models.SimilarityCandidate{
				SubmissionA:    answers[i].SubmissionID,
				SubmissionB:    answers[j].SubmissionID,
				QuestionIdx:    questionIdx,
				Semantic:       res.semantic,
				LexicalJaccard: res.jaccard,
			})
		}
	}

	log.Debug().
		Int("questionIdx", questionIdx).
		Int("answers", len(answers)).
		Int("pairs", nPairs).
		Int("flagged", len(candidates)).
		Msg("Similarity batch completed")

	return candidates, nil
}
