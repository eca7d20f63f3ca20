// Package workflow drives the submission pipeline: segment extracted text,
// score each answer, persist the grade breakdown, then re-run similarity
// detection for the exam's questions.
package workflow

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/autogradeai/sage/internal/grading"
	"github.com/autogradeai/sage/internal/metrics"
	"github.com/autogradeai/sage/internal/models"
	"github.com/autogradeai/sage/internal/segment"
	"github.com/autogradeai/sage/internal/similarity"
	"github.com/rs/zerolog/log"
)

type ExamStore interface {
	GetExam(ctx context.Context, examID string) (*models.Exam, error)
}

type SubmissionStore interface {
	UpsertSubmission(ctx context.Context, sub *models.Submission) error
	UpdateSubmissionStatus(ctx context.Context, submissionID, status string) error
	ReplaceAnswers(ctx context.Context, submissionID string, answers []models.Answer) error
	GetAnswersByQuestion(ctx context.Context, examID string, questionIdx int) ([]models.Answer, error)
	UpsertGrade(ctx context.Context, grade *models.Grade) error
}

type FlagStore interface {
	UpsertFlag(ctx context.Context, flag *models.SimilarityFlag) (bool, error)
}

// AnswerScorer grades one answer against its question. Implemented by both
// the deterministic scorer and the generative adapter; which one a
// deployment uses is fixed at composition time.
type AnswerScorer interface {
	ScoreAnswer(ctx context.Context, answer string, q models.Question) (models.ScoreResult, error)
}

// ImageScorer grades one question from scanned page images. Optional; wired
// only when the deployment has a vision-capable backend.
type ImageScorer interface {
	ScoreImages(ctx context.Context, questionIdx int, studentImgs, solutionImgs [][]byte, maxPoints float64) (models.ScoreResult, error)
}

// SimilarityEngine flags suspicious answer pairs for one question.
type SimilarityEngine interface {
	FlagPairs(ctx context.Context, questionIdx int, answers []similarity.AnswerRef, semThreshold, jaccThreshold float64) ([]models.SimilarityCandidate, error)
}

// Service is the submission grading workflow.
type Service struct {
	exams  ExamStore
	subs   SubmissionStore
	flags  FlagStore
	scorer AnswerScorer
	vision ImageScorer
	engine SimilarityEngine
	status *StatusTracker

	mode          string
	semThreshold  float64
	jaccThreshold float64
}

func NewService(
	exams ExamStore,
	subs SubmissionStore,
	flags FlagStore,
	scorer AnswerScorer,
	vision ImageScorer,
	engine SimilarityEngine,
	status *StatusTracker,
	mode string,
	semThreshold, jaccThreshold float64,
) *Service {
	return &Service{
		exams:         exams,
		subs:          subs,
		flags:         flags,
		scorer:        scorer,
		vision:        vision,
		engine:        engine,
		status:        status,
		mode:          mode,
		semThreshold:  semThreshold,
		jaccThreshold: jaccThreshold,
	}
}

// ProcessSubmission records and grades one submission, then recomputes
// similarity flags for the exam. A scoring backend failure leaves the
// submission in the failed (retryable) state; it is never recorded as graded
// with a false zero. Similarity failures are logged and retried implicitly
// on the next submission's run (flags converge, per-question batches are
// idempotent thanks to the flag upsert).
func (s *Service) ProcessSubmission(ctx context.Context, in models.IncomingSubmission) error {
	start := time.Now()
	s.status.Update(ctx, in.SubmissionID, models.StepReceived)

	exam, err := s.exams.GetExam(ctx, in.ExamID)
	if err != nil {
		s.status.Update(ctx, in.SubmissionID, models.StepFailed)
		return fmt.Errorf("load exam: %w", err)
	}

	sub := &models.Submission{
		ID:        in.SubmissionID,
		ExamID:    in.ExamID,
		StudentID: in.StudentID,
		Status:    models.StatusPending,
	}
	if err := s.subs.UpsertSubmission(ctx, sub); err != nil {
		s.status.Update(ctx, in.SubmissionID, models.StepFailed)
		return fmt.Errorf("record submission: %w", err)
	}

	// Scanned work with no usable extracted text is graded from the page
	// images directly; there is no answer text to segment or compare.
	if s.vision != nil && len(in.Images) > 0 && grading.LowConfidence(in.Text) {
		return s.processImages(ctx, in, exam, start)
	}

	s.status.Update(ctx, in.SubmissionID, models.StepSegmenting)
	segments := segment.Split(in.Text)
	byIdx := exam.QuestionByIdx()

	answers := make([]models.Answer, 0, len(segments))
	for _, idx := range segment.Indices(segments) {
		if _, ok := byIdx[idx]; !ok {
			// segment with no matching question, e.g. a stray numbered list
			continue
		}
		answers = append(answers, models.Answer{
			SubmissionID: in.SubmissionID,
			ExamID:       in.ExamID,
			QuestionIdx:  idx,
			Text:         segments[idx],
		})
	}
	if err := s.subs.ReplaceAnswers(ctx, in.SubmissionID, answers); err != nil {
		s.status.Update(ctx, in.SubmissionID, models.StepFailed)
		return fmt.Errorf("record answers: %w", err)
	}

	s.status.Update(ctx, in.SubmissionID, models.StepScoring)
	total := 0.0
	breakdown := make(map[string]models.ScoreResult, len(answers))
	for _, a := range answers {
		q := byIdx[a.QuestionIdx]
		res, err := s.scorer.ScoreAnswer(ctx, a.Text, q)
		if err != nil {
			s.markFailed(ctx, in.SubmissionID)
			metrics.SubmissionsGraded.WithLabelValues(s.mode, "failed").Inc()
			return fmt.Errorf("score question %d: %w", a.QuestionIdx, err)
		}
		total += res.Points
		breakdown[strconv.Itoa(a.QuestionIdx)] = res
	}

	grade := &models.Grade{
		SubmissionID: in.SubmissionID,
		ExamID:       in.ExamID,
		Total:        round2(total),
		Breakdown:    breakdown,
	}
	if err := s.subs.UpsertGrade(ctx, grade); err != nil {
		s.markFailed(ctx, in.SubmissionID)
		metrics.SubmissionsGraded.WithLabelValues(s.mode, "failed").Inc()
		return fmt.Errorf("record grade: %w", err)
	}
	if err := s.subs.UpdateSubmissionStatus(ctx, in.SubmissionID, models.StatusGraded); err != nil {
		return fmt.Errorf("mark submission graded: %w", err)
	}

	metrics.SubmissionsGraded.WithLabelValues(s.mode, "graded").Inc()
	metrics.GradingDuration.Observe(time.Since(start).Seconds())

	log.Info().
		Str("submissionId", in.SubmissionID).
		Str("examId", in.ExamID).
		Int("answers", len(answers)).
		Float64("total", grade.Total).
		Msg("Submission graded")

	s.status.Update(ctx, in.SubmissionID, models.StepSimilarity)
	if err := s.RecomputeSimilarity(ctx, exam); err != nil {
		log.Error().Err(err).
			Str("examId", in.ExamID).
			Msg("Similarity recompute failed, will converge on next run")
	}

	s.status.Update(ctx, in.SubmissionID, models.StepCompleted)
	return nil
}

// processImages grades a scanned submission question by question against the
// exam's worked-solution pages. No answer text exists, so nothing is stored
// for similarity comparison and the similarity pass is skipped.
func (s *Service) processImages(ctx context.Context, in models.IncomingSubmission, exam *models.Exam, start time.Time) error {
	s.status.Update(ctx, in.SubmissionID, models.StepScoring)

	total := 0.0
	breakdown := make(map[string]models.ScoreResult, len(exam.Questions))
	for _, q := range exam.Questions {
		res, err := s.vision.ScoreImages(ctx, q.Idx, in.Images, exam.SolutionImages, q.MaxPoints)
		if err != nil {
			s.markFailed(ctx, in.SubmissionID)
			metrics.SubmissionsGraded.WithLabelValues(s.mode, "failed").Inc()
			return fmt.Errorf("score question %d from images: %w", q.Idx, err)
		}
		total += res.Points
		breakdown[strconv.Itoa(q.Idx)] = res
	}

	grade := &models.Grade{
		SubmissionID: in.SubmissionID,
		ExamID:       in.ExamID,
		Total:        round2(total),
		Breakdown:    breakdown,
	}
	if err := s.subs.UpsertGrade(ctx, grade); err != nil {
		s.markFailed(ctx, in.SubmissionID)
		metrics.SubmissionsGraded.WithLabelValues(s.mode, "failed").Inc()
		return fmt.Errorf("record grade: %w", err)
	}
	if err := s.subs.UpdateSubmissionStatus(ctx, in.SubmissionID, models.StatusGraded); err != nil {
		return fmt.Errorf("mark submission graded: %w", err)
	}

	metrics.SubmissionsGraded.WithLabelValues(s.mode, "graded").Inc()
	metrics.GradingDuration.Observe(time.Since(start).Seconds())

	log.Info().
		Str("submissionId", in.SubmissionID).
		Str("examId", in.ExamID).
		Int("pages", len(in.Images)).
		Float64("total", grade.Total).
		Msg("Submission graded from page images")

	s.status.Update(ctx, in.SubmissionID, models.StepCompleted)
	return nil
}

// RecomputeSimilarity re-runs pairwise comparison for every question of the
// exam over all answers currently on file, upserting flags that clear both
// thresholds. Self-pairs are skipped and pair order is normalized before
// persistence so symmetric duplicates collapse onto one flag.
func (s *Service) RecomputeSimilarity(ctx context.Context, exam *models.Exam) error {
	var firstErr error
	for _, q := range exam.Questions {
		stored, err := s.subs.GetAnswersByQuestion(ctx, exam.ID, q.Idx)
		if err != nil {
			metrics.SimilarityRuns.WithLabelValues("failed").Inc()
			if firstErr == nil {
				firstErr = fmt.Errorf("load answers for question %d: %w", q.Idx, err)
			}
			continue
		}

		refs := make([]similarity.AnswerRef, len(stored))
		for i, a := range stored {
			refs[i] = similarity.AnswerRef{SubmissionID: a.SubmissionID, Text: a.Text}
		}

		candidates, err := s.engine.FlagPairs(ctx, q.Idx, refs, s.semThreshold, s.jaccThreshold)
		if err != nil {
			metrics.SimilarityRuns.WithLabelValues("failed").Inc()
			if firstErr == nil {
				firstErr = fmt.Errorf("flag pairs for question %d: %w", q.Idx, err)
			}
			continue
		}
		metrics.SimilarityRuns.WithLabelValues("completed").Inc()

		for _, cand := range candidates {
			if cand.SubmissionA == cand.SubmissionB {
				continue
			}
			a, b := cand.SubmissionA, cand.SubmissionB
			if a > b {
				a, b = b, a
			}
			flag := &models.SimilarityFlag{
				ExamID:      exam.ID,
				SubmissionA: a,
				SubmissionB: b,
				QuestionIdx: cand.QuestionIdx,
				Semantic:    cand.Semantic,
				Jaccard:     cand.LexicalJaccard,
				Reason:      fmt.Sprintf("Q%d: cosine %.2f, jacc %.2f", cand.QuestionIdx, cand.Semantic, cand.LexicalJaccard),
			}
			inserted, err := s.flags.UpsertFlag(ctx, flag)
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("upsert flag for question %d: %w", q.Idx, err)
				}
				continue
			}
			if inserted {
				metrics.SimilarityFlags.Inc()
				log.Warn().
					Str("examId", exam.ID).
					Int("questionIdx", cand.QuestionIdx).
					Str("submissionA", a).
					Str("submissionB", b).
					Float64("semantic", cand.Semantic).
					Float64("jaccard", cand.LexicalJaccard).
					Msg("Similarity flag raised")
			}
		}
	}
	return firstErr
}

func (s *Service) markFailed(ctx context.Context, submissionID string) {
	s.status.Update(ctx, submissionID, models.StepFailed)
	if err := s.subs.UpdateSubmissionStatus(ctx, submissionID, models.StatusFailed); err != nil {
		log.Error().Err(err).Str("submissionId", submissionID).Msg("Failed to mark submission failed")
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
