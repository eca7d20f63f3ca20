package workflow

import (
	"context"
	"fmt"
	"testing"

	"github.com/autogradeai/sage/internal/grading"
	"github.com/autogradeai/sage/internal/models"
	"github.com/autogradeai/sage/internal/repository"
	"github.com/autogradeai/sage/internal/similarity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExamStore struct {
	exams map[string]*models.Exam
}

func (f *fakeExamStore) GetExam(ctx context.Context, examID string) (*models.Exam, error) {
	exam, ok := f.exams[examID]
	if !ok {
		return nil, fmt.Errorf("exam %s: %w", examID, repository.ErrNotFound)
	}
	return exam, nil
}

type fakeSubmissionStore struct {
	submissions map[string]*models.Submission
	answers     []models.Answer
	grades      map[string]*models.Grade
}

func newFakeSubmissionStore() *fakeSubmissionStore {
	return &fakeSubmissionStore{
		submissions: make(map[string]*models.Submission),
		grades:      make(map[string]*models.Grade),
	}
}

func (f *fakeSubmissionStore) UpsertSubmission(ctx context.Context, sub *models.Submission) error {
	f.submissions[sub.ID] = sub
	return nil
}

func (f *fakeSubmissionStore) UpdateSubmissionStatus(ctx context.Context, submissionID, status string) error {
	if sub, ok := f.submissions[submissionID]; ok {
		sub.Status = status
	}
	return nil
}

func (f *fakeSubmissionStore) ReplaceAnswers(ctx context.Context, submissionID string, answers []models.Answer) error {
	kept := f.answers[:0]
	for _, a := range f.answers {
		if a.SubmissionID != submissionID {
			kept = append(kept, a)
		}
	}
	f.answers = append(kept, answers...)
	return nil
}

func (f *fakeSubmissionStore) GetAnswersByQuestion(ctx context.Context, examID string, questionIdx int) ([]models.Answer, error) {
	var out []models.Answer
	for _, a := range f.answers {
		if a.ExamID == examID && a.QuestionIdx == questionIdx {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeSubmissionStore) UpsertGrade(ctx context.Context, grade *models.Grade) error {
	f.grades[grade.SubmissionID] = grade
	return nil
}

type fakeFlagStore struct {
	flags map[string]*models.SimilarityFlag
}

func newFakeFlagStore() *fakeFlagStore {
	return &fakeFlagStore{flags: make(map[string]*models.SimilarityFlag)}
}

func (f *fakeFlagStore) UpsertFlag(ctx context.Context, flag *models.SimilarityFlag) (bool, error) {
	key := fmt.Sprintf("%s|%s|%s|%d", flag.ExamID, flag.SubmissionA, flag.SubmissionB, flag.QuestionIdx)
	if _, exists := f.flags[key]; exists {
		return false, nil
	}
	f.flags[key] = flag
	return true, nil
}

// fixedScorer returns a fixed fraction of each question's max points.
type fixedScorer struct {
	fraction float64
	err      error
	calls    int
}

func (s *fixedScorer) ScoreAnswer(ctx context.Context, answer string, q models.Question) (models.ScoreResult, error) {
	s.calls++
	if s.err != nil {
		return models.ScoreResult{}, s.err
	}
	return models.ScoreResult{Points: s.fraction * q.MaxPoints}, nil
}

// flakyScorer fails its first failUntil calls, then scores full points.
type flakyScorer struct {
	failUntil int
	calls     int
}

func (s *flakyScorer) ScoreAnswer(ctx context.Context, answer string, q models.Question) (models.ScoreResult, error) {
	s.calls++
	if s.calls <= s.failUntil {
		return models.ScoreResult{}, fmt.Errorf("%w: backend down", grading.ErrScoringUnavailable)
	}
	return models.ScoreResult{Points: q.MaxPoints}, nil
}

// fakeImageScorer records which questions were graded from images.
type fakeImageScorer struct {
	questionIdxs []int
	pointsPerQ   float64
}

func (s *fakeImageScorer) ScoreImages(ctx context.Context, questionIdx int, studentImgs, solutionImgs [][]byte, maxPoints float64) (models.ScoreResult, error) {
	s.questionIdxs = append(s.questionIdxs, questionIdx)
	return models.ScoreResult{Points: s.pointsPerQ}, nil
}

// identicalTextEngine flags every pair with identical text.
type identicalTextEngine struct{}

func (identicalTextEngine) FlagPairs(ctx context.Context, questionIdx int, answers []similarity.AnswerRef, semThreshold, jaccThreshold float64) ([]models.SimilarityCandidate, error) {
	var out []models.SimilarityCandidate
	for i := 0; i < len(answers); i++ {
		for j := i + 1; j < len(answers); j++ {
			if answers[i].Text == answers[j].Text && answers[i].Text != "" {
				out = append(out, models.SimilarityCandidate{
					SubmissionA:    answers[i].SubmissionID,
					SubmissionB:    answers[j].SubmissionID,
					QuestionIdx:    questionIdx,
					Semantic:       1,
					LexicalJaccard: 1,
				})
			}
		}
	}
	return out, nil
}

type failingEngine struct{}

func (failingEngine) FlagPairs(ctx context.Context, questionIdx int, answers []similarity.AnswerRef, semThreshold, jaccThreshold float64) ([]models.SimilarityCandidate, error) {
	return nil, fmt.Errorf("%w: embed batch down", similarity.ErrSimilarityUnavailable)
}

func twoQuestionExam() *models.Exam {
	return &models.Exam{
		ID:    "exam-1",
		Title: "Midterm",
		Questions: []models.Question{
			{Idx: 1, MaxPoints: 10, Key: models.AnswerKey{Text: "key one"}},
			{Idx: 2, MaxPoints: 5, Key: models.AnswerKey{Text: "key two"}},
		},
	}
}

func newTestService(exam *models.Exam, subs *fakeSubmissionStore, flags *fakeFlagStore, scorer AnswerScorer, engine SimilarityEngine) *Service {
	exams := &fakeExamStore{exams: map[string]*models.Exam{exam.ID: exam}}
	return NewService(exams, subs, flags, scorer, nil, engine, nil, "deterministic", 0.9, 0.8)
}

func newTestVisionService(exam *models.Exam, subs *fakeSubmissionStore, flags *fakeFlagStore, scorer AnswerScorer, vision ImageScorer, engine SimilarityEngine) *Service {
	exams := &fakeExamStore{exams: map[string]*models.Exam{exam.ID: exam}}
	return NewService(exams, subs, flags, scorer, vision, engine, nil, "generative", 0.9, 0.8)
}

func TestProcessSubmission_GradesAllSegments(t *testing.T) {
	subs := newFakeSubmissionStore()
	scorer := &fixedScorer{fraction: 0.5}
	svc := newTestService(twoQuestionExam(), subs, newFakeFlagStore(), scorer, identicalTextEngine{})

	err := svc.ProcessSubmission(context.Background(), models.IncomingSubmission{
		SubmissionID: "sub-1",
		ExamID:       "exam-1",
		StudentID:    "stu-1",
		Text:         "Q1) first answer\nQ2) second answer",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, scorer.calls)
	require.Contains(t, subs.grades, "sub-1")
	grade := subs.grades["sub-1"]
	assert.Equal(t, 7.5, grade.Total)
	assert.Len(t, grade.Breakdown, 2)
	assert.Equal(t, 5.0, grade.Breakdown["1"].Points)
	assert.Equal(t, 2.5, grade.Breakdown["2"].Points)
	assert.Equal(t, models.StatusGraded, subs.submissions["sub-1"].Status)
}

func TestProcessSubmission_IgnoresSegmentsWithoutQuestions(t *testing.T) {
	subs := newFakeSubmissionStore()
	scorer := &fixedScorer{fraction: 1}
	svc := newTestService(twoQuestionExam(), subs, newFakeFlagStore(), scorer, identicalTextEngine{})

	err := svc.ProcessSubmission(context.Background(), models.IncomingSubmission{
		SubmissionID: "sub-1",
		ExamID:       "exam-1",
		StudentID:    "stu-1",
		Text:         "Q1) real answer\nQ7) not on this exam",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, scorer.calls)
	assert.Len(t, subs.answers, 1)
	assert.Equal(t, 1, subs.answers[0].QuestionIdx)
}

func TestProcessSubmission_UnknownExam(t *testing.T) {
	subs := newFakeSubmissionStore()
	svc := newTestService(twoQuestionExam(), subs, newFakeFlagStore(), &fixedScorer{fraction: 1}, identicalTextEngine{})

	err := svc.ProcessSubmission(context.Background(), models.IncomingSubmission{
		SubmissionID: "sub-1",
		ExamID:       "missing-exam",
		StudentID:    "stu-1",
		Text:         "Q1) whatever",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Empty(t, subs.grades)
}

func TestProcessSubmission_ScoringFailureLeavesRetryableState(t *testing.T) {
	subs := newFakeSubmissionStore()
	scorer := &fixedScorer{err: fmt.Errorf("%w: backend down", grading.ErrScoringUnavailable)}
	svc := newTestService(twoQuestionExam(), subs, newFakeFlagStore(), scorer, identicalTextEngine{})

	err := svc.ProcessSubmission(context.Background(), models.IncomingSubmission{
		SubmissionID: "sub-1",
		ExamID:       "exam-1",
		StudentID:    "stu-1",
		Text:         "Q1) an answer",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, grading.ErrScoringUnavailable)

	// No grade on file and the submission is failed, never graded-with-zero
	assert.Empty(t, subs.grades)
	assert.Equal(t, models.StatusFailed, subs.submissions["sub-1"].Status)
}

func TestProcessSubmission_RetryAfterFailureLeavesSingleRecordSet(t *testing.T) {
	subs := newFakeSubmissionStore()
	scorer := &flakyScorer{failUntil: 1}
	svc := newTestService(twoQuestionExam(), subs, newFakeFlagStore(), scorer, identicalTextEngine{})

	in := models.IncomingSubmission{
		SubmissionID: "sub-1",
		ExamID:       "exam-1",
		StudentID:    "stu-1",
		Text:         "Q1) first answer\nQ2) second answer",
	}

	err := svc.ProcessSubmission(context.Background(), in)
	require.Error(t, err)
	assert.Equal(t, models.StatusFailed, subs.submissions["sub-1"].Status)

	// The stream consumer redelivers the same message on failure; the rerun
	// must converge on one submission, one answer row per question, one grade.
	require.NoError(t, svc.ProcessSubmission(context.Background(), in))

	assert.Len(t, subs.submissions, 1)
	assert.Len(t, subs.answers, 2)
	assert.Len(t, subs.grades, 1)
	assert.Equal(t, models.StatusGraded, subs.submissions["sub-1"].Status)
	assert.Equal(t, 15.0, subs.grades["sub-1"].Total)
}

func TestProcessSubmission_FlagsIdenticalAnswersAcrossSubmissions(t *testing.T) {
	subs := newFakeSubmissionStore()
	flags := newFakeFlagStore()
	svc := newTestService(twoQuestionExam(), subs, flags, &fixedScorer{fraction: 1}, identicalTextEngine{})

	for _, id := range []string{"sub-1", "sub-2"} {
		err := svc.ProcessSubmission(context.Background(), models.IncomingSubmission{
			SubmissionID: id,
			ExamID:       "exam-1",
			StudentID:    "stu-" + id,
			Text:         "Q1) copied verbatim answer\nQ2) unique to " + id,
		})
		require.NoError(t, err)
	}

	require.Len(t, flags.flags, 1)
	for _, flag := range flags.flags {
		assert.Equal(t, "sub-1", flag.SubmissionA)
		assert.Equal(t, "sub-2", flag.SubmissionB)
		assert.Equal(t, 1, flag.QuestionIdx)
		assert.Contains(t, flag.Reason, "Q1")
	}
}

func TestProcessSubmission_SimilarityFailureDoesNotFailGrading(t *testing.T) {
	subs := newFakeSubmissionStore()
	svc := newTestService(twoQuestionExam(), subs, newFakeFlagStore(), &fixedScorer{fraction: 1}, failingEngine{})

	err := svc.ProcessSubmission(context.Background(), models.IncomingSubmission{
		SubmissionID: "sub-1",
		ExamID:       "exam-1",
		StudentID:    "stu-1",
		Text:         "Q1) an answer",
	})
	require.NoError(t, err)

	assert.Contains(t, subs.grades, "sub-1")
	assert.Equal(t, models.StatusGraded, subs.submissions["sub-1"].Status)
}

func TestProcessSubmission_UnreadableScanRoutedToImageGrading(t *testing.T) {
	subs := newFakeSubmissionStore()
	flags := newFakeFlagStore()
	scorer := &fixedScorer{fraction: 1}
	vision := &fakeImageScorer{pointsPerQ: 4}
	exam := twoQuestionExam()
	exam.SolutionImages = [][]byte{[]byte("solution-page")}
	svc := newTestVisionService(exam, subs, flags, scorer, vision, identicalTextEngine{})

	err := svc.ProcessSubmission(context.Background(), models.IncomingSubmission{
		SubmissionID: "sub-1",
		ExamID:       "exam-1",
		StudentID:    "stu-1",
		Text:         "~~ !!",
		Images:       [][]byte{[]byte("page-1"), []byte("page-2")},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, scorer.calls)
	assert.Equal(t, []int{1, 2}, vision.questionIdxs)
	require.Contains(t, subs.grades, "sub-1")
	assert.Equal(t, 8.0, subs.grades["sub-1"].Total)
	assert.Equal(t, models.StatusGraded, subs.submissions["sub-1"].Status)

	// No answer text exists, so nothing enters the similarity comparison
	assert.Empty(t, subs.answers)
	assert.Empty(t, flags.flags)
}

func TestProcessSubmission_ReadableTextBypassesImageGrading(t *testing.T) {
	subs := newFakeSubmissionStore()
	scorer := &fixedScorer{fraction: 1}
	vision := &fakeImageScorer{pointsPerQ: 4}
	svc := newTestVisionService(twoQuestionExam(), subs, newFakeFlagStore(), scorer, vision, identicalTextEngine{})

	err := svc.ProcessSubmission(context.Background(), models.IncomingSubmission{
		SubmissionID: "sub-1",
		ExamID:       "exam-1",
		StudentID:    "stu-1",
		Text:         "Q1) a perfectly readable answer\nQ2) another readable answer",
		Images:       [][]byte{[]byte("page-1")},
	})
	require.NoError(t, err)

	assert.Empty(t, vision.questionIdxs)
	assert.Equal(t, 2, scorer.calls)
	assert.Equal(t, 15.0, subs.grades["sub-1"].Total)
}

func TestRecomputeSimilarity_NormalizesPairOrder(t *testing.T) {
	subs := newFakeSubmissionStore()
	flags := newFakeFlagStore()
	exam := twoQuestionExam()
	svc := newTestService(exam, subs, flags, &fixedScorer{fraction: 1}, identicalTextEngine{})

	// Answers inserted in reverse id order
	subs.answers = []models.Answer{
		{SubmissionID: "sub-9", ExamID: "exam-1", QuestionIdx: 1, Text: "same"},
		{SubmissionID: "sub-2", ExamID: "exam-1", QuestionIdx: 1, Text: "same"},
	}

	require.NoError(t, svc.RecomputeSimilarity(context.Background(), exam))

	require.Len(t, flags.flags, 1)
	for _, flag := range flags.flags {
		assert.Equal(t, "sub-2", flag.SubmissionA)
		assert.Equal(t, "sub-9", flag.SubmissionB)
	}
}

func TestRecomputeSimilarity_IdempotentAcrossRuns(t *testing.T) {
	subs := newFakeSubmissionStore()
	flags := newFakeFlagStore()
	exam := twoQuestionExam()
	svc := newTestService(exam, subs, flags, &fixedScorer{fraction: 1}, identicalTextEngine{})

	subs.answers = []models.Answer{
		{SubmissionID: "sub-1", ExamID: "exam-1", QuestionIdx: 1, Text: "same"},
		{SubmissionID: "sub-2", ExamID: "exam-1", QuestionIdx: 1, Text: "same"},
	}

	require.NoError(t, svc.RecomputeSimilarity(context.Background(), exam))
	require.NoError(t, svc.RecomputeSimilarity(context.Background(), exam))

	assert.Len(t, flags.flags, 1)
}

func TestProcessSubmission_TotalRoundedToTwoDecimals(t *testing.T) {
	subs := newFakeSubmissionStore()
	svc := newTestService(twoQuestionExam(), subs, newFakeFlagStore(), &fixedScorer{fraction: 1.0 / 3.0}, identicalTextEngine{})

	err := svc.ProcessSubmission(context.Background(), models.IncomingSubmission{
		SubmissionID: "sub-1",
		ExamID:       "exam-1",
		StudentID:    "stu-1",
		Text:         "Q1) a\nQ2) b",
	})
	require.NoError(t, err)

	// 10/3 + 5/3 rounds to 5.0 exactly
	assert.Equal(t, 5.0, subs.grades["sub-1"].Total)
}

func TestProcessSubmission_SelfPairsNeverFlagged(t *testing.T) {
	subs := newFakeSubmissionStore()
	flags := newFakeFlagStore()
	exam := twoQuestionExam()
	svc := newTestService(exam, subs, flags, &fixedScorer{fraction: 1}, identicalTextEngine{})

	// A resubmission leaves two answer rows for the same submission id
	subs.answers = []models.Answer{
		{SubmissionID: "sub-1", ExamID: "exam-1", QuestionIdx: 1, Text: "same"},
		{SubmissionID: "sub-1", ExamID: "exam-1", QuestionIdx: 1, Text: "same"},
	}

	require.NoError(t, svc.RecomputeSimilarity(context.Background(), exam))
	assert.Empty(t, flags.flags)
}
