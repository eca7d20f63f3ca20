package models

import (
	"time"
)

// Step tracks where a submission is in the grading pipeline. Mirrored into
// Redis so the upstream workflow can poll progress.
type Step string

const (
	StepReceived   Step = "received"
	StepSegmenting Step = "segmenting"
	StepScoring    Step = "scoring"
	StepSimilarity Step = "similarity"
	StepCompleted  Step = "completed"
	StepFailed     Step = "failed"
)

// Signals are the raw component similarities behind a deterministic score,
// each in [0,1].
type Signals struct {
	Semantic        float64 `bson:"semantic" json:"semantic"`
	Lexical         float64 `bson:"lexical" json:"lexical"`
	KeywordHitRatio float64 `bson:"keywordHitRatio" json:"keywordHitRatio"`
}

// Feedback accompanies a score. Strengths and Missing are keyword-level;
// Rationale is free text (generative mode only).
type Feedback struct {
	Strengths []string `bson:"strengths" json:"strengths"`
	Missing   []string `bson:"missing" json:"missing"`
	Rationale string   `bson:"rationale,omitempty" json:"rationale,omitempty"`
}

// ScoreResult is the outcome of grading a single answer. Points is always in
// [0, maxPoints]. Immutable once produced.
type ScoreResult struct {
	Points   float64  `bson:"points" json:"points"`
	Signals  Signals  `bson:"signals" json:"signals"`
	Feedback Feedback `bson:"feedback" json:"feedback"`
}

// Grade is the submission-level aggregate: total points plus the
// per-question breakdown, keyed by question index.
type Grade struct {
	SubmissionID string                 `bson:"submissionId" json:"submissionId"`
	ExamID       string                 `bson:"examId" json:"examId"`
	Total        float64                `bson:"total" json:"total"`
	Breakdown    map[string]ScoreResult `bson:"breakdown" json:"breakdown"`
	CreatedAt    time.Time              `bson:"createdAt" json:"createdAt"`
}

// SimilarityCandidate is one suspicious pair as emitted by the similarity
// engine, before persistence. Order-sensitive as emitted: A precedes B in
// the input sequence.
type SimilarityCandidate struct {
	SubmissionA    string  `json:"submissionA"`
	SubmissionB    string  `json:"submissionB"`
	QuestionIdx    int     `json:"questionIdx"`
	Semantic       float64 `json:"semantic"`
	LexicalJaccard float64 `json:"lexicalJaccard"`
}

// SimilarityFlag is a persisted candidate. SubmissionA/SubmissionB are
// order-normalized (A < B) so the unique key on
// (examId, submissionA, submissionB, questionIdx) dedups symmetric pairs.
type SimilarityFlag struct {
	ExamID      string    `bson:"examId" json:"examId"`
	SubmissionA string    `bson:"submissionA" json:"submissionA"`
	SubmissionB string    `bson:"submissionB" json:"submissionB"`
	QuestionIdx int       `bson:"questionIdx" json:"questionIdx"`
	Semantic    float64   `bson:"semantic" json:"semantic"`
	Jaccard     float64   `bson:"jaccard" json:"jaccard"`
	Reason      string    `bson:"reason" json:"reason"`
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
}
