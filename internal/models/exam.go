package models

import (
	"time"
)

// AnswerKey is the reference content for one question: the official solution
// text plus the salient terms a correct answer should contain.
type AnswerKey struct {
	Text     string   `bson:"text" json:"text"`
	Keywords []string `bson:"keywords" json:"keywords"`
}

// Question is one question of an exam. Idx is the externally meaningful
// ordinal used to align segmented submission text with stored questions.
type Question struct {
	Idx       int       `bson:"idx" json:"idx"`
	Prompt    string    `bson:"prompt" json:"prompt"`
	MaxPoints float64   `bson:"maxPoints" json:"maxPoints"`
	Key       AnswerKey `bson:"answerKey" json:"answerKey"`
}

// Exam groups questions under one assessment. SolutionImages are the
// instructor's worked-solution pages, used by image-based grading when a
// submission arrives without usable text.
type Exam struct {
	ID             string     `bson:"examId" json:"examId"`
	Title          string     `bson:"title" json:"title"`
	DueAt          time.Time  `bson:"dueAt" json:"dueAt"`
	CreatedBy      string     `bson:"createdBy" json:"createdBy"`
	Questions      []Question `bson:"questions" json:"questions"`
	SolutionImages [][]byte   `bson:"solutionImages,omitempty" json:"solutionImages,omitempty"`
	CreatedAt      time.Time  `bson:"createdAt" json:"createdAt"`
}

// QuestionByIdx builds an index-keyed lookup over the exam's questions.
func (e *Exam) QuestionByIdx() map[int]Question {
	m := make(map[int]Question, len(e.Questions))
	for _, q := range e.Questions {
		m[q.Idx] = q
	}
	return m
}
