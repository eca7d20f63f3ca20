package models

import (
	"time"
)

// Submission statuses. A submission that cannot be scored because a grading
// backend is down stays retryable (failed), it is never recorded as graded
// with a false zero.
const (
	StatusPending = "pending"
	StatusGraded  = "graded"
	StatusFailed  = "failed"
)

// IncomingSubmission is a submission as received from the HTTP API or the
// Redis stream: extracted document text, not yet segmented. Images carries
// the scanned page images when the upstream pipeline could not extract
// usable text (handwritten or photographed work).
type IncomingSubmission struct {
	SubmissionID string   `json:"submissionId"`
	ExamID       string   `json:"examId"`
	StudentID    string   `json:"studentId"`
	Text         string   `json:"text"`
	Images       [][]byte `json:"images,omitempty"`
}

// Submission is the persisted record of one student's attempt.
type Submission struct {
	ID          string    `bson:"submissionId" json:"submissionId"`
	ExamID      string    `bson:"examId" json:"examId"`
	StudentID   string    `bson:"studentId" json:"studentId"`
	Status      string    `bson:"status" json:"status"`
	SubmittedAt time.Time `bson:"submittedAt" json:"submittedAt"`
}

// Answer is the text attributed to one question index of a submission.
type Answer struct {
	SubmissionID string `bson:"submissionId" json:"submissionId"`
	ExamID       string `bson:"examId" json:"examId"`
	QuestionIdx  int    `bson:"questionIdx" json:"questionIdx"`
	Text         string `bson:"text" json:"text"`
}
