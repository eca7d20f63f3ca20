package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/autogradeai/sage/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	submissionsCollection = "submissions"
	answersCollection     = "answers"
	gradesCollection      = "grades"
)

type SubmissionsRepository struct {
	mongoRepo *MongoRepository
}

func NewSubmissionsRepository(mongoRepo *MongoRepository) *SubmissionsRepository {
	return &SubmissionsRepository{
		mongoRepo: mongoRepo,
	}
}

// UpsertSubmission records a submission keyed on submissionId. Replaying the
// same submission (stream redelivery, retry after a scoring failure) updates
// the existing document instead of inserting a duplicate.
func (r *SubmissionsRepository) UpsertSubmission(ctx context.Context, sub *models.Submission) error {
	filter := bson.M{"submissionId": sub.ID}
	update := bson.M{
		"$set": bson.M{
			"examId":    sub.ExamID,
			"studentId": sub.StudentID,
			"status":    sub.Status,
		},
		"$setOnInsert": bson.M{
			"submissionId": sub.ID,
			"submittedAt":  time.Now(),
		},
	}
	if _, err := r.mongoRepo.UpdateOne(ctx, submissionsCollection, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to upsert submission: %w", err)
	}
	return nil
}

func (r *SubmissionsRepository) UpdateSubmissionStatus(ctx context.Context, submissionID, status string) error {
	filter := bson.M{"submissionId": submissionID}
	update := bson.M{"$set": bson.M{"status": status}}

	if _, err := r.mongoRepo.UpdateOne(ctx, submissionsCollection, filter, update); err != nil {
		return fmt.Errorf("failed to update submission status: %w", err)
	}
	return nil
}

// ReplaceAnswers replaces every answer row of a submission with the given
// set. Delete-then-insert keyed on submissionId keeps reprocessing runs from
// accumulating duplicate rows.
func (r *SubmissionsRepository) ReplaceAnswers(ctx context.Context, submissionID string, answers []models.Answer) error {
	if _, err := r.mongoRepo.DeleteMany(ctx, answersCollection, bson.M{"submissionId": submissionID}); err != nil {
		return fmt.Errorf("failed to delete stale answers: %w", err)
	}
	if len(answers) == 0 {
		return nil
	}
	docs := make([]interface{}, len(answers))
	for i, a := range answers {
		docs[i] = a
	}
	if err := r.mongoRepo.InsertMany(ctx, answersCollection, docs); err != nil {
		return fmt.Errorf("failed to insert answers: %w", err)
	}
	return nil
}

// GetAnswersByQuestion returns all answers on file for one question of an
// exam, oldest insertion first so similarity batches enumerate pairs in a
// stable order.
func (r *SubmissionsRepository) GetAnswersByQuestion(ctx context.Context, examID string, questionIdx int) ([]models.Answer, error) {
	filter := bson.M{"examId": examID, "questionIdx": questionIdx}

	cursor, err := r.mongoRepo.FindMany(ctx, answersCollection, filter,
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to find answers: %w", err)
	}
	defer cursor.Close(ctx)

	var answers []models.Answer
	if err := cursor.All(ctx, &answers); err != nil {
		return nil, fmt.Errorf("failed to decode answers: %w", err)
	}
	return answers, nil
}

// UpsertGrade records the grade for a submission, replacing any grade a
// previous run left behind so retries never accumulate duplicates.
func (r *SubmissionsRepository) UpsertGrade(ctx context.Context, grade *models.Grade) error {
	grade.CreatedAt = time.Now()
	filter := bson.M{"submissionId": grade.SubmissionID}
	if _, err := r.mongoRepo.ReplaceOne(ctx, gradesCollection, filter, grade, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to upsert grade: %w", err)
	}
	return nil
}

func (r *SubmissionsRepository) GetGrade(ctx context.Context, submissionID string) (*models.Grade, error) {
	filter := bson.M{"submissionId": submissionID}

	var grade models.Grade
	err := r.mongoRepo.FindOne(ctx, gradesCollection, filter).Decode(&grade)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("grade for submission %s: %w", submissionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find grade: %w", err)
	}
	return &grade, nil
}
