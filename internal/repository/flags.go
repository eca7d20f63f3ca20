package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/autogradeai/sage/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const flagsCollection = "similarity_flags"

type FlagsRepository struct {
	mongoRepo *MongoRepository
}

func NewFlagsRepository(mongoRepo *MongoRepository) *FlagsRepository {
	return &FlagsRepository{
		mongoRepo: mongoRepo,
	}
}

// EnsureIndexes creates the unique compound index the flag upsert relies on.
// Without it, concurrent upserts on the same filter can both insert; with it,
// the loser of the race gets a duplicate-key error that UpsertFlag treats as
// already-flagged. Called once at startup.
func (r *FlagsRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.mongoRepo.GetCollection(flagsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "examId", Value: 1},
			{Key: "submissionA", Value: 1},
			{Key: "submissionB", Value: 1},
			{Key: "questionIdx", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create similarity flag index: %w", err)
	}
	return nil
}

// UpsertFlag records a flag for (examId, submissionA, submissionB,
// questionIdx) exactly once, backed by the unique index from EnsureIndexes.
// Returns true if a new flag was inserted.
func (r *FlagsRepository) UpsertFlag(ctx context.Context, flag *models.SimilarityFlag) (bool, error) {
	filter := bson.M{
		"examId":      flag.ExamID,
		"submissionA": flag.SubmissionA,
		"submissionB": flag.SubmissionB,
		"questionIdx": flag.QuestionIdx,
	}
	update := bson.M{
		"$setOnInsert": bson.M{
			"examId":      flag.ExamID,
			"submissionA": flag.SubmissionA,
			"submissionB": flag.SubmissionB,
			"questionIdx": flag.QuestionIdx,
			"semantic":    flag.Semantic,
			"jaccard":     flag.Jaccard,
			"reason":      flag.Reason,
			"createdAt":   time.Now(),
		},
	}

	res, err := r.mongoRepo.UpdateOne(ctx, flagsCollection, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		// A concurrent run won the insert race; the flag is on file.
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to upsert similarity flag: %w", err)
	}
	return res.UpsertedCount > 0, nil
}

func (r *FlagsRepository) ListFlagsByExam(ctx context.Context, examID string) ([]models.SimilarityFlag, error) {
	filter := bson.M{"examId": examID}

	cursor, err := r.mongoRepo.FindMany(ctx, flagsCollection, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find similarity flags: %w", err)
	}
	defer cursor.Close(ctx)

	var flags []models.SimilarityFlag
	if err := cursor.All(ctx, &flags); err != nil {
		return nil, fmt.Errorf("failed to decode similarity flags: %w", err)
	}
	return flags, nil
}
