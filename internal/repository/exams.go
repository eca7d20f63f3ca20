package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/autogradeai/sage/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const examsCollection = "exams"

// ErrNotFound is returned when a lookup matches no document.
var ErrNotFound = errors.New("not found")

type ExamsRepository struct {
	mongoRepo *MongoRepository
}

func NewExamsRepository(mongoRepo *MongoRepository) *ExamsRepository {
	return &ExamsRepository{
		mongoRepo: mongoRepo,
	}
}

func (r *ExamsRepository) InsertExam(ctx context.Context, exam *models.Exam) error {
	exam.CreatedAt = time.Now()
	if err := r.mongoRepo.InsertOne(ctx, examsCollection, exam); err != nil {
		return fmt.Errorf("failed to insert exam: %w", err)
	}
	return nil
}

func (r *ExamsRepository) GetExam(ctx context.Context, examID string) (*models.Exam, error) {
	filter := bson.M{"examId": examID}

	var exam models.Exam
	err := r.mongoRepo.FindOne(ctx, examsCollection, filter).Decode(&exam)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("exam %s: %w", examID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find exam: %w", err)
	}
	return &exam, nil
}
