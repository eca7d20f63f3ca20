package workflow

import (
	"context"
	"time"

	redisInfra "github.com/autogradeai/sage/internal/infra/redis"
	"github.com/autogradeai/sage/internal/models"
	"github.com/rs/zerolog/log"
)

const statusTTL = 12 * time.Hour

// StatusTracker mirrors grading pipeline progress into Redis so the upstream
// workflow can poll it. Best-effort: a failed status write never fails the
// grading run.
type StatusTracker struct {
	redis *redisInfra.Client
}

func NewStatusTracker(client *redisInfra.Client) *StatusTracker {
	return &StatusTracker{redis: client}
}

func (t *StatusTracker) Update(ctx context.Context, submissionID string, step models.Step) {
	if t == nil || t.redis == nil {
		return
	}
	key := "grading_status:" + submissionID
	if err := t.redis.Set(ctx, key, string(step), statusTTL).Err(); err != nil {
		log.Warn().Err(err).
			Str("submissionId", submissionID).
			Str("step", string(step)).
			Msg("Failed to update grading status")
	}
}
