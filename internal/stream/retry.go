package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	maxAttempts    = 3
	initialBackoff = 2 * time.Second
)

// RetryHandler retries message processing with exponential backoff and parks
// messages that keep failing on a dead-letter list for manual inspection.
type RetryHandler struct {
	client        *redis.Client
	deadLetterKey string
}

func NewRetryHandler(client *redis.Client, deadLetterKey string) *RetryHandler {
	return &RetryHandler{
		client:        client,
		deadLetterKey: deadLetterKey,
	}
}

// RetryWithBackoff runs fn up to maxAttempts times. After the final failure
// the message payload is pushed to the dead-letter list and the last error
// returned.
func (h *RetryHandler) RetryWithBackoff(ctx context.Context, fn func() error, messageID string, fields map[string]interface{}) error {
	backoff := initialBackoff
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		log.Warn().Err(lastErr).
			Str("message_id", messageID).
			Int("attempt", attempt).
			Msg("Message processing failed")

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	h.sendToDeadLetter(ctx, messageID, fields, lastErr)
	return lastErr
}

func (h *RetryHandler) sendToDeadLetter(ctx context.Context, messageID string, fields map[string]interface{}, cause error) {
	entry := map[string]interface{}{
		"message_id": messageID,
		"fields":     fields,
		"error":      cause.Error(),
		"failed_at":  time.Now().Format(time.RFC3339),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		log.Error().Err(err).Str("message_id", messageID).Msg("Failed to marshal dead-letter entry")
		return
	}

	if err := h.client.LPush(ctx, h.deadLetterKey, payload).Err(); err != nil {
		log.Error().Err(err).Str("message_id", messageID).Msg("Failed to push message to dead-letter list")
		return
	}

	log.Error().
		Str("message_id", messageID).
		Str("dead_letter_key", h.deadLetterKey).
		Msg("Message moved to dead-letter list")
}
