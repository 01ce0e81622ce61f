package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// AuthorEvent is the small notification published after a mutation other
// clients may be displaying (publish, generation).
type AuthorEvent struct {
	Type   string    `json:"type"`
	QuizID uuid.UUID `json:"quiz_id,omitempty"`
}

// Notifier publishes authoring events to the course's pub/sub channel.
// Publishing is fire-and-forget; a nil Notifier is a no-op.
type Notifier struct {
	redis *redis.Client
}

func NewNotifier(redisClient *redis.Client) *Notifier {
	return &Notifier{redis: redisClient}
}

func (n *Notifier) Publish(ctx context.Context, courseID uuid.UUID, event AuthorEvent) {
	if n == nil || n.redis == nil {
		return
	}
	data, _ := json.Marshal(event)
	if err := n.redis.Publish(ctx, fmt.Sprintf("course_updates:%s", courseID), string(data)).Err(); err != nil {
		log.Printf("WARNING: failed to publish %s event for course %s: %v", event.Type, courseID, err)
	}
}
