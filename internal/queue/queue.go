// Package queue hands render requests from the API to the worker over a
// Redis list.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const QueueRender = "queue:render"

type Queue struct {
	client *redis.Client
}

// Job is one queued render.
type Job struct {
	ID         uuid.UUID `json:"id"`
	RenderID   uuid.UUID `json:"render_id"`
	SceneCount int       `json:"scene_count,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Enqueue(ctx context.Context, queueName string, job *Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.RPush(ctx, queueName, data).Err()
}

// Dequeue blocks for up to timeout. It returns nil, nil when nothing arrived.
func (q *Queue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, queueName).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	return decodeJob(result[1])
}

func decodeJob(raw string) (*Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.RenderID == uuid.Nil {
		return nil, fmt.Errorf("job %s has no render id", job.ID)
	}
	return &job, nil
}

// EnqueueRender queues a render for the worker.
func (q *Queue) EnqueueRender(ctx context.Context, renderID uuid.UUID, sceneCount int) error {
	return q.Enqueue(ctx, QueueRender, &Job{
		ID:         uuid.New(),
		RenderID:   renderID,
		SceneCount: sceneCount,
	})
}
