package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Dispatcher hands a finished editing session over to whatever renders it.
type Dispatcher interface {
	Dispatch(ctx context.Context, p RenderPayload) error
}

// QueueDispatcher enqueues renders for cmd/worker.
type QueueDispatcher struct {
	client *asynq.Client
}

func NewQueueDispatcher(redisAddr string) *QueueDispatcher {
	return &QueueDispatcher{client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})}
}

func (q *QueueDispatcher) Dispatch(ctx context.Context, p RenderPayload) error {
	task, err := NewRenderTask(p)
	if err != nil {
		return err
	}
	// A render is never retried: videos already delivered would be sent twice.
	_, err = q.client.EnqueueContext(ctx, task, asynq.MaxRetry(0), asynq.TaskID(p.SessionID))
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TaskRenderSession, err)
	}
	return nil
}

func (q *QueueDispatcher) Close() error { return q.client.Close() }

func NewRenderTask(p RenderPayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal render payload: %w", err)
	}
	return asynq.NewTask(TaskRenderSession, b), nil
}

func ParseRenderTask(t *asynq.Task) (RenderPayload, error) {
	var p RenderPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return RenderPayload{}, fmt.Errorf("decode render payload: %w", err)
	}
	return p, nil
}
