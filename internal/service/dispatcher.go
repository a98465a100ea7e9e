package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adscript/api/internal/model"
)

const (
	TaskTypeImage  = "image:generate"
	TaskTypeScript = "script:generate"

	QueueImages  = "images"
	QueueScripts = "scripts"
)

// Dispatcher hands owned job snapshots to the background driver
type Dispatcher interface {
	DispatchImage(ctx context.Context, payload *model.ImageJobPayload) error
	DispatchScript(ctx context.Context, payload *model.ScriptJobPayload) error
}

// TaskEnvelope is the asynq task body
type TaskEnvelope struct {
	JobID   string          `json:"jobId"`
	Payload json.RawMessage `json:"payload"`
}

func newTask(taskType, jobID string, payload interface{}) (*asynq.Task, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	body, err := json.Marshal(TaskEnvelope{JobID: jobID, Payload: payloadBytes})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body), nil
}

// imageTaskMargin covers the source read and the artifact write around the
// inference call
const imageTaskMargin = 5 * time.Minute

// ImageTaskTimeout is the asynq deadline of an image task. A task may wait
// for an inference slot behind every other worker before its own call, so
// the deadline allows one full inference timeout per round of slots.
func ImageTaskTimeout(inference time.Duration, workers, slots int) time.Duration {
	if workers < 1 {
		workers = 1
	}
	if slots < 1 {
		slots = 1
	}
	rounds := (workers + slots - 1) / slots
	return time.Duration(rounds)*inference + imageTaskMargin
}

// AsynqDispatcher enqueues jobs on redis. Jobs are never retried: a failed
// image stays failed until the user asks again.
type AsynqDispatcher struct {
	client       *asynq.Client
	imageTimeout time.Duration
}

// NewAsynqDispatcher creates a dispatcher. imageTimeout replaces asynq's
// default task deadline for image jobs; zero keeps the default.
func NewAsynqDispatcher(client *asynq.Client, imageTimeout time.Duration) *AsynqDispatcher {
	return &AsynqDispatcher{client: client, imageTimeout: imageTimeout}
}

func (d *AsynqDispatcher) DispatchImage(ctx context.Context, payload *model.ImageJobPayload) error {
	return d.enqueue(ctx, TaskTypeImage, payload.JobID, payload, taskOptions(QueueImages, d.imageTimeout))
}

func (d *AsynqDispatcher) DispatchScript(ctx context.Context, payload *model.ScriptJobPayload) error {
	return d.enqueue(ctx, TaskTypeScript, payload.JobID, payload, taskOptions(QueueScripts, 0))
}

func taskOptions(queue string, timeout time.Duration) []asynq.Option {
	opts := []asynq.Option{
		asynq.Queue(queue),
		asynq.MaxRetry(0),
		asynq.Retention(24 * time.Hour),
	}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	return opts
}

func (d *AsynqDispatcher) enqueue(ctx context.Context, taskType, jobID string, payload interface{}, opts []asynq.Option) error {
	task, err := newTask(taskType, jobID, payload)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	if _, err := d.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// ImageJobFunc runs one image job to completion
type ImageJobFunc func(ctx context.Context, payload *model.ImageJobPayload) error

// ScriptJobFunc runs one script job to completion
type ScriptJobFunc func(ctx context.Context, payload *model.ScriptJobPayload) error

// InlineDispatcher runs jobs on goroutines of this process. It is used when
// no redis is available and in tests.
type InlineDispatcher struct {
	mu     sync.RWMutex
	image  ImageJobFunc
	script ScriptJobFunc
	wg     sync.WaitGroup
}

func NewInlineDispatcher() *InlineDispatcher {
	return &InlineDispatcher{}
}

// Handle registers the job runners. Jobs dispatched before Handle fail.
func (d *InlineDispatcher) Handle(image ImageJobFunc, script ScriptJobFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.image = image
	d.script = script
}

func (d *InlineDispatcher) DispatchImage(_ context.Context, payload *model.ImageJobPayload) error {
	d.mu.RLock()
	run := d.image
	d.mu.RUnlock()
	if run == nil {
		return fmt.Errorf("no image job handler registered")
	}

	job := *payload
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := run(context.Background(), &job); err != nil {
			log.Printf("Image job %s failed: %v", job.JobID, err)
		}
	}()
	return nil
}

func (d *InlineDispatcher) DispatchScript(_ context.Context, payload *model.ScriptJobPayload) error {
	d.mu.RLock()
	run := d.script
	d.mu.RUnlock()
	if run == nil {
		return fmt.Errorf("no script job handler registered")
	}

	job := *payload
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := run(context.Background(), &job); err != nil {
			log.Printf("Script job %s failed: %v", job.JobID, err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched job has finished
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
