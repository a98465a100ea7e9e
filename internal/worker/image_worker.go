package worker

import (
	"context"
	"fmt"
	"log"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hibiken/asynq"

	"github.com/adscript/api/internal/client"
	"github.com/adscript/api/internal/model"
	"github.com/adscript/api/internal/service"
	"github.com/adscript/api/internal/storage"
)

// ImageWorker processes block image jobs
type ImageWorker struct {
	images    *service.ImageService
	inference client.ImageGenerator
	blobs     storage.BlobStore
}

// NewImageWorker creates a new image worker
func NewImageWorker(images *service.ImageService, inference client.ImageGenerator, blobs storage.BlobStore) *ImageWorker {
	return &ImageWorker{
		images:    images,
		inference: inference,
		blobs:     blobs,
	}
}

// ProcessTask handles image task processing
func (w *ImageWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var job model.ImageJobPayload
	jobID, err := decodeTask(t, &job)
	if err != nil {
		log.Printf("Dropping image task %s: %v", jobID, err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return w.Run(ctx, &job)
}

// Run generates or edits the image, stores the artifact and records it.
// A result whose ledger row was purged meanwhile is discarded.
func (w *ImageWorker) Run(ctx context.Context, job *model.ImageJobPayload) error {
	log.Printf("Starting image job %s: project %d block %d (%s)", job.JobID, job.ProjectID, job.BlockIndex, job.Mode)

	data, err := w.render(ctx, job)

	fctx, cancel := finalizeContext(ctx)
	defer cancel()

	if err != nil {
		w.images.Fail(fctx, job, err.Error())
		return err
	}

	key := storage.ImageKey(job.UserID, job.ProjectID, job.BlockIndex, job.Mode == model.ImageModeEdit, job.JobID)
	if err := w.blobs.Put(fctx, key, data, mimetype.Detect(data).String()); err != nil {
		w.images.Fail(fctx, job, "Failed to store image")
		return fmt.Errorf("failed to store image: %w", err)
	}

	applied, err := w.images.Complete(fctx, job, key)
	if err != nil {
		w.discard(fctx, key)
		w.images.Fail(fctx, job, "Failed to record image")
		return fmt.Errorf("failed to record image: %w", err)
	}
	if !applied {
		log.Printf("Image job %s finished after its block changed, discarding result", job.JobID)
		w.discard(fctx, key)
		return nil
	}

	log.Printf("Image job %s completed: %s", job.JobID, key)
	return nil
}

func (w *ImageWorker) render(ctx context.Context, job *model.ImageJobPayload) ([]byte, error) {
	if job.Mode != model.ImageModeEdit {
		data, err := w.inference.Generate(ctx, job.Prompt)
		if err != nil {
			return nil, fmt.Errorf("image generation failed: %w", err)
		}
		return data, nil
	}

	source, err := w.blobs.Get(ctx, job.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("source image not available: %w", err)
	}
	data, err := w.inference.Edit(ctx, job.Prompt, source)
	if err != nil {
		return nil, fmt.Errorf("image editing failed: %w", err)
	}
	return data, nil
}

func (w *ImageWorker) discard(ctx context.Context, key string) {
	if err := w.blobs.Delete(ctx, key); err != nil {
		log.Printf("Warning: failed to remove discarded image %s: %v", key, err)
	}
}
