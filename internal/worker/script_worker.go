package worker

import (
	"context"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/adscript/api/internal/client"
	"github.com/adscript/api/internal/model"
	"github.com/adscript/api/internal/service"
)

// ScriptWorker processes script generation jobs
type ScriptWorker struct {
	projects  *service.ProjectService
	generator client.ScriptGenerator
}

// NewScriptWorker creates a new script worker
func NewScriptWorker(projects *service.ProjectService, generator client.ScriptGenerator) *ScriptWorker {
	return &ScriptWorker{
		projects:  projects,
		generator: generator,
	}
}

// ProcessTask handles script task processing
func (w *ScriptWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var job model.ScriptJobPayload
	jobID, err := decodeTask(t, &job)
	if err != nil {
		log.Printf("Dropping script task %s: %v", jobID, err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return w.Run(ctx, &job)
}

// Run generates the script and stores it as the project's document
func (w *ScriptWorker) Run(ctx context.Context, job *model.ScriptJobPayload) error {
	log.Printf("Starting script job %s for project %d", job.JobID, job.ProjectID)

	blocks, err := w.generator.Generate(ctx, job.ProductDescription)

	fctx, cancel := finalizeContext(ctx)
	defer cancel()

	if err != nil {
		w.projects.FailScript(fctx, job, "Script generation failed")
		return err
	}
	if len(blocks) == 0 {
		w.projects.FailScript(fctx, job, "Script generation returned no blocks")
		return fmt.Errorf("script generation returned no blocks")
	}

	if err := w.projects.CompleteScript(fctx, job, blocks); err != nil {
		w.projects.FailScript(fctx, job, "Failed to store script")
		return err
	}

	log.Printf("Script job %s completed", job.JobID)
	return nil
}
