package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adscript/api/internal/service"
)

// finalizeTimeout bounds the bookkeeping done after a job's own context ended
const finalizeTimeout = 30 * time.Second

// decodeTask unpacks the {jobId, payload} envelope of an asynq task
func decodeTask(t *asynq.Task, payload interface{}) (string, error) {
	var envelope service.TaskEnvelope
	if err := json.Unmarshal(t.Payload(), &envelope); err != nil {
		return "", fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	if err := json.Unmarshal(envelope.Payload, payload); err != nil {
		return envelope.JobID, fmt.Errorf("failed to unmarshal job payload: %w", err)
	}
	return envelope.JobID, nil
}

// finalizeContext outlives ctx so a job that timed out or was cancelled
// still leaves its ledger row in a terminal state.
func finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}
