// Package service implements the project, scenario and image operations
// on top of the repository, the blob store and the synchronizer.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/adscript/api/internal/apperr"
	"github.com/adscript/api/internal/model"
	"github.com/adscript/api/internal/repository"
	"github.com/adscript/api/internal/storage"
)

// Notifier pushes live updates to project subscribers
type Notifier interface {
	BroadcastScenario(projectID int64, operation string, blocks int)
	BroadcastImage(projectID int64, jobID string, blockIndex int, status model.ImageStatus, imagePath string)
	BroadcastScript(projectID int64, status model.ProjectStatus)
	BroadcastError(projectID int64, jobID, code, message string)
}

// owned maps a repository lookup to the caller's view of the project.
// Projects of other users are reported as missing.
func owned(p *model.Project, err error, userID string) (*model.Project, error) {
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("Project not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	if p.UserID != userID {
		return nil, apperr.NotFound("Project not found")
	}
	return p, nil
}

// scenarioKey returns where the project's document lives
func scenarioKey(p *model.Project) string {
	if p.ResultPath != "" {
		return p.ResultPath
	}
	return storage.ScenarioKey(p.UserID, p.ID)
}

// loadScenario reads the project's document. A project whose script is
// still being generated has none yet.
func loadScenario(ctx context.Context, scenarios *storage.Scenarios, p *model.Project) (*model.Scenario, []byte, error) {
	raw, err := scenarios.LoadRaw(ctx, scenarioKey(p))
	if errors.Is(err, storage.ErrNotFound) {
		if p.Status == model.ProjectStatusInProgress {
			return nil, nil, apperr.Precondition("Scenario is still being generated")
		}
		return nil, nil, apperr.NotFound("Scenario not found")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read scenario: %w", err)
	}

	doc, err := storage.DecodeScenario(raw)
	if err != nil {
		return nil, nil, err
	}
	return doc, raw, nil
}
