package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/adscript/api/internal/apperr"
	"github.com/adscript/api/internal/mirror"
	"github.com/adscript/api/internal/model"
	"github.com/adscript/api/internal/repository"
	"github.com/adscript/api/internal/storage"
)

const defaultProjectName = "Untitled project"

// ProjectService manages projects and their script generation lifecycle
type ProjectService struct {
	store      repository.Store
	scenarios  *storage.Scenarios
	locks      *LockManager
	dispatcher Dispatcher
	notifier   Notifier
}

func NewProjectService(
	store repository.Store,
	blobs storage.BlobStore,
	locks *LockManager,
	dispatcher Dispatcher,
	notifier Notifier,
) *ProjectService {
	return &ProjectService{
		store:      store,
		scenarios:  storage.NewScenarios(blobs),
		locks:      locks,
		dispatcher: dispatcher,
		notifier:   notifier,
	}
}

// Create stores a new project and starts script generation
func (s *ProjectService) Create(ctx context.Context, userID string, req *model.CreateProjectRequest) (*model.CreateProjectResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = defaultProjectName
	}

	project := &model.Project{
		Name:               name,
		UserID:             userID,
		Status:             model.ProjectStatusInProgress,
		ProductDescription: req.ProductDescription,
	}
	if err := s.store.CreateProject(ctx, project); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	job := &model.ScriptJobPayload{
		JobID:              uuid.New().String(),
		ProjectID:          project.ID,
		UserID:             userID,
		ProductDescription: project.ProductDescription,
	}
	if err := s.dispatcher.DispatchScript(ctx, job); err != nil {
		s.FailScript(context.Background(), job, "Failed to queue script generation")
		return nil, apperr.External("Failed to queue script generation", err)
	}

	return &model.CreateProjectResponse{
		ProjectID: project.ID,
		Status:    model.ProjectStatusInProgress,
		Message:   "Script generation started",
	}, nil
}

// List returns the caller's projects, newest first
func (s *ProjectService) List(ctx context.Context, userID string) ([]model.Project, error) {
	projects, err := s.store.ListProjects(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

// Get returns one of the caller's projects
func (s *ProjectService) Get(ctx context.Context, userID string, projectID int64) (*model.Project, error) {
	p, err := s.store.GetProject(ctx, projectID)
	return owned(p, err, userID)
}

// Status returns the project together with the per-block image status
func (s *ProjectService) Status(ctx context.Context, userID string, projectID int64) (*model.ProjectStatusResponse, error) {
	p, err := s.Get(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	return &model.ProjectStatusResponse{
		Project: p,
		Images:  mirror.FromProject(p).States(),
	}, nil
}

// Scenario returns the project's current document
func (s *ProjectService) Scenario(ctx context.Context, userID string, projectID int64) (*model.Scenario, error) {
	p, err := s.Get(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	doc, _, err := loadScenario(ctx, s.scenarios, p)
	return doc, err
}

// Images returns the ledger rows and the mirror view of a project
func (s *ProjectService) Images(ctx context.Context, userID string, projectID int64) (*model.ProjectImagesResponse, error) {
	p, err := s.Get(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListImages(ctx, projectID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	return &model.ProjectImagesResponse{
		ProjectID: projectID,
		Ledger:    rows,
		Blocks:    mirror.FromProject(p).States(),
	}, nil
}

// CompleteScript stores the generated document and marks the project
// completed
func (s *ProjectService) CompleteScript(ctx context.Context, job *model.ScriptJobPayload, generated []model.Block) error {
	doc := model.NewScenario(job.ProductDescription, generated)
	key := storage.ScenarioKey(job.UserID, job.ProjectID)

	err := s.locks.WithProjectLock(job.ProjectID, func() error {
		return s.store.WithTx(ctx, func(tx repository.Tx) error {
			project, err := tx.LockProject(ctx, job.ProjectID)
			if err != nil {
				return err
			}
			if err := s.scenarios.Save(ctx, key, doc); err != nil {
				return err
			}
			project.Status = model.ProjectStatusCompleted
			project.ResultPath = key
			project.Error = ""
			return tx.SaveProject(ctx, project)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to complete script: %w", err)
	}

	log.Printf("Script for project %d stored with %d blocks", job.ProjectID, len(doc.Blocks))
	s.notifier.BroadcastScript(job.ProjectID, model.ProjectStatusCompleted)
	return nil
}

// FailScript marks the project's script generation failed
func (s *ProjectService) FailScript(ctx context.Context, job *model.ScriptJobPayload, reason string) {
	err := s.locks.WithProjectLock(job.ProjectID, func() error {
		return s.store.WithTx(ctx, func(tx repository.Tx) error {
			project, err := tx.LockProject(ctx, job.ProjectID)
			if err != nil {
				return err
			}
			project.Status = model.ProjectStatusFailed
			project.Error = reason
			return tx.SaveProject(ctx, project)
		})
	})
	if err != nil {
		log.Printf("Failed to mark project %d failed: %v", job.ProjectID, err)
		return
	}

	s.notifier.BroadcastScript(job.ProjectID, model.ProjectStatusFailed)
	s.notifier.BroadcastError(job.ProjectID, job.JobID, "SCRIPT_FAILED", reason)
}
