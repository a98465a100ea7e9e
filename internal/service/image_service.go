package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/adscript/api/internal/apperr"
	"github.com/adscript/api/internal/mirror"
	"github.com/adscript/api/internal/model"
	"github.com/adscript/api/internal/repository"
	"github.com/adscript/api/internal/storage"
)

const batchReadConcurrency = 8

// ImageService requests block images and records their results
type ImageService struct {
	store      repository.Store
	scenarios  *storage.Scenarios
	blobs      storage.BlobStore
	locks      *LockManager
	dispatcher Dispatcher
	notifier   Notifier
}

func NewImageService(
	store repository.Store,
	blobs storage.BlobStore,
	locks *LockManager,
	dispatcher Dispatcher,
	notifier Notifier,
) *ImageService {
	return &ImageService{
		store:      store,
		scenarios:  storage.NewScenarios(blobs),
		blobs:      blobs,
		locks:      locks,
		dispatcher: dispatcher,
		notifier:   notifier,
	}
}

// BlockPrompt builds the inference prompt for an action block
func BlockPrompt(b model.Block) string {
	return "Action: " + b.PromptText()
}

// Request marks the block's image in progress and hands the job to the
// dispatcher. The returned acknowledgement carries the ledger row id the
// result will be recorded against.
func (s *ImageService) Request(ctx context.Context, userID string, projectID int64, index int, mode model.ImageMode, req *model.ImageRequest) (*model.ImageAck, error) {
	var job *model.ImageJobPayload

	err := s.locks.WithProjectLock(projectID, func() error {
		return s.store.WithTx(ctx, func(tx repository.Tx) error {
			project, err := tx.LockProject(ctx, projectID)
			if project, err = owned(project, err, userID); err != nil {
				return err
			}

			doc, _, err := loadScenario(ctx, s.scenarios, project)
			if err != nil {
				return err
			}

			block, ok := doc.Block(index)
			if !ok || index < 1 || index > len(doc.Blocks) {
				return apperr.NotFound("Block with given index not found")
			}
			if !block.Type.Illustratable() {
				return apperr.Invalid("index", fmt.Sprintf("Images can only be generated for action blocks, block %d is %s", index, block.Type))
			}

			prompt, err := buildPrompt(block, req)
			if err != nil {
				return err
			}

			var source string
			if mode == model.ImageModeEdit {
				source, err = s.editSource(ctx, tx, project, index)
				if err != nil {
					return err
				}
			}

			row := &model.ElementImage{
				ProjectID:        project.ID,
				ElementIndex:     index,
				ImageDescription: prompt,
				Status:           model.ImageStatusInProgress,
			}
			if err := tx.InsertImage(ctx, row); err != nil {
				return fmt.Errorf("failed to record image request: %w", err)
			}

			mirror.FromProject(project).MarkStatus(index, model.ImageStatusInProgress).ApplyTo(project)
			if err := tx.SaveProject(ctx, project); err != nil {
				return fmt.Errorf("failed to save project: %w", err)
			}

			job = &model.ImageJobPayload{
				JobID:      uuid.New().String(),
				ProjectID:  project.ID,
				UserID:     project.UserID,
				ImageID:    row.ID,
				BlockIndex: index,
				Prompt:     prompt,
				Mode:       mode,
				SourcePath: source,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if err := s.dispatcher.DispatchImage(ctx, job); err != nil {
		s.Fail(context.Background(), job, "Failed to queue image job")
		return nil, apperr.External("Failed to queue image job", err)
	}

	s.notifier.BroadcastImage(projectID, job.JobID, index, model.ImageStatusInProgress, "")

	return &model.ImageAck{
		ProjectID:  projectID,
		BlockIndex: index,
		ImageID:    job.ImageID,
		JobID:      job.JobID,
		Mode:       mode,
		Status:     model.ImageStatusInProgress,
		Message:    "Image generation started",
	}, nil
}

func buildPrompt(block model.Block, req *model.ImageRequest) (string, error) {
	if req == nil || req.UseBlockPrompt == nil || *req.UseBlockPrompt {
		return BlockPrompt(block), nil
	}
	prompt := strings.TrimSpace(req.CustomPrompt)
	if prompt == "" {
		return "", apperr.Invalid("custom_prompt", "custom_prompt is required when use_block_prompt is false")
	}
	return prompt, nil
}

// editSource finds the image an edit starts from: the newest completed
// ledger row, then the legacy mirror path.
func (s *ImageService) editSource(ctx context.Context, tx repository.Tx, project *model.Project, index int) (string, error) {
	rows, err := tx.ListImages(ctx, project.ID, &index)
	if err != nil {
		return "", fmt.Errorf("failed to list images: %w", err)
	}
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Status == model.ImageStatusCompleted && rows[i].ImagePath != "" {
			return rows[i].ImagePath, nil
		}
	}

	if e, ok := mirror.Lookup(project.ImagePaths)[index]; ok && e.ImagePath != nil && *e.ImagePath != "" {
		return *e.ImagePath, nil
	}

	return "", apperr.Precondition("Block has no completed image to edit")
}

// Complete records a finished job against its ledger row. It reports false
// when the row no longer exists because the block was deleted or changed
// while the job ran; the caller then discards the artifact.
func (s *ImageService) Complete(ctx context.Context, job *model.ImageJobPayload, path string) (bool, error) {
	var (
		applied bool
		index   int
	)

	err := s.locks.WithProjectLock(job.ProjectID, func() error {
		return s.store.WithTx(ctx, func(tx repository.Tx) error {
			project, err := tx.LockProject(ctx, job.ProjectID)
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}

			row, err := tx.GetImage(ctx, job.ProjectID, job.ImageID)
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}

			row.ImagePath = path
			row.Status = model.ImageStatusCompleted
			if err := tx.UpdateImage(ctx, row); err != nil {
				return fmt.Errorf("failed to update image: %w", err)
			}

			mirror.FromProject(project).Complete(row.ElementIndex, path, row.ImageDescription).ApplyTo(project)
			if err := tx.SaveProject(ctx, project); err != nil {
				return fmt.Errorf("failed to save project: %w", err)
			}

			applied, index = true, row.ElementIndex
			return nil
		})
	})
	if err != nil {
		return false, err
	}

	if applied {
		s.notifier.BroadcastImage(job.ProjectID, job.JobID, index, model.ImageStatusCompleted, path)
	}
	return applied, nil
}

// Fail marks the job's ledger row and mirror status failed. Earlier
// artifacts of the block are left untouched.
func (s *ImageService) Fail(ctx context.Context, job *model.ImageJobPayload, reason string) {
	index := -1
	err := s.locks.WithProjectLock(job.ProjectID, func() error {
		return s.store.WithTx(ctx, func(tx repository.Tx) error {
			project, err := tx.LockProject(ctx, job.ProjectID)
			if err != nil {
				return err
			}
			row, err := tx.GetImage(ctx, job.ProjectID, job.ImageID)
			if err != nil {
				return err
			}

			row.Status = model.ImageStatusFailed
			if err := tx.UpdateImage(ctx, row); err != nil {
				return err
			}

			mirror.FromProject(project).MarkStatus(row.ElementIndex, model.ImageStatusFailed).ApplyTo(project)
			if err := tx.SaveProject(ctx, project); err != nil {
				return err
			}
			index = row.ElementIndex
			return nil
		})
	})
	if errors.Is(err, repository.ErrNotFound) {
		return
	}
	if err != nil {
		log.Printf("Failed to mark image job %s failed: %v", job.JobID, err)
		return
	}

	s.notifier.BroadcastImage(job.ProjectID, job.JobID, index, model.ImageStatusFailed, "")
	s.notifier.BroadcastError(job.ProjectID, job.JobID, "IMAGE_FAILED", reason)
}

type imageRef struct {
	index   int
	imageID *int64
	path    string
}

// Batch returns the stored images of several blocks. Ledger rows come
// first, then legacy mirror paths; the same path is returned once.
// Unreadable artifacts are skipped.
func (s *ImageService) Batch(ctx context.Context, userID string, projectID int64, indices []int) (*model.BatchImagesResponse, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if project, err = owned(project, err, userID); err != nil {
		return nil, err
	}

	wanted := make(map[int]bool, len(indices))
	for _, i := range indices {
		wanted[i] = true
	}
	sorted := make([]int, 0, len(wanted))
	for i := range wanted {
		sorted = append(sorted, i)
	}
	sort.Ints(sorted)

	rows, err := s.store.ListImages(ctx, projectID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	seen := make(map[string]bool)
	var refs []imageRef
	for _, row := range rows {
		if !wanted[row.ElementIndex] || row.ImagePath == "" || seen[row.ImagePath] {
			continue
		}
		seen[row.ImagePath] = true
		id := row.ID
		refs = append(refs, imageRef{index: row.ElementIndex, imageID: &id, path: row.ImagePath})
	}

	legacy := mirror.Lookup(project.ImagePaths)
	for _, i := range sorted {
		e, ok := legacy[i]
		if !ok || e.ImagePath == nil || *e.ImagePath == "" || seen[*e.ImagePath] {
			continue
		}
		seen[*e.ImagePath] = true
		refs = append(refs, imageRef{index: i, path: *e.ImagePath})
	}

	data := make([]*model.ImageData, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchReadConcurrency)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			raw, err := s.blobs.Get(gctx, ref.path)
			if err != nil {
				if !errors.Is(err, storage.ErrNotFound) {
					log.Printf("Warning: failed to read image %s: %v", ref.path, err)
				}
				return nil
			}
			data[i] = &model.ImageData{
				ImageID:    ref.imageID,
				MimeType:   mimetype.Detect(raw).String(),
				DataBase64: base64.StdEncoding.EncodeToString(raw),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	grouped := make(map[int][]model.ImageData, len(sorted))
	for i, ref := range refs {
		if data[i] != nil {
			grouped[ref.index] = append(grouped[ref.index], *data[i])
		}
	}

	results := make([]model.BlockImages, 0, len(sorted))
	for _, i := range sorted {
		images := grouped[i]
		if images == nil {
			images = []model.ImageData{}
		}
		results = append(results, model.BlockImages{BlockIndex: i, Images: images})
	}

	return &model.BatchImagesResponse{ProjectID: projectID, Results: results}, nil
}
