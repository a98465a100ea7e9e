package service

import (
	"context"
	"fmt"
	"log"

	"github.com/go-playground/validator/v10"

	"github.com/adscript/api/internal/blocksync"
	"github.com/adscript/api/internal/ledger"
	"github.com/adscript/api/internal/model"
	"github.com/adscript/api/internal/repository"
	"github.com/adscript/api/internal/storage"
)

// Scenario edit operations, as announced to websocket subscribers
const (
	OpInsert  = "insert"
	OpDelete  = "delete"
	OpUpdate  = "update"
	OpReorder = "reorder"
	OpReplace = "replace"
)

// ScenarioService performs structural edits of scenario documents and keeps
// the image ledger and mirror columns aligned with them.
type ScenarioService struct {
	store     repository.Store
	scenarios *storage.Scenarios
	blobs     storage.BlobStore
	locks     *LockManager
	notifier  Notifier
	decoder   blockDecoder
}

func NewScenarioService(
	store repository.Store,
	blobs storage.BlobStore,
	locks *LockManager,
	notifier Notifier,
	validate *validator.Validate,
) *ScenarioService {
	return &ScenarioService{
		store:     store,
		scenarios: storage.NewScenarios(blobs),
		blobs:     blobs,
		locks:     locks,
		notifier:  notifier,
		decoder:   blockDecoder{validate: validate},
	}
}

type editFunc func(doc *model.Scenario) (blocksync.Result, error)

// edit runs one structural edit end to end. Ledger and mirror changes are
// made inside the transaction, then the document is written, then the
// transaction commits. A failed document write rolls everything back; a
// failed commit after the write restores the previous document.
func (s *ScenarioService) edit(ctx context.Context, userID string, projectID int64, op string, fn editFunc) (blocksync.Result, error) {
	var (
		result  blocksync.Result
		outcome ledger.Outcome
	)

	err := s.locks.WithProjectLock(projectID, func() error {
		var (
			key      string
			previous []byte
			written  bool
		)

		err := s.store.WithTx(ctx, func(tx repository.Tx) error {
			project, err := tx.LockProject(ctx, projectID)
			if project, err = owned(project, err, userID); err != nil {
				return err
			}

			doc, raw, err := loadScenario(ctx, s.scenarios, project)
			if err != nil {
				return err
			}

			result, err = fn(doc)
			if err != nil {
				return err
			}

			outcome, err = ledger.Apply(ctx, tx, project, result.Plan)
			if err != nil {
				return fmt.Errorf("failed to update image ledger: %w", err)
			}
			if err := tx.SaveProject(ctx, project); err != nil {
				return fmt.Errorf("failed to save project: %w", err)
			}

			key = scenarioKey(project)
			if err := s.scenarios.Save(ctx, key, result.Scenario); err != nil {
				return err
			}
			previous, written = raw, true
			return nil
		})

		if err != nil && written {
			if restoreErr := s.scenarios.SaveRaw(context.Background(), key, previous); restoreErr != nil {
				log.Printf("Warning: failed to restore scenario %s after commit failure: %v", key, restoreErr)
			}
		}
		return err
	})
	if err != nil {
		return blocksync.Result{}, err
	}

	s.unlink(outcome.Orphaned)
	s.notifier.BroadcastScenario(projectID, op, len(result.Scenario.Blocks))
	return result, nil
}

// unlink removes artifacts no ledger row references anymore. Failures only
// leave garbage behind and are logged.
func (s *ScenarioService) unlink(paths []string) {
	for _, p := range paths {
		if err := s.blobs.Delete(context.Background(), p); err != nil {
			log.Printf("Warning: failed to remove image %s: %v", p, err)
		}
	}
}

// Insert places a new block at the 0-based position. A nil position appends.
func (s *ScenarioService) Insert(ctx context.Context, userID string, projectID int64, position *int, in model.BlockInput) (*model.InsertBlockResponse, error) {
	block, err := s.decoder.block("", in)
	if err != nil {
		return nil, err
	}

	res, err := s.edit(ctx, userID, projectID, OpInsert, func(doc *model.Scenario) (blocksync.Result, error) {
		return blocksync.Insert(doc, position, block)
	})
	if err != nil {
		return nil, err
	}

	return &model.InsertBlockResponse{Block: res.Block, Scenario: res.Scenario}, nil
}

// Delete removes the block with the given index
func (s *ScenarioService) Delete(ctx context.Context, userID string, projectID int64, index int) (*model.DeleteBlockResponse, error) {
	res, err := s.edit(ctx, userID, projectID, OpDelete, func(doc *model.Scenario) (blocksync.Result, error) {
		return blocksync.Delete(doc, index)
	})
	if err != nil {
		return nil, err
	}

	return &model.DeleteBlockResponse{DeletedIndex: index, Scenario: res.Scenario}, nil
}

// Update applies a partial edit to one block
func (s *ScenarioService) Update(ctx context.Context, userID string, projectID int64, index int, req *model.UpdateBlockRequest) (*model.UpdateBlockResponse, error) {
	if req.Type != nil {
		if err := s.decoder.blockType("type", *req.Type); err != nil {
			return nil, err
		}
	}

	res, err := s.edit(ctx, userID, projectID, OpUpdate, func(doc *model.Scenario) (blocksync.Result, error) {
		patch := blocksync.Patch{Type: req.Type, Formatting: req.Formatting}
		if !isNull(req.Content) {
			target := req.Type
			if target == nil {
				if old, ok := doc.Block(index); ok {
					target = &old.Type
				}
			}
			if target != nil {
				content, err := s.decoder.content("content", *target, req.Content)
				if err != nil {
					return blocksync.Result{}, err
				}
				patch.Content = content
			}
		}
		return blocksync.Update(doc, index, patch)
	})
	if err != nil {
		return nil, err
	}

	return &model.UpdateBlockResponse{UpdatedBlock: res.Block, Scenario: res.Scenario}, nil
}

// Reorder rearranges blocks; newOrder lists current indices in their new
// sequence
func (s *ScenarioService) Reorder(ctx context.Context, userID string, projectID int64, newOrder []int) (*model.ReorderBlocksResponse, error) {
	res, err := s.edit(ctx, userID, projectID, OpReorder, func(doc *model.Scenario) (blocksync.Result, error) {
		return blocksync.Reorder(doc, newOrder)
	})
	if err != nil {
		return nil, err
	}

	return &model.ReorderBlocksResponse{IndexMap: res.IndexMap, Scenario: res.Scenario}, nil
}

// Replace swaps the whole block list
func (s *ScenarioService) Replace(ctx context.Context, userID string, projectID int64, req *model.ReplaceScenarioRequest) (*model.Scenario, error) {
	incoming, err := s.decoder.incoming(req.Blocks)
	if err != nil {
		return nil, err
	}
	opts := blocksync.ReplaceOptions{
		ProductDescription:  req.ProductDescription,
		OriginalBlocksCount: req.OriginalBlocksCount,
	}

	res, err := s.edit(ctx, userID, projectID, OpReplace, func(doc *model.Scenario) (blocksync.Result, error) {
		return blocksync.Replace(doc, incoming, opts)
	})
	if err != nil {
		return nil, err
	}

	return res.Scenario, nil
}
