// Package ledger applies index plans to the element image ledger and the
// mirror columns of a project inside one repository transaction.
//
// Functions that take a *model.Project rewrite its mirror columns in place;
// the caller persists the project with tx.SaveProject.
package ledger

import (
	"context"
	"fmt"

	"github.com/adscript/api/internal/blocksync"
	"github.com/adscript/api/internal/mirror"
	"github.com/adscript/api/internal/model"
	"github.com/adscript/api/internal/repository"
)

// Outcome describes what a rewrite did to the ledger
type Outcome struct {
	Removed []model.ElementImage
	Moved   int
	// Orphaned lists artifact paths no surviving row references anymore
	Orphaned []string
}

// List returns the project's ledger rows, optionally only those at index
func List(ctx context.Context, tx repository.Tx, projectID int64, index *int) ([]model.ElementImage, error) {
	return tx.ListImages(ctx, projectID, index)
}

// Rewrite moves or deletes every ledger row and mirror entry of the project
// according to fn.
func Rewrite(ctx context.Context, tx repository.Tx, project *model.Project, fn mirror.IndexFunc) (Outcome, error) {
	rows, err := tx.ListImages(ctx, project.ID, nil)
	if err != nil {
		return Outcome{}, err
	}

	var (
		out       Outcome
		removeIDs []int64
		kept      = make(map[string]bool)
	)
	for i := range rows {
		row := rows[i]
		idx, keep := fn(row.ElementIndex)
		if !keep {
			out.Removed = append(out.Removed, row)
			removeIDs = append(removeIDs, row.ID)
			continue
		}
		if row.ImagePath != "" {
			kept[row.ImagePath] = true
		}
		if idx == row.ElementIndex {
			continue
		}
		row.ElementIndex = idx
		if err := tx.UpdateImage(ctx, &row); err != nil {
			return Outcome{}, fmt.Errorf("failed to move image %d: %w", row.ID, err)
		}
		out.Moved++
	}

	if err := tx.DeleteImages(ctx, project.ID, removeIDs); err != nil {
		return Outcome{}, err
	}

	seen := make(map[string]bool)
	for _, row := range out.Removed {
		if row.ImagePath == "" || kept[row.ImagePath] || seen[row.ImagePath] {
			continue
		}
		seen[row.ImagePath] = true
		out.Orphaned = append(out.Orphaned, row.ImagePath)
	}

	mirror.FromProject(project).Transform(fn).ApplyTo(project)
	return out, nil
}

// Apply rewrites the ledger and mirrors through a synchronizer plan
func Apply(ctx context.Context, tx repository.Tx, project *model.Project, plan blocksync.Plan) (Outcome, error) {
	return Rewrite(ctx, tx, project, plan.Resolve)
}

// Purge deletes every row and mirror entry at index
func Purge(ctx context.Context, tx repository.Tx, project *model.Project, index int) (Outcome, error) {
	return Rewrite(ctx, tx, project, func(i int) (int, bool) {
		return i, i != index
	})
}

// Shift moves every row and mirror entry with index >= start by delta
func Shift(ctx context.Context, tx repository.Tx, project *model.Project, start, delta int) (Outcome, error) {
	return Rewrite(ctx, tx, project, func(i int) (int, bool) {
		if i >= start {
			return i + delta, true
		}
		return i, true
	})
}

// Remap relabels rows and mirror entries through indexMap
func Remap(ctx context.Context, tx repository.Tx, project *model.Project, indexMap map[int]int) (Outcome, error) {
	return Rewrite(ctx, tx, project, func(i int) (int, bool) {
		if n, ok := indexMap[i]; ok {
			return n, true
		}
		return i, true
	})
}
