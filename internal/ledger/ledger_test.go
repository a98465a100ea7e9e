package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adscript/api/internal/blocksync"
	"github.com/adscript/api/internal/mirror"
	"github.com/adscript/api/internal/model"
	"github.com/adscript/api/internal/repository"
)

type fixture struct {
	store   *repository.Memory
	project *model.Project
}

func newFixture(t *testing.T, rows map[int]string) *fixture {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemory()
	p := &model.Project{UserID: "u1", Status: model.ProjectStatusCompleted}
	require.NoError(t, store.CreateProject(ctx, p))

	require.NoError(t, store.WithTx(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockProject(ctx, p.ID)
		if err != nil {
			return err
		}
		set := mirror.FromProject(locked)
		for idx, path := range rows {
			img := &model.ElementImage{
				ProjectID:    p.ID,
				ElementIndex: idx,
				ImagePath:    path,
				Status:       model.ImageStatusCompleted,
			}
			if err := tx.InsertImage(ctx, img); err != nil {
				return err
			}
			set = set.Complete(idx, path, "Action: "+path)
		}
		set.ApplyTo(locked)
		return tx.SaveProject(ctx, locked)
	}))
	return &fixture{store: store, project: p}
}

func (f *fixture) apply(t *testing.T, plan blocksync.Plan) Outcome {
	t.Helper()
	ctx := context.Background()
	var out Outcome
	require.NoError(t, f.store.WithTx(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockProject(ctx, f.project.ID)
		if err != nil {
			return err
		}
		out, err = Apply(ctx, tx, locked, plan)
		if err != nil {
			return err
		}
		return tx.SaveProject(ctx, locked)
	}))
	return out
}

func (f *fixture) rows(t *testing.T) map[int]string {
	t.Helper()
	imgs, err := f.store.ListImages(context.Background(), f.project.ID, nil)
	require.NoError(t, err)
	out := make(map[int]string)
	for _, img := range imgs {
		out[img.ElementIndex] = img.ImagePath
	}
	return out
}

func (f *fixture) mirrorPaths(t *testing.T) map[int]string {
	t.Helper()
	p, err := f.store.GetProject(context.Background(), f.project.ID)
	require.NoError(t, err)
	out := make(map[int]string)
	for _, st := range mirror.FromProject(p).States() {
		out[st.Index] = st.ImagePath
	}
	return out
}

func actions(descs ...string) *model.Scenario {
	s := &model.Scenario{}
	for _, d := range descs {
		s.Blocks = append(s.Blocks, model.Block{Type: model.BlockAction, Content: model.Action{Description: d}})
	}
	s.Renumber()
	return s
}

func TestApplyDeletePurgesAndShifts(t *testing.T) {
	f := newFixture(t, map[int]string{2: "two.png", 3: "three.png"})

	res, err := blocksync.Delete(actions("a", "b", "c", "d"), 2)
	require.NoError(t, err)

	out := f.apply(t, res.Plan)
	assert.Equal(t, []string{"two.png"}, out.Orphaned)
	assert.Equal(t, 1, out.Moved)
	assert.Equal(t, map[int]string{2: "three.png"}, f.rows(t))
	assert.Equal(t, map[int]string{2: "three.png"}, f.mirrorPaths(t))
}

func TestApplyTransformsMixedLegacyColumn(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.WithTx(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockProject(ctx, f.project.ID)
		if err != nil {
			return err
		}
		locked.ImagePaths = `{"blocks":[{"index":"legacy"},{"index":2,"image_path":"b.png"},{"index":4,"image_path":"d.png"}]}`
		return tx.SaveProject(ctx, locked)
	}))

	res, err := blocksync.Delete(actions("a", "b", "c", "d"), 2)
	require.NoError(t, err)
	f.apply(t, res.Plan)

	assert.Equal(t, map[int]string{3: "d.png"}, f.mirrorPaths(t))
	p, err := f.store.GetProject(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Contains(t, p.ImagePaths, `{"index":"legacy"}`)
	assert.NotContains(t, p.ImagePaths, "b.png")
}

func TestApplyReorderRelabelsWithoutPurging(t *testing.T) {
	f := newFixture(t, map[int]string{3: "c.png", 1: "a.png"})

	res, err := blocksync.Reorder(actions("A", "B", "C"), []int{3, 1, 2})
	require.NoError(t, err)

	out := f.apply(t, res.Plan)
	assert.Empty(t, out.Removed)
	assert.Equal(t, map[int]string{1: "c.png", 2: "a.png"}, f.rows(t))
	assert.Equal(t, map[int]string{1: "c.png", 2: "a.png"}, f.mirrorPaths(t))
}

func TestApplyInsertShiftsAtAndAfterPosition(t *testing.T) {
	f := newFixture(t, map[int]string{1: "one.png", 2: "two.png"})

	pos := 1
	res, err := blocksync.Insert(actions("A", "B", "C"), &pos, model.Block{Type: model.BlockAction, Content: model.Action{Description: "new"}})
	require.NoError(t, err)

	f.apply(t, res.Plan)
	assert.Equal(t, map[int]string{1: "one.png", 3: "two.png"}, f.rows(t))
	assert.Equal(t, map[int]string{1: "one.png", 3: "two.png"}, f.mirrorPaths(t))
}

func TestApplyUpdatePurgesStaleActionImage(t *testing.T) {
	f := newFixture(t, map[int]string{1: "one.png"})

	res, err := blocksync.Update(actions("X"), 1, blocksync.Patch{Content: model.Action{Description: "Y"}})
	require.NoError(t, err)

	out := f.apply(t, res.Plan)
	assert.Equal(t, []string{"one.png"}, out.Orphaned)
	assert.Empty(t, f.rows(t))
	assert.Empty(t, f.mirrorPaths(t))
}

func TestApplyDropsRecordsOutsideDocument(t *testing.T) {
	f := newFixture(t, map[int]string{1: "one.png", 9: "dangling.png"})

	res, err := blocksync.Reorder(actions("A", "B"), []int{2, 1})
	require.NoError(t, err)

	out := f.apply(t, res.Plan)
	assert.Equal(t, []string{"dangling.png"}, out.Orphaned)
	assert.Equal(t, map[int]string{2: "one.png"}, f.rows(t))
	assert.Equal(t, map[int]string{2: "one.png"}, f.mirrorPaths(t))
}

func TestSharedPathIsNotOrphaned(t *testing.T) {
	f := newFixture(t, map[int]string{1: "same.png"})
	ctx := context.Background()
	require.NoError(t, f.store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.InsertImage(ctx, &model.ElementImage{ProjectID: f.project.ID, ElementIndex: 2, ImagePath: "same.png", Status: model.ImageStatusCompleted})
	}))

	require.NoError(t, f.store.WithTx(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockProject(ctx, f.project.ID)
		if err != nil {
			return err
		}
		out, err := Purge(ctx, tx, locked, 1)
		if err != nil {
			return err
		}
		assert.Len(t, out.Removed, 1)
		assert.Empty(t, out.Orphaned)
		return tx.SaveProject(ctx, locked)
	}))
}

func TestShiftAndRemapHelpers(t *testing.T) {
	f := newFixture(t, map[int]string{1: "a.png", 2: "b.png"})
	ctx := context.Background()

	require.NoError(t, f.store.WithTx(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockProject(ctx, f.project.ID)
		if err != nil {
			return err
		}
		if _, err := Shift(ctx, tx, locked, 2, 3); err != nil {
			return err
		}
		if _, err := Remap(ctx, tx, locked, map[int]int{1: 4}); err != nil {
			return err
		}
		return tx.SaveProject(ctx, locked)
	}))

	assert.Equal(t, map[int]string{4: "a.png", 5: "b.png"}, f.rows(t))
	assert.Equal(t, map[int]string{4: "a.png", 5: "b.png"}, f.mirrorPaths(t))

	require.NoError(t, f.store.WithTx(ctx, func(tx repository.Tx) error {
		five := 5
		rows, err := List(ctx, tx, f.project.ID, &five)
		require.Len(t, rows, 1)
		return err
	}))
}
