package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adscript/api/internal/apperr"
	"github.com/adscript/api/internal/mirror"
	"github.com/adscript/api/internal/model"
	"github.com/adscript/api/internal/repository"
	"github.com/adscript/api/internal/storage"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type event struct {
	kind  string
	index int
	op    string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []event
}

func (n *recordingNotifier) add(e event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) BroadcastScenario(_ int64, op string, _ int) {
	n.add(event{kind: "scenario", op: op})
}

func (n *recordingNotifier) BroadcastImage(_ int64, _ string, index int, status model.ImageStatus, _ string) {
	n.add(event{kind: "image", index: index, op: string(status)})
}

func (n *recordingNotifier) BroadcastScript(_ int64, status model.ProjectStatus) {
	n.add(event{kind: "script", op: string(status)})
}

func (n *recordingNotifier) BroadcastError(_ int64, _, code, _ string) {
	n.add(event{kind: "error", op: code})
}

// failingBlobs fails every Put whose key contains failOn
type failingBlobs struct {
	storage.BlobStore
	failOn string
}

func (f *failingBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if f.failOn != "" && strings.Contains(key, f.failOn) {
		return errors.New("disk full")
	}
	return f.BlobStore.Put(ctx, key, data, contentType)
}

type fixture struct {
	t          *testing.T
	ctx        context.Context
	store      *repository.Memory
	blobs      *failingBlobs
	notifier   *recordingNotifier
	dispatcher *InlineDispatcher
	scenario   *ScenarioService
	images     *ImageService
	projects   *ProjectService
}

func newFixture(t *testing.T) *fixture {
	local, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		t:          t,
		ctx:        context.Background(),
		store:      repository.NewMemory(),
		blobs:      &failingBlobs{BlobStore: local},
		notifier:   &recordingNotifier{},
		dispatcher: NewInlineDispatcher(),
	}
	locks := NewLockManager()
	f.scenario = NewScenarioService(f.store, f.blobs, locks, f.notifier, NewValidator())
	f.images = NewImageService(f.store, f.blobs, locks, f.dispatcher, f.notifier)
	f.projects = NewProjectService(f.store, f.blobs, locks, f.dispatcher, f.notifier)
	return f
}

func action(desc string) model.Block {
	return model.Block{Type: model.BlockAction, Content: model.Action{Description: desc}}
}

func dialogue(text string) model.Block {
	return model.Block{Type: model.BlockDialogue, Content: model.Dialogue{Text: text}}
}

// seed creates a completed project owned by u1 with the given blocks
func (f *fixture) seed(blocks ...model.Block) *model.Project {
	p := &model.Project{Name: "p", UserID: "u1", Status: model.ProjectStatusCompleted, ProductDescription: "soda"}
	require.NoError(f.t, f.store.CreateProject(f.ctx, p))

	doc := model.NewScenario("soda", blocks)
	require.NoError(f.t, storage.NewScenarios(f.blobs).Save(f.ctx, storage.ScenarioKey("u1", p.ID), doc))
	return p
}

// addImage stores a completed image for index in ledger, mirrors and blobs
func (f *fixture) addImage(p *model.Project, index int, path string) int64 {
	require.NoError(f.t, f.blobs.Put(f.ctx, path, pngBytes, "image/png"))
	var id int64
	require.NoError(f.t, f.store.WithTx(f.ctx, func(tx repository.Tx) error {
		project, err := tx.LockProject(f.ctx, p.ID)
		if err != nil {
			return err
		}
		row := &model.ElementImage{
			ProjectID:        p.ID,
			ElementIndex:     index,
			ImagePath:        path,
			ImageDescription: "desc",
			Status:           model.ImageStatusCompleted,
		}
		if err := tx.InsertImage(f.ctx, row); err != nil {
			return err
		}
		id = row.ID
		mirror.FromProject(project).Complete(index, path, "desc").ApplyTo(project)
		return tx.SaveProject(f.ctx, project)
	}))
	return id
}

func (f *fixture) rows(p *model.Project) map[string]int {
	rows, err := f.store.ListImages(f.ctx, p.ID, nil)
	require.NoError(f.t, err)
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.ImagePath] = r.ElementIndex
	}
	return out
}

func (f *fixture) mirrorPaths(p *model.Project) map[int]string {
	project, err := f.store.GetProject(f.ctx, p.ID)
	require.NoError(f.t, err)
	out := make(map[int]string)
	for i, e := range mirror.Lookup(project.ImagePaths) {
		if e.ImagePath != nil {
			out[i] = *e.ImagePath
		}
	}
	return out
}

func (f *fixture) exists(path string) bool {
	ok, err := f.blobs.Exists(f.ctx, path)
	require.NoError(f.t, err)
	return ok
}

func TestScenarioDeletePurgesAndShifts(t *testing.T) {
	f := newFixture(t)
	p := f.seed(action("a"), action("b"), action("c"))
	f.addImage(p, 2, "img/b.png")
	f.addImage(p, 3, "img/c.png")

	resp, err := f.scenario.Delete(f.ctx, "u1", p.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Scenario.FinalBlocksCount)

	assert.Equal(t, map[string]int{"img/c.png": 2}, f.rows(p))
	assert.Equal(t, map[int]string{2: "img/c.png"}, f.mirrorPaths(p))
	assert.False(t, f.exists("img/b.png"))
	assert.True(t, f.exists("img/c.png"))

	doc, err := f.projects.Scenario(f.ctx, "u1", p.ID)
	require.NoError(t, err)
	require.Len(t, doc.Blocks, 2)
	assert.Equal(t, model.Action{Description: "c"}, doc.Blocks[1].Content)
	assert.Equal(t, 3, *doc.OriginalBlocksCount)
}

func TestScenarioReorderMovesImagesWithBlocks(t *testing.T) {
	f := newFixture(t)
	p := f.seed(action("a"), action("b"), action("c"))
	f.addImage(p, 1, "img/a.png")
	f.addImage(p, 3, "img/c.png")

	resp, err := f.scenario.Reorder(f.ctx, "u1", p.ID, []int{3, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, map[int]int{3: 1, 1: 2, 2: 3}, resp.IndexMap)

	assert.Equal(t, map[string]int{"img/c.png": 1, "img/a.png": 2}, f.rows(p))
	assert.Equal(t, map[int]string{1: "img/c.png", 2: "img/a.png"}, f.mirrorPaths(p))
	assert.Equal(t, model.Action{Description: "c"}, resp.Scenario.Blocks[0].Content)
}

func TestScenarioInsertShifts(t *testing.T) {
	f := newFixture(t)
	p := f.seed(action("a"), action("b"))
	f.addImage(p, 2, "img/b.png")

	pos := 1
	resp, err := f.scenario.Insert(f.ctx, "u1", p.ID, &pos, model.BlockInput{
		Type:    model.BlockDialogue,
		Content: []byte(`{"text":"hi"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Block.Index)
	assert.Equal(t, model.DefaultFormatting(model.BlockDialogue), resp.Block.Formatting)
	assert.Equal(t, map[string]int{"img/b.png": 3}, f.rows(p))
	assert.Equal(t, map[int]string{3: "img/b.png"}, f.mirrorPaths(p))
}

func TestScenarioUpdatePurgesChangedAction(t *testing.T) {
	f := newFixture(t)
	p := f.seed(action("a"), action("b"))
	f.addImage(p, 1, "img/a.png")
	f.addImage(p, 2, "img/b.png")

	// formatting only: images survive
	_, err := f.scenario.Update(f.ctx, "u1", p.ID, 1, &model.UpdateBlockRequest{
		Formatting: &model.Formatting{Alignment: "center"},
	})
	require.NoError(t, err)
	assert.Len(t, f.rows(p), 2)

	resp, err := f.scenario.Update(f.ctx, "u1", p.ID, 2, &model.UpdateBlockRequest{
		Content: []byte(`{"description":"changed"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.UpdatedBlock.Index)
	assert.Equal(t, map[string]int{"img/a.png": 1}, f.rows(p))
	assert.Equal(t, map[int]string{1: "img/a.png"}, f.mirrorPaths(p))
	assert.False(t, f.exists("img/b.png"))
}

func TestScenarioUpdateValidation(t *testing.T) {
	f := newFixture(t)
	p := f.seed(action("a"))

	bad := model.BlockType("montage")
	_, err := f.scenario.Update(f.ctx, "u1", p.ID, 1, &model.UpdateBlockRequest{Type: &bad})
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))

	_, err = f.scenario.Update(f.ctx, "u1", p.ID, 1, &model.UpdateBlockRequest{Content: []byte(`{"description":""}`)})
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))
	assert.Equal(t, "content", apperr.FieldOf(err))

	_, err = f.scenario.Update(f.ctx, "u1", p.ID, 9, &model.UpdateBlockRequest{Content: []byte(`{"description":"x"}`)})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestScenarioReplace(t *testing.T) {
	f := newFixture(t)
	p := f.seed(action("a"), action("b"), action("c"))
	f.addImage(p, 1, "img/a.png")
	f.addImage(p, 2, "img/b.png")
	f.addImage(p, 3, "img/c.png")

	resp, err := f.scenario.Replace(f.ctx, "u1", p.ID, &model.ReplaceScenarioRequest{
		Blocks: []model.BlockInput{
			{Type: model.BlockAction, Content: []byte(`{"description":"c"}`), Index: []byte(`3`)},
			{Type: model.BlockAction, Content: []byte(`{"description":"B2"}`), Index: []byte(`2`)},
			{Type: model.BlockDialogue, Content: []byte(`{"text":"new"}`)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.FinalBlocksCount)

	assert.Equal(t, map[string]int{"img/c.png": 1}, f.rows(p))
	assert.False(t, f.exists("img/a.png"))
	assert.False(t, f.exists("img/b.png"))
}

func TestScenarioReplaceRejectsBadIndex(t *testing.T) {
	f := newFixture(t)
	p := f.seed(action("a"))

	_, err := f.scenario.Replace(f.ctx, "u1", p.ID, &model.ReplaceScenarioRequest{
		Blocks: []model.BlockInput{
			{Type: model.BlockAction, Content: []byte(`{"description":"a"}`), Index: []byte(`"one"`)},
		},
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))
	assert.Equal(t, "blocks[0].index", apperr.FieldOf(err))
}

func TestScenarioOtherUserSeesNotFound(t *testing.T) {
	f := newFixture(t)
	p := f.seed(action("a"))

	_, err := f.scenario.Delete(f.ctx, "u2", p.ID, 1)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.scenario.Delete(f.ctx, "u1", p.ID+100, 1)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestScenarioDocumentWriteFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	p := f.seed(action("a"), action("b"))
	f.addImage(p, 1, "img/a.png")

	f.blobs.failOn = "_scenario.json"
	_, err := f.scenario.Delete(f.ctx, "u1", p.ID, 1)
	require.Error(t, err)
	f.blobs.failOn = ""

	assert.Equal(t, map[string]int{"img/a.png": 1}, f.rows(p))
	assert.Equal(t, map[int]string{1: "img/a.png"}, f.mirrorPaths(p))
	assert.True(t, f.exists("img/a.png"))

	doc, err := f.projects.Scenario(f.ctx, "u1", p.ID)
	require.NoError(t, err)
	assert.Len(t, doc.Blocks, 2)
}

func TestScenarioEditBroadcasts(t *testing.T) {
	f := newFixture(t)
	p := f.seed(action("a"), action("b"))

	_, err := f.scenario.Reorder(f.ctx, "u1", p.ID, []int{2, 1})
	require.NoError(t, err)
	assert.Contains(t, f.notifier.events, event{kind: "scenario", op: OpReorder})
}

func TestLockManagerReleasesEntries(t *testing.T) {
	lm := NewLockManager()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = lm.WithProjectLock(7, func() error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, counter)
	assert.Equal(t, 0, lm.size())
}
