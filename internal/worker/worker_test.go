package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adscript/api/internal/model"
	"github.com/adscript/api/internal/repository"
	"github.com/adscript/api/internal/service"
	"github.com/adscript/api/internal/storage"
	"github.com/adscript/api/internal/websocket"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeInference struct {
	err     error
	prompts []string
	sources [][]byte
}

func (f *fakeInference) Generate(_ context.Context, prompt string) ([]byte, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	return pngBytes, nil
}

func (f *fakeInference) Edit(_ context.Context, prompt string, source []byte) ([]byte, error) {
	f.prompts = append(f.prompts, prompt)
	f.sources = append(f.sources, source)
	if f.err != nil {
		return nil, f.err
	}
	return pngBytes, nil
}

// cancellingInference answers and then cancels the job's context
type cancellingInference struct {
	cancel context.CancelFunc
}

func (f *cancellingInference) Generate(context.Context, string) ([]byte, error) {
	f.cancel()
	return pngBytes, nil
}

func (f *cancellingInference) Edit(context.Context, string, []byte) ([]byte, error) {
	f.cancel()
	return pngBytes, nil
}

type fakeScript struct {
	blocks []model.Block
	err    error
}

func (f *fakeScript) Generate(context.Context, string) ([]model.Block, error) {
	return f.blocks, f.err
}

// ctxStore refuses to open transactions once ctx is done, as database/sql does
type ctxStore struct {
	*repository.Memory
}

func (s ctxStore) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Memory.WithTx(ctx, fn)
}

// slowInference never answers before the caller gives up
type slowInference struct{}

func (slowInference) Generate(ctx context.Context, _ string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowInference) Edit(ctx context.Context, _ string, _ []byte) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type slowScript struct{}

func (slowScript) Generate(ctx context.Context, _ string) ([]model.Block, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type env struct {
	ctx      context.Context
	store    *repository.Memory
	blobs    storage.BlobStore
	images   *service.ImageService
	projects *service.ProjectService
	scenario *service.ScenarioService
}

func newEnv(t *testing.T) *env {
	blobs, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	store := repository.NewMemory()
	hub := websocket.NewHub()
	locks := service.NewLockManager()
	dispatcher := service.NewInlineDispatcher()
	dispatcher.Handle(func(context.Context, *model.ImageJobPayload) error { return nil }, nil)

	return &env{
		ctx:      context.Background(),
		store:    store,
		blobs:    blobs,
		images:   service.NewImageService(store, blobs, locks, dispatcher, hub),
		projects: service.NewProjectService(store, blobs, locks, dispatcher, hub),
		scenario: service.NewScenarioService(store, blobs, locks, hub, service.NewValidator()),
	}
}

func (e *env) project(t *testing.T, blocks ...model.Block) *model.Project {
	p := &model.Project{Name: "p", UserID: "u1", Status: model.ProjectStatusCompleted, ProductDescription: "soda"}
	require.NoError(t, e.store.CreateProject(e.ctx, p))
	doc := model.NewScenario("soda", blocks)
	require.NoError(t, storage.NewScenarios(e.blobs).Save(e.ctx, storage.ScenarioKey("u1", p.ID), doc))
	return p
}

func (e *env) request(t *testing.T, p *model.Project, index int, mode model.ImageMode) *model.ImageJobPayload {
	ack, err := e.images.Request(e.ctx, "u1", p.ID, index, mode, nil)
	require.NoError(t, err)
	rows, err := e.store.ListImages(e.ctx, p.ID, &index)
	require.NoError(t, err)
	row := rows[len(rows)-1]
	return &model.ImageJobPayload{
		JobID:      ack.JobID,
		ProjectID:  p.ID,
		UserID:     "u1",
		ImageID:    ack.ImageID,
		BlockIndex: index,
		Prompt:     row.ImageDescription,
		Mode:       mode,
	}
}

func action(desc string) model.Block {
	return model.Block{Type: model.BlockAction, Content: model.Action{Description: desc}}
}

func TestImageWorker_Completes(t *testing.T) {
	e := newEnv(t)
	inference := &fakeInference{}
	w := NewImageWorker(e.images, inference, e.blobs)
	p := e.project(t, action("a"), action("b"))

	job := e.request(t, p, 2, model.ImageModeGenerate)
	require.NoError(t, w.Run(e.ctx, job))

	assert.Equal(t, []string{"Action: b"}, inference.prompts)
	rows, err := e.store.ListImages(e.ctx, p.ID, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.ImageStatusCompleted, rows[0].Status)
	assert.Equal(t, storage.ImageKey("u1", p.ID, 2, false, job.JobID), rows[0].ImagePath)

	data, err := e.blobs.Get(e.ctx, rows[0].ImagePath)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
}

func TestImageWorker_EditReadsSource(t *testing.T) {
	e := newEnv(t)
	inference := &fakeInference{}
	w := NewImageWorker(e.images, inference, e.blobs)
	p := e.project(t, action("a"))

	first := e.request(t, p, 1, model.ImageModeGenerate)
	require.NoError(t, w.Run(e.ctx, first))

	ack, err := e.images.Request(e.ctx, "u1", p.ID, 1, model.ImageModeEdit, nil)
	require.NoError(t, err)
	edit := &model.ImageJobPayload{
		JobID:      ack.JobID,
		ProjectID:  p.ID,
		UserID:     "u1",
		ImageID:    ack.ImageID,
		BlockIndex: 1,
		Prompt:     "Action: a",
		Mode:       model.ImageModeEdit,
		SourcePath: storage.ImageKey("u1", p.ID, 1, false, first.JobID),
	}
	require.NoError(t, w.Run(e.ctx, edit))

	require.Len(t, inference.sources, 1)
	assert.Equal(t, pngBytes, inference.sources[0])

	rows, err := e.store.ListImages(e.ctx, p.ID, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, strings.HasSuffix(rows[1].ImagePath, "_edited_image.png"))
}

func TestImageWorker_FailureMarksFailed(t *testing.T) {
	e := newEnv(t)
	w := NewImageWorker(e.images, &fakeInference{err: errors.New("gpu busy")}, e.blobs)
	p := e.project(t, action("a"))

	job := e.request(t, p, 1, model.ImageModeGenerate)
	require.Error(t, w.Run(e.ctx, job))

	rows, err := e.store.ListImages(e.ctx, p.ID, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.ImageStatusFailed, rows[0].Status)
	assert.Empty(t, rows[0].ImagePath)
}

func TestImageWorker_DiscardsResultOfDeletedBlock(t *testing.T) {
	e := newEnv(t)
	w := NewImageWorker(e.images, &fakeInference{}, e.blobs)
	p := e.project(t, action("a"), action("b"))

	job := e.request(t, p, 1, model.ImageModeGenerate)
	_, err := e.scenario.Delete(e.ctx, "u1", p.ID, 1)
	require.NoError(t, err)

	require.NoError(t, w.Run(e.ctx, job))

	rows, err := e.store.ListImages(e.ctx, p.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)

	ok, err := e.blobs.Exists(e.ctx, storage.ImageKey("u1", p.ID, 1, false, job.JobID))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestImageWorker_TimedOutJobIsMarkedFailed(t *testing.T) {
	e := newEnv(t)
	p := e.project(t, action("a"))
	job := e.request(t, p, 1, model.ImageModeGenerate)

	images := service.NewImageService(ctxStore{e.store}, e.blobs, service.NewLockManager(), service.NewInlineDispatcher(), websocket.NewHub())
	w := NewImageWorker(images, slowInference{}, e.blobs)

	ctx, cancel := context.WithTimeout(e.ctx, 50*time.Millisecond)
	defer cancel()
	err := w.Run(ctx, job)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	rows, err := e.store.ListImages(e.ctx, p.ID, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.ImageStatusFailed, rows[0].Status)

	got, err := e.store.GetProject(e.ctx, p.ID)
	require.NoError(t, err)
	assert.Contains(t, got.ImageGenerationStatus, `"status":"failed"`)
	assert.NotContains(t, got.ImageGenerationStatus, `"in_progress"`)
}

func TestImageWorker_CancelledAfterRenderStillCompletes(t *testing.T) {
	e := newEnv(t)
	p := e.project(t, action("a"))
	job := e.request(t, p, 1, model.ImageModeGenerate)

	images := service.NewImageService(ctxStore{e.store}, e.blobs, service.NewLockManager(), service.NewInlineDispatcher(), websocket.NewHub())
	ctx, cancel := context.WithCancel(e.ctx)
	w := NewImageWorker(images, &cancellingInference{cancel: cancel}, e.blobs)

	require.NoError(t, w.Run(ctx, job))

	rows, err := e.store.ListImages(e.ctx, p.ID, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.ImageStatusCompleted, rows[0].Status)
}

func TestScriptWorker_TimedOutJobIsMarkedFailed(t *testing.T) {
	e := newEnv(t)
	p := &model.Project{Name: "p", UserID: "u1", Status: model.ProjectStatusInProgress, ProductDescription: "soda"}
	require.NoError(t, e.store.CreateProject(e.ctx, p))

	projects := service.NewProjectService(ctxStore{e.store}, e.blobs, service.NewLockManager(), service.NewInlineDispatcher(), websocket.NewHub())
	w := NewScriptWorker(projects, slowScript{})

	ctx, cancel := context.WithTimeout(e.ctx, 50*time.Millisecond)
	defer cancel()
	require.Error(t, w.Run(ctx, &model.ScriptJobPayload{JobID: "job-3", ProjectID: p.ID, UserID: "u1"}))

	got, err := e.store.GetProject(e.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProjectStatusFailed, got.Status)
}

func TestImageWorker_ProcessTaskRejectsBadEnvelope(t *testing.T) {
	e := newEnv(t)
	w := NewImageWorker(e.images, &fakeInference{}, e.blobs)

	err := w.ProcessTask(e.ctx, asynq.NewTask(service.TaskTypeImage, []byte("not json")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestScriptWorker_ProcessTask(t *testing.T) {
	e := newEnv(t)
	p := &model.Project{Name: "p", UserID: "u1", Status: model.ProjectStatusInProgress, ProductDescription: "soda"}
	require.NoError(t, e.store.CreateProject(e.ctx, p))

	w := NewScriptWorker(e.projects, &fakeScript{blocks: []model.Block{action("open"), action("close")}})
	payload, err := json.Marshal(service.TaskEnvelope{
		JobID:   "job-1",
		Payload: mustJSON(t, model.ScriptJobPayload{JobID: "job-1", ProjectID: p.ID, UserID: "u1", ProductDescription: "soda"}),
	})
	require.NoError(t, err)

	require.NoError(t, w.ProcessTask(e.ctx, asynq.NewTask(service.TaskTypeScript, payload)))

	got, err := e.projects.Get(e.ctx, "u1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProjectStatusCompleted, got.Status)

	doc, err := e.projects.Scenario(e.ctx, "u1", p.ID)
	require.NoError(t, err)
	assert.Len(t, doc.Blocks, 2)
}

func TestScriptWorker_EmptyScriptFails(t *testing.T) {
	e := newEnv(t)
	p := &model.Project{Name: "p", UserID: "u1", Status: model.ProjectStatusInProgress, ProductDescription: "soda"}
	require.NoError(t, e.store.CreateProject(e.ctx, p))

	w := NewScriptWorker(e.projects, &fakeScript{})
	err := w.Run(e.ctx, &model.ScriptJobPayload{JobID: "job-2", ProjectID: p.ID, UserID: "u1"})
	require.Error(t, err)

	got, err := e.projects.Get(e.ctx, "u1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProjectStatusFailed, got.Status)
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
