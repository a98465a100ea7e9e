package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/adscript/api/internal/model"
)

// Memory is an in-process Store. Transactions work on a private copy of the
// state and publish it on commit; they are serialized by a single lock,
// which stands in for row locking.
type Memory struct {
	txMu sync.Mutex

	mu     sync.RWMutex
	state  memoryState
	nextID int64
}

type memoryState struct {
	projects map[int64]model.Project
	images   map[int64]model.ElementImage
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		projects: make(map[int64]model.Project, len(s.projects)),
		images:   make(map[int64]model.ElementImage, len(s.images)),
	}
	for k, v := range s.projects {
		out.projects[k] = v
	}
	for k, v := range s.images {
		out.images[k] = v
	}
	return out
}

func NewMemory() *Memory {
	return &Memory{
		state: memoryState{
			projects: make(map[int64]model.Project),
			images:   make(map[int64]model.ElementImage),
		},
	}
}

func (s *Memory) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Memory) CreateProject(_ context.Context, p *model.Project) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	p.ID = s.id()
	p.CreatedAt, p.UpdatedAt = now, now
	s.state.projects[p.ID] = *p
	return nil
}

func (s *Memory) GetProject(_ context.Context, projectID int64) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.projects[projectID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *Memory) ListProjects(_ context.Context, userID string) ([]model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Project, 0, 16)
	for _, p := range s.state.projects {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Memory) ListImages(_ context.Context, projectID int64, index *int) ([]model.ElementImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterImages(s.state.images, projectID, index), nil
}

func filterImages(images map[int64]model.ElementImage, projectID int64, index *int) []model.ElementImage {
	out := make([]model.ElementImage, 0, 8)
	for _, img := range images {
		if img.ProjectID != projectID {
			continue
		}
		if index != nil && img.ElementIndex != *index {
			continue
		}
		out = append(out, img)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ElementIndex != out[j].ElementIndex {
			return out[i].ElementIndex < out[j].ElementIndex
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Memory) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	tx := &memoryTx{store: s, state: s.state.clone()}
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = tx.state
	s.mu.Unlock()
	return nil
}

func (s *Memory) Close() error {
	return nil
}

type memoryTx struct {
	store *Memory
	state memoryState
}

func (t *memoryTx) LockProject(_ context.Context, projectID int64) (*model.Project, error) {
	p, ok := t.state.projects[projectID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (t *memoryTx) SaveProject(_ context.Context, p *model.Project) error {
	if _, ok := t.state.projects[p.ID]; !ok {
		return ErrNotFound
	}
	p.UpdatedAt = time.Now().UTC()
	t.state.projects[p.ID] = *p
	return nil
}

func (t *memoryTx) ListImages(_ context.Context, projectID int64, index *int) ([]model.ElementImage, error) {
	return filterImages(t.state.images, projectID, index), nil
}

func (t *memoryTx) GetImage(_ context.Context, projectID, imageID int64) (*model.ElementImage, error) {
	img, ok := t.state.images[imageID]
	if !ok || img.ProjectID != projectID {
		return nil, ErrNotFound
	}
	return &img, nil
}

func (t *memoryTx) InsertImage(_ context.Context, img *model.ElementImage) error {
	t.store.mu.Lock()
	img.ID = t.store.id()
	t.store.mu.Unlock()

	now := time.Now().UTC()
	img.CreatedAt, img.UpdatedAt = now, now
	t.state.images[img.ID] = *img
	return nil
}

func (t *memoryTx) UpdateImage(_ context.Context, img *model.ElementImage) error {
	cur, ok := t.state.images[img.ID]
	if !ok || cur.ProjectID != img.ProjectID {
		return ErrNotFound
	}
	img.UpdatedAt = time.Now().UTC()
	t.state.images[img.ID] = *img
	return nil
}

func (t *memoryTx) DeleteImages(_ context.Context, projectID int64, imageIDs []int64) error {
	for _, id := range imageIDs {
		if img, ok := t.state.images[id]; ok && img.ProjectID == projectID {
			delete(t.state.images, id)
		}
	}
	return nil
}
