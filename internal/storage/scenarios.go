package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/adscript/api/internal/model"
)

// Scenarios reads and writes scenario documents in a blob store
type Scenarios struct {
	blobs BlobStore
}

func NewScenarios(blobs BlobStore) *Scenarios {
	return &Scenarios{blobs: blobs}
}

// Load reads the document stored under key. A missing document yields
// ErrNotFound.
func (s *Scenarios) Load(ctx context.Context, key string) (*model.Scenario, error) {
	data, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return DecodeScenario(data)
}

// DecodeScenario parses a stored scenario document
func DecodeScenario(data []byte) (*model.Scenario, error) {
	var doc model.Scenario
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode scenario: %w", err)
	}
	return &doc, nil
}

// LoadRaw returns the stored bytes, used to restore a document after a
// failed edit.
func (s *Scenarios) LoadRaw(ctx context.Context, key string) ([]byte, error) {
	return s.blobs.Get(ctx, key)
}

// Save writes doc under key
func (s *Scenarios) Save(ctx context.Context, key string, doc *model.Scenario) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode scenario: %w", err)
	}
	return s.SaveRaw(ctx, key, data)
}

// SaveRaw writes already encoded document bytes under key
func (s *Scenarios) SaveRaw(ctx context.Context, key string, data []byte) error {
	if err := s.blobs.Put(ctx, key, data, "application/json"); err != nil {
		return fmt.Errorf("failed to write scenario: %w", err)
	}
	return nil
}
