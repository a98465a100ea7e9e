package repository

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/adscript/api/internal/model"
)

// ErrNotFound is returned when a project or ledger row does not exist
var ErrNotFound = errors.New("not found")

// Store persists project rows and the element image ledger
type Store interface {
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, projectID int64) (*model.Project, error)
	ListProjects(ctx context.Context, userID string) ([]model.Project, error)
	ListImages(ctx context.Context, projectID int64, index *int) ([]model.ElementImage, error)

	// WithTx runs fn in a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is the transactional view used by structural edits and job results.
// Every ledger query is scoped to one project.
type Tx interface {
	// LockProject loads the project row and holds it until the transaction ends
	LockProject(ctx context.Context, projectID int64) (*model.Project, error)
	SaveProject(ctx context.Context, p *model.Project) error

	ListImages(ctx context.Context, projectID int64, index *int) ([]model.ElementImage, error)
	GetImage(ctx context.Context, projectID, imageID int64) (*model.ElementImage, error)
	InsertImage(ctx context.Context, img *model.ElementImage) error
	UpdateImage(ctx context.Context, img *model.ElementImage) error
	DeleteImages(ctx context.Context, projectID int64, imageIDs []int64) error
}

// NewFromDSN opens the Postgres backend when dsn is set and falls back to
// the in-memory backend otherwise.
func NewFromDSN(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		log.Println("Info: DATABASE_URL not set, using in-memory project store")
		return NewMemory(), nil
	}
	return NewPostgres(dsn)
}
