package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/adscript/api/internal/model"
)

// Postgres stores projects and the ledger through the pgx database/sql driver
type Postgres struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := &Postgres{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return s, nil
}

func (s *Postgres) ensureSchema() error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.Exec(`
CREATE TABLE IF NOT EXISTS projects (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  user_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'in_progress',
  product_description TEXT NOT NULL DEFAULT '',
  result_path TEXT,
  error TEXT,
  image_paths TEXT,
  image_descriptions TEXT,
  image_generation_status TEXT,
  created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_projects_user_id ON projects (user_id);

CREATE TABLE IF NOT EXISTS scenario_element_images (
  id BIGSERIAL PRIMARY KEY,
  project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
  element_index INTEGER NOT NULL,
  image_path TEXT,
  image_description TEXT,
  status TEXT NOT NULL DEFAULT 'in_progress',
  created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_element_images_project_index ON scenario_element_images (project_id, element_index);
`)
	})
	return s.schemaErr
}

type rowScanner interface {
	Scan(dest ...any) error
}

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const projectColumns = `id, name, user_id, status, product_description, result_path, error,
image_paths, image_descriptions, image_generation_status, created_at, updated_at`

const imageColumns = `id, project_id, element_index, image_path, image_description, status, created_at, updated_at`

func scanProject(row rowScanner) (*model.Project, error) {
	var (
		p                             model.Project
		resultPath, errMsg            sql.NullString
		paths, descriptions, statuses sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.UserID, &p.Status, &p.ProductDescription,
		&resultPath, &errMsg, &paths, &descriptions, &statuses,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.ResultPath = resultPath.String
	p.Error = errMsg.String
	p.ImagePaths = paths.String
	p.ImageDescriptions = descriptions.String
	p.ImageGenerationStatus = statuses.String
	return &p, nil
}

func scanImage(row rowScanner) (*model.ElementImage, error) {
	var (
		img               model.ElementImage
		path, description sql.NullString
	)
	err := row.Scan(&img.ID, &img.ProjectID, &img.ElementIndex, &path, &description,
		&img.Status, &img.CreatedAt, &img.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	img.ImagePath = path.String
	img.ImageDescription = description.String
	return &img, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Postgres) CreateProject(ctx context.Context, p *model.Project) error {
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	row := s.db.QueryRowContext(ctx, `
INSERT INTO projects (name, user_id, status, product_description, result_path, error,
  image_paths, image_descriptions, image_generation_status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING id`,
		p.Name, p.UserID, p.Status, p.ProductDescription, nullString(p.ResultPath), nullString(p.Error),
		nullString(p.ImagePaths), nullString(p.ImageDescriptions), nullString(p.ImageGenerationStatus),
		p.CreatedAt, p.UpdatedAt)
	if err := row.Scan(&p.ID); err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

func (s *Postgres) GetProject(ctx context.Context, projectID int64) (*model.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, projectID)
	return scanProject(row)
}

func (s *Postgres) ListProjects(ctx context.Context, userID string) ([]model.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+`
FROM projects WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	out := make([]model.Project, 0, 16)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Postgres) ListImages(ctx context.Context, projectID int64, index *int) ([]model.ElementImage, error) {
	return listImages(ctx, s.db, projectID, index, false)
}

func listImages(ctx context.Context, q queryer, projectID int64, index *int, forUpdate bool) ([]model.ElementImage, error) {
	query := `SELECT ` + imageColumns + ` FROM scenario_element_images WHERE project_id = $1`
	args := []any{projectID}
	if index != nil {
		query += ` AND element_index = $2`
		args = append(args, *index)
	}
	query += ` ORDER BY element_index, created_at, id`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	defer rows.Close()

	out := make([]model.ElementImage, 0, 8)
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *img)
	}
	return out, rows.Err()
}

func (s *Postgres) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&postgresTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Postgres) Close() error {
	return s.db.Close()
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) LockProject(ctx context.Context, projectID int64) (*model.Project, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1 FOR UPDATE`, projectID)
	return scanProject(row)
}

func (t *postgresTx) SaveProject(ctx context.Context, p *model.Project) error {
	p.UpdatedAt = time.Now().UTC()
	res, err := t.tx.ExecContext(ctx, `
UPDATE projects
SET name=$2, status=$3, product_description=$4, result_path=$5, error=$6,
  image_paths=$7, image_descriptions=$8, image_generation_status=$9, updated_at=$10
WHERE id=$1`,
		p.ID, p.Name, p.Status, p.ProductDescription, nullString(p.ResultPath), nullString(p.Error),
		nullString(p.ImagePaths), nullString(p.ImageDescriptions), nullString(p.ImageGenerationStatus),
		p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *postgresTx) ListImages(ctx context.Context, projectID int64, index *int) ([]model.ElementImage, error) {
	return listImages(ctx, t.tx, projectID, index, true)
}

func (t *postgresTx) GetImage(ctx context.Context, projectID, imageID int64) (*model.ElementImage, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+imageColumns+`
FROM scenario_element_images WHERE project_id = $1 AND id = $2 FOR UPDATE`, projectID, imageID)
	return scanImage(row)
}

func (t *postgresTx) InsertImage(ctx context.Context, img *model.ElementImage) error {
	now := time.Now().UTC()
	img.CreatedAt, img.UpdatedAt = now, now
	row := t.tx.QueryRowContext(ctx, `
INSERT INTO scenario_element_images (project_id, element_index, image_path, image_description, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id`,
		img.ProjectID, img.ElementIndex, nullString(img.ImagePath), nullString(img.ImageDescription),
		img.Status, img.CreatedAt, img.UpdatedAt)
	if err := row.Scan(&img.ID); err != nil {
		return fmt.Errorf("failed to insert image: %w", err)
	}
	return nil
}

func (t *postgresTx) UpdateImage(ctx context.Context, img *model.ElementImage) error {
	img.UpdatedAt = time.Now().UTC()
	res, err := t.tx.ExecContext(ctx, `
UPDATE scenario_element_images
SET element_index=$3, image_path=$4, image_description=$5, status=$6, updated_at=$7
WHERE project_id=$1 AND id=$2`,
		img.ProjectID, img.ID, img.ElementIndex, nullString(img.ImagePath), nullString(img.ImageDescription),
		img.Status, img.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update image: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *postgresTx) DeleteImages(ctx context.Context, projectID int64, imageIDs []int64) error {
	if len(imageIDs) == 0 {
		return nil
	}
	_, err := t.tx.ExecContext(ctx, `DELETE FROM scenario_element_images WHERE project_id = $1 AND id = ANY($2)`,
		projectID, imageIDs)
	if err != nil {
		return fmt.Errorf("failed to delete images: %w", err)
	}
	return nil
}
