package model

import "time"

// ProjectStatus tracks script generation for a project
type ProjectStatus string

const (
	ProjectStatusInProgress ProjectStatus = "in_progress"
	ProjectStatusCompleted  ProjectStatus = "completed"
	ProjectStatusFailed     ProjectStatus = "failed"
)

// ImageStatus is the lifecycle state of a block image
type ImageStatus string

const (
	ImageStatusInProgress ImageStatus = "in_progress"
	ImageStatusCompleted  ImageStatus = "completed"
	ImageStatusFailed     ImageStatus = "failed"
)

// Project is the metadata row of a scenario project. The three mirror
// columns hold raw JSON and may be empty or malformed.
type Project struct {
	ID                    int64         `json:"id"`
	Name                  string        `json:"name"`
	UserID                string        `json:"user_id"`
	Status                ProjectStatus `json:"status"`
	ProductDescription    string        `json:"product_description"`
	ResultPath            string        `json:"result_path,omitempty"`
	Error                 string        `json:"error,omitempty"`
	ImagePaths            string        `json:"-"`
	ImageDescriptions     string        `json:"-"`
	ImageGenerationStatus string        `json:"-"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// ElementImage is one ledger row: an image generated for a block index
type ElementImage struct {
	ID               int64       `json:"id"`
	ProjectID        int64       `json:"project_id"`
	ElementIndex     int         `json:"element_index"`
	ImagePath        string      `json:"image_path,omitempty"`
	ImageDescription string      `json:"image_description,omitempty"`
	Status           ImageStatus `json:"status"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}
