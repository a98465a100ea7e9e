package model

import "encoding/json"

// CreateProjectRequest starts script generation for a new project
type CreateProjectRequest struct {
	Name               string `json:"project_name" validate:"omitempty,max=200"`
	ProductDescription string `json:"product_description" validate:"required,min=3,max=5000"`
}

type CreateProjectResponse struct {
	ProjectID int64         `json:"project_id"`
	Status    ProjectStatus `json:"status"`
	Message   string        `json:"message"`
}

// BlockInput is a block as sent by clients. Content is decoded against
// Type, and Index is kept raw so that non-integer values can be reported.
type BlockInput struct {
	Type       BlockType       `json:"type" validate:"required"`
	Content    json.RawMessage `json:"content"`
	Formatting *Formatting     `json:"formatting,omitempty"`
	Index      json.RawMessage `json:"index,omitempty"`
}

type ReplaceScenarioRequest struct {
	ProductDescription  *string      `json:"product_description"`
	OriginalBlocksCount *int         `json:"original_blocks_count"`
	Blocks              []BlockInput `json:"blocks" validate:"required,dive"`
}

type UpdateBlockRequest struct {
	Type       *BlockType      `json:"type,omitempty"`
	Content    json.RawMessage `json:"content,omitempty"`
	Formatting *Formatting     `json:"formatting,omitempty"`
}

type ReorderBlocksRequest struct {
	NewOrder []int `json:"new_order" validate:"required"`
}

// ImageRequest controls the prompt of a generate or edit request
type ImageRequest struct {
	UseBlockPrompt *bool  `json:"use_block_prompt,omitempty"`
	CustomPrompt   string `json:"custom_prompt,omitempty" validate:"max=2000"`
}

type BatchImagesRequest struct {
	BlockIndices []int `json:"block_indices" validate:"required,min=1,max=100"`
}

type InsertBlockResponse struct {
	Block    Block     `json:"block"`
	Scenario *Scenario `json:"scenario"`
}

type DeleteBlockResponse struct {
	DeletedIndex int       `json:"deleted_index"`
	Scenario     *Scenario `json:"scenario"`
}

type UpdateBlockResponse struct {
	UpdatedBlock Block     `json:"updated_block"`
	Scenario     *Scenario `json:"scenario"`
}

type ReorderBlocksResponse struct {
	IndexMap map[int]int `json:"index_map"`
	Scenario *Scenario   `json:"scenario"`
}

// ImageAck acknowledges a dispatched image job
type ImageAck struct {
	ProjectID  int64       `json:"project_id"`
	BlockIndex int         `json:"block_index"`
	ImageID    int64       `json:"image_id"`
	JobID      string      `json:"job_id"`
	Mode       ImageMode   `json:"mode"`
	Status     ImageStatus `json:"status"`
	Message    string      `json:"message"`
}

type ImageData struct {
	ImageID    *int64 `json:"image_id"`
	MimeType   string `json:"mime_type"`
	DataBase64 string `json:"data_base64"`
}

type BlockImages struct {
	BlockIndex int         `json:"block_index"`
	Images     []ImageData `json:"images"`
}

type BatchImagesResponse struct {
	ProjectID int64         `json:"project_id"`
	Results   []BlockImages `json:"results"`
}

// BlockImageState is the merged ledger and mirror view of one block index
type BlockImageState struct {
	Index            int         `json:"index"`
	Status           ImageStatus `json:"status,omitempty"`
	ImagePath        string      `json:"image_path,omitempty"`
	ImageDescription string      `json:"image_description,omitempty"`
}

type ProjectStatusResponse struct {
	Project *Project          `json:"project"`
	Images  []BlockImageState `json:"images"`
}

type ProjectImagesResponse struct {
	ProjectID int64             `json:"project_id"`
	Ledger    []ElementImage    `json:"ledger"`
	Blocks    []BlockImageState `json:"blocks"`
}
