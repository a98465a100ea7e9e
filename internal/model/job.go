package model

// ImageMode selects between generating a new image and editing the last one
type ImageMode string

const (
	ImageModeGenerate ImageMode = "generate"
	ImageModeEdit     ImageMode = "edit"
)

// ImageJobPayload is the owned snapshot a background image job runs from
type ImageJobPayload struct {
	JobID      string    `json:"jobId"`
	ProjectID  int64     `json:"projectId"`
	UserID     string    `json:"userId"`
	ImageID    int64     `json:"imageId"`
	BlockIndex int       `json:"blockIndex"`
	Prompt     string    `json:"prompt"`
	Mode       ImageMode `json:"mode"`
	SourcePath string    `json:"sourcePath,omitempty"`
}

// ScriptJobPayload is the owned snapshot a script generation job runs from
type ScriptJobPayload struct {
	JobID              string `json:"jobId"`
	ProjectID          int64  `json:"projectId"`
	UserID             string `json:"userId"`
	ProductDescription string `json:"productDescription"`
}
