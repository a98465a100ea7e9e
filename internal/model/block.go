package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// BlockType identifies the screenplay element a block represents
type BlockType string

const (
	BlockSceneHeading BlockType = "scene_heading"
	BlockAction       BlockType = "action"
	BlockCharacter    BlockType = "character"
	BlockDialogue     BlockType = "dialogue"
	BlockTransition   BlockType = "transition"
)

var ValidBlockTypes = []BlockType{
	BlockSceneHeading, BlockAction, BlockCharacter, BlockDialogue, BlockTransition,
}

// Valid reports whether t is a known block type
func (t BlockType) Valid() bool {
	for _, v := range ValidBlockTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Illustratable reports whether blocks of this type can carry an image
func (t BlockType) Illustratable() bool {
	return t == BlockAction
}

// Content is the type-specific payload of a block
type Content interface {
	BlockType() BlockType
}

type SceneHeading struct {
	LocationType string `json:"location_type" validate:"required,oneof=INT EXT INT/EXT"`
	Location     string `json:"location" validate:"required"`
	Time         string `json:"time" validate:"required,oneof=DAY NIGHT MORNING EVENING"`
}

type Action struct {
	Description string `json:"description" validate:"required"`
}

type Character struct {
	Name          string  `json:"name" validate:"required"`
	Parenthetical *string `json:"parenthetical,omitempty"`
}

type Dialogue struct {
	Text string `json:"text" validate:"required"`
}

type Transition struct {
	TransitionType string `json:"transition_type" validate:"required,oneof='CUT TO' 'FADE TO' 'DISSOLVE TO'"`
}

func (SceneHeading) BlockType() BlockType { return BlockSceneHeading }
func (Action) BlockType() BlockType       { return BlockAction }
func (Character) BlockType() BlockType    { return BlockCharacter }
func (Dialogue) BlockType() BlockType     { return BlockDialogue }
func (Transition) BlockType() BlockType   { return BlockTransition }

// DecodeContent decodes raw JSON into the content variant for t
func DecodeContent(t BlockType, raw json.RawMessage) (Content, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, fmt.Errorf("content is required")
	}

	switch t {
	case BlockSceneHeading:
		var c SceneHeading
		err := json.Unmarshal(raw, &c)
		return c, err
	case BlockAction:
		var c Action
		err := json.Unmarshal(raw, &c)
		return c, err
	case BlockCharacter:
		var c Character
		err := json.Unmarshal(raw, &c)
		return c, err
	case BlockDialogue:
		var c Dialogue
		err := json.Unmarshal(raw, &c)
		return c, err
	case BlockTransition:
		var c Transition
		err := json.Unmarshal(raw, &c)
		return c, err
	default:
		return nil, fmt.Errorf("unknown block type %q", t)
	}
}

// Formatting holds presentation attributes derived from the block type
type Formatting struct {
	Alignment  string  `json:"alignment"`
	FontCase   string  `json:"font_case"`
	Indent     float64 `json:"indent"`
	FontSize   int     `json:"font_size"`
	FontFamily string  `json:"font_family"`
	MaxLines   int     `json:"max_lines,omitempty"`
	Width      float64 `json:"width,omitempty"`
}

const (
	defaultFontSize   = 12
	defaultFontFamily = "Courier New"
)

// DefaultFormatting returns the standard screenplay formatting for t
func DefaultFormatting(t BlockType) Formatting {
	f := Formatting{FontSize: defaultFontSize, FontFamily: defaultFontFamily}
	switch t {
	case BlockSceneHeading:
		f.Alignment, f.FontCase = "left", "uppercase"
	case BlockAction:
		f.Alignment, f.FontCase, f.MaxLines = "left", "sentence", 4
	case BlockCharacter:
		f.Alignment, f.FontCase, f.Indent = "center", "uppercase", 3.7
	case BlockDialogue:
		f.Alignment, f.FontCase, f.Indent, f.Width = "center", "sentence", 2.3, 2.5
	case BlockTransition:
		f.Alignment, f.FontCase, f.Indent = "right", "uppercase", 5.5
	}
	return f
}

// Block is one indexed element of a scenario document
type Block struct {
	Type       BlockType
	Content    Content
	Formatting Formatting
	Index      int
}

type blockJSON struct {
	Type       BlockType       `json:"type"`
	Content    json.RawMessage `json:"content"`
	Formatting *Formatting     `json:"formatting,omitempty"`
	Index      int             `json:"index"`
}

func (b Block) MarshalJSON() ([]byte, error) {
	content, err := json.Marshal(b.Content)
	if err != nil {
		return nil, err
	}
	f := b.Formatting
	return json.Marshal(blockJSON{
		Type:       b.Type,
		Content:    content,
		Formatting: &f,
		Index:      b.Index,
	})
}

func (b *Block) UnmarshalJSON(data []byte) error {
	var raw blockJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	content, err := DecodeContent(raw.Type, raw.Content)
	if err != nil {
		return fmt.Errorf("block %d: %w", raw.Index, err)
	}
	b.Type = raw.Type
	b.Content = content
	b.Index = raw.Index
	if raw.Formatting != nil {
		b.Formatting = *raw.Formatting
	} else {
		b.Formatting = DefaultFormatting(raw.Type)
	}
	return nil
}

// SameMeaning reports whether two blocks have the same type and content.
// Formatting is not compared.
func SameMeaning(a, b Block) bool {
	return a.Type == b.Type && reflect.DeepEqual(a.Content, b.Content)
}

// PromptText returns the text used to illustrate the block
func (b Block) PromptText() string {
	if a, ok := b.Content.(Action); ok {
		return a.Description
	}
	return ""
}
