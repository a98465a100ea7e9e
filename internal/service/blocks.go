package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/adscript/api/internal/apperr"
	"github.com/adscript/api/internal/blocksync"
	"github.com/adscript/api/internal/model"
)

// NewValidator returns a validator that reports fields by their JSON names
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// blockDecoder turns client block payloads into typed blocks
type blockDecoder struct {
	validate *validator.Validate
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func (d blockDecoder) blockType(field string, t model.BlockType) error {
	if !t.Valid() {
		return apperr.Invalid(field, fmt.Sprintf("Unknown block type %q", t))
	}
	return nil
}

func (d blockDecoder) content(field string, t model.BlockType, raw json.RawMessage) (model.Content, error) {
	content, err := model.DecodeContent(t, raw)
	if err != nil {
		return nil, apperr.Invalid(field, err.Error())
	}
	if err := d.validate.Struct(content); err != nil {
		return nil, apperr.Invalid(field, describeValidation(err))
	}
	return content, nil
}

// block decodes one input block. prefix names it in error fields, e.g.
// "blocks[2]"; an empty prefix is used for single-block requests.
func (d blockDecoder) block(prefix string, in model.BlockInput) (model.Block, error) {
	if err := d.blockType(fieldName(prefix, "type"), in.Type); err != nil {
		return model.Block{}, err
	}
	content, err := d.content(fieldName(prefix, "content"), in.Type, in.Content)
	if err != nil {
		return model.Block{}, err
	}

	b := model.Block{
		Type:       in.Type,
		Content:    content,
		Formatting: model.DefaultFormatting(in.Type),
	}
	if in.Formatting != nil {
		b.Formatting = *in.Formatting
	}
	return b, nil
}

// incoming decodes the blocks of a full replace, keeping client indices
func (d blockDecoder) incoming(blocks []model.BlockInput) ([]blocksync.Incoming, error) {
	out := make([]blocksync.Incoming, len(blocks))
	for i, in := range blocks {
		prefix := fmt.Sprintf("blocks[%d]", i)
		b, err := d.block(prefix, in)
		if err != nil {
			return nil, err
		}
		out[i].Block = b

		if isNull(in.Index) {
			continue
		}
		var idx int
		if err := json.Unmarshal(in.Index, &idx); err != nil {
			return nil, apperr.Invalid(fieldName(prefix, "index"), "Block index must be integer")
		}
		out[i].Index = &idx
	}
	return out, nil
}

func fieldName(prefix, field string) string {
	if prefix == "" {
		return field
	}
	return prefix + "." + field
}

// describeValidation renders validator errors as one message
func describeValidation(err error) string {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", e.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", e.Field(), e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed on %s", e.Field(), e.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
