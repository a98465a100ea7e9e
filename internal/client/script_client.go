package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/adscript/api/internal/model"
)

// ScriptGenerator produces the raw block list of an advertising script
type ScriptGenerator interface {
	Generate(ctx context.Context, productDescription string) ([]model.Block, error)
}

// ScriptClient generates scripts in two stages: a plan (block count, block
// type sequence, story summary) and then the blocks following that plan.
type ScriptClient struct {
	chat     *ChatClient
	validate *validator.Validate
}

// ScriptPlan is the first stage output
type ScriptPlan struct {
	TotalBlocks   int               `json:"total_blocks" validate:"min=8,max=15"`
	BlockSequence []model.BlockType `json:"block_sequence" validate:"required,min=1"`
	StorySummary  string            `json:"story_summary" validate:"required"`
}

type generatedBlock struct {
	BlockType model.BlockType `json:"block_type"`
	Content   json.RawMessage `json:"content"`
}

// NewScriptClient creates a script generator backed by chat
func NewScriptClient(chat *ChatClient) *ScriptClient {
	return &ScriptClient{
		chat:     chat,
		validate: validator.New(),
	}
}

// IsConfigured returns true if an LLM backend is available
func (c *ScriptClient) IsConfigured() bool {
	return c.chat != nil && c.chat.IsConfigured()
}

// Generate runs both stages. Without a configured backend a fixed mock
// script is returned.
func (c *ScriptClient) Generate(ctx context.Context, productDescription string) ([]model.Block, error) {
	if !c.IsConfigured() {
		return mockScript(productDescription), nil
	}

	plan, err := c.plan(ctx, productDescription)
	if err != nil {
		return nil, fmt.Errorf("script planning failed: %w", err)
	}

	blocks, err := c.blocks(ctx, productDescription, plan)
	if err != nil {
		return nil, fmt.Errorf("script generation failed: %w", err)
	}
	return blocks, nil
}

func (c *ScriptClient) plan(ctx context.Context, productDescription string) (*ScriptPlan, error) {
	system := `You are a professional screenwriter. Create a detailed plan for an advertising script.
Always output your response as valid JSON in the exact format requested.
Do not add any fields other than the requested ones.`

	user := fmt.Sprintf(`Product description for the advertisement:
%s

Create a script plan containing:
1. The total number of blocks (from 8 to 15)
2. The sequence of block types (only: scene_heading, action, character, dialogue, transition)
3. A short story summary

Output as JSON: {"total_blocks": 10, "block_sequence": ["scene_heading", "action"], "story_summary": "..."}`,
		productDescription)

	response, err := c.chat.ChatCompletion(ctx, system, user)
	if err != nil {
		return nil, err
	}

	var plan ScriptPlan
	if err := json.Unmarshal([]byte(extractJSON(response)), &plan); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}
	if err := c.validate.Struct(&plan); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	for i, t := range plan.BlockSequence {
		if !t.Valid() {
			return nil, fmt.Errorf("invalid plan: block %d has unknown type %q", i+1, t)
		}
	}
	return &plan, nil
}

func (c *ScriptClient) blocks(ctx context.Context, productDescription string, plan *ScriptPlan) ([]model.Block, error) {
	system := `You are a professional screenwriter. Write the concrete blocks of a script
following the given plan. Every block must be coherent and follow standard screenplay format.
Always output your response as valid JSON in the exact format requested.`

	sequence := make([]string, len(plan.BlockSequence))
	for i, t := range plan.BlockSequence {
		sequence[i] = fmt.Sprintf("%d. %s", i+1, t)
	}

	user := fmt.Sprintf(`Product description:
%s

Script plan:
Total blocks: %d
Story: %s

Block sequence:
%s

Create the JSON script with exactly this number of blocks in this sequence.
Content per block type:
- scene_heading: {"location_type": "INT|EXT|INT/EXT", "location": "...", "time": "DAY|NIGHT|MORNING|EVENING"}
- action: {"description": "..."}
- character: {"name": "...", "parenthetical": "optional"}
- dialogue: {"text": "..."}
- transition: {"transition_type": "CUT TO|FADE TO|DISSOLVE TO"}

Output as JSON: {"blocks": [{"block_type": "action", "content": {"description": "..."}}]}`,
		productDescription, plan.TotalBlocks, plan.StorySummary, strings.Join(sequence, "\n"))

	response, err := c.chat.ChatCompletion(ctx, system, user)
	if err != nil {
		return nil, err
	}

	var result struct {
		Blocks []generatedBlock `json:"blocks"`
	}
	if err := json.Unmarshal([]byte(extractJSON(response)), &result); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}
	if len(result.Blocks) == 0 {
		return nil, fmt.Errorf("no blocks in response")
	}

	blocks := make([]model.Block, 0, len(result.Blocks))
	for i, gb := range result.Blocks {
		content, err := model.DecodeContent(gb.BlockType, gb.Content)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i+1, err)
		}
		if err := c.validate.Struct(content); err != nil {
			return nil, fmt.Errorf("block %d: %w", i+1, err)
		}
		blocks = append(blocks, model.Block{Type: gb.BlockType, Content: content})
	}
	return blocks, nil
}

// extractJSON attempts to extract JSON from a response that may contain extra text
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")

	if start != -1 && end != -1 && end > start {
		return s[start : end+1]
	}
	return s
}

// Mock implementation for development/testing
func mockScript(productDescription string) []model.Block {
	return []model.Block{
		{Type: model.BlockSceneHeading, Content: model.SceneHeading{LocationType: "INT", Location: "KITCHEN", Time: "MORNING"}},
		{Type: model.BlockAction, Content: model.Action{Description: "Sunlight falls across a cluttered counter. A tired customer reaches for coffee."}},
		{Type: model.BlockCharacter, Content: model.Character{Name: "ANNA"}},
		{Type: model.BlockDialogue, Content: model.Dialogue{Text: "There has to be a better way to start the day."}},
		{Type: model.BlockAction, Content: model.Action{Description: fmt.Sprintf("She discovers the product: %s", productDescription)}},
		{Type: model.BlockTransition, Content: model.Transition{TransitionType: "CUT TO"}},
		{Type: model.BlockSceneHeading, Content: model.SceneHeading{LocationType: "EXT", Location: "CITY STREET", Time: "DAY"}},
		{Type: model.BlockAction, Content: model.Action{Description: "Anna walks confidently through the crowd, smiling."}},
		{Type: model.BlockCharacter, Content: model.Character{Name: "ANNA"}},
		{Type: model.BlockDialogue, Content: model.Dialogue{Text: "Now every morning feels like this."}},
	}
}
