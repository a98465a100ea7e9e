// Package blocksync computes structural edits of a scenario document
// together with the index plan that keeps ledger rows and mirror entries
// attached to the right blocks.
//
// Every function here is pure: it takes the current document and returns
// a new one plus a Plan. Applying the plan to storage is the ledger
// package's job.
package blocksync

import (
	"fmt"
	"sort"

	"github.com/adscript/api/internal/apperr"
	"github.com/adscript/api/internal/model"
)

// Result is the outcome of one structural edit
type Result struct {
	Scenario *model.Scenario
	Plan     Plan
	Block    model.Block
	Index    int
	IndexMap map[int]int
}

// Purged returns the block indices whose images the edit discards
func (r Result) Purged() []int {
	return r.Plan.Purges()
}

// Patch is a partial block update. Nil fields are left unchanged.
type Patch struct {
	Type       *model.BlockType
	Content    model.Content
	Formatting *model.Formatting
}

// Incoming is a block of a full replacement request. A nil Index marks a
// new block.
type Incoming struct {
	Block model.Block
	Index *int
}

// normalize returns a copy of doc with indices 1..N in slice order, the plan
// prefix that moves records along with it, and a lookup from the stored
// indices clients address to the normalized ones.
func normalize(doc *model.Scenario) (*model.Scenario, Plan, map[int]int) {
	out := doc.Clone()
	lookup := make(map[int]int, len(out.Blocks))
	valid := make(map[int]bool, len(out.Blocks))
	contiguous := true
	for i, b := range out.Blocks {
		if b.Index != i+1 {
			contiguous = false
		}
		lookup[b.Index] = i + 1
		valid[b.Index] = true
	}

	n := len(out.Blocks)
	if contiguous {
		return out, Plan{trim(n)}, lookup
	}

	for i := range out.Blocks {
		out.Blocks[i].Index = i + 1
	}
	return out, Plan{keep(valid), remap(lookup)}, lookup
}

// Insert places block at 0-based position. A nil or out-of-range position
// appends; negative positions are clamped to 0.
func Insert(doc *model.Scenario, position *int, block model.Block) (Result, error) {
	base, plan, _ := normalize(doc)
	n := len(base.Blocks)

	p := n
	if position != nil && *position < n {
		p = *position
		if p < 0 {
			p = 0
		}
	}

	block.Index = p + 1
	blocks := make([]model.Block, 0, n+1)
	blocks = append(blocks, base.Blocks[:p]...)
	blocks = append(blocks, block)
	blocks = append(blocks, base.Blocks[p:]...)
	base.Blocks = blocks
	base.Renumber()
	base.SetOriginalCountIfAbsent(n + 1)

	if p < n {
		plan = append(plan, shift(p+1, 1))
	}
	plan = append(plan, trim(n+1))

	return Result{Scenario: base, Plan: plan, Block: block, Index: block.Index}, nil
}

// Delete removes the block with the given index
func Delete(doc *model.Scenario, index int) (Result, error) {
	base, plan, lookup := normalize(doc)
	k, ok := lookup[index]
	if !ok {
		return Result{}, apperr.NotFound("Block with given index not found")
	}
	n := len(base.Blocks)

	base.Blocks = append(base.Blocks[:k-1:k-1], base.Blocks[k:]...)
	base.Renumber()
	base.SetOriginalCountIfAbsent(n)

	plan = append(plan, purge(k), shift(k+1, -1), trim(n-1))
	return Result{Scenario: base, Plan: plan, Index: index}, nil
}

// Update applies a partial edit to the block with the given index. Images
// of an action block are purged when its type or content changes.
func Update(doc *model.Scenario, index int, patch Patch) (Result, error) {
	base, plan, lookup := normalize(doc)
	k, ok := lookup[index]
	if !ok {
		return Result{}, apperr.NotFound("Block with given index not found")
	}
	n := len(base.Blocks)

	old := base.Blocks[k-1]
	updated := old
	if patch.Type != nil && *patch.Type != old.Type {
		if patch.Content == nil {
			return Result{}, apperr.Invalid("content", "content is required when the block type changes")
		}
		updated.Type = *patch.Type
	}
	if patch.Content != nil {
		if patch.Content.BlockType() != updated.Type {
			return Result{}, apperr.Invalid("content", fmt.Sprintf("content does not match block type %s", updated.Type))
		}
		updated.Content = patch.Content
	}
	if patch.Formatting != nil {
		updated.Formatting = *patch.Formatting
	}

	base.Blocks[k-1] = updated
	base.Renumber()
	base.SetOriginalCountIfAbsent(n)

	if IsStale(old, base.Blocks[k-1]) {
		plan = append(plan, purge(k))
	}
	plan = append(plan, trim(n))

	return Result{Scenario: base, Plan: plan, Block: base.Blocks[k-1], Index: k}, nil
}

// IsStale reports whether images made for old no longer illustrate updated.
// Only action blocks carry images.
func IsStale(old, updated model.Block) bool {
	if !old.Type.Illustratable() {
		return false
	}
	return !model.SameMeaning(old, updated)
}

// Reorder rearranges blocks so that newOrder lists the current indices in
// their new sequence. Content is untouched and no image is purged.
func Reorder(doc *model.Scenario, newOrder []int) (Result, error) {
	base, plan, lookup := normalize(doc)
	n := len(base.Blocks)

	if n == 0 {
		return Result{}, apperr.Invalid("new_order", "Scenario has no blocks to reorder")
	}
	if len(newOrder) != n {
		return Result{}, apperr.Invalid("new_order", fmt.Sprintf("new_order must contain exactly %d indices", n))
	}

	seen := make(map[int]bool, n)
	indexMap := make(map[int]int, n)
	normalizedMap := make(map[int]int, n)
	blocks := make([]model.Block, 0, n)
	for pos, stored := range newOrder {
		k, ok := lookup[stored]
		if !ok {
			return Result{}, apperr.Invalid("new_order", fmt.Sprintf("unknown block index %d", stored))
		}
		if seen[stored] {
			return Result{}, apperr.Invalid("new_order", fmt.Sprintf("duplicate block index %d", stored))
		}
		seen[stored] = true
		indexMap[stored] = pos + 1
		normalizedMap[k] = pos + 1
		blocks = append(blocks, base.Blocks[k-1])
	}

	base.Blocks = blocks
	base.Renumber()
	base.SetOriginalCountIfAbsent(n)

	plan = append(plan, remap(normalizedMap), trim(n))
	return Result{Scenario: base, Plan: plan, IndexMap: indexMap}, nil
}

// ReplaceOptions carries the optional document fields of a full replace
type ReplaceOptions struct {
	ProductDescription  *string
	OriginalBlocksCount *int
}

// Replace swaps the whole block list. Blocks without an index are new and
// get max+1, max+2, ... in request order. Images survive only for indices
// present in both lists with unchanged meaning; they follow their block to
// its position in the request, which becomes its new index.
func Replace(doc *model.Scenario, incoming []Incoming, opts ReplaceOptions) (Result, error) {
	oldByIndex := make(map[int]model.Block, len(doc.Blocks))
	for _, b := range doc.Blocks {
		oldByIndex[b.Index] = b
	}

	next := doc.MaxIndex()
	requested := make([]int, len(incoming))
	seen := make(map[int]bool, len(incoming))
	for i, in := range incoming {
		var idx int
		if in.Index == nil {
			next++
			idx = next
		} else {
			idx = *in.Index
		}
		if seen[idx] {
			return Result{}, apperr.Invalid(fmt.Sprintf("blocks[%d].index", i), fmt.Sprintf("Duplicate block index %d in request", idx))
		}
		seen[idx] = true
		requested[i] = idx
	}

	var plan Plan
	preserved := make(map[int]bool)
	indexMap := make(map[int]int)
	blocks := make([]model.Block, len(incoming))
	for i, in := range incoming {
		b := in.Block
		b.Index = i + 1
		blocks[i] = b

		idx := requested[i]
		old, common := oldByIndex[idx]
		if !common {
			continue
		}
		if model.SameMeaning(old, b) {
			preserved[idx] = true
			indexMap[idx] = i + 1
		} else {
			plan = append(plan, purge(idx))
		}
	}

	var deleted []int
	for idx := range oldByIndex {
		if !seen[idx] {
			deleted = append(deleted, idx)
		}
	}
	sort.Ints(deleted)
	for _, idx := range deleted {
		plan = append(plan, purge(idx))
	}

	n := len(blocks)
	plan = append(plan, keep(preserved), remap(indexMap), trim(n))

	out := doc.Clone()
	out.Blocks = blocks
	out.Renumber()
	if opts.ProductDescription != nil {
		out.ProductDescription = *opts.ProductDescription
	}
	switch {
	case opts.OriginalBlocksCount != nil:
		v := *opts.OriginalBlocksCount
		out.OriginalBlocksCount = &v
	case out.OriginalBlocksCount == nil:
		out.OriginalBlocksCount = &n
	}

	return Result{Scenario: out, Plan: plan, IndexMap: indexMap}, nil
}
