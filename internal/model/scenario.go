package model

// Scenario is the screenplay document stored for a project
type Scenario struct {
	ProductDescription  string  `json:"product_description"`
	OriginalBlocksCount *int    `json:"original_blocks_count,omitempty"`
	FinalBlocksCount    int     `json:"final_blocks_count"`
	Blocks              []Block `json:"blocks"`
}

// NewScenario builds a document from freshly generated blocks: consecutive
// duplicates are dropped, default formatting is applied and indices run 1..N.
func NewScenario(productDescription string, generated []Block) *Scenario {
	blocks := make([]Block, 0, len(generated))
	for _, b := range generated {
		if n := len(blocks); n > 0 && SameMeaning(blocks[n-1], b) {
			continue
		}
		b.Formatting = DefaultFormatting(b.Type)
		blocks = append(blocks, b)
	}

	original := len(generated)
	s := &Scenario{
		ProductDescription:  productDescription,
		OriginalBlocksCount: &original,
		Blocks:              blocks,
	}
	s.Renumber()
	return s
}

// Clone returns a deep copy of the document's block list and counters.
// Block contents are values and are shared safely.
func (s *Scenario) Clone() *Scenario {
	out := *s
	out.Blocks = append([]Block(nil), s.Blocks...)
	if s.OriginalBlocksCount != nil {
		v := *s.OriginalBlocksCount
		out.OriginalBlocksCount = &v
	}
	return &out
}

// Renumber assigns indices 1..N in slice order and refreshes the final count
func (s *Scenario) Renumber() {
	for i := range s.Blocks {
		s.Blocks[i].Index = i + 1
	}
	s.FinalBlocksCount = len(s.Blocks)
}

// Position returns the slice position of the block with the given index
func (s *Scenario) Position(index int) (int, bool) {
	for i, b := range s.Blocks {
		if b.Index == index {
			return i, true
		}
	}
	return -1, false
}

// Block returns the block with the given index
func (s *Scenario) Block(index int) (Block, bool) {
	if pos, ok := s.Position(index); ok {
		return s.Blocks[pos], true
	}
	return Block{}, false
}

// MaxIndex returns the largest block index, or 0 for an empty document
func (s *Scenario) MaxIndex() int {
	max := 0
	for _, b := range s.Blocks {
		if b.Index > max {
			max = b.Index
		}
	}
	return max
}

// SetOriginalCountIfAbsent records n as the original block count unless one
// is already present.
func (s *Scenario) SetOriginalCountIfAbsent(n int) {
	if s.OriginalBlocksCount == nil {
		s.OriginalBlocksCount = &n
	}
}
