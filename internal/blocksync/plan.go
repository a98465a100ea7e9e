package blocksync

import "sort"

// MutationKind names one step of an index plan
type MutationKind string

const (
	MutationPurge MutationKind = "purge"
	MutationShift MutationKind = "shift"
	MutationRemap MutationKind = "remap"
	MutationKeep  MutationKind = "keep"
	MutationTrim  MutationKind = "trim"
)

// Mutation is a pure function over block indices. Ledger rows and mirror
// entries are both resolved through the same mutations so they can never
// disagree about where an image belongs.
type Mutation struct {
	Kind  MutationKind
	Index int          // purge
	Start int          // shift
	Delta int          // shift
	Map   map[int]int  // remap
	Valid map[int]bool // keep
	Limit int          // trim
}

// Apply maps index through the mutation. keep=false means the record at
// index must be purged.
func (m Mutation) Apply(index int) (int, bool) {
	switch m.Kind {
	case MutationPurge:
		return index, index != m.Index
	case MutationShift:
		if index >= m.Start {
			return index + m.Delta, true
		}
		return index, true
	case MutationRemap:
		if n, ok := m.Map[index]; ok {
			return n, true
		}
		return index, true
	case MutationKeep:
		return index, m.Valid[index]
	case MutationTrim:
		return index, index >= 1 && index <= m.Limit
	default:
		return index, true
	}
}

func purge(index int) Mutation {
	return Mutation{Kind: MutationPurge, Index: index}
}

func shift(start, delta int) Mutation {
	return Mutation{Kind: MutationShift, Start: start, Delta: delta}
}

func remap(m map[int]int) Mutation {
	return Mutation{Kind: MutationRemap, Map: m}
}

func keep(valid map[int]bool) Mutation {
	return Mutation{Kind: MutationKeep, Valid: valid}
}

func trim(n int) Mutation {
	return Mutation{Kind: MutationTrim, Limit: n}
}

// Plan is an ordered list of mutations
type Plan []Mutation

// Resolve runs index through every mutation in order
func (p Plan) Resolve(index int) (int, bool) {
	for _, m := range p {
		var ok bool
		index, ok = m.Apply(index)
		if !ok {
			return 0, false
		}
	}
	return index, true
}

// Purges returns the indices the plan purges explicitly, ascending
func (p Plan) Purges() []int {
	var out []int
	for _, m := range p {
		if m.Kind == MutationPurge {
			out = append(out, m.Index)
		}
	}
	sort.Ints(out)
	return out
}
