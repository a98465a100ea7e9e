package mirror

import (
	"sort"

	"github.com/adscript/api/internal/model"
)

// Set groups the three mirror columns of a project
type Set struct {
	Paths        string
	Descriptions string
	Statuses     string
}

// FromProject reads the mirror columns of p
func FromProject(p *model.Project) Set {
	return Set{
		Paths:        p.ImagePaths,
		Descriptions: p.ImageDescriptions,
		Statuses:     p.ImageGenerationStatus,
	}
}

// ApplyTo writes the columns back onto p
func (s Set) ApplyTo(p *model.Project) {
	p.ImagePaths = s.Paths
	p.ImageDescriptions = s.Descriptions
	p.ImageGenerationStatus = s.Statuses
}

// Transform applies fn to each column independently
func (s Set) Transform(fn IndexFunc) Set {
	return Set{
		Paths:        Transform(s.Paths, fn),
		Descriptions: Transform(s.Descriptions, fn),
		Statuses:     Transform(s.Statuses, fn),
	}
}

// MarkStatus sets the status entry of index, leaving path and description
// untouched.
func (s Set) MarkStatus(index int, status model.ImageStatus) Set {
	s.Statuses = Upsert(s.Statuses, index, func(e *Entry) {
		e.Status = status
	})
	return s
}

// Complete upserts all three columns for a finished image
func (s Set) Complete(index int, path, description string) Set {
	s.Paths = Upsert(s.Paths, index, func(e *Entry) {
		e.ImagePath = &path
	})
	s.Descriptions = Upsert(s.Descriptions, index, func(e *Entry) {
		e.ImageDescription = &description
	})
	s.Statuses = Upsert(s.Statuses, index, func(e *Entry) {
		e.Status = model.ImageStatusCompleted
	})
	return s
}

// States merges the three columns into one view per index, ordered by index
func (s Set) States() []model.BlockImageState {
	paths := Lookup(s.Paths)
	descriptions := Lookup(s.Descriptions)
	statuses := Lookup(s.Statuses)

	merged := make(map[int]*model.BlockImageState)
	get := func(i int) *model.BlockImageState {
		if st, ok := merged[i]; ok {
			return st
		}
		st := &model.BlockImageState{Index: i}
		merged[i] = st
		return st
	}
	for i, e := range paths {
		if e.ImagePath != nil {
			get(i).ImagePath = *e.ImagePath
		}
	}
	for i, e := range descriptions {
		if e.ImageDescription != nil {
			get(i).ImageDescription = *e.ImageDescription
		}
	}
	for i, e := range statuses {
		get(i).Status = e.Status
	}

	out := make([]model.BlockImageState, 0, len(merged))
	for _, st := range merged {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
