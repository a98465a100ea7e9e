// Package mirror reads and rewrites the legacy per-block JSON columns stored
// on a project: image_paths, image_descriptions and image_generation_status.
//
// Each column has the shape {"blocks":[{"index":1, ...}]}. Structural
// transforms never fail: a column that is empty, malformed or whose
// "blocks" member is not a list is returned unchanged. Inside a readable
// column, entries without an integer index are carried through verbatim
// while the others are transformed.
package mirror

import (
	"encoding/json"
	"log"
	"sort"

	"github.com/adscript/api/internal/model"
)

// Entry is one block record of a mirror column. Only the fields of the
// owning column are set when it is serialized.
type Entry struct {
	Index            int               `json:"index"`
	ImagePath        *string           `json:"image_path,omitempty"`
	ImageDescription *string           `json:"image_description,omitempty"`
	Status           model.ImageStatus `json:"status,omitempty"`

	// raw holds an entry that could not be decoded
	raw json.RawMessage
}

// Opaque reports whether the entry has no usable index and is kept as is
func (e Entry) Opaque() bool {
	return e.raw != nil
}

// MarshalJSON writes opaque entries back unchanged
func (e Entry) MarshalJSON() ([]byte, error) {
	if e.raw != nil {
		return e.raw, nil
	}
	type plain Entry
	return json.Marshal(plain(e))
}

func decodeEntry(data json.RawMessage) Entry {
	var head struct {
		Index json.RawMessage `json:"index"`
	}
	if err := json.Unmarshal(data, &head); err != nil || len(head.Index) == 0 || string(head.Index) == "null" {
		return Entry{raw: data}
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{raw: data}
	}
	return entry
}

// Document is the decoded form of a mirror column
type Document struct {
	Blocks []Entry `json:"blocks"`
}

// IndexFunc maps an old block index to its new index. keep=false drops the
// entry.
type IndexFunc func(index int) (newIndex int, keep bool)

// Decode parses a mirror column. ok is false when raw is empty or not a
// well-formed mirror document.
func Decode(raw string) (Document, bool) {
	if raw == "" {
		return Document{}, false
	}

	var column struct {
		Blocks json.RawMessage `json:"blocks"`
	}
	if err := json.Unmarshal([]byte(raw), &column); err != nil {
		return Document{}, false
	}
	if len(column.Blocks) == 0 || column.Blocks[0] != '[' {
		return Document{}, false
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(column.Blocks, &entries); err != nil {
		return Document{}, false
	}

	doc := Document{Blocks: make([]Entry, 0, len(entries))}
	for _, e := range entries {
		doc.Blocks = append(doc.Blocks, decodeEntry(e))
	}
	return doc, true
}

// Encode serializes a document with entries ordered by index. Opaque
// entries come first in their original order.
func Encode(doc Document) string {
	if doc.Blocks == nil {
		doc.Blocks = []Entry{}
	}
	sort.SliceStable(doc.Blocks, func(i, j int) bool {
		a, b := doc.Blocks[i], doc.Blocks[j]
		if a.Opaque() || b.Opaque() {
			return a.Opaque() && !b.Opaque()
		}
		return a.Index < b.Index
	})
	data, err := json.Marshal(doc)
	if err != nil {
		return ""
	}
	return string(data)
}

// Transform rewrites every entry index through fn. Malformed input is
// returned unchanged.
func Transform(raw string, fn IndexFunc) string {
	doc, ok := Decode(raw)
	if !ok {
		return raw
	}

	out := Document{Blocks: make([]Entry, 0, len(doc.Blocks))}
	for _, e := range doc.Blocks {
		if e.Opaque() {
			out.Blocks = append(out.Blocks, e)
			continue
		}
		idx, keep := fn(e.Index)
		if !keep {
			continue
		}
		e.Index = idx
		out.Blocks = append(out.Blocks, e)
	}
	return Encode(out)
}

// Shift moves entries with index >= start by delta
func Shift(raw string, start, delta int) string {
	return Transform(raw, func(i int) (int, bool) {
		if i >= start {
			return i + delta, true
		}
		return i, true
	})
}

// Remap relabels entries through indexMap; unmapped entries keep their index
func Remap(raw string, indexMap map[int]int) string {
	return Transform(raw, func(i int) (int, bool) {
		if n, ok := indexMap[i]; ok {
			return n, true
		}
		return i, true
	})
}

// Purge drops every entry at index
func Purge(raw string, index int) string {
	return Transform(raw, func(i int) (int, bool) {
		return i, i != index
	})
}

// Keep drops every entry whose index is not in valid
func Keep(raw string, valid map[int]bool) string {
	return Transform(raw, func(i int) (int, bool) {
		return i, valid[i]
	})
}

// Trim drops every entry outside 1..n
func Trim(raw string, n int) string {
	return Transform(raw, func(i int) (int, bool) {
		return i, i >= 1 && i <= n
	})
}

// Upsert replaces the entry at index with the result of mutate, creating
// it when absent. Unlike the structural transforms, a malformed column is
// treated as absent and rebuilt.
func Upsert(raw string, index int, mutate func(e *Entry)) string {
	doc, ok := Decode(raw)
	if !ok {
		if raw != "" {
			log.Printf("Warning: rebuilding unreadable image column, previous value dropped: %q", raw)
		}
		doc = Document{}
	}

	entry := Entry{Index: index}
	kept := make([]Entry, 0, len(doc.Blocks)+1)
	for _, e := range doc.Blocks {
		if !e.Opaque() && e.Index == index {
			entry = e
			continue
		}
		kept = append(kept, e)
	}
	mutate(&entry)
	entry.Index = index
	doc.Blocks = append(kept, entry)
	return Encode(doc)
}

// Lookup returns the entries of a column by index. The last entry wins when
// an index appears twice. Malformed input yields an empty map.
func Lookup(raw string) map[int]Entry {
	out := make(map[int]Entry)
	doc, ok := Decode(raw)
	if !ok {
		return out
	}
	for _, e := range doc.Blocks {
		if !e.Opaque() {
			out[e.Index] = e
		}
	}
	return out
}
