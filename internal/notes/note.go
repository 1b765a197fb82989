package notes

import (
	"github.com/google/uuid"

	"secure-notes/internal/history"
)

type Note struct {
	ID      string
	KeyName string
	Items   []*Item
	// FromCache is set when the note was served from the local cache rather
	// than the network.
	FromCache bool
}

// New returns an unsaved note with a fresh id and the given items marked dirty.
func New(keyName string, data ...ItemData) *Note {
	n := &Note{ID: uuid.NewString(), KeyName: keyName}
	for _, d := range data {
		n.Set(d)
	}
	return n
}

func (n *Note) Item(t ItemType) *Item {
	for _, it := range n.Items {
		if it.Type == t {
			return it
		}
	}
	return nil
}

// Set replaces the data of the item of d's type and marks it changed.
func (n *Note) Set(d ItemData) *Item {
	if it := n.Item(d.ItemType()); it != nil {
		it.Data = d
		it.Changed = true
		return it
	}
	it := &Item{Type: d.ItemType(), Data: d, Changed: true}
	n.Items = append(n.Items, it)
	return it
}

func (n *Note) Metadata() *Metadata {
	if it := n.Item(TypeMetadata); it != nil {
		if m, ok := it.Data.(*Metadata); ok {
			return m
		}
	}
	return nil
}

func (n *Note) Title() string {
	if m := n.Metadata(); m != nil {
		return m.Title
	}
	return ""
}

func (n *Note) Children() []string {
	if m := n.Metadata(); m != nil {
		return m.Children
	}
	return nil
}

func (n *Note) Text() string {
	if it := n.Item(TypeText); it != nil {
		if t, ok := it.Data.(*Text); ok {
			return t.Body
		}
	}
	return ""
}

func (n *Note) History() *history.State {
	if it := n.Item(TypeHistory); it != nil {
		if h, ok := it.Data.(*History); ok {
			return &h.State
		}
	}
	return nil
}

// Dirty lists items changed since the last accepted write.
func (n *Note) Dirty() []*Item {
	var out []*Item
	for _, it := range n.Items {
		if it.Changed {
			out = append(out, it)
		}
	}
	return out
}

func (n *Note) MarkClean() {
	for _, it := range n.Items {
		it.Changed = false
	}
}

func (n *Note) Size() int64 {
	var total int64
	for _, it := range n.Items {
		total += it.Size
	}
	return total
}

// Versions maps item type to version for every clean item.
func (n *Note) Versions() map[string]int64 {
	out := make(map[string]int64, len(n.Items))
	for _, it := range n.Items {
		if !it.Changed {
			out[string(it.Type)] = it.Version
		}
	}
	return out
}

func (n *Note) Clone() *Note {
	c := &Note{ID: n.ID, KeyName: n.KeyName, FromCache: n.FromCache, Items: make([]*Item, len(n.Items))}
	for i, it := range n.Items {
		c.Items[i] = it.Clone()
	}
	return c
}

// NewerThan reports whether n should replace old in memory: the key changed,
// a network copy replaces a cached one, or some item version advanced.
func (n *Note) NewerThan(old *Note) bool {
	if old == nil {
		return true
	}
	if n.KeyName != old.KeyName {
		return true
	}
	if old.FromCache && !n.FromCache {
		return true
	}
	for _, it := range n.Items {
		prev := old.Item(it.Type)
		if prev == nil || it.Version > prev.Version {
			return true
		}
	}
	return false
}
