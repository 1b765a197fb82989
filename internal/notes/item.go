// Package notes models decrypted notes. Item data is a tagged union keyed by
// the item type and decoded only after decryption.
package notes

import (
	"encoding/json"
	"fmt"
	"time"

	"secure-notes/internal/history"
)

type ItemType string

const (
	TypeMetadata ItemType = "metadata"
	TypeText     ItemType = "text"
	TypeHistory  ItemType = "history"
)

// ItemData is the plaintext of one item.
type ItemData interface {
	ItemType() ItemType
	clone() ItemData
}

// Metadata holds the title and the authoritative ordered child id list.
// RecycleBin and ControlPanel are set only on the account root note.
type Metadata struct {
	Title        string    `json:"title"`
	Created      time.Time `json:"created"`
	Children     []string  `json:"children"`
	RecycleBin   string    `json:"recycleBin,omitempty"`
	ControlPanel string    `json:"controlPanel,omitempty"`
}

func (*Metadata) ItemType() ItemType { return TypeMetadata }

func (m *Metadata) clone() ItemData {
	c := *m
	c.Children = append([]string(nil), m.Children...)
	return &c
}

func (m *Metadata) HasChild(id string) bool {
	return m.IndexOf(id) >= 0
}

func (m *Metadata) IndexOf(id string) int {
	for i, c := range m.Children {
		if c == id {
			return i
		}
	}
	return -1
}

func (m *Metadata) RemoveChild(id string) bool {
	i := m.IndexOf(id)
	if i < 0 {
		return false
	}
	m.Children = append(m.Children[:i:i], m.Children[i+1:]...)
	return true
}

// InsertChild places id at index, or appends when index is out of range.
func (m *Metadata) InsertChild(id string, index int) {
	if index < 0 || index >= len(m.Children) {
		m.Children = append(m.Children, id)
		return
	}
	m.Children = append(m.Children[:index], append([]string{id}, m.Children[index:]...)...)
}

type Text struct {
	Body string `json:"body"`
}

func (*Text) ItemType() ItemType { return TypeText }

func (t *Text) clone() ItemData {
	c := *t
	return &c
}

type History struct {
	history.State
}

func (*History) ItemType() ItemType { return TypeHistory }

func (h *History) clone() ItemData {
	c := History{State: history.State{
		Active:      append([]history.Entry(nil), h.Active...),
		HotArchive:  append([]history.Entry(nil), h.HotArchive...),
		ColdArchive: make([][]byte, len(h.ColdArchive)),
	}}
	for i, chunk := range h.ColdArchive {
		c.ColdArchive[i] = append([]byte(nil), chunk...)
	}
	return &c
}

// Raw carries item types this client does not understand, unchanged.
type Raw struct {
	Type ItemType
	Data json.RawMessage
}

func (r *Raw) ItemType() ItemType { return r.Type }

func (r *Raw) clone() ItemData {
	return &Raw{Type: r.Type, Data: append(json.RawMessage(nil), r.Data...)}
}

func (r *Raw) MarshalJSON() ([]byte, error) {
	if len(r.Data) == 0 {
		return []byte("null"), nil
	}
	return r.Data, nil
}

// EncodeData serializes d for encryption.
func EncodeData(d ItemData) ([]byte, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("notes: encode %s: %w", d.ItemType(), err)
	}
	return b, nil
}

// DecodeData parses decrypted item bytes according to typ.
func DecodeData(typ ItemType, b []byte) (ItemData, error) {
	var d ItemData
	switch typ {
	case TypeMetadata:
		d = &Metadata{}
	case TypeText:
		d = &Text{}
	case TypeHistory:
		d = &History{}
	default:
		return &Raw{Type: typ, Data: append(json.RawMessage(nil), b...)}, nil
	}
	if err := json.Unmarshal(b, d); err != nil {
		return nil, fmt.Errorf("notes: decode %s: %w", typ, err)
	}
	return d, nil
}

// Item is one independently versioned facet of a note.
type Item struct {
	Type    ItemType
	Version int64
	Changed bool
	Size    int64
	Data    ItemData
}

func (it *Item) Clone() *Item {
	c := *it
	if it.Data != nil {
		c.Data = it.Data.clone()
	}
	return &c
}
