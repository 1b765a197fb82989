package tree

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"secure-notes/internal/client"
	"secure-notes/internal/history"
	"secure-notes/internal/lock"
	"secure-notes/internal/notes"
	"secure-notes/internal/wire"
)

// maxLinkAttempts bounds retries of a parent link that lost a version race.
const maxLinkAttempts = 3

// Options control where a node lands and which key it ends up under.
type Options struct {
	// Index is the position among the destination's children; negative
	// appends.
	Index int
	// PreserveKey keeps the moved or copied notes under their current keys
	// instead of the destination's.
	PreserveKey bool
}

// Append places a node after the destination's existing children.
var Append = Options{Index: -1}

// structural runs fn under the exclusive lock after checking the connection.
func (m *Manager) structural(ctx context.Context, op string, fn func() error) error {
	if !m.sync.Online() {
		return &OfflineError{Op: op}
	}
	if m.Root() == nil {
		return ErrNotLoaded
	}
	err := m.lock.Do(ctx, lock.Exclusive, fn)
	if err != nil {
		m.log.Warn().Err(err).Str("op", op).Msg("tree operation failed")
		return err
	}
	m.log.Debug().Str("op", op).Msg("tree operation")
	return nil
}

// withMetadata returns a clone of note with fn applied to its metadata.
func withMetadata(note *notes.Note, fn func(md *notes.Metadata)) *notes.Note {
	c := note.Clone()
	md := c.Metadata()
	if md == nil {
		md = &notes.Metadata{}
	}
	fn(md)
	c.Set(md)
	return c
}

// commit submits actions as one batch and installs the accepted notes.
func (m *Manager) commit(ctx context.Context, actions []client.Action) error {
	if err := m.sync.Multi(ctx, actions); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range actions {
		switch n := m.nodes[a.Note.ID]; {
		case a.Kind == wire.ActionDelete:
			if n != nil {
				m.forget(n)
			}
		case n == nil:
			m.nodes[a.Note.ID] = &Node{m: m, id: a.Note.ID, note: a.Note}
		default:
			n.note = a.Note
		}
	}
	return nil
}

func (m *Manager) selectNode(n *Node) {
	m.mu.Lock()
	m.selected = n.id
	m.mu.Unlock()
}

// protected reports whether n may not be moved or removed. Caller holds m.mu.
func (m *Manager) protected(n *Node) bool {
	bin, panel := m.systemIDs()
	return n == m.root || n.id == bin || n.id == panel || n.parent == nil
}

// link adds childID to parent's children in the same batch as extra,
// rereading the parent and retrying when its metadata version is stale.
func (m *Manager) link(ctx context.Context, parent *Node, childID string, index int, extra ...client.Action) error {
	var err error
	for attempt := 0; attempt < maxLinkAttempts; attempt++ {
		upd := withMetadata(parent.Note(), func(md *notes.Metadata) {
			if !md.HasChild(childID) {
				md.InsertChild(childID, index)
			}
		})
		err = m.commit(ctx, append([]client.Action{client.UpdateAction(upd)}, extra...))
		if !errors.Is(err, client.ErrConflict) {
			return err
		}
		m.log.Debug().Str("parent", parent.id).Int("attempt", attempt+1).Msg("parent changed, retrying link")
		if err := m.refresh(ctx, parent); err != nil {
			return err
		}
	}
	return err
}

// CreateChild creates an empty note under parent, using the parent's key,
// and selects it.
func (m *Manager) CreateChild(ctx context.Context, parent *Node, title string, opts Options) (*Node, error) {
	var child *Node
	err := m.structural(ctx, "create", func() error {
		note := notes.New(parent.Note().KeyName,
			&notes.Metadata{Title: title, Created: m.now().UTC()},
			&notes.Text{},
		)
		if err := m.link(ctx, parent, note.ID, opts.Index, client.CreateAction(note)); err != nil {
			return err
		}
		if err := m.ensureChildren(ctx, parent); err != nil {
			return err
		}
		child = m.Node(note.ID)
		m.selectNode(child)
		return nil
	})
	return child, err
}

// Delete removes n and its whole subtree in one batch.
func (m *Manager) Delete(ctx context.Context, n *Node) error {
	return m.structural(ctx, "delete", func() error {
		return m.delete(ctx, n)
	})
}

func (m *Manager) delete(ctx context.Context, n *Node) error {
	m.mu.Lock()
	prot, parent := m.protected(n), n.parent
	m.mu.Unlock()
	if prot {
		return ErrProtected
	}
	sub, err := m.flatten(ctx, n)
	if err != nil {
		return err
	}
	actions := []client.Action{client.UpdateAction(withMetadata(parent.Note(), func(md *notes.Metadata) {
		md.RemoveChild(n.id)
	}))}
	for _, d := range sub {
		actions = append(actions, client.DeleteAction(d.Note().Clone()))
	}
	if err := m.commit(ctx, actions); err != nil {
		return err
	}
	if err := m.ensureChildren(ctx, parent); err != nil {
		return err
	}
	m.selectNode(parent)
	return nil
}

// Trash moves n into the recycle bin, or deletes it when it already is there.
func (m *Manager) Trash(ctx context.Context, n *Node) error {
	return m.structural(ctx, "trash", func() error {
		m.mu.Lock()
		binID, _ := m.systemIDs()
		bin := m.nodes[binID]
		inBin := bin != nil && within(n, bin)
		m.mu.Unlock()
		if bin == nil {
			return ErrNotFound
		}
		if inBin {
			return m.delete(ctx, n)
		}
		return m.move(ctx, n, bin, Options{Index: -1, PreserveKey: true})
	})
}

// Move relinks n under dest. Unless opts.PreserveKey is set, a note that
// inherited its parent's key is re-keyed to the destination's key together
// with the descendants sharing that key.
func (m *Manager) Move(ctx context.Context, n, dest *Node, opts Options) error {
	return m.structural(ctx, "move", func() error {
		return m.move(ctx, n, dest, opts)
	})
}

func (m *Manager) move(ctx context.Context, n, dest *Node, opts Options) error {
	m.mu.Lock()
	prot, cycle, from := m.protected(n), within(dest, n), n.parent
	m.mu.Unlock()
	switch {
	case prot:
		return ErrProtected
	case cycle:
		return ErrCycle
	}

	if from == dest {
		upd := withMetadata(dest.Note(), func(md *notes.Metadata) {
			md.RemoveChild(n.id)
			md.InsertChild(n.id, opts.Index)
		})
		if err := m.commit(ctx, []client.Action{client.UpdateAction(upd)}); err != nil {
			return err
		}
	} else {
		actions := []client.Action{
			client.UpdateAction(withMetadata(from.Note(), func(md *notes.Metadata) { md.RemoveChild(n.id) })),
			client.UpdateAction(withMetadata(dest.Note(), func(md *notes.Metadata) {
				if !md.HasChild(n.id) {
					md.InsertChild(n.id, opts.Index)
				}
			})),
		}
		if !opts.PreserveKey && n.Note().KeyName == from.Note().KeyName {
			rekey, err := m.rekeyActions(ctx, n, dest.Note().KeyName)
			if err != nil {
				return err
			}
			actions = append(actions, rekey...)
		}
		if err := m.commit(ctx, actions); err != nil {
			return err
		}
		m.mu.Lock()
		n.parent = dest
		m.mu.Unlock()
		if err := m.ensureChildren(ctx, from); err != nil {
			return err
		}
	}
	if err := m.ensureChildren(ctx, dest); err != nil {
		return err
	}
	m.selectNode(n)
	return nil
}

// rekeyActions moves every note of n's subtree that is under n's key to
// keyName.
func (m *Manager) rekeyActions(ctx context.Context, n *Node, keyName string) ([]client.Action, error) {
	from := n.Note().KeyName
	if from == keyName {
		return nil, nil
	}
	if _, ok := m.sync.Keys().ByName(keyName); !ok {
		return nil, client.ErrKeyNotFound
	}
	sub, err := m.flatten(ctx, n)
	if err != nil {
		return nil, err
	}
	var actions []client.Action
	for _, d := range sub {
		if note := d.Note(); note.KeyName == from {
			actions = append(actions, client.ChangeKeyAction(note.Clone(), keyName))
		}
	}
	return actions, nil
}

// Copy clones n's subtree under dest with fresh ids and selects the copy.
// Clones are encrypted under dest's key unless opts.PreserveKey is set.
func (m *Manager) Copy(ctx context.Context, n, dest *Node, opts Options) (*Node, error) {
	var copied *Node
	err := m.structural(ctx, "copy", func() error {
		m.mu.Lock()
		cycle := within(dest, n)
		m.mu.Unlock()
		if cycle {
			return ErrCycle
		}
		sub, err := m.flatten(ctx, n)
		if err != nil {
			return err
		}
		ids := make(map[string]string, len(sub))
		for _, d := range sub {
			ids[d.id] = uuid.NewString()
		}
		destKey := dest.Note().KeyName
		creates := make([]client.Action, 0, len(sub))
		for _, d := range sub {
			src := d.Note()
			keyName := destKey
			if opts.PreserveKey {
				keyName = src.KeyName
			}
			c := &notes.Note{ID: ids[d.id], KeyName: keyName}
			for _, it := range src.Items {
				data := it.Clone().Data
				if md, ok := data.(*notes.Metadata); ok {
					md.Created = m.now().UTC()
					md.RecycleBin, md.ControlPanel = "", ""
					kids := md.Children[:0]
					for _, id := range md.Children {
						if nid, ok := ids[id]; ok {
							kids = append(kids, nid)
						}
					}
					md.Children = kids
				}
				c.Set(data)
			}
			creates = append(creates, client.CreateAction(c))
		}
		if err := m.link(ctx, dest, ids[n.id], opts.Index, creates...); err != nil {
			return err
		}
		if err := m.ensureChildren(ctx, dest); err != nil {
			return err
		}
		copied = m.Node(ids[n.id])
		m.selectNode(copied)
		return nil
	})
	return copied, err
}

// ChangeKey re-encrypts n and the descendants sharing its key under keyName.
// Item versions are kept.
func (m *Manager) ChangeKey(ctx context.Context, n *Node, keyName string) error {
	return m.structural(ctx, "change-key", func() error {
		actions, err := m.rekeyActions(ctx, n, keyName)
		if err != nil || len(actions) == 0 {
			return err
		}
		return m.commit(ctx, actions)
	})
}

func (m *Manager) Rename(ctx context.Context, n *Node, title string) error {
	return m.structural(ctx, "rename", func() error {
		upd := withMetadata(n.Note(), func(md *notes.Metadata) { md.Title = title })
		return m.commit(ctx, []client.Action{client.UpdateAction(upd)})
	})
}

// SaveText replaces n's text and records the new text in its history.
func (m *Manager) SaveText(ctx context.Context, n *Node, body string) error {
	return m.structural(ctx, "save", func() error {
		c := n.Note().Clone()
		c.Set(&notes.Text{Body: body})
		h := &notes.History{}
		if it := c.Item(notes.TypeHistory); it != nil {
			if prev, ok := it.Data.(*notes.History); ok {
				h = prev
			}
		}
		entry := history.Entry{Text: body, Author: m.sync.Username(), Timestamp: m.now().UTC()}
		if err := h.Add(entry, m.maxHistory); err != nil {
			return err
		}
		c.Set(h)
		return m.commit(ctx, []client.Action{client.UpdateAction(c)})
	})
}

// History pages n's edit log newest first.
func (m *Manager) History(n *Node) *history.Cursor {
	if st := n.Note().History(); st != nil {
		return st.Cursor()
	}
	return (&history.State{}).Cursor()
}
