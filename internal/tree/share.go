package tree

import (
	"context"

	"secure-notes/internal/client"
	"secure-notes/internal/keychain"
	"secure-notes/internal/wire"
)

// Share offers n's subtree to recipient. Unless n already is the top of a
// share, the subtree is first moved to a fresh shared key. Guardrails and
// the recipient's public key are checked before anything is changed.
func (m *Manager) Share(ctx context.Context, n *Node, recipient string) error {
	return m.structural(ctx, "share", func() error {
		m.mu.Lock()
		isRoot := n == m.root
		var ancestors []string
		for p := n.parent; p != nil; p = p.parent {
			ancestors = append(ancestors, p.note.KeyName)
		}
		m.mu.Unlock()
		if isRoot {
			return ErrShareRoot
		}
		for _, keyName := range ancestors {
			if m.sharedKey(keyName) {
				return ErrShareAncestorShared
			}
		}
		sub, err := m.flatten(ctx, n)
		if err != nil {
			return err
		}
		keyName := n.Note().KeyName
		for _, d := range sub[1:] {
			if k := d.Note().KeyName; k != keyName && m.sharedKey(k) {
				return ErrShareNestedShared
			}
		}

		pub, err := m.sync.PublicKey(ctx, recipient)
		if err != nil {
			return err
		}

		var ks *keychain.KeySet
		if m.sharedKey(keyName) {
			ks, _ = m.sync.Keys().ByName(keyName)
		} else {
			if ks, err = m.sync.CreateKey(ctx, wire.KeyMeta{Shared: true}); err != nil {
				return err
			}
			actions, err := m.rekeyActions(ctx, n, ks.Name)
			if err != nil {
				return err
			}
			if err := m.commit(ctx, actions); err != nil {
				return err
			}
		}
		return m.sync.ShareWith(ctx, recipient, pub, n.id, ks)
	})
}

// AcceptShare imports the offered key and links the shared note under dest.
func (m *Manager) AcceptShare(ctx context.Context, o client.Offer, dest *Node) (*Node, error) {
	var shared *Node
	err := m.structural(ctx, "accept-share", func() error {
		if _, err := m.sync.AcceptShare(ctx, o); err != nil {
			return err
		}
		noteID := o.Info.NoteID
		if err := m.link(ctx, dest, noteID, -1); err != nil {
			return err
		}
		if err := m.ensureChildren(ctx, dest); err != nil {
			return err
		}
		if shared = m.Node(noteID); shared == nil {
			return ErrNotFound
		}
		m.selectNode(shared)
		return nil
	})
	return shared, err
}
