package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"secure-notes/internal/keychain"
	"secure-notes/internal/notes"
	"secure-notes/internal/wire"
)

func itemAAD(noteID string, typ notes.ItemType) []byte {
	return []byte("note:" + noteID + ":" + string(typ))
}

func sealItem(ks *keychain.KeySet, noteID string, it *notes.Item) (wire.ItemRecord, error) {
	pt, err := notes.EncodeData(it.Data)
	if err != nil {
		return wire.ItemRecord{}, err
	}
	ct, err := ks.Cipher.Seal(pt, itemAAD(noteID, it.Type))
	if err != nil {
		return wire.ItemRecord{}, err
	}
	return wire.ItemRecord{Type: string(it.Type), Version: it.Version, Data: ct, Size: int64(len(ct))}, nil
}

func openItem(ks *keychain.KeySet, noteID string, rec wire.ItemRecord) (*notes.Item, error) {
	typ := notes.ItemType(rec.Type)
	pt, err := ks.Cipher.Open(rec.Data, itemAAD(noteID, typ))
	if err != nil {
		return nil, fmt.Errorf("client: open %s/%s: %w", noteID, typ, err)
	}
	d, err := notes.DecodeData(typ, pt)
	if err != nil {
		return nil, err
	}
	return &notes.Item{Type: typ, Version: rec.Version, Size: rec.Size, Data: d}, nil
}

func (c *Client) openNote(rec wire.NoteRecord) (*notes.Note, error) {
	ks, err := c.keySet(rec.KeyName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, rec.KeyName)
	}
	n := &notes.Note{ID: rec.ID, KeyName: rec.KeyName}
	for _, ir := range rec.Items {
		it, err := openItem(ks, rec.ID, ir)
		if err != nil {
			return nil, err
		}
		n.Items = append(n.Items, it)
	}
	return n, nil
}

type ReadOptions struct {
	// Base is the caller's current copy. The server omits items whose
	// version matches it and they are taken from Base instead.
	Base *notes.Note
	// PreferCache serves a cached copy when one exists.
	PreferCache bool
}

// ReadNote returns the note, or nil when it does not exist. With a Base and
// nothing newer on the server it also returns nil, unless Base came from the
// cache.
func (c *Client) ReadNote(ctx context.Context, id string, opts ReadOptions) (*notes.Note, error) {
	if opts.PreferCache || !c.Online() {
		n, err := c.readCached(ctx, id)
		if err != nil || n != nil || !c.Online() {
			return n, err
		}
	}

	base := opts.Base
	if base != nil && base.ID != id {
		base = nil
	}
	req := wire.ReadNoteRequest{ID: id}
	if base != nil {
		req.Versions = base.Versions()
	}
	var rec wire.NoteRecord
	err := c.send(ctx, request{method: http.MethodPost, path: wire.PathNoteRead, body: req, signed: true}, &rec)
	if IsNotFound(err) {
		if err := c.cache.DeleteNote(ctx, id); err != nil {
			c.log.Warn().Err(err).Str("note", id).Msg("purge cached note")
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ks, err := c.keySet(rec.KeyName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, rec.KeyName)
	}
	n := &notes.Note{ID: rec.ID, KeyName: rec.KeyName}
	full := wire.NoteRecord{ID: rec.ID, KeyName: rec.KeyName}
	changed := base == nil || base.KeyName != rec.KeyName
	for _, ir := range rec.Items {
		if !ir.Updated && base != nil {
			// Only clean base items at the same version are trusted.
			prev := base.Item(notes.ItemType(ir.Type))
			if prev == nil || prev.Changed || prev.Version != ir.Version {
				return nil, fmt.Errorf("client: server omitted item %s of note %s", ir.Type, id)
			}
			it := prev.Clone()
			sealed, err := sealItem(ks, id, it)
			if err != nil {
				return nil, err
			}
			it.Size = sealed.Size
			n.Items = append(n.Items, it)
			full.Items = append(full.Items, sealed)
			continue
		}
		it, err := openItem(ks, id, ir)
		if err != nil {
			return nil, err
		}
		changed = true
		n.Items = append(n.Items, it)
		ir.Updated = false
		full.Items = append(full.Items, ir)
	}
	if base != nil {
		for _, prev := range base.Items {
			if !prev.Changed && n.Item(prev.Type) == nil {
				changed = true
			}
		}
	}
	if !changed && !base.FromCache {
		return nil, nil
	}
	if err := c.cache.SetNote(ctx, full); err != nil {
		c.log.Warn().Err(err).Str("note", id).Msg("cache note")
	}
	return n, nil
}

func (c *Client) readCached(ctx context.Context, id string) (*notes.Note, error) {
	rec, err := c.cache.GetNote(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	n, err := c.openNote(*rec)
	if err != nil {
		return nil, err
	}
	n.FromCache = true
	return n, nil
}

// Action is one entry of a batch.
type Action struct {
	Kind wire.ActionKind
	Note *notes.Note
	// NewKeyName is the target key of a change-key action.
	NewKeyName string
}

func CreateAction(n *notes.Note) Action { return Action{Kind: wire.ActionCreate, Note: n} }
func UpdateAction(n *notes.Note) Action { return Action{Kind: wire.ActionUpdate, Note: n} }
func DeleteAction(n *notes.Note) Action { return Action{Kind: wire.ActionDelete, Note: n} }

func ChangeKeyAction(n *notes.Note, newKeyName string) Action {
	return Action{Kind: wire.ActionChangeKey, Note: n, NewKeyName: newKeyName}
}

func (c *Client) CreateNote(ctx context.Context, n *notes.Note) error {
	return c.submit(ctx, wire.PathNoteCreate, []Action{CreateAction(n)})
}

// UpdateNote sends the note's changed items. The server accepts all of them
// or none, returning a ConflictError.
func (c *Client) UpdateNote(ctx context.Context, n *notes.Note) error {
	if len(n.Dirty()) == 0 {
		return nil
	}
	return c.submit(ctx, wire.PathNoteUpdate, []Action{UpdateAction(n)})
}

func (c *Client) DeleteNote(ctx context.Context, n *notes.Note) error {
	return c.submit(ctx, wire.PathNoteDelete, []Action{DeleteAction(n)})
}

// ChangeKey re-encrypts every item of n under newKeyName, keeping versions.
func (c *Client) ChangeKey(ctx context.Context, n *notes.Note, newKeyName string) error {
	return c.submit(ctx, wire.PathNoteUpdate, []Action{ChangeKeyAction(n, newKeyName)})
}

// Multi applies actions atomically: all succeed or none do.
func (c *Client) Multi(ctx context.Context, actions []Action) error {
	if len(actions) == 0 {
		return nil
	}
	return c.submit(ctx, wire.PathNoteMulti, actions)
}

func (c *Client) submit(ctx context.Context, path string, actions []Action) error {
	if err := c.requireOnline(); err != nil {
		return err
	}
	requestID := uuid.NewString()
	wires := make([]wire.Action, len(actions))
	var delta wire.Usage
	for i, a := range actions {
		wa, d, err := c.buildAction(a, requestID)
		if err != nil {
			return err
		}
		wires[i] = wa
		delta = delta.Add(d)
	}

	var body any = wire.MultiRequest{Actions: wires}
	if path != wire.PathNoteMulti {
		body = wires[0]
	}
	c.addPending(delta)
	var resp wire.MultiResponse
	err := c.send(ctx, request{method: http.MethodPost, path: path, body: body, signed: true, requestID: requestID}, &resp)
	if err != nil {
		c.dropPending(delta)
		return err
	}

	for i, a := range actions {
		applyAccepted(a, wires[i], resp.Versions[a.Note.ID])
		if err := c.cache.DeleteNote(ctx, a.Note.ID); err != nil {
			c.log.Warn().Err(err).Str("note", a.Note.ID).Msg("purge cached note")
		}
	}
	c.confirmUsage(resp.Usage, delta)
	return nil
}

func (c *Client) buildAction(a Action, requestID string) (wire.Action, wire.Usage, error) {
	n := a.Note
	if n == nil {
		return wire.Action{}, wire.Usage{}, errors.New("client: action without note")
	}
	ks, err := c.keySet(n.KeyName)
	if err != nil {
		return wire.Action{}, wire.Usage{}, fmt.Errorf("%w: %s", err, n.KeyName)
	}
	signer := ks
	wa := wire.Action{Kind: a.Kind, Note: wire.NoteRecord{ID: n.ID, KeyName: n.KeyName}}
	var delta wire.Usage

	var items []*notes.Item
	switch a.Kind {
	case wire.ActionCreate:
		items = n.Items
		wa.SignPub = ks.Signature.SignPub()
		delta.Notes = 1
	case wire.ActionUpdate:
		items = n.Dirty()
	case wire.ActionDelete:
		delta = wire.Usage{Bytes: -n.Size(), Notes: -1}
	case wire.ActionChangeKey:
		if signer, err = c.keySet(a.NewKeyName); err != nil {
			return wire.Action{}, wire.Usage{}, fmt.Errorf("%w: %s", err, a.NewKeyName)
		}
		items = n.Items
		wa.Note.KeyName = a.NewKeyName
		wa.OldKeyName = n.KeyName
		wa.SignPub = signer.Signature.SignPub()
	default:
		return wire.Action{}, wire.Usage{}, fmt.Errorf("client: unknown action %q", a.Kind)
	}

	for _, it := range items {
		rec, err := sealItem(signer, n.ID, it)
		if err != nil {
			return wire.Action{}, wire.Usage{}, err
		}
		if a.Kind == wire.ActionCreate {
			rec.Version = 0
		}
		delta.Bytes += rec.Size - it.Size
		wa.Note.Items = append(wa.Note.Items, rec)
	}

	digest := wa.Digest(requestID)
	wa.Signatures = []wire.Signature{{Signer: wire.KeySigner(wa.Note.KeyName), Sig: signer.Signature.Sign(digest)}}
	if a.Kind == wire.ActionChangeKey {
		wa.Signatures = append(wa.Signatures, wire.Signature{Signer: wire.KeySigner(n.KeyName), Sig: ks.Signature.Sign(digest)})
	}
	return wa, delta, nil
}

// applyAccepted copies server versions and sizes into the local note.
func applyAccepted(a Action, wa wire.Action, versions map[string]int64) {
	n := a.Note
	if a.Kind == wire.ActionDelete {
		return
	}
	for _, ir := range wa.Note.Items {
		it := n.Item(notes.ItemType(ir.Type))
		if it == nil {
			continue
		}
		if v, ok := versions[ir.Type]; ok {
			it.Version = v
		}
		it.Size = ir.Size
		it.Changed = false
	}
	if a.Kind == wire.ActionChangeKey {
		n.KeyName = a.NewKeyName
	}
	n.FromCache = false
}
