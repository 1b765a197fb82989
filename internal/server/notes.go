package server

import (
	"crypto/ed25519"

	cr "secure-notes/internal/crypto"
	"secure-notes/internal/wire"
)

// Sentinel conflict types for mismatches that are not about one item.
const (
	conflictNoteExists = "note"
	conflictKeyName    = "keyName"
)

type noteState struct {
	rec     wire.NoteRecord
	signPub []byte
}

func (n *noteState) clone() *noteState {
	c := &noteState{rec: n.rec, signPub: n.signPub}
	c.rec.Items = append([]wire.ItemRecord(nil), n.rec.Items...)
	return c
}

// batch stages actions against copies of the stored notes. Nothing is visible
// to other requests until commit.
type batch struct {
	s         *Server
	requestID string
	staged    map[string]*noteState
	order     []string
	conflicts []wire.Conflict
	delta     wire.Usage
	audit     []string
}

func (s *Server) newBatch(requestID string) *batch {
	return &batch{s: s, requestID: requestID, staged: map[string]*noteState{}}
}

// get returns the staged note, copying it from the store on first use. A nil
// staged entry means the batch deleted it.
func (b *batch) get(id string) *noteState {
	if st, ok := b.staged[id]; ok {
		return st
	}
	st := b.s.notes[id]
	if st == nil {
		return nil
	}
	c := st.clone()
	b.put(id, c)
	return c
}

func (b *batch) put(id string, st *noteState) {
	if _, ok := b.staged[id]; !ok {
		b.order = append(b.order, id)
	}
	b.staged[id] = st
}

func (b *batch) conflict(noteID, typ string, version int64) {
	b.conflicts = append(b.conflicts, wire.Conflict{NoteID: noteID, Type: typ, Version: version})
}

func verifyAction(a wire.Action, requestID, signer string, pub []byte) bool {
	return len(pub) == ed25519.PublicKeySize &&
		cr.Verify(pub, a.Digest(requestID), wire.FindSignature(a.Signatures, signer))
}

// apply stages one action. Version mismatches are collected as conflicts;
// malformed or unauthorized actions fail the whole batch.
func (b *batch) apply(a wire.Action) error {
	id := a.Note.ID
	if id == "" || a.Note.KeyName == "" {
		return badRequest("action without note id or key")
	}
	switch a.Kind {
	case wire.ActionCreate:
		return b.create(a)
	case wire.ActionUpdate:
		return b.update(a)
	case wire.ActionChangeKey:
		return b.changeKey(a)
	case wire.ActionDelete:
		st := b.get(id)
		if st == nil {
			return notFound("note " + id + " not found")
		}
		if !verifyAction(a, b.requestID, wire.KeySigner(st.rec.KeyName), st.signPub) {
			return forbidden("bad key signature on " + id)
		}
		b.delta = b.delta.Add(wire.Usage{Bytes: -st.rec.Size(), Notes: -1})
		b.put(id, nil)
		b.audit = append(b.audit, "note/delete:"+id)
		return nil
	default:
		return badRequest("unknown action kind " + string(a.Kind))
	}
}

func (b *batch) create(a wire.Action) error {
	id := a.Note.ID
	if !verifyAction(a, b.requestID, wire.KeySigner(a.Note.KeyName), a.SignPub) {
		return forbidden("bad key signature on " + id)
	}
	if b.get(id) != nil {
		b.conflict(id, conflictNoteExists, 0)
		return nil
	}
	st := &noteState{rec: wire.NoteRecord{ID: id, KeyName: a.Note.KeyName}, signPub: a.SignPub}
	for _, it := range a.Note.Items {
		it.Version = 0
		it.Updated = false
		it.Size = int64(len(it.Data))
		st.rec.Items = append(st.rec.Items, it)
	}
	b.delta = b.delta.Add(wire.Usage{Bytes: st.rec.Size(), Notes: 1})
	b.put(id, st)
	b.audit = append(b.audit, "note/create:"+id)
	return nil
}

func (b *batch) update(a wire.Action) error {
	id := a.Note.ID
	st := b.get(id)
	if st == nil {
		return notFound("note " + id + " not found")
	}
	if !verifyAction(a, b.requestID, wire.KeySigner(st.rec.KeyName), st.signPub) {
		return forbidden("bad key signature on " + id)
	}
	if a.Note.KeyName != st.rec.KeyName {
		b.conflict(id, conflictKeyName, 0)
		return nil
	}
	ok := true
	for _, it := range a.Note.Items {
		cur := st.rec.Item(it.Type)
		switch {
		case cur == nil && it.Version != 0:
			b.conflict(id, it.Type, -1)
			ok = false
		case cur != nil && cur.Version != it.Version:
			b.conflict(id, it.Type, cur.Version)
			ok = false
		}
	}
	if !ok {
		return nil
	}
	for _, it := range a.Note.Items {
		size := int64(len(it.Data))
		if cur := st.rec.Item(it.Type); cur != nil {
			b.delta.Bytes += size - cur.Size
			cur.Data, cur.Size = it.Data, size
			cur.Version++
			continue
		}
		b.delta.Bytes += size
		st.rec.Items = append(st.rec.Items, wire.ItemRecord{Type: it.Type, Data: it.Data, Size: size})
	}
	b.audit = append(b.audit, "note/update:"+id)
	return nil
}

// changeKey rewrites every item under a new key. Versions are kept.
func (b *batch) changeKey(a wire.Action) error {
	id := a.Note.ID
	st := b.get(id)
	if st == nil {
		return notFound("note " + id + " not found")
	}
	if !verifyAction(a, b.requestID, wire.KeySigner(a.OldKeyName), st.signPub) {
		return forbidden("bad old key signature on " + id)
	}
	if !verifyAction(a, b.requestID, wire.KeySigner(a.Note.KeyName), a.SignPub) {
		return forbidden("bad new key signature on " + id)
	}
	if a.OldKeyName != st.rec.KeyName {
		b.conflict(id, conflictKeyName, 0)
		return nil
	}
	if len(a.Note.Items) != len(st.rec.Items) {
		return badRequest("change-key must rewrite every item of " + id)
	}
	ok := true
	for _, it := range a.Note.Items {
		cur := st.rec.Item(it.Type)
		if cur == nil {
			return badRequest("change-key names unknown item " + it.Type)
		}
		if cur.Version != it.Version {
			b.conflict(id, it.Type, cur.Version)
			ok = false
		}
	}
	if !ok {
		return nil
	}
	for _, it := range a.Note.Items {
		cur := st.rec.Item(it.Type)
		size := int64(len(it.Data))
		b.delta.Bytes += size - cur.Size
		cur.Data, cur.Size = it.Data, size
	}
	st.rec.KeyName = a.Note.KeyName
	st.signPub = a.SignPub
	b.audit = append(b.audit, "note/change-key:"+id)
	return nil
}

// commit publishes staged notes and returns the resulting item versions.
// Caller holds s.mu.
func (b *batch) commit(username string) wire.MultiResponse {
	versions := map[string]map[string]int64{}
	for _, id := range b.order {
		st := b.staged[id]
		if st == nil {
			delete(b.s.notes, id)
			continue
		}
		b.s.notes[id] = st
		v := make(map[string]int64, len(st.rec.Items))
		for _, it := range st.rec.Items {
			v[it.Type] = it.Version
		}
		versions[id] = v
	}
	u := b.s.usage[username].Add(b.delta)
	if u.Bytes < 0 {
		u.Bytes = 0
	}
	if u.Notes < 0 {
		u.Notes = 0
	}
	b.s.usage[username] = u
	return wire.MultiResponse{Usage: u, Versions: versions}
}
