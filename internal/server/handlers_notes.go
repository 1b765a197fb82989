package server

import (
	"net/http"
	"strings"

	"secure-notes/internal/wire"
)

func (s *Server) handleNoteRead(w http.ResponseWriter, r *http.Request, c *call) {
	var req wire.ReadNoteRequest
	if !c.decode(w, &req) {
		return
	}
	s.mu.Lock()
	st := s.notes[req.ID]
	var out wire.NoteRecord
	if st != nil {
		out = st.clone().rec
	}
	s.mu.Unlock()
	if st == nil {
		writeError(w, http.StatusNotFound, "not-found", "no such note")
		return
	}
	for i := range out.Items {
		it := &out.Items[i]
		v, known := req.Versions[it.Type]
		it.Updated = !known || v != it.Version
		if !it.Updated {
			it.Data = nil
		}
	}
	writeJSON(w, out)
}

// handleNoteAction serves the single-action endpoints.
func (s *Server) handleNoteAction(kinds ...wire.ActionKind) func(http.ResponseWriter, *http.Request, *call) {
	return func(w http.ResponseWriter, r *http.Request, c *call) {
		var a wire.Action
		if !c.decode(w, &a) {
			return
		}
		allowed := false
		for _, k := range kinds {
			allowed = allowed || a.Kind == k
		}
		if !allowed {
			writeError(w, http.StatusBadRequest, "bad-request", "action kind not allowed on this endpoint")
			return
		}
		s.applyActions(w, c, []wire.Action{a})
	}
}

func (s *Server) handleNoteMulti(w http.ResponseWriter, r *http.Request, c *call) {
	var req wire.MultiRequest
	if !c.decode(w, &req) {
		return
	}
	if len(req.Actions) == 0 {
		writeError(w, http.StatusBadRequest, "bad-request", "empty batch")
		return
	}
	s.applyActions(w, c, req.Actions)
}

// applyActions runs a batch all-or-nothing: any conflict or error leaves
// every note untouched.
func (s *Server) applyActions(w http.ResponseWriter, c *call, actions []wire.Action) {
	s.mu.Lock()
	b := s.newBatch(c.env.RequestID)
	for _, a := range actions {
		if err := b.apply(a); err != nil {
			s.mu.Unlock()
			writeErr(w, err)
			return
		}
	}
	if len(b.conflicts) > 0 {
		s.mu.Unlock()
		writeJSONStatus(w, http.StatusConflict, wire.ConflictResponse{Error: wire.ErrCodeConflict, Conflicts: b.conflicts})
		return
	}
	resp := b.commit(c.user())
	s.mu.Unlock()

	for _, e := range b.audit {
		action, target, _ := strings.Cut(e, ":")
		s.audit.Append(c.user(), action, target)
	}
	writeJSON(w, resp)
}
