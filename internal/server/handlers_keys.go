package server

import (
	"net/http"
	"sort"

	"secure-notes/internal/wire"
)

func (s *Server) handleKeyCreate(w http.ResponseWriter, r *http.Request, c *call) {
	var rec wire.KeyRecord
	if !c.decode(w, &rec) {
		return
	}
	if rec.ID == "" || rec.Name == "" || len(rec.Wrapped) == 0 || len(rec.SignPub) != 32 {
		writeError(w, http.StatusBadRequest, "bad-request", "incomplete key record")
		return
	}
	s.mu.Lock()
	byID := s.keys[c.user()]
	if byID == nil {
		byID = map[string]wire.KeyRecord{}
		s.keys[c.user()] = byID
	}
	byID[rec.ID] = rec
	s.mu.Unlock()
	s.audit.Append(c.user(), "key/create", rec.ID)
	writeJSONStatus(w, http.StatusCreated, struct{}{})
}

func (s *Server) handleKeyRead(w http.ResponseWriter, r *http.Request, c *call) {
	var req wire.KeyIDRequest
	if !c.decode(w, &req) {
		return
	}
	s.mu.Lock()
	rec, ok := s.keys[c.user()][req.ID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "not-found", "no such key")
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleKeyReadAll(w http.ResponseWriter, r *http.Request, c *call) {
	s.mu.Lock()
	out := make([]wire.KeyRecord, 0, len(s.keys[c.user()]))
	for _, rec := range s.keys[c.user()] {
		out = append(out, rec)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, out)
}

func (s *Server) handleKeyDelete(w http.ResponseWriter, r *http.Request, c *call) {
	var req wire.KeyIDRequest
	if !c.decode(w, &req) {
		return
	}
	s.mu.Lock()
	_, ok := s.keys[c.user()][req.ID]
	delete(s.keys[c.user()], req.ID)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "not-found", "no such key")
		return
	}
	s.audit.Append(c.user(), "key/delete", req.ID)
	writeJSON(w, struct{}{})
}
