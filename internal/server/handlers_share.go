package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"secure-notes/internal/wire"
)

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request, c *call) {
	var req wire.ShareRequest
	if !c.decode(w, &req) {
		return
	}
	if len(req.Data) == 0 {
		writeError(w, http.StatusBadRequest, "bad-request", "empty share")
		return
	}
	acct, err := s.findAccount(r.Context(), req.Recipient)
	if err != nil {
		writeErr(w, err)
		return
	}
	if acct == nil {
		writeError(w, http.StatusNotFound, "not-found", "no such recipient")
		return
	}
	offer := wire.ShareOffer{ID: uuid.NewString(), Sender: c.user(), Data: req.Data, Created: time.Now().UTC()}
	s.mu.Lock()
	s.offers[req.Recipient] = append(s.offers[req.Recipient], offer)
	s.mu.Unlock()
	s.audit.Append(c.user(), "note/share", req.Recipient)
	writeJSONStatus(w, http.StatusCreated, struct{}{})
}

func (s *Server) handleShareOffers(w http.ResponseWriter, r *http.Request, c *call) {
	s.mu.Lock()
	out := append([]wire.ShareOffer{}, s.offers[c.user()]...)
	s.mu.Unlock()
	writeJSON(w, out)
}

func (s *Server) handleShareDelete(w http.ResponseWriter, r *http.Request, c *call) {
	var req wire.ShareDeleteRequest
	if !c.decode(w, &req) {
		return
	}
	found := false
	s.mu.Lock()
	offers := s.offers[c.user()]
	for i, o := range offers {
		if o.ID == req.ID {
			s.offers[c.user()] = append(offers[:i:i], offers[i+1:]...)
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, "not-found", "no such offer")
		return
	}
	s.audit.Append(c.user(), "note/share/delete", req.ID)
	writeJSON(w, struct{}{})
}
