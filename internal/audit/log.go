// Package audit keeps a hash-chained record of accepted server mutations.
package audit

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

type Entry struct {
	TS     int64  `json:"ts"`
	Actor  string `json:"actor"`
	Action string `json:"action"`
	Target string `json:"target,omitempty"`
	Hash   string `json:"hash"`
}

type Log struct {
	mu       sync.Mutex
	lastHash []byte
	entries  []Entry
	now      func() time.Time
}

func New() *Log { return &Log{now: time.Now} }

func chain(prev []byte, e Entry) []byte {
	h := sha256.New()
	h.Write(prev)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(e.TS))
	h.Write(ts[:])
	for _, s := range []string{e.Actor, e.Action, e.Target} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return h.Sum(nil)
}

func (l *Log) Append(actor, action, target string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := Entry{TS: l.now().Unix(), Actor: actor, Action: action, Target: target}
	sum := chain(l.lastHash, e)
	l.lastHash = sum
	e.Hash = hex.EncodeToString(sum)
	l.entries = append(l.entries, e)
	return e
}

func (l *Log) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return VerifyEntries(l.entries)
}

// VerifyEntries checks an exported chain.
func VerifyEntries(entries []Entry) error {
	var prev []byte
	for i, e := range entries {
		sum := chain(prev, e)
		if hex.EncodeToString(sum) != e.Hash {
			return fmt.Errorf("audit chain broken at entry %d", i)
		}
		prev = sum
	}
	return nil
}

func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}
