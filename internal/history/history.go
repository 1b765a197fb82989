// Package history keeps a per-note edit log in three tiers: a small active
// list, a hot archive, and zstd-compressed cold chunks.
package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	ActiveLimit = 10
	HotLimit    = 25
)

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	decoder, _ = zstd.NewReader(nil)
)

type Entry struct {
	Text      string    `json:"text"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

// State is stored inside a note's history item. Active and HotArchive are
// oldest first; ColdArchive is newest chunk first, each chunk oldest first.
type State struct {
	Active      []Entry  `json:"active"`
	HotArchive  []Entry  `json:"hotArchive"`
	ColdArchive [][]byte `json:"coldArchive"`
}

// Add appends e. maxEntries <= 0 archives everything. Larger values
// archive and then trim the oldest entries beyond maxEntries.
//
// Any maxEntries from 1 to ActiveLimit keeps only the newest maxEntries
// entries in the active tier and discards overflow without archiving. This
// extends the ActiveLimit discard rule to every smaller cap, so such a note
// never holds more than maxEntries entries.
func (s *State) Add(e Entry, maxEntries int) error {
	s.Active = append(s.Active, e)

	limit := ActiveLimit
	discard := maxEntries > 0 && maxEntries <= ActiveLimit
	if discard {
		limit = maxEntries
	}
	for len(s.Active) > limit {
		oldest := s.Active[0]
		s.Active = s.Active[1:]
		if !discard {
			s.HotArchive = append(s.HotArchive, oldest)
		}
	}

	for len(s.HotArchive) > HotLimit {
		chunk, err := compress(s.HotArchive[:HotLimit])
		if err != nil {
			return err
		}
		s.ColdArchive = append([][]byte{chunk}, s.ColdArchive...)
		s.HotArchive = append([]Entry(nil), s.HotArchive[HotLimit:]...)
	}

	if maxEntries > ActiveLimit {
		return s.trim(maxEntries)
	}
	return nil
}

// Len counts entries across all tiers.
func (s *State) Len() (int, error) {
	n := len(s.Active) + len(s.HotArchive)
	for _, c := range s.ColdArchive {
		entries, err := decompress(c)
		if err != nil {
			return 0, err
		}
		n += len(entries)
	}
	return n, nil
}

func (s *State) trim(max int) error {
	total, err := s.Len()
	if err != nil {
		return err
	}
	for total > max && len(s.ColdArchive) > 0 {
		last := len(s.ColdArchive) - 1
		entries, err := decompress(s.ColdArchive[last])
		if err != nil {
			return err
		}
		drop := total - max
		if drop >= len(entries) {
			s.ColdArchive = s.ColdArchive[:last]
			total -= len(entries)
			continue
		}
		chunk, err := compress(entries[drop:])
		if err != nil {
			return err
		}
		s.ColdArchive[last] = chunk
		total -= drop
	}
	for total > max && len(s.HotArchive) > 0 {
		s.HotArchive = s.HotArchive[1:]
		total--
	}
	return nil
}

func compress(entries []Entry) ([]byte, error) {
	raw, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("history: encode chunk: %w", err)
	}
	return encoder.EncodeAll(raw, nil), nil
}

func decompress(chunk []byte) ([]Entry, error) {
	raw, err := decoder.DecodeAll(chunk, nil)
	if err != nil {
		return nil, fmt.Errorf("history: decompress chunk: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("history: decode chunk: %w", err)
	}
	return entries, nil
}

func newestFirst(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}
