package history

// Cursor pages through a State newest to oldest: the active tier, then the
// hot archive, then one cold chunk per call.
type Cursor struct {
	state  *State
	page   int
	loaded []Entry
}

func (s *State) Cursor() *Cursor { return &Cursor{state: s} }

// Next returns the next page and whether more pages remain.
func (c *Cursor) Next() ([]Entry, bool, error) {
	var page []Entry
	switch {
	case c.page == 0:
		page = newestFirst(c.state.Active)
	case c.page == 1:
		page = newestFirst(c.state.HotArchive)
	default:
		i := c.page - 2
		if i >= len(c.state.ColdArchive) {
			return nil, false, nil
		}
		entries, err := decompress(c.state.ColdArchive[i])
		if err != nil {
			return nil, c.More(), err
		}
		page = newestFirst(entries)
	}
	c.page++
	c.loaded = append(c.loaded, page...)
	return page, c.More(), nil
}

func (c *Cursor) More() bool {
	return c.page < 2+len(c.state.ColdArchive)
}

// Loaded returns every entry surfaced so far.
func (c *Cursor) Loaded() []Entry { return c.loaded }

// All drains the cursor.
func (s *State) All() ([]Entry, error) {
	c := s.Cursor()
	for c.More() {
		if _, _, err := c.Next(); err != nil {
			return nil, err
		}
	}
	return c.Loaded(), nil
}
