package tree

import (
	"context"

	"golang.org/x/sync/errgroup"

	"secure-notes/internal/client"
	"secure-notes/internal/lock"
	"secure-notes/internal/notes"
)

const fetchConcurrency = 8

// ensureRun is the single in-flight children sync of one node. Callers that
// arrive while it runs request one more pass and wait for it.
type ensureRun struct {
	done  chan struct{}
	again bool
	err   error
}

// EnsureChildren makes n's materialized children match its metadata: missing
// ids are fetched, unreferenced ones dropped and the order fixed.
func (m *Manager) EnsureChildren(ctx context.Context, n *Node) error {
	return m.lock.Do(ctx, lock.Shared, func() error { return m.ensureChildren(ctx, n) })
}

func (m *Manager) ensureChildren(ctx context.Context, n *Node) error {
	m.mu.Lock()
	if run := m.runs[n]; run != nil {
		run.again = true
		m.mu.Unlock()
		select {
		case <-run.done:
			return run.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	run := &ensureRun{done: make(chan struct{})}
	m.runs[n] = run
	m.mu.Unlock()

	for {
		err := m.syncChildren(ctx, n)
		m.mu.Lock()
		if err != nil || !run.again {
			run.err = err
			if m.runs[n] == run {
				delete(m.runs, n)
			}
			m.mu.Unlock()
			close(run.done)
			return err
		}
		run.again = false
		m.mu.Unlock()
	}
}

func (m *Manager) syncChildren(ctx context.Context, n *Node) error {
	m.mu.Lock()
	ids := append([]string(nil), n.note.Children()...)
	var missing []string
	for _, id := range ids {
		if m.nodes[id] == nil {
			missing = append(missing, id)
		}
	}
	m.mu.Unlock()

	fetched := make([]*notes.Note, len(missing))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, id := range missing {
		g.Go(func() error {
			note, err := m.sync.ReadNote(gctx, id, client.ReadOptions{})
			fetched[i] = note
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, note := range fetched {
		if note == nil {
			m.log.Debug().Str("parent", n.id).Str("child", missing[i]).Msg("skip missing child")
			continue
		}
		m.adopt(note)
	}
	seen := make(map[string]bool, len(ids))
	children := make([]*Node, 0, len(ids))
	for _, id := range ids {
		c := m.nodes[id]
		if c == nil || seen[id] || within(n, c) {
			continue
		}
		seen[id] = true
		c.parent = n
		children = append(children, c)
	}
	for _, old := range n.children {
		if !seen[old.id] && old.parent == n {
			m.forget(old)
		}
	}
	n.children = children
	n.loaded = true
	return nil
}

// Refresh rereads n, keeping the held copy unless the server has a newer one,
// and resyncs its children if they were materialized.
func (m *Manager) Refresh(ctx context.Context, n *Node) error {
	return m.lock.Do(ctx, lock.Shared, func() error { return m.refresh(ctx, n) })
}

func (m *Manager) refresh(ctx context.Context, n *Node) error {
	fresh, err := m.sync.ReadNote(ctx, n.id, client.ReadOptions{Base: n.Note()})
	if err != nil {
		return err
	}
	if fresh != nil {
		m.Update(fresh)
	}
	if !n.Loaded() {
		return nil
	}
	return m.ensureChildren(ctx, n)
}

// flatten returns n and all its descendants, breadth first, materializing
// children as it goes.
func (m *Manager) flatten(ctx context.Context, n *Node) ([]*Node, error) {
	out := []*Node{n}
	for i := 0; i < len(out); i++ {
		if err := m.ensureChildren(ctx, out[i]); err != nil {
			return nil, err
		}
		out = append(out, out[i].Children()...)
	}
	return out, nil
}
