// Package tree keeps the in-memory note hierarchy of one session. Children are
// materialized lazily from each parent's metadata and every note id maps to
// exactly one Node.
package tree

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"secure-notes/internal/client"
	"secure-notes/internal/keychain"
	"secure-notes/internal/lock"
	"secure-notes/internal/notes"
	"secure-notes/internal/wire"
)

// Syncer is the part of the sync client the tree drives. *client.Client
// implements it.
type Syncer interface {
	Online() bool
	Username() string
	Keys() *keychain.Chain
	ReadNote(ctx context.Context, id string, opts client.ReadOptions) (*notes.Note, error)
	Multi(ctx context.Context, actions []client.Action) error
	CreateKey(ctx context.Context, meta wire.KeyMeta) (*keychain.KeySet, error)
	PublicKey(ctx context.Context, username string) (*wire.PublicKeyResponse, error)
	ShareWith(ctx context.Context, recipient string, pub *wire.PublicKeyResponse, noteID string, ks *keychain.KeySet) error
	AcceptShare(ctx context.Context, o client.Offer) (*keychain.KeySet, error)
}

type Config struct {
	// MaxHistory is passed to history.State.Add on every text save.
	MaxHistory int
	// Lock guards the tree. A FIFO lock without writer preference is used
	// when nil.
	Lock   *lock.RWLock
	Logger zerolog.Logger
	Now    func() time.Time
}

type Manager struct {
	sync       Syncer
	lock       *lock.RWLock
	log        zerolog.Logger
	now        func() time.Time
	maxHistory int

	mu       sync.Mutex
	nodes    map[string]*Node
	root     *Node
	selected string
	runs     map[*Node]*ensureRun
}

func New(s Syncer, cfg Config) *Manager {
	if cfg.Lock == nil {
		cfg.Lock = lock.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		sync:       s,
		lock:       cfg.Lock,
		log:        cfg.Logger.With().Str("component", "tree").Logger(),
		now:        cfg.Now,
		maxHistory: cfg.MaxHistory,
		nodes:      map[string]*Node{},
		runs:       map[*Node]*ensureRun{},
	}
}

// Node is one note in the tree. Notes returned by Note are shared and must
// not be modified; operations work on clones.
type Node struct {
	m        *Manager
	id       string
	parent   *Node
	note     *notes.Note
	children []*Node
	loaded   bool
	expanded bool
}

func (n *Node) ID() string { return n.id }

func (n *Node) Note() *notes.Note {
	n.m.mu.Lock()
	defer n.m.mu.Unlock()
	return n.note
}

func (n *Node) Title() string { return n.Note().Title() }

func (n *Node) Parent() *Node {
	n.m.mu.Lock()
	defer n.m.mu.Unlock()
	return n.parent
}

func (n *Node) Children() []*Node {
	n.m.mu.Lock()
	defer n.m.mu.Unlock()
	return append([]*Node(nil), n.children...)
}

// Loaded reports whether the children have been materialized at least once.
func (n *Node) Loaded() bool {
	n.m.mu.Lock()
	defer n.m.mu.Unlock()
	return n.loaded
}

func (n *Node) Expanded() bool {
	n.m.mu.Lock()
	defer n.m.mu.Unlock()
	return n.expanded
}

// Load reads the root note and its first level of children.
func (m *Manager) Load(ctx context.Context, rootID string) (*Node, error) {
	var root *Node
	err := m.lock.Do(ctx, lock.Exclusive, func() error {
		note, err := m.sync.ReadNote(ctx, rootID, client.ReadOptions{})
		if err != nil {
			return err
		}
		if note == nil {
			return ErrNotFound
		}
		m.mu.Lock()
		root = m.adopt(note)
		root.expanded = true
		m.root = root
		m.selected = root.id
		m.mu.Unlock()
		return m.ensureChildren(ctx, root)
	})
	return root, err
}

func (m *Manager) Root() *Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.root
}

// Node returns the materialized node for id, or nil.
func (m *Manager) Node(id string) *Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nodes[id]
}

// adopt returns the node for note, creating it if needed. Caller holds m.mu.
func (m *Manager) adopt(note *notes.Note) *Node {
	if n := m.nodes[note.ID]; n != nil {
		if note.NewerThan(n.note) {
			n.note = note
		}
		return n
	}
	n := &Node{m: m, id: note.ID, note: note}
	m.nodes[note.ID] = n
	return n
}

// forget drops n and the descendants it still owns. Caller holds m.mu.
func (m *Manager) forget(n *Node) {
	if m.nodes[n.id] == n {
		delete(m.nodes, n.id)
	}
	if m.selected == n.id {
		m.selected = ""
	}
	for _, c := range n.children {
		if c.parent == n {
			m.forget(c)
		}
	}
	delete(m.runs, n)
}

// Update installs note into its node if it is newer than the copy held. It
// reports whether the node changed.
func (m *Manager) Update(note *notes.Note) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.nodes[note.ID]
	if n == nil || !note.NewerThan(n.note) {
		return false
	}
	n.note = note
	return true
}

// Select marks id as the current node.
func (m *Manager) Select(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nodes[id] == nil {
		return ErrNotFound
	}
	m.selected = id
	return nil
}

func (m *Manager) Selected() *Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nodes[m.selected]
}

// Expand materializes n's children and marks it expanded.
func (m *Manager) Expand(ctx context.Context, n *Node) error {
	return m.lock.Do(ctx, lock.Shared, func() error {
		if err := m.ensureChildren(ctx, n); err != nil {
			return err
		}
		m.mu.Lock()
		n.expanded = true
		m.mu.Unlock()
		return nil
	})
}

func (m *Manager) Collapse(n *Node) {
	m.mu.Lock()
	n.expanded = false
	m.mu.Unlock()
}

// Walk visits materialized nodes depth first from the root. Returning false
// from fn skips the node's children.
func (m *Manager) Walk(fn func(n *Node, depth int) bool) {
	var visit func(n *Node, depth int)
	visit = func(n *Node, depth int) {
		if !fn(n, depth) {
			return
		}
		for _, c := range n.Children() {
			visit(c, depth+1)
		}
	}
	if root := m.Root(); root != nil {
		visit(root, 0)
	}
}

// Path returns the nodes from the root down to id, or nil when id is not
// attached to the tree.
func (m *Manager) Path(id string) []*Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	var path []*Node
	for n := m.nodes[id]; n != nil; n = n.parent {
		path = append(path, n)
		if n == m.root {
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return path
		}
	}
	return nil
}

// within reports whether n is anc or one of its descendants. Caller holds m.mu.
func within(n, anc *Node) bool {
	for ; n != nil; n = n.parent {
		if n == anc {
			return true
		}
	}
	return false
}

func (m *Manager) systemIDs() (bin, panel string) {
	if md := m.root.note.Metadata(); md != nil {
		return md.RecycleBin, md.ControlPanel
	}
	return "", ""
}

func (m *Manager) sharedKey(name string) bool {
	ks, ok := m.sync.Keys().ByName(name)
	return ok && ks.Meta.Shared
}
