package main

import (
	"context"
	"fmt"
	"strings"

	"secure-notes/internal/tree"
)

// resolve finds a node by a slash separated path of titles from the root.
// A segment may also be a child's id. "" and "/" name the root.
func (a *app) resolve(ctx context.Context, path string) (*tree.Node, error) {
	t := a.sess.Tree()
	n := t.Root()
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg == "" {
			continue
		}
		if err := t.EnsureChildren(ctx, n); err != nil {
			return nil, err
		}
		var next *tree.Node
		for _, c := range n.Children() {
			if c.Title() == seg || c.ID() == seg {
				next = c
				break
			}
		}
		if next == nil {
			return nil, fmt.Errorf("%s: no such note", path)
		}
		n = next
	}
	return n, nil
}

// pathOf renders n's location as resolve accepts it.
func (a *app) pathOf(n *tree.Node) string {
	var parts []string
	for i, p := range a.sess.Tree().Path(n.ID()) {
		if i > 0 {
			parts = append(parts, p.Title())
		}
	}
	return "/" + strings.Join(parts, "/")
}
