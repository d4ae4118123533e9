package scanner

import "github.com/riadafridishibly/dirsize/api"

// Node is one directory. TotalSize only ever grows: it is the sum of the
// files observed below the node so far.
type Node struct {
	TotalSize uint64
	Updating  api.UpdatingStatus

	children map[string]*Node
}

func newNode() *Node {
	return &Node{Updating: api.StatusIdle}
}

func (n *Node) child(name string) *Node {
	if n.children == nil {
		n.children = make(map[string]*Node)
	}
	c, ok := n.children[name]
	if !ok {
		c = newNode()
		n.children[name] = c
	}
	return c
}

// Tree aggregates walk events into per-directory totals. It is not safe for
// concurrent use; the coordinator goroutine owns it.
type Tree struct {
	root *Node
}

func NewTree() *Tree {
	return &Tree{root: newNode()}
}

func (t *Tree) Update(ev Event) {
	switch ev := ev.(type) {
	case FileObservation:
		if len(ev.Path) == 0 {
			return
		}
		node := t.root
		node.TotalSize += ev.Size
		for _, seg := range ev.Path[:len(ev.Path)-1] {
			node = node.child(seg)
			node.TotalSize += ev.Size
		}

	case DirEvent:
		node := t.root
		for _, seg := range ev.Path {
			node = node.child(seg)
		}
		if ev.Phase == PhaseStarted {
			node.Updating = api.StatusUpdating
		} else {
			node.Updating = api.StatusFinished
		}
	}
}

// Lookup reports false when the walk hasn't reached path yet.
func (t *Tree) Lookup(path []string) (*Node, bool) {
	node := t.root
	for _, seg := range path {
		next, ok := node.children[seg]
		if !ok {
			return nil, false
		}
		node = next
	}
	return node, true
}

// EntryAt describes the directory at path, falling back to an idle, empty
// directory for paths not seen yet.
func (t *Tree) EntryAt(path []string) api.Entry {
	node, ok := t.Lookup(path)
	if !ok {
		return api.DirectoryEntry(path, 0, api.StatusIdle)
	}
	return api.DirectoryEntry(path, node.TotalSize, node.Updating)
}
