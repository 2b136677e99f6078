package clist

// Generic radix tree backing the incoming index. Derived from
// https://github.com/armon/go-radix, reduced to the operations the
// index needs and iterating with Go 1.23 iterators.
//
// Keys are arbitrary byte strings: see key.go for the encoding.

import (
	"iter"
	"sort"
	"strings"
)

type leafNode[T any] struct {
	key string
	val T
}

type edge[T any] struct {
	label byte
	node  *node[T]
}

type node[T any] struct {
	leaf *leafNode[T]

	// prefix is the part of the key consumed when entering this node.
	prefix string

	// edges are sorted by label.
	edges []edge[T]
}

func (n *node[T]) isLeaf() bool {
	return n.leaf != nil
}

func (n *node[T]) edgeIndex(label byte) int {
	return sort.Search(len(n.edges), func(i int) bool {
		return n.edges[i].label >= label
	})
}

func (n *node[T]) addEdge(e edge[T]) {
	idx := n.edgeIndex(e.label)
	n.edges = append(n.edges, edge[T]{})
	copy(n.edges[idx+1:], n.edges[idx:])
	n.edges[idx] = e
}

func (n *node[T]) updateEdge(label byte, child *node[T]) {
	idx := n.edgeIndex(label)
	if idx < len(n.edges) && n.edges[idx].label == label {
		n.edges[idx].node = child
		return
	}
	panic("clist: replacing missing radix edge")
}

func (n *node[T]) getEdge(label byte) *node[T] {
	idx := n.edgeIndex(label)
	if idx < len(n.edges) && n.edges[idx].label == label {
		return n.edges[idx].node
	}
	return nil
}

func (n *node[T]) delEdge(label byte) {
	idx := n.edgeIndex(label)
	if idx < len(n.edges) && n.edges[idx].label == label {
		copy(n.edges[idx:], n.edges[idx+1:])
		n.edges[len(n.edges)-1] = edge[T]{}
		n.edges = n.edges[:len(n.edges)-1]
	}
}

func (n *node[T]) mergeChild() {
	child := n.edges[0].node
	n.prefix = n.prefix + child.prefix
	n.leaf = child.leaf
	n.edges = child.edges
}

type radixTree[T any] struct {
	root *node[T]
	size int
}

func newRadixTree[T any]() *radixTree[T] {
	return &radixTree[T]{root: &node[T]{}}
}

func (t *radixTree[T]) Len() int {
	return t.size
}

func longestPrefix(k1, k2 string) int {
	limit := min(len(k1), len(k2))
	var i int
	for i = 0; i < limit; i++ {
		if k1[i] != k2[i] {
			break
		}
	}
	return i
}

// Insert adds or replaces the value stored under s.
// It returns the replaced value when there was one.
func (t *radixTree[T]) Insert(s string, v T) (old T, updated bool) {
	var parent *node[T]
	n := t.root
	search := s
	for {
		if len(search) == 0 {
			if n.isLeaf() {
				old = n.leaf.val
				n.leaf.val = v
				return old, true
			}

			n.leaf = &leafNode[T]{key: s, val: v}
			t.size++
			return old, false
		}

		parent = n
		n = n.getEdge(search[0])

		if n == nil {
			parent.addEdge(edge[T]{
				label: search[0],
				node: &node[T]{
					leaf:   &leafNode[T]{key: s, val: v},
					prefix: search,
				},
			})
			t.size++
			return old, false
		}

		commonPrefix := longestPrefix(search, n.prefix)
		if commonPrefix == len(n.prefix) {
			search = search[commonPrefix:]
			continue
		}

		// Split n at the common prefix.
		t.size++
		child := &node[T]{
			prefix: search[:commonPrefix],
		}
		parent.updateEdge(search[0], child)

		child.addEdge(edge[T]{
			label: n.prefix[commonPrefix],
			node:  n,
		})
		n.prefix = n.prefix[commonPrefix:]

		leaf := &leafNode[T]{key: s, val: v}

		search = search[commonPrefix:]
		if len(search) == 0 {
			child.leaf = leaf
			return old, false
		}

		child.addEdge(edge[T]{
			label: search[0],
			node: &node[T]{
				leaf:   leaf,
				prefix: search,
			},
		})
		return old, false
	}
}

// Delete removes s, returning the value it held.
func (t *radixTree[T]) Delete(s string) (removed T, hasRemoved bool) {
	var parent *node[T]
	var label byte
	n := t.root
	search := s
	for {
		if len(search) == 0 {
			if !n.isLeaf() {
				return
			}
			break
		}

		parent = n
		label = search[0]
		n = n.getEdge(label)
		if n == nil {
			return
		}

		if !strings.HasPrefix(search, n.prefix) {
			return
		}
		search = search[len(n.prefix):]
	}

	leaf := n.leaf
	n.leaf = nil
	t.size--

	if parent != nil && len(n.edges) == 0 {
		parent.delEdge(label)
	}

	if n != t.root && len(n.edges) == 1 {
		n.mergeChild()
	}

	if parent != nil && parent != t.root && len(parent.edges) == 1 && !parent.isLeaf() {
		parent.mergeChild()
	}

	return leaf.val, true
}

func (t *radixTree[T]) Get(s string) (val T, found bool) {
	n := t.root
	search := s
	for {
		if len(search) == 0 {
			if n.isLeaf() {
				return n.leaf.val, true
			}
			return
		}

		n = n.getEdge(search[0])
		if n == nil {
			return
		}

		if !strings.HasPrefix(search, n.prefix) {
			return
		}
		search = search[len(n.prefix):]
	}
}

// Walk visits every entry in key order.
func (t *radixTree[T]) Walk() iter.Seq2[string, T] {
	return func(yield func(string, T) bool) {
		walkNode(t.root, yield)
	}
}

// WalkPrefix visits, in key order, every entry whose key starts with prefix.
func (t *radixTree[T]) WalkPrefix(prefix string) iter.Seq2[string, T] {
	return func(yield func(string, T) bool) {
		n := t.root
		search := prefix
		for {
			if len(search) == 0 {
				walkNode(n, yield)
				return
			}

			n = n.getEdge(search[0])
			if n == nil {
				return
			}

			if strings.HasPrefix(search, n.prefix) {
				search = search[len(n.prefix):]
				continue
			}
			if strings.HasPrefix(n.prefix, search) {
				walkNode(n, yield)
			}
			return
		}
	}
}

// walkNode does a pre-order walk of n and reports whether it was aborted.
// The tree must not be mutated while walking.
func walkNode[T any](n *node[T], yield func(string, T) bool) bool {
	if n.leaf != nil && !yield(n.leaf.key, n.leaf.val) {
		return true
	}
	for _, e := range n.edges {
		if walkNode(e.node, yield) {
			return true
		}
	}
	return false
}
