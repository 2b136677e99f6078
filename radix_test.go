package clist

import (
	"maps"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRadixTree_InsertGetDelete(t *testing.T) {
	tree := newRadixTree[int]()
	keys := []string{"", "a", "ab", "abc", "abd", "b", "ba", "\x00", "\x00\x01"}
	for i, k := range keys {
		_, updated := tree.Insert(k, i)
		require.False(t, updated)
	}
	require.Equal(t, len(keys), tree.Len())

	old, updated := tree.Insert("ab", 42)
	require.True(t, updated)
	require.Equal(t, 2, old)

	for i, k := range keys {
		v, found := tree.Get(k)
		require.True(t, found, "key %q", k)
		if k == "ab" {
			require.Equal(t, 42, v)
		} else {
			require.Equal(t, i, v)
		}
	}

	_, found := tree.Get("abe")
	require.False(t, found)

	removed, ok := tree.Delete("ab")
	require.True(t, ok)
	require.Equal(t, 42, removed)
	_, found = tree.Get("ab")
	require.False(t, found)
	v, found := tree.Get("abc")
	require.True(t, found, "siblings survive a delete")
	require.Equal(t, 3, v)

	_, ok = tree.Delete("ab")
	require.False(t, ok)
	require.Equal(t, len(keys)-1, tree.Len())
}

func TestRadixTree_WalkPrefix(t *testing.T) {
	tree := newRadixTree[int]()
	tree.Insert("\x03bob\x22\x01", 1)
	tree.Insert("\x03bob\x22\x02", 2)
	tree.Insert("\x05bobby\x22\x01", 3)
	tree.Insert("\x03bot\x22\x01", 4)

	got := maps.Collect(tree.WalkPrefix("\x03bob"))
	require.Equal(t, map[string]int{
		"\x03bob\x22\x01": 1,
		"\x03bob\x22\x02": 2,
	}, got)

	require.Len(t, maps.Collect(tree.WalkPrefix("\x03bo")), 3)
	require.Empty(t, maps.Collect(tree.WalkPrefix("\x04")))
	require.Len(t, maps.Collect(tree.Walk()), 4)
}
