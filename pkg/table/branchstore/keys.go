package branchstore

import (
	"encoding/binary"
	"net/url"
)

// keyspace builds the keys of one tree:
//
//	t/<tree>/meta                    tree metadata
//	t/<tree>/b/<branch>/<entry BE>   one fixed-width value
//
// Tree and branch names are path-escaped so a tree named "a/b" cannot
// collide with branch keys of tree "a".
type keyspace struct {
	tree   string
	prefix []byte
}

func newKeyspace(tree string) keyspace {
	return keyspace{tree: tree, prefix: []byte("t/" + url.PathEscape(tree) + "/")}
}

func (k keyspace) meta() []byte {
	return append(append([]byte{}, k.prefix...), "meta"...)
}

func (k keyspace) branch(name string) []byte {
	return append(append([]byte{}, k.prefix...), "b/"+url.PathEscape(name)+"/"...)
}

func entryKey(branch []byte, entry int64) []byte {
	key := make([]byte, len(branch), len(branch)+8)
	copy(key, branch)
	return binary.BigEndian.AppendUint64(key, uint64(entry))
}
