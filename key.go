package clist

import (
	"encoding/binary"

	"github.com/raskyld/clist/pkg/slot"
	"google.golang.org/protobuf/encoding/protowire"
)

// Key is the binary lookup key of a registry table.
//
// Every field is self-delimiting (a varint length before the peer name,
// varints for the type code and the id) so the encoding is injective:
// no choice of peer name, whatever bytes it contains, can produce
// the key of another (peer, slot) pair.
type Key string

// For valid types, kernel and wire type codes live in disjoint ranges.
const (
	kernelCodeBase = 0x10
	wireCodeBase   = 0x20
)

// IncomingKey keys the inbound table by the wire slot exactly as it
// appears in traffic received from peer. The same encoding keys the
// outbound wire slots already sent to peer.
func IncomingKey(peer slot.PeerName, w slot.WireSlot) Key {
	b := make([]byte, 0, len(peer)+2*binary.MaxVarintLen64)
	b = protowire.AppendString(b, string(peer))
	b = protowire.AppendVarint(b, wireCodeBase+uint64(w.Type))
	b = protowire.AppendVarint(b, w.ID)
	return Key(b)
}

// KernelKey keys the per-object outbound table.
func KernelKey(k slot.KernelSlot) Key {
	b := make([]byte, 0, 2*binary.MaxVarintLen64)
	b = protowire.AppendVarint(b, kernelCodeBase+uint64(k.Type))
	b = protowire.AppendVarint(b, k.ID)
	return Key(b)
}

// peerPrefix is a prefix of every IncomingKey of peer and of no key
// belonging to another peer.
func peerPrefix(peer slot.PeerName) string {
	return string(protowire.AppendString(nil, string(peer)))
}
