// Package clist implements the capability list of a peer-to-peer comms
// layer: the registry translating references between the local kernel
// namespace and the wire namespace of every remote peer.
//
// ## Slots
//
// A reference is a `slot.KernelSlot` inside the kernel and a
// `slot.WireSlot` on the wire. Wire slots are peer-local: the same object
// may be `your-egress:3` for a peer and `your-egress:11` for another.
// The same relationship is named oppositely depending on who speaks,
// `slot.Flip` renames egress to ingress and promise to resolver.
//
// ## CList
//
// A `CList` holds, for every (peer, object) relationship, the wire slot
// the peer uses to send it to us (inbound) and the one we use to send it
// to the peer (outbound):
//
//	cl, _ := clist.New()
//	_ = cl.Add("bob-pubkey",
//		slot.KernelSlot{Type: slot.KernelExport, ID: 7},
//		slot.WireSlot{Type: slot.YourIngress, ID: 3},
//		slot.WireSlot{Type: slot.YourEgress, ID: 3},
//	)
//
// Translation is unambiguous in both directions. A registration which
// would break that is a `ProtocolViolationError`: it means either the
// kernel or the peer is broken, and nothing is mutated. A lookup miss,
// on the other hand, is an ordinary absent value since introductions
// can race with the messages using them.
//
// Relationships are forgotten explicitly, when the kernel collects an
// object (`CList.Forget`) or when a peer is gone (`CList.ForgetPeer`).
//
// ## Comms
//
// A `CList` has no lock. `Comms` owns one and runs every operation on a
// single goroutine, run-to-completion, the way a kernel delivers
// messages. It also tracks which peers have an established connection
// and aborts, with a QUIC application error, the ones violating the
// protocol.
//
// Frames exchanged with peers are encoded by the `pkg/wire` package,
// in the protobuf wire format.
package clist
