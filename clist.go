package clist

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/clist/pkg/slot"
)

// Route is how one peer and us name the same kernel object.
type Route struct {
	// Inbound is the wire slot as it appears in traffic from the peer.
	Inbound slot.WireSlot
	// Outbound is the wire slot we use when sending it to the peer.
	Outbound slot.WireSlot
}

// PeerSlot is an outbound wire slot together with the peer it belongs to.
type PeerSlot struct {
	Peer slot.PeerName
	Slot slot.WireSlot
}

// CList is the capability list translating kernel slots to and from
// per-peer wire slots.
//
// A CList is not safe for concurrent use. It expects to be driven by a
// single run-to-completion loop such as [Comms].
type CList struct {
	// incoming resolves IncomingKey to the entry it was registered with.
	incoming *radixTree[incomingEntry]
	// outgoing holds, per KernelKey, the route of every peer knowing
	// the object. Entries are removed as soon as they have no route.
	outgoing map[Key]*outgoingEntry
	// claimed resolves IncomingKey(peer, outbound) to the kernel slot
	// sent to peer under that wire slot.
	claimed map[Key]slot.KernelSlot

	logger *slog.Logger
	msink  metrics.MetricSink
	labels []metrics.Label
}

type incomingEntry struct {
	peer   slot.PeerName
	wire   slot.WireSlot
	kernel slot.KernelSlot
}

type outgoingEntry struct {
	kernel slot.KernelSlot
	routes map[slot.PeerName]Route
}

// New returns an empty CList.
func New(opts ...Option) (*CList, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	return newCList(&cfg), nil
}

func newCList(cfg *config) *CList {
	return &CList{
		incoming: newRadixTree[incomingEntry](),
		outgoing: make(map[Key]*outgoingEntry),
		claimed:  make(map[Key]slot.KernelSlot),
		logger:   cfg.logger(),
		msink:    cfg.sink(),
		labels:   cfg.metricLabels,
	}
}

// Add registers that peer knows k, sending it to us as inbound and
// expecting it from us as outbound.
//
// Registering the exact same relationship twice is a no-op. Any other
// registration touching an inbound key already in use, an outbound wire
// slot already sent to peer for another object, or a (k, peer) pair
// already mapped, returns a [*ProtocolViolationError] and leaves
// the CList untouched.
func (cl *CList) Add(peer slot.PeerName, k slot.KernelSlot, inbound, outbound slot.WireSlot) error {
	if err := slot.ValidatePeerName(peer); err != nil {
		return err
	}
	if !k.Valid() {
		return cl.invalidSlot(k.String())
	}
	if !inbound.Valid() {
		return cl.invalidSlot(inbound.String())
	}
	if !outbound.Valid() {
		return cl.invalidSlot(outbound.String())
	}

	inKey := string(IncomingKey(peer, inbound))
	outKey := IncomingKey(peer, outbound)
	kKey := KernelKey(k)
	want := Route{Inbound: inbound, Outbound: outbound}

	existing, hasIn := cl.incoming.Get(inKey)
	entry := cl.outgoing[kKey]
	var route Route
	var hasOut bool
	if entry != nil {
		route, hasOut = entry.routes[peer]
	}

	if hasIn && hasOut && existing.kernel == k && route == want {
		return nil
	}

	claimant, hasClaim := cl.claimed[outKey]

	if hasIn || hasOut || hasClaim {
		perr := &ProtocolViolationError{
			Peer:     peer,
			Kernel:   k,
			Inbound:  inbound,
			Outbound: outbound,
		}
		if hasIn {
			perr.Existing = &existing.kernel
		}
		if hasOut {
			perr.Route = &route
		}
		if hasClaim {
			perr.Claimant = &claimant
		}
		cl.logger.Warn(
			"refused conflicting clist registration",
			LabelPeerName.L(peer),
			LabelKernel.L(k),
			LabelWire.L(inbound),
			LabelError.L(perr),
		)
		cl.msink.IncrCounterWithLabels(
			MetricClistViolationCount, 1.0,
			withLabels(cl.labels, LabelPeerName.M(string(peer))),
		)
		return perr
	}

	// Checks are done, from here nothing can fail.
	if entry == nil {
		entry = &outgoingEntry{
			kernel: k,
			routes: make(map[slot.PeerName]Route, 1),
		}
		cl.outgoing[kKey] = entry
	}
	entry.routes[peer] = want
	cl.claimed[outKey] = k
	cl.incoming.Insert(inKey, incomingEntry{peer: peer, wire: inbound, kernel: k})

	cl.logger.Debug(
		"clist relationship added",
		LabelPeerName.L(peer),
		LabelKernel.L(k),
		"inbound", inbound,
		"outbound", outbound,
	)
	cl.msink.IncrCounterWithLabels(MetricClistAddCount, 1.0, cl.labels)
	cl.updateGauge()
	return nil
}

func (cl *CList) invalidSlot(desc string) error {
	return fmt.Errorf("%w: cannot register %s", slot.ErrInvalidSlotType, desc)
}

// MapIncomingWireMessageToKernelSlot resolves a wire slot received from
// peer. A miss is not an error: introductions may race with the messages
// using them, the caller decides what absence means.
func (cl *CList) MapIncomingWireMessageToKernelSlot(peer slot.PeerName, w slot.WireSlot) (slot.KernelSlot, bool) {
	entry, has := cl.incoming.Get(string(IncomingKey(peer, w)))
	if !has {
		cl.logger.Debug(
			"no kernel slot for inbound wire slot",
			LabelPeerName.L(peer),
			LabelWire.L(w),
		)
		cl.msink.IncrCounterWithLabels(
			MetricClistLookupMissCount, 1.0,
			withLabels(cl.labels, LabelDirection.M("inbound")),
		)
		return slot.KernelSlot{}, false
	}
	return entry.kernel, true
}

// MapKernelSlotToOutgoingWireMessage returns the wire slot to use when
// sending k to peer, if peer knows it.
func (cl *CList) MapKernelSlotToOutgoingWireMessage(k slot.KernelSlot, peer slot.PeerName) (slot.WireSlot, bool) {
	entry, has := cl.outgoing[KernelKey(k)]
	if !has {
		return slot.WireSlot{}, false
	}
	route, has := entry.routes[peer]
	return route.Outbound, has
}

// MapKernelSlotToOutgoingWireMessageList returns, sorted by peer name,
// every peer knowing k and the wire slot each of them uses.
func (cl *CList) MapKernelSlotToOutgoingWireMessageList(k slot.KernelSlot) []PeerSlot {
	entry, has := cl.outgoing[KernelKey(k)]
	if !has {
		return nil
	}
	list := make([]PeerSlot, 0, len(entry.routes))
	for peer, route := range entry.routes {
		list = append(list, PeerSlot{Peer: peer, Slot: route.Outbound})
	}
	slices.SortFunc(list, func(a, b PeerSlot) int {
		return cmp.Compare(a.Peer, b.Peer)
	})
	return list
}

// Importers returns, sorted, the peers which know k.
func (cl *CList) Importers(k slot.KernelSlot) []slot.PeerName {
	list := cl.MapKernelSlotToOutgoingWireMessageList(k)
	if list == nil {
		return nil
	}
	peers := make([]slot.PeerName, len(list))
	for i, ps := range list {
		peers[i] = ps.Peer
	}
	return peers
}

// Forget drops the relationships peers have with k. Without peers, k is
// forgotten by everyone. It returns how many relationships were removed.
func (cl *CList) Forget(k slot.KernelSlot, peers ...slot.PeerName) int {
	kKey := KernelKey(k)
	entry, has := cl.outgoing[kKey]
	if !has {
		return 0
	}

	if len(peers) == 0 {
		peers = make([]slot.PeerName, 0, len(entry.routes))
		for peer := range entry.routes {
			peers = append(peers, peer)
		}
	}

	removed := 0
	for _, peer := range peers {
		route, has := entry.routes[peer]
		if !has {
			continue
		}
		delete(entry.routes, peer)
		delete(cl.claimed, IncomingKey(peer, route.Outbound))
		cl.incoming.Delete(string(IncomingKey(peer, route.Inbound)))
		removed++
	}

	if len(entry.routes) == 0 {
		delete(cl.outgoing, kKey)
	}

	if removed > 0 {
		cl.logger.Debug(
			"kernel slot forgotten",
			LabelKernel.L(k),
			LabelRemoved.L(removed),
		)
		cl.msink.IncrCounterWithLabels(MetricClistForgetCount, float32(removed), cl.labels)
		cl.updateGauge()
	}
	return removed
}

// ForgetPeer drops every relationship with peer, typically once its
// connection is gone for good.
func (cl *CList) ForgetPeer(peer slot.PeerName) int {
	var doomed []incomingEntry
	for _, entry := range cl.incoming.WalkPrefix(peerPrefix(peer)) {
		doomed = append(doomed, entry)
	}

	for _, in := range doomed {
		cl.incoming.Delete(string(IncomingKey(in.peer, in.wire)))
		kKey := KernelKey(in.kernel)
		if out, has := cl.outgoing[kKey]; has {
			delete(cl.claimed, IncomingKey(peer, out.routes[peer].Outbound))
			delete(out.routes, peer)
			if len(out.routes) == 0 {
				delete(cl.outgoing, kKey)
			}
		}
	}

	if len(doomed) > 0 {
		cl.logger.Info(
			"peer forgotten",
			LabelPeerName.L(peer),
			LabelRemoved.L(len(doomed)),
		)
		cl.msink.IncrCounterWithLabels(
			MetricClistForgetCount, float32(len(doomed)),
			withLabels(cl.labels, LabelPeerName.M(string(peer))),
		)
		cl.updateGauge()
	}
	return len(doomed)
}

// Len returns the number of (peer, kernel slot) relationships.
func (cl *CList) Len() int {
	return cl.incoming.Len()
}

func (cl *CList) updateGauge() {
	cl.msink.SetGaugeWithLabels(MetricClistRelationships, float32(cl.incoming.Len()), cl.labels)
}

// State is a debug snapshot of a CList, do not drive protocol
// decisions with it.
type State struct {
	Incoming []IncomingState
	Outgoing []OutgoingState
}

type IncomingState struct {
	Peer   slot.PeerName
	Wire   slot.WireSlot
	Kernel slot.KernelSlot
}

type OutgoingState struct {
	Kernel slot.KernelSlot
	Peers  []PeerSlot
}

// Dump returns a deterministic snapshot of both tables.
func (cl *CList) Dump() State {
	var state State
	for _, entry := range cl.incoming.Walk() {
		state.Incoming = append(state.Incoming, IncomingState{
			Peer:   entry.peer,
			Wire:   entry.wire,
			Kernel: entry.kernel,
		})
	}
	slices.SortFunc(state.Incoming, func(a, b IncomingState) int {
		return cmp.Or(
			cmp.Compare(a.Peer, b.Peer),
			cmp.Compare(a.Wire.Type, b.Wire.Type),
			cmp.Compare(a.Wire.ID, b.Wire.ID),
		)
	})

	for _, entry := range cl.outgoing {
		state.Outgoing = append(state.Outgoing, OutgoingState{
			Kernel: entry.kernel,
			Peers:  cl.MapKernelSlotToOutgoingWireMessageList(entry.kernel),
		})
	}
	slices.SortFunc(state.Outgoing, func(a, b OutgoingState) int {
		return cmp.Or(
			cmp.Compare(a.Kernel.Type, b.Kernel.Type),
			cmp.Compare(a.Kernel.ID, b.Kernel.ID),
		)
	})
	return state
}
