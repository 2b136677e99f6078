package clist

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/clist/pkg/slot"
	"github.com/raskyld/clist/pkg/wire"
	"github.com/stretchr/testify/require"
)

func testLogHandler() slog.Handler {
	return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	})
}

// recordingSink keeps the last value of gauges and the sum of counters.
type recordingSink struct {
	metrics.BlackholeSink

	lk       sync.Mutex
	counters map[string]float32
	gauges   map[string]float32
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		counters: make(map[string]float32),
		gauges:   make(map[string]float32),
	}
}

func (s *recordingSink) IncrCounterWithLabels(key []string, val float32, _ []metrics.Label) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.counters[strings.Join(key, ".")] += val
}

func (s *recordingSink) SetGaugeWithLabels(key []string, val float32, _ []metrics.Label) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.gauges[strings.Join(key, ".")] = val
}

func (s *recordingSink) counter(key []string) float32 {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.counters[strings.Join(key, ".")]
}

func (s *recordingSink) gauge(key []string) float32 {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.gauges[strings.Join(key, ".")]
}

func newTestCList(t *testing.T, opts ...Option) *CList {
	t.Helper()
	cl, err := New(append([]Option{WithLog(testLogHandler())}, opts...)...)
	require.NoError(t, err)
	return cl
}

func export(id uint64) slot.KernelSlot {
	return slot.KernelSlot{Type: slot.KernelExport, ID: id}
}

func egress(id uint64) slot.WireSlot {
	return slot.WireSlot{Type: slot.YourEgress, ID: id}
}

func ingress(id uint64) slot.WireSlot {
	return slot.WireSlot{Type: slot.YourIngress, ID: id}
}

func TestCList_BobIntroducesExport(t *testing.T) {
	cl := newTestCList(t)

	require.NoError(t, cl.Add("bob-pubkey", export(7), ingress(3), egress(3)))

	k, found := cl.MapIncomingWireMessageToKernelSlot("bob-pubkey", ingress(3))
	require.True(t, found)
	require.Equal(t, export(7), k)

	w, found := cl.MapKernelSlotToOutgoingWireMessage(export(7), "bob-pubkey")
	require.True(t, found)
	require.Equal(t, egress(3), w)

	require.Equal(t, w, slot.MustFlip(ingress(3)), "bob names it the other way around")
}

func TestCList_Roundtrip(t *testing.T) {
	cl := newTestCList(t)

	type relationship struct {
		peer     slot.PeerName
		kernel   slot.KernelSlot
		inbound  slot.WireSlot
		outbound slot.WireSlot
	}

	relationships := []relationship{
		{"alice", export(1), ingress(10), egress(10)},
		{"alice", slot.KernelSlot{Type: slot.KernelImport, ID: 1}, egress(4), ingress(4)},
		{"alice", slot.KernelSlot{Type: slot.KernelPromise, ID: 1}, slot.WireSlot{Type: slot.YourResolver, ID: 2}, slot.WireSlot{Type: slot.YourPromise, ID: 2}},
		{"carol.example", export(1), ingress(1), egress(99)},
	}

	for _, r := range relationships {
		require.NoError(t, cl.Add(r.peer, r.kernel, r.inbound, r.outbound))
	}
	require.Equal(t, len(relationships), cl.Len())

	for _, r := range relationships {
		k, found := cl.MapIncomingWireMessageToKernelSlot(r.peer, r.inbound)
		require.True(t, found)
		require.Equal(t, r.kernel, k)

		w, found := cl.MapKernelSlotToOutgoingWireMessage(r.kernel, r.peer)
		require.True(t, found)
		require.Equal(t, r.outbound, w)
	}
}

func TestCList_FanOut(t *testing.T) {
	cl := newTestCList(t)

	require.NoError(t, cl.Add("p1", export(5), ingress(1), egress(1)))
	require.NoError(t, cl.Add("p2", export(5), ingress(2), egress(2)))

	require.ElementsMatch(t, []PeerSlot{
		{Peer: "p1", Slot: egress(1)},
		{Peer: "p2", Slot: egress(2)},
	}, cl.MapKernelSlotToOutgoingWireMessageList(export(5)))

	w1, _ := cl.MapKernelSlotToOutgoingWireMessage(export(5), "p1")
	w2, _ := cl.MapKernelSlotToOutgoingWireMessage(export(5), "p2")
	require.NotEqual(t, w1, w2)

	require.Equal(t, []slot.PeerName{"p1", "p2"}, cl.Importers(export(5)))
	require.Nil(t, cl.Importers(export(6)))
	require.Empty(t, cl.MapKernelSlotToOutgoingWireMessageList(export(6)))
}

func TestCList_WireIDsArePeerLocal(t *testing.T) {
	cl := newTestCList(t)

	require.NoError(t, cl.Add("p1", export(1), ingress(3), egress(3)))
	require.NoError(t, cl.Add("p2", export(2), ingress(3), egress(3)))

	k1, _ := cl.MapIncomingWireMessageToKernelSlot("p1", ingress(3))
	k2, _ := cl.MapIncomingWireMessageToKernelSlot("p2", ingress(3))
	require.Equal(t, export(1), k1)
	require.Equal(t, export(2), k2)
}

func TestCList_DuplicateRejection(t *testing.T) {
	cases := []struct {
		name     string
		peer     slot.PeerName
		kernel   slot.KernelSlot
		inbound  slot.WireSlot
		outbound slot.WireSlot
	}{
		{"inbound and outbound both taken", "bob", export(7), ingress(3), egress(4)},
		{"inbound reused for another object", "bob", export(8), ingress(3), egress(8)},
		{"object re-registered under a new inbound", "bob", export(7), ingress(9), egress(3)},
		{"object re-registered under a new outbound", "bob", export(7), ingress(9), egress(9)},
		{"outbound reused for another object", "bob", export(8), ingress(8), egress(3)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sink := newRecordingSink()
			cl := newTestCList(t, WithMetricSink(sink))
			require.NoError(t, cl.Add("bob", export(7), ingress(3), egress(3)))
			require.NoError(t, cl.Add("alice", export(7), ingress(3), egress(5)))

			before := cl.Dump()
			err := cl.Add(tc.peer, tc.kernel, tc.inbound, tc.outbound)

			require.ErrorIs(t, err, ErrProtocolViolation)
			var perr *ProtocolViolationError
			require.True(t, errors.As(err, &perr))
			require.Equal(t, tc.peer, perr.Peer)
			require.True(t, perr.Existing != nil || perr.Route != nil || perr.Claimant != nil, "the conflict must be described")

			require.Equal(t, before, cl.Dump(), "a refused add must not mutate the clist")
			require.Equal(t, 2, cl.Len())
			require.Equal(t, float32(1), sink.counter(MetricClistViolationCount))
		})
	}
}

func TestCList_OutboundSlotIsPerPeer(t *testing.T) {
	cl := newTestCList(t)

	require.NoError(t, cl.Add("bob", export(7), ingress(3), egress(3)))
	err := cl.Add("bob", export(8), ingress(4), egress(3))
	var perr *ProtocolViolationError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, export(7), *perr.Claimant)
	require.Nil(t, perr.Existing)
	require.Nil(t, perr.Route)

	// Another peer has its own wire namespace.
	require.NoError(t, cl.Add("alice", export(8), ingress(4), egress(3)))

	// The wire slot is free again once its object is forgotten.
	require.Equal(t, 1, cl.Forget(export(7), "bob"))
	require.NoError(t, cl.Add("bob", export(8), ingress(4), egress(3)))

	require.Equal(t, 1, cl.ForgetPeer("bob"))
	require.NoError(t, cl.Add("bob", export(9), ingress(5), egress(3)))
}

func TestCList_IdempotentAdd(t *testing.T) {
	sink := newRecordingSink()
	cl := newTestCList(t, WithMetricSink(sink))

	require.NoError(t, cl.Add("bob", export(7), ingress(3), egress(3)))
	require.NoError(t, cl.Add("bob", export(7), ingress(3), egress(3)), "the exact same relationship may be added again")
	require.Equal(t, 1, cl.Len())
	require.Equal(t, float32(1), sink.counter(MetricClistAddCount))
}

func TestCList_InvalidInput(t *testing.T) {
	cl := newTestCList(t)

	require.ErrorIs(t, cl.Add("bob:evil", export(7), ingress(3), egress(3)), slot.ErrPeerNameInvalid)
	require.ErrorIs(t, cl.Add("", export(7), ingress(3), egress(3)), slot.ErrPeerNameInvalid)
	require.ErrorIs(t, cl.Add("bob", slot.KernelSlot{ID: 7}, ingress(3), egress(3)), slot.ErrInvalidSlotType)
	require.ErrorIs(t, cl.Add("bob", export(7), slot.WireSlot{ID: 3}, egress(3)), slot.ErrInvalidSlotType)
	require.ErrorIs(t, cl.Add("bob", export(7), ingress(3), slot.WireSlot{Type: 9, ID: 3}), slot.ErrInvalidSlotType)
	require.Zero(t, cl.Len())
	require.Equal(t, State{}, cl.Dump())
}

func TestCList_MissReturnsAbsent(t *testing.T) {
	sink := newRecordingSink()
	cl := newTestCList(t, WithMetricSink(sink))

	k, found := cl.MapIncomingWireMessageToKernelSlot("bob", ingress(3))
	require.False(t, found)
	require.Zero(t, k)

	require.NoError(t, cl.Add("bob", export(7), ingress(3), egress(3)))

	_, found = cl.MapIncomingWireMessageToKernelSlot("bob", egress(3))
	require.False(t, found, "the type is part of the key")
	_, found = cl.MapIncomingWireMessageToKernelSlot("alice", ingress(3))
	require.False(t, found, "the peer is part of the key")
	_, found = cl.MapKernelSlotToOutgoingWireMessage(export(7), "alice")
	require.False(t, found)
	_, found = cl.MapKernelSlotToOutgoingWireMessage(export(8), "bob")
	require.False(t, found)

	require.Equal(t, float32(3), sink.counter(MetricClistLookupMissCount))
}

func TestCList_Forget(t *testing.T) {
	sink := newRecordingSink()
	cl := newTestCList(t, WithMetricSink(sink))

	require.NoError(t, cl.Add("p1", export(1), ingress(1), egress(1)))
	require.NoError(t, cl.Add("p2", export(1), ingress(1), egress(1)))
	require.NoError(t, cl.Add("p3", export(1), ingress(7), egress(7)))
	require.NoError(t, cl.Add("p1", export(2), ingress(2), egress(2)))
	require.Equal(t, float32(4), sink.gauge(MetricClistRelationships))

	require.Equal(t, 1, cl.Forget(export(1), "p2", "nobody"))
	_, found := cl.MapIncomingWireMessageToKernelSlot("p2", ingress(1))
	require.False(t, found)
	require.Equal(t, []slot.PeerName{"p1", "p3"}, cl.Importers(export(1)))

	require.Equal(t, 2, cl.Forget(export(1)))
	require.Nil(t, cl.MapKernelSlotToOutgoingWireMessageList(export(1)))
	_, found = cl.MapIncomingWireMessageToKernelSlot("p1", ingress(1))
	require.False(t, found)

	// Other objects of the same peers are left alone.
	k, found := cl.MapIncomingWireMessageToKernelSlot("p1", ingress(2))
	require.True(t, found)
	require.Equal(t, export(2), k)

	state := cl.Dump()
	require.Len(t, state.Outgoing, 1, "empty per-object tables are removed")
	require.Equal(t, export(2), state.Outgoing[0].Kernel)

	require.Zero(t, cl.Forget(export(1)))
	require.Equal(t, float32(3), sink.counter(MetricClistForgetCount))
	require.Equal(t, float32(1), sink.gauge(MetricClistRelationships))

	// Once forgotten, a relationship can be introduced again.
	require.NoError(t, cl.Add("p1", export(1), ingress(1), egress(5)))
}

func TestCList_ForgetPeer(t *testing.T) {
	cl := newTestCList(t)

	require.NoError(t, cl.Add("bob", export(1), ingress(1), egress(1)))
	require.NoError(t, cl.Add("bob", export(2), ingress(2), egress(2)))
	require.NoError(t, cl.Add("bobby", export(1), ingress(1), egress(1)))
	require.NoError(t, cl.Add("bo", export(3), ingress(1), egress(1)))

	require.Equal(t, 2, cl.ForgetPeer("bob"))
	require.Equal(t, 2, cl.Len())
	require.Equal(t, []slot.PeerName{"bobby"}, cl.Importers(export(1)))
	require.Nil(t, cl.Importers(export(2)))

	k, found := cl.MapIncomingWireMessageToKernelSlot("bo", ingress(1))
	require.True(t, found)
	require.Equal(t, slot.KernelSlot{Type: slot.KernelExport, ID: 3}, k)

	require.Zero(t, cl.ForgetPeer("bob"))
}

func TestCList_Dump(t *testing.T) {
	cl := newTestCList(t)

	require.NoError(t, cl.Add("p2", export(1), ingress(1), egress(11)))
	require.NoError(t, cl.Add("p1", export(1), ingress(4), egress(4)))
	require.NoError(t, cl.Add("p1", export(0), ingress(2), egress(2)))

	require.Equal(t, State{
		Incoming: []IncomingState{
			{Peer: "p1", Wire: ingress(2), Kernel: export(0)},
			{Peer: "p1", Wire: ingress(4), Kernel: export(1)},
			{Peer: "p2", Wire: ingress(1), Kernel: export(1)},
		},
		Outgoing: []OutgoingState{
			{Kernel: export(0), Peers: []PeerSlot{{Peer: "p1", Slot: egress(2)}}},
			{Kernel: export(1), Peers: []PeerSlot{
				{Peer: "p1", Slot: egress(4)},
				{Peer: "p2", Slot: egress(11)},
			}},
		},
	}, cl.Dump())
}

func TestCList_IndependentInstances(t *testing.T) {
	cl1 := newTestCList(t)
	cl2 := newTestCList(t)

	require.NoError(t, cl1.Add("bob", export(7), ingress(3), egress(3)))
	_, found := cl2.MapIncomingWireMessageToKernelSlot("bob", ingress(3))
	require.False(t, found)
	require.NoError(t, cl2.Add("bob", export(8), ingress(3), egress(3)))
}

func TestCList_Translate(t *testing.T) {
	cl := newTestCList(t)
	promise := slot.KernelSlot{Type: slot.KernelPromise, ID: 4}
	resolver := slot.WireSlot{Type: slot.YourResolver, ID: 20}

	require.NoError(t, cl.Add("bob", export(7), ingress(3), egress(3)))
	require.NoError(t, cl.Add("bob", export(8), ingress(5), egress(5)))
	require.NoError(t, cl.Add("bob", promise, resolver, slot.MustFlip(resolver)))

	kmsg, err := cl.TranslateInbound("bob", wire.Message{
		Target: ingress(3),
		Result: &resolver,
		Slots:  []slot.WireSlot{ingress(5)},
		Body:   []byte("hi"),
	})
	require.NoError(t, err)
	require.Equal(t, KernelMessage{
		Target: export(7),
		Result: &promise,
		Slots:  []slot.KernelSlot{export(8)},
		Body:   []byte("hi"),
	}, kmsg)

	msg, err := cl.TranslateOutbound("bob", kmsg)
	require.NoError(t, err)
	require.Equal(t, egress(3), msg.Target)
	require.Equal(t, slot.WireSlot{Type: slot.YourPromise, ID: 20}, *msg.Result)
	require.Equal(t, []slot.WireSlot{egress(5)}, msg.Slots)

	_, err = cl.TranslateInbound("bob", wire.Message{Target: ingress(3), Slots: []slot.WireSlot{ingress(6)}})
	require.ErrorIs(t, err, ErrUnresolvedSlot)
	var uerr *UnresolvedSlotError
	require.True(t, errors.As(err, &uerr))
	require.Equal(t, ingress(6), uerr.Slot)

	_, err = cl.TranslateOutbound("alice", kmsg)
	require.ErrorIs(t, err, ErrNotIntroduced)
}
