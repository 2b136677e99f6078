package clist

import (
	"github.com/raskyld/clist/pkg/slot"
	"github.com/raskyld/clist/pkg/wire"
)

// KernelMessage is a delivery once every reference it carries is named
// in the kernel namespace.
type KernelMessage struct {
	Target slot.KernelSlot
	Result *slot.KernelSlot
	Slots  []slot.KernelSlot
	Body   []byte
}

// TranslateInbound renames every slot of a message received from peer.
// The first slot without mapping is reported as an [*UnresolvedSlotError].
func (cl *CList) TranslateInbound(peer slot.PeerName, msg wire.Message) (KernelMessage, error) {
	resolve := func(w slot.WireSlot) (slot.KernelSlot, error) {
		k, has := cl.MapIncomingWireMessageToKernelSlot(peer, w)
		if !has {
			return k, &UnresolvedSlotError{Peer: peer, Slot: w}
		}
		return k, nil
	}

	var kmsg KernelMessage
	var err error
	if kmsg.Target, err = resolve(msg.Target); err != nil {
		return KernelMessage{}, err
	}
	if msg.Result != nil {
		result, err := resolve(*msg.Result)
		if err != nil {
			return KernelMessage{}, err
		}
		kmsg.Result = &result
	}
	if len(msg.Slots) > 0 {
		kmsg.Slots = make([]slot.KernelSlot, len(msg.Slots))
		for i, w := range msg.Slots {
			if kmsg.Slots[i], err = resolve(w); err != nil {
				return KernelMessage{}, err
			}
		}
	}
	kmsg.Body = msg.Body
	return kmsg, nil
}

// TranslateOutbound renames every slot of a kernel message for peer.
// Every slot must have been introduced to peer beforehand, the first one
// which was not is reported as a [*NotIntroducedError].
func (cl *CList) TranslateOutbound(peer slot.PeerName, kmsg KernelMessage) (wire.Message, error) {
	lookup := func(k slot.KernelSlot) (slot.WireSlot, error) {
		w, has := cl.MapKernelSlotToOutgoingWireMessage(k, peer)
		if !has {
			return w, &NotIntroducedError{Peer: peer, Slot: k}
		}
		return w, nil
	}

	var msg wire.Message
	var err error
	if msg.Target, err = lookup(kmsg.Target); err != nil {
		return wire.Message{}, err
	}
	if kmsg.Result != nil {
		result, err := lookup(*kmsg.Result)
		if err != nil {
			return wire.Message{}, err
		}
		msg.Result = &result
	}
	if len(kmsg.Slots) > 0 {
		msg.Slots = make([]slot.WireSlot, len(kmsg.Slots))
		for i, k := range kmsg.Slots {
			if msg.Slots[i], err = lookup(k); err != nil {
				return wire.Message{}, err
			}
		}
	}
	msg.Body = kmsg.Body
	return msg, nil
}
