// Package wire encodes the messages exchanged with a peer.
//
// Frames use the protobuf wire format without generated code, so any
// implementation agreeing on the field numbers below can talk to us:
//
//	Slot    { 1: string type tag, 2: varint id }
//	Message { 1: Slot target, 2: Slot result, 3: repeated Slot slots, 4: bytes body }
//
// Slot type tags are the exact strings of [slot.WireType.String].
package wire

import (
	"errors"
	"fmt"

	"github.com/raskyld/clist/pkg/slot"
	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrMalformedFrame = errors.New("wire: malformed frame")
	ErrFrameTooLarge  = errors.New("wire: frame too large")
)

const (
	slotFieldType protowire.Number = 1
	slotFieldID   protowire.Number = 2

	msgFieldTarget protowire.Number = 1
	msgFieldResult protowire.Number = 2
	msgFieldSlots  protowire.Number = 3
	msgFieldBody   protowire.Number = 4
)

// Message is a delivery as it travels between two peers. Every reference
// it carries is named from the receiver's point of view.
type Message struct {
	Target slot.WireSlot
	Result *slot.WireSlot
	Slots  []slot.WireSlot
	Body   []byte
}

// AppendSlot appends the encoding of w to b.
func AppendSlot(b []byte, w slot.WireSlot) []byte {
	b = protowire.AppendTag(b, slotFieldType, protowire.BytesType)
	b = protowire.AppendString(b, w.Type.String())
	b = protowire.AppendTag(b, slotFieldID, protowire.VarintType)
	return protowire.AppendVarint(b, w.ID)
}

// ConsumeSlot decodes a slot previously encoded with [AppendSlot].
func ConsumeSlot(b []byte) (w slot.WireSlot, err error) {
	var hasType bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return w, fmt.Errorf("%w: slot tag: %w", ErrMalformedFrame, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == slotFieldType && typ == protowire.BytesType:
			tag, n := protowire.ConsumeString(b)
			if n < 0 {
				return w, fmt.Errorf("%w: slot type: %w", ErrMalformedFrame, protowire.ParseError(n))
			}
			b = b[n:]
			w.Type, err = slot.ParseWireType(tag)
			if err != nil {
				return w, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
			}
			hasType = true
		case num == slotFieldID && typ == protowire.VarintType:
			id, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return w, fmt.Errorf("%w: slot id: %w", ErrMalformedFrame, protowire.ParseError(n))
			}
			b = b[n:]
			w.ID = id
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return w, fmt.Errorf("%w: unknown field %d: %w", ErrMalformedFrame, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if !hasType {
		return w, fmt.Errorf("%w: slot without type", ErrMalformedFrame)
	}
	return w, nil
}

// Marshal encodes msg. It panics if msg carries an invalid slot type, since
// that can only be a local bug.
func Marshal(msg Message) []byte {
	b := appendSlotField(nil, msgFieldTarget, msg.Target)
	if msg.Result != nil {
		b = appendSlotField(b, msgFieldResult, *msg.Result)
	}
	for _, s := range msg.Slots {
		b = appendSlotField(b, msgFieldSlots, s)
	}
	if len(msg.Body) > 0 {
		b = protowire.AppendTag(b, msgFieldBody, protowire.BytesType)
		b = protowire.AppendBytes(b, msg.Body)
	}
	return b
}

func appendSlotField(b []byte, num protowire.Number, w slot.WireSlot) []byte {
	if !w.Valid() {
		panic(fmt.Sprintf("wire: refusing to encode invalid slot %s", w))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, AppendSlot(nil, w))
}

// Unmarshal decodes a frame received from a peer. Unknown fields are
// skipped, anything else out of shape is reported as [ErrMalformedFrame].
func Unmarshal(b []byte) (msg Message, err error) {
	var hasTarget bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return msg, fmt.Errorf("%w: %w", ErrMalformedFrame, protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.BytesType || num < msgFieldTarget || num > msgFieldBody {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return msg, fmt.Errorf("%w: unknown field %d: %w", ErrMalformedFrame, num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		val, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return msg, fmt.Errorf("%w: field %d: %w", ErrMalformedFrame, num, protowire.ParseError(n))
		}
		b = b[n:]

		if num == msgFieldBody {
			msg.Body = append([]byte(nil), val...)
			continue
		}

		w, err := ConsumeSlot(val)
		if err != nil {
			return msg, err
		}
		switch num {
		case msgFieldTarget:
			msg.Target = w
			hasTarget = true
		case msgFieldResult:
			msg.Result = &w
		case msgFieldSlots:
			msg.Slots = append(msg.Slots, w)
		}
	}

	if !hasTarget {
		return msg, fmt.Errorf("%w: message without target", ErrMalformedFrame)
	}
	return msg, nil
}
