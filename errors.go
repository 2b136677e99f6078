package clist

import (
	"errors"
	"fmt"

	"github.com/quic-go/quic-go"
	"github.com/raskyld/clist/pkg/slot"
)

var (
	ErrInvalidCfg         = errors.New("clist: invalid options")
	ErrProtocolViolation  = errors.New("clist: protocol violation")
	ErrUnresolvedSlot     = errors.New("clist: unresolved wire slot")
	ErrNotIntroduced      = errors.New("clist: kernel slot not introduced to peer")
	ErrPeerNotEstablished = errors.New("comms: no established connection with peer")
	ErrCommsClosed        = errors.New("comms: closed")
)

var (
	QErrProtocolViolation = QuicApplicationError{
		Code:   0x5,
		Prefix: "protocol violation",
	}
)

// Conn is the part of a `quic.Connection` the comms layer needs:
// the ability to abort a peer which misbehaved.
type Conn interface {
	CloseWithError(quic.ApplicationErrorCode, string) error
}

var _ Conn = (quic.Connection)(nil)

type QuicApplicationError struct {
	Code   uint64
	Prefix string
}

func (qerr *QuicApplicationError) Close(conn Conn, msg string) error {
	if conn != nil {
		return conn.CloseWithError(
			quic.ApplicationErrorCode(qerr.Code),
			fmt.Sprintf("%s: %s", qerr.Prefix, msg),
		)
	}
	return nil
}

// ProtocolViolationError is returned by [CList.Add] when the registration
// would make a translation ambiguous. It is never transient: either the
// local kernel or the peer is broken.
type ProtocolViolationError struct {
	Peer     slot.PeerName
	Kernel   slot.KernelSlot
	Inbound  slot.WireSlot
	Outbound slot.WireSlot

	// Existing is the kernel slot already reached by Inbound, if any.
	Existing *slot.KernelSlot
	// Route is the mapping already held by (Kernel, Peer), if any.
	Route *Route
	// Claimant is the kernel slot already sent to Peer as Outbound, if any.
	Claimant *slot.KernelSlot
}

func (perr *ProtocolViolationError) Error() string {
	msg := fmt.Sprintf(
		"%s: add(%s, %s, %s, %s)",
		ErrProtocolViolation, perr.Peer, perr.Kernel, perr.Inbound, perr.Outbound,
	)
	if perr.Existing != nil {
		msg += fmt.Sprintf(": inbound already resolves to %s", perr.Existing)
	}
	if perr.Route != nil {
		msg += fmt.Sprintf(": kernel slot already known as %s/%s", perr.Route.Inbound, perr.Route.Outbound)
	}
	if perr.Claimant != nil {
		msg += fmt.Sprintf(": outbound already names %s", perr.Claimant)
	}
	return msg
}

func (perr *ProtocolViolationError) Unwrap() error {
	return ErrProtocolViolation
}

// UnresolvedSlotError reports an inbound wire slot with no registered
// mapping. It can be a legitimate race between introductions, the caller
// decides.
type UnresolvedSlotError struct {
	Peer slot.PeerName
	Slot slot.WireSlot
}

func (uerr *UnresolvedSlotError) Error() string {
	return fmt.Sprintf("%s: %s from %s", ErrUnresolvedSlot, uerr.Slot, uerr.Peer)
}

func (uerr *UnresolvedSlotError) Unwrap() error {
	return ErrUnresolvedSlot
}

type NotIntroducedError struct {
	Peer slot.PeerName
	Slot slot.KernelSlot
}

func (nerr *NotIntroducedError) Error() string {
	return fmt.Sprintf("%s: %s to %s", ErrNotIntroduced, nerr.Slot, nerr.Peer)
}

func (nerr *NotIntroducedError) Unwrap() error {
	return ErrNotIntroduced
}
