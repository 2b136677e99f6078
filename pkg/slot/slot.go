// Package slot holds the value types naming a reference on both sides of a
// peer boundary: the kernel-local [KernelSlot] and the per-peer [WireSlot].
package slot

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

var (
	ErrInvalidSlotType = errors.New("slot: invalid slot type")
	ErrInvalidSlot     = errors.New("slot: malformed slot")
)

// KernelType tells how the local kernel knows a reference.
type KernelType uint8

const (
	KernelUnspecified KernelType = iota
	KernelImport
	KernelExport
	KernelPromise
)

var kernelTags = [...]string{
	KernelImport:  "import",
	KernelExport:  "export",
	KernelPromise: "promise",
}

func (kt KernelType) Valid() bool {
	return kt >= KernelImport && kt <= KernelPromise
}

func (kt KernelType) String() string {
	if !kt.Valid() {
		return "kernel-type(" + strconv.Itoa(int(kt)) + ")"
	}
	return kernelTags[kt]
}

// ParseKernelType is the inverse of [KernelType.String].
func ParseKernelType(tag string) (KernelType, error) {
	for kt := KernelImport; kt <= KernelPromise; kt++ {
		if kernelTags[kt] == tag {
			return kt, nil
		}
	}
	return KernelUnspecified, fmt.Errorf("%w: kernel tag %q", ErrInvalidSlotType, tag)
}

// WireType names a reference from the point of view of one peer.
//
// The four tags are the whole wire vocabulary, every implementation
// talking to us MUST agree byte-for-byte on [WireType.String].
type WireType uint8

const (
	WireUnspecified WireType = iota
	YourEgress
	YourIngress
	YourPromise
	YourResolver
)

var wireTags = [...]string{
	YourEgress:   "your-egress",
	YourIngress:  "your-ingress",
	YourPromise:  "your-promise",
	YourResolver: "your-resolver",
}

func (wt WireType) Valid() bool {
	return wt >= YourEgress && wt <= YourResolver
}

func (wt WireType) String() string {
	if !wt.Valid() {
		return "wire-type(" + strconv.Itoa(int(wt)) + ")"
	}
	return wireTags[wt]
}

// Promise reports whether the slot names a promise, regardless of which
// side holds the authority to resolve it.
func (wt WireType) Promise() bool {
	return wt == YourPromise || wt == YourResolver
}

// Resolver reports whether the side receiving this slot holds the
// resolution authority.
func (wt WireType) Resolver() bool {
	return wt == YourResolver
}

// ParseWireType is the inverse of [WireType.String].
func ParseWireType(tag string) (WireType, error) {
	for wt := YourEgress; wt <= YourResolver; wt++ {
		if wireTags[wt] == tag {
			return wt, nil
		}
	}
	return WireUnspecified, fmt.Errorf("%w: wire tag %q", ErrInvalidSlotType, tag)
}

// KernelSlot is a reference as known inside the local kernel.
type KernelSlot struct {
	Type KernelType
	ID   uint64
}

func (k KernelSlot) Valid() bool {
	return k.Type.Valid()
}

func (k KernelSlot) String() string {
	return k.Type.String() + ":" + strconv.FormatUint(k.ID, 10)
}

func (k KernelSlot) LogValue() slog.Value {
	return slog.StringValue(k.String())
}

// WireSlot is a reference as named in the traffic exchanged with one
// specific peer. The ID is peer-local.
type WireSlot struct {
	Type WireType
	ID   uint64
}

func (w WireSlot) Valid() bool {
	return w.Type.Valid()
}

func (w WireSlot) String() string {
	return w.Type.String() + ":" + strconv.FormatUint(w.ID, 10)
}

func (w WireSlot) LogValue() slog.Value {
	return slog.StringValue(w.String())
}

// Flip renames a wire slot as seen by the other party: egress and ingress
// swap, so do promise and resolver. The ID is left untouched.
//
// Flip(Flip(w)) == w for every valid w.
func Flip(w WireSlot) (WireSlot, error) {
	switch w.Type {
	case YourEgress:
		w.Type = YourIngress
	case YourIngress:
		w.Type = YourEgress
	case YourPromise:
		w.Type = YourResolver
	case YourResolver:
		w.Type = YourPromise
	default:
		return WireSlot{}, fmt.Errorf("%w: cannot flip %s", ErrInvalidSlotType, w.Type)
	}
	return w, nil
}

// MustFlip is like [Flip] but panics on an invalid type.
func MustFlip(w WireSlot) WireSlot {
	flipped, err := Flip(w)
	if err != nil {
		panic(err)
	}
	return flipped
}

// ParseKernelSlot parses the `export:7` form produced by [KernelSlot.String].
func ParseKernelSlot(s string) (KernelSlot, error) {
	tag, id, err := splitSlot(s)
	if err != nil {
		return KernelSlot{}, err
	}
	kt, err := ParseKernelType(tag)
	if err != nil {
		return KernelSlot{}, err
	}
	return KernelSlot{Type: kt, ID: id}, nil
}

// ParseWireSlot parses the `your-ingress:3` form produced by [WireSlot.String].
func ParseWireSlot(s string) (WireSlot, error) {
	tag, id, err := splitSlot(s)
	if err != nil {
		return WireSlot{}, err
	}
	wt, err := ParseWireType(tag)
	if err != nil {
		return WireSlot{}, err
	}
	return WireSlot{Type: wt, ID: id}, nil
}

func splitSlot(s string) (string, uint64, error) {
	sep := strings.LastIndexByte(s, ':')
	if sep < 0 {
		return "", 0, fmt.Errorf("%w: %q has no id", ErrInvalidSlot, s)
	}
	id, err := strconv.ParseUint(s[sep+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q: %w", ErrInvalidSlot, s, err)
	}
	return s[:sep], id, nil
}
