package slot

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

const MaxPeerNameLength = 128

var (
	ErrPeerNameInvalid = errors.New("slot: peer names must only contains alphanum, dashes, dots and be less than 128 chars")

	invalidPeerName = regexp.MustCompile(`[^A-Za-z0-9\-\.]+`)
)

// PeerName identifies a remote machine. It is stable for the lifetime
// of the relationship, typically derived from a negotiated public key.
type PeerName string

func ValidatePeerName(peer PeerName) error {
	if len(peer) == 0 || len(peer) > MaxPeerNameLength || invalidPeerName.MatchString(string(peer)) {
		return fmt.Errorf("%w: got %q", ErrPeerNameInvalid, string(peer))
	}
	return nil
}

// PeerNameFromPublicKey derives a [PeerName] from the raw bytes of a
// public key. The name is the base32 CIDv1 of its sha2-256 digest, so it
// always satisfies [ValidatePeerName].
func PeerNameFromPublicKey(pub []byte) (PeerName, error) {
	if len(pub) == 0 {
		return "", fmt.Errorf("%w: empty public key", ErrPeerNameInvalid)
	}
	mh, err := multihash.Sum(pub, multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return PeerName(cid.NewCidV1(cid.Raw, mh).String()), nil
}
