package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// DefaultMaxFrameSize bounds the frames accepted by [ReadFrame] when the
// caller does not provide a limit.
const DefaultMaxFrameSize = 1 << 20

// WriteFrame writes buf prefixed by its varint length. Any ordered byte
// stream works, a `quic.SendStream` included.
func WriteFrame(w io.Writer, buf []byte) error {
	varintBuf := protowire.AppendVarint(nil, uint64(len(buf)))
	prefixedBuf := make([]byte, len(varintBuf)+len(buf))
	copy(prefixedBuf, varintBuf)
	copy(prefixedBuf[len(varintBuf):], buf)
	_, err := w.Write(prefixedBuf)
	return err
}

// ReadFrame reads one frame written by [WriteFrame]. Frames longer than
// maxSize are rejected before allocating them.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	buf := make([]byte, binary.MaxVarintLen64)
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n : n+1])
		if err != nil {
			return nil, err
		}
		if m != 0 {
			byteRead := buf[n]
			n = m + n
			if byteRead < 0x80 {
				break
			}
		}
	}

	prefix, prefixSize := protowire.ConsumeVarint(buf[:n])
	if err := protowire.ParseError(prefixSize); err != nil {
		return nil, fmt.Errorf("%w: length prefix: %w", ErrMalformedFrame, err)
	}
	if prefix > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d bytes announced, limit is %d", ErrFrameTooLarge, prefix, maxSize)
	}

	buf = make([]byte, prefix)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
