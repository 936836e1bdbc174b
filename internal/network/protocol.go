package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// maxMessageSize bounds one oracle link frame (1 MB). A decryption task
	// or result carries two ciphertexts, a proof and the identity header, far
	// below this even under a 4096-bit modulus.
	maxMessageSize = 1 << 20

	// lengthPrefixSize is the size of the big-endian length prefix.
	lengthPrefixSize = 4
)

// errMessageTooLarge reports a frame above maxMessageSize.
var errMessageTooLarge = errors.New("message too large")

// writeMessage frames data as [4 bytes big-endian length][payload] and
// writes it in a single call so a stream never carries a partial prefix.
func writeMessage(w io.Writer, data []byte) error {
	if len(data) > maxMessageSize {
		return fmt.Errorf("%w: %d > %d", errMessageTooLarge, len(data), maxMessageSize)
	}

	frame := make([]byte, lengthPrefixSize+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[lengthPrefixSize:], data)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame:\n%w", err)
	}

	return nil
}

// readMessage reads one frame written by writeMessage.
func readMessage(r io.Reader) ([]byte, error) {
	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("read length:\n%w", err)
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length > maxMessageSize {
		return nil, fmt.Errorf("%w: %d > %d", errMessageTooLarge, length, maxMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read payload:\n%w", err)
	}

	return data, nil
}
