// Package snapshot exports and restores the whole ledger key space.
//
// A snapshot is a zstd-compressed frame:
//
//	version u32 | count u32 | count × (keyLen u32 | key | valueLen u32 | value) | blake3(frame)
//
// Integers are little-endian. Entries are in key order so that two snapshots
// of the same state are byte-identical before compression.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"VeilSum/internal/storage"
)

const (
	// snapshotVersion is the current snapshot format version.
	snapshotVersion = 1

	// headerSize is version + count.
	headerSize = 8

	// checksumSize is the size of the trailing blake3 checksum.
	checksumSize = 32
)

// entry holds one key/value pair of the ledger store.
type entry struct {
	key   []byte
	value []byte
}

// Create returns a compressed snapshot of every key in db.
func Create(db *storage.Storage) ([]byte, error) {
	var entries []entry

	err := db.Iterate(func(key, value []byte) error {
		// Copy key and value to avoid iterator invalidation
		entries = append(entries, entry{
			key:   append([]byte(nil), key...),
			value: append([]byte(nil), value...),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect entries:\n%w", err)
	}

	return Compress(encode(entries))
}

// Apply verifies a compressed snapshot and writes all its entries to db in
// one durable batch. It returns the number of entries written.
func Apply(db *storage.Storage, data []byte) (int, error) {
	frame, err := Decompress(data)
	if err != nil {
		return 0, fmt.Errorf("decompress:\n%w", err)
	}

	entries, err := decode(frame)
	if err != nil {
		return 0, err
	}

	wb := db.NewWriteBatch()
	defer wb.Close()

	for _, e := range entries {
		wb.Set(e.key, e.value)
	}

	if err := wb.Commit(true); err != nil {
		return 0, fmt.Errorf("write entries:\n%w", err)
	}

	return wb.Len(), nil
}

// Compress compresses a frame using zstd.
func Compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// Decompress decompresses zstd-compressed data.
func Decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, nil)
}

// encode builds the checksummed frame.
func encode(entries []entry) []byte {
	var buf bytes.Buffer

	var word [4]byte
	putUint32 := func(n int) {
		binary.LittleEndian.PutUint32(word[:], uint32(n))
		buf.Write(word[:])
	}

	putUint32(snapshotVersion)
	putUint32(len(entries))

	for _, e := range entries {
		putUint32(len(e.key))
		buf.Write(e.key)
		putUint32(len(e.value))
		buf.Write(e.value)
	}

	checksum := blake3.Sum256(buf.Bytes())
	buf.Write(checksum[:])

	return buf.Bytes()
}

// decode verifies the checksum and version and parses the entries.
func decode(frame []byte) ([]entry, error) {
	if len(frame) < headerSize+checksumSize {
		return nil, fmt.Errorf("snapshot too short: %d bytes", len(frame))
	}

	body := frame[:len(frame)-checksumSize]
	checksum := blake3.Sum256(body)

	if !bytes.Equal(checksum[:], frame[len(body):]) {
		return nil, fmt.Errorf("checksum mismatch")
	}

	if v := binary.LittleEndian.Uint32(body[0:4]); v != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", v)
	}

	count := binary.LittleEndian.Uint32(body[4:8])
	rest := body[headerSize:]

	entries := make([]entry, 0, count)
	for i := uint32(0); i < count; i++ {
		key, tail, err := readField(rest)
		if err != nil {
			return nil, fmt.Errorf("entry %d key:\n%w", i, err)
		}

		value, tail, err := readField(tail)
		if err != nil {
			return nil, fmt.Errorf("entry %d value:\n%w", i, err)
		}

		entries = append(entries, entry{key: key, value: value})
		rest = tail
	}

	if len(rest) != 0 {
		return nil, fmt.Errorf("trailing snapshot bytes: %d", len(rest))
	}

	return entries, nil
}

// readField reads a u32 length-prefixed field.
func readField(data []byte) (field, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("missing length prefix")
	}

	n := binary.LittleEndian.Uint32(data)
	if uint64(n) > uint64(len(data)-4) {
		return nil, nil, fmt.Errorf("field length %d exceeds %d bytes", n, len(data)-4)
	}

	return data[4 : 4+n], data[4+n:], nil
}
