package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"Attestor/internal/storage"
)

const (
	// snapshotVersion is the current snapshot format version.
	snapshotVersion = 1

	// headerSize is version (4) + entry count (4).
	headerSize = 8

	// checksumSize is the size of the trailing blake3 checksum.
	checksumSize = 32
)

// ErrChecksumMismatch is returned when a snapshot's checksum does not match its body.
var ErrChecksumMismatch = errors.New("snapshot checksum mismatch")

// Entry is one stored key-value pair.
type Entry struct {
	Key   []byte
	Value []byte
}

// Snapshot is a decoded, checksum-verified snapshot.
type Snapshot struct {
	Version  uint32   // Version is the format version
	Entries  []Entry  // Entries are sorted by key
	Checksum [32]byte // Checksum is the blake3 digest of the body
}

// Create collects every key under prefixes and encodes them.
// Format: version (u32) || count (u32) || [klen (u32) || key || vlen (u32) || value]* || blake3(body).
func Create(db *storage.Storage, prefixes [][]byte) ([]byte, error) {
	entries, err := collect(db, prefixes)
	if err != nil {
		return nil, fmt.Errorf("collect entries:\n%w", err)
	}

	return Encode(entries), nil
}

// collect copies every pair under prefixes out of storage.
func collect(db *storage.Storage, prefixes [][]byte) ([]Entry, error) {
	var entries []Entry

	for _, prefix := range prefixes {
		err := db.IteratePrefix(prefix, func(key, value []byte) error {
			// Copy key and value to avoid iterator invalidation
			entries = append(entries, Entry{
				Key:   bytes.Clone(key),
				Value: bytes.Clone(value),
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return entries, nil
}

// Encode serializes entries, sorted by key, and appends the checksum.
func Encode(entries []Entry) []byte {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Key, sorted[j].Key) < 0
	})

	size := headerSize + checksumSize
	for _, e := range sorted {
		size += 8 + len(e.Key) + len(e.Value)
	}

	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint32(buf, snapshotVersion)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(sorted)))

	for _, e := range sorted {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(e.Key)))
		buf = append(buf, e.Key...)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(e.Value)))
		buf = append(buf, e.Value...)
	}

	sum := checksum(buf)

	return append(buf, sum[:]...)
}

// Decode verifies and parses an encoded snapshot.
func Decode(data []byte) (*Snapshot, error) {
	if len(data) < headerSize+checksumSize {
		return nil, fmt.Errorf("snapshot too short: %d bytes", len(data))
	}

	body := data[:len(data)-checksumSize]

	var stored [32]byte
	copy(stored[:], data[len(body):])

	if checksum(body) != stored {
		return nil, ErrChecksumMismatch
	}

	version := binary.BigEndian.Uint32(body[0:4])
	if version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", version)
	}

	count := binary.BigEndian.Uint32(body[4:8])
	rest := body[headerSize:]

	s := &Snapshot{Version: version, Checksum: stored}

	for i := uint32(0); i < count; i++ {
		key, tail, err := readField(rest)
		if err != nil {
			return nil, fmt.Errorf("entry %d key:\n%w", i, err)
		}

		value, tail, err := readField(tail)
		if err != nil {
			return nil, fmt.Errorf("entry %d value:\n%w", i, err)
		}

		s.Entries = append(s.Entries, Entry{Key: key, Value: value})
		rest = tail
	}

	if len(rest) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after %d entries", len(rest), count)
	}

	return s, nil
}

// readField reads a u32 length-prefixed field.
func readField(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("missing length")
	}

	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]

	if uint64(len(data)) < uint64(n) {
		return nil, nil, fmt.Errorf("field of %d bytes exceeds remaining %d", n, len(data))
	}

	return data[:n], data[n:], nil
}

// checksum computes the blake3 digest of the snapshot body.
func checksum(body []byte) [32]byte {
	h := blake3.New()
	h.Write(body)

	var sum [32]byte
	h.Sum(sum[:0])

	return sum
}

// Apply verifies data and replaces every key under prefixes with the
// snapshot's entries, in one atomic batch.
func Apply(db *storage.Storage, data []byte, prefixes [][]byte) (*Snapshot, error) {
	s, err := Decode(data)
	if err != nil {
		return nil, err
	}

	existing, err := collect(db, prefixes)
	if err != nil {
		return nil, fmt.Errorf("collect existing entries:\n%w", err)
	}

	ops := make([]storage.Op, 0, len(existing)+len(s.Entries))
	for _, e := range existing {
		ops = append(ops, storage.Del(e.Key))
	}

	for _, e := range s.Entries {
		if !hasAnyPrefix(e.Key, prefixes) {
			return nil, fmt.Errorf("snapshot key %x outside restored prefixes", e.Key)
		}
		ops = append(ops, storage.Put(e.Key, e.Value))
	}

	if err := db.Apply(ops); err != nil {
		return nil, fmt.Errorf("write entries:\n%w", err)
	}

	return s, nil
}

func hasAnyPrefix(key []byte, prefixes [][]byte) bool {
	for _, p := range prefixes {
		if bytes.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// Compress compresses snapshot data using zstd.
func Compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// MaxSize bounds the decompressed size of a snapshot.
const MaxSize = 256 << 20

// Decompress decompresses zstd-compressed snapshot data of at most MaxSize bytes.
func Decompress(data []byte) ([]byte, error) {
	return decompress(data, MaxSize)
}

func decompress(data []byte, limit uint64) ([]byte, error) {
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(limit))
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, nil)
}
