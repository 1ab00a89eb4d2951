// Package hash implements a disk-resident extendible hash table on top of
// the buffer pool: a directory page mapping hash prefixes to bucket pages,
// each bucket a page-backed slot array with occupied/readable bitmaps.
package hash

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"graindb/pkg/tuple"
)

// KeyCodec fixes a key type's size on disk, its byte encoding, equality,
// and the 32-bit hash extendible hashing indexes the directory with.
type KeyCodec[K any] interface {
	Size() int
	Encode(buf []byte, k K)
	Decode(buf []byte) K
	Equals(a, b K) bool
	Hash(k K) uint32
}

// ValueCodec fixes a value type's size on disk, its encoding, and equality.
type ValueCodec[V any] interface {
	Size() int
	Encode(buf []byte, v V)
	Decode(buf []byte) V
	Equals(a, b V) bool
}

// IntKeyCodec stores int32 keys in 4 bytes, hashed with xxhash.
type IntKeyCodec struct{}

func (IntKeyCodec) Size() int { return 4 }

func (IntKeyCodec) Encode(buf []byte, k int32) {
	binary.BigEndian.PutUint32(buf, uint32(k))
}

func (IntKeyCodec) Decode(buf []byte) int32 {
	return int32(binary.BigEndian.Uint32(buf))
}

func (IntKeyCodec) Equals(a, b int32) bool { return a == b }

func (IntKeyCodec) Hash(k int32) uint32 {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(k))
	return uint32(xxhash.Sum64(buf[:]))
}

// IntValueCodec stores int32 values in 4 bytes.
type IntValueCodec struct{}

func (IntValueCodec) Size() int { return 4 }

func (IntValueCodec) Encode(buf []byte, v int32) {
	binary.BigEndian.PutUint32(buf, uint32(v))
}

func (IntValueCodec) Decode(buf []byte) int32 {
	return int32(binary.BigEndian.Uint32(buf))
}

func (IntValueCodec) Equals(a, b int32) bool { return a == b }

// RIDValueCodec stores record ids in their 8-byte wire form.
type RIDValueCodec struct{}

func (RIDValueCodec) Size() int { return tuple.RIDSize }

func (RIDValueCodec) Encode(buf []byte, v tuple.RID) {
	v.Serialize(buf)
}

func (RIDValueCodec) Decode(buf []byte) tuple.RID {
	return tuple.DeserializeRID(buf)
}

func (RIDValueCodec) Equals(a, b tuple.RID) bool { return a.Equals(b) }

// GenericKey is a fixed-width index key: a tuple's key columns serialized
// and truncated or zero-padded to 8 bytes.
type GenericKey [8]byte

// NewGenericKey builds a fixed-width key from a key tuple.
func NewGenericKey(key *tuple.Tuple) (GenericKey, error) {
	var k GenericKey
	data, err := key.Bytes()
	if err != nil {
		return k, err
	}
	copy(k[:], data)
	return k, nil
}

// GenericKeyCodec stores GenericKeys verbatim.
type GenericKeyCodec struct{}

func (GenericKeyCodec) Size() int { return len(GenericKey{}) }

func (GenericKeyCodec) Encode(buf []byte, k GenericKey) {
	copy(buf, k[:])
}

func (GenericKeyCodec) Decode(buf []byte) GenericKey {
	var k GenericKey
	copy(k[:], buf)
	return k
}

func (GenericKeyCodec) Equals(a, b GenericKey) bool { return a == b }

func (GenericKeyCodec) Hash(k GenericKey) uint32 {
	return uint32(xxhash.Sum64(k[:]))
}

// pageDataOffset reserves the page's LSN prefix; hash pages never touch it.
const pageDataOffset = 4
