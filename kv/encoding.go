package kv

import "encoding/binary"

// EncodeUint64 encodes an integer PK as fixed-width little-endian, per
// spec §3/§6. Per the Open Question the spec records: bbolt's Cursor
// orders keys by raw byte comparison (memory-lexicographic), not by
// numeric value, so little-endian integer keys do NOT sort numerically
// under bbolt. This module resolves that open question for big: range
// scans over integer-keyed tables must use EncodeUint64BE instead (see
// DESIGN.md); EncodeUint64/DecodeUint64 remain for non-range-scanned
// scalar columns where only round-trip equality matters.
func EncodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// DecodeUint64 is the inverse of EncodeUint64.
func DecodeUint64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

// EncodeUint64BE encodes an integer key big-endian so that byte-lexical
// order equals numeric order - required for any table a Range() query
// walks in numeric order (root PK tables keyed by height, Range column
// tables). See the Open Question in spec §6: this module picks
// "big-endian, consistently" because its engine (bbolt) has no custom
// comparator hook the way redb does.
func EncodeUint64BE(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// DecodeUint64BE is the inverse of EncodeUint64BE.
func DecodeUint64BE(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// EncodePointer encodes a child ("pointer") PK as parent bytes followed
// by the local index's big-endian bytes, per spec §3: "parent bytes
// followed by index bytes", ordered lexicographically by (parent, index).
func EncodePointer(parentEncoded []byte, index uint32) []byte {
	out := make([]byte, len(parentEncoded)+4)
	copy(out, parentEncoded)
	binary.BigEndian.PutUint32(out[len(parentEncoded):], index)
	return out
}

// DecodePointer splits a pointer key back into its parent-bytes prefix
// (of parentLen bytes) and local index suffix.
func DecodePointer(b []byte, parentLen int) (parentEncoded []byte, index uint32) {
	return b[:parentLen], binary.BigEndian.Uint32(b[parentLen:])
}
