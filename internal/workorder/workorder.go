// Package workorder encodes/decodes the U2P ring's payload: the
// serialization of (hash, vaddr, arch, style_flags, syntax, base_vaddr,
// path_size, path_bytes, min_timestamp) that §4.3 specifies. It is kept
// separate from internal/ring so the ring stays a generic byte-frame
// transport and separate from internal/domain so domain stays free of
// wire-format concerns.
//
// © 2025 disasm-cache authors. MIT License.
package workorder

import (
	"encoding/binary"
	"errors"

	"github.com/Voskan/disasm-cache/internal/arena"
	"github.com/Voskan/disasm-cache/internal/domain"
	"github.com/Voskan/disasm-cache/internal/unsafehelpers"
)

// Order is one work order: "please materialize the node identified by
// (Hash, Params)".
type Order struct {
	Hash   domain.ContentHash
	Params domain.Params
}

// ErrShortBuffer is returned by Decode when raw is truncated.
var ErrShortBuffer = errors.New("workorder: short buffer")

// Encode serializes o in the field order §4.3 specifies.
func Encode(o Order) []byte {
	path := []byte(o.Params.Dbgi.Path)
	buf := make([]byte, 0, 16+8+1+1+1+8+4+len(path)+8)
	buf = append(buf, o.Hash[:]...)
	buf = appendU64(buf, o.Params.VAddr)
	buf = append(buf, byte(o.Params.Arch))
	buf = append(buf, byte(o.Params.Style))
	buf = append(buf, byte(o.Params.Syntax))
	buf = appendU64(buf, o.Params.BaseVAddr)
	buf = appendU32(buf, uint32(len(path)))
	buf = append(buf, path...)
	buf = appendU64(buf, uint64(o.Params.Dbgi.MinTimestamp))
	return buf
}

// Decode parses raw into an Order, allocating the path bytes from a — the
// "caller-supplied arena" §4.3 calls for — so a worker's decoded work order
// can live as long as its per-iteration scratch region without per-field
// heap allocations.
func Decode(raw []byte, a *arena.Arena) (Order, error) {
	var o Order
	if len(raw) < 16+8+1+1+1+8+4 {
		return o, ErrShortBuffer
	}
	copy(o.Hash[:], raw[:16])
	off := 16
	o.Params.VAddr, off = readU64(raw, off)
	o.Params.Arch = domain.ArchKind(raw[off])
	off++
	o.Params.Style = domain.StyleFlags(raw[off])
	off++
	o.Params.Syntax = domain.SyntaxKind(raw[off])
	off++
	o.Params.BaseVAddr, off = readU64(raw, off)
	var pathLen uint32
	pathLen, off = readU32(raw, off)
	if len(raw) < off+int(pathLen)+8 {
		return o, ErrShortBuffer
	}
	if pathLen > 0 {
		pathBytes := arena.AllocBytes(a, raw[off:off+int(pathLen)])
		o.Params.Dbgi.Path = unsafehelpers.BytesToString(pathBytes)
	}
	off += int(pathLen)
	var ts uint64
	ts, _ = readU64(raw, off)
	o.Params.Dbgi.MinTimestamp = int64(ts)
	return o, nil
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func readU64(raw []byte, off int) (uint64, int) {
	return binary.LittleEndian.Uint64(raw[off : off+8]), off + 8
}

func readU32(raw []byte, off int) (uint32, int) {
	return binary.LittleEndian.Uint32(raw[off : off+4]), off + 4
}
