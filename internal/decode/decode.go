// Package decode wraps golang.org/x/arch/x86/x86asm — the real, official Go
// x86/x64 decoder, and the library spec.md's "out of scope" decoder
// paragraph names — behind the narrow streaming-decoder shape §4.4 step 7
// describes: a Stream is seeded once with (bit-width, syntax), and each Next
// call decodes one instruction from the caller's buffer at a given offset
// and pc.
//
// © 2025 disasm-cache authors. MIT License.
package decode

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/Voskan/disasm-cache/internal/domain"
)

// SymLookup resolves an absolute address to a symbol name, for the
// decoder's own operand-printing use (distinct from the worker's own
// procedure-name annotation via the debug-info scope vmap).
type SymLookup func(addr uint64) (string, uint64)

// Decoded is one decoded instruction: its size in bytes, its rendered
// mnemonic/operand text in the requested syntax, and — when the first
// operand is a relative branch displacement — the absolute virtual address
// it targets.
type Decoded struct {
	Size      int
	Text      string
	JumpVAddr uint64
	HasJump   bool
}

// Stream is a seeded streaming decoder; the byte buffer is passed to each
// Next call rather than held by the Stream.
type Stream struct {
	mode   int
	syntax domain.SyntaxKind
	sym    SymLookup
}

// NewStream seeds a decoder for arch at syntax. sym may be nil.
func NewStream(arch domain.ArchKind, syntax domain.SyntaxKind, sym SymLookup) *Stream {
	mode := 32
	if arch == domain.ArchX64 {
		mode = 64
	}
	if sym == nil {
		sym = func(uint64) (string, uint64) { return "", 0 }
	}
	return &Stream{mode: mode, syntax: syntax, sym: sym}
}

// Next decodes one instruction from data starting at off; pc is the
// virtual address data[off] is mapped to (vaddr + off in the caller's
// terms). A zero Size with a nil error signals end of stream (decoder
// failure truncates silently per §7).
func (s *Stream) Next(data []byte, off int, pc uint64) (Decoded, error) {
	if off >= len(data) {
		return Decoded{}, nil
	}
	inst, err := x86asm.Decode(data[off:], s.mode)
	if err != nil || inst.Len == 0 {
		return Decoded{}, nil
	}

	var text string
	if s.syntax == domain.SyntaxATT {
		text = x86asm.GNUSyntax(inst, pc, x86asm.SymLookup(s.sym))
	} else {
		text = x86asm.IntelSyntax(inst, pc, x86asm.SymLookup(s.sym))
	}

	d := Decoded{Size: inst.Len, Text: text}
	if len(inst.Args) > 0 {
		if rel, ok := inst.Args[0].(x86asm.Rel); ok {
			d.JumpVAddr = uint64(int64(pc) + int64(inst.Len) + int64(rel))
			d.HasJump = true
		}
	}
	return d, nil
}
