package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Voskan/disasm-cache/internal/domain"
)

func TestNextDecodesSingleByteNop(t *testing.T) {
	s := NewStream(domain.ArchX64, domain.SyntaxIntel, nil)
	d, err := s.Next([]byte{0x90}, 0, 0x401000)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Size)
	assert.NotEmpty(t, d.Text)
	assert.False(t, d.HasJump)
}

func TestNextOffAtEndOfBufferReturnsZeroSize(t *testing.T) {
	s := NewStream(domain.ArchX64, domain.SyntaxIntel, nil)
	d, err := s.Next([]byte{0x90}, 1, 0x401000)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Size)
}

func TestNextDetectsRelativeJump(t *testing.T) {
	s := NewStream(domain.ArchX64, domain.SyntaxIntel, nil)
	// EB 05: JMP rel8 +5
	data := []byte{0xEB, 0x05}
	d, err := s.Next(data, 0, 0x1000)
	require.NoError(t, err)
	require.True(t, d.HasJump)
	assert.Equal(t, uint64(0x1000+2+5), d.JumpVAddr)
}

func TestNextRendersBothSyntaxes(t *testing.T) {
	data := []byte{0x48, 0x89, 0xE5} // mov rbp, rsp
	intel := NewStream(domain.ArchX64, domain.SyntaxIntel, nil)
	att := NewStream(domain.ArchX64, domain.SyntaxATT, nil)

	di, err := intel.Next(data, 0, 0)
	require.NoError(t, err)
	da, err := att.Next(data, 0, 0)
	require.NoError(t, err)

	assert.NotEqual(t, di.Text, da.Text, "Intel and AT&T rendering should differ for a two-operand instruction")
}
