package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Voskan/disasm-cache/internal/domain"
	"github.com/Voskan/disasm-cache/internal/ring"
	"github.com/Voskan/disasm-cache/internal/services"
	"github.com/Voskan/disasm-cache/internal/stripe"
	"github.com/Voskan/disasm-cache/internal/workorder"
)

func nopBlob(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0x90
	}
	return b
}

func TestHandlePublishesDecodedInstructions(t *testing.T) {
	idx := stripe.NewIndex(16, 4, 256, stripe.Hooks{})
	hashStore := services.NewMemHashStore()
	dbgi := services.NewMemDebugInfoService()
	watcher := services.NewStaticWatcher()
	text := services.NewMemTextService(hashStore)

	hash := hashStore.Put(nopBlob(4))
	params := domain.Params{VAddr: 0x1000, Arch: domain.ArchX64, Syntax: domain.SyntaxIntel, Style: domain.StyleAddresses | domain.StyleCodeBytes}

	scope := idx.ScopeOpen()
	_, isNew := idx.Lookup(scope, hash, params, 1, 1)
	require.True(t, isNew)
	scope.Close()

	w := New(Deps{
		Index:     idx,
		Ring:      ring.New(1 << 16),
		HashStore: hashStore,
		Dbgi:      dbgi,
		Watcher:   watcher,
		Text:      text,
	})

	raw := workorder.Encode(workorder.Order{Hash: hash, Params: params})
	w.handle(context.Background(), raw)

	scope2 := idx.ScopeOpen()
	info, isNew := idx.Lookup(scope2, hash, params, 2, 2)
	scope2.Close()

	assert.False(t, isNew)
	require.False(t, info.Empty())
	assert.Len(t, info.Insts, 4, "four single-byte NOPs should decode to four instructions")

	hashScope := hashStore.ScopeOpen()
	defer hashScope.Close()
	textBlob, ok := hashStore.DataFromHash(hashScope, info.TextKey)
	require.True(t, ok)
	assert.NotEmpty(t, textBlob)
	assert.Contains(t, string(textBlob), "{90}", "CodeBytes column must brace-wrap the hex byte list per the rendering spec")
}

func TestHandleAbandonsWhenNodeMissing(t *testing.T) {
	idx := stripe.NewIndex(16, 4, 256, stripe.Hooks{})
	hashStore := services.NewMemHashStore()
	dbgi := services.NewMemDebugInfoService()
	watcher := services.NewStaticWatcher()
	text := services.NewMemTextService(hashStore)

	abandoned := false
	w := New(Deps{
		Index:     idx,
		Ring:      ring.New(1 << 16),
		HashStore: hashStore,
		Dbgi:      dbgi,
		Watcher:   watcher,
		Text:      text,
		Hooks:     Hooks{OnAbandoned: func() { abandoned = true }},
	})

	hash := hashStore.Put(nopBlob(1))
	params := domain.Params{VAddr: 0x2000, Arch: domain.ArchX64, Syntax: domain.SyntaxIntel}
	raw := workorder.Encode(workorder.Order{Hash: hash, Params: params})

	// No Lookup was performed first, so the index holds no node for this
	// identity: Claim must fail and the worker must abandon cleanly.
	w.handle(context.Background(), raw)
	assert.True(t, abandoned)
}

func TestHandleAnnotatesSourceLinesAndFiles(t *testing.T) {
	idx := stripe.NewIndex(16, 4, 256, stripe.Hooks{})
	hashStore := services.NewMemHashStore()
	dbgi := services.NewMemDebugInfoService()
	watcher := services.NewStaticWatcher()
	text := services.NewMemTextService(hashStore)

	text.PutFile("main.c", []byte("int main() {\n  return 0;\n}\n"))
	dbgi.Register("main.c", &services.StaticDebugInfo{
		UnitPath: "main.c",
		LineAt:   []services.LineBound{{VOff: 0, Line: 1}},
	})

	hash := hashStore.Put(nopBlob(2))
	params := domain.Params{
		VAddr:  0x3000,
		Arch:   domain.ArchX64,
		Syntax: domain.SyntaxIntel,
		Style:  domain.StyleSourceFilesNames | domain.StyleSourceLines,
		Dbgi:   domain.DbgiKey{Path: "main.c"},
	}

	scope := idx.ScopeOpen()
	idx.Lookup(scope, hash, params, 1, 1)
	scope.Close()

	w := New(Deps{Index: idx, Ring: ring.New(1 << 16), HashStore: hashStore, Dbgi: dbgi, Watcher: watcher, Text: text})
	raw := workorder.Encode(workorder.Order{Hash: hash, Params: params})
	w.handle(context.Background(), raw)

	scope2 := idx.ScopeOpen()
	info, _ := idx.Lookup(scope2, hash, params, 2, 2)
	scope2.Close()
	require.False(t, info.Empty())

	hashScope := hashStore.ScopeOpen()
	defer hashScope.Close()
	textBlob, ok := hashStore.DataFromHash(hashScope, info.TextKey)
	require.True(t, ok)
	assert.Contains(t, string(textBlob), "main.c")
	assert.Contains(t, string(textBlob), "return 0;")
}
