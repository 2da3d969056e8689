// Package bench provides reproducible micro-benchmarks for disasm-cache.
// Run via:  go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// Each benchmark drives a small, fixed x86-64 code blob (NOP padding) through
// the public Cache API so results are comparable across versions:
//   1. LookupHit         – steady-state reads against an already-published
//                          entry (the hot path §4.1 optimizes for).
//   2. LookupHitParallel – the same, but from b.RunParallel's goroutine pool.
//   3. LookupMiss        – always-new content hashes, forcing the worker
//                          pipeline to run on every call.
//   4. LookupByKey       – info_from_key_params's extra hash-resolution hop.
//
// NOTE: Unit tests live in package-level _test.go files; this file is only
// for performance.
//
// © 2025 disasm-cache authors. MIT License.
package bench

import (
	"context"
	"math/rand"
	"testing"
	"time"

	cache "github.com/Voskan/disasm-cache/pkg"
	"github.com/Voskan/disasm-cache/internal/services"
)

const slots = 4096

func nopBlob(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0x90 // x86 NOP
	}
	return b
}

func newBenchCache(b *testing.B) (*cache.Cache, *services.MemHashStore) {
	b.Helper()

	hashStore := services.NewMemHashStore()
	dbgi := services.NewMemDebugInfoService()
	watcher := services.NewStaticWatcher()
	text := services.NewMemTextService(hashStore)

	c, err := cache.New(
		cache.WithSlots(slots),
		cache.WithWorkerCount(4),
		cache.WithCollaborators(hashStore, dbgi, watcher, text),
	)
	if err != nil {
		b.Fatalf("cache.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Init(ctx); err != nil {
		b.Fatalf("cache.Init: %v", err)
	}
	b.Cleanup(func() {
		cancel()
		c.Close()
	})
	return c, hashStore
}

// warmUntilPublished blocks until the worker pool has published hash/params,
// so hit benchmarks measure the steady-state Lookup path rather than the
// decode pipeline.
func warmUntilPublished(b *testing.B, c *cache.Cache, hash cache.ContentHash, params cache.Params) {
	b.Helper()
	scope := c.ScopeOpen()
	defer c.ScopeClose(scope)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if info := c.InfoFromHashParams(scope, hash, params); !info.Empty() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	b.Fatalf("entry never published within deadline")
}

func defaultParams(vaddr uint64) cache.Params {
	return cache.Params{
		VAddr:  vaddr,
		Arch:   cache.ArchX64,
		Syntax: cache.SyntaxIntel,
		Style:  cache.StyleAddresses | cache.StyleCodeBytes,
	}
}

func BenchmarkLookupHit(b *testing.B) {
	c, hashStore := newBenchCache(b)
	params := defaultParams(0x401000)
	hash := hashStore.Put(nopBlob(64))
	warmUntilPublished(b, c, hash, params)

	scope := c.ScopeOpen()
	defer c.ScopeClose(scope)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.InfoFromHashParams(scope, hash, params)
	}
}

func BenchmarkLookupHitParallel(b *testing.B) {
	c, hashStore := newBenchCache(b)
	params := defaultParams(0x401000)
	hash := hashStore.Put(nopBlob(64))
	warmUntilPublished(b, c, hash, params)

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		scope := c.ScopeOpen()
		defer c.ScopeClose(scope)
		for pb.Next() {
			c.InfoFromHashParams(scope, hash, params)
		}
	})
}

func BenchmarkLookupMiss(b *testing.B) {
	c, _ := newBenchCache(b)
	params := defaultParams(0x500000)

	scope := c.ScopeOpen()
	defer c.ScopeClose(scope)

	rnd := rand.New(rand.NewSource(1))

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var hash cache.ContentHash
		rnd.Read(hash[:])
		c.InfoFromHashParams(scope, hash, params)
	}
}

func BenchmarkLookupByKey(b *testing.B) {
	c, hashStore := newBenchCache(b)
	params := defaultParams(0x401000)
	hash := hashStore.SubmitData("hot.o", nopBlob(64))
	warmUntilPublished(b, c, hash, params)

	scope := c.ScopeOpen()
	defer c.ScopeClose(scope)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.InfoFromKeyParams(scope, "hot.o", params, nil)
	}
}
