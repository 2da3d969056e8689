// Package services declares the narrow collaborator interfaces §6 names as
// "out of scope": the hash store, the debug-info service, the file watcher,
// and the text service. The core only ever talks to these interfaces — it
// never knows whether a given implementation is in-memory, Badger-backed, or
// talks to a real symbol server. Reference in-memory implementations live
// here for tests and benchmarks; badgerstore.go and fswatcher.go
// adapt real backends from the teacher's dependency set.
//
// © 2025 disasm-cache authors. MIT License.
package services

import (
	"context"
	"sync"

	"github.com/Voskan/disasm-cache/internal/domain"
)

// HashStore is the content-addressed blob store §6 specifies:
// scope_open/close, data_from_hash, hash_from_key, hash_from_data, and
// submit_data (which the caller is documented to treat as an arena-ownership
// move — see §9's open question).
type HashStore interface {
	ScopeOpen() HashScope
	DataFromHash(scope HashScope, hash domain.ContentHash) ([]byte, bool)
	HashFromKey(key string, rewindIdx int) (domain.ContentHash, bool)
	HashFromData(data []byte) domain.ContentHash
	SubmitData(key string, data []byte) domain.ContentHash
}

// HashScope is an open handle against a HashStore; Close releases it.
type HashScope interface {
	Close()
}

// DebugInfo is the opaque parsed artifact rdi_from_key returns; nil (the
// zero value of this interface) denotes "no debug info" and must be
// distinguishable from a real, empty parse by identity, which a nil
// interface value naturally is.
type DebugInfo interface {
	// UnitAndLineAt resolves the source unit path and line number covering
	// voff, or ok=false if voff falls outside any known unit.
	UnitAndLineAt(voff uint64) (unit Unit, line int, ok bool)
	// ProcedureAt resolves the procedure name owning voff via the scope
	// vmap, used for jump-target symbol annotation.
	ProcedureAt(voff uint64) (name string, ok bool)
}

// Unit names one compilation unit's normalized source path.
type Unit struct {
	Path string
}

// DebugInfoService maps a dbgi_key to a parsed DebugInfo (or nil).
type DebugInfoService interface {
	ScopeOpen() DebugInfoScope
	RdiFromKey(ctx context.Context, scope DebugInfoScope, key domain.DbgiKey) DebugInfo
}

// DebugInfoScope is an open handle against a DebugInfoService.
type DebugInfoScope interface {
	Close()
}

// FileWatcher supplies the monotonic change-generation counter §4.5's
// staleness detector reads.
type FileWatcher interface {
	ChangeGen() uint64
}

// Lang identifies a source language for text-service tokenization; only
// used to pick a tokenizer, never interpreted by the core.
type Lang int

// TextInfo describes one file's line layout: lines_ranges[i] is the
// half-open byte range of line i within the file's text blob.
type TextInfo struct {
	LinesCount  int
	LinesRanges [][2]uint64
}

// TextService tokenizes a source file into per-line byte ranges and reports
// the hash-store key under which its bytes are addressable.
type TextService interface {
	ScopeOpen() TextScope
	TextInfoFromKeyLang(ctx context.Context, scope TextScope, key string, lang Lang) (info TextInfo, textHash domain.ContentHash, ok bool)
	LangKindFromExtension(path string) Lang
	FSKeyFromPath(path string) string
}

// TextScope is an open handle against a TextService.
type TextScope interface {
	Close()
}

// --- In-memory reference implementations -----------------------------

// MemHashStore is a trivial in-process HashStore backed by a map, used by
// tests and bench/. It never evicts.
type MemHashStore struct {
	mu   sync.RWMutex
	byID map[domain.ContentHash][]byte
	byKey map[string][]domain.ContentHash // append-only revision history
}

// NewMemHashStore constructs an empty in-memory hash store.
func NewMemHashStore() *MemHashStore {
	return &MemHashStore{
		byID:  make(map[domain.ContentHash][]byte),
		byKey: make(map[string][]domain.ContentHash),
	}
}

type noopScope struct{}

func (noopScope) Close() {}

func (m *MemHashStore) ScopeOpen() HashScope { return noopScope{} }

func (m *MemHashStore) DataFromHash(_ HashScope, hash domain.ContentHash) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.byID[hash]
	return b, ok
}

func (m *MemHashStore) HashFromKey(key string, rewindIdx int) (domain.ContentHash, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	revs := m.byKey[key]
	if len(revs) == 0 {
		return domain.ZeroHash, false
	}
	idx := len(revs) - 1 - rewindIdx
	if idx < 0 {
		return domain.ZeroHash, false
	}
	return revs[idx], true
}

func (m *MemHashStore) HashFromData(data []byte) domain.ContentHash {
	return hashBytes(data)
}

// SubmitData stores data under a content hash and records it as the newest
// revision for key (key may be empty when the caller has no stable name for
// the blob, e.g. raw machine-code bytes looked up only by hash).
func (m *MemHashStore) SubmitData(key string, data []byte) domain.ContentHash {
	h := hashBytes(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[h] = data
	if key != "" {
		m.byKey[key] = append(m.byKey[key], h)
	}
	return h
}

// Put seeds the store with a blob addressed only by hash — a test/example
// convenience standing in for whatever out-of-process mechanism normally
// populates the real hash store with raw machine code.
func (m *MemHashStore) Put(data []byte) domain.ContentHash {
	return m.SubmitData("", data)
}

func hashBytes(data []byte) domain.ContentHash {
	// FNV-1a 128-bit-ish mix: two independent 64-bit FNV passes. This is a
	// reference implementation's content hash, not a cryptographic digest —
	// the real hash store is an external collaborator per §6.
	var h1, h2 uint64 = 14695981039346656037, 14695981039346656037 ^ 0x9e3779b97f4a7c15
	for _, b := range data {
		h1 ^= uint64(b)
		h1 *= 1099511628211
		h2 ^= uint64(b) + 1
		h2 *= 1099511628211
	}
	var out domain.ContentHash
	for i := 0; i < 8; i++ {
		out[i] = byte(h1 >> (8 * i))
		out[8+i] = byte(h2 >> (8 * i))
	}
	return out
}

// MemDebugInfoService is a trivial in-process DebugInfoService for tests; it
// looks up a fixed map of dbgi_key.path -> DebugInfo registered up front.
type MemDebugInfoService struct {
	mu    sync.RWMutex
	byKey map[string]DebugInfo
}

// NewMemDebugInfoService constructs an empty registry.
func NewMemDebugInfoService() *MemDebugInfoService {
	return &MemDebugInfoService{byKey: make(map[string]DebugInfo)}
}

// Register associates path with a DebugInfo so future RdiFromKey calls
// resolve it.
func (s *MemDebugInfoService) Register(path string, info DebugInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[path] = info
}

func (s *MemDebugInfoService) ScopeOpen() DebugInfoScope { return noopScope{} }

func (s *MemDebugInfoService) RdiFromKey(_ context.Context, _ DebugInfoScope, key domain.DbgiKey) DebugInfo {
	if key.Path == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byKey[key.Path]
}

// StaticDebugInfo is a tiny DebugInfo backed by a sorted list of line
// boundaries and a sorted list of procedure boundaries, enough to exercise
// the worker pipeline's annotation logic in tests.
type StaticDebugInfo struct {
	UnitPath   string
	LineAt     []LineBound // sorted by VOff ascending
	Procedures []ProcBound // sorted by Start ascending
}

// LineBound marks that line Line begins at virtual offset VOff.
type LineBound struct {
	VOff uint64
	Line int
}

// ProcBound names the procedure covering [Start, End).
type ProcBound struct {
	Start, End uint64
	Name       string
}

func (d *StaticDebugInfo) UnitAndLineAt(voff uint64) (Unit, int, bool) {
	if len(d.LineAt) == 0 {
		return Unit{}, 0, false
	}
	line := d.LineAt[0].Line
	found := false
	for _, lb := range d.LineAt {
		if lb.VOff > voff {
			break
		}
		line = lb.Line
		found = true
	}
	if !found {
		return Unit{}, 0, false
	}
	return Unit{Path: d.UnitPath}, line, true
}

func (d *StaticDebugInfo) ProcedureAt(voff uint64) (string, bool) {
	for _, p := range d.Procedures {
		if voff >= p.Start && voff < p.End {
			return p.Name, true
		}
	}
	return "", false
}

// MemTextService is a trivial in-process TextService backed by a map from
// fs-key to raw file text; lines are split on '\n'.
type MemTextService struct {
	mu    sync.RWMutex
	files map[string][]byte
	store *MemHashStore
}

// NewMemTextService constructs a text service that submits file bodies into
// store so its returned text hashes are fetchable like any other blob.
func NewMemTextService(store *MemHashStore) *MemTextService {
	return &MemTextService{files: make(map[string][]byte), store: store}
}

// PutFile registers path's full text.
func (s *MemTextService) PutFile(path string, text []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = text
}

func (s *MemTextService) ScopeOpen() TextScope { return noopScope{} }

func (s *MemTextService) FSKeyFromPath(path string) string { return path }

func (s *MemTextService) LangKindFromExtension(path string) Lang { return 0 }

func (s *MemTextService) TextInfoFromKeyLang(_ context.Context, _ TextScope, key string, _ Lang) (TextInfo, domain.ContentHash, bool) {
	s.mu.RLock()
	text, ok := s.files[key]
	s.mu.RUnlock()
	if !ok {
		return TextInfo{}, domain.ZeroHash, false
	}
	ranges := make([][2]uint64, 0, 16)
	start := uint64(0)
	for i, b := range text {
		if b == '\n' {
			ranges = append(ranges, [2]uint64{start, uint64(i)})
			start = uint64(i + 1)
		}
	}
	if start <= uint64(len(text)) {
		ranges = append(ranges, [2]uint64{start, uint64(len(text))})
	}
	h := s.store.Put(text)
	return TextInfo{LinesCount: len(ranges), LinesRanges: ranges}, h, true
}

// TextBytes fetches the raw bytes text service submitted for textHash; a
// convenience matching how a worker would fetch the hash store's copy of
// what the text service just produced.
func (s *MemTextService) TextBytes(scope HashScope, textHash domain.ContentHash) ([]byte, bool) {
	return s.store.DataFromHash(scope, textHash)
}
