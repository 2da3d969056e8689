// Package worker implements §4.4's pipeline: the loop that turns a work
// order into a published Info by composing the external collaborators
// (hash store, debug-info service, text service, file watcher) the core
// treats as opaque.
//
// © 2025 disasm-cache authors. MIT License.
package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Voskan/disasm-cache/internal/arena"
	"github.com/Voskan/disasm-cache/internal/decode"
	"github.com/Voskan/disasm-cache/internal/domain"
	"github.com/Voskan/disasm-cache/internal/instbuf"
	"github.com/Voskan/disasm-cache/internal/ring"
	"github.com/Voskan/disasm-cache/internal/services"
	"github.com/Voskan/disasm-cache/internal/stripe"
	"github.com/Voskan/disasm-cache/internal/workorder"
)

// defaultTextWaitBound/defaultTextPollInterval are the fallback values for
// Deps.TextWaitBound/TextPollInterval when left zero. §9's open question
// flags the literal spec language (an unbounded MAX_U64 wait) as a
// starvation pathology; this resolves it the way the note itself suggests,
// while still letting a caller override the budget via
// pkg.WithTextWaitTimeout/WithTextPollInterval.
const defaultTextWaitBound = 50 * time.Millisecond
const defaultTextPollInterval = 5 * time.Millisecond

// Hooks lets the owning cache observe pipeline events for metrics.
type Hooks struct {
	OnPublished func()
	OnAbandoned func()
	OnDequeued  func()
}

// Deps bundles every collaborator a worker needs; one Deps is shared by
// every worker goroutine in the pool.
type Deps struct {
	Index     *stripe.Index
	Ring      *ring.Ring
	HashStore services.HashStore
	Dbgi      services.DebugInfoService
	Watcher   services.FileWatcher
	Text      services.TextService
	Logger    *zap.Logger
	Hooks     Hooks
	NowUs     func() int64

	// TextWaitBound/TextPollInterval override the bounded wait
	// fetchLineText applies when polling the text service; zero means use
	// the package defaults.
	TextWaitBound    time.Duration
	TextPollInterval time.Duration
}

// Worker runs one pipeline loop. Multiple Workers may share one Deps.
type Worker struct {
	d Deps
}

// New constructs a Worker. A nil Logger is replaced with a no-op logger.
func New(d Deps) *Worker {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.NowUs == nil {
		d.NowUs = func() int64 { return time.Now().UnixMicro() }
	}
	if d.TextWaitBound <= 0 {
		d.TextWaitBound = defaultTextWaitBound
	}
	if d.TextPollInterval <= 0 {
		d.TextPollInterval = defaultTextPollInterval
	}
	return &Worker{d: d}
}

// Run loops until ctx is cancelled. Per §5 the protocol's own dequeue is
// uncancellable; cooperative shutdown is layered on top by polling the
// ring with a short deadline rather than NoDeadline, purely so a worker
// goroutine can be stopped without leaking.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		raw, ok := w.d.Ring.Dequeue(time.Now().Add(200 * time.Millisecond))
		if !ok {
			continue
		}
		w.handle(ctx, raw)
	}
}

func (w *Worker) handle(ctx context.Context, raw []byte) {
	scratch := arena.New(0)
	defer scratch.Free()

	order, err := workorder.Decode(raw, scratch)
	if err != nil {
		w.d.Logger.Warn("dropped malformed work order", zap.Error(err))
		return
	}
	if w.d.Hooks.OnDequeued != nil {
		w.d.Hooks.OnDequeued()
	}

	changeGenSnapshot := w.d.Watcher.ChangeGen()

	hashScope := w.d.HashStore.ScopeOpen()
	dbgiScope := w.d.Dbgi.ScopeOpen()
	textScope := w.d.Text.ScopeOpen()
	defer hashScope.Close()
	defer dbgiScope.Close()
	defer textScope.Close()

	node, got := w.d.Index.Claim(order.Hash, order.Params)
	if !got {
		if w.d.Hooks.OnAbandoned != nil {
			w.d.Hooks.OnAbandoned()
		}
		return
	}
	_ = node // identity only; all further mutation goes through idx.Publish

	var rdi services.DebugInfo
	if order.Params.Dbgi.Path != "" {
		rdi = w.d.Dbgi.RdiFromKey(ctx, dbgiScope, order.Params.Dbgi)
	}

	data, _ := w.d.HashStore.DataFromHash(hashScope, order.Hash)

	info, infoArena := w.decodeAll(ctx, textScope, order.Hash, order.Params, rdi, data)

	publishGen := uint64(0)
	wantsSource := order.Params.Style.Has(domain.StyleSourceFilesNames) || order.Params.Style.Has(domain.StyleSourceLines)
	if wantsSource && rdi != nil {
		publishGen = changeGenSnapshot
	}

	w.d.Index.Publish(order.Hash, order.Params, infoArena, info, publishGen)
	if w.d.Hooks.OnPublished != nil {
		w.d.Hooks.OnPublished()
	}
}

// decodeAll runs §4.4 step 7-8: the decode loop, source annotation, and
// text-blob assembly/submission.
func (w *Worker) decodeAll(ctx context.Context, textScope services.TextScope, hash domain.ContentHash, params domain.Params, rdi services.DebugInfo, data []byte) (domain.Info, *arena.Arena) {
	insts := instbuf.New()
	var parts []string
	textLen := 0

	stream := decode.NewStream(params.Arch, params.Syntax, nil)

	prevFile := ""
	haveFile := false
	prevLine := -1

	off := 0
	for off < len(data) {
		d, _ := stream.Next(data, off, params.VAddr+uint64(off))
		if d.Size == 0 {
			break
		}

		if params.Style.Has(domain.StyleSourceFilesNames) || params.Style.Has(domain.StyleSourceLines) {
			if rdi != nil {
				voff := (params.VAddr + uint64(off)) - params.BaseVAddr
				if unit, line, ok := rdi.UnitAndLineAt(voff); ok {
					if params.Style.Has(domain.StyleSourceFilesNames) && (!haveFile || unit.Path != prevFile) {
						text := "> " + normalizePath(unit.Path)
						if unit.Path == "" {
							text = ">"
						}
						appendPseudo(insts, &parts, &textLen, text)
						prevFile = unit.Path
						haveFile = true
					}
					if params.Style.Has(domain.StyleSourceLines) && line != prevLine {
						if lineText, ok := w.fetchLineText(ctx, textScope, unit.Path, line); ok && lineText != "" {
							appendPseudo(insts, &parts, &textLen, "> "+lineText)
						}
						prevLine = line
					}
				}
			}
		}

		text := w.renderInstruction(d, params, off, data, rdi)
		insts.Append(domain.Inst{
			CodeOff:      uint64(off),
			JumpDstVAddr: d.JumpVAddr,
			TextStart:    uint32(textLen),
			TextEnd:      uint32(textLen + len(text)),
		})
		parts = append(parts, text)
		textLen += len(text) + 1 // +1 for the "\n" separator

		off += d.Size
	}

	joined := strings.Join(parts, "\n")
	key := fmt.Sprintf("DASM:%s:%d:%d:%d:%d:%p", hash.String(), params.VAddr, params.Arch, params.Style, params.Syntax, rdi)
	textHash := w.d.HashStore.SubmitData(key, []byte(joined))

	infoArena := arena.New(0)
	return domain.Info{TextKey: textHash, Insts: insts.Flatten(infoArena)}, infoArena
}

func appendPseudo(insts *instbuf.List, parts *[]string, textLen *int, text string) {
	insts.Append(domain.Inst{
		CodeOff:   0,
		TextStart: uint32(*textLen),
		TextEnd:   uint32(*textLen + len(text)),
	})
	*parts = append(*parts, text)
	*textLen += len(text) + 1
}

// renderInstruction assembles §4.4 step 8's column order: Addresses,
// CodeBytes, the decoder's own text, SymbolNames.
func (w *Worker) renderInstruction(d decode.Decoded, params domain.Params, off int, data []byte, rdi services.DebugInfo) string {
	var b strings.Builder
	if params.Style.Has(domain.StyleAddresses) {
		indent := ""
		if rdi != nil {
			indent = "  "
		}
		fmt.Fprintf(&b, "%s  %016X  ", indent, params.VAddr+uint64(off))
	}
	if params.Style.Has(domain.StyleCodeBytes) {
		end := off + d.Size
		if end > len(data) {
			end = len(data)
		}
		writeCodeBytes(&b, data[off:end])
	}
	b.WriteString(d.Text)
	if params.Style.Has(domain.StyleSymbolNames) && d.HasJump && rdi != nil {
		if name, ok := rdi.ProcedureAt(d.JumpVAddr - params.BaseVAddr); ok {
			fmt.Fprintf(&b, " (%s)", name)
		}
	}
	return b.String()
}

// writeCodeBytes renders raw as "{hh hh … hh} " (braces included) padded to
// 16 columns, per §4.4 step 8's CodeBytes column.
func writeCodeBytes(b *strings.Builder, raw []byte) {
	b.WriteByte('{')
	col := 1
	for i, by := range raw {
		if i > 0 {
			b.WriteByte(' ')
			col++
		}
		fmt.Fprintf(b, "%02x", by)
		col += 2
	}
	b.WriteString("} ")
	col += 2
	for col < 16 {
		b.WriteByte(' ')
		col++
	}
}

func normalizePath(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// fetchLineText polls the text service for a non-zero text hash (bounded —
// see Deps.TextWaitBound), then extracts and trims the requested line.
func (w *Worker) fetchLineText(ctx context.Context, scope services.TextScope, path string, line int) (string, bool) {
	if path == "" || line < 0 {
		return "", false
	}
	key := w.d.Text.FSKeyFromPath(path)
	lang := w.d.Text.LangKindFromExtension(path)

	deadline := time.Now().Add(w.d.TextWaitBound)
	for {
		info, textHash, ok := w.d.Text.TextInfoFromKeyLang(ctx, scope, key, lang)
		if ok && !textHash.IsZero() {
			if line >= info.LinesCount {
				return "", false
			}
			rng := info.LinesRanges[line]
			hashScope := w.d.HashStore.ScopeOpen()
			defer hashScope.Close()
			raw, ok := w.d.HashStore.DataFromHash(hashScope, textHash)
			if !ok || rng[1] > uint64(len(raw)) {
				return "", false
			}
			return strings.TrimSpace(string(raw[rng[0]:rng[1]])), true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return "", false
		}
		time.Sleep(w.d.TextPollInterval)
	}
}
