package cache

// config.go defines Cache's functional options, following the same shape as
// the teacher's original config.go: a private config struct filled in by
// defaultConfig() and mutated by a list of Option values, validated once in
// applyOptions(). Unlike the teacher's cache, ours is not generic over K/V —
// identity and value types are fixed by the specification (ContentHash+
// Params -> Info) — so Option here is a plain function type.
//
// © 2025 disasm-cache authors. MIT License.

import (
	"errors"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Voskan/disasm-cache/internal/evictor"
	"github.com/Voskan/disasm-cache/internal/services"
	"github.com/Voskan/disasm-cache/internal/stripe"
)

// Option mutates a config during New.
type Option func(*config)

type config struct {
	slotsCount     int
	stripeHint     int
	arenaChunkSize datasize.ByteSize
	ringCapacity   datasize.ByteSize
	workerCount    int

	thresholds stripe.Thresholds

	textWaitTimeout  time.Duration
	textPollInterval time.Duration

	hashStore services.HashStore
	dbgi      services.DebugInfoService
	watcher   services.FileWatcher
	text      services.TextService

	logger   *zap.Logger
	registry *prometheus.Registry
}

func defaultConfig() *config {
	return &config{
		slotsCount:     1024,
		stripeHint:     0, // 0 -> min(slotsCount, NumCPU) at construction
		arenaChunkSize: 4 * datasize.KB,
		ringCapacity:   64 * datasize.KB,
		workerCount:    1,
		thresholds:     evictor.DefaultThresholds(),
		logger:         zap.NewNop(),
	}
}

// WithSlots overrides §4.1's slots_count (default 1024).
func WithSlots(n int) Option {
	return func(c *config) { c.slotsCount = n }
}

// WithStripes overrides the derived stripes_count (default
// min(slots_count, logical_cpu_count)).
func WithStripes(n int) Option {
	return func(c *config) { c.stripeHint = n }
}

// WithArenaChunkSize sets each stripe arena's chunk granularity.
func WithArenaChunkSize(size datasize.ByteSize) Option {
	return func(c *config) { c.arenaChunkSize = size }
}

// WithRingCapacity sets the U2P ring's fixed byte capacity (§3: "capacity
// >= 64 KiB").
func WithRingCapacity(size datasize.ByteSize) Option {
	return func(c *config) { c.ringCapacity = size }
}

// WithWorkerCount sets how many worker goroutines share the U2P ring and
// the collaborator Deps (§5: "one or more worker threads, nominally one").
func WithWorkerCount(n int) Option {
	return func(c *config) { c.workerCount = n }
}

// WithEvictThresholds overrides §4.5's eviction/re-enqueue thresholds —
// mainly useful for tests that want to accelerate eviction (§8 scenario 6).
func WithEvictThresholds(th stripe.Thresholds) Option {
	return func(c *config) { c.thresholds = th }
}

// WithTextWaitTimeout overrides how long the worker pool's line-annotation
// step polls the text service before giving up (§4.4/§9's bounded-wait
// resolution of the spec's otherwise-indefinite wait). Zero (the default)
// leaves the worker package's own default in effect.
func WithTextWaitTimeout(d time.Duration) Option {
	return func(c *config) { c.textWaitTimeout = d }
}

// WithTextPollInterval overrides the sleep between text-service polls
// within the WithTextWaitTimeout budget.
func WithTextPollInterval(d time.Duration) Option {
	return func(c *config) { c.textPollInterval = d }
}

// WithCollaborators wires the four external services §6 names. All four
// are required: New returns errMissingCollaborators if any is nil.
func WithCollaborators(hs services.HashStore, dbgi services.DebugInfoService, watcher services.FileWatcher, text services.TextService) Option {
	return func(c *config) {
		c.hashStore = hs
		c.dbgi = dbgi
		c.watcher = watcher
		c.text = text
	}
}

// WithLogger plugs an external zap.Logger; the cache only logs slow/rare
// events (malformed work orders, evictor re-enqueue counts at debug level),
// never the lookup hot path.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics collection. Passing nil disables
// metrics (the default): the cache then pays no cost for metric updates.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *config) { c.registry = reg }
}

func applyOptions(cfg *config, opts []Option) error {
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.slotsCount <= 0 {
		return errInvalidSlots
	}
	if cfg.workerCount <= 0 {
		return errInvalidWorkers
	}
	if cfg.hashStore == nil || cfg.dbgi == nil || cfg.watcher == nil || cfg.text == nil {
		return errMissingCollaborators
	}
	return nil
}

var (
	errInvalidSlots         = errors.New("cache: slots count must be > 0")
	errInvalidWorkers       = errors.New("cache: worker count must be > 0")
	errMissingCollaborators = errors.New("cache: hash store, debug-info service, file watcher and text service must all be supplied via WithCollaborators")
)

// evictSweepInterval is exposed for tests that want to wait out a handful
// of sweeps deterministically rather than guessing at a sleep duration.
const evictSweepInterval = 100 * time.Millisecond
