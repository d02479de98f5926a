package scancache

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/anstrom/scancache/internal/logging"
	"github.com/anstrom/scancache/internal/metrics"
)

// Cache limits and timing constants.
const (
	NumBuckets        = 64
	DefaultMaxEntries = 300
	DefaultAgingTime  = 30 * time.Second

	HiddenSSIDTime               = 60 * time.Second
	AdjacentChannelRSSIThreshold = -80
	RSSIAveragingTime            = 5 * time.Second
	MaxWCNLen                    = 255

	rssiLPFLen       = 10
	rssiEPMultiplier = 100
)

// Removal reasons reported to metrics and events.
const (
	ReasonAged    = "aged"
	ReasonEvicted = "evicted"
	ReasonFlushed = "flushed"
	ReasonMerged  = "merged"
	ReasonPruned  = "pruned"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Collector receives cache statistics for export. PrometheusMetrics
// implements it.
type Collector interface {
	SetCacheEntries(iface string, count int)
	IncrementInserts(iface string)
	IncrementMerges(iface string)
	AddRemovals(iface, reason string, count int)
	IncrementMalformedIEs(element string)
	IncrementAllocFailures(iface string)
	RecordCandidateQuery(iface string, count int, duration time.Duration)
}

// Options configures a Context.
type Options struct {
	MaxEntries int
	AgingTime  time.Duration
	Clock      Clock
	Logger     *logging.Logger
	Metrics    metrics.MetricsRegistry
	Collector  Collector
	Events     EventSink

	// AllocGuard, when set, is consulted before every entry allocation.
	// Returning false makes the allocation fail with CodeOutOfMemory.
	AllocGuard func() bool
}

func (o *Options) setDefaults() {
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	if o.AgingTime <= 0 {
		o.AgingTime = DefaultAgingTime
	}
	if o.Clock == nil {
		o.Clock = systemClock{}
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Default()
	}
}

// scanNode links one entry into a bucket. The bucket holds one reference for
// as long as the node is active; every walker holds one more.
type scanNode struct {
	entry  *Entry
	refcnt atomic.Int32
	active bool
}

// Context is the scan cache of one network interface.
type Context struct {
	iface string
	opts  Options
	log   *logging.Logger

	// ingestMu serializes Ingest so a lookup and the insert that follows
	// it cannot interleave with another ingest of the same BSS.
	ingestMu sync.Mutex

	mu         sync.Mutex
	buckets    [NumBuckets][]*scanNode
	numEntries int

	scoring *atomic.Pointer[ScoringConfig]
	matcher Matcher
	ieWarn  *rate.Limiter
}

// NewContext creates an empty cache for iface.
func NewContext(iface string, opts Options) *Context {
	opts.setDefaults()
	scoring := &atomic.Pointer[ScoringConfig]{}
	cfg := DefaultScoringConfig()
	scoring.Store(&cfg)
	return newContext(iface, opts, scoring)
}

func newContext(iface string, opts Options, scoring *atomic.Pointer[ScoringConfig]) *Context {
	c := &Context{
		iface:   iface,
		opts:    opts,
		log:     opts.Logger.WithComponent("scancache").WithInterface(iface),
		scoring: scoring,
		ieWarn:  rate.NewLimiter(rate.Every(time.Second), 5),
	}
	c.matcher = Matcher{OnMalformed: c.reportMalformed}
	return c
}

// Interface returns the interface name the cache belongs to.
func (c *Context) Interface() string {
	return c.iface
}

// NumEntries returns the number of linked entries, including inactive ones
// still pinned by a reader.
func (c *Context) NumEntries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.numEntries
}

// MaxEntries returns the capacity of the cache.
func (c *Context) MaxEntries() int {
	return c.opts.MaxEntries
}

// AgingTime returns the age after which entries are dropped.
func (c *Context) AgingTime() time.Duration {
	return c.opts.AgingTime
}

// ScoringConfig returns the scoring configuration currently in effect.
func (c *Context) ScoringConfig() ScoringConfig {
	return *c.scoring.Load()
}

// SetScoringConfig validates cfg and makes it the configuration for every
// context sharing this one's scoring state.
func (c *Context) SetScoringConfig(cfg ScoringConfig) {
	if cfg.Validate() {
		c.log.Warn("Scoring configuration adjusted during validation")
	}
	c.scoring.Store(&cfg)
}

func bucketFor(bssid BSSID) int {
	return int(bssid[len(bssid)-1]) % NumBuckets
}

func (c *Context) allocOK() bool {
	return c.opts.AllocGuard == nil || c.opts.AllocGuard()
}

// link appends e to its bucket with the bucket's reference.
func (c *Context) link(e *Entry) {
	c.insert(e, false)
}

// insert links e. With makeRoom the oldest bucket head is evicted while the
// cache is full; the check and the append share one critical section. A
// victim pinned by a reader stays linked until released, so the count may
// exceed the capacity until then. The evicted entries are returned.
func (c *Context) insert(e *Entry, makeRoom bool) []*Entry {
	n := &scanNode{entry: e, active: true}
	n.refcnt.Store(1)

	b := bucketFor(e.BSSID)
	var evicted []*Entry
	c.mu.Lock()
	for makeRoom {
		before := c.numEntries
		victim := c.evictOneIfFullLocked()
		if victim == nil {
			break
		}
		evicted = append(evicted, victim)
		if c.numEntries == before {
			break
		}
	}
	c.buckets[b] = append(c.buckets[b], n)
	c.numEntries++
	count := c.numEntries
	c.mu.Unlock()

	c.updateEntryGauge(count)
	return evicted
}

// evictOneIfFullLocked deletes the oldest of the first active nodes of each
// bucket when the cache is full. It returns the evicted entry, or nil when
// there is room or nothing is active.
func (c *Context) evictOneIfFullLocked() *Entry {
	if c.numEntries < c.opts.MaxEntries {
		return nil
	}
	var oldest *scanNode
	for b := range c.buckets {
		for _, n := range c.buckets[b] {
			if !n.active {
				continue
			}
			if oldest == nil || n.entry.ScanEntryTime.Before(oldest.entry.ScanEntryTime) {
				oldest = n
			}
			break
		}
	}
	if oldest == nil {
		return nil
	}
	c.deleteLocked(oldest)
	return oldest.entry
}

// nextValid returns the first active node after cur in bucket, or the first
// active node of the bucket when cur is nil. The returned node carries a
// reference for the caller and the reference on cur is dropped.
func (c *Context) nextValid(bucket int, cur *scanNode) *scanNode {
	c.mu.Lock()
	defer c.mu.Unlock()

	nodes := c.buckets[bucket]
	start := 0
	if cur != nil {
		start = slices.Index(nodes, cur) + 1
	}

	var next *scanNode
	for _, n := range nodes[start:] {
		if n.active {
			n.refcnt.Add(1)
			next = n
			break
		}
	}
	if cur != nil {
		c.putRefLocked(cur)
	}
	return next
}

// release drops the caller's reference on n. With deleteIfLast the node is
// also marked inactive and the bucket's reference dropped, so the node is
// unlinked as soon as no walker holds it.
func (c *Context) release(n *scanNode, deleteIfLast bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if deleteIfLast {
		c.deleteLocked(n)
	}
	c.putRefLocked(n)
}

// remove marks n inactive while the caller keeps its reference, so a walk can
// continue from n with nextValid.
func (c *Context) remove(n *scanNode) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteLocked(n)
}

func (c *Context) deleteLocked(n *scanNode) bool {
	if !n.active {
		return false
	}
	n.active = false
	c.putRefLocked(n)
	return true
}

func (c *Context) putRefLocked(n *scanNode) {
	if n.refcnt.Load() <= 0 {
		c.log.Error("Scan node reference underflow", "bssid", n.entry.BSSID.String())
		return
	}
	if n.refcnt.Add(-1) != 0 {
		return
	}
	b := bucketFor(n.entry.BSSID)
	if i := slices.Index(c.buckets[b], n); i >= 0 {
		c.buckets[b] = slices.Delete(c.buckets[b], i, i+1)
		c.numEntries--
	}
}

// walk visits every active node while fn returns true. fn may remove the
// node it is given.
func (c *Context) walk(fn func(n *scanNode) bool) {
	for b := 0; b < NumBuckets; b++ {
		n := c.nextValid(b, nil)
		for n != nil {
			if !fn(n) {
				c.release(n, false)
				return
			}
			n = c.nextValid(b, n)
		}
	}
}

func (c *Context) updateEntryGauge(count int) {
	c.opts.Metrics.Gauge(metrics.MetricCacheEntries, float64(count), metrics.Labels{
		metrics.LabelInterface: c.iface,
	})
	if c.opts.Collector != nil {
		c.opts.Collector.SetCacheEntries(c.iface, count)
	}
}

func (c *Context) allocFailed() {
	c.opts.Metrics.Counter(metrics.MetricCacheAllocFails, metrics.Labels{
		metrics.LabelInterface: c.iface,
	})
	if c.opts.Collector != nil {
		c.opts.Collector.IncrementAllocFailures(c.iface)
	}
}

func (c *Context) recordRemovals(reason string, count int, removed []*Entry) {
	if count == 0 {
		return
	}
	name := metrics.MetricCacheEvictions
	switch reason {
	case ReasonAged:
		name = metrics.MetricCacheAgedOut
	case ReasonFlushed, ReasonPruned:
		name = metrics.MetricCacheFlushed
	}
	labels := metrics.Labels{metrics.LabelInterface: c.iface, metrics.LabelReason: reason}
	for i := 0; i < count; i++ {
		c.opts.Metrics.Counter(name, labels)
	}
	if c.opts.Collector != nil {
		c.opts.Collector.AddRemovals(c.iface, reason, count)
	}
	c.updateEntryGauge(c.NumEntries())

	for _, e := range removed {
		c.emit(eventForRemoval(reason), e)
	}
}

// reportMalformed is the matcher hook for elements that fail to parse.
func (c *Context) reportMalformed(element string, bssid BSSID, err error) {
	c.opts.Metrics.Counter(metrics.MetricMalformedIEs, metrics.Labels{
		metrics.LabelInterface: c.iface,
		metrics.LabelElement:   element,
	})
	if c.opts.Collector != nil {
		c.opts.Collector.IncrementMalformedIEs(element)
	}
	if c.ieWarn.Allow() {
		c.log.WithBSSID(bssid.String()).WithError(err).Warn("Malformed information element",
			"element", element)
	}
}
