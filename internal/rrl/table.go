// Package rrl implements Response Rate Limiting: a fixed-size,
// lock-sharded hash table of token buckets keyed by (client prefix,
// qname, response class, zone), used to throttle repeated identical
// responses to a given source without punishing legitimate traffic
// sharing that prefix.
//
// The table is a simplified hopscotch-hashed open-addressing scheme: on
// a hash collision it does not displace other buckets looking for free
// space (the production knot-dns source does full neighborhood
// displacement); instead a colliding bucket is simply overwritten and
// enters slow-start, which then protects it from being overwritten
// again for one window. See DESIGN.md for the reasoning behind this
// reading of the eviction rule.
package rrl

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/dchest/siphash"

	"github.com/dnsscience/authcore/internal/dnserr"
	"github.com/dnsscience/authcore/internal/random"
)

// Window is the token-bucket refill window, in seconds.
const Window = 4

// SlipMax is the largest slip denominator accepted by SetSlip.
const SlipMax = 100

// Class is the caller-assigned response classification used as part of
// a bucket's identity, so e.g. a steady stream of legitimate NOERROR
// answers doesn't share a bucket (and therefore a rate budget) with a
// flood of NXDOMAIN queries for the same owner.
type Class uint8

const (
	ClassPositive Class = iota
	ClassNoData
	ClassNXDomain
	ClassEmpty
	ClassError
	ClassReferral
	ClassWildcard
	ClassAny
)

// Action is the admission decision Check returns.
type Action int

const (
	ActionAllow Action = iota
	ActionDrop
	ActionSlip
)

func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionDrop:
		return "drop"
	case ActionSlip:
		return "slip"
	default:
		return "unknown"
	}
}

type bucketState uint8

const (
	stateFree bucketState = iota
	stateWarm
	stateSlowStart
)

type bucket struct {
	state     bucketState
	netblk    uint64
	qnameHash uint64
	class     Class
	tokens    float64
	time      int64
}

// Config configures a new Table.
type Config struct {
	// Size is the fixed bucket count. The source recommends a prime
	// for better neighborhood distribution; this is not enforced.
	Size int

	// Rate is the steady-state queries/second budget per bucket.
	Rate uint32

	// Slip is the 1-in-N probabilistic-admission denominator applied
	// when the limiter would otherwise deny. 0 disables slip (always
	// deny); 1 always admits (monitoring mode); capped at SlipMax.
	Slip uint8

	// LockGranularity is the number of shard locks protecting the
	// bucket array. RRL_LOCK_GRANULARITY=32 in the source.
	LockGranularity int

	// HopWindow is the neighborhood scan width. RRL_CAPACITY in the
	// source names the WINDOW-seconds constant, not this; the hop
	// bitmap width is conventionally 32.
	HopWindow int
}

// DefaultConfig matches the source's RRL_LOCK_GRANULARITY=32 and
// RRL_CAPACITY-derived defaults.
func DefaultConfig() Config {
	return Config{
		Size:            10007, // a convenient prime
		Rate:            0,
		Slip:            2,
		LockGranularity: 32,
		HopWindow:       32,
	}
}

// Table is a sharded, concurrent RRL bucket table.
type Table struct {
	buckets  []bucket
	hopWindow int

	shardsMu sync.RWMutex // guards locks/lockCount during SetLockGranularity
	locks    []sync.Mutex
	lockCount int

	admin sync.Mutex // serializes SetRate/Reseed/SetLockGranularity

	keyMu sync.RWMutex
	key   [16]byte

	rateMu sync.RWMutex // guards rate (read far more often than written)
	rate   uint32

	slipMu sync.RWMutex
	slip   uint8

	allowed uint64
	dropped uint64
	slipped uint64
	statsMu sync.Mutex
}

// NewTable builds a Table per cfg, seeding its siphash key from
// crypto/rand.
func NewTable(cfg Config) (*Table, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("rrl: NewTable: size must be positive: %w", dnserr.ErrInvalidArgs)
	}
	if cfg.LockGranularity <= 0 {
		cfg.LockGranularity = 32
	}
	if cfg.HopWindow <= 0 {
		cfg.HopWindow = 32
	}
	if cfg.Slip > SlipMax {
		cfg.Slip = SlipMax
	}

	t := &Table{
		buckets:   make([]bucket, cfg.Size),
		hopWindow: cfg.HopWindow,
		locks:     make([]sync.Mutex, cfg.LockGranularity),
		lockCount: cfg.LockGranularity,
		rate:      cfg.Rate,
		slip:      cfg.Slip,
	}
	var keyBytes [16]byte
	copy(keyBytes[:], randomBytes(16))
	t.key = keyBytes
	return t, nil
}

func randomBytes(n int) []byte {
	out := make([]byte, n)
	for i := 0; i+4 <= n; i += 4 {
		binary.BigEndian.PutUint32(out[i:], random.Uint32())
	}
	return out
}

// Prefix extracts the RRL netblock from a client address: /24 for IPv4,
// /56 for IPv6.
func Prefix(addr net.IP) []byte {
	if v4 := addr.To4(); v4 != nil {
		return []byte{v4[0], v4[1], v4[2]}
	}
	v6 := addr.To16()
	if v6 == nil {
		return addr
	}
	return v6[:7]
}

func (t *Table) fingerprint(addr net.IP, qname string, wildcard bool) (netblk, qnameHash uint64) {
	t.keyMu.RLock()
	key := t.key
	t.keyMu.RUnlock()

	h := siphash.New(key[:])
	h.Write(Prefix(addr))
	netblk = h.Sum64()

	name := qname
	if wildcard {
		name = "*"
	}
	h2 := siphash.New(key[:])
	h2.Write([]byte(name))
	qnameHash = h2.Sum64()
	return netblk, qnameHash
}

// mix folds the bucket identity down to a table index, splitmix64-style.
// It does not need to be cryptographically strong: unpredictability
// already comes from the siphash-keyed netblk/qname inputs.
func mix(netblk, qnameHash uint64, class Class, zoneHash uint64) uint64 {
	x := netblk ^ (qnameHash + 0x9E3779B97F4A7C15)
	x ^= uint64(class) << 56
	x ^= zoneHash + 0xBF58476D1CE4E5B9
	x ^= x >> 30
	x *= 0xBF58476D1CE4E5B9
	x ^= x >> 27
	x *= 0x94D049BB133111EB
	x ^= x >> 31
	return x
}

func zoneHash(zone string) uint64 {
	var h uint64 = 1469598103934665603 // FNV-1a offset basis
	for i := 0; i < len(zone); i++ {
		h ^= uint64(zone[i])
		h *= 1099511628211
	}
	return h
}

// Check runs one admission decision: addr/qname/wildcard/class/zone
// identify the traffic, stamp is the current time as Unix seconds. The
// caller is responsible for classifying the response (positive,
// nxdomain, ...) before calling.
func (t *Table) Check(addr net.IP, qname string, wildcard bool, class Class, zone string, stamp int64) Action {
	netblk, qnameHash := t.fingerprint(addr, qname, wildcard)
	h := mix(netblk, qnameHash, class, zoneHash(zone)) % uint64(len(t.buckets))

	t.shardsMu.RLock()
	locks := t.locks
	lockCount := t.lockCount
	t.shardsMu.RUnlock()

	lock := &locks[h%uint64(lockCount)]
	lock.Lock()
	admitted := t.admitLocked(int(h), netblk, qnameHash, class, stamp)
	lock.Unlock()

	if admitted {
		t.recordAllow()
		return ActionAllow
	}
	if t.slipAdmit() {
		t.recordSlip()
		return ActionSlip
	}
	t.recordDrop()
	return ActionDrop
}

func (t *Table) admitLocked(h int, netblk, qnameHash uint64, class Class, stamp int64) bool {
	rate := t.currentRate()
	capacity := float64(rate) * Window

	window := t.hopWindow
	if window > len(t.buckets) {
		window = len(t.buckets)
	}
	for w := 0; w < window; w++ {
		idx := (h + w) % len(t.buckets)
		b := &t.buckets[idx]
		if b.state == stateFree {
			continue
		}
		if b.netblk == netblk && b.qnameHash == qnameHash && b.class == class {
			delta := stamp - b.time
			if delta < 0 {
				delta = 0
			}
			if b.state == stateSlowStart && delta >= Window {
				b.state = stateWarm
			}
			b.tokens = minF(capacity, b.tokens+float64(delta)*float64(rate))
			b.time = stamp
			if b.tokens < 1 {
				return false
			}
			b.tokens--
			return true
		}
	}

	home := &t.buckets[h]
	if home.state == stateFree {
		home.state = stateWarm
		home.netblk = netblk
		home.qnameHash = qnameHash
		home.class = class
		home.tokens = capacity - 1
		home.time = stamp
		return home.tokens >= 0
	}

	// home is occupied by a different identity: this is a collision.
	if home.state == stateSlowStart && stamp-home.time < Window {
		// The incumbent was evicted into this bucket less than one
		// window ago and is still protected: admit the intruder
		// without disturbing the incumbent's own accounting.
		return true
	}

	// Either the incumbent was never collided with (Warm) or its
	// protection window has lapsed: evict it for the new identity.
	// Slow-start grants a single token (spec §4.H), not a full bucket,
	// and the evicting request itself is admitted without charging it.
	home.netblk = netblk
	home.qnameHash = qnameHash
	home.class = class
	home.tokens = 1
	home.time = stamp
	home.state = stateSlowStart
	return true
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func (t *Table) slipAdmit() bool {
	n := t.currentSlip()
	if n == 0 {
		return false
	}
	if n == 1 {
		return true
	}
	return random.Uint32()%uint32(n) == 0
}

func (t *Table) currentRate() uint32 {
	t.rateMu.RLock()
	defer t.rateMu.RUnlock()
	return t.rate
}

func (t *Table) currentSlip() uint8 {
	t.slipMu.RLock()
	defer t.slipMu.RUnlock()
	return t.slip
}

func (t *Table) recordAllow() {
	t.statsMu.Lock()
	t.allowed++
	t.statsMu.Unlock()
}

func (t *Table) recordDrop() {
	t.statsMu.Lock()
	t.dropped++
	t.statsMu.Unlock()
}

func (t *Table) recordSlip() {
	t.statsMu.Lock()
	t.slipped++
	t.statsMu.Unlock()
}

// SetRate replaces the per-bucket queries/second budget, returning the
// previous value.
func (t *Table) SetRate(newRate uint32) uint32 {
	t.admin.Lock()
	defer t.admin.Unlock()

	t.rateMu.Lock()
	old := t.rate
	t.rate = newRate
	t.rateMu.Unlock()
	return old
}

// SetSlip replaces the slip denominator, clamped to [0, SlipMax].
func (t *Table) SetSlip(n uint8) uint8 {
	t.admin.Lock()
	defer t.admin.Unlock()

	if n > SlipMax {
		n = SlipMax
	}
	t.slipMu.Lock()
	old := t.slip
	t.slip = n
	t.slipMu.Unlock()
	return old
}

// Reseed replaces the siphash key used for bucket fingerprinting,
// without draining or resetting any existing bucket's accounting. This
// changes which bucket future queries for a given source land in, which
// is the point: it defeats an attacker who has inferred the current
// key/bucket mapping.
func (t *Table) Reseed() error {
	t.admin.Lock()
	defer t.admin.Unlock()

	var newKey [16]byte
	copy(newKey[:], randomBytes(16))

	t.keyMu.Lock()
	t.key = newKey
	t.keyMu.Unlock()
	return nil
}

// SetLockGranularity replaces the shard lock array with one of size n,
// waiting for every bucket currently being admitted under the old
// arrangement to finish first.
func (t *Table) SetLockGranularity(n int) error {
	if n <= 0 {
		return fmt.Errorf("rrl: SetLockGranularity: n must be positive: %w", dnserr.ErrInvalidArgs)
	}

	t.admin.Lock()
	defer t.admin.Unlock()

	t.shardsMu.Lock()
	defer t.shardsMu.Unlock()

	old := t.locks
	for i := range old {
		old[i].Lock()
		old[i].Unlock()
	}

	t.locks = make([]sync.Mutex, n)
	t.lockCount = n
	return nil
}

// Stats is a point-in-time snapshot of admission counters.
type Stats struct {
	Allowed  uint64
	Dropped  uint64
	Slipped  uint64
	DropRate float64
}

// Stats returns a snapshot of the table's admission counters.
func (t *Table) Stats() Stats {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()

	total := t.allowed + t.dropped + t.slipped
	var dropRate float64
	if total > 0 {
		dropRate = float64(t.dropped) / float64(total)
	}
	return Stats{
		Allowed:  t.allowed,
		Dropped:  t.dropped,
		Slipped:  t.slipped,
		DropRate: dropRate,
	}
}
