package cache

import (
	"testing"
	"time"

	"github.com/miekg/dns"
)

func packedAnswer(t *testing.T, qname string, qtype uint16) []byte {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion(qname, qtype)
	m.Response = true
	wire, err := m.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	return wire
}

func TestGetMissOnEmptyCache(t *testing.T) {
	c := NewShardedCache(Config{})
	defer c.Close()

	if _, ok := c.Get(1); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestSetThenGetHits(t *testing.T) {
	c := NewShardedCache(Config{})
	defer c.Close()

	entry := &Entry{
		Data:      packedAnswer(t, "example.com.", dns.TypeA),
		ExpiresAt: time.Now().Add(time.Hour),
		QName:     "example.com.",
		QType:     dns.TypeA,
		QClass:    dns.ClassINET,
	}
	c.Set(42, entry)

	got, ok := c.Get(42)
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Hits.Load() != 1 {
		t.Errorf("Hits = %d, want 1", got.Hits.Load())
	}
}

func TestExpiredEntryIsMissWithoutServeStale(t *testing.T) {
	c := NewShardedCache(Config{})
	defer c.Close()

	entry := &Entry{
		Data:      packedAnswer(t, "example.com.", dns.TypeA),
		ExpiresAt: time.Now().Add(-time.Second),
	}
	c.Set(7, entry)

	if _, ok := c.Get(7); ok {
		t.Fatal("expired entry should miss when serve-stale is disabled")
	}
}

func TestExpiredEntryServedWithinStaleWindow(t *testing.T) {
	c := NewShardedCache(Config{ServeStale: true, MaxStaleTTL: time.Minute})
	defer c.Close()

	entry := &Entry{
		Data:      packedAnswer(t, "example.com.", dns.TypeA),
		ExpiresAt: time.Now().Add(-time.Second),
	}
	c.Set(7, entry)

	if _, ok := c.Get(7); !ok {
		t.Fatal("expected stale entry to be served within MaxStaleTTL")
	}
}

func TestExpiredEntryMissBeyondStaleWindow(t *testing.T) {
	c := NewShardedCache(Config{ServeStale: true, MaxStaleTTL: time.Millisecond})
	defer c.Close()

	entry := &Entry{
		Data:      packedAnswer(t, "example.com.", dns.TypeA),
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	c.Set(7, entry)

	if _, ok := c.Get(7); ok {
		t.Fatal("entry well beyond MaxStaleTTL must not be served")
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	c := NewShardedCache(Config{})
	defer c.Close()

	c.Set(1, &Entry{Data: packedAnswer(t, "a.com.", dns.TypeA), ExpiresAt: time.Now().Add(time.Hour)})
	c.Delete(1)

	if _, ok := c.Get(1); ok {
		t.Fatal("expected miss after Delete")
	}
}

func TestFlushClearsEveryShard(t *testing.T) {
	c := NewShardedCache(Config{ShardCount: 4})
	defer c.Close()

	for i := uint64(0); i < 100; i++ {
		c.Set(i, &Entry{Data: packedAnswer(t, "a.com.", dns.TypeA), ExpiresAt: time.Now().Add(time.Hour)})
	}
	c.Flush()

	stats := c.GetStats()
	if stats.Size != 0 {
		t.Errorf("Size after Flush = %d, want 0", stats.Size)
	}
}

func TestEvictionWhenShardFull(t *testing.T) {
	c := NewShardedCache(Config{MaxEntries: 4, ShardCount: 1})
	defer c.Close()

	base := time.Now()
	for i := uint64(0); i < 5; i++ {
		c.Set(i, &Entry{
			Data:      packedAnswer(t, "a.com.", dns.TypeA),
			ExpiresAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	stats := c.GetStats()
	if stats.Size != 4 {
		t.Errorf("Size = %d, want 4 (one eviction)", stats.Size)
	}
	if stats.Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", stats.Evictions)
	}
	// The entry with the earliest ExpiresAt (hash 0) was evicted.
	if _, ok := c.Get(0); ok {
		t.Error("expected the oldest entry to have been evicted")
	}
}

func TestGetStatsByTypeBreaksDownByQType(t *testing.T) {
	c := NewShardedCache(Config{})
	defer c.Close()

	c.Set(1, &Entry{Data: packedAnswer(t, "a.com.", dns.TypeA), ExpiresAt: time.Now().Add(time.Hour), QType: dns.TypeA})
	c.Set(2, &Entry{Data: packedAnswer(t, "b.com.", dns.TypeA), ExpiresAt: time.Now().Add(time.Hour), QType: dns.TypeA})
	c.Set(3, &Entry{Data: packedAnswer(t, "c.com.", dns.TypeAAAA), ExpiresAt: time.Now().Add(time.Hour), QType: dns.TypeAAAA})

	stats := c.GetStats()
	if stats.ByType[dns.TypeA] != 2 {
		t.Errorf("ByType[A] = %d, want 2", stats.ByType[dns.TypeA])
	}
	if stats.ByType[dns.TypeAAAA] != 1 {
		t.Errorf("ByType[AAAA] = %d, want 1", stats.ByType[dns.TypeAAAA])
	}
}

func TestGetStatsHitRate(t *testing.T) {
	c := NewShardedCache(Config{})
	defer c.Close()

	c.Set(1, &Entry{Data: packedAnswer(t, "a.com.", dns.TypeA), ExpiresAt: time.Now().Add(time.Hour)})
	c.Get(1)
	c.Get(999)

	stats := c.GetStats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Hits=%d Misses=%d, want 1,1", stats.Hits, stats.Misses)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("HitRate = %f, want 0.5", stats.HitRate)
	}
}

func TestShardCountRoundsUpToPowerOfTwo(t *testing.T) {
	c := NewShardedCache(Config{ShardCount: 5})
	defer c.Close()

	if c.shardCount != 8 {
		t.Errorf("shardCount = %d, want 8 (rounded up from 5)", c.shardCount)
	}
}
