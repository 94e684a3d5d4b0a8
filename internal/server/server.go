package server

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dnsscience/authcore/internal/cache"
	"github.com/dnsscience/authcore/internal/cookie"
	"github.com/dnsscience/authcore/internal/engine"
	"github.com/dnsscience/authcore/internal/eventbus"
	"github.com/dnsscience/authcore/internal/metrics"
	"github.com/dnsscience/authcore/internal/packet"
	"github.com/dnsscience/authcore/internal/pool"
	"github.com/dnsscience/authcore/internal/rrl"
	"github.com/dnsscience/authcore/internal/transport"
	"github.com/dnsscience/authcore/internal/worker"
	"github.com/dnsscience/authcore/internal/zone"
	"github.com/miekg/dns"
)

// Config holds DNS server configuration
type Config struct {
	// Listen addresses
	UDPAddr string
	TCPAddr string

	// Number of UDP listeners (SO_REUSEPORT)
	// Set to runtime.NumCPU() for maximum performance
	UDPListeners int

	// Enable authoritative server
	EnableAuthoritative bool
	Zones               map[string]*zone.Zone

	// Security features
	EnableCookies bool
	CookieConfig  cookie.Config

	EnableRRL bool
	RRLConfig rrl.Config

	// ACL gates which clients may query at all, evaluated before RRL
	// (which only shapes the rate of already-accepted traffic).
	EnableACL    bool
	ACLDefault   bool // default-allow when true, default-deny when false
	ACLAllowNets []string
	ACLDenyNets  []string

	// Per-client QPS limiter, distinct from RRL: RRL shapes the rate of
	// *responses* of a given shape, this caps raw query volume per IP.
	EnableQPSLimit   bool
	QPSLimiterConfig engine.RateLimiterConfig

	// Answer cache avoids re-walking a zone's record set for repeated
	// identical queries. Keyed on qname+qtype+qclass, not on the zone
	// serial, so it's flushed whenever a zone is (re)loaded.
	EnableAnswerCache bool
	AnswerCacheConfig cache.Config
	AnswerCacheTTL    time.Duration

	// Query handling is bounded by a fixed worker pool so a burst of
	// SO_REUSEPORT/TCP traffic can't run an unbounded number of answers
	// at once.
	WorkerConfig worker.Config

	// Alternate transports (RFC 8484 DoH, RFC 7858 DoT). Both require a
	// TLS certificate, so they're off unless explicitly configured.
	EnableDoH bool
	DoHConfig transport.DoHConfig
	EnableDoT bool
	DoTConfig transport.DoTConfig

	// Performance tuning
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration // TCP only

	// UDP buffer sizes
	UDPReadBuffer  int
	UDPWriteBuffer int

	// JournalDir, when non-empty, is a directory this server writes a
	// portable journal snapshot (internal/journal, via internal/zone's
	// conversion layer) to every time a zone is loaded or added. A zone
	// can be restored from such a snapshot with LoadZoneFromJournal
	// without needing the original zone file.
	JournalDir string
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		UDPAddr:      ":53",
		TCPAddr:      ":53",
		UDPListeners: runtime.NumCPU(),

		EnableAuthoritative: true,
		Zones:               make(map[string]*zone.Zone),

		EnableCookies: true,
		CookieConfig: cookie.Config{
			Enabled: true,
		},

		EnableRRL: true,
		RRLConfig: rrl.DefaultConfig(),

		EnableACL:  false,
		ACLDefault: true,

		EnableQPSLimit:   true,
		QPSLimiterConfig: engine.DefaultRateLimiterConfig(),

		EnableAnswerCache: true,
		AnswerCacheConfig: cache.Config{},
		AnswerCacheTTL:    2 * time.Second,

		WorkerConfig: worker.Config{
			Workers:   runtime.NumCPU() * 4,
			QueueSize: runtime.NumCPU() * 4 * 100,
		},

		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,

		UDPReadBuffer:  8 * 1024 * 1024, // 8MB
		UDPWriteBuffer: 8 * 1024 * 1024, // 8MB
	}
}

// Server is the main DNS server. It only answers authoritatively: there
// is no recursive or forwarding path.
type Server struct {
	cfg Config

	// Components
	cookies     *cookie.Manager
	rrl         *rrl.Table
	acl         *engine.ACL
	qpsLimiter  *engine.RateLimiter
	rpz         *engine.RPZAggregate
	answerCache *cache.ShardedCache
	pool        *worker.Pool
	events      *eventbus.Bus

	// Alternate transports, started only when enabled in Config.
	doh *transport.DoHListener
	dot *transport.DoTListener

	// DNS servers (one per listener for SO_REUSEPORT)
	udpServers []*dns.Server
	tcpServer  *dns.Server

	// Statistics
	queries  atomic.Uint64
	answers  atomic.Uint64
	errors   atomic.Uint64
	nxdomain atomic.Uint64

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new DNS server
func New(cfg Config) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		pool:   worker.NewPool(cfg.WorkerConfig),
		events: eventbus.New(64),
		rpz:    engine.NewRPZAggregate(),
	}

	// Initialize cookies if enabled
	if cfg.EnableCookies {
		var err error
		s.cookies, err = cookie.NewManager(cfg.CookieConfig)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("init cookies: %w", err)
		}
		go s.cookies.RotateSecretPeriodically(ctx.Done())
	}

	if cfg.EnableACL {
		s.acl = engine.NewACL(cfg.ACLDefault)
		for _, cidr := range cfg.ACLAllowNets {
			if err := s.acl.AllowNet(cidr); err != nil {
				cancel()
				return nil, fmt.Errorf("init ACL allow %s: %w", cidr, err)
			}
		}
		for _, cidr := range cfg.ACLDenyNets {
			if err := s.acl.DenyNet(cidr); err != nil {
				cancel()
				return nil, fmt.Errorf("init ACL deny %s: %w", cidr, err)
			}
		}
	}

	if cfg.EnableQPSLimit {
		s.qpsLimiter = engine.NewRateLimiter(cfg.QPSLimiterConfig)
	}

	if cfg.EnableAnswerCache {
		s.answerCache = cache.NewShardedCache(cfg.AnswerCacheConfig)
	}

	// Initialize RRL if enabled
	if cfg.EnableRRL {
		var err error
		s.rrl, err = rrl.NewTable(cfg.RRLConfig)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("init rrl: %w", err)
		}
	}

	if cfg.EnableDoH {
		var err error
		s.doh, err = transport.NewDoHListener(cfg.DoHConfig, transport.HandlerFunc(s.HandleDNS))
		if err != nil {
			cancel()
			return nil, fmt.Errorf("init DoH listener: %w", err)
		}
	}

	if cfg.EnableDoT {
		var err error
		s.dot, err = transport.NewDoTListener(cfg.DoTConfig, transport.HandlerFunc(s.HandleDNS))
		if err != nil {
			cancel()
			return nil, fmt.Errorf("init DoT listener: %w", err)
		}
	}

	// Create UDP servers (SO_REUSEPORT)
	for i := 0; i < cfg.UDPListeners; i++ {
		udpServer := &dns.Server{
			Addr:      cfg.UDPAddr,
			Net:       "udp",
			ReusePort: true, // SO_REUSEPORT magic!
			Handler:   dns.HandlerFunc(s.handleDNS),

			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,

			UDPSize: 4096,
		}

		s.udpServers = append(s.udpServers, udpServer)
	}

	// Create TCP server
	s.tcpServer = &dns.Server{
		Addr:    cfg.TCPAddr,
		Net:     "tcp",
		Handler: dns.HandlerFunc(s.handleDNS),

		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start starts all DNS listeners
func (s *Server) Start() error {
	// Start UDP listeners (SO_REUSEPORT)
	for i, udpServer := range s.udpServers {
		i := i
		udpServer := udpServer

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()

			fmt.Printf("UDP listener %d started on %s (SO_REUSEPORT)\n", i, s.cfg.UDPAddr)

			if err := udpServer.ListenAndServe(); err != nil {
				fmt.Printf("UDP listener %d error: %v\n", i, err)
			}
		}()
	}

	// Start TCP listener
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		fmt.Printf("TCP listener started on %s\n", s.cfg.TCPAddr)

		if err := s.tcpServer.ListenAndServe(); err != nil {
			fmt.Printf("TCP listener error: %v\n", err)
		}
	}()

	if s.doh != nil {
		if err := s.doh.Start(); err != nil {
			return fmt.Errorf("start DoH listener: %w", err)
		}
		fmt.Printf("DoH listener started on %s\n", s.cfg.DoHConfig.Address)
	}

	if s.dot != nil {
		if err := s.dot.Start(); err != nil {
			return fmt.Errorf("start DoT listener: %w", err)
		}
		fmt.Printf("DoT listener started on %s\n", s.cfg.DoTConfig.Address)
	}

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	fmt.Println("Shutting down DNS server...")

	// Cancel context
	s.cancel()

	// Shutdown all UDP servers
	for i, udpServer := range s.udpServers {
		if err := udpServer.Shutdown(); err != nil {
			fmt.Printf("Error shutting down UDP listener %d: %v\n", i, err)
		}
	}

	// Shutdown TCP server
	if err := s.tcpServer.Shutdown(); err != nil {
		fmt.Printf("Error shutting down TCP listener: %v\n", err)
	}

	if s.doh != nil {
		if err := s.doh.Stop(); err != nil {
			fmt.Printf("Error shutting down DoH listener: %v\n", err)
		}
	}
	if s.dot != nil {
		if err := s.dot.Stop(); err != nil {
			fmt.Printf("Error shutting down DoT listener: %v\n", err)
		}
	}

	// Wait for all goroutines
	s.wg.Wait()

	s.pool.Close()
	if s.answerCache != nil {
		s.answerCache.Close()
	}

	fmt.Println("DNS server stopped")
	return nil
}

// Events returns a subscriber for server lifecycle notifications (zone
// loads, reloads and removals) on the given topic.
func (s *Server) Events(ctx context.Context, topic eventbus.Topic) *eventbus.Subscriber {
	return s.events.Subscribe(ctx, topic)
}

// HandleDNS answers a single DNS query out-of-band from the UDP/TCP
// listeners, for transports (DoH, DoT) that hand the server one message
// at a time instead of a net.Conn. The query is run through the same
// bounded worker pool as the socket listeners so a burst of HTTP/TLS
// connections can't outrun it.
func (s *Server) HandleDNS(ctx context.Context, r *dns.Msg) (*dns.Msg, error) {
	clientIP := transport.ClientIPFromContext(ctx)
	transportLabel := transport.LabelFromContext(ctx, "https")

	resultCh := make(chan *dns.Msg, 1)
	job := worker.JobFunc(func(ctx context.Context) error {
		resultCh <- s.answer(r, clientIP, transportLabel)
		return nil
	})

	if err := s.pool.Submit(ctx, job); err != nil {
		return nil, err
	}

	select {
	case resp := <-resultCh:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleDNS is the main DNS query handler for the UDP/TCP listeners.
func (s *Server) handleDNS(w dns.ResponseWriter, r *dns.Msg) {
	var clientIP net.IP
	transportLabel := "udp"
	if addr, ok := w.RemoteAddr().(*net.UDPAddr); ok {
		clientIP = addr.IP
	} else if addr, ok := w.RemoteAddr().(*net.TCPAddr); ok {
		clientIP = addr.IP
		transportLabel = "tcp"
	}

	resultCh := make(chan *dns.Msg, 1)
	job := worker.JobFunc(func(ctx context.Context) error {
		resultCh <- s.answer(r, clientIP, transportLabel)
		return nil
	})
	if err := s.pool.Submit(s.ctx, job); err != nil {
		return
	}

	m := <-resultCh
	if m == nil {
		// The query was dropped (RRL, QPS limit or RPZ drop): no reply
		// goes out at all.
		return
	}
	defer pool.PutMessage(m)
	w.WriteMsg(m)
}

// answer builds the reply to r, applying cookie validation, the
// authoritative zone lookup and rate limiting. It returns nil when the
// query should be silently dropped (RRL drop action, per-client QPS
// limit, or RPZ drop action); callers that
// write the result to a net.Conn must check for that before writing.
func (s *Server) answer(r *dns.Msg, clientIP net.IP, transportLabel string) (m *dns.Msg) {
	s.queries.Add(1)
	metrics.QueriesTotal.WithLabelValues(transportLabel).Inc()

	defer metrics.ObserveDuration(time.Now())
	defer func() {
		if m != nil {
			metrics.AnswersTotal.WithLabelValues(dns.RcodeToString[m.Rcode]).Inc()
		}
	}()

	// Create response message
	m = pool.GetMessage()

	m.SetReply(r)
	m.Compress = true
	m.RecursionAvailable = false

	// Validate query
	if len(r.Question) == 0 {
		m.Rcode = dns.RcodeFormatError
		s.errors.Add(1)
		return m
	}

	// ACL gates whether the client may query at all; QPS limiting caps
	// how often an already-accepted client may do so. Both run ahead of
	// RRL, which only shapes the rate of responses of a given shape.
	if s.acl != nil && clientIP != nil && !s.acl.IsAllowed(clientIP) {
		m.Rcode = dns.RcodeRefused
		s.errors.Add(1)
		return m
	}
	if s.qpsLimiter != nil && clientIP != nil && !s.qpsLimiter.Allow(clientIP) {
		metrics.QPSLimiterRejectionsTotal.Inc()
		pool.PutMessage(m)
		return nil
	}

	// Response Policy Zones: block, rewrite or drop before spending any
	// time on zone lookup or rate limiting.
	if rule, action := s.rpz.Check(r.Question[0].Name); action != engine.RPZActionNone && action != engine.RPZActionPassthru {
		if action == engine.RPZActionDrop {
			pool.PutMessage(m)
			return nil
		}
		s.applyRPZAction(m, rule, action)
		s.answers.Add(1)
		if m.Rcode == dns.RcodeNameError {
			s.nxdomain.Add(1)
		}
		return m
	}

	// Check DNS cookies if enabled. Extraction and validation both go
	// through internal/cookie's own exported helpers rather than
	// re-parsing the EDNS0 option inline, so the package's ParseCookie
	// and ValidateQueryCookie are the one place that format lives.
	if s.cfg.EnableCookies && s.cookies != nil {
		var clientCookie [8]byte
		var serverCookie []byte

		if opt := r.IsEdns0(); opt != nil {
			for _, option := range opt.Option {
				if edns0Cookie, ok := option.(*dns.EDNS0_COOKIE); ok {
					if cc, sc, err := cookie.ParseCookie([]byte(edns0Cookie.Cookie)); err == nil {
						clientCookie = cc
						serverCookie = sc
					}
					break
				}
			}
		}

		if badCookie, _ := s.cookies.ValidateQueryCookie(clientCookie, serverCookie, clientIP); badCookie {
			m.Rcode = dns.RcodeBadCookie

			newServerCookie, _ := s.cookies.GenerateServerCookie(clientCookie, clientIP)
			s.addCookieToResponse(m, clientCookie, newServerCookie[:])

			s.errors.Add(1)
			return m
		}

		if clientCookie != [8]byte{} {
			newServerCookie, _ := s.cookies.GenerateServerCookie(clientCookie, clientIP)
			s.addCookieToResponse(m, clientCookie, newServerCookie[:])
		}
	}

	// Authoritative lookup
	if s.cfg.EnableAuthoritative {
		question := r.Question[0]

		var cacheKey uint64
		if s.answerCache != nil {
			cacheKey = packet.HashQuery(question.Name, question.Qtype, question.Qclass)
			if entry, ok := s.answerCache.Get(cacheKey); ok && !entry.IsExpired() {
				if cached := new(dns.Msg); cached.Unpack(entry.Data) == nil {
					metrics.AnswerCacheLookups.WithLabelValues("hit").Inc()
					entry.Hits.Add(1)
					zoneName := s.matchZone(question.Name)
					if s.shouldRateLimit(cached, zoneName, clientIP) {
						pool.PutMessage(m)
						return nil
					}

					s.answers.Add(1)
					if cached.Rcode == dns.RcodeNameError {
						s.nxdomain.Add(1)
					}

					m.Answer = cached.Answer
					m.Ns = cached.Ns
					m.Extra = cached.Extra
					m.Rcode = cached.Rcode
					m.Authoritative = true
					m.Truncated = cached.Truncated
					return m
				}
			} else {
				metrics.AnswerCacheLookups.WithLabelValues("miss").Inc()
			}
		}

		if resp, zoneName, ok := s.handleAuthoritative(r, clientIP); ok {
			if s.shouldRateLimit(resp, zoneName, clientIP) {
				pool.PutMessage(resp)
				pool.PutMessage(m)
				return nil
			}

			s.answers.Add(1)
			if resp.Rcode == dns.RcodeNameError {
				s.nxdomain.Add(1)
			}

			if s.answerCache != nil && resp.Rcode != dns.RcodeServerFailure {
				if wire, err := resp.Pack(); err == nil {
					entry := &cache.Entry{
						Data:      wire,
						ExpiresAt: time.Now().Add(s.cfg.AnswerCacheTTL),
						OrigTTL:   minAnswerTTL(resp),
						QName:     question.Name,
						QType:     question.Qtype,
						QClass:    question.Qclass,
					}
					s.answerCache.Set(cacheKey, entry)
				}
			}

			// Copy to response
			m.Answer = resp.Answer
			m.Ns = resp.Ns
			m.Extra = resp.Extra
			m.Rcode = resp.Rcode
			m.Authoritative = true
			m.Truncated = resp.Truncated

			pool.PutMessage(resp)
			return m
		}
	}

	// No zone serves this name
	m.Rcode = dns.RcodeRefused
	s.errors.Add(1)
	return m
}

// handleAuthoritative checks authoritative zones
func (s *Server) handleAuthoritative(r *dns.Msg, clientIP net.IP) (*dns.Msg, string, bool) {
	if len(r.Question) == 0 {
		return nil, "", false
	}

	question := r.Question[0]
	qname := question.Name
	qtype := question.Qtype

	matchedName := s.matchZone(qname)
	if matchedName == "" {
		return nil, "", false
	}
	matchedZone := s.cfg.Zones[matchedName]

	// Build response
	m := pool.GetMessage()
	m.SetReply(r)
	m.Authoritative = true
	m.RecursionAvailable = false

	// Get records
	records := matchedZone.GetRecords(qname, qtype)

	if len(records) > 0 {
		m.Answer = records
	} else {
		// Check for NXDOMAIN or NODATA
		// For now, just return NXDOMAIN
		m.Rcode = dns.RcodeNameError

		// Add SOA for negative response
		if matchedZone.SOA != nil {
			m.Ns = []dns.RR{matchedZone.SOA}
		}
	}

	return m, matchedName, true
}

// matchZone returns the longest configured zone name that is an ancestor
// of (or equal to) qname, or "" if no zone serves it.
func (s *Server) matchZone(qname string) string {
	matchedName := ""
	for zoneName := range s.cfg.Zones {
		if dns.IsSubDomain(zoneName, qname) && len(zoneName) > len(matchedName) {
			matchedName = zoneName
		}
	}
	return matchedName
}

// minAnswerTTL returns the smallest TTL among m's answer records, used as
// the cached entry's OrigTTL so callers can see how long the zone data
// itself said the answer was good for, as distinct from the cache's own
// (usually shorter) AnswerCacheTTL.
func minAnswerTTL(m *dns.Msg) uint32 {
	var min uint32
	for i, rr := range m.Answer {
		ttl := rr.Header().Ttl
		if i == 0 || ttl < min {
			min = ttl
		}
	}
	return min
}

// shouldRateLimit checks if response should be rate limited
func (s *Server) shouldRateLimit(m *dns.Msg, zoneName string, clientIP net.IP) bool {
	if !s.cfg.EnableRRL || s.rrl == nil {
		return false
	}

	if len(m.Question) == 0 {
		return false
	}

	question := m.Question[0]
	class := categorizeResponse(m.Rcode, len(m.Answer), len(m.Ns))

	action := s.rrl.Check(clientIP, question.Name, false, class, zoneName, time.Now().Unix())

	switch action {
	case rrl.ActionDrop:
		metrics.RRLActionsTotal.WithLabelValues("drop").Inc()
		s.events.Publish(s.ctx, eventbus.TopicRRL, RRLEvent{
			Action: action, ZoneName: zoneName, ClientIP: clientIP, QName: question.Name,
		})
		return true // Drop response

	case rrl.ActionSlip:
		metrics.RRLActionsTotal.WithLabelValues("slip").Inc()
		s.events.Publish(s.ctx, eventbus.TopicRRL, RRLEvent{
			Action: action, ZoneName: zoneName, ClientIP: clientIP, QName: question.Name,
		})
		// Send truncated response (TC bit set)
		m.Truncated = true
		m.Answer = nil
		m.Ns = nil
		m.Extra = nil
		return false // Send TC response

	default:
		metrics.RRLActionsTotal.WithLabelValues("allow").Inc()
		return false // Allow
	}
}

// categorizeResponse maps a response shape onto the RRL class that
// shares its own rate budget, so a flood of one kind of response can't
// steal budget from another kind aimed at the same owner.
func categorizeResponse(rcode, ancount, nscount int) rrl.Class {
	switch rcode {
	case dns.RcodeNameError:
		return rrl.ClassNXDomain
	case dns.RcodeServerFailure, dns.RcodeFormatError, dns.RcodeRefused, dns.RcodeNotAuth, dns.RcodeBadCookie:
		return rrl.ClassError
	}
	if ancount > 0 {
		return rrl.ClassPositive
	}
	if nscount > 0 {
		return rrl.ClassReferral
	}
	return rrl.ClassNoData
}

// Stats returns server statistics
type Stats struct {
	Queries  uint64
	Answers  uint64
	Errors   uint64
	NXDOMAIN uint64

	RRL         *rrl.Stats
	AnswerCache *cache.Stats
	QPSLimiter  *engine.RateLimiterStats
	Pool        worker.Stats
	PoolHealthy bool
}

// GetStats returns current statistics
func (s *Server) GetStats() Stats {
	stats := Stats{
		Queries:  s.queries.Load(),
		Answers:  s.answers.Load(),
		Errors:   s.errors.Load(),
		NXDOMAIN: s.nxdomain.Load(),
	}

	if s.answerCache != nil {
		cacheStats := s.answerCache.GetStats()
		stats.AnswerCache = &cacheStats
	}

	if s.rrl != nil {
		rrlStats := s.rrl.Stats()
		stats.RRL = &rrlStats
	}

	if s.qpsLimiter != nil {
		qpsStats := s.qpsLimiter.Stats()
		stats.QPSLimiter = &qpsStats
		metrics.QPSLimiterTrackedClients.Set(float64(qpsStats.TrackedClients))
	}

	stats.Pool = s.pool.GetStats()
	stats.PoolHealthy = s.pool.IsHealthy()

	return stats
}

// LoadZone loads a zone from file
func (s *Server) LoadZone(filename, format string) error {
	var z *zone.Zone
	var err error

	cfg := zone.DefaultConfig()

	switch format {
	case "dnszone", "yaml":
		z, err = zone.ParseDNSZone(filename, cfg)
	case "bind", "rfc1035":
		// Extract origin from filename or require it?
		// For now, extract from zone name in file
		z, err = zone.ParseBIND(filename, "", cfg)
	default:
		return fmt.Errorf("unknown zone format: %s", format)
	}

	if err != nil {
		return fmt.Errorf("parse zone %s: %w", filename, err)
	}

	// Add to server
	s.cfg.Zones[z.Origin] = z
	s.flushAnswerCache()
	s.events.Publish(s.ctx, eventbus.TopicZone, ZoneEvent{Op: ZoneLoaded, Origin: z.Origin})
	s.journalZone(z)

	fmt.Printf("Loaded zone: %s (%d records)\n", z.Name, z.GetStats().Records)

	return nil
}

// AddZone adds a zone to the server
func (s *Server) AddZone(z *zone.Zone) error {
	if z == nil {
		return fmt.Errorf("zone is nil")
	}

	if err := z.Validate(); err != nil {
		return fmt.Errorf("zone validation failed: %w", err)
	}

	s.cfg.Zones[z.Origin] = z
	s.flushAnswerCache()
	s.events.Publish(s.ctx, eventbus.TopicZone, ZoneEvent{Op: ZoneLoaded, Origin: z.Origin})
	s.journalZone(z)
	return nil
}

// journalZone snapshots z to Config.JournalDir, if configured. A
// snapshot failure is logged but does not fail the load: the journal is
// a recovery aid, not the source of truth for an already-loaded zone.
func (s *Server) journalZone(z *zone.Zone) {
	if s.cfg.JournalDir == "" {
		return
	}
	path := filepath.Join(s.cfg.JournalDir, z.Origin+"jnl")
	if err := zone.SaveJournal(z, path); err != nil {
		fmt.Printf("journal snapshot for %s failed: %v\n", z.Origin, err)
	}
}

// LoadZoneFromJournal restores a zone from a snapshot previously written
// by journalZone (internal/zone.SaveJournal), for recovery when the
// original zone file is unavailable but Config.JournalDir held a
// snapshot from the last successful load.
func (s *Server) LoadZoneFromJournal(origin string) error {
	if s.cfg.JournalDir == "" {
		return fmt.Errorf("journal directory not configured")
	}
	path := filepath.Join(s.cfg.JournalDir, origin+"jnl")
	z, err := zone.LoadJournal(path, origin)
	if err != nil {
		return fmt.Errorf("load journal for %s: %w", origin, err)
	}
	return s.AddZone(z)
}

// RemoveZone removes a zone from the server
func (s *Server) RemoveZone(origin string) {
	delete(s.cfg.Zones, origin)
	s.flushAnswerCache()
	s.events.Publish(s.ctx, eventbus.TopicZone, ZoneEvent{Op: ZoneRemoved, Origin: origin})
}

// flushAnswerCache drops every cached answer. Entries aren't keyed by
// zone serial, so any zone load/reload/removal can make one stale.
func (s *Server) flushAnswerCache() {
	if s.answerCache != nil {
		s.answerCache.Flush()
	}
}

// ReloadACL replaces the server's allow/deny lists without a restart.
// The default policy (allow vs. deny by default) is fixed at
// construction and can't be changed by a reload.
func (s *Server) ReloadACL(allowNets, denyNets []string) error {
	if s.acl == nil {
		return fmt.Errorf("ACL not enabled")
	}
	s.acl.Clear()
	for _, cidr := range allowNets {
		if err := s.acl.AllowNet(cidr); err != nil {
			return fmt.Errorf("reload ACL allow %s: %w", cidr, err)
		}
	}
	for _, cidr := range denyNets {
		if err := s.acl.DenyNet(cidr); err != nil {
			return fmt.Errorf("reload ACL deny %s: %w", cidr, err)
		}
	}
	return nil
}

// ResizeWorkerPool hot-resizes the query worker pool. Shrinking settles
// gradually as in-flight jobs drain; see worker.Pool.Resize.
func (s *Server) ResizeWorkerPool(workers int) error {
	return s.pool.Resize(workers)
}

// ZoneOp identifies the kind of change a ZoneEvent describes.
type ZoneOp int

const (
	ZoneLoaded ZoneOp = iota
	ZoneRemoved
)

// ZoneEvent is published on eventbus.TopicZone whenever a zone is loaded,
// added or removed, so interested subscribers (e.g. a future zone-transfer
// notifier) can react without polling the zone map.
type ZoneEvent struct {
	Op     ZoneOp
	Origin string
}

// RRLEvent is published on eventbus.TopicRRL whenever the response rate
// limiter drops or slips a response, so an operator-facing subscriber
// can watch abuse in real time instead of only scraping
// metrics.RRLActionsTotal.
type RRLEvent struct {
	Action   rrl.Action
	ZoneName string
	ClientIP net.IP
	QName    string
}

// GetZone returns a zone by origin
func (s *Server) GetZone(origin string) *zone.Zone {
	return s.cfg.Zones[origin]
}

// AddRPZ adds a response policy zone, checked ahead of every other
// authoritative query in the order zones were added (first match wins).
func (s *Server) AddRPZ(rpz *engine.RPZ) {
	s.rpz.AddZone(rpz)
}

// applyRPZAction rewrites m in place to carry out an RPZ verdict other
// than drop, which the caller handles by discarding the response.
func (s *Server) applyRPZAction(m *dns.Msg, rule *engine.RPZRule, action engine.RPZAction) {
	m.Authoritative = true

	switch action {
	case engine.RPZActionNXDomain:
		m.Rcode = dns.RcodeNameError

	case engine.RPZActionNoData:
		m.Rcode = dns.RcodeSuccess

	case engine.RPZActionRewrite:
		m.Rcode = dns.RcodeSuccess
		if rule.RewriteTarget != nil && len(m.Question) > 0 {
			m.Answer = append(m.Answer, &dns.CNAME{
				Hdr:    dns.RR_Header{Name: m.Question[0].Name, Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: 300},
				Target: rule.RewriteTarget.String(),
			})
		}
	}
}

// addCookieToResponse adds DNS cookie to response
func (s *Server) addCookieToResponse(m *dns.Msg, clientCookie [8]byte, serverCookie []byte) {
	opt := m.IsEdns0()
	if opt == nil {
		opt = &dns.OPT{
			Hdr: dns.RR_Header{
				Name:   ".",
				Rrtype: dns.TypeOPT,
				Class:  4096,
			},
		}
		m.Extra = append(m.Extra, opt)
	}

	opt.Option = append(opt.Option, &dns.EDNS0_COOKIE{
		Code:   dns.EDNS0COOKIE,
		Cookie: string(cookie.FormatCookie(clientCookie, serverCookie)),
	})
}
