package engine

import (
	"strings"
	"sync"

	"github.com/miekg/dns"

	"github.com/dnsscience/authcore/internal/name"
)

// RPZAction represents the action to take when a query matches an RPZ rule.
type RPZAction int

const (
	RPZActionNone     RPZAction = iota // No match - continue normal processing
	RPZActionNXDomain                  // Return NXDOMAIN
	RPZActionNoData                    // Return empty answer (NOERROR but no data)
	RPZActionPassthru                  // Allow the query (whitelist)
	RPZActionDrop                      // Silently drop the query
	RPZActionRewrite                   // Rewrite to a different target
)

// String returns a human-readable representation of the RPZ action.
func (a RPZAction) String() string {
	switch a {
	case RPZActionNone:
		return "NONE"
	case RPZActionNXDomain:
		return "NXDOMAIN"
	case RPZActionNoData:
		return "NODATA"
	case RPZActionPassthru:
		return "PASSTHRU"
	case RPZActionDrop:
		return "DROP"
	case RPZActionRewrite:
		return "REWRITE"
	default:
		return "UNKNOWN"
	}
}

// RPZRule represents a single RPZ rule. The trigger and rewrite target
// are held as internal/name.Name values, the same owner-name
// representation internal/rrset uses, rather than raw presentation
// strings — matching against a rule is a canonical-form comparison,
// not a string comparison.
type RPZRule struct {
	Trigger       *name.Name
	Action        RPZAction
	RewriteTarget *name.Name
	Reason        string
}

// RPZ implements Response Policy Zones for DNS filtering.
// It supports blocking, rewriting, and passthrough rules.
type RPZ struct {
	mu        sync.RWMutex
	rules     map[string]*RPZRule // keyed by exact trigger's wire form
	wildcards map[string]*RPZRule // keyed by wildcard base's wire form
	name      string              // Zone name for identification
	enabled   bool
}

// NewRPZ creates a new RPZ instance.
func NewRPZ(zoneName string) *RPZ {
	return &RPZ{
		rules:     make(map[string]*RPZRule),
		wildcards: make(map[string]*RPZRule),
		name:      zoneName,
		enabled:   true,
	}
}

// parseTrigger turns a presentation-format domain name (dotted, with or
// without a trailing root label) into a canonical internal/name.Name.
func parseTrigger(s string) (*name.Name, error) {
	s = strings.ToLower(strings.TrimSuffix(s, "."))
	if s == "" {
		return name.Root(), nil
	}
	return name.New(strings.Split(s, ".")...)
}

func wireKey(n *name.Name) string {
	return string(n.Wire())
}

// AddRule adds an exact match rule to the RPZ.
func (r *RPZ) AddRule(trigger string, action RPZAction, reason string) error {
	n, err := parseTrigger(trigger)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[wireKey(n)] = &RPZRule{
		Trigger: n,
		Action:  action,
		Reason:  reason,
	}
	return nil
}

// AddWildcard adds a wildcard rule to the RPZ.
// The trigger should be the base domain (without the *. prefix).
func (r *RPZ) AddWildcard(trigger string, action RPZAction, reason string) error {
	n, err := parseTrigger(trigger)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wildcards[wireKey(n)] = &RPZRule{
		Trigger: n,
		Action:  action,
		Reason:  reason,
	}
	return nil
}

// AddRewriteRule adds a rule that rewrites queries to a different target.
func (r *RPZ) AddRewriteRule(trigger, target, reason string) error {
	n, err := parseTrigger(trigger)
	if err != nil {
		return err
	}
	t, err := parseTrigger(target)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[wireKey(n)] = &RPZRule{
		Trigger:       n,
		Action:        RPZActionRewrite,
		RewriteTarget: t,
		Reason:        reason,
	}
	return nil
}

// AddPassthru adds a passthru (whitelist) rule that overrides blocking rules.
func (r *RPZ) AddPassthru(trigger, reason string) error {
	n, err := parseTrigger(trigger)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[wireKey(n)] = &RPZRule{
		Trigger: n,
		Action:  RPZActionPassthru,
		Reason:  reason,
	}
	return nil
}

// Check evaluates a query name against the RPZ rules.
// Returns the matching rule and action, or nil/RPZActionNone if no match.
func (r *RPZ) Check(qname string) (*RPZRule, RPZAction) {
	if !r.enabled {
		return nil, RPZActionNone
	}

	n, err := parseTrigger(qname)
	if err != nil {
		return nil, RPZActionNone
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if rule, ok := r.rules[wireKey(n)]; ok {
		return rule, rule.Action
	}

	// Walk up the label tree looking for a wildcard base, most specific
	// suffix first (e.g. for a.b.evil.example. try a.b.evil.example.
	// itself — the apex also matches its own wildcard — then
	// b.evil.example., then evil.example., then example.).
	labels := n.Labels()
	for i := 0; i < len(labels); i++ {
		suffixLabels := make([]string, len(labels)-i)
		for j, l := range labels[i:] {
			suffixLabels[j] = string(l)
		}
		suffix, err := name.New(suffixLabels...)
		if err != nil {
			continue
		}
		if rule, ok := r.wildcards[wireKey(suffix)]; ok {
			return rule, rule.Action
		}
	}

	return nil, RPZActionNone
}

// ApplyToResponse modifies a DNS response based on RPZ rules.
// Returns true if the response was modified.
func (r *RPZ) ApplyToResponse(msg *dns.Msg) bool {
	if len(msg.Question) == 0 {
		return false
	}

	rule, action := r.Check(msg.Question[0].Name)
	if rule == nil {
		return false
	}

	switch action {
	case RPZActionNXDomain:
		msg.Rcode = dns.RcodeNameError
		msg.Answer = nil
		msg.Ns = nil
		msg.Extra = nil
		return true

	case RPZActionNoData:
		msg.Rcode = dns.RcodeSuccess
		msg.Answer = nil
		return true

	case RPZActionPassthru:
		// Allow the query to proceed normally
		return false

	case RPZActionRewrite:
		if rule.RewriteTarget != nil {
			msg.Answer = nil
			cname := &dns.CNAME{
				Hdr:    dns.RR_Header{Name: msg.Question[0].Name, Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: 300},
				Target: rule.RewriteTarget.String(),
			}
			msg.Answer = append(msg.Answer, cname)
			return true
		}
	}

	return false
}

// Enable enables RPZ processing.
func (r *RPZ) Enable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = true
}

// Disable disables RPZ processing.
func (r *RPZ) Disable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = false
}

// Clear removes all rules from the RPZ.
func (r *RPZ) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = make(map[string]*RPZRule)
	r.wildcards = make(map[string]*RPZRule)
}

// Stats returns statistics about the RPZ.
func (r *RPZ) Stats() RPZStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RPZStats{
		Name:          r.name,
		Enabled:       r.enabled,
		ExactRules:    len(r.rules),
		WildcardRules: len(r.wildcards),
	}
}

// RPZStats holds statistics about an RPZ.
type RPZStats struct {
	Name          string
	Enabled       bool
	ExactRules    int
	WildcardRules int
}

// RPZAggregate manages multiple RPZ zones with priority ordering.
type RPZAggregate struct {
	mu    sync.RWMutex
	zones []*RPZ
}

// NewRPZAggregate creates a new RPZ aggregate.
func NewRPZAggregate() *RPZAggregate {
	return &RPZAggregate{
		zones: make([]*RPZ, 0),
	}
}

// AddZone adds an RPZ zone to the aggregate.
// Zones are checked in the order they are added (first match wins).
func (a *RPZAggregate) AddZone(rpz *RPZ) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.zones = append(a.zones, rpz)
}

// Check evaluates a query against all RPZ zones.
func (a *RPZAggregate) Check(qname string) (*RPZRule, RPZAction) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, rpz := range a.zones {
		if rule, action := rpz.Check(qname); action != RPZActionNone {
			return rule, action
		}
	}
	return nil, RPZActionNone
}
