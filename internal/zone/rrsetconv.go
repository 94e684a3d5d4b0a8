package zone

import (
	"encoding/binary"
	"fmt"

	"github.com/dnsscience/authcore/internal/name"
	"github.com/dnsscience/authcore/internal/rrset"
	"github.com/miekg/dns"
)

// ToRRset converts a homogeneous group of miekg/dns records (same owner,
// type and class, as returned by Zone.GetRecords) into the packed
// rrset.RRset representation the wire codec operates on.
//
// Each dns.RR is first wire-packed with dns.PackRR; the resulting bytes
// are then re-parsed with this
// package's own name and rrset codecs, so converting a live zone's
// records exercises the name/rrset codec against real records instead
// of only hand-built test fixtures.
func ToRRset(rrs []dns.RR) (*rrset.RRset, error) {
	if len(rrs) == 0 {
		return nil, fmt.Errorf("zone: ToRRset: empty record group")
	}
	hdr := rrs[0].Header()

	buf := make([]byte, 65536)
	var set *rrset.RRset
	for _, rr := range rrs {
		h := rr.Header()
		if h.Rrtype != hdr.Rrtype || h.Class != hdr.Class || h.Name != hdr.Name {
			return nil, fmt.Errorf("zone: ToRRset: record group at %s is not homogeneous", h.Name)
		}

		off, err := dns.PackRR(rr, buf, 0, nil, false)
		if err != nil {
			return nil, fmt.Errorf("zone: ToRRset: pack %s: %w", h.String(), err)
		}

		owner, nameEnd, err := name.Parse(buf[:off], 0)
		if err != nil {
			return nil, fmt.Errorf("zone: ToRRset: owner %s: %w", h.Name, err)
		}

		if set == nil {
			set, err = rrset.New(owner, h.Rrtype, h.Class, h.Ttl)
			owner.Release()
			if err != nil {
				return nil, err
			}
		} else {
			owner.Release()
		}

		pos := nameEnd + 2 + 2 + 4 // type, class, ttl
		if pos+2 > off {
			return nil, fmt.Errorf("zone: ToRRset: truncated header for %s", h.Name)
		}
		rdlen := int(binary.BigEndian.Uint16(buf[pos:]))
		pos += 2

		item, _, err := rrset.Decode(h.Rrtype, buf[:off], pos, rdlen)
		if err != nil {
			return nil, fmt.Errorf("zone: ToRRset: decode rdata for %s: %w", h.Name, err)
		}
		if err := set.AddRdata(item); err != nil {
			return nil, fmt.Errorf("zone: ToRRset: add rdata for %s: %w", h.Name, err)
		}
	}
	return set, nil
}

// FromRRset is the inverse of ToRRset: it re-encodes every RR of set
// with this package's own wire encoder and hands the bytes to a throwaway
// dns.Msg to recover library dns.RR values, so callers that still work
// in terms of miekg/dns (Zone.AddRecord, the answer builder) can consume
// an RRset that passed through the journal or a merge/dedup operation.
func FromRRset(set *rrset.RRset) ([]dns.RR, error) {
	out := make([]dns.RR, 0, set.Count())
	for i := 0; i < set.Count(); i++ {
		rr, err := set.RR(i)
		if err != nil {
			return nil, err
		}

		single, err := rrset.New(set.Owner(), set.Type(), set.Class(), set.TTL())
		if err != nil {
			return nil, err
		}
		if err := single.AddRdata(rr); err != nil {
			return nil, fmt.Errorf("zone: FromRRset: RR %d: %w", i, err)
		}

		wire, n, err := rrset.EncodeScratch(single, nil)
		if err != nil {
			return nil, fmt.Errorf("zone: FromRRset: encode RR %d: %w", i, err)
		}
		if n != 1 {
			return nil, fmt.Errorf("zone: FromRRset: RR %d did not fit a scratch buffer", i)
		}

		drr, err := unpackSingleRR(wire)
		if err != nil {
			return nil, fmt.Errorf("zone: FromRRset: unpack RR %d: %w", i, err)
		}
		out = append(out, drr)
	}
	return out, nil
}

// unpackSingleRR wraps one encoded RR in a minimal DNS message (a header
// declaring one answer, no question) and lets dns.Msg.Unpack parse it,
// rather than hand-rolling a second RDATA-to-dns.RR translation.
func unpackSingleRR(wire []byte) (dns.RR, error) {
	raw := make([]byte, 12+len(wire))
	binary.BigEndian.PutUint16(raw[6:], 1) // ANCOUNT = 1
	copy(raw[12:], wire)

	msg := new(dns.Msg)
	if err := msg.Unpack(raw); err != nil {
		return nil, err
	}
	if len(msg.Answer) != 1 {
		return nil, fmt.Errorf("zone: unpackSingleRR: expected 1 answer, got %d", len(msg.Answer))
	}
	return msg.Answer[0], nil
}
