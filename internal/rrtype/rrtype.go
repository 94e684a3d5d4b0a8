// Package rrtype holds the fixed table that tells the RRset wire codec
// (internal/rrset) how to carve each supported RR type's RDATA into
// blocks: fixed-width fields, embedded names (compressible or not), and
// an opaque remainder.
//
// This is the Go-idiomatic replacement for walking a RR-type switch by
// hand in the encoder/decoder: encode and decode both become a single
// loop over a Descriptor, so adding a type means adding one table entry
// rather than touching both directions of the codec.
package rrtype

// BlockKind identifies how a single block of an RR's RDATA is shaped.
type BlockKind int

const (
	// Fixed is a block of exactly Len bytes copied verbatim.
	Fixed BlockKind = iota

	// Name is an embedded domain name that MUST NOT be compressed on
	// the wire (e.g. RRSIG's signer name, NSEC's next-domain name),
	// even when a compression context is available.
	Name

	// CompressibleName is an embedded domain name eligible for
	// pointer-based compression when a compression context is
	// supplied to the encoder.
	CompressibleName

	// Remainder consumes every byte left in the RDATA. It may only
	// appear as the last block of a descriptor.
	Remainder

	// NaptrSpecial is the NAPTR record's irregular shape: a 4-byte
	// order+preference prefix, three length-prefixed character
	// strings, and a trailing (non-compressible) replacement name.
	NaptrSpecial
)

// Block is one entry of a type Descriptor. Len is only meaningful for
// Fixed blocks.
type Block struct {
	Kind BlockKind
	Len  int
}

// Descriptor is the ordered list of blocks making up an RR type's RDATA.
type Descriptor []Block

// Well-known RR type codes. Kept local to this package (rather than
// imported from an external DNS library) so the codec has no dependency
// on how any particular library numbers or names RR types.
const (
	A          uint16 = 1
	NS         uint16 = 2
	CNAME      uint16 = 5
	SOA        uint16 = 6
	PTR        uint16 = 12
	MX         uint16 = 15
	TXT        uint16 = 16
	AAAA       uint16 = 28
	SRV        uint16 = 33
	NAPTR      uint16 = 35
	DS         uint16 = 43
	RRSIG      uint16 = 46
	NSEC       uint16 = 47
	DNSKEY     uint16 = 48
	NSEC3      uint16 = 50
	NSEC3PARAM uint16 = 51
)

var table = map[uint16]Descriptor{
	A:    {{Kind: Fixed, Len: 4}},
	NS:   {{Kind: CompressibleName}},
	CNAME: {{Kind: CompressibleName}},
	SOA: {
		{Kind: CompressibleName}, // MNAME
		{Kind: CompressibleName}, // RNAME
		{Kind: Fixed, Len: 20},   // serial, refresh, retry, expire, minimum
	},
	PTR:  {{Kind: CompressibleName}},
	MX:   {{Kind: Fixed, Len: 2}, {Kind: CompressibleName}},
	TXT:  {{Kind: Remainder}},
	AAAA: {{Kind: Fixed, Len: 16}},
	SRV:  {{Kind: Fixed, Len: 6}, {Kind: Name}}, // target is not compressible, RFC 2782
	NAPTR: {{Kind: NaptrSpecial}},
	DS:    {{Kind: Fixed, Len: 4}, {Kind: Remainder}}, // key tag, algorithm, digest type + digest
	RRSIG: {
		{Kind: Fixed, Len: 18}, // type covered, algorithm, labels, orig TTL, expiration, inception, key tag
		{Kind: Name},           // signer name, not compressible, RFC 4034 §3.1.7
		{Kind: Remainder},      // signature
	},
	NSEC:       {{Kind: Name}, {Kind: Remainder}}, // next domain name, type bitmap
	DNSKEY:     {{Kind: Fixed, Len: 4}, {Kind: Remainder}},
	NSEC3:      {{Kind: Fixed, Len: 5}, {Kind: Remainder}},
	NSEC3PARAM: {{Kind: Fixed, Len: 4}, {Kind: Remainder}},
}

// unknownDescriptor is used for any RR type with no table entry: the
// whole RDATA is treated as an opaque blob, which round-trips correctly
// even though it cannot be compressed or introspected.
var unknownDescriptor = Descriptor{{Kind: Remainder}}

// Lookup returns the block descriptor for rtype, falling back to a
// single Remainder block for types this table does not name.
func Lookup(rtype uint16) Descriptor {
	if d, ok := table[rtype]; ok {
		return d
	}
	return unknownDescriptor
}
