// Package rrset implements the in-memory RRset value (a name/type/class
// owner plus the ordered RDATA of each RR sharing that header) and its
// wire codec.
//
// Rather than storing RDATA as a flat byte buffer with a parallel table
// of end-offsets (the C approach, where an embedded name is a pointer
// living inside that same buffer), each RR's RDATA is a slice of typed
// Item blocks. The block shape for a given RR type comes from
// internal/rrtype, so the encoder and decoder both just walk that one
// table instead of switching on RR type twice.
package rrset

import (
	"bytes"
	"fmt"

	"github.com/dnsscience/authcore/internal/dnserr"
	"github.com/dnsscience/authcore/internal/name"
	"github.com/dnsscience/authcore/internal/rrtype"
)

// Item is one block of an RR's RDATA. Which fields are populated is
// determined by the corresponding rrtype.Block.Kind at the same
// position in the type's descriptor.
type Item struct {
	// Bytes holds the block's raw content for Fixed and Remainder
	// blocks.
	Bytes []byte

	// Name holds the embedded name for Name and CompressibleName
	// blocks.
	Name *name.Name

	// NaptrOrder, NaptrPref, NaptrStrs and NaptrReplacement together
	// make up a NaptrSpecial block: 2-byte order, 2-byte preference,
	// three length-prefixed character-strings (flags, services,
	// regexp) and the replacement name.
	NaptrOrder       uint16
	NaptrPref        uint16
	NaptrStrs        [3][]byte
	NaptrReplacement *name.Name
}

// RR is one resource record's RDATA, shaped according to its owning
// RRset's type.
type RR struct {
	items []Item
}

// Items returns the RR's blocks in descriptor order. The caller must not
// mutate the returned slice or its Name pointees.
func (r RR) Items() []Item { return r.items }

// EqualMode selects how much of two RRsets Equal compares.
type EqualMode int

const (
	// EqualPointer is the cheapest check: same owner Name identity,
	// type, class, and the two RR slices backed by the same array
	// (e.g. one was produced by copying the other's header only).
	EqualPointer EqualMode = iota

	// EqualHeader compares owner (case-insensitively), type, class
	// and TTL, but not RR content.
	EqualHeader

	// EqualFull compares the header and requires the RR content to
	// match as a multiset (order-independent).
	EqualFull
)

// RRset is the owning container for a (owner, type, class, ttl) header
// and the RRs sharing it, plus an optional covering RRSIG set.
type RRset struct {
	owner  *name.Name
	rtype  uint16
	rclass uint16
	ttl    uint32
	rrs    []RR
	rrsigs *RRset
}

// New creates an empty RRset. owner is retained by the new RRset.
func New(owner *name.Name, rtype, rclass uint16, ttl uint32) (*RRset, error) {
	if owner == nil {
		return nil, fmt.Errorf("rrset: nil owner: %w", dnserr.ErrInvalidArgs)
	}
	return &RRset{owner: owner.Retain(), rtype: rtype, rclass: rclass, ttl: ttl}, nil
}

func (r *RRset) Owner() *name.Name { return r.owner }
func (r *RRset) Type() uint16      { return r.rtype }
func (r *RRset) Class() uint16     { return r.rclass }
func (r *RRset) TTL() uint32       { return r.ttl }
func (r *RRset) Count() int        { return len(r.rrs) }

// RRSIGs returns the RRset's covering signature set, or nil.
func (r *RRset) RRSIGs() *RRset { return r.rrsigs }

// SetRRSIGs attaches sigs as the covering signature set for r. sigs must
// be of type RRSIG and share r's owner name; this is the child-set
// invariant a signed RRset always satisfies.
func (r *RRset) SetRRSIGs(sigs *RRset) error {
	if sigs == nil {
		r.rrsigs = nil
		return nil
	}
	if sigs.rtype != rrtype.RRSIG {
		return fmt.Errorf("rrset: SetRRSIGs: child set has type %d, want RRSIG: %w", sigs.rtype, dnserr.ErrInvalidArgs)
	}
	if !sigs.owner.EqualFold(r.owner) {
		return fmt.Errorf("rrset: SetRRSIGs: child set owner %q != %q: %w", sigs.owner, r.owner, dnserr.ErrInvalidArgs)
	}
	r.rrsigs = sigs
	return nil
}

// RR returns a copy of the RR value at index i.
func (r *RRset) RR(i int) (RR, error) {
	if i < 0 || i >= len(r.rrs) {
		return RR{}, fmt.Errorf("rrset: RR(%d): %w", i, dnserr.ErrNotFound)
	}
	return r.rrs[i], nil
}

// CreateRdata validates items against r's type descriptor and returns
// the resulting RR without adding it to r.
func (r *RRset) CreateRdata(items []Item) (RR, error) {
	rr := RR{items: items}
	if err := validateRR(rrtype.Lookup(r.rtype), rr); err != nil {
		return RR{}, err
	}
	return rr, nil
}

// AddRdata validates rr against r's type descriptor and appends it.
func (r *RRset) AddRdata(rr RR) error {
	if err := validateRR(rrtype.Lookup(r.rtype), rr); err != nil {
		return err
	}
	for _, it := range rr.items {
		retainItemNames(it)
	}
	r.rrs = append(r.rrs, rr)
	return nil
}

func retainItemNames(it Item) {
	if it.Name != nil {
		it.Name.Retain()
	}
	if it.NaptrReplacement != nil {
		it.NaptrReplacement.Retain()
	}
}

func releaseItemNames(it Item) {
	if it.Name != nil {
		it.Name.Release()
	}
	if it.NaptrReplacement != nil {
		it.NaptrReplacement.Release()
	}
}

func validateRR(d rrtype.Descriptor, rr RR) error {
	if len(rr.items) != len(d) {
		return fmt.Errorf("rrset: %d items, descriptor wants %d: %w", len(rr.items), len(d), dnserr.ErrInvalidArgs)
	}
	for i, b := range d {
		it := rr.items[i]
		switch b.Kind {
		case rrtype.Fixed:
			if len(it.Bytes) != b.Len {
				return fmt.Errorf("rrset: block %d: got %d bytes, want %d: %w", i, len(it.Bytes), b.Len, dnserr.ErrInvalidArgs)
			}
		case rrtype.Name, rrtype.CompressibleName:
			if it.Name == nil {
				return fmt.Errorf("rrset: block %d: missing name: %w", i, dnserr.ErrInvalidArgs)
			}
		case rrtype.Remainder:
			// zero-length remainders are legal (e.g. an empty TXT string set)
		case rrtype.NaptrSpecial:
			if it.NaptrReplacement == nil {
				return fmt.Errorf("rrset: block %d: missing naptr replacement name: %w", i, dnserr.ErrInvalidArgs)
			}
			for _, s := range it.NaptrStrs {
				if len(s) > 255 {
					return fmt.Errorf("rrset: block %d: naptr string too long: %w", i, dnserr.ErrInvalidArgs)
				}
			}
		}
	}
	return nil
}

// RdataLen returns the wire length of RR i's RDATA, ignoring any
// compression an encoder might apply to embedded names.
func (r *RRset) RdataLen(i int) (int, error) {
	rr, err := r.RR(i)
	if err != nil {
		return 0, err
	}
	return rdataUncompressedLen(rrtype.Lookup(r.rtype), rr), nil
}

func rdataUncompressedLen(d rrtype.Descriptor, rr RR) int {
	n := 0
	for i, b := range d {
		it := rr.items[i]
		switch b.Kind {
		case rrtype.Fixed, rrtype.Remainder:
			n += len(it.Bytes)
		case rrtype.Name, rrtype.CompressibleName:
			n += it.Name.Size()
		case rrtype.NaptrSpecial:
			n += 4
			for _, s := range it.NaptrStrs {
				n += 1 + len(s)
			}
			n += it.NaptrReplacement.Size()
		}
	}
	return n
}

// Equal compares r and o under mode.
func (r *RRset) Equal(o *RRset, mode EqualMode) bool {
	if o == nil {
		return false
	}
	switch mode {
	case EqualPointer:
		if r.owner != o.owner || r.rtype != o.rtype || r.rclass != o.rclass {
			return false
		}
		if len(r.rrs) != len(o.rrs) {
			return false
		}
		if len(r.rrs) == 0 {
			return true
		}
		return &r.rrs[0] == &o.rrs[0]
	case EqualHeader:
		return headerEqual(r, o)
	case EqualFull:
		if !headerEqual(r, o) {
			return false
		}
		return rrsMultisetEqual(r, o)
	default:
		return false
	}
}

func headerEqual(r, o *RRset) bool {
	return r.owner.EqualFold(o.owner) && r.rtype == o.rtype && r.rclass == o.rclass && r.ttl == o.ttl
}

func rrsMultisetEqual(r, o *RRset) bool {
	if len(r.rrs) != len(o.rrs) {
		return false
	}
	used := make([]bool, len(o.rrs))
	for i := range r.rrs {
		found := false
		for j := range o.rrs {
			if used[j] {
				continue
			}
			if c, err := r.CompareRR(i, o, j); err == nil && c == 0 {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// CompareRR lexicographically compares RR i of r against RR j of o using
// a canonical (case-folded names, uncompressed) byte representation of
// each RR's RDATA. Both RRsets must share a type.
func (r *RRset) CompareRR(i int, o *RRset, j int) (int, error) {
	if r.rtype != o.rtype {
		return 0, fmt.Errorf("rrset: CompareRR: type mismatch %d != %d: %w", r.rtype, o.rtype, dnserr.ErrInvalidArgs)
	}
	a, err := r.RR(i)
	if err != nil {
		return 0, err
	}
	b, err := o.RR(j)
	if err != nil {
		return 0, err
	}
	d := rrtype.Lookup(r.rtype)
	ab, err := canonicalRdata(d, a)
	if err != nil {
		return 0, err
	}
	bb, err := canonicalRdata(d, b)
	if err != nil {
		return 0, err
	}
	return bytes.Compare(ab, bb), nil
}

// canonicalRdata renders an RR's RDATA for content comparison: embedded
// names are lowercased (DNS names compare case-insensitively) and
// written uncompressed.
func canonicalRdata(d rrtype.Descriptor, rr RR) ([]byte, error) {
	var buf bytes.Buffer
	for i, b := range d {
		it := rr.items[i]
		switch b.Kind {
		case rrtype.Fixed, rrtype.Remainder:
			buf.Write(it.Bytes)
		case rrtype.Name, rrtype.CompressibleName:
			buf.Write(lowerWire(it.Name))
		case rrtype.NaptrSpecial:
			var hdr [4]byte
			hdr[0] = byte(it.NaptrOrder >> 8)
			hdr[1] = byte(it.NaptrOrder)
			hdr[2] = byte(it.NaptrPref >> 8)
			hdr[3] = byte(it.NaptrPref)
			buf.Write(hdr[:])
			for _, s := range it.NaptrStrs {
				buf.WriteByte(byte(len(s)))
				buf.Write(s)
			}
			buf.Write(lowerWire(it.NaptrReplacement))
		}
	}
	return buf.Bytes(), nil
}

func lowerWire(n *name.Name) []byte {
	w := n.Wire()
	out := make([]byte, len(w))
	pos := 0
	for pos < len(w) {
		l := int(w[pos])
		out[pos] = w[pos]
		pos++
		if l == 0 {
			break
		}
		for i := 0; i < l; i++ {
			c := w[pos+i]
			if c >= 'A' && c <= 'Z' {
				c += 'a' - 'A'
			}
			out[pos+i] = c
		}
		pos += l
	}
	return out
}

// Merge appends every RR of o onto r (duplicates included). r and o must
// share owner, type and class.
//
// TTL handling is an addition beyond the base merge semantics: r's TTL
// is lowered to the smaller of the two, per RFC 2181 §5.2's "use the
// lowest TTL observed for any RRset" rule (see
// original_source/src/libknot/rrset.c's merge path). Harmless when both
// sides already agree, and matches what a zone store actually wants.
func (r *RRset) Merge(o *RRset) error {
	if err := checkMergeable(r, o); err != nil {
		return err
	}
	if o.ttl < r.ttl {
		r.ttl = o.ttl
	}
	for _, rr := range o.rrs {
		for _, it := range rr.items {
			retainItemNames(it)
		}
		r.rrs = append(r.rrs, rr)
	}
	return nil
}

// MergeUnique is Merge but skips any RR of o whose content already
// exists in r, returning the count of RRs actually appended.
func (r *RRset) MergeUnique(o *RRset) (int, error) {
	if err := checkMergeable(r, o); err != nil {
		return 0, err
	}
	if o.ttl < r.ttl {
		r.ttl = o.ttl
	}
	added := 0
	d := rrtype.Lookup(r.rtype)
	for _, rr := range o.rrs {
		dup := false
		for _, existing := range r.rrs {
			ca, err := canonicalRdata(d, existing)
			if err != nil {
				return added, err
			}
			cb, err := canonicalRdata(d, rr)
			if err != nil {
				return added, err
			}
			if bytes.Equal(ca, cb) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		for _, it := range rr.items {
			retainItemNames(it)
		}
		r.rrs = append(r.rrs, rr)
		added++
	}
	return added, nil
}

func checkMergeable(r, o *RRset) error {
	if o == nil {
		return fmt.Errorf("rrset: Merge: nil argument: %w", dnserr.ErrInvalidArgs)
	}
	if r.rtype != o.rtype || r.rclass != o.rclass {
		return fmt.Errorf("rrset: Merge: type/class mismatch: %w", dnserr.ErrInvalidArgs)
	}
	if !r.owner.EqualFold(o.owner) {
		return fmt.Errorf("rrset: Merge: owner mismatch %q != %q: %w", r.owner, o.owner, dnserr.ErrInvalidArgs)
	}
	return nil
}

// RemoveRRByContent removes the first RR whose content matches rr,
// releasing any names it held. It reports whether a match was found.
func (r *RRset) RemoveRRByContent(rr RR) (bool, error) {
	d := rrtype.Lookup(r.rtype)
	target, err := canonicalRdata(d, rr)
	if err != nil {
		return false, err
	}
	for i, existing := range r.rrs {
		cur, err := canonicalRdata(d, existing)
		if err != nil {
			return false, err
		}
		if bytes.Equal(cur, target) {
			for _, it := range existing.items {
				releaseItemNames(it)
			}
			r.rrs = append(r.rrs[:i], r.rrs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// IterNames visits the owner name and every name embedded in the
// RRset's RDATA, stopping early if fn returns false.
func (r *RRset) IterNames(fn func(*name.Name) bool) {
	if !fn(r.owner) {
		return
	}
	d := rrtype.Lookup(r.rtype)
	for _, rr := range r.rrs {
		for i, b := range d {
			it := rr.items[i]
			switch b.Kind {
			case rrtype.Name, rrtype.CompressibleName:
				if !fn(it.Name) {
					return
				}
			case rrtype.NaptrSpecial:
				if !fn(it.NaptrReplacement) {
					return
				}
			}
		}
	}
}

// DeepCopy returns an independent RRset. Raw byte blocks are always
// duplicated so mutating a copy's Bytes cannot affect the original.
// When copyEmbeddedNames is false, embedded names are shared with the
// source (Name is immutable, so Retain suffices); when true, every
// embedded name slot gets its own freshly cloned Name so the result
// aliases nothing in the source, including through the Name's own
// backing array.
func (r *RRset) DeepCopy(copyEmbeddedNames bool) *RRset {
	owner := r.owner.Retain()
	if copyEmbeddedNames {
		owner = r.owner.Clone()
	}
	cp := &RRset{
		owner:  owner,
		rtype:  r.rtype,
		rclass: r.rclass,
		ttl:    r.ttl,
	}
	cp.rrs = make([]RR, len(r.rrs))
	for i, rr := range r.rrs {
		items := make([]Item, len(rr.items))
		for j, it := range rr.items {
			items[j] = copyItem(it, copyEmbeddedNames)
		}
		cp.rrs[i] = RR{items: items}
	}
	if r.rrsigs != nil {
		cp.rrsigs = r.rrsigs.DeepCopy(copyEmbeddedNames)
	}
	return cp
}

func copyItem(it Item, copyEmbeddedNames bool) Item {
	out := Item{
		NaptrOrder: it.NaptrOrder,
		NaptrPref:  it.NaptrPref,
	}
	if it.Bytes != nil {
		out.Bytes = append([]byte(nil), it.Bytes...)
	}
	if it.Name != nil {
		if copyEmbeddedNames {
			out.Name = it.Name.Clone()
		} else {
			out.Name = it.Name.Retain()
		}
	}
	for i, s := range it.NaptrStrs {
		if s != nil {
			out.NaptrStrs[i] = append([]byte(nil), s...)
		}
	}
	if it.NaptrReplacement != nil {
		if copyEmbeddedNames {
			out.NaptrReplacement = it.NaptrReplacement.Clone()
		} else {
			out.NaptrReplacement = it.NaptrReplacement.Retain()
		}
	}
	return out
}
