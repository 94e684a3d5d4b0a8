package rrset

import (
	"encoding/binary"
	"fmt"

	"github.com/dnsscience/authcore/internal/dnserr"
	"github.com/dnsscience/authcore/internal/name"
	"github.com/dnsscience/authcore/internal/pool"
	"github.com/dnsscience/authcore/internal/rrtype"
)

// Encoder writes RRsets into a caller-supplied message buffer, tracking
// the write cursor and (optionally) a name compression context shared
// across every RRset written into the same message.
type Encoder struct {
	buf  []byte
	pos  int
	comp *name.CompressionContext
}

// NewEncoder wraps buf, starting the write cursor at the buffer's
// current length. comp may be nil to disable name compression.
func NewEncoder(buf []byte, comp *name.CompressionContext) *Encoder {
	return &Encoder{buf: buf, pos: len(buf), comp: comp}
}

// Bytes returns the buffer written so far.
func (e *Encoder) Bytes() []byte { return e.buf[:e.pos] }

// Pos returns the current write cursor.
func (e *Encoder) Pos() int { return e.pos }

// Encode writes as many whole RRs of r as fit, in storage order,
// stopping at the first RR that would not fit. It returns the number of
// RRs actually written. If that count is less than r.Count(), the
// returned error is dnserr.ErrNoSpace and the cursor reflects only the
// RRs that did fit (the partially-written RR's bytes are rolled back,
// never left dangling in the buffer).
func (e *Encoder) Encode(r *RRset) (int, error) {
	written := 0
	for i := range r.rrs {
		start := e.pos
		if err := e.encodeOne(r, i); err != nil {
			e.pos = start
			return written, err
		}
		written++
	}
	return written, nil
}

func (e *Encoder) encodeOne(r *RRset, i int) error {
	start := e.pos

	if err := e.writeName(r.owner, true); err != nil {
		return err
	}
	if !e.reserve(10) {
		e.pos = start
		return dnserr.ErrNoSpace
	}
	binary.BigEndian.PutUint16(e.buf[e.pos:], r.rtype)
	e.pos += 2
	binary.BigEndian.PutUint16(e.buf[e.pos:], r.rclass)
	e.pos += 2
	binary.BigEndian.PutUint32(e.buf[e.pos:], r.ttl)
	e.pos += 4

	rdlenPos := e.pos
	e.pos += 2 // placeholder, patched below

	rdataStart := e.pos
	d := rrtype.Lookup(r.rtype)
	rr := r.rrs[i]
	for bi, b := range d {
		it := rr.items[bi]
		var err error
		switch b.Kind {
		case rrtype.Fixed:
			err = e.writeFixed(it.Bytes, b.Len)
		case rrtype.Name:
			err = e.writeName(it.Name, false)
		case rrtype.CompressibleName:
			err = e.writeName(it.Name, e.comp != nil)
		case rrtype.Remainder:
			err = e.writeRaw(it.Bytes)
		case rrtype.NaptrSpecial:
			err = e.writeNaptr(it)
		}
		if err != nil {
			e.pos = start
			return err
		}
	}

	rdlen := e.pos - rdataStart
	if rdlen > 0xFFFF {
		e.pos = start
		return fmt.Errorf("rrset: encode: rdata %d bytes exceeds 65535: %w", rdlen, dnserr.ErrNoSpace)
	}
	binary.BigEndian.PutUint16(e.buf[rdlenPos:], uint16(rdlen))
	return nil
}

func (e *Encoder) reserve(n int) bool {
	if e.pos+n > len(e.buf) {
		if cap(e.buf) >= e.pos+n {
			e.buf = e.buf[:e.pos+n]
			return true
		}
		return false
	}
	return true
}

func (e *Encoder) writeFixed(data []byte, want int) error {
	if len(data) != want {
		return fmt.Errorf("rrset: encode: fixed block: got %d bytes, want %d: %w", len(data), want, dnserr.ErrInvalidArgs)
	}
	return e.writeRaw(data)
}

func (e *Encoder) writeRaw(data []byte) error {
	if !e.reserve(len(data)) {
		return dnserr.ErrNoSpace
	}
	copy(e.buf[e.pos:], data)
	e.pos += len(data)
	return nil
}

// writeName emits n, compressing it against e.comp when compress is
// true and a context is set. A name whose own suffix was never written
// but whose parent suffix (e.g. "example.com." for "www.example.com.")
// was, emits only its uncovered leading labels verbatim followed by a
// pointer to that parent, rather than spelling itself out in full.
func (e *Encoder) writeName(n *name.Name, compress bool) error {
	if compress && e.comp != nil {
		if off, uncovered, ok := e.comp.Lookup(n); ok {
			if e.pos <= name.MaxPointerOffset {
				e.comp.InsertPartial(n, e.pos, uncovered)
			}
			labels := n.Labels()
			for i := 0; i < uncovered; i++ {
				if err := e.writeLabel(labels[i]); err != nil {
					return err
				}
			}
			if !e.reserve(2) {
				return dnserr.ErrNoSpace
			}
			binary.BigEndian.PutUint16(e.buf[e.pos:], uint16(0xC000|off))
			e.pos += 2
			return nil
		}
		if e.pos <= name.MaxPointerOffset {
			e.comp.Insert(n, e.pos)
		}
	}
	return e.writeRaw(n.Wire())
}

func (e *Encoder) writeLabel(l []byte) error {
	if !e.reserve(1 + len(l)) {
		return dnserr.ErrNoSpace
	}
	e.buf[e.pos] = byte(len(l))
	e.pos++
	copy(e.buf[e.pos:], l)
	e.pos += len(l)
	return nil
}

func (e *Encoder) writeNaptr(it Item) error {
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:2], it.NaptrOrder)
	binary.BigEndian.PutUint16(hdr[2:4], it.NaptrPref)
	if err := e.writeRaw(hdr[:]); err != nil {
		return err
	}
	for _, s := range it.NaptrStrs {
		if !e.reserve(1) {
			return dnserr.ErrNoSpace
		}
		e.buf[e.pos] = byte(len(s))
		e.pos++
		if err := e.writeRaw(s); err != nil {
			return err
		}
	}
	// NAPTR's replacement name is never compressed (RFC 2915 §4).
	return e.writeName(it.NaptrReplacement, false)
}

// EncodeScratch is a convenience for tests and callers that just want an
// RRset's wire bytes with no surrounding message: it draws a scratch
// buffer from the shared pool, encodes, and returns an owned copy.
func EncodeScratch(r *RRset, comp *name.CompressionContext) ([]byte, int, error) {
	scratch := pool.GetBuffer(pool.EDNSBufferSize)
	defer pool.PutBuffer(scratch)

	enc := NewEncoder(scratch[:0], comp)
	n, err := enc.Encode(r)
	out := append([]byte(nil), enc.Bytes()...)
	return out, n, err
}
