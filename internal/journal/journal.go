// Package journal implements the portable, on-disk serialization of an
// RRset. The in-memory value holds Go pointers (embedded *name.Name
// values), so it cannot be written to disk directly; this package
// collapses it into a flat, self-describing byte stream and parses that
// stream back into an equivalent RRset.
//
// The layout is fixed and host-endian (not a cross-architecture wire
// format):
//
//	u64 total_length   // bytes following this field
//	u16 rr_count
//	u32 indices[rr_count]
//	u8  owner_size
//	u8[owner_size] owner_wire
//	u16 type
//	u16 class
//	u32 ttl
//	for each RR:
//	  u32 rr_length
//	  bytes of the RR, where each embedded Name is replaced by
//	    u8 size
//	    u8[size] name_wire
package journal

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dnsscience/authcore/internal/dnserr"
	"github.com/dnsscience/authcore/internal/name"
	"github.com/dnsscience/authcore/internal/rrset"
	"github.com/dnsscience/authcore/internal/rrtype"
)

// Serialize renders r in the format documented on the package.
func Serialize(r *rrset.RRset) ([]byte, error) {
	ownerWire := r.Owner().Wire()
	if len(ownerWire) > 255 {
		return nil, fmt.Errorf("journal: serialize: owner %d bytes exceeds 255: %w", len(ownerWire), dnserr.ErrInvalidArgs)
	}

	count := r.Count()
	indices := make([]uint32, count)
	var cum uint32
	for i := 0; i < count; i++ {
		l, err := r.RdataLen(i)
		if err != nil {
			return nil, err
		}
		cum += uint32(l)
		indices[i] = cum
	}

	var body bytes.Buffer
	binary.Write(&body, binary.NativeEndian, uint16(count))
	for _, idx := range indices {
		binary.Write(&body, binary.NativeEndian, idx)
	}
	body.WriteByte(byte(len(ownerWire)))
	body.Write(ownerWire)
	binary.Write(&body, binary.NativeEndian, r.Type())
	binary.Write(&body, binary.NativeEndian, r.Class())
	binary.Write(&body, binary.NativeEndian, r.TTL())

	d := rrtype.Lookup(r.Type())
	for i := 0; i < count; i++ {
		rr, err := r.RR(i)
		if err != nil {
			return nil, err
		}
		rrBytes, err := serializeRR(d, rr)
		if err != nil {
			return nil, err
		}
		binary.Write(&body, binary.NativeEndian, uint32(len(rrBytes)))
		body.Write(rrBytes)
	}

	var out bytes.Buffer
	binary.Write(&out, binary.NativeEndian, uint64(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func serializeRR(d rrtype.Descriptor, rr rrset.RR) ([]byte, error) {
	var buf bytes.Buffer
	for i, b := range d {
		it := rr.Items()[i]
		switch b.Kind {
		case rrtype.Fixed, rrtype.Remainder:
			buf.Write(it.Bytes)
		case rrtype.Name, rrtype.CompressibleName:
			writeJournalName(&buf, it.Name)
		case rrtype.NaptrSpecial:
			var hdr [4]byte
			binary.BigEndian.PutUint16(hdr[0:2], it.NaptrOrder)
			binary.BigEndian.PutUint16(hdr[2:4], it.NaptrPref)
			buf.Write(hdr[:])
			for _, s := range it.NaptrStrs {
				buf.WriteByte(byte(len(s)))
				buf.Write(s)
			}
			writeJournalName(&buf, it.NaptrReplacement)
		}
	}
	return buf.Bytes(), nil
}

func writeJournalName(buf *bytes.Buffer, n *name.Name) {
	w := n.Wire()
	buf.WriteByte(byte(len(w)))
	buf.Write(w)
}

// Deserialize parses data as produced by Serialize, rejecting a declared
// total_length that exceeds what's actually available with NoSpace (per
// the error-kind table: "deserializer's declared length exceeds input").
func Deserialize(data []byte) (*rrset.RRset, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("journal: deserialize: truncated header: %w", dnserr.ErrMalformed)
	}
	totalLength := binary.NativeEndian.Uint64(data)
	if uint64(len(data)-8) < totalLength {
		return nil, fmt.Errorf("journal: deserialize: declared length %d exceeds %d available: %w", totalLength, len(data)-8, dnserr.ErrNoSpace)
	}
	body := data[8 : 8+totalLength]
	pos := 0

	if len(body) < 2 {
		return nil, fmt.Errorf("journal: deserialize: truncated rr_count: %w", dnserr.ErrMalformed)
	}
	rrCount := int(binary.NativeEndian.Uint16(body[pos:]))
	pos += 2

	if len(body) < pos+4*rrCount {
		return nil, fmt.Errorf("journal: deserialize: truncated indices: %w", dnserr.ErrMalformed)
	}
	for i := 0; i < rrCount; i++ {
		pos += 4 // indices are redundant with per-RR rr_length; read past them
	}

	if pos >= len(body) {
		return nil, fmt.Errorf("journal: deserialize: truncated owner_size: %w", dnserr.ErrMalformed)
	}
	ownerSize := int(body[pos])
	pos++
	if pos+ownerSize > len(body) {
		return nil, fmt.Errorf("journal: deserialize: owner_wire overruns body: %w", dnserr.ErrMalformed)
	}
	ownerName, _, err := name.Parse(body[pos:pos+ownerSize], 0)
	if err != nil {
		return nil, fmt.Errorf("journal: deserialize: owner: %w", err)
	}
	pos += ownerSize

	if pos+8 > len(body) {
		return nil, fmt.Errorf("journal: deserialize: truncated header tail: %w", dnserr.ErrMalformed)
	}
	rtype := binary.NativeEndian.Uint16(body[pos:])
	pos += 2
	rclass := binary.NativeEndian.Uint16(body[pos:])
	pos += 2
	ttl := binary.NativeEndian.Uint32(body[pos:])
	pos += 4

	set, err := rrset.New(ownerName, rtype, rclass, ttl)
	if err != nil {
		return nil, err
	}

	d := rrtype.Lookup(rtype)
	for i := 0; i < rrCount; i++ {
		if pos+4 > len(body) {
			return nil, fmt.Errorf("journal: deserialize: truncated rr_length at RR %d: %w", i, dnserr.ErrMalformed)
		}
		rrLen := int(binary.NativeEndian.Uint32(body[pos:]))
		pos += 4
		if pos+rrLen > len(body) {
			return nil, fmt.Errorf("journal: deserialize: RR %d overruns body: %w", i, dnserr.ErrMalformed)
		}
		items, consumed, err := deserializeItems(d, body[pos:pos+rrLen])
		if err != nil {
			return nil, fmt.Errorf("journal: deserialize: RR %d: %w", i, err)
		}
		if consumed != rrLen {
			return nil, fmt.Errorf("journal: deserialize: RR %d: %d trailing bytes: %w", i, rrLen-consumed, dnserr.ErrMalformed)
		}
		rr, err := set.CreateRdata(items)
		if err != nil {
			return nil, err
		}
		if err := set.AddRdata(rr); err != nil {
			return nil, err
		}
		pos += rrLen
	}

	if pos != len(body) {
		return nil, fmt.Errorf("journal: deserialize: %d trailing bytes: %w", len(body)-pos, dnserr.ErrMalformed)
	}
	return set, nil
}

func deserializeItems(d rrtype.Descriptor, buf []byte) ([]rrset.Item, int, error) {
	items := make([]rrset.Item, len(d))
	pos := 0
	for i, b := range d {
		switch b.Kind {
		case rrtype.Fixed:
			if pos+b.Len > len(buf) {
				return nil, 0, fmt.Errorf("journal: fixed block wants %d bytes, %d remain: %w", b.Len, len(buf)-pos, dnserr.ErrMalformed)
			}
			items[i].Bytes = append([]byte(nil), buf[pos:pos+b.Len]...)
			pos += b.Len

		case rrtype.Remainder:
			items[i].Bytes = append([]byte(nil), buf[pos:]...)
			pos = len(buf)

		case rrtype.Name, rrtype.CompressibleName:
			n, newPos, err := readJournalName(buf, pos)
			if err != nil {
				return nil, 0, err
			}
			items[i].Name = n
			pos = newPos

		case rrtype.NaptrSpecial:
			it, newPos, err := deserializeNaptr(buf, pos)
			if err != nil {
				return nil, 0, err
			}
			items[i] = it
			pos = newPos
		}
	}
	return items, pos, nil
}

func readJournalName(buf []byte, pos int) (*name.Name, int, error) {
	if pos >= len(buf) {
		return nil, 0, fmt.Errorf("journal: truncated name size: %w", dnserr.ErrMalformed)
	}
	size := int(buf[pos])
	pos++
	if pos+size > len(buf) {
		return nil, 0, fmt.Errorf("journal: name_wire overruns RR: %w", dnserr.ErrMalformed)
	}
	n, _, err := name.Parse(buf[pos:pos+size], 0)
	if err != nil {
		return nil, 0, fmt.Errorf("journal: name: %w", err)
	}
	return n, pos + size, nil
}

func deserializeNaptr(buf []byte, pos int) (rrset.Item, int, error) {
	var it rrset.Item
	if pos+4 > len(buf) {
		return it, 0, fmt.Errorf("journal: naptr prefix truncated: %w", dnserr.ErrMalformed)
	}
	it.NaptrOrder = uint16(buf[pos])<<8 | uint16(buf[pos+1])
	it.NaptrPref = uint16(buf[pos+2])<<8 | uint16(buf[pos+3])
	pos += 4

	for i := 0; i < 3; i++ {
		if pos >= len(buf) {
			return it, 0, fmt.Errorf("journal: naptr string %d truncated: %w", i, dnserr.ErrMalformed)
		}
		l := int(buf[pos])
		pos++
		if pos+l > len(buf) {
			return it, 0, fmt.Errorf("journal: naptr string %d overruns RR: %w", i, dnserr.ErrMalformed)
		}
		it.NaptrStrs[i] = append([]byte(nil), buf[pos:pos+l]...)
		pos += l
	}

	n, newPos, err := readJournalName(buf, pos)
	if err != nil {
		return it, 0, err
	}
	it.NaptrReplacement = n
	return it, newPos, nil
}
