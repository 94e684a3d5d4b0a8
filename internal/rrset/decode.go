package rrset

import (
	"fmt"

	"github.com/dnsscience/authcore/internal/dnserr"
	"github.com/dnsscience/authcore/internal/name"
	"github.com/dnsscience/authcore/internal/rrtype"
)

// Decode parses a single RR's RDATA out of msg, starting at pos, given
// its already-parsed rtype and rdlength. It returns the built RR and the
// offset immediately following the RDATA.
//
// Embedded names are parsed with name.Parse regardless of whether their
// block is Name or CompressibleName: decompression is symmetric for
// both, the distinction only matters to the encoder's choice of whether
// to compress on write.
func Decode(rtype uint16, msg []byte, pos, rdlength int) (RR, int, error) {
	if rdlength < 0 || pos+rdlength > len(msg) {
		return RR{}, 0, fmt.Errorf("rrset: decode: rdlength %d overruns message at %d: %w", rdlength, pos, dnserr.ErrMalformed)
	}
	end := pos + rdlength
	d := rrtype.Lookup(rtype)

	items := make([]Item, len(d))
	for i, b := range d {
		var err error
		switch b.Kind {
		case rrtype.Fixed:
			if pos+b.Len > end {
				return RR{}, 0, fmt.Errorf("rrset: decode: fixed block wants %d bytes, %d remain: %w", b.Len, end-pos, dnserr.ErrMalformed)
			}
			items[i].Bytes = append([]byte(nil), msg[pos:pos+b.Len]...)
			pos += b.Len

		case rrtype.Name, rrtype.CompressibleName:
			var n *name.Name
			n, pos, err = name.Parse(msg, pos)
			if err != nil {
				return RR{}, 0, fmt.Errorf("rrset: decode: %w", err)
			}
			if pos > end {
				return RR{}, 0, fmt.Errorf("rrset: decode: embedded name overruns rdata: %w", dnserr.ErrMalformed)
			}
			items[i].Name = n

		case rrtype.Remainder:
			if pos > end {
				return RR{}, 0, fmt.Errorf("rrset: decode: remainder underruns cursor: %w", dnserr.ErrMalformed)
			}
			items[i].Bytes = append([]byte(nil), msg[pos:end]...)
			pos = end

		case rrtype.NaptrSpecial:
			items[i], pos, err = decodeNaptr(msg, pos, end)
			if err != nil {
				return RR{}, 0, err
			}
		}
	}

	if pos != end {
		return RR{}, 0, fmt.Errorf("rrset: decode: %d trailing bytes in rdata: %w", end-pos, dnserr.ErrMalformed)
	}

	if err := validateRR(d, RR{items: items}); err != nil {
		return RR{}, 0, err
	}
	return RR{items: items}, pos, nil
}

func decodeNaptr(msg []byte, pos, end int) (Item, int, error) {
	if pos+4 > end {
		return Item{}, 0, fmt.Errorf("rrset: decode: naptr prefix truncated: %w", dnserr.ErrMalformed)
	}
	it := Item{
		NaptrOrder: uint16(msg[pos])<<8 | uint16(msg[pos+1]),
		NaptrPref:  uint16(msg[pos+2])<<8 | uint16(msg[pos+3]),
	}
	pos += 4

	for i := 0; i < 3; i++ {
		if pos >= end {
			return Item{}, 0, fmt.Errorf("rrset: decode: naptr string %d truncated: %w", i, dnserr.ErrMalformed)
		}
		l := int(msg[pos])
		pos++
		if pos+l > end {
			return Item{}, 0, fmt.Errorf("rrset: decode: naptr string %d overruns rdata: %w", i, dnserr.ErrMalformed)
		}
		it.NaptrStrs[i] = append([]byte(nil), msg[pos:pos+l]...)
		pos += l
	}

	n, newPos, err := name.Parse(msg, pos)
	if err != nil {
		return Item{}, 0, fmt.Errorf("rrset: decode: naptr replacement: %w", err)
	}
	if newPos > end {
		return Item{}, 0, fmt.Errorf("rrset: decode: naptr replacement overruns rdata: %w", dnserr.ErrMalformed)
	}
	it.NaptrReplacement = n
	return it, newPos, nil
}
