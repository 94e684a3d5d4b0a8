// Package pool reuses the few allocation-heavy values the authoritative
// query path touches on every request: a miekg/dns.Msg and the scratch
// buffer internal/rrset.Encoder writes a response into before it goes
// out on the wire, so a high query rate doesn't translate directly into
// GC pressure.
package pool

import (
	"sync"

	"github.com/miekg/dns"
)

// Buffer size classes, named for the DNS transport/extension that
// drives each one rather than generic "small/medium/large" labels.
const (
	// UDPBufferSize is the classic (non-EDNS0) UDP response ceiling.
	UDPBufferSize = 512

	// EDNSBufferSize covers the EDNS0 payload size this server
	// advertises; internal/rrset.EncodeScratch draws its scratch
	// buffer from this pool.
	EDNSBufferSize = 4096

	// MaxMessageBufferSize is the largest a DNS message can be
	// (TCP/DoT/DoH transports), used as the fallback pool for anything
	// EDNSBufferSize won't hold.
	MaxMessageBufferSize = 65535
)

// MessagePool reuses *dns.Msg values across queries.
var MessagePool = sync.Pool{
	New: func() interface{} {
		return new(dns.Msg)
	},
}

// GetMessage draws a zeroed *dns.Msg from the pool.
func GetMessage() *dns.Msg {
	return MessagePool.Get().(*dns.Msg)
}

// PutMessage clears msg and returns it to the pool. Every mutable field
// is reset explicitly rather than replaced with new(dns.Msg) so the
// slices' backing arrays are retained for the next caller.
func PutMessage(msg *dns.Msg) {
	if msg == nil {
		return
	}

	msg.Id = 0
	msg.Response = false
	msg.Opcode = 0
	msg.Authoritative = false
	msg.Truncated = false
	msg.RecursionDesired = false
	msg.RecursionAvailable = false
	msg.Zero = false
	msg.AuthenticatedData = false
	msg.CheckingDisabled = false
	msg.Rcode = 0

	msg.Question = msg.Question[:0]
	msg.Answer = msg.Answer[:0]
	msg.Ns = msg.Ns[:0]
	msg.Extra = msg.Extra[:0]

	MessagePool.Put(msg)
}

var udpBufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, UDPBufferSize)
		return &buf
	},
}

var ednsBufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, EDNSBufferSize)
		return &buf
	},
}

var maxMessageBufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, MaxMessageBufferSize)
		return &buf
	},
}

// GetBuffer returns a buffer of at least size bytes from the smallest
// pool class that fits it.
func GetBuffer(size int) []byte {
	switch {
	case size <= UDPBufferSize:
		bufPtr := udpBufferPool.Get().(*[]byte)
		return (*bufPtr)[:UDPBufferSize]
	case size <= EDNSBufferSize:
		bufPtr := ednsBufferPool.Get().(*[]byte)
		return (*bufPtr)[:EDNSBufferSize]
	default:
		bufPtr := maxMessageBufferPool.Get().(*[]byte)
		return (*bufPtr)[:MaxMessageBufferSize]
	}
}

// PutBuffer returns buf to the pool matching its capacity. Buffers of a
// capacity GetBuffer never hands out are silently dropped rather than
// pooled, since that only happens if a caller built its own slice.
func PutBuffer(buf []byte) {
	buf = buf[:cap(buf)]
	switch cap(buf) {
	case UDPBufferSize:
		udpBufferPool.Put(&buf)
	case EDNSBufferSize:
		ednsBufferPool.Put(&buf)
	case MaxMessageBufferSize:
		maxMessageBufferPool.Put(&buf)
	}
}
