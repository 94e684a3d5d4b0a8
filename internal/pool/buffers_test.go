package pool

import (
	"testing"

	"github.com/miekg/dns"
)

func TestMessagePool(t *testing.T) {
	msg := GetMessage()
	if msg == nil {
		t.Fatal("GetMessage() returned nil")
	}

	msg.Id = 0x1234
	msg.SetQuestion("example.com.", dns.TypeA)

	PutMessage(msg)

	msg2 := GetMessage()
	if msg2.Id != 0 {
		t.Errorf("message not reset: Id = %d, want 0", msg2.Id)
	}
	if len(msg2.Question) != 0 {
		t.Errorf("message not reset: Question len = %d, want 0", len(msg2.Question))
	}
	PutMessage(msg2)
}

func TestPutMessage_Nil(t *testing.T) {
	// Should not panic
	PutMessage(nil)
}

func TestMessageReset(t *testing.T) {
	msg := GetMessage()

	msg.Id = 0x1234
	msg.Response = true
	msg.Opcode = dns.OpcodeQuery
	msg.Authoritative = true
	msg.Truncated = true
	msg.RecursionDesired = true
	msg.RecursionAvailable = true
	msg.AuthenticatedData = true
	msg.CheckingDisabled = true
	msg.Rcode = dns.RcodeServerFailure

	msg.Question = append(msg.Question, dns.Question{
		Name:   "example.com.",
		Qtype:  dns.TypeA,
		Qclass: dns.ClassINET,
	})

	PutMessage(msg)

	msg2 := GetMessage()

	if msg2.Id != 0 {
		t.Errorf("Id not reset: got %d", msg2.Id)
	}
	if msg2.Response {
		t.Error("Response not reset")
	}
	if msg2.Opcode != 0 {
		t.Error("Opcode not reset")
	}
	if msg2.Authoritative {
		t.Error("Authoritative not reset")
	}
	if msg2.Truncated {
		t.Error("Truncated not reset")
	}
	if msg2.RecursionDesired {
		t.Error("RecursionDesired not reset")
	}
	if msg2.RecursionAvailable {
		t.Error("RecursionAvailable not reset")
	}
	if msg2.AuthenticatedData {
		t.Error("AuthenticatedData not reset")
	}
	if msg2.CheckingDisabled {
		t.Error("CheckingDisabled not reset")
	}
	if msg2.Rcode != 0 {
		t.Errorf("Rcode not reset: got %d", msg2.Rcode)
	}
	if len(msg2.Question) != 0 {
		t.Errorf("Question not reset: len = %d", len(msg2.Question))
	}

	PutMessage(msg2)
}

func TestGetBufferSelectsSmallestFittingClass(t *testing.T) {
	tests := []struct {
		size        int
		expectedCap int
	}{
		{100, UDPBufferSize},
		{UDPBufferSize, UDPBufferSize},
		{1024, EDNSBufferSize},
		{EDNSBufferSize, EDNSBufferSize},
		{8192, MaxMessageBufferSize},
		{MaxMessageBufferSize, MaxMessageBufferSize},
	}

	for _, tt := range tests {
		buf := GetBuffer(tt.size)
		if cap(buf) != tt.expectedCap {
			t.Errorf("GetBuffer(%d) cap = %d, want %d", tt.size, cap(buf), tt.expectedCap)
		}
		PutBuffer(buf)
	}
}

func TestPutBufferRoutesEachSizeClass(t *testing.T) {
	udp := GetBuffer(UDPBufferSize)
	PutBuffer(udp)

	edns := GetBuffer(EDNSBufferSize)
	PutBuffer(edns)

	max := GetBuffer(MaxMessageBufferSize)
	PutBuffer(max)

	// An oddly-sized buffer a caller built itself is silently dropped,
	// not pooled.
	weird := make([]byte, 1234)
	PutBuffer(weird)
}

func BenchmarkMessagePool(b *testing.B) {
	for i := 0; i < b.N; i++ {
		msg := GetMessage()
		msg.SetQuestion("example.com.", dns.TypeA)
		PutMessage(msg)
	}
}

func BenchmarkMessageNew(b *testing.B) {
	for i := 0; i < b.N; i++ {
		msg := new(dns.Msg)
		msg.SetQuestion("example.com.", dns.TypeA)
	}
}

func BenchmarkGetBufferUDP(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := GetBuffer(UDPBufferSize)
		PutBuffer(buf)
	}
}

func BenchmarkGetBufferEDNS(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := GetBuffer(EDNSBufferSize)
		PutBuffer(buf)
	}
}

func BenchmarkGetBufferMaxMessage(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := GetBuffer(MaxMessageBufferSize)
		PutBuffer(buf)
	}
}
