package transport

import (
	"context"
	"net"
)

type clientAddrKey struct{}
type transportLabelKey struct{}

// WithTransportLabel attaches a short transport name (e.g. "tls") to ctx
// for handlers that report per-transport metrics/logs but only see a
// context, not which listener dispatched the query.
func WithTransportLabel(ctx context.Context, label string) context.Context {
	return context.WithValue(ctx, transportLabelKey{}, label)
}

// LabelFromContext returns the label set by WithTransportLabel, or def if
// none was set.
func LabelFromContext(ctx context.Context, def string) string {
	if label, ok := ctx.Value(transportLabelKey{}).(string); ok {
		return label
	}
	return def
}

// WithClientAddr attaches the transport-level peer address to ctx. The
// Handler interface only takes a context and a *dns.Msg, so DoH/DoT
// listeners that don't hand the server a net.Conn or dns.ResponseWriter
// have no other way to surface who asked: without this, every ACL, QPS
// limiter, RRL, and DNS cookie check gated on a non-nil client IP
// silently no-ops for HTTPS/TLS transports.
func WithClientAddr(ctx context.Context, addr net.Addr) context.Context {
	return context.WithValue(ctx, clientAddrKey{}, addr)
}

// ClientAddrFromContext returns the address stored by WithClientAddr, or
// nil if the context carries none.
func ClientAddrFromContext(ctx context.Context) net.Addr {
	addr, _ := ctx.Value(clientAddrKey{}).(net.Addr)
	return addr
}

// ClientIPFromContext extracts just the IP, handling both net.TCPAddr
// (DoT) and the host:port string form a http.Request.RemoteAddr parses
// into (DoH).
func ClientIPFromContext(ctx context.Context) net.IP {
	addr := ClientAddrFromContext(ctx)
	if addr == nil {
		return nil
	}
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return net.ParseIP(addr.String())
	}
	return net.ParseIP(host)
}
