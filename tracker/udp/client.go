package udp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const DefaultTimeout = 5 * time.Second

type SessionOpts struct {
	// The network to operate to use, such as "udp4", "udp", "udp6".
	Network string
	// Tracker address, as host:port.
	Host string
	// Bounds address resolution, and each of the connect and scrape round trips separately.
	Timeout time.Duration
	// Defaults to net.ListenPacket. Each session listens on its own socket.
	ListenPacket func(network, addr string) (net.PacketConn, error)
	// If non-nil, connection IDs are shared with other sessions to the same Host. A rejected
	// cached ID is forgotten and a fresh connect is done.
	ConnIds *ConnIdCache
	// If non-nil, each datagram sent waits on this.
	SendLimiter *rate.Limiter
}

func (me *SessionOpts) network() string {
	if me.Network != "" {
		return me.Network
	}
	return "udp"
}

func (me *SessionOpts) timeout() time.Duration {
	if me.Timeout > 0 {
		return me.Timeout
	}
	return DefaultTimeout
}

func (me *SessionOpts) listenPacket(network string) (net.PacketConn, error) {
	if me.ListenPacket != nil {
		return me.ListenPacket(network, ":0")
	}
	return net.ListenPacket(network, ":0")
}

var tracer = otel.Tracer("swarmcheck.tracker.udp")

// Does a connect and scrape exchange with a single tracker for up to MaxScrapeInfohashes
// infohashes. The only retry is a fresh connect when a cached connection ID fails. Panics from
// malformed responses are returned as errors.
func Scrape(ctx context.Context, opts SessionOpts, req ScrapeRequest) (ret ScrapeResult, err error) {
	ctx, span := tracer.Start(ctx, "Scrape", trace.WithAttributes(
		attribute.String("tracker.host", opts.Host),
		attribute.Int("infohashes", len(req)),
	))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			ret = nil
			err = fmt.Errorf("panic scraping %q: %v", opts.Host, r)
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return
		}
		span.SetAttributes(attribute.Int("results", len(ret)))
	}()
	if len(req) > MaxScrapeInfohashes {
		err = fmt.Errorf("%w: %d", ErrTooManyInfohashes, len(req))
		return
	}
	s, err := newSession(ctx, opts)
	if err != nil {
		return
	}
	defer s.Close()
	return s.scrape(ctx, req)
}

type session struct {
	opts SessionOpts
	pc   net.PacketConn
	addr *net.UDPAddr
	buf  []byte
}

func newSession(ctx context.Context, opts SessionOpts) (_ *session, err error) {
	network := opts.network()
	addr, err := resolveAddr(ctx, network, opts.Host, opts.timeout())
	if err != nil {
		err = fmt.Errorf("resolving %q: %w", opts.Host, err)
		return
	}
	pc, err := opts.listenPacket(network)
	if err != nil {
		err = fmt.Errorf("listening: %w", err)
		return
	}
	return &session{
		opts: opts,
		pc:   pc,
		addr: addr,
		buf:  make([]byte, 0x800),
	}, nil
}

func (s *session) Close() error {
	return s.pc.Close()
}

func ipNetwork(udpNetwork string) string {
	switch udpNetwork {
	case "udp4":
		return "ip4"
	case "udp6":
		return "ip6"
	}
	return "ip"
}

func resolveAddr(ctx context.Context, network, hostPort string, timeout time.Duration) (*net.UDPAddr, error) {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	port, err := net.DefaultResolver.LookupPort(ctx, network, portStr)
	if err != nil {
		return nil, err
	}
	ips, err := net.DefaultResolver.LookupNetIP(ctx, ipNetwork(network), host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, errors.New("no ips")
	}
	return net.UDPAddrFromAddrPort(netip.AddrPortFrom(ips[0].Unmap(), uint16(port))), nil
}

func (s *session) scrape(ctx context.Context, req ScrapeRequest) (ScrapeResult, error) {
	connId, cached, err := s.connId(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	resp, err := s.scrapeRoundTrip(ctx, connId, req)
	if cached && err != nil && ctx.Err() == nil {
		// Some trackers answer a stale connection ID with an error, others drop the request.
		// Either way the ID is no good, so start over with a fresh connect.
		s.opts.ConnIds.Forget(s.opts.Host)
		staleErr := err
		connId, err = s.connect(ctx)
		if err != nil {
			return nil, fmt.Errorf("reconnecting after %v: %w", staleErr, err)
		}
		resp, err = s.scrapeRoundTrip(ctx, connId, req)
	}
	if err != nil {
		return nil, fmt.Errorf("scraping: %w", err)
	}
	return resp.Result(req), nil
}

func (s *session) connId(ctx context.Context) (id ConnectionId, cached bool, err error) {
	if c := s.opts.ConnIds; c != nil {
		id, cached = c.Get(s.opts.Host)
		if cached {
			return
		}
	}
	id, err = s.connect(ctx)
	return
}

// This just does the connect request and updates the cache if it succeeds.
func (s *session) connect(ctx context.Context) (id ConnectionId, err error) {
	tid := NewTransactionId()
	b, err := s.roundTrip(ctx, EncodeConnectRequest(tid), tid)
	if err != nil {
		return
	}
	id, err = DecodeConnectResponse(b, tid)
	if err != nil {
		return
	}
	if c := s.opts.ConnIds; c != nil {
		c.Set(s.opts.Host, id)
	}
	return
}

func (s *session) scrapeRoundTrip(ctx context.Context, connId ConnectionId, req ScrapeRequest) (resp ScrapeResponse, err error) {
	tid := NewTransactionId()
	b, err := EncodeScrapeRequest(connId, tid, req)
	if err != nil {
		return
	}
	b, err = s.roundTrip(ctx, b, tid)
	if err != nil {
		return
	}
	return DecodeScrapeResponse(b, tid, len(req))
}

// Sends the request once, then waits for a datagram from the tracker carrying the same
// transaction ID. Anything else received meanwhile is ignored. The returned slice is only valid
// until the next round trip.
func (s *session) roundTrip(ctx context.Context, req []byte, tid TransactionId) ([]byte, error) {
	if l := s.opts.SendLimiter; l != nil {
		if err := l.Wait(ctx); err != nil {
			return nil, err
		}
	}
	deadline := time.Now().Add(s.opts.timeout())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.pc.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		s.pc.SetReadDeadline(time.Now())
	})
	defer stop()
	n, err := s.pc.WriteTo(req, s.addr)
	if err != nil {
		return nil, fmt.Errorf("write error: %w", err)
	}
	if n < len(req) {
		return nil, io.ErrShortWrite
	}
	for {
		n, from, err := s.pc.ReadFrom(s.buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read error: %w", err)
		}
		if !sameAddr(from, s.addr) {
			continue
		}
		b := s.buf[:n]
		if n < responseHeaderLen || TransactionId(binary.BigEndian.Uint32(b[4:8])) != tid {
			continue
		}
		return b, nil
	}
}

func sameAddr(a net.Addr, want *net.UDPAddr) bool {
	ua, ok := a.(*net.UDPAddr)
	if !ok {
		return a != nil && a.String() == want.String()
	}
	ap, wantAp := ua.AddrPort(), want.AddrPort()
	return ap.Addr().Unmap() == wantAp.Addr().Unmap() && ap.Port() == wantAp.Port()
}
