package udpTrackerServer

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/anacrolix/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/anacrolix/swarmcheck/tracker/udp"
	"github.com/anacrolix/swarmcheck/types/infohash"
)

type ConnectionTrackerAddr = string

type ConnectionTracker interface {
	Add(ctx context.Context, addr ConnectionTrackerAddr, id udp.ConnectionId) error
	Check(ctx context.Context, addr ConnectionTrackerAddr, id udp.ConnectionId) (bool, error)
}

// Supplies the counts served for scrapes. Results must be positionally aligned with ihs.
type ScrapeTracker interface {
	Scrape(ctx context.Context, ihs []infohash.T) ([]udp.ScrapeInfohashResult, error)
}

type Server struct {
	ConnTracker  ConnectionTracker
	SendResponse func(ctx context.Context, data []byte, addr net.Addr) (int, error)
	Scrape       ScrapeTracker
}

// A Server answering on pc with an in-memory ConnectionTracker.
func NewServer(pc net.PacketConn, scrape ScrapeTracker) *Server {
	return &Server{
		ConnTracker:  &MemoryConnTracker{},
		SendResponse: PacketConnSender(pc),
		Scrape:       scrape,
	}
}

type RequestSourceAddr = net.Addr

var tracer = otel.Tracer("swarmcheck.tracker.udp.server")

func (me *Server) HandleRequest(
	ctx context.Context,
	source RequestSourceAddr,
	body []byte,
) (err error) {
	ctx, span := tracer.Start(ctx, "Server.HandleRequest",
		trace.WithAttributes(attribute.Int("payload.len", len(body))))
	defer span.End()
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	var h udp.RequestHeader
	var r bytes.Reader
	r.Reset(body)
	err = udp.Read(&r, &h)
	if err != nil {
		err = fmt.Errorf("reading request header: %w", err)
		return err
	}
	switch h.Action {
	case udp.ActionConnect:
		if h.ConnectionId != udp.ConnectRequestConnectionId {
			return fmt.Errorf("bad protocol id %#x", h.ConnectionId)
		}
		err = me.handleConnect(ctx, source, h.TransactionId)
	case udp.ActionScrape:
		err = me.handleScrape(ctx, source, h.ConnectionId, h.TransactionId, &r)
	default:
		err = errors.New("unimplemented")
		me.respondError(ctx, source, h.TransactionId, "unhandled action")
	}
	if err != nil {
		err = fmt.Errorf("handling action %v: %w", h.Action, err)
	}
	return err
}

func (me *Server) handleScrape(
	ctx context.Context,
	source RequestSourceAddr,
	connId udp.ConnectionId,
	tid udp.TransactionId,
	r *bytes.Reader,
) error {
	ok, err := me.ConnTracker.Check(ctx, source.String(), connId)
	if err != nil {
		err = fmt.Errorf("checking conn id: %w", err)
		return err
	}
	if !ok {
		me.respondError(ctx, source, tid, udp.ConnectionIdMissmatchNul)
		return fmt.Errorf("incorrect connection id: %x", connId)
	}
	if r.Len()%infohash.Size != 0 {
		return fmt.Errorf("scrape body length %v not a multiple of %v", r.Len(), infohash.Size)
	}
	ihs := make([]infohash.T, r.Len()/infohash.Size)
	if len(ihs) > udp.MaxScrapeInfohashes {
		return fmt.Errorf("%w: %d", udp.ErrTooManyInfohashes, len(ihs))
	}
	for i := range ihs {
		_, err = io.ReadFull(r, ihs[i][:])
		if err != nil {
			return err
		}
	}
	results, err := me.Scrape.Scrape(ctx, ihs)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	err = udp.Write(&buf, udp.ResponseHeader{
		Action:        udp.ActionScrape,
		TransactionId: tid,
	})
	if err != nil {
		return err
	}
	err = udp.Write(&buf, results)
	if err != nil {
		return err
	}
	return me.send(ctx, buf.Bytes(), source)
}

func (me *Server) handleConnect(ctx context.Context, source RequestSourceAddr, tid udp.TransactionId) error {
	connId := randomConnectionId()
	err := me.ConnTracker.Add(ctx, source.String(), connId)
	if err != nil {
		err = fmt.Errorf("recording conn id: %w", err)
		return err
	}
	var buf bytes.Buffer
	udp.Write(&buf, udp.ResponseHeader{
		Action:        udp.ActionConnect,
		TransactionId: tid,
	})
	udp.Write(&buf, udp.ConnectionResponse{ConnectionId: connId})
	return me.send(ctx, buf.Bytes(), source)
}

func (me *Server) respondError(ctx context.Context, source RequestSourceAddr, tid udp.TransactionId, msg string) {
	var buf bytes.Buffer
	udp.Write(&buf, udp.ResponseHeader{
		Action:        udp.ActionError,
		TransactionId: tid,
	})
	buf.WriteString(msg)
	err := me.send(ctx, buf.Bytes(), source)
	if err != nil {
		log.Levelf(log.Debug, "sending error response to %v: %v", source, err)
	}
}

func (me *Server) send(ctx context.Context, b []byte, addr net.Addr) error {
	n, err := me.SendResponse(ctx, b, addr)
	if err != nil {
		return err
	}
	if n < len(b) {
		err = io.ErrShortWrite
	}
	return err
}

func randomConnectionId() udp.ConnectionId {
	var b [8]byte
	_, err := rand.Read(b[:])
	if err != nil {
		panic(err)
	}
	return binary.BigEndian.Uint64(b[:])
}

// Connection IDs issued per source address. Never expires anything.
type MemoryConnTracker struct {
	mu sync.Mutex
	m  map[ConnectionTrackerAddr]map[udp.ConnectionId]struct{}
}

func (me *MemoryConnTracker) Add(ctx context.Context, addr ConnectionTrackerAddr, id udp.ConnectionId) error {
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.m == nil {
		me.m = make(map[ConnectionTrackerAddr]map[udp.ConnectionId]struct{})
	}
	ids := me.m[addr]
	if ids == nil {
		ids = make(map[udp.ConnectionId]struct{})
		me.m[addr] = ids
	}
	ids[id] = struct{}{}
	return nil
}

func (me *MemoryConnTracker) Check(ctx context.Context, addr ConnectionTrackerAddr, id udp.ConnectionId) (bool, error) {
	me.mu.Lock()
	defer me.mu.Unlock()
	_, ok := me.m[addr][id]
	return ok, nil
}

// Serves fixed counts. Unknown infohashes are reported as all zero, like most public trackers do.
type MapScrapeTracker map[infohash.T]udp.ScrapeInfohashResult

func (me MapScrapeTracker) Scrape(ctx context.Context, ihs []infohash.T) (ret []udp.ScrapeInfohashResult, err error) {
	ret = make([]udp.ScrapeInfohashResult, 0, len(ihs))
	for _, ih := range ihs {
		ret = append(ret, me[ih])
	}
	return
}

func RunSimple(ctx context.Context, s *Server, pc net.PacketConn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var b [1500]byte
	// Limit concurrent handled requests.
	sem := make(chan struct{}, 1000)
	for {
		n, addr, err := pc.ReadFrom(b[:])
		ctx, span := tracer.Start(ctx, "handle udp packet")
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return err
		}
		select {
		case <-ctx.Done():
			span.SetStatus(codes.Error, ctx.Err().Error())
			span.End()
			return ctx.Err()
		default:
			span.SetStatus(codes.Error, "concurrency limit reached")
			span.End()
			log.Levelf(log.Debug, "dropping request from %v: concurrency limit reached", addr)
			continue
		case sem <- struct{}{}:
		}
		b := append([]byte(nil), b[:n]...)
		go func() {
			defer span.End()
			defer func() { <-sem }()
			err := s.HandleRequest(ctx, addr, b)
			if err != nil {
				log.Levelf(log.Debug, "error handling %v byte request from %v: %v", n, addr, err)
			}
		}()
	}
}

// Sends responses back out the same PacketConn that RunSimple reads from.
func PacketConnSender(pc net.PacketConn) func(context.Context, []byte, net.Addr) (int, error) {
	return func(_ context.Context, data []byte, addr net.Addr) (int, error) {
		return pc.WriteTo(data, addr)
	}
}
