package udp_test

import (
	"bytes"
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/go-quicktest/qt"
	"github.com/stretchr/testify/require"

	"github.com/anacrolix/swarmcheck/tracker/udp"
	udpTrackerServer "github.com/anacrolix/swarmcheck/tracker/udp/server"
	"github.com/anacrolix/swarmcheck/types/infohash"
)

func startTracker(t *testing.T, scrape udpTrackerServer.ScrapeTracker) (host string) {
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })
	s := udpTrackerServer.NewServer(pc, scrape)
	go udpTrackerServer.RunSimple(context.Background(), s, pc)
	return pc.LocalAddr().String()
}

var (
	ihAlive   = infohash.FromHexString("c833bb2b5e7bcb9c07f4c020b4be430c28ba7cdb")
	ihDead    = infohash.FromHexString("0000000000000000000000000000000000000001")
	ihUnknown = infohash.FromHexString("ffffffffffffffffffffffffffffffffffffffff")
)

func TestScrapeLocalhost(t *testing.T) {
	host := startTracker(t, udpTrackerServer.MapScrapeTracker{
		ihAlive: {Seeders: 5, Completed: 10, Leechers: 2},
		ihDead:  {},
	})
	res, err := udp.Scrape(context.Background(), udp.SessionOpts{
		Network: "udp4",
		Host:    host,
		Timeout: 2 * time.Second,
	}, udp.ScrapeRequest{ihAlive, ihDead, ihUnknown})
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.DeepEquals(res, udp.ScrapeResult{
		ihAlive:   {Seeders: 5, Completed: 10, Leechers: 2},
		ihDead:    {},
		ihUnknown: {},
	}))
}

func TestScrapeSilentTrackerTimesOut(t *testing.T) {
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	started := time.Now()
	res, err := udp.Scrape(context.Background(), udp.SessionOpts{
		Network: "udp4",
		Host:    pc.LocalAddr().String(),
		Timeout: 100 * time.Millisecond,
	}, udp.ScrapeRequest{ihAlive})
	qt.Check(t, qt.ErrorIs(err, os.ErrDeadlineExceeded))
	qt.Check(t, qt.HasLen(res, 0))
	qt.Check(t, qt.IsTrue(time.Since(started) < 2*time.Second))
}

func TestScrapeContextCancelled(t *testing.T) {
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err = udp.Scrape(ctx, udp.SessionOpts{
		Network: "udp4",
		Host:    pc.LocalAddr().String(),
		Timeout: time.Minute,
	}, udp.ScrapeRequest{ihAlive})
	qt.Check(t, qt.ErrorIs(err, context.Canceled))
}

func TestScrapeBadHost(t *testing.T) {
	_, err := udp.Scrape(context.Background(), udp.SessionOpts{
		Host:    "no port here",
		Timeout: time.Second,
	}, udp.ScrapeRequest{ihAlive})
	qt.Check(t, qt.IsNotNil(err))
}

func TestScrapeStaleCachedConnIdReconnects(t *testing.T) {
	host := startTracker(t, udpTrackerServer.MapScrapeTracker{
		ihAlive: {Seeders: 1, Leechers: 1},
	})
	var cache udp.ConnIdCache
	// The tracker has never issued this.
	cache.Set(host, 12345)
	opts := udp.SessionOpts{
		Network: "udp4",
		Host:    host,
		Timeout: 2 * time.Second,
		ConnIds: &cache,
	}
	res, err := udp.Scrape(context.Background(), opts, udp.ScrapeRequest{ihAlive})
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(res[ihAlive], udp.ScrapeInfohashResult{Seeders: 1, Leechers: 1}))
	id, ok := cache.Get(host)
	qt.Assert(t, qt.IsTrue(ok))
	qt.Check(t, qt.Not(qt.Equals(id, udp.ConnectionId(12345))))
	// Every session uses a new socket, and the server tracks IDs per source address, so the
	// cached ID is rejected again and we reconnect again.
	res, err = udp.Scrape(context.Background(), opts, udp.ScrapeRequest{ihAlive})
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.HasLen(res, 1))
}

// Serves connects with a fixed connection ID, and silently drops scrapes carrying any other.
func startStrictTracker(t *testing.T, connId udp.ConnectionId, result udp.ScrapeInfohashResult) (host string) {
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })
	go func() {
		b := make([]byte, 1500)
		for {
			n, addr, err := pc.ReadFrom(b)
			if err != nil {
				return
			}
			var h udp.RequestHeader
			if udp.Read(bytes.NewReader(b[:n]), &h) != nil {
				continue
			}
			var resp bytes.Buffer
			switch h.Action {
			case udp.ActionConnect:
				udp.Write(&resp, udp.ResponseHeader{Action: udp.ActionConnect, TransactionId: h.TransactionId})
				udp.Write(&resp, udp.ConnectionResponse{ConnectionId: connId})
			case udp.ActionScrape:
				if h.ConnectionId != connId {
					continue
				}
				udp.Write(&resp, udp.ResponseHeader{Action: udp.ActionScrape, TransactionId: h.TransactionId})
				for range (n - 16) / infohash.Size {
					udp.Write(&resp, result)
				}
			default:
				continue
			}
			pc.WriteTo(resp.Bytes(), addr)
		}
	}()
	return pc.LocalAddr().String()
}

func TestScrapeDroppedCachedConnIdReconnects(t *testing.T) {
	host := startStrictTracker(t, 7, udp.ScrapeInfohashResult{Seeders: 3})
	var cache udp.ConnIdCache
	cache.Set(host, 12345)
	opts := udp.SessionOpts{
		Network: "udp4",
		Host:    host,
		Timeout: 200 * time.Millisecond,
		ConnIds: &cache,
	}
	res, err := udp.Scrape(context.Background(), opts, udp.ScrapeRequest{ihAlive})
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(res[ihAlive], udp.ScrapeInfohashResult{Seeders: 3}))
	id, ok := cache.Get(host)
	qt.Assert(t, qt.IsTrue(ok))
	qt.Check(t, qt.Equals(id, udp.ConnectionId(7)))
	// The fresh ID is good for the next session too.
	res, err = udp.Scrape(context.Background(), opts, udp.ScrapeRequest{ihAlive, ihDead})
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.HasLen(res, 2))
}

func TestScrapeUncachedFailureDoesNotRetry(t *testing.T) {
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	var cache udp.ConnIdCache
	started := time.Now()
	_, err = udp.Scrape(context.Background(), udp.SessionOpts{
		Network: "udp4",
		Host:    pc.LocalAddr().String(),
		Timeout: 100 * time.Millisecond,
		ConnIds: &cache,
	}, udp.ScrapeRequest{ihAlive})
	qt.Check(t, qt.ErrorIs(err, os.ErrDeadlineExceeded))
	qt.Check(t, qt.IsTrue(time.Since(started) < time.Second))
	_, ok := cache.Get(pc.LocalAddr().String())
	qt.Check(t, qt.IsFalse(ok))
}

// Responses must come from the address the request went to, even with the right transaction ID.
func TestScrapeIgnoresOtherSources(t *testing.T) {
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	spoofer, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer spoofer.Close()
	go func() {
		b := make([]byte, 1500)
		for {
			n, addr, err := pc.ReadFrom(b)
			if err != nil {
				return
			}
			var h udp.RequestHeader
			if n < 16 || udp.Read(bytes.NewReader(b[:n]), &h) != nil {
				continue
			}
			var resp bytes.Buffer
			udp.Write(&resp, udp.ResponseHeader{Action: udp.ActionConnect, TransactionId: h.TransactionId})
			udp.Write(&resp, udp.ConnectionResponse{ConnectionId: 1})
			spoofer.WriteTo(resp.Bytes(), addr)
		}
	}()
	_, err = udp.Scrape(context.Background(), udp.SessionOpts{
		Network: "udp4",
		Host:    pc.LocalAddr().String(),
		Timeout: 200 * time.Millisecond,
	}, udp.ScrapeRequest{ihAlive})
	qt.Check(t, qt.ErrorIs(err, os.ErrDeadlineExceeded))
}

func TestScrapeTooManyInfohashes(t *testing.T) {
	_, err := udp.Scrape(context.Background(), udp.SessionOpts{
		Host:    "127.0.0.1:1",
		Timeout: time.Second,
	}, make(udp.ScrapeRequest, udp.MaxScrapeInfohashes+1))
	qt.Check(t, qt.ErrorIs(err, udp.ErrTooManyInfohashes))
}

// A tracker that answers every datagram with garbage carrying the right transaction ID.
func TestScrapeGarbageResponse(t *testing.T) {
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	go func() {
		b := make([]byte, 1500)
		for {
			n, addr, err := pc.ReadFrom(b)
			if err != nil {
				return
			}
			if n < 16 {
				continue
			}
			// Right transaction ID, wrong action, odd length.
			resp := append([]byte{0, 0, 0, 9}, b[12:16]...)
			resp = append(resp, 1, 2, 3)
			pc.WriteTo(resp, addr)
		}
	}()
	_, err = udp.Scrape(context.Background(), udp.SessionOpts{
		Network: "udp4",
		Host:    pc.LocalAddr().String(),
		Timeout: time.Second,
	}, udp.ScrapeRequest{ihAlive})
	qt.Assert(t, qt.IsNotNil(err))
	qt.Check(t, qt.IsTrue(udp.IsProtocolError(err)))
}
