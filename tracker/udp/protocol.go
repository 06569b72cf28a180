package udp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
)

type Action int32

// BEP 15 actions. Announce is only recognized so that it can be refused.
const (
	ActionConnect Action = iota
	ActionAnnounce
	ActionScrape
	ActionError
)

func (a Action) String() string {
	switch a {
	case ActionConnect:
		return "connect"
	case ActionAnnounce:
		return "announce"
	case ActionScrape:
		return "scrape"
	case ActionError:
		return "error"
	}
	return fmt.Sprintf("Action(%d)", int32(a))
}

// The magic "protocol id" sent in place of a connection ID in connect requests.
const ConnectRequestConnectionId = 0x41727101980

type (
	ConnectionId  = uint64
	TransactionId = int32
)

// Marshalled as binary, so be careful making changes.
type RequestHeader struct {
	ConnectionId  ConnectionId
	Action        Action
	TransactionId TransactionId
} // 16 bytes

type ResponseHeader struct {
	Action        Action
	TransactionId TransactionId
} // 8 bytes

type ConnectionResponse struct {
	ConnectionId ConnectionId
}

const (
	requestHeaderLen     = 16
	responseHeaderLen    = 8
	connectResponseLen   = responseHeaderLen + 8
	scrapeResultLen      = 12
	scrapeRequestItemLen = 20
)

// Trackers drop scrapes for more infohashes than this, as the request no longer fits in a
// conservatively sized datagram.
const MaxScrapeInfohashes = 74

func Write(w io.Writer, data any) error {
	return binary.Write(w, binary.BigEndian, data)
}

func Read(r io.Reader, data any) error {
	return binary.Read(r, binary.BigEndian, data)
}

func NewTransactionId() TransactionId {
	return TransactionId(rand.Uint32())
}

var (
	ErrShortResponse         = errors.New("response shorter than header")
	ErrTransactionIdMismatch = errors.New("transaction id mismatch")
	ErrBadLength             = errors.New("response has bad length")
	ErrTooManyInfohashes     = fmt.Errorf("more than %d infohashes in scrape", MaxScrapeInfohashes)
)

type UnexpectedActionError struct {
	Expected, Actual Action
}

func (me UnexpectedActionError) Error() string {
	return fmt.Sprintf("unexpected response action %v (expected %v)", me.Actual, me.Expected)
}

// The tracker replied with an error action. Message is the tracker-supplied text.
type ErrorResponse struct {
	Message string
}

func (me ErrorResponse) Error() string {
	return fmt.Sprintf("error response: %#q", me.Message)
}

// udp://tracker.torrent.eu.org:451/announce frequently returns this for stale connection IDs.
const ConnectionIdMissmatchNul = "Connection ID missmatch.\x00"

// Reports whether err was caused by a malformed or unexpected tracker response, as opposed to a
// transport failure.
func IsProtocolError(err error) bool {
	var uae UnexpectedActionError
	var er ErrorResponse
	return errors.Is(err, ErrShortResponse) ||
		errors.Is(err, ErrTransactionIdMismatch) ||
		errors.Is(err, ErrBadLength) ||
		errors.As(err, &uae) ||
		errors.As(err, &er)
}

func EncodeConnectRequest(tid TransactionId) []byte {
	var buf bytes.Buffer
	buf.Grow(requestHeaderLen)
	err := Write(&buf, RequestHeader{
		ConnectionId:  ConnectRequestConnectionId,
		Action:        ActionConnect,
		TransactionId: tid,
	})
	if err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Reads and checks the header shared by all responses. The returned body follows the header.
func decodeResponseHeader(b []byte, expected Action, tid TransactionId) (body []byte, err error) {
	if len(b) < responseHeaderLen {
		err = fmt.Errorf("%w: %d bytes", ErrShortResponse, len(b))
		return
	}
	var h ResponseHeader
	err = Read(bytes.NewReader(b[:responseHeaderLen]), &h)
	if err != nil {
		return
	}
	if h.TransactionId != tid {
		err = fmt.Errorf("%w: got %v, sent %v", ErrTransactionIdMismatch, h.TransactionId, tid)
		return
	}
	body = b[responseHeaderLen:]
	switch h.Action {
	case expected:
	case ActionError:
		err = ErrorResponse{Message: string(body)}
	default:
		err = UnexpectedActionError{Expected: expected, Actual: h.Action}
	}
	return
}

func DecodeConnectResponse(b []byte, tid TransactionId) (id ConnectionId, err error) {
	body, err := decodeResponseHeader(b, ActionConnect, tid)
	if err != nil {
		return
	}
	if len(b) != connectResponseLen {
		err = fmt.Errorf("%w: connect response is %d bytes", ErrBadLength, len(b))
		return
	}
	var cr ConnectionResponse
	err = Read(bytes.NewReader(body), &cr)
	id = cr.ConnectionId
	return
}

func EncodeScrapeRequest(connId ConnectionId, tid TransactionId, req ScrapeRequest) ([]byte, error) {
	if len(req) > MaxScrapeInfohashes {
		return nil, fmt.Errorf("%w: %d", ErrTooManyInfohashes, len(req))
	}
	var buf bytes.Buffer
	buf.Grow(requestHeaderLen + scrapeRequestItemLen*len(req))
	err := Write(&buf, RequestHeader{
		ConnectionId:  connId,
		Action:        ActionScrape,
		TransactionId: tid,
	})
	if err != nil {
		panic(err)
	}
	for _, ih := range req {
		buf.Write(ih[:])
	}
	return buf.Bytes(), nil
}

// Decodes up to expected results. Trailing bytes that don't make up a whole result are ignored, as
// are results past expected.
func DecodeScrapeResponse(b []byte, tid TransactionId, expected int) (out ScrapeResponse, err error) {
	body, err := decodeResponseHeader(b, ActionScrape, tid)
	if err != nil {
		return
	}
	n := min(len(body)/scrapeResultLen, expected)
	r := bytes.NewReader(body[:n*scrapeResultLen])
	out = make(ScrapeResponse, n)
	for i := range out {
		err = Read(r, &out[i])
		if err != nil {
			out = out[:i]
			return
		}
	}
	return
}
