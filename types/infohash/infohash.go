package infohash

import (
	"encoding"
	"encoding/hex"
	"fmt"
	"strings"
)

const Size = 20

// 20-byte BitTorrent v1 infohash. This is the key trackers are scraped for.
type T [Size]byte

var _ fmt.Formatter = (*T)(nil)

func (t T) Format(f fmt.State, c rune) {
	f.Write([]byte(t.HexString()))
}

func (t T) Bytes() []byte {
	return t[:]
}

func (t T) String() string {
	return t.HexString()
}

// Always lowercase, which is how the catalogue stores keys.
func (t T) HexString() string {
	return hex.EncodeToString(t[:])
}

func (t *T) FromHexString(s string) (err error) {
	if len(s) != 2*Size {
		err = fmt.Errorf("hash hex string has bad length: %d", len(s))
		return
	}
	n, err := hex.Decode(t[:], []byte(s))
	if err != nil {
		return
	}
	if n != Size {
		panic(n)
	}
	return
}

var (
	_ encoding.TextUnmarshaler = (*T)(nil)
	_ encoding.TextMarshaler   = T{}
)

func (t *T) UnmarshalText(b []byte) error {
	return t.FromHexString(string(b))
}

func (t T) MarshalText() (text []byte, err error) {
	return []byte(t.HexString()), nil
}

// Parses a 40 character hex string, ignoring surrounding whitespace. Either case is accepted.
func ParseHex(s string) (h T, err error) {
	err = h.FromHexString(strings.TrimSpace(s))
	return
}

func FromHexString(s string) (h T) {
	err := h.FromHexString(s)
	if err != nil {
		panic(err)
	}
	return
}

// Builds a T from a raw 20 byte slice, such as a bbolt key.
func FromBytes(b []byte) (h T, err error) {
	if len(b) != Size {
		err = fmt.Errorf("infohash has bad length: %d", len(b))
		return
	}
	copy(h[:], b)
	return
}
