package metainfo

import (
	"encoding/base32"
	"errors"
	"fmt"
	"net/url"
	"strings"

	g "github.com/anacrolix/generics"

	"github.com/anacrolix/swarmcheck/types/infohash"
)

// Magnet link components.
type Magnet struct {
	InfoHash    infohash.T
	Trackers    []string   // "tr" values
	DisplayName string     // "dn" value, if not empty
	Params      url.Values // All other values, such as "xl", "x.pe", "as", "xs" etc.
}

const btihPrefix = "urn:btih:"

// The exact length, if the link carries one.
func (m Magnet) Length() g.Option[int64] {
	var l int64
	_, err := fmt.Sscan(m.Params.Get("xl"), &l)
	if err != nil || l < 0 {
		return g.None[int64]()
	}
	return g.Some(l)
}

// ParseMagnetUri parses Magnet-formatted URIs into a Magnet instance. Only the first v1 infohash
// is used, further "xt" values end up in Params.
func ParseMagnetUri(uri string) (m Magnet, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		err = fmt.Errorf("error parsing uri: %w", err)
		return
	}
	if u.Scheme != "magnet" {
		err = fmt.Errorf("unexpected scheme %q", u.Scheme)
		return
	}
	q := u.Query()
	gotInfohash := false
	for _, xt := range q["xt"] {
		if gotInfohash {
			lazyAddParam(&m.Params, "xt", xt)
			continue
		}
		// Some sites upper-case the URN.
		encoded, found := cutPrefixFold(xt, btihPrefix)
		if !found {
			lazyAddParam(&m.Params, "xt", xt)
			continue
		}
		m.InfoHash, err = parseEncodedV1Infohash(encoded)
		if err != nil {
			err = fmt.Errorf("error parsing v1 infohash %q: %w", xt, err)
			return
		}
		gotInfohash = true
	}
	if !gotInfohash {
		err = errors.New("missing v1 infohash")
		return
	}
	q.Del("xt")
	m.DisplayName = popFirstValue(q, "dn").UnwrapOrZeroValue()
	m.Trackers = q["tr"]
	q.Del("tr")
	for k, vs := range q {
		for _, v := range vs {
			lazyAddParam(&m.Params, k, v)
		}
	}
	return
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}

func parseEncodedV1Infohash(encoded string) (ih infohash.T, err error) {
	switch len(encoded) {
	case 40:
		return infohash.ParseHex(encoded)
	case 32:
		var n int
		n, err = base32.StdEncoding.Decode(ih[:], []byte(strings.ToUpper(encoded)))
		if err != nil {
			err = fmt.Errorf("error decoding xt: %w", err)
			return
		}
		if n != infohash.Size {
			err = fmt.Errorf("decoded %d bytes", n)
		}
		return
	}
	err = fmt.Errorf("unhandled xt parameter encoding (encoded length %d)", len(encoded))
	return
}

func lazyAddParam(vs *url.Values, k, v string) {
	if *vs == nil {
		*vs = make(url.Values)
	}
	vs.Add(k, v)
}

func popFirstValue(vs url.Values, key string) g.Option[string] {
	sl := vs[key]
	switch len(sl) {
	case 0:
		return g.None[string]()
	case 1:
		vs.Del(key)
		return g.Some(sl[0])
	default:
		vs[key] = sl[1:]
		return g.Some(sl[0])
	}
}
