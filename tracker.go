package swarmcheck

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// A UDP tracker we scrape. Url is kept for logging, Host is what's dialled.
type Tracker struct {
	Url  string
	Host string
}

func (me Tracker) String() string {
	return me.Url
}

// Accepts "udp://host:port[/announce]" or "host:port".
func ParseTracker(s string) (tr Tracker, err error) {
	tr.Url = s
	if !strings.Contains(s, "://") {
		tr.Host = s
	} else {
		var u *url.URL
		u, err = url.Parse(s)
		if err != nil {
			err = fmt.Errorf("parsing tracker url %q: %w", s, err)
			return
		}
		switch u.Scheme {
		case "udp", "udp4", "udp6":
		default:
			err = fmt.Errorf("tracker %q: unsupported scheme %q", s, u.Scheme)
			return
		}
		tr.Host = u.Host
	}
	host, port, err := net.SplitHostPort(tr.Host)
	if err != nil {
		err = fmt.Errorf("tracker %q: %w", s, err)
		return
	}
	if host == "" || port == "" {
		err = fmt.Errorf("tracker %q: missing host or port", s)
	}
	return
}

func parseTrackers(ss []string) (ret []Tracker, err error) {
	for _, s := range ss {
		var tr Tracker
		tr, err = ParseTracker(s)
		if err != nil {
			return
		}
		ret = append(ret, tr)
	}
	return
}
