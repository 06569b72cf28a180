package udp

import (
	"sync"
	"time"
)

// BEP 15 lets a client reuse a connection ID for up to a minute after it was issued.
const DefaultConnIdValidity = time.Minute

// Shares connection IDs between scrapes to the same tracker host. The zero value is ready to use.
type ConnIdCache struct {
	// Defaults to DefaultConnIdValidity.
	Validity time.Duration

	mu sync.Mutex
	m  map[string]issuedConnId

	// For tests.
	now func() time.Time
}

type issuedConnId struct {
	id     ConnectionId
	issued time.Time
}

func (me *ConnIdCache) validity() time.Duration {
	if me.Validity == 0 {
		return DefaultConnIdValidity
	}
	return me.Validity
}

func (me *ConnIdCache) timeNow() time.Time {
	if me.now != nil {
		return me.now()
	}
	return time.Now()
}

func (me *ConnIdCache) Get(host string) (id ConnectionId, ok bool) {
	me.mu.Lock()
	defer me.mu.Unlock()
	v, ok := me.m[host]
	if !ok {
		return
	}
	if me.timeNow().Sub(v.issued) >= me.validity() {
		delete(me.m, host)
		ok = false
		return
	}
	id = v.id
	return
}

func (me *ConnIdCache) Set(host string, id ConnectionId) {
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.m == nil {
		me.m = make(map[string]issuedConnId)
	}
	me.m[host] = issuedConnId{id: id, issued: me.timeNow()}
}

func (me *ConnIdCache) Forget(host string) {
	me.mu.Lock()
	defer me.mu.Unlock()
	delete(me.m, host)
}
