package emulator

import (
	"net"
	"sort"
	"sync"
	"time"

	"github.com/nasa/XPlaneConnect/pkg/protocol"
)

type streamSub struct {
	name     string
	interval time.Duration
	due      time.Time
}

type streamClient struct {
	addr *net.UDPAddr
	subs map[int]*streamSub
}

// streams is the RREF subscription table, keyed by client address.
type streams struct {
	mu      sync.Mutex
	clients map[string]*streamClient
}

func newStreams() *streams {
	return &streams{clients: make(map[string]*streamClient)}
}

func (t *streams) set(addr *net.UDPAddr, index int, name string, freq int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := addr.String()
	c, ok := t.clients[key]
	if freq == 0 {
		if ok {
			delete(c.subs, index)
			if len(c.subs) == 0 {
				delete(t.clients, key)
			}
		}
		return
	}
	if !ok {
		c = &streamClient{addr: addr, subs: make(map[int]*streamSub)}
		t.clients[key] = c
	}
	c.subs[index] = &streamSub{
		name:     name,
		interval: time.Second / time.Duration(freq),
		due:      time.Now(),
	}
}

// count returns the number of live subscriptions across clients.
func (t *streams) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.clients {
		n += len(c.subs)
	}
	return n
}

type duePacket struct {
	to     *net.UDPAddr
	values []protocol.RrefValue
}

// collect returns one packet per client holding every subscription due at
// now, and schedules the next send for each of them.
func (t *streams) collect(now time.Time, value func(name string) float32) []duePacket {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []duePacket
	for _, c := range t.clients {
		var values []protocol.RrefValue
		for idx, sub := range c.subs {
			if now.Before(sub.due) {
				continue
			}
			values = append(values, protocol.RrefValue{Index: int32(idx), Value: value(sub.name)})
			sub.due = now.Add(sub.interval)
		}
		if len(values) > 0 {
			sort.Slice(values, func(i, j int) bool { return values[i].Index < values[j].Index })
			out = append(out, duePacket{to: c.addr, values: values})
		}
	}
	return out
}

// stream pushes due RREF values until the server stops.
func (s *Server) stream() {
	ticker := time.NewTicker(s.streamTick)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			for _, p := range s.streams.collect(now, s.state.scalar) {
				if err := s.write(p.to, protocol.MarshalRrefStream(p.values)); err != nil {
					s.log.WithError(err).Debug("stream write failed")
				}
			}
		}
	}
}

// Subscriptions returns the number of live RREF subscriptions.
func (s *Server) Subscriptions() int {
	return s.streams.count()
}
