// Package udpface implements an ndn.Face over UDP datagrams. It is a
// deliberately small forwarder-less face: interests are delegated directly
// to the peer named by their forwarding hint, and every callback runs on a
// single dispatch goroutine so face users need no locking.
package udpface

import (
	"bytes"
	"fmt"
	"net"
	"sync"

	"github.com/andres-erbsen/clock"
	bencode "github.com/jackpal/bencode-go"
	"github.com/ndn-torrent/ntd/ndn"
	"go.uber.org/zap"
)

const maxDatagramSize = 65507

type (
	// A Route maps a peer's routable prefix to its UDP address.
	Route struct {
		Prefix ndn.Name
		Addr   string
	}

	frame struct {
		Type     string `bencode:"t"`
		Name     string `bencode:"n"`
		Hint     string `bencode:"h"`
		Lifetime int64  `bencode:"l"`
		Fresh    int64  `bencode:"f"`
		Reason   string `bencode:"r"`
		Payload  string `bencode:"p"`
	}

	pendingInterest struct {
		interest  ndn.Interest
		onData    ndn.DataCallback
		onFailure ndn.FailureCallback
		onNack    ndn.NackCallback
		timer     *clock.Timer
	}

	publishedPrefix struct {
		prefix     ndn.Name
		onInterest ndn.InterestCallback
	}

	replyPath struct {
		name ndn.Name
		addr *net.UDPAddr
	}

	// A Face is a UDP-backed ndn.Face.
	Face struct {
		log    *zap.Logger
		clk    clock.Clock
		conn   *net.UDPConn
		routes []Route

		mu     sync.Mutex
		queue  []func()
		wake   chan struct{}
		closed bool

		// touched only from the dispatch goroutine
		pending    map[string]*pendingInterest
		prefixes   []publishedPrefix
		replyPaths []replyPath
	}
)

// New opens a UDP face listening on addr. Routes resolve forwarding-hint
// delegations to peer addresses.
func New(addr string, routes []Route, clk clock.Clock, log *zap.Logger) (*Face, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	f := &Face{
		log:     log,
		clk:     clk,
		conn:    conn,
		routes:  routes,
		wake:    make(chan struct{}, 1),
		pending: make(map[string]*pendingInterest),
	}
	go f.readLoop()
	go f.dispatchLoop()
	return f, nil
}

// LocalAddr returns the bound UDP address.
func (f *Face) LocalAddr() net.Addr { return f.conn.LocalAddr() }

// post enqueues fn onto the dispatch loop. Safe from any goroutine,
// including the dispatch loop itself.
func (f *Face) post(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.queue = append(f.queue, fn)
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *Face) dispatchLoop() {
	for range f.wake {
		for {
			f.mu.Lock()
			if len(f.queue) == 0 {
				f.mu.Unlock()
				break
			}
			fn := f.queue[0]
			f.queue = f.queue[1:]
			f.mu.Unlock()
			fn()
		}
	}
}

func (f *Face) readLoop() {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			return // conn closed
		}
		var fr frame
		if err := bencode.Unmarshal(bytes.NewReader(buf[:n]), &fr); err != nil {
			f.log.Debug("dropping malformed datagram", zap.Stringer("from", addr), zap.Error(err))
			continue
		}
		from := addr
		f.post(func() { f.handleFrame(fr, from) })
	}
}

func (f *Face) send(fr frame, addr *net.UDPAddr) {
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, fr); err != nil {
		f.log.Error("failed to encode frame", zap.Error(err))
		return
	}
	if _, err := f.conn.WriteToUDP(buf.Bytes(), addr); err != nil {
		f.log.Debug("failed to send frame", zap.Stringer("to", addr), zap.Error(err))
	}
}

func (f *Face) resolveRoute(hint []ndn.Delegation) (*net.UDPAddr, bool) {
	for _, del := range hint {
		for _, r := range f.routes {
			if r.Prefix.IsPrefixOf(del.Name) || r.Prefix.Equal(del.Name) {
				addr, err := net.ResolveUDPAddr("udp", r.Addr)
				if err != nil {
					f.log.Warn("bad route address", zap.String("addr", r.Addr), zap.Error(err))
					continue
				}
				return addr, true
			}
		}
	}
	return nil, false
}

// Express implements ndn.Face.
func (f *Face) Express(i ndn.Interest, onData ndn.DataCallback, onFailure ndn.FailureCallback, onNack ndn.NackCallback) {
	f.post(func() {
		addr, ok := f.resolveRoute(i.ForwardingHint)
		if !ok {
			onFailure(i.Name, "no route for forwarding hint")
			return
		}
		key := i.Name.String()
		if prev, ok := f.pending[key]; ok {
			prev.timer.Stop()
		}
		pi := &pendingInterest{interest: i, onData: onData, onFailure: onFailure, onNack: onNack}
		pi.timer = f.clk.AfterFunc(i.Lifetime, func() {
			f.post(func() {
				if f.pending[key] != pi {
					return
				}
				delete(f.pending, key)
				onFailure(i.Name, "interest lifetime expired")
			})
		})
		f.pending[key] = pi

		var hint string
		if len(i.ForwardingHint) > 0 {
			hint = i.ForwardingHint[0].Name.String()
		}
		fresh := int64(0)
		if i.MustBeFresh {
			fresh = 1
		}
		f.send(frame{
			Type:     "interest",
			Name:     i.Name.String(),
			Hint:     hint,
			Lifetime: i.Lifetime.Milliseconds(),
			Fresh:    fresh,
		}, addr)
	})
}

// Publish implements ndn.Face.
func (f *Face) Publish(prefix ndn.Name, onInterest ndn.InterestCallback, onRegistered ndn.RegisterCallback, onRegisterFailed ndn.RegisterFailedCallback) {
	f.post(func() {
		f.prefixes = append(f.prefixes, publishedPrefix{prefix: prefix, onInterest: onInterest})
		if onRegistered != nil {
			onRegistered(prefix)
		}
	})
}

// Put implements ndn.Face. The reply is routed back to the peer whose
// interest it satisfies.
func (f *Face) Put(d ndn.Data) {
	f.post(func() {
		for i, rp := range f.replyPaths {
			if rp.name.IsPrefixOf(d.Name) || rp.name.Equal(d.Name) {
				f.replyPaths = append(f.replyPaths[:i], f.replyPaths[i+1:]...)
				f.send(frame{Type: "data", Name: d.Name.String(), Payload: string(d.Bytes)}, rp.addr)
				return
			}
		}
		f.log.Debug("no reply path for data", zap.Stringer("name", d.Name))
	})
}

// Stop implements ndn.Face. Outstanding continuations are abandoned.
func (f *Face) Stop() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.queue = nil
	f.mu.Unlock()
	close(f.wake)
	f.conn.Close()
}

func (f *Face) handleFrame(fr frame, from *net.UDPAddr) {
	name, err := ndn.ParseName(fr.Name)
	if err != nil {
		f.log.Debug("dropping frame with bad name", zap.String("name", fr.Name), zap.Error(err))
		return
	}
	switch fr.Type {
	case "interest":
		for _, p := range f.prefixes {
			if p.prefix.IsPrefixOf(name) {
				f.replyPaths = append(f.replyPaths, replyPath{name: name, addr: from})
				p.onInterest(ndn.Interest{Name: name, MustBeFresh: fr.Fresh == 1})
				return
			}
		}
		f.send(frame{Type: "nack", Name: fr.Name, Hint: fr.Hint, Reason: "no route"}, from)
	case "data":
		f.deliverData(name, []byte(fr.Payload))
	case "nack":
		key := name.String()
		pi, ok := f.pending[key]
		if !ok {
			return
		}
		pi.timer.Stop()
		delete(f.pending, key)
		pi.onNack(pi.interest, ndn.Nack{Interest: pi.interest, Reason: fr.Reason})
	}
}

func (f *Face) deliverData(name ndn.Name, payload []byte) {
	// an interest may carry the full name or just its prefix
	for key, pi := range f.pending {
		if pi.interest.Name.Equal(name) || pi.interest.Name.IsPrefixOf(name) {
			pi.timer.Stop()
			delete(f.pending, key)
			pi.onData(pi.interest, ndn.Data{Name: name, Bytes: payload})
			return
		}
	}
	f.log.Debug("dropping unsolicited data", zap.Stringer("name", name))
}
