// Package update is the boundary to the membership subsystem that keeps the
// peer list fresh. The core consumes only the Handler interface; the
// clock-based implementation here sends periodic alive probes through the
// face.
package update

import (
	"encoding/hex"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/ndn-torrent/ntd/ndn"
	"go.uber.org/zap"
	"lukechampine.com/frand"
)

// DefaultAliveInterval is how long the peer view stays fresh after a probe.
const DefaultAliveInterval = 30 * time.Second

type (
	// A Handler reports whether the peer view is stale and refreshes it.
	Handler interface {
		// NeedsUpdate reports whether the peer view has gone stale.
		NeedsUpdate() bool
		// SendAlive probes the given peer to refresh the view.
		SendAlive(peer ndn.Name)
		// OwnPrefix returns this node's routable prefix, which must never
		// be picked as a forwarding hint.
		OwnPrefix() ndn.Name
	}

	// An AliveHandler probes peers with short-lived alive interests under
	// their routable prefixes.
	AliveHandler struct {
		log       *zap.Logger
		face      ndn.Face
		clk       clock.Clock
		ownPrefix ndn.Name
		interval  time.Duration
		lastAlive time.Time
	}
)

// NewAliveHandler creates an alive prober. A zero interval selects the
// default.
func NewAliveHandler(face ndn.Face, ownPrefix ndn.Name, interval time.Duration, clk clock.Clock, log *zap.Logger) *AliveHandler {
	if interval == 0 {
		interval = DefaultAliveInterval
	}
	return &AliveHandler{
		log:       log,
		face:      face,
		clk:       clk,
		ownPrefix: ownPrefix,
		interval:  interval,
	}
}

// NeedsUpdate implements Handler.
func (h *AliveHandler) NeedsUpdate() bool {
	return h.clk.Now().Sub(h.lastAlive) >= h.interval
}

// SendAlive implements Handler. The probe carries a nonce component so
// repeated probes are distinct interests.
func (h *AliveHandler) SendAlive(peer ndn.Name) {
	if peer.Len() == 0 || peer.Equal(h.ownPrefix) {
		return
	}
	h.lastAlive = h.clk.Now()
	name := peer.AppendString("ALIVE", hex.EncodeToString(frand.Bytes(8)))
	h.face.Express(ndn.NewInterest(name, peer),
		func(i ndn.Interest, d ndn.Data) {
			h.log.Debug("peer alive", zap.Stringer("peer", peer))
		},
		func(n ndn.Name, reason string) {
			h.log.Debug("alive probe failed", zap.Stringer("peer", peer), zap.String("reason", reason))
		},
		func(i ndn.Interest, n ndn.Nack) {
			h.log.Debug("alive probe nacked", zap.Stringer("peer", peer), zap.String("reason", n.Reason))
		})
}

// OwnPrefix implements Handler.
func (h *AliveHandler) OwnPrefix() ndn.Name { return h.ownPrefix }
